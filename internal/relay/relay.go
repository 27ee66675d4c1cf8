package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neboloop/relay/internal/config"
	"github.com/neboloop/relay/internal/events"
	"github.com/neboloop/relay/internal/logging"
)

// Version is the relay build identifier, stamped at release time.
var Version = "dev"

// Relay states.
const (
	stateStarting int32 = iota
	stateRunning
	stateDraining
	stateStopped
)

// Relay bridges a Chrome extension to CDP clients: one privileged upstream
// socket on /extension, any number of CDP clients on /cdp, and a small HTTP
// surface for discovery and health.
type Relay struct {
	cfg config.RelayConfig

	requestTimeout time.Duration
	upgrader       websocket.Upgrader

	registry *clientRegistry
	targets  *targetTable
	pending  *pendingTable
	bus      *events.Subject

	extMu    sync.Mutex
	ext      *extensionConn
	extEpoch atomic.Uint64

	server *http.Server
	addr   atomic.Value // string, set after bind
	state  atomic.Int32
}

// New creates a relay from configuration. Start binds the listener; the
// handler can also be mounted on an existing server via Handler.
func New(cfg config.RelayConfig) *Relay {
	r := &Relay{
		cfg:            cfg,
		requestTimeout: time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		registry:       newClientRegistry(),
		targets:        newTargetTable(),
		pending:        newPendingTable(),
		bus:            events.NewSubject(events.WithSyncDelivery(), events.WithBufferSize(64)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// admission is decided per-endpoint before the upgrade
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	if r.requestTimeout <= 0 {
		r.requestTimeout = 30 * time.Second
	}
	if r.cfg.WriteQueueCapacity <= 0 {
		r.cfg.WriteQueueCapacity = 256
	}

	events.Subscribe(r.bus, events.TopicExtensionConnected, func(_ context.Context, s events.ExtensionState) error {
		logging.Infof("[relay] extension up, epoch=%d targets=%d clients=%d", s.Epoch, s.Targets, r.registry.len())
		return nil
	})
	events.Subscribe(r.bus, events.TopicExtensionDisconnected, func(_ context.Context, s events.ExtensionState) error {
		logging.Infof("[relay] extension down, epoch=%d", s.Epoch)
		return nil
	})

	return r
}

// Handler returns the relay's routes for mounting on an HTTP server.
func (r *Relay) Handler() http.Handler {
	router := chi.NewRouter()
	// No RealIP here: loopback admission must see the socket peer, not a
	// forwarded header.
	router.Use(chimw.Recoverer)

	router.Get("/", r.handleRoot)
	router.Head("/", r.handleRoot)
	router.Get("/version", r.handleVersion)
	router.Get("/extension/status", r.handleExtensionStatus)
	router.Post("/mcp-log", r.handleMCPLog)

	router.Get("/json/version", r.handleJSONVersion)
	router.Get("/json", r.handleJSONList)
	router.Get("/json/list", r.handleJSONList)
	router.Get("/json/activate/{targetId}", r.handleJSONActivate)
	router.Get("/json/close/{targetId}", r.handleJSONClose)

	router.HandleFunc("/extension", r.handleExtensionWS)
	router.HandleFunc("/cdp", r.handleCdpWS)
	router.HandleFunc("/cdp/{clientId}", r.handleCdpWS)

	return router
}

// Start binds the listener and serves until Stop.
func (r *Relay) Start() error {
	if r.state.Load() != stateStarting {
		return fmt.Errorf("relay already started")
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.addr.Store(listener.Addr().String())

	r.server = &http.Server{
		Addr:    addr,
		Handler: r.Handler(),
	}
	r.state.Store(stateRunning)
	logging.Infof("[relay] listening on %s", listener.Addr())

	go func() {
		if err := r.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Errorf("[relay] server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (r *Relay) Addr() string {
	if v := r.addr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// CDPWebSocketURL returns the URL CDP clients should dial.
func (r *Relay) CDPWebSocketURL() string {
	host := r.Addr()
	if host == "" {
		host = fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	}
	return fmt.Sprintf("ws://%s/cdp", host)
}

// Stop drains the relay: no new sockets, pending requests fire their terminal
// errors, every socket closes, then the listener shuts down.
func (r *Relay) Stop() error {
	if !r.state.CompareAndSwap(stateRunning, stateDraining) {
		if !r.state.CompareAndSwap(stateStarting, stateStopped) {
			return nil
		}
		events.Complete(r.bus)
		return nil
	}

	r.pending.failAll(errExtensionNotConnected, func(p *pendingRequest) {
		if p.clientID == "" {
			return
		}
		if c := r.registry.get(p.clientID); c != nil {
			c.send(&cdpResponse{ID: p.clientSeq, Error: errExtensionNotConnected, SessionID: p.sessionID})
		}
	})
	r.registry.closeAll(websocket.CloseGoingAway, "relay shutting down")

	r.extMu.Lock()
	ext := r.ext
	r.ext = nil
	r.extMu.Unlock()
	if ext != nil {
		ext.close(websocket.CloseGoingAway, "relay shutting down")
	}
	r.targets.clear()

	events.Complete(r.bus)

	var err error
	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeDeadline)
		defer cancel()
		err = r.server.Shutdown(ctx)
	}
	r.state.Store(stateStopped)
	logging.Infof("[relay] stopped")
	return err
}

// ExtensionConnected reports whether an extension socket is current.
func (r *Relay) ExtensionConnected() bool {
	return r.currentExtension() != nil
}

// handleCdpWS admits a CDP client: bearer token if configured, otherwise
// loopback peer or a non-browser (no Origin) caller. Client sessions only
// exist while the extension is connected.
func (r *Relay) handleCdpWS(w http.ResponseWriter, req *http.Request) {
	if r.state.Load() != stateRunning && r.server != nil {
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !r.authorizeClient(req) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !r.ExtensionConnected() {
		http.Error(w, "Chrome extension not connected", http.StatusServiceUnavailable)
		return
	}

	clientID := chi.URLParam(req, "clientId")
	if clientID == "" {
		clientID = "client-" + uuid.New().String()[:8]
	}
	if r.registry.get(clientID) != nil {
		http.Error(w, "clientId already connected", http.StatusConflict)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.Debugf("[relay] client upgrade failed: %v", err)
		return
	}

	c := newClientSession(clientID, ws, r.cfg.WriteQueueCapacity)
	r.registry.add(c)
	logging.Infof("[relay] CDP client connected: %s", clientID)

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			logging.Debugf("[relay] client %s read error: %v", clientID, err)
			break
		}

		var cmd cdpCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			logging.Debugf("[relay] client %s sent malformed frame: %v", clientID, err)
			continue
		}
		if cmd.Method == "" {
			logging.Debugf("[relay] client %s sent frame without method", clientID)
			continue
		}

		logging.Debugf("[relay] <- client %s id=%d method=%s sessionId=%q", clientID, cmd.ID, cmd.Method, cmd.SessionID)
		r.handleClientCommand(c, &cmd)
	}

	r.registry.remove(clientID)
	c.close(websocket.CloseNormalClosure, "")
	logging.Infof("[relay] CDP client disconnected: %s", clientID)
}

// authorizeClient enforces the /cdp and /json admission policy.
func (r *Relay) authorizeClient(req *http.Request) bool {
	if r.cfg.BearerToken != "" {
		return bearerToken(req) == r.cfg.BearerToken
	}
	if isLoopbackAddr(req.RemoteAddr) {
		return true
	}
	// browsers always send Origin; non-browser tooling is admitted
	return req.Header.Get("Origin") == ""
}

func bearerToken(req *http.Request) string {
	if token := req.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := req.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func isLoopbackAddr(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
