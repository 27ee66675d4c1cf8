package relay

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/relay/internal/events"
	"github.com/neboloop/relay/internal/logging"
)

const extensionPingInterval = 5 * time.Second

var errExtensionNotConnected = &cdpError{Message: "Extension not connected"}

// extensionConn is the single privileged upstream socket. Writes are
// serialized by writeMu so the reader never blocks on the writer.
type extensionConn struct {
	ws    *websocket.Conn
	epoch uint64

	writeMu   sync.Mutex
	closeOnce sync.Once
	closedCh  chan struct{}
}

func (e *extensionConn) writeJSON(v any) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	return e.ws.WriteJSON(v)
}

func (e *extensionConn) close(code int, reason string) {
	e.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		e.writeMu.Lock()
		e.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		e.writeMu.Unlock()
		e.ws.Close()
		close(e.closedCh)
	})
}

// handleExtensionWS admits the extension socket. The Origin header is
// mandatory here and must match the allow-list; a newly accepted socket
// supersedes the current one.
func (r *Relay) handleExtensionWS(w http.ResponseWriter, req *http.Request) {
	if r.state.Load() != stateRunning && r.server != nil {
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	origin := req.Header.Get("Origin")
	if !r.extensionOriginAllowed(origin) {
		logging.Warnf("[relay] extension rejected: bad origin %q", origin)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.Debugf("[relay] extension upgrade failed: %v", err)
		return
	}

	conn := &extensionConn{
		ws:       ws,
		epoch:    r.extEpoch.Add(1),
		closedCh: make(chan struct{}),
	}

	r.extMu.Lock()
	prev := r.ext
	r.ext = conn
	r.extMu.Unlock()

	if prev != nil {
		logging.Infof("[relay] extension superseded (epoch %d -> %d)", prev.epoch, conn.epoch)
		prev.close(CloseSuperseded, "superseded by newer extension connection")
		r.teardownExtensionWorld(prev.epoch)
	}

	logging.Infof("[relay] extension connected from %s (epoch %d)", req.RemoteAddr, conn.epoch)
	events.Emit(r.bus, events.TopicExtensionConnected, events.ExtensionState{
		Epoch:   conn.epoch,
		Targets: r.targets.len(),
	})
	r.announceTargets()

	go r.pingExtension(conn)

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			logging.Debugf("[relay] extension read error (epoch %d): %v", conn.epoch, err)
			break
		}
		r.handleExtensionFrame(message)
	}

	conn.close(websocket.CloseNormalClosure, "")

	r.extMu.Lock()
	current := r.ext == conn
	if current {
		r.ext = nil
	}
	r.extMu.Unlock()

	if current {
		logging.Infof("[relay] extension disconnected (epoch %d)", conn.epoch)
		r.teardownExtensionWorld(conn.epoch)
		events.Emit(r.bus, events.TopicExtensionDisconnected, events.ExtensionState{
			Epoch: conn.epoch,
		})
	}
}

// teardownExtensionWorld fails the epoch's pending requests (writing the
// error frame to each originating client first), closes every client session,
// and clears the target table.
func (r *Relay) teardownExtensionWorld(epoch uint64) {
	r.pending.failEpoch(epoch, errExtensionNotConnected, func(p *pendingRequest) {
		if p.clientID == "" {
			return
		}
		if c := r.registry.get(p.clientID); c != nil {
			c.send(&cdpResponse{ID: p.clientSeq, Error: errExtensionNotConnected, SessionID: p.sessionID})
		}
	})
	r.registry.closeAll(CloseExtensionGone, "extension disconnected")
	r.targets.clear()
}

// announceTargets broadcasts a synthetic Target.targetCreated per known
// target to every registered client.
func (r *Relay) announceTargets() {
	for _, info := range r.targets.snapshot() {
		r.registry.broadcast(&cdpEvent{
			Method: "Target.targetCreated",
			Params: map[string]any{"targetInfo": info},
		})
	}
}

// pingExtension keeps the extension service worker alive.
func (r *Relay) pingExtension(conn *extensionConn) {
	ticker := time.NewTicker(extensionPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.closedCh:
			return
		case <-ticker.C:
			if err := conn.writeJSON(map[string]string{"method": "ping"}); err != nil {
				return
			}
		}
	}
}

// handleExtensionFrame demultiplexes one frame from the extension: responses
// go to the correlator, CDP events update the target table and fan out.
// Runs on the single extension reader goroutine, so frames are processed in
// receive order and session events always precede their response.
func (r *Relay) handleExtensionFrame(data []byte) {
	var frame extensionFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logging.Debugf("[relay] malformed extension frame: %v", err)
		return
	}

	if frame.ID != 0 {
		r.pending.complete(frame.ID, frame.Result, frame.Error)
		return
	}

	switch frame.Method {
	case "pong":
		return
	case "forwardCDPEvent":
		if frame.Params == nil {
			return
		}
		r.handleExtensionEvent(frame.Params)
	default:
		logging.Debugf("[relay] unknown extension frame method %q", frame.Method)
	}
}

// handleExtensionEvent applies target bookkeeping, then routes the event.
// Target lifecycle events arrive without an envelope sessionId and are
// broadcast; session-scoped events reach only attached clients.
func (r *Relay) handleExtensionEvent(p *extensionEventParams) {
	switch p.Method {
	case "Target.targetCreated", "Target.targetInfoChanged":
		var payload targetInfoPayload
		if err := json.Unmarshal(p.Params, &payload); err != nil {
			logging.Debugf("[relay] bad %s params: %v", p.Method, err)
			return
		}
		r.targets.upsert(payload.TargetInfo)
	case "Target.attachedToTarget":
		var payload attachedToTargetPayload
		if err := json.Unmarshal(p.Params, &payload); err != nil {
			logging.Debugf("[relay] bad Target.attachedToTarget params: %v", err)
			return
		}
		r.targets.attach(payload.TargetInfo, payload.SessionID)
	case "Target.detachedFromTarget":
		var payload detachedFromTargetPayload
		if err := json.Unmarshal(p.Params, &payload); err != nil {
			logging.Debugf("[relay] bad Target.detachedFromTarget params: %v", err)
			return
		}
		r.targets.detachSession(payload.SessionID)
		r.registry.detachSession(payload.SessionID)
	case "Target.targetDestroyed":
		var payload targetDestroyedPayload
		if err := json.Unmarshal(p.Params, &payload); err != nil {
			logging.Debugf("[relay] bad Target.targetDestroyed params: %v", err)
			return
		}
		r.targets.destroy(payload.TargetID)
	}

	evt := &cdpEvent{Method: p.Method, SessionID: p.SessionID}
	if len(p.Params) > 0 {
		evt.Params = json.RawMessage(p.Params)
	}
	r.registry.route(evt)
}

// currentExtension returns the extension slot, or nil.
func (r *Relay) currentExtension() *extensionConn {
	r.extMu.Lock()
	defer r.extMu.Unlock()
	return r.ext
}

// forward sends a CDP command to the extension under a fresh relay id and
// waits for its terminal signal. The bool result reports whether the error
// frame was already delivered to the client by the teardown path.
func (r *Relay) forward(clientID string, cmd *cdpCommand) (json.RawMessage, *cdpError, bool) {
	ext := r.currentExtension()
	if ext == nil {
		return nil, errExtensionNotConnected, false
	}

	req := r.pending.add(clientID, cmd.ID, cmd.Method, cmd.SessionID, ext.epoch, r.requestTimeout)
	env := &extensionCommand{
		ID:     req.relayID,
		Method: "forwardCDPCommand",
		Params: &extensionCommandParams{
			Method:    cmd.Method,
			Params:    cmd.Params,
			SessionID: cmd.SessionID,
		},
	}

	logging.Debugf("[relay] -> extension id=%d method=%s sessionId=%q", req.relayID, cmd.Method, cmd.SessionID)
	if err := ext.writeJSON(env); err != nil {
		if r.pending.take(req.relayID) != nil {
			return nil, errExtensionNotConnected, false
		}
		// someone else already fired the terminal signal; honor it
		res := <-req.done
		return res.result, res.cdpErr, res.delivered
	}

	res := <-req.done
	return res.result, res.cdpErr, res.delivered
}

// forwardFromRelay issues a relay-internal command to the extension and
// discards the outcome. Used by the DevTools /json/activate and /json/close
// surfaces.
func (r *Relay) forwardFromRelay(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		return
	}
	go func() {
		_, cdpErr, _ := r.forward("", &cdpCommand{Method: method, Params: raw})
		if cdpErr != nil {
			logging.Debugf("[relay] internal %s failed: %s", method, cdpErr.Message)
		}
	}()
}

// extensionOriginAllowed checks the /extension allow-list. With no list
// configured, any chrome-extension:// origin is accepted. A missing Origin is
// always rejected on this endpoint.
func (r *Relay) extensionOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	if len(r.cfg.ExtensionOrigins) == 0 {
		return strings.HasPrefix(origin, "chrome-extension://")
	}
	for _, allowed := range r.cfg.ExtensionOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
