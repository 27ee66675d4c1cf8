package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/relay/internal/logging"
)

const writeDeadline = 5 * time.Second

// ClientSession is one accepted CDP client socket. Outbound frames go through
// a bounded queue drained by a single writer goroutine, so the broker never
// blocks on a slow consumer.
type ClientSession struct {
	id string
	ws *websocket.Conn

	mu          sync.Mutex
	closing     bool
	closeCode   int
	closeReason string
	attached    map[string]bool // sessionIds this client attached to

	out  chan any
	done chan struct{}
}

func newClientSession(id string, ws *websocket.Conn, queueCap int) *ClientSession {
	c := &ClientSession{
		id:       id,
		ws:       ws,
		attached: make(map[string]bool),
		out:      make(chan any, queueCap),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// send enqueues a frame for the writer. A full queue means the consumer
// cannot keep up; the socket is closed with SLOW_CONSUMER instead of blocking
// the caller.
func (c *ClientSession) send(msg any) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	select {
	case c.out <- msg:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		logging.Warnf("[relay] client %s write queue full, dropping connection", c.id)
		c.close(CloseSlowConsumer, "write queue overflow")
	}
}

// close transitions the session to Closing: no more frames are accepted, the
// writer drains what is queued, sends the close frame, and tears the socket
// down. Idempotent; the first code/reason wins.
func (c *ClientSession) close(code int, reason string) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.closeCode = code
	c.closeReason = reason
	close(c.out)
	c.mu.Unlock()
}

// closed reports whether the writer has finished tearing the socket down.
func (c *ClientSession) closed() <-chan struct{} {
	return c.done
}

func (c *ClientSession) writeLoop() {
	for msg := range c.out {
		c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := c.ws.WriteJSON(msg); err != nil {
			logging.Debugf("[relay] client %s write error: %v", c.id, err)
			c.close(websocket.CloseAbnormalClosure, "")
			// keep draining so close() can finish; frames go nowhere
			for range c.out {
			}
			break
		}
	}

	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()
	if code != 0 && code != websocket.CloseAbnormalClosure {
		msg := websocket.FormatCloseMessage(code, reason)
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.ws.Close()
	close(c.done)
}

// attachSession records that this client holds the given CDP session.
func (c *ClientSession) attachSession(sessionID string) {
	c.mu.Lock()
	c.attached[sessionID] = true
	c.mu.Unlock()
}

// detachSession forgets the session.
func (c *ClientSession) detachSession(sessionID string) {
	c.mu.Lock()
	delete(c.attached, sessionID)
	c.mu.Unlock()
}

func (c *ClientSession) isAttached(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached[sessionID]
}

// clientRegistry tracks live CDP client sessions by clientId.
type clientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*ClientSession
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[string]*ClientSession)}
}

func (r *clientRegistry) add(c *ClientSession) {
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
}

func (r *clientRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

func (r *clientRegistry) get(id string) *ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id]
}

func (r *clientRegistry) all() []*ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ClientSession, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *clientRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// route delivers an extension event. Events without a sessionId are
// browser-scoped and broadcast; events with one go only to clients attached
// to that session.
func (r *clientRegistry) route(evt *cdpEvent) {
	for _, c := range r.all() {
		if evt.SessionID == "" || c.isAttached(evt.SessionID) {
			c.send(evt)
		}
	}
}

// broadcast delivers an event to every client unconditionally.
func (r *clientRegistry) broadcast(evt *cdpEvent) {
	for _, c := range r.all() {
		c.send(evt)
	}
}

// detachSession forgets the session on every client.
func (r *clientRegistry) detachSession(sessionID string) {
	for _, c := range r.all() {
		c.detachSession(sessionID)
	}
}

// closeAll closes every client session with the given code and removes them.
func (r *clientRegistry) closeAll(code int, reason string) {
	r.mu.Lock()
	clients := make([]*ClientSession, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*ClientSession)
	r.mu.Unlock()

	for _, c := range clients {
		c.close(code, reason)
	}
}
