package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/neboloop/relay/internal/logging"
)

// pendingResult is the single terminal signal for a forwarded request.
type pendingResult struct {
	result json.RawMessage
	cdpErr *cdpError

	// delivered means the error frame was already written to the client by
	// the teardown path; the waiting goroutine must not write a response.
	delivered bool
}

// pendingRequest is one in-flight command forwarded to the extension.
type pendingRequest struct {
	relayID   uint64
	clientID  string // "" for relay-internal requests
	clientSeq int64  // the id the client used
	method    string
	sessionID string
	epoch     uint64
	timer     *time.Timer
	done      chan pendingResult
}

// pendingTable correlates relay-assigned ids with their waiters. Entries are
// taken-and-removed atomically so exactly one terminal signal fires per entry:
// response, timeout, extension loss, or shutdown.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint64]*pendingRequest
	nextID  uint64
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uint64]*pendingRequest)}
}

// add registers a new pending request and arms its timeout.
func (p *pendingTable) add(clientID string, clientSeq int64, method, sessionID string, epoch uint64, timeout time.Duration) *pendingRequest {
	p.mu.Lock()
	p.nextID++
	req := &pendingRequest{
		relayID:   p.nextID,
		clientID:  clientID,
		clientSeq: clientSeq,
		method:    method,
		sessionID: sessionID,
		epoch:     epoch,
		done:      make(chan pendingResult, 1),
	}
	p.entries[req.relayID] = req
	p.mu.Unlock()

	req.timer = time.AfterFunc(timeout, func() {
		p.expire(req.relayID, timeout)
	})
	return req
}

// take removes and returns the entry, stopping its timer. Returns nil if the
// entry already fired. A timer firing after take is a no-op.
func (p *pendingTable) take(relayID uint64) *pendingRequest {
	p.mu.Lock()
	req := p.entries[relayID]
	delete(p.entries, relayID)
	p.mu.Unlock()
	if req != nil && req.timer != nil {
		req.timer.Stop()
	}
	return req
}

// complete resolves a pending request with the extension's response. Late
// responses (after timeout or disconnect) are dropped.
func (p *pendingTable) complete(relayID uint64, result json.RawMessage, cdpErr *cdpError) {
	req := p.take(relayID)
	if req == nil {
		logging.Debugf("[relay] dropping late extension response id=%d", relayID)
		return
	}
	req.done <- pendingResult{result: result, cdpErr: cdpErr}
}

// expire fires the per-request timeout.
func (p *pendingTable) expire(relayID uint64, timeout time.Duration) {
	req := p.take(relayID)
	if req == nil {
		return
	}
	req.done <- pendingResult{cdpErr: &cdpError{
		Message: fmt.Sprintf("Extension request timeout after %dms: %s", timeout.Milliseconds(), req.method),
	}}
}

// failEpoch removes every entry dispatched on the given extension epoch and
// fires its terminal error. deliver, when non-nil, is called with each entry
// before the waiter is released so the error frame can be written to the
// client ahead of the socket close.
func (p *pendingTable) failEpoch(epoch uint64, cdpErr *cdpError, deliver func(*pendingRequest)) {
	p.fail(func(req *pendingRequest) bool { return req.epoch == epoch }, cdpErr, deliver)
}

// failAll fires the terminal error on every entry, regardless of epoch.
func (p *pendingTable) failAll(cdpErr *cdpError, deliver func(*pendingRequest)) {
	p.fail(func(*pendingRequest) bool { return true }, cdpErr, deliver)
}

func (p *pendingTable) fail(match func(*pendingRequest) bool, cdpErr *cdpError, deliver func(*pendingRequest)) {
	p.mu.Lock()
	var taken []*pendingRequest
	for id, req := range p.entries {
		if match(req) {
			delete(p.entries, id)
			taken = append(taken, req)
		}
	}
	p.mu.Unlock()

	for _, req := range taken {
		if req.timer != nil {
			req.timer.Stop()
		}
		delivered := false
		if deliver != nil {
			deliver(req)
			delivered = true
		}
		req.done <- pendingResult{cdpErr: cdpErr, delivered: delivered}
	}
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
