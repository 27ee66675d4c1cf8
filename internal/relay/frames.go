package relay

import "encoding/json"

// Close codes sent on relay-initiated WebSocket closes. Application range
// (4000-4999) so peers can tell them apart from transport-level closes.
const (
	CloseSuperseded    = 4000
	CloseExtensionGone = 4001
	CloseSlowConsumer  = 4002
	CloseUnauthorized  = 4003
	CloseBadOrigin     = 4004
)

// CDP protocol types (client side)

type cdpCommand struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type cdpResponse struct {
	ID        int64     `json:"id"`
	Result    any       `json:"result,omitempty"`
	Error     *cdpError `json:"error,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

type cdpEvent struct {
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Extension protocol types. The extension tunnels CDP inside a small
// envelope: commands go out as forwardCDPCommand, events come back as
// forwardCDPEvent, plus ping/pong keepalives.

type extensionCommand struct {
	ID     uint64                  `json:"id"`
	Method string                  `json:"method"`
	Params *extensionCommandParams `json:"params,omitempty"`
}

type extensionCommandParams struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// extensionFrame is the demux union for everything the extension sends: a
// response carries an id, an event carries a method.
type extensionFrame struct {
	ID     uint64                `json:"id,omitempty"`
	Method string                `json:"method,omitempty"`
	Result json.RawMessage       `json:"result,omitempty"`
	Error  *cdpError             `json:"error,omitempty"`
	Params *extensionEventParams `json:"params,omitempty"`
}

type extensionEventParams struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Target event payloads the relay itself needs to read. Everything else is
// passed through opaque.

type targetInfoPayload struct {
	TargetInfo TargetInfo `json:"targetInfo"`
}

type attachedToTargetPayload struct {
	SessionID  string     `json:"sessionId"`
	TargetInfo TargetInfo `json:"targetInfo"`
}

type detachedFromTargetPayload struct {
	SessionID string `json:"sessionId"`
}

type targetDestroyedPayload struct {
	TargetID string `json:"targetId"`
}
