package relay

import (
	"encoding/json"
	"fmt"

	"github.com/neboloop/relay/internal/logging"
)

// protocolVersion is the CDP version the relay advertises.
const protocolVersion = "1.3"

// handleClientCommand answers one client command: a narrow set of
// browser-scoped methods locally, everything else forwarded through the
// correlator. Commands are handled serially on the client's reader goroutine,
// so each client sees its responses in request order.
func (r *Relay) handleClientCommand(c *ClientSession, cmd *cdpCommand) {
	var (
		result     any
		cdpErr     *cdpError
		postEvents []*cdpEvent
	)

	switch cmd.Method {
	case "Browser.getVersion":
		result = map[string]string{
			"protocolVersion": protocolVersion,
			"product":         "Chrome/Nebo-Extension-Relay",
			"revision":        "0",
			"userAgent":       "Nebo-Extension-Relay/" + Version,
			"jsVersion":       "V8",
		}

	case "Browser.setDownloadBehavior":
		// the extension side cannot answer this; ack it
		result = map[string]any{}

	case "Target.setAutoAttach":
		if cmd.SessionID != "" {
			// session-scoped auto-attach is the page's business; forward
			var delivered bool
			result, cdpErr, delivered = r.forwardRaw(c.id, cmd)
			if delivered {
				return
			}
			break
		}
		result = map[string]any{}
		postEvents = r.attachReplayEvents(c)

	case "Target.setDiscoverTargets":
		result = map[string]any{}
		var params struct {
			Discover bool `json:"discover"`
		}
		if err := json.Unmarshal(cmd.Params, &params); err == nil && params.Discover {
			postEvents = r.targetCreatedReplayEvents()
		}

	case "Target.getTargets":
		result = map[string]any{"targetInfos": r.targets.snapshot()}

	case "Target.getTargetInfo":
		result = r.getTargetInfo(cmd)

	case "Target.attachToTarget":
		result, cdpErr = r.attachToTarget(c, cmd)
		if cdpErr == nil {
			if info, sessionID, ok := r.lookupAttach(cmd); ok {
				postEvents = append(postEvents, &cdpEvent{
					Method: "Target.attachedToTarget",
					Params: map[string]any{
						"sessionId":          sessionID,
						"targetInfo":         info,
						"waitingForDebugger": false,
					},
				})
			}
		}

	default:
		var delivered bool
		result, cdpErr, delivered = r.forwardRaw(c.id, cmd)
		if delivered {
			return
		}
	}

	resp := &cdpResponse{ID: cmd.ID, SessionID: cmd.SessionID}
	if cdpErr != nil {
		resp.Error = cdpErr
	} else {
		resp.Result = result
	}

	// response first, then any synthesized events
	c.send(resp)
	for _, evt := range postEvents {
		c.send(evt)
	}
}

// forwardRaw forwards and adapts the raw result for response embedding.
func (r *Relay) forwardRaw(clientID string, cmd *cdpCommand) (any, *cdpError, bool) {
	raw, cdpErr, delivered := r.forward(clientID, cmd)
	if cdpErr != nil || delivered {
		return nil, cdpErr, delivered
	}
	if len(raw) == 0 {
		return map[string]any{}, nil, false
	}
	return json.RawMessage(raw), nil, false
}

// getTargetInfo answers Target.getTargetInfo from the table. An unknown
// targetId yields {targetInfo: null}, never an error.
func (r *Relay) getTargetInfo(cmd *cdpCommand) map[string]any {
	var params struct {
		TargetID string `json:"targetId"`
	}
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			logging.Debugf("[relay] bad Target.getTargetInfo params: %v", err)
		}
	}

	if params.TargetID != "" {
		if info, _, ok := r.targets.lookup(params.TargetID); ok {
			return map[string]any{"targetInfo": info}
		}
		return map[string]any{"targetInfo": nil}
	}
	if cmd.SessionID != "" {
		if info, ok := r.targets.bySession(cmd.SessionID); ok {
			return map[string]any{"targetInfo": info}
		}
	}
	return map[string]any{"targetInfo": nil}
}

// attachToTarget answers Target.attachToTarget with the sessionId the
// extension bound at target creation, and records the client's attachment.
func (r *Relay) attachToTarget(c *ClientSession, cmd *cdpCommand) (map[string]any, *cdpError) {
	var params struct {
		TargetID string `json:"targetId"`
	}
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			logging.Debugf("[relay] bad Target.attachToTarget params: %v", err)
		}
	}
	if params.TargetID == "" {
		return nil, &cdpError{Message: "targetId is required for Target.attachToTarget"}
	}

	_, sessionID, ok := r.targets.lookup(params.TargetID)
	if !ok || sessionID == "" {
		return nil, &cdpError{Message: fmt.Sprintf("Target %s not found in connected targets", params.TargetID)}
	}

	c.attachSession(sessionID)
	return map[string]any{"sessionId": sessionID}, nil
}

// lookupAttach resolves the attach command's target for the post-response
// attachedToTarget event.
func (r *Relay) lookupAttach(cmd *cdpCommand) (TargetInfo, string, bool) {
	var params struct {
		TargetID string `json:"targetId"`
	}
	if len(cmd.Params) > 0 {
		json.Unmarshal(cmd.Params, &params)
	}
	if params.TargetID == "" {
		return TargetInfo{}, "", false
	}
	info, sessionID, ok := r.targets.lookup(params.TargetID)
	if !ok || sessionID == "" {
		return TargetInfo{}, "", false
	}
	return info, sessionID, true
}

// attachReplayEvents synthesizes Target.attachedToTarget for every attached
// target, marking the requesting client attached to each replayed session.
func (r *Relay) attachReplayEvents(c *ClientSession) []*cdpEvent {
	sessions := r.targets.attachedSessions()
	evts := make([]*cdpEvent, 0, len(sessions))
	for sessionID, info := range sessions {
		c.attachSession(sessionID)
		evts = append(evts, &cdpEvent{
			Method: "Target.attachedToTarget",
			Params: map[string]any{
				"sessionId":          sessionID,
				"targetInfo":         info,
				"waitingForDebugger": false,
			},
		})
	}
	return evts
}

// targetCreatedReplayEvents synthesizes Target.targetCreated per known target.
func (r *Relay) targetCreatedReplayEvents() []*cdpEvent {
	targets := r.targets.snapshot()
	evts := make([]*cdpEvent, 0, len(targets))
	for _, info := range targets {
		evts = append(evts, &cdpEvent{
			Method: "Target.targetCreated",
			Params: map[string]any{"targetInfo": info},
		})
	}
	return evts
}
