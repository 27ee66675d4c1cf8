package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/neboloop/relay/internal/logging"
)

func (r *Relay) handleRoot(w http.ResponseWriter, req *http.Request) {
	w.Write([]byte("OK"))
}

// handleVersion serves the relay's own build identifier.
func (r *Relay) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, map[string]string{"version": Version})
}

// handleExtensionStatus reports upstream health and the target snapshot.
func (r *Relay) handleExtensionStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, map[string]any{
		"connected": r.ExtensionConnected(),
		"targets":   r.targets.snapshot(),
	})
}

// handleMCPLog is a fire-and-forget logging sink for relay consumers.
// Errors are swallowed; the caller always gets 204.
func (r *Relay) handleMCPLog(w http.ResponseWriter, req *http.Request) {
	var entry struct {
		Level string `json:"level"`
		Args  []any  `json:"args"`
	}
	if err := json.NewDecoder(req.Body).Decode(&entry); err == nil {
		parts := make([]string, 0, len(entry.Args))
		for _, a := range entry.Args {
			parts = append(parts, fmt.Sprint(a))
		}
		level := entry.Level
		if level == "" {
			level = "log"
		}
		logging.Infof("[mcp-log] %s: %s", level, strings.Join(parts, " "))
	}
	w.WriteHeader(http.StatusNoContent)
}

// DevTools discovery surface. Same token policy as /cdp, so automation that
// expects a real browser's /json endpoints can bootstrap against the relay.

func (r *Relay) handleJSONVersion(w http.ResponseWriter, req *http.Request) {
	if !r.checkHTTPAuth(w, req) {
		return
	}

	payload := map[string]any{
		"Browser":          "Nebo/extension-relay",
		"Protocol-Version": protocolVersion,
	}
	if r.ExtensionConnected() {
		payload["webSocketDebuggerUrl"] = r.CDPWebSocketURL()
	}
	writeJSON(w, payload)
}

func (r *Relay) handleJSONList(w http.ResponseWriter, req *http.Request) {
	if !r.checkHTTPAuth(w, req) {
		return
	}

	targets := r.targets.snapshot()
	list := make([]map[string]string, 0, len(targets))
	for _, t := range targets {
		list = append(list, map[string]string{
			"id":                   t.TargetID,
			"type":                 t.Type,
			"title":                t.Title,
			"url":                  t.URL,
			"webSocketDebuggerUrl": r.CDPWebSocketURL(),
		})
	}
	writeJSON(w, list)
}

func (r *Relay) handleJSONActivate(w http.ResponseWriter, req *http.Request) {
	if !r.checkHTTPAuth(w, req) {
		return
	}

	targetID := chi.URLParam(req, "targetId")
	if targetID == "" {
		http.Error(w, "targetId required", http.StatusBadRequest)
		return
	}

	r.forwardFromRelay("Target.activateTarget", map[string]string{"targetId": targetID})
	w.Write([]byte("OK"))
}

func (r *Relay) handleJSONClose(w http.ResponseWriter, req *http.Request) {
	if !r.checkHTTPAuth(w, req) {
		return
	}

	targetID := chi.URLParam(req, "targetId")
	if targetID == "" {
		http.Error(w, "targetId required", http.StatusBadRequest)
		return
	}

	r.forwardFromRelay("Target.closeTarget", map[string]string{"targetId": targetID})
	w.Write([]byte("OK"))
}

func (r *Relay) checkHTTPAuth(w http.ResponseWriter, req *http.Request) bool {
	if r.authorizeClient(req) {
		return true
	}
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
