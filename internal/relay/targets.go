package relay

import "sync"

// TargetInfo contains metadata about a browser target.
type TargetInfo struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Attached         bool   `json:"attached"`
	BrowserContextID string `json:"browserContextId,omitempty"`
}

type targetEntry struct {
	info      TargetInfo
	sessionID string
}

// targetTable tracks the extension's targets, keyed by targetId. Updated by
// the extension reader goroutine and cleared on extension loss and on Stop;
// read from client command handlers and the HTTP status surface.
type targetTable struct {
	mu   sync.RWMutex
	byID map[string]*targetEntry
}

func newTargetTable() *targetTable {
	return &targetTable{byID: make(map[string]*targetEntry)}
}

// upsert inserts or updates a target from targetCreated/targetInfoChanged.
func (t *targetTable) upsert(info TargetInfo) {
	if info.TargetID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byID[info.TargetID]; ok {
		e.info = info
		if e.sessionID != "" {
			e.info.Attached = true
		}
		return
	}
	t.byID[info.TargetID] = &targetEntry{info: info}
}

// attach records the extension-side attachment for a target.
func (t *targetTable) attach(info TargetInfo, sessionID string) {
	if info.TargetID == "" || sessionID == "" {
		return
	}
	info.Attached = true
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byID[info.TargetID]; ok {
		e.info = info
		e.sessionID = sessionID
		return
	}
	t.byID[info.TargetID] = &targetEntry{info: info, sessionID: sessionID}
}

// detachSession clears the sessionId on the matching entry and returns the
// targetId it belonged to, or "".
func (t *targetTable) detachSession(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.byID {
		if e.sessionID == sessionID {
			e.sessionID = ""
			e.info.Attached = false
			return id
		}
	}
	return ""
}

// destroy removes a target.
func (t *targetTable) destroy(targetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, targetID)
}

// lookup returns the target entry and whether it exists.
func (t *targetTable) lookup(targetID string) (TargetInfo, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[targetID]
	if !ok {
		return TargetInfo{}, "", false
	}
	return e.info, e.sessionID, true
}

// bySession returns the target attached under sessionID.
func (t *targetTable) bySession(sessionID string) (TargetInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.byID {
		if e.sessionID == sessionID {
			return e.info, true
		}
	}
	return TargetInfo{}, false
}

// snapshot returns all known targets.
func (t *targetTable) snapshot() []TargetInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TargetInfo, 0, len(t.byID))
	for _, e := range t.byID {
		out = append(out, e.info)
	}
	return out
}

// attachedSessions returns sessionId → TargetInfo for every attached target.
func (t *targetTable) attachedSessions() map[string]TargetInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]TargetInfo)
	for _, e := range t.byID {
		if e.sessionID != "" {
			out[e.sessionID] = e.info
		}
	}
	return out
}

// clear drops every entry.
func (t *targetTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[string]*targetEntry)
}

func (t *targetTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
