package relay

import "testing"

func TestTargetTableLifecycle(t *testing.T) {
	tbl := newTargetTable()

	tbl.upsert(TargetInfo{TargetID: "T1", Type: "page", URL: "https://a.example"})
	if tbl.len() != 1 {
		t.Fatalf("len = %d after create", tbl.len())
	}
	if _, sessionID, ok := tbl.lookup("T1"); !ok || sessionID != "" {
		t.Fatalf("created target should exist without a session")
	}

	tbl.attach(TargetInfo{TargetID: "T1", Type: "page", URL: "https://a.example"}, "S1")
	info, sessionID, ok := tbl.lookup("T1")
	if !ok || sessionID != "S1" {
		t.Fatalf("attach not recorded: ok=%v session=%q", ok, sessionID)
	}
	if !info.Attached {
		t.Fatalf("attached flag not set")
	}

	tbl.upsert(TargetInfo{TargetID: "T1", Type: "page", Title: "New", URL: "https://b.example"})
	info, sessionID, _ = tbl.lookup("T1")
	if info.Title != "New" || info.URL != "https://b.example" {
		t.Fatalf("infoChanged not applied: %+v", info)
	}
	if sessionID != "S1" {
		t.Fatalf("infoChanged dropped the session binding")
	}
	if !info.Attached {
		t.Fatalf("infoChanged cleared the attached flag")
	}

	if got := tbl.detachSession("S1"); got != "T1" {
		t.Fatalf("detachSession returned %q", got)
	}
	if _, sessionID, _ := tbl.lookup("T1"); sessionID != "" {
		t.Fatalf("session not cleared on detach")
	}

	tbl.destroy("T1")
	if tbl.len() != 0 {
		t.Fatalf("destroy left %d entries", tbl.len())
	}
}

func TestTargetTableBySession(t *testing.T) {
	tbl := newTargetTable()
	tbl.attach(TargetInfo{TargetID: "T1", Type: "page"}, "S1")
	tbl.attach(TargetInfo{TargetID: "T2", Type: "page"}, "S2")

	info, ok := tbl.bySession("S2")
	if !ok || info.TargetID != "T2" {
		t.Fatalf("bySession(S2) = %+v, %v", info, ok)
	}
	if _, ok := tbl.bySession("S9"); ok {
		t.Fatalf("unknown session resolved")
	}

	sessions := tbl.attachedSessions()
	if len(sessions) != 2 {
		t.Fatalf("attachedSessions len = %d", len(sessions))
	}

	tbl.clear()
	if tbl.len() != 0 {
		t.Fatalf("clear left entries")
	}
}

func TestTargetTableIgnoresEmptyIDs(t *testing.T) {
	tbl := newTargetTable()
	tbl.upsert(TargetInfo{})
	tbl.attach(TargetInfo{TargetID: "T1"}, "")
	tbl.attach(TargetInfo{}, "S1")
	if tbl.len() != 0 {
		t.Fatalf("empty ids should not create entries, len = %d", tbl.len())
	}
	if got := tbl.detachSession(""); got != "" {
		t.Fatalf("detachSession(\"\") = %q", got)
	}
}
