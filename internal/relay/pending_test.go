package relay

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPendingCompleteOnce(t *testing.T) {
	p := newPendingTable()
	req := p.add("client-1", 42, "Page.navigate", "S1", 1, time.Minute)

	p.complete(req.relayID, json.RawMessage(`{"ok":true}`), nil)

	select {
	case res := <-req.done:
		if res.cdpErr != nil {
			t.Fatalf("unexpected error: %v", res.cdpErr.Message)
		}
		if string(res.result) != `{"ok":true}` {
			t.Fatalf("result = %s", res.result)
		}
	case <-time.After(time.Second):
		t.Fatalf("terminal signal never fired")
	}

	if p.len() != 0 {
		t.Fatalf("entry not removed after completion")
	}

	// a second completion for the same id is a dropped late response
	p.complete(req.relayID, json.RawMessage(`{}`), nil)
	select {
	case <-req.done:
		t.Fatalf("entry fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPendingTimeoutMessage(t *testing.T) {
	p := newPendingTable()
	req := p.add("client-1", 9, "Page.navigate", "", 1, 20*time.Millisecond)

	select {
	case res := <-req.done:
		if res.cdpErr == nil {
			t.Fatalf("expected timeout error")
		}
		want := "Extension request timeout after 20ms: Page.navigate"
		if res.cdpErr.Message != want {
			t.Fatalf("message = %q, want %q", res.cdpErr.Message, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout never fired")
	}
	if p.len() != 0 {
		t.Fatalf("entry not removed after timeout")
	}
}

func TestPendingTakeStopsTimer(t *testing.T) {
	p := newPendingTable()
	req := p.add("", 1, "Target.activateTarget", "", 1, 20*time.Millisecond)

	if got := p.take(req.relayID); got == nil {
		t.Fatalf("take returned nil for live entry")
	}
	select {
	case <-req.done:
		t.Fatalf("timer fired after take")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestPendingFailEpoch(t *testing.T) {
	p := newPendingTable()
	old := p.add("client-1", 1, "Page.enable", "", 1, time.Minute)
	fresh := p.add("client-2", 2, "Page.enable", "", 2, time.Minute)

	var deliveredTo []string
	p.failEpoch(1, errExtensionNotConnected, func(req *pendingRequest) {
		deliveredTo = append(deliveredTo, req.clientID)
	})

	select {
	case res := <-old.done:
		if res.cdpErr == nil || res.cdpErr.Message != "Extension not connected" {
			t.Fatalf("epoch 1 entry got %+v", res.cdpErr)
		}
		if !res.delivered {
			t.Fatalf("deliver callback should mark the result delivered")
		}
	case <-time.After(time.Second):
		t.Fatalf("epoch 1 entry never failed")
	}
	if len(deliveredTo) != 1 || deliveredTo[0] != "client-1" {
		t.Fatalf("deliver callback saw %v", deliveredTo)
	}

	// the newer epoch's request is untouched
	select {
	case <-fresh.done:
		t.Fatalf("epoch 2 entry failed too")
	case <-time.After(50 * time.Millisecond):
	}
	if p.len() != 1 {
		t.Fatalf("pending table len = %d, want 1", p.len())
	}
}

func TestPendingRelayIDsMonotonic(t *testing.T) {
	p := newPendingTable()
	a := p.add("", 1, "A", "", 1, time.Minute)
	b := p.add("", 2, "B", "", 1, time.Minute)
	if b.relayID <= a.relayID {
		t.Fatalf("relay ids not monotonic: %d then %d", a.relayID, b.relayID)
	}
}
