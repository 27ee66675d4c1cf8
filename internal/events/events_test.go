package events

import (
	"context"
	"testing"
	"time"
)

func TestEmitAndSubscribe(t *testing.T) {
	s := NewSubject(WithSyncDelivery())
	defer Complete(s)

	got := make(chan ExtensionState, 1)
	sub := Subscribe(s, TopicExtensionConnected, func(_ context.Context, st ExtensionState) error {
		got <- st
		return nil
	})
	defer sub.Unsubscribe()

	if err := Emit(s, TopicExtensionConnected, ExtensionState{Epoch: 3, Targets: 2}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case st := <-got:
		if st.Epoch != 3 || st.Targets != 2 {
			t.Fatalf("payload = %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatalf("handler never ran")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewSubject(WithSyncDelivery())
	defer Complete(s)

	got := make(chan ExtensionState, 4)
	sub := Subscribe(s, TopicExtensionDisconnected, func(_ context.Context, st ExtensionState) error {
		got <- st
		return nil
	})

	Emit(s, TopicExtensionDisconnected, ExtensionState{Epoch: 1})
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("first event never delivered")
	}

	sub.Unsubscribe()
	Emit(s, TopicExtensionDisconnected, ExtensionState{Epoch: 2})
	select {
	case st := <-got:
		t.Fatalf("delivered after unsubscribe: %+v", st)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	s := NewSubject(WithSyncDelivery())
	defer Complete(s)

	got := make(chan ExtensionState, 1)
	sub := Subscribe(s, TopicExtensionConnected, func(_ context.Context, st ExtensionState) error {
		got <- st
		return nil
	})
	defer sub.Unsubscribe()

	Emit(s, TopicExtensionDisconnected, ExtensionState{Epoch: 9})
	select {
	case st := <-got:
		t.Fatalf("cross-topic delivery: %+v", st)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	s := NewSubject()
	Complete(s)
	Complete(s)
	Complete(nil)
}
