package realtime

import (
	"testing"
)

func TestPubSubPublishAndSubscribe(t *testing.T) {
	ps := NewPubSub()
	var got []any
	if _, err := ps.Subscribe("orders", func(topic string, payload any) {
		got = append(got, payload)
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if n := ps.Publish("orders", "o-1"); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if len(got) != 1 || got[0] != "o-1" {
		t.Errorf("received = %v", got)
	}
	if n := ps.Publish("empty-topic", "x"); n != 0 {
		t.Errorf("empty topic delivered = %d", n)
	}
}

func TestPubSubRetainedLast(t *testing.T) {
	ps := NewPubSub()
	if err := ps.CreateTopic("status", true); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	ps.Publish("status", "starting")
	ps.Publish("status", "ready")

	var got any
	if _, err := ps.Subscribe("status", func(topic string, payload any) {
		got = payload
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got != "ready" {
		t.Errorf("retained payload = %v, want ready (the last)", got)
	}

	// Topics without retention replay nothing.
	ps.Publish("plain", "x")
	var replayed bool
	_, _ = ps.Subscribe("plain", func(string, any) { replayed = true })
	if replayed {
		t.Error("non-retaining topic replayed a payload")
	}
}

func TestPubSubUnsubscribe(t *testing.T) {
	ps := NewPubSub()
	count := 0
	id, _ := ps.Subscribe("t", func(string, any) { count++ })

	ps.Publish("t", 1)
	if !ps.Unsubscribe("t", id) {
		t.Fatal("Unsubscribe returned false")
	}
	ps.Publish("t", 2)
	if count != 1 {
		t.Errorf("handled = %d, want 1", count)
	}
	if ps.Unsubscribe("t", id) {
		t.Error("double unsubscribe returned true")
	}
}

func TestPubSubHandlerPanicIsolation(t *testing.T) {
	ps := NewPubSub()
	_, _ = ps.Subscribe("t", func(string, any) { panic("boom") })
	reached := false
	_, _ = ps.Subscribe("t", func(string, any) { reached = true })

	if n := ps.Publish("t", nil); n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	if !reached {
		t.Error("second subscriber skipped after panic")
	}
}

func TestPubSubCaps(t *testing.T) {
	ps := NewPubSub()
	ps.SetLimits(2, 1)

	if err := ps.CreateTopic("a", false); err != nil {
		t.Fatalf("CreateTopic a: %v", err)
	}
	if err := ps.CreateTopic("b", false); err != nil {
		t.Fatalf("CreateTopic b: %v", err)
	}
	if err := ps.CreateTopic("c", false); err == nil {
		t.Error("topic cap not enforced")
	}

	if _, err := ps.Subscribe("a", func(string, any) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := ps.Subscribe("a", func(string, any) {}); err == nil {
		t.Error("subscriber cap not enforced")
	}
}
