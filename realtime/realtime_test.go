package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// recorder collects envelopes sent to one fake connection.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) send(msg Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return Message{}, false
	}
	return r.msgs[len(r.msgs)-1], true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func frame(t *testing.T, msg Message) []byte {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return raw
}

func TestWebSocketSubscribeAndBroadcast(t *testing.T) {
	m := NewManager(nil)
	a, b := &recorder{}, &recorder{}
	m.Connect("conn-a", a.send, "user-1")
	m.Connect("conn-b", b.send, "user-2")

	m.HandleMessage("conn-a", frame(t, Message{Type: TypeSubscribe, Channel: "metrics"}))

	if sent := m.Broadcast("metrics", map[string]any{"cpu": 0.4}); sent != 1 {
		t.Errorf("broadcast reached %d connections, want 1", sent)
	}
	msg, ok := a.last()
	if !ok || msg.Type != TypeData || msg.Channel != "metrics" {
		t.Errorf("subscriber got %+v", msg)
	}
	if b.count() != 0 {
		t.Error("non-subscriber received broadcast")
	}

	m.HandleMessage("conn-a", frame(t, Message{Type: TypeUnsubscribe, Channel: "metrics"}))
	if sent := m.Broadcast("metrics", nil); sent != 0 {
		t.Errorf("broadcast after unsubscribe reached %d", sent)
	}
}

func TestWebSocketSendToUser(t *testing.T) {
	m := NewManager(nil)
	a, b, c := &recorder{}, &recorder{}, &recorder{}
	m.Connect("a", a.send, "alice")
	m.Connect("b", b.send, "alice")
	m.Connect("c", c.send, "bob")

	if sent := m.SendToUser("alice", "hi"); sent != 2 {
		t.Errorf("sent to %d sessions, want 2", sent)
	}
	if c.count() != 0 {
		t.Error("other user's session received message")
	}
}

func TestWebSocketPerUserCapEvictsOldest(t *testing.T) {
	m := NewManager(nil)
	m.SetMaxPerUser(2)
	m.Connect("first", (&recorder{}).send, "u")
	m.Connect("second", (&recorder{}).send, "u")
	m.Connect("third", (&recorder{}).send, "u")

	ids := m.UserConnections("u")
	if len(ids) != 2 || ids[0] != "second" || ids[1] != "third" {
		t.Errorf("sessions = %v, want oldest evicted", ids)
	}
	if m.Connections() != 2 {
		t.Errorf("connections = %d, want 2", m.Connections())
	}
}

func TestWebSocketPingPongAndErrors(t *testing.T) {
	m := NewManager(nil)
	r := &recorder{}
	m.Connect("c", r.send, "")

	m.HandleMessage("c", frame(t, Message{Type: TypePing, ID: "ping-7"}))
	msg, _ := r.last()
	if msg.Type != TypePong || msg.ID != "ping-7" {
		t.Errorf("ping reply = %+v", msg)
	}

	m.HandleMessage("c", []byte("{not json"))
	msg, _ = r.last()
	if msg.Type != TypeError {
		t.Errorf("malformed frame reply = %+v", msg)
	}

	m.HandleMessage("c", frame(t, Message{Type: "SHOUT"}))
	msg, _ = r.last()
	if msg.Type != TypeError {
		t.Errorf("unknown type reply = %+v", msg)
	}
}

func TestWebSocketAuth(t *testing.T) {
	m := NewManager(func(token string) (string, bool) {
		if token == "valid" {
			return "alice", true
		}
		return "", false
	})
	r := &recorder{}
	m.Connect("c", r.send, "")

	m.HandleMessage("c", frame(t, Message{Type: TypeAuth, Data: "nope"}))
	msg, _ := r.last()
	if msg.Type != TypeAuthFailure {
		t.Errorf("bad token reply = %+v", msg)
	}

	m.HandleMessage("c", frame(t, Message{Type: TypeAuth, Data: "valid"}))
	msg, _ = r.last()
	if msg.Type != TypeAuthSuccess {
		t.Errorf("good token reply = %+v", msg)
	}
	if got := m.UserConnections("alice"); len(got) != 1 || got[0] != "c" {
		t.Errorf("authenticated session not indexed: %v", got)
	}
}

func TestWebSocketPinger(t *testing.T) {
	m := NewManager(nil)
	m.SetPingInterval(10 * time.Millisecond)
	r := &recorder{}
	m.Connect("c", r.send, "")

	m.StartPinger()
	defer m.StopPinger()

	deadline := time.After(time.Second)
	for r.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no ping within a second")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	msg, _ := r.last()
	if msg.Type != TypePing {
		t.Errorf("pinger sent %+v", msg)
	}
}
