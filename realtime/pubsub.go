package realtime

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TopicHandler receives published payloads.
type TopicHandler func(topic string, payload any)

// DefaultMaxTopics caps the number of topics a PubSub holds.
const DefaultMaxTopics = 1000

// DefaultMaxSubscribers caps subscribers per topic.
const DefaultMaxSubscribers = 100

type pubsubSubscriber struct {
	id      string
	handler TopicHandler
}

type pubsubTopic struct {
	name        string
	subscribers []pubsubSubscriber
	retain      bool
	retained    any
	hasRetained bool
}

// PubSub is an in-process topic fan-out. Publishing is synchronous over the
// subscriber list in subscription order; a panicking handler is isolated.
// Topics created with retention hand their last payload to new subscribers
// immediately.
type PubSub struct {
	mu             sync.Mutex
	topics         map[string]*pubsubTopic
	maxTopics      int
	maxSubscribers int
}

// NewPubSub creates an empty pubsub with default caps.
func NewPubSub() *PubSub {
	return &PubSub{
		topics:         make(map[string]*pubsubTopic),
		maxTopics:      DefaultMaxTopics,
		maxSubscribers: DefaultMaxSubscribers,
	}
}

// SetLimits overrides the topic and per-topic subscriber caps. Values below
// 1 keep the current setting.
func (p *PubSub) SetLimits(maxTopics, maxSubscribers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if maxTopics >= 1 {
		p.maxTopics = maxTopics
	}
	if maxSubscribers >= 1 {
		p.maxSubscribers = maxSubscribers
	}
}

// CreateTopic declares a topic. Creating an existing topic is a no-op that
// preserves its retention setting.
func (p *PubSub) CreateTopic(name string, retainLast bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.topics[name]; ok {
		return nil
	}
	if len(p.topics) >= p.maxTopics {
		return fmt.Errorf("topic cap %d reached", p.maxTopics)
	}
	p.topics[name] = &pubsubTopic{name: name, retain: retainLast}
	return nil
}

// Subscribe attaches a handler to a topic, creating the topic without
// retention when it does not exist. When the topic retains its last payload
// the handler receives it synchronously before Subscribe returns.
func (p *PubSub) Subscribe(topic string, handler TopicHandler) (string, error) {
	p.mu.Lock()
	t, ok := p.topics[topic]
	if !ok {
		if len(p.topics) >= p.maxTopics {
			p.mu.Unlock()
			return "", fmt.Errorf("topic cap %d reached", p.maxTopics)
		}
		t = &pubsubTopic{name: topic}
		p.topics[topic] = t
	}
	if len(t.subscribers) >= p.maxSubscribers {
		p.mu.Unlock()
		return "", fmt.Errorf("topic %s: subscriber cap %d reached", topic, p.maxSubscribers)
	}
	id := uuid.NewString()
	t.subscribers = append(t.subscribers, pubsubSubscriber{id: id, handler: handler})
	replay := t.hasRetained
	retained := t.retained
	p.mu.Unlock()

	if replay {
		safeDeliver(handler, topic, retained)
	}
	return id, nil
}

// Unsubscribe detaches a subscriber, reporting whether it existed.
func (p *PubSub) Unsubscribe(topic, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[topic]
	if !ok {
		return false
	}
	for i, sub := range t.subscribers {
		if sub.id == id {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers the payload to every subscriber of the topic and returns
// the number delivered to. Publishing to an unknown topic creates it.
func (p *PubSub) Publish(topic string, payload any) int {
	p.mu.Lock()
	t, ok := p.topics[topic]
	if !ok {
		if len(p.topics) >= p.maxTopics {
			p.mu.Unlock()
			return 0
		}
		t = &pubsubTopic{name: topic}
		p.topics[topic] = t
	}
	if t.retain {
		t.retained = payload
		t.hasRetained = true
	}
	subs := append([]pubsubSubscriber(nil), t.subscribers...)
	p.mu.Unlock()

	for _, sub := range subs {
		safeDeliver(sub.handler, topic, payload)
	}
	return len(subs)
}

// Topics returns the number of topics.
func (p *PubSub) Topics() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

// safeDeliver isolates handler panics from the publisher and from other
// subscribers.
func safeDeliver(h TopicHandler, topic string, payload any) {
	defer func() { _ = recover() }()
	h(topic, payload)
}
