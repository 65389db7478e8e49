// Package eventbus provides an in-process pub/sub bus fanning out from
// EventMonitor and SessionManager to WebSocket subscribers and the audit
// log (spec §4.7).
package eventbus

import (
	"sync"

	"github.com/baseswap/orchestrator/pkg/logging"
)

// Topic identifies a publication channel: either a specific session
// ("session.<id>") or the global event feed ("event.global").
type Topic string

// GlobalTopic is the channel every blockchain/session event is also
// published to, regardless of its session-specific topic.
const GlobalTopic Topic = "event.global"

// SessionTopic returns the per-session topic for sessionID.
func SessionTopic(sessionID string) Topic {
	return Topic("session." + sessionID)
}

// Message is one published event.
type Message struct {
	Topic Topic
	Type  string
	Data  interface{}
}

const subscriberBufferSize = 256

// Subscriber is a bounded, drop-oldest-on-overflow mailbox for one
// listener. Publishers never block on a slow subscriber (spec §4.7): when
// the buffer is full, the oldest queued message is discarded and the
// count returned by DroppedCount is incremented. The count is not sent to
// the subscriber's client, and a new subscriber starts again from zero.
type Subscriber struct {
	ID      string
	topics  map[Topic]bool
	ch      chan Message
	mu      sync.Mutex
	dropped uint64
}

// C returns the channel the subscriber should range over for delivery.
func (s *Subscriber) C() <-chan Message { return s.ch }

// DroppedCount returns how many messages were dropped due to backpressure
// since the subscriber was created.
func (s *Subscriber) DroppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) interestedIn(topic Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.topics) == 0 {
		return true
	}
	return s.topics[topic] || topic == GlobalTopic
}

func (s *Subscriber) deliver(msg Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}

	// Buffer full: drop the oldest queued message to make room, per
	// spec §4.7's drop-oldest-on-overflow policy.
	s.mu.Lock()
	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	s.mu.Unlock()

	select {
	case s.ch <- msg:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Subscribe adds topics of interest to this subscriber's filter (empty
// topics means "subscribe to everything").
func (s *Subscriber) Subscribe(topics ...Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		s.topics[t] = true
	}
}

// Unsubscribe removes topics from this subscriber's filter.
func (s *Subscriber) Unsubscribe(topics ...Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		delete(s.topics, t)
	}
}

// Bus is the in-process publisher/subscriber registry.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	log         *logging.Logger
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		log:         logging.GetDefault().Component("eventbus"),
	}
}

// NewSubscriber registers a new subscriber with the given ID.
func (b *Bus) NewSubscriber(id string) *Subscriber {
	sub := &Subscriber{
		ID:     id,
		topics: make(map[Topic]bool),
		ch:     make(chan Message, subscriberBufferSize),
	}

	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	return sub
}

// Remove unregisters a subscriber.
func (b *Bus) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish fans a message out to every interested subscriber. It never
// blocks: each subscriber has its own bounded, drop-oldest mailbox.
func (b *Bus) Publish(topic Topic, msgType string, data interface{}) {
	msg := Message{Topic: topic, Type: msgType, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.interestedIn(topic) {
			sub.deliver(msg)
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
