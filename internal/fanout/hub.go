package fanout

import (
	"log/slog"
	"sync"
)

const defaultBuffer = 16

// Hub fans state-change notifications out to current subscribers of a
// topic. No persistence, no replay, no ordering guarantee; a subscriber
// that cannot keep up has messages dropped rather than blocking the
// publishing command.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	logger *slog.Logger
	buffer int
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		logger: logger,
		buffer: defaultBuffer,
	}
}

// Subscription is one subscriber's membership in one topic. Cancel is
// idempotent and tied to the owning connection's lifetime.
type Subscription struct {
	hub   *Hub
	topic string
	ch    chan Message
	once  sync.Once
}

// C returns the receive channel. It is closed by Cancel.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

func (s *Subscription) Topic() string {
	return s.topic
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}

func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		hub:   h,
		topic: topic,
		ch:    make(chan Message, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[sub.topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
}

// Publish delivers to every current subscriber of the topic without
// blocking: a full subscriber buffer means the message is dropped for
// that subscriber, who re-derives state on its next reconciler poll.
func (h *Hub) Publish(topic, event string, payload map[string]any) {
	msg := Message{Topic: topic, Event: event, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("dropping push event for slow subscriber",
				"topic", topic,
				"event", event,
			)
		}
	}
}

// SubscriberCount reports current subscribers of a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
