// Package bus is an in-process publish/subscribe hub for small signals
// between components: out-of-band redemption triggers, claim and
// missing-signer notifications.
package bus

import (
	"sync"
)

// Well-known topics.
const (
	// TopicRedeemTrigger asks the redemption workers to poll now.
	TopicRedeemTrigger = "redeem.trigger"

	// TopicTokenClaimed is published after a locked token was claimed.
	TopicTokenClaimed = "locked-token-claimed"

	// TopicMissingSigner is published when no private key matches a
	// locked token's P2PK lock.
	TopicMissingSigner = "locked-token-missing-signer"
)

const defaultBuffer = 16

// Event is one published signal.
type Event struct {
	Topic   string
	Payload any
}

type subscriber struct {
	ch chan Event
}

// Bus fans events out to topic subscribers. Publish never blocks: an event
// is dropped for a subscriber whose buffer is full.
type Bus struct {
	mu     sync.Mutex
	next   int
	topics map[string]map[int]*subscriber
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string]map[int]*subscriber)}
}

// Subscribe registers a subscriber for topic and returns its channel along
// with a function that detaches and closes it. Calling the function more
// than once is a no-op.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, defaultBuffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.next
	b.next++
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]*subscriber)
	}
	b.topics[topic][id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		if _, ok := subs[id]; !ok {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
		close(sub.ch)
	}
}

// Publish delivers payload to every subscriber of topic and returns how
// many received it.
func (b *Bus) Publish(topic string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	ev := Event{Topic: topic, Payload: payload}
	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers attached to topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Close detaches every subscriber. Later subscriptions receive a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for id, sub := range subs {
			close(sub.ch)
			delete(subs, id)
		}
		delete(b.topics, topic)
	}
}
