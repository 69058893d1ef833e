// Package relay carries change events between service processes. Every
// process publishes events for mutations it handles and subscribes to
// the same topic, so the publishing process also receives its own
// events (self-delivery) and can reach its locally held channels.
package relay

import (
	"context"
	"sync"

	"taskhive.org/internal/obs"
)

// Event names a mutated todo. Create and update events carry only the
// identifier; subscribers re-derive everything else from persistence.
// Delete events additionally carry the pre-deletion member list, since
// a soft-deleted todo is invisible to normal reads.
type Event struct {
	TodoID  string   `json:"todo_id"`
	Deleted bool     `json:"deleted,omitempty"`
	UserIDs []string `json:"user_ids,omitempty"`
}

// Handler consumes one event from the subscription loop.
type Handler func(ctx context.Context, evt Event)

// Publisher is the write half of the relay.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Relay is the full pub/sub transport. Subscribe blocks until ctx ends
// and invokes the handler for every event received on the topic.
// Delivery is at-least-once while the transport is connected; events
// in flight during an outage may be lost.
type Relay interface {
	Publisher
	Subscribe(ctx context.Context, h Handler) error
}

// Loopback is an in-process Relay used by tests and single-node
// deployments. Fan-out uses per-subscriber buffered channels; a slow
// subscriber drops events rather than stalling publishers.
type Loopback struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewLoopback initialises an empty in-process relay.
func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[int]chan Event)}
}

// Publish fan-outs the event to all subscribers, including any
// subscription started by the publishing goroutine's own process.
func (l *Loopback) Publish(ctx context.Context, evt Event) error {
	obs.RelayPublished()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- evt:
		default:
			// Drop when the subscriber is slow to avoid blocking.
		}
	}
	return nil
}

// Subscribe registers a subscriber and dispatches events to the handler
// until ctx ends.
func (l *Loopback) Subscribe(ctx context.Context, h Handler) error {
	ch := make(chan Event, 64)

	l.mu.Lock()
	id := l.next
	l.next++
	l.subs[id] = ch
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-ch:
			obs.RelayReceived()
			h(ctx, evt)
		}
	}
}
