// Package push holds the per-process side of change distribution: the
// registry of live push channels keyed by user, and the dispatcher
// that turns relay events into per-member pushes.
package push

import (
	"sync"

	"taskhive.org/internal/obs"
)

// Channel is one live push connection. Send must be safe for
// concurrent use and must fail fast once the peer is gone; Close
// releases the connection.
type Channel interface {
	Send(payload []byte) error
	Close() error
}

// Registry maps user identities to their open push channels within
// this process. Registries are strictly per-process; cross-process
// reach goes through the relay, never by sharing a registry.
//
// The outer lock guards only the user map; each user entry carries its
// own lock, so pushes to one user never serialize against traffic for
// another.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*userChannels
}

type userChannels struct {
	mu    sync.Mutex
	conns []Channel
}

// NewRegistry creates an empty registry. Construct one per process at
// startup and inject it into the handlers that need it.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*userChannels)}
}

// Register adds a channel for the user. The append happens under the
// outer lock so a concurrent Unregister cannot strand the entry
// between map insert and append.
func (r *Registry) Register(userID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.users[userID]
	if !ok {
		entry = &userChannels{}
		r.users[userID] = entry
	}

	entry.mu.Lock()
	entry.conns = append(entry.conns, ch)
	entry.mu.Unlock()
}

// Unregister removes a channel for the user. It is idempotent:
// duplicate disconnect signals are no-ops. When the last channel goes,
// the user's entry is removed entirely.
func (r *Registry) Unregister(userID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.users[userID]
	if !ok {
		return
	}

	entry.mu.Lock()
	for i, c := range entry.conns {
		if c == ch {
			entry.conns = append(entry.conns[:i], entry.conns[i+1:]...)
			break
		}
	}
	empty := len(entry.conns) == 0
	entry.mu.Unlock()

	if empty {
		delete(r.users, userID)
	}
}

// Push delivers the payload to every channel currently registered for
// the user; it is a no-op when none are. A failing channel is treated
// as a disconnect — it is unregistered and closed — and never stops
// delivery to the user's other channels.
func (r *Registry) Push(userID string, payload []byte) {
	r.mu.RLock()
	entry, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	conns := append([]Channel(nil), entry.conns...)
	entry.mu.Unlock()

	for _, ch := range conns {
		if err := ch.Send(payload); err != nil {
			obs.PushFailed()
			r.Unregister(userID, ch)
			_ = ch.Close()
			continue
		}
		obs.PushDelivered()
	}
}

// Len reports the number of users with at least one open channel.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
