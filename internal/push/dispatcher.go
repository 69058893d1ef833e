package push

import (
	"context"
	"encoding/json"
	"errors"

	"taskhive.org/internal/obs"
	"taskhive.org/internal/relay"
	"taskhive.org/internal/todo"
)

// TodoReader is the slice of the store the dispatcher needs to render
// snapshots for received events.
type TodoReader interface {
	GetTodo(ctx context.Context, id string) (todo.Todo, error)
}

// Dispatcher consumes relay events and fans the rendered payloads out
// to the registry. Receipt and dispatch are decoupled through an
// internal queue: a slow push to one user's channels cannot stall the
// relay subscription loop for everyone else.
type Dispatcher struct {
	store TodoReader
	reg   *Registry
	queue chan relay.Event
}

// NewDispatcher wires a dispatcher to the store and registry.
func NewDispatcher(store TodoReader, reg *Registry) *Dispatcher {
	return &Dispatcher{
		store: store,
		reg:   reg,
		queue: make(chan relay.Event, 256),
	}
}

// Handle is the relay handler: it enqueues the event for dispatch.
// When the queue is full the event is dropped; affected clients catch
// up on their next refetch.
func (d *Dispatcher) Handle(_ context.Context, evt relay.Event) {
	select {
	case d.queue <- evt:
	default:
		obs.LogRequest(map[string]any{
			"level":   "warn",
			"msg":     "dispatch queue full, event dropped",
			"todo_id": evt.TodoID,
		})
	}
}

// Run drains the queue until ctx ends. Start exactly one per process.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-d.queue:
			d.dispatch(ctx, evt)
		}
	}
}

// deleteMarker is the tombstone payload sent when a todo is removed.
type deleteMarker struct {
	ID string `json:"id"`
}

func (d *Dispatcher) dispatch(ctx context.Context, evt relay.Event) {
	if evt.Deleted {
		payload, err := json.Marshal(deleteMarker{ID: evt.TodoID})
		if err != nil {
			return
		}
		for _, userID := range evt.UserIDs {
			d.reg.Push(userID, payload)
		}
		return
	}

	t, err := d.store.GetTodo(ctx, evt.TodoID)
	if errors.Is(err, todo.ErrNotFound) {
		// Deleted between publish and dispatch; the tombstone event
		// covers its members.
		return
	}
	if err != nil {
		obs.LogRequest(map[string]any{
			"level":   "error",
			"msg":     "dispatch snapshot load failed",
			"todo_id": evt.TodoID,
			"error":   err.Error(),
		})
		return
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	for _, u := range t.Users {
		d.reg.Push(u.ID, payload)
	}
}
