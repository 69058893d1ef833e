package push

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"taskhive.org/internal/relay"
	"taskhive.org/internal/todo"
)

func seedTodo(t *testing.T, store *todo.InMemory, memberIDs ...string) todo.Todo {
	t.Helper()
	ctx := context.Background()
	for i, id := range memberIDs {
		if _, err := store.CreateUser(ctx, todo.User{ID: id, Phone: int64(1000 + i), Active: true}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	created, err := store.CreateTodo(ctx, todo.Todo{ID: "t-1", Title: "shared", Status: todo.StatusNew, Active: true}, memberIDs[0])
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}
	if len(memberIDs) > 1 {
		if _, err := store.UpdateTodo(ctx, created.ID, todo.TodoUpdate{}, memberIDs); err != nil {
			t.Fatalf("set members: %v", err)
		}
	}
	return created
}

func TestDispatchSnapshotToMembers(t *testing.T) {
	store := todo.NewInMemory()
	created := seedTodo(t, store, "u-1", "u-2")

	reg := NewRegistry()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	outsider := &fakeChannel{}
	reg.Register("u-1", chA)
	reg.Register("u-2", chB)
	reg.Register("u-3", outsider)

	d := NewDispatcher(store, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Handle(ctx, relay.Event{TodoID: created.ID})

	waitFor(t, func() bool { return chA.received() == 1 && chB.received() == 1 })
	if outsider.received() != 0 {
		t.Errorf("non-member received %d pushes, want 0", outsider.received())
	}

	var snapshot todo.Todo
	if err := json.Unmarshal(chA.payloads[0], &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.ID != created.ID || snapshot.Title != "shared" {
		t.Errorf("snapshot = %+v", snapshot)
	}
}

func TestDispatchTombstone(t *testing.T) {
	store := todo.NewInMemory()
	created := seedTodo(t, store, "u-1", "u-2")
	if err := store.DeactivateTodo(context.Background(), created.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	reg := NewRegistry()
	chA := &fakeChannel{}
	chB := &fakeChannel{}
	reg.Register("u-1", chA)
	reg.Register("u-2", chB)

	d := NewDispatcher(store, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Handle(ctx, relay.Event{TodoID: created.ID, Deleted: true, UserIDs: []string{"u-1", "u-2"}})

	waitFor(t, func() bool { return chA.received() == 1 && chB.received() == 1 })

	var marker struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(chB.payloads[0], &marker); err != nil {
		t.Fatalf("decode marker: %v", err)
	}
	if marker.ID != created.ID {
		t.Errorf("marker id = %q, want %q", marker.ID, created.ID)
	}
}

func TestDispatchIgnoresVanishedTodo(t *testing.T) {
	store := todo.NewInMemory()
	reg := NewRegistry()
	ch := &fakeChannel{}
	reg.Register("u-1", ch)

	d := NewDispatcher(store, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Handle(ctx, relay.Event{TodoID: "gone"})

	time.Sleep(50 * time.Millisecond)
	if ch.received() != 0 {
		t.Errorf("received %d pushes for a vanished todo, want 0", ch.received())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
