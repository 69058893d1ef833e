package push

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type fakeChannel struct {
	mu       sync.Mutex
	payloads [][]byte
	failAll  bool
	closed   bool
}

func (c *fakeChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return errors.New("peer vanished")
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestRegisterUnregisterLeavesNoEntry(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{}

	r.Register("u-1", ch)
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	r.Unregister("u-1", ch)
	if r.Len() != 0 {
		t.Errorf("len after unregister = %d, want 0", r.Len())
	}

	// Duplicate disconnect signals are no-ops.
	r.Unregister("u-1", ch)
	if r.Len() != 0 {
		t.Errorf("len after double unregister = %d, want 0", r.Len())
	}
}

func TestPushToAllChannels(t *testing.T) {
	r := NewRegistry()
	a := &fakeChannel{}
	b := &fakeChannel{}
	r.Register("u-1", a)
	r.Register("u-1", b)

	r.Push("u-1", []byte("hello"))

	if a.received() != 1 || b.received() != 1 {
		t.Errorf("deliveries = %d,%d; want 1,1", a.received(), b.received())
	}
}

func TestPushToUnknownUserIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Push("nobody", []byte("hello"))
}

func TestPushIsolatesFailingChannel(t *testing.T) {
	r := NewRegistry()
	bad := &fakeChannel{failAll: true}
	good := &fakeChannel{}
	r.Register("u-1", bad)
	r.Register("u-1", good)

	r.Push("u-1", []byte("hello"))

	if good.received() != 1 {
		t.Errorf("healthy channel deliveries = %d, want 1", good.received())
	}
	if !bad.closed {
		t.Error("failing channel should be closed")
	}

	// The failing channel was evicted; only the healthy one remains.
	r.Push("u-1", []byte("again"))
	if good.received() != 2 {
		t.Errorf("healthy channel deliveries = %d, want 2", good.received())
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestLastChannelRemovalDropsUser(t *testing.T) {
	r := NewRegistry()
	a := &fakeChannel{}
	b := &fakeChannel{}
	r.Register("u-1", a)
	r.Register("u-1", b)

	r.Unregister("u-1", a)
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1 while a channel remains", r.Len())
	}
	r.Unregister("u-1", b)
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0 after last channel", r.Len())
	}
}

func TestConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	const users = 8
	const perUser = 16

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("u-%d", u)
		for c := 0; c < perUser; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ch := &fakeChannel{}
				r.Register(userID, ch)
				r.Push(userID, []byte("x"))
				r.Unregister(userID, ch)
				r.Unregister(userID, ch)
			}()
		}
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("len after churn = %d, want 0", r.Len())
	}
}
