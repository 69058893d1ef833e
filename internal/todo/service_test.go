package todo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskhive.org/internal/relay"
)

type captureRelay struct {
	mu     sync.Mutex
	events []relay.Event
}

func (c *captureRelay) Publish(_ context.Context, evt relay.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captureRelay) all() []relay.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]relay.Event(nil), c.events...)
}

type fixedSender struct{ code string }

func (f fixedSender) Send(context.Context, int64) (string, error) { return f.code, nil }

func newTestService(t *testing.T) (*Service, *InMemory, *captureRelay) {
	t.Helper()
	store := NewInMemory()
	rel := &captureRelay{}
	svc := NewService(store, rel, fixedSender{code: "1234"}, Options{CodeTTL: 5 * time.Minute})
	return svc, store, rel
}

func login(t *testing.T, svc *Service, phone string) User {
	t.Helper()
	ctx := context.Background()
	if _, _, err := svc.RequestLoginCode(ctx, phone); err != nil {
		t.Fatalf("request code: %v", err)
	}
	user, err := svc.Login(ctx, phone, "1234")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return user
}

func TestLoginCreatesUser(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	user, known, err := svc.RequestLoginCode(ctx, "+1 (555) 010-0001")
	if err != nil {
		t.Fatalf("request code: %v", err)
	}
	if known {
		t.Error("phone should be unknown before first login")
	}
	if user.Phone != 15550100001 {
		t.Errorf("phone = %d, want 15550100001", user.Phone)
	}

	created, err := svc.Login(ctx, "15550100001", "1234")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if created.ID == "" || !created.Active {
		t.Errorf("unexpected user: %+v", created)
	}

	// The code is single use.
	if _, err := svc.Login(ctx, "15550100001", "1234"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("second login with same code: got %v, want ErrInvalidCode", err)
	}

	// Existing account is reused on subsequent logins.
	again := login(t, svc, "15550100001")
	if again.ID != created.ID {
		t.Errorf("second login created a new account")
	}

	if _, err := store.GetUserByPhone(ctx, 15550100001); err != nil {
		t.Errorf("user not persisted: %v", err)
	}
}

func TestLoginRejectsWrongCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.RequestLoginCode(ctx, "15550100002"); err != nil {
		t.Fatalf("request code: %v", err)
	}
	if _, err := svc.Login(ctx, "15550100002", "9999"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("wrong code: got %v, want ErrInvalidCode", err)
	}
}

func TestLoginRejectsExpiredCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.RequestLoginCode(ctx, "15550100003"); err != nil {
		t.Fatalf("request code: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	store := svc.store.(*InMemory)
	store.now = svc.now

	if _, err := svc.Login(ctx, "15550100003", "1234"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("expired code: got %v, want ErrInvalidCode", err)
	}
}

func TestRequestCodeRejectsDisabledUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user := login(t, svc, "15550100004")
	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, _, err := svc.RequestLoginCode(ctx, "15550100004"); !errors.Is(err, ErrUserDisabled) {
		t.Errorf("disabled user: got %v, want ErrUserDisabled", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"+7 (900) 123-45-67", 79001234567, true},
		{"15550100001", 15550100001, true},
		{"no digits", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("NormalizePhone(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("NormalizePhone(%q): got %v, want ErrInvalidPhone", tc.in, err)
		}
	}
}

func TestCreateTodoSeedsMembershipAndPublishes(t *testing.T) {
	svc, _, rel := newTestService(t)
	ctx := context.Background()
	user := login(t, svc, "15550100010")

	created, err := svc.CreateTodo(ctx, user.ID, TodoCreate{Title: "write report"})
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}
	if len(created.Users) != 1 || created.Users[0].ID != user.ID {
		t.Errorf("creator should be sole member, got %+v", created.Users)
	}
	if created.Status != StatusNew {
		t.Errorf("status = %q, want new", created.Status)
	}

	events := rel.all()
	if len(events) != 1 || events[0].TodoID != created.ID {
		t.Errorf("expected exactly one change event for %s, got %+v", created.ID, events)
	}
}

func TestGetTodoHidesNonMembership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "15550100011")
	bob := login(t, svc, "15550100012")

	created, err := svc.CreateTodo(ctx, alice.ID, TodoCreate{Title: "private"})
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}

	// A non-member and an absent id fail identically.
	if _, err := svc.GetTodo(ctx, bob.ID, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-member read: got %v, want ErrNotFound", err)
	}
	if _, err := svc.GetTodo(ctx, alice.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing todo: got %v, want ErrNotFound", err)
	}
}

func TestInviteLifecycle(t *testing.T) {
	svc, _, rel := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "15550100020")
	bob := login(t, svc, "15550100021")

	created, err := svc.CreateTodo(ctx, alice.ID, TodoCreate{Title: "shared"})
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}

	inv, err := svc.CreateInvite(ctx, alice.ID, created.ID, "15550100021")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if inv.Todo == nil || inv.Todo.ID != created.ID {
		t.Errorf("invite should carry a todo summary, got %+v", inv.Todo)
	}

	// A second active invite for the same pair is a conflict.
	if _, err := svc.CreateInvite(ctx, alice.ID, created.ID, "15550100021"); !errors.Is(err, ErrDuplicateInvite) {
		t.Errorf("duplicate invite: got %v, want ErrDuplicateInvite", err)
	}

	// Only the invited user may accept.
	if err := svc.AcceptInvite(ctx, alice.ID, inv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign accept: got %v, want ErrNotFound", err)
	}

	before := len(rel.all())
	if err := svc.AcceptInvite(ctx, bob.ID, inv.ID); err != nil {
		t.Fatalf("accept invite: %v", err)
	}

	got, err := svc.GetTodo(ctx, bob.ID, created.ID)
	if err != nil {
		t.Fatalf("member read after accept: %v", err)
	}
	if len(got.Users) != 2 {
		t.Errorf("membership = %d users, want 2", len(got.Users))
	}

	events := rel.all()
	if len(events) != before+1 || events[len(events)-1].TodoID != created.ID {
		t.Errorf("accept should publish one change event, got %+v", events)
	}

	// The invite is deactivated, not deleted: listing hides it, but a
	// fresh invite for the same pair is allowed again only because the
	// user is now a member (and that is rejected as such).
	invites, total, err := svc.ListInvites(ctx, bob.ID, Page{})
	if err != nil || total != 0 || len(invites) != 0 {
		t.Errorf("invites after accept = %v (total %d), want none", invites, total)
	}
	if _, err := svc.CreateInvite(ctx, alice.ID, created.ID, "15550100021"); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("inviting a member: got %v, want ErrAlreadyMember", err)
	}
}

func TestDeclineInviteRemovesRecord(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "15550100030")
	bob := login(t, svc, "15550100031")

	created, err := svc.CreateTodo(ctx, alice.ID, TodoCreate{Title: "shared"})
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}
	inv, err := svc.CreateInvite(ctx, alice.ID, created.ID, "15550100031")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	if err := svc.DeclineInvite(ctx, bob.ID, inv.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}

	// Decline hard-deletes: the row is gone entirely.
	store.mu.RLock()
	_, exists := store.invites[inv.ID]
	store.mu.RUnlock()
	if exists {
		t.Error("declined invite should be removed, not deactivated")
	}

	// Membership is untouched.
	if _, err := svc.GetTodo(ctx, bob.ID, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("declining must not grant membership, got %v", err)
	}

	// A new invite for the same pair is allowed after decline.
	if _, err := svc.CreateInvite(ctx, alice.ID, created.ID, "15550100031"); err != nil {
		t.Errorf("re-invite after decline: %v", err)
	}
}

func TestCreateInviteGuards(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "15550100040")
	bob := login(t, svc, "15550100041")

	created, err := svc.CreateTodo(ctx, alice.ID, TodoCreate{Title: "guarded"})
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}

	// Non-members cannot invite.
	if _, err := svc.CreateInvite(ctx, bob.ID, created.ID, "15550100040"); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-member invite: got %v, want ErrNotFound", err)
	}
	// Unknown target phone.
	if _, err := svc.CreateInvite(ctx, alice.ID, created.ID, "15550109999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown target: got %v, want ErrNotFound", err)
	}
}

func TestUpdateTodoMembershipRules(t *testing.T) {
	svc, _, rel := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "15550100050")
	bob := login(t, svc, "15550100051")

	created, err := svc.CreateTodo(ctx, alice.ID, TodoCreate{Title: "team"})
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}
	inv, err := svc.CreateInvite(ctx, alice.ID, created.ID, "15550100051")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := svc.AcceptInvite(ctx, bob.ID, inv.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Empty replacement is rejected and leaves membership unchanged.
	empty := []string{}
	if _, err := svc.UpdateTodo(ctx, alice.ID, created.ID, TodoUpdate{UserIDs: &empty}); !errors.Is(err, ErrEmptyMembers) {
		t.Errorf("empty members: got %v, want ErrEmptyMembers", err)
	}

	// Unknown ids are rejected atomically.
	unknown := []string{alice.ID, "no-such-user"}
	if _, err := svc.UpdateTodo(ctx, alice.ID, created.ID, TodoUpdate{UserIDs: &unknown}); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("unknown member: got %v, want ErrUnknownMember", err)
	}

	got, err := svc.GetTodo(ctx, alice.ID, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Users) != 2 {
		t.Errorf("failed updates must not alter membership, got %d users", len(got.Users))
	}

	// Shrinking to a subset of current members is allowed.
	before := len(rel.all())
	subset := []string{alice.ID}
	updated, err := svc.UpdateTodo(ctx, alice.ID, created.ID, TodoUpdate{UserIDs: &subset})
	if err != nil {
		t.Fatalf("shrink membership: %v", err)
	}
	if len(updated.Users) != 1 || updated.Users[0].ID != alice.ID {
		t.Errorf("membership after shrink = %+v", updated.Users)
	}
	if len(rel.all()) != before+1 {
		t.Error("membership update should publish one change event")
	}

	// Users outside the current membership cannot be smuggled in via
	// update; only invite acceptance grows the set.
	smuggle := []string{alice.ID, bob.ID}
	if _, err := svc.UpdateTodo(ctx, alice.ID, created.ID, TodoUpdate{UserIDs: &smuggle}); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("smuggled member: got %v, want ErrUnknownMember", err)
	}
}

func TestUpdateTodoFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "15550100060")

	created, err := svc.CreateTodo(ctx, alice.ID, TodoCreate{Title: "draft"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	title := "final"
	status := StatusDone
	updated, err := svc.UpdateTodo(ctx, alice.ID, created.ID, TodoUpdate{Title: &title, Status: &status})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "final" || updated.Status != StatusDone {
		t.Errorf("update not applied: %+v", updated)
	}

	bad := Status("bogus")
	if _, err := svc.UpdateTodo(ctx, alice.ID, created.ID, TodoUpdate{Status: &bad}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status: got %v, want ErrInvalidStatus", err)
	}
	emptyTitle := "  "
	if _, err := svc.UpdateTodo(ctx, alice.ID, created.ID, TodoUpdate{Title: &emptyTitle}); !errors.Is(err, ErrTitleRequired) {
		t.Errorf("empty title: got %v, want ErrTitleRequired", err)
	}
}

func TestDeleteTodoPublishesTombstone(t *testing.T) {
	svc, _, rel := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "15550100070")
	bob := login(t, svc, "15550100071")

	created, err := svc.CreateTodo(ctx, alice.ID, TodoCreate{Title: "doomed"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	inv, err := svc.CreateInvite(ctx, alice.ID, created.ID, "15550100071")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := svc.AcceptInvite(ctx, bob.ID, inv.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := svc.DeleteTodo(ctx, alice.ID, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	events := rel.all()
	last := events[len(events)-1]
	if !last.Deleted || last.TodoID != created.ID {
		t.Errorf("last event = %+v, want tombstone for %s", last, created.ID)
	}
	if len(last.UserIDs) != 2 {
		t.Errorf("tombstone should carry the pre-deletion members, got %v", last.UserIDs)
	}

	// The todo is hidden from reads afterwards.
	if _, err := svc.GetTodo(ctx, alice.ID, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted todo read: got %v, want ErrNotFound", err)
	}
}

func TestListTodosPagination(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice := login(t, svc, "15550100080")

	for i := 0; i < 5; i++ {
		if _, err := svc.CreateTodo(ctx, alice.ID, TodoCreate{Title: "item"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	items, total, err := svc.ListTodos(ctx, alice.ID, Page{Skip: 2, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(items) != 2 {
		t.Errorf("page size = %d, want 2", len(items))
	}
}
