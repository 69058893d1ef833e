package todo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskhive.org/internal/obs"
	"taskhive.org/internal/relay"
)

// CodeSender delivers a one-time login code to a phone number and
// returns the code it sent. The service only consumes the success
// signal; delivery confirmation is the gateway's problem.
type CodeSender interface {
	Send(ctx context.Context, phone int64) (string, error)
}

// Options tune service behavior.
type Options struct {
	// CodeTTL bounds login-code validity.
	CodeTTL time.Duration
	// Debug accepts any login code for a requested phone. Never enable
	// outside local development.
	Debug bool
	// GreetingTodos seeds a few onboarding todos for first-time users.
	GreetingTodos bool
}

// Service orchestrates todo, invite and login mutations: it persists
// the change, derives the affected user set, and announces the change
// through the relay so every process can push to its local channels.
type Service struct {
	store  Store
	relay  relay.Publisher
	sender CodeSender
	opts   Options
	now    func() time.Time
}

// NewService wires the service with its collaborators.
func NewService(store Store, pub relay.Publisher, sender CodeSender, opts Options) *Service {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 5 * time.Minute
	}
	return &Service{
		store:  store,
		relay:  pub,
		sender: sender,
		opts:   opts,
		now:    time.Now,
	}
}

// NormalizePhone strips everything but digits and parses the rest.
func NormalizePhone(raw string) (int64, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, ErrInvalidPhone
	}
	v, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0, ErrInvalidPhone
	}
	return v, nil
}

// RequestLoginCode sends a one-time code to the phone and stores its
// hash for the configured validity window. It returns the matching
// user when the phone is already registered; known is false otherwise.
func (s *Service) RequestLoginCode(ctx context.Context, rawPhone string) (user User, known bool, err error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return User{}, false, err
	}

	user, err = s.store.GetUserByPhone(ctx, phone)
	switch {
	case errors.Is(err, ErrNotFound):
		user = User{Phone: phone}
	case err != nil:
		return User{}, false, fmt.Errorf("lookup user: %w", err)
	default:
		known = true
		if !user.Active {
			return User{}, false, ErrUserDisabled
		}
	}

	code, err := s.sender.Send(ctx, phone)
	if err != nil || code == "" {
		return User{}, false, ErrCodeDelivery
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return User{}, false, fmt.Errorf("hash code: %w", err)
	}
	expires := s.now().Add(s.opts.CodeTTL)
	if err := s.store.SetLoginCode(ctx, phone, string(hash), expires); err != nil {
		return User{}, false, fmt.Errorf("store code: %w", err)
	}
	return user, known, nil
}

// Login verifies the one-time code, consumes it, and returns the
// account, creating it on first login.
func (s *Service) Login(ctx context.Context, rawPhone, code string) (User, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return User{}, err
	}

	storedHash, err := s.store.GetLoginCode(ctx, phone)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCode
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup code: %w", err)
	}
	if !s.opts.Debug {
		if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(code)); err != nil {
			return User{}, ErrInvalidCode
		}
	}
	// The code is single-use regardless of what happens next.
	if err := s.store.DeleteLoginCode(ctx, phone); err != nil {
		return User{}, fmt.Errorf("consume code: %w", err)
	}

	user, err := s.store.GetUserByPhone(ctx, phone)
	if errors.Is(err, ErrNotFound) {
		return s.registerUser(ctx, phone)
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.Active {
		return User{}, ErrUserDisabled
	}
	return user, nil
}

func (s *Service) registerUser(ctx context.Context, phone int64) (User, error) {
	user, err := s.store.CreateUser(ctx, User{ID: uuid.NewString(), Phone: phone, Active: true})
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	if s.opts.GreetingTodos {
		greetings := []Todo{
			{Title: "Register in Taskhive", Status: StatusDone},
			{Title: "Log in to Taskhive", Status: StatusDone},
			{Title: "Learn how to use Taskhive", Status: StatusInProgress},
			{Title: "Make a new todo", Status: StatusNew},
		}
		for _, g := range greetings {
			g.ID = uuid.NewString()
			g.Active = true
			if _, err := s.store.CreateTodo(ctx, g, user.ID); err != nil {
				obs.LogRequest(map[string]any{
					"level": "warn",
					"msg":   "greeting todo creation failed",
					"error": err.Error(),
				})
				break
			}
		}
	}
	return user, nil
}

// GetUser returns an active account by id.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.store.GetUser(ctx, id)
}

// UpdateUser applies self-service profile changes.
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	return s.store.UpdateUser(ctx, id, upd)
}

// DeleteUser soft-deletes the account.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.store.DeactivateUser(ctx, id)
}

// ListTodos returns the caller's active todos.
func (s *Service) ListTodos(ctx context.Context, userID string, page Page) ([]Todo, int, error) {
	return s.store.ListTodos(ctx, userID, page.Normalize())
}

// GetTodo returns the todo when the caller holds membership. An absent
// todo and a todo the caller is not a member of are indistinguishable:
// both return ErrNotFound.
func (s *Service) GetTodo(ctx context.Context, userID, todoID string) (Todo, error) {
	t, err := s.store.GetTodo(ctx, todoID)
	if err != nil {
		return Todo{}, err
	}
	if !t.HasMember(userID) {
		return Todo{}, ErrNotFound
	}
	return t, nil
}

// CreateTodo persists a new todo with the creator as sole member and
// announces the change.
func (s *Service) CreateTodo(ctx context.Context, userID string, in TodoCreate) (Todo, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Todo{}, ErrTitleRequired
	}
	if in.Status == "" {
		in.Status = StatusNew
	}
	if !in.Status.Valid() {
		return Todo{}, ErrInvalidStatus
	}

	t := Todo{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      in.Status,
		Active:      true,
	}
	created, err := s.store.CreateTodo(ctx, t, userID)
	if err != nil {
		return Todo{}, fmt.Errorf("create todo: %w", err)
	}
	s.publish(ctx, relay.Event{TodoID: created.ID})
	return created, nil
}

// UpdateTodo applies field changes and an optional membership
// replacement, then announces the change. Replacements are all or
// nothing: an empty list or a list naming unknown users or users
// outside the current membership leaves the todo untouched.
func (s *Service) UpdateTodo(ctx context.Context, userID, todoID string, in TodoUpdate) (Todo, error) {
	current, err := s.GetTodo(ctx, userID, todoID)
	if err != nil {
		return Todo{}, err
	}

	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return Todo{}, ErrTitleRequired
	}
	if in.Status != nil && !in.Status.Valid() {
		return Todo{}, ErrInvalidStatus
	}

	var memberIDs []string
	if in.UserIDs != nil {
		memberIDs, err = s.validateMembers(ctx, current, *in.UserIDs)
		if err != nil {
			return Todo{}, err
		}
	}

	updated, err := s.store.UpdateTodo(ctx, todoID, in, memberIDs)
	if err != nil {
		return Todo{}, fmt.Errorf("update todo: %w", err)
	}
	s.publish(ctx, relay.Event{TodoID: updated.ID})
	return updated, nil
}

func (s *Service) validateMembers(ctx context.Context, current Todo, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyMembers
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	users, err := s.store.GetUsersByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("resolve members: %w", err)
	}
	if len(users) != len(unique) {
		return nil, ErrUnknownMember
	}
	// Membership grows only through invite acceptance; a replacement may
	// keep or shrink the set but never smuggle new users in.
	for _, u := range users {
		if !current.HasMember(u.ID) {
			return nil, ErrUnknownMember
		}
	}
	return unique, nil
}

// DeleteTodo soft-deletes the todo and announces a tombstone carrying
// the pre-deletion member list, since the members can no longer be
// derived once the todo is hidden from reads.
func (s *Service) DeleteTodo(ctx context.Context, userID, todoID string) error {
	t, err := s.GetTodo(ctx, userID, todoID)
	if err != nil {
		return err
	}
	members := t.MemberIDs()
	if err := s.store.DeactivateTodo(ctx, todoID); err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	s.publish(ctx, relay.Event{TodoID: todoID, Deleted: true, UserIDs: members})
	return nil
}

// ListInvites returns the caller's pending invites.
func (s *Service) ListInvites(ctx context.Context, userID string, page Page) ([]Invite, int, error) {
	return s.store.ListInvites(ctx, userID, page.Normalize())
}

// CreateInvite offers todo membership to the user behind the phone
// number. The actor must already be a member; violations that would
// reveal whether a todo or account exists return ErrNotFound, while
// genuine conflicts (already a member, duplicate active invite) are
// surfaced explicitly.
func (s *Service) CreateInvite(ctx context.Context, actorID, todoID, rawPhone string) (Invite, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return Invite{}, err
	}

	t, err := s.GetTodo(ctx, actorID, todoID)
	if err != nil {
		return Invite{}, err
	}

	target, err := s.store.GetUserByPhone(ctx, phone)
	if errors.Is(err, ErrNotFound) || (err == nil && !target.Active) {
		return Invite{}, ErrNotFound
	}
	if err != nil {
		return Invite{}, fmt.Errorf("lookup user: %w", err)
	}
	if t.HasMember(target.ID) {
		return Invite{}, ErrAlreadyMember
	}

	if _, err := s.store.FindActiveInvite(ctx, todoID, target.ID); err == nil {
		return Invite{}, ErrDuplicateInvite
	} else if !errors.Is(err, ErrNotFound) {
		return Invite{}, fmt.Errorf("lookup invite: %w", err)
	}

	inv := Invite{
		ID:      uuid.NewString(),
		UserID:  target.ID,
		OwnerID: actorID,
		TodoID:  todoID,
		Active:  true,
	}
	created, err := s.store.CreateInvite(ctx, inv)
	if err != nil {
		return Invite{}, fmt.Errorf("create invite: %w", err)
	}
	return created, nil
}

// AcceptInvite adds the invited user to the todo's membership and
// deactivates the invite atomically, then announces the change so
// every member, including the new one, receives a fresh view.
func (s *Service) AcceptInvite(ctx context.Context, userID, inviteID string) error {
	inv, err := s.userInvite(ctx, userID, inviteID)
	if err != nil {
		return err
	}
	if _, err := s.store.AcceptInvite(ctx, inv.ID); err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}
	s.publish(ctx, relay.Event{TodoID: inv.TodoID})
	return nil
}

// DeclineInvite removes the invite record without touching membership.
// Unlike accept, decline deletes the row rather than deactivating it.
func (s *Service) DeclineInvite(ctx context.Context, userID, inviteID string) error {
	inv, err := s.userInvite(ctx, userID, inviteID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInvite(ctx, inv.ID); err != nil {
		return fmt.Errorf("decline invite: %w", err)
	}
	return nil
}

func (s *Service) userInvite(ctx context.Context, userID, inviteID string) (Invite, error) {
	inv, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		return Invite{}, err
	}
	if inv.UserID != userID {
		return Invite{}, ErrNotFound
	}
	return inv, nil
}

// publish announces a committed mutation. A relay failure never rolls
// the mutation back; propagation degrades to the next client refetch.
func (s *Service) publish(ctx context.Context, evt relay.Event) {
	if s.relay == nil {
		return
	}
	if err := s.relay.Publish(ctx, evt); err != nil {
		obs.LogRequest(map[string]any{
			"level":   "error",
			"msg":     "change event publish failed",
			"todo_id": evt.TodoID,
			"error":   err.Error(),
		})
	}
}
