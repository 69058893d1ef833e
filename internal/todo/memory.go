package todo

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It
// backs tests and single-node experiments; production deployments use
// the Postgres store.
type InMemory struct {
	mu      sync.RWMutex
	users   map[string]*User
	todos   map[string]*Todo
	members map[string][]string // todoID -> userIDs, in join order
	invites map[string]*Invite
	codes   map[int64]loginCode
	now     func() time.Time
}

type loginCode struct {
	hash      string
	expiresAt time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[string]*User),
		todos:   make(map[string]*Todo),
		members: make(map[string][]string),
		invites: make(map[string]*Invite),
		codes:   make(map[int64]loginCode),
		now:     time.Now,
	}
}

var _ Store = (*InMemory)(nil)

// --- users ---

func (s *InMemory) CreateUser(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	u.CreatedAt = now
	u.ModifiedAt = now
	s.users[u.ID] = &u
	return u, nil
}

func (s *InMemory) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || !u.Active {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *InMemory) GetUserByPhone(ctx context.Context, phone int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Phone == phone {
			return *u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *InMemory) GetUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, id := range ids {
		if u, ok := s.users[id]; ok && u.Active {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *InMemory) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || !u.Active {
		return User{}, ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	u.ModifiedAt = s.now().UTC()
	return *u, nil
}

func (s *InMemory) DeactivateUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || !u.Active {
		return ErrNotFound
	}
	u.Active = false
	u.ModifiedAt = s.now().UTC()
	return nil
}

// --- todos ---

func (s *InMemory) CreateTodo(ctx context.Context, t Todo, ownerID string) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	t.CreatedAt = now
	t.ModifiedAt = now
	t.Active = true
	s.todos[t.ID] = &t
	s.members[t.ID] = []string{ownerID}
	return s.renderTodo(t.ID)
}

func (s *InMemory) GetTodo(ctx context.Context, id string) (Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.todos[id]
	if !ok || !t.Active {
		return Todo{}, ErrNotFound
	}
	return s.renderTodo(t.ID)
}

func (s *InMemory) ListTodos(ctx context.Context, userID string, page Page) ([]Todo, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, t := range s.todos {
		if !t.Active {
			continue
		}
		for _, m := range s.members[id] {
			if m == userID {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.todos[ids[i]].CreatedAt.Before(s.todos[ids[j]].CreatedAt)
	})

	total := len(ids)
	page = page.Normalize()
	if page.Skip >= len(ids) {
		return nil, total, nil
	}
	ids = ids[page.Skip:]
	if len(ids) > page.Limit {
		ids = ids[:page.Limit]
	}

	out := make([]Todo, 0, len(ids))
	for _, id := range ids {
		t, err := s.renderTodo(id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, nil
}

func (s *InMemory) UpdateTodo(ctx context.Context, id string, upd TodoUpdate, memberIDs []string) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[id]
	if !ok || !t.Active {
		return Todo{}, ErrNotFound
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if memberIDs != nil {
		s.members[id] = append([]string(nil), memberIDs...)
	}
	t.ModifiedAt = s.now().UTC()
	return s.renderTodo(id)
}

func (s *InMemory) DeactivateTodo(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[id]
	if !ok || !t.Active {
		return ErrNotFound
	}
	t.Active = false
	t.ModifiedAt = s.now().UTC()
	return nil
}

// renderTodo returns a copy with its active members resolved.
// Callers must hold at least the read lock.
func (s *InMemory) renderTodo(id string) (Todo, error) {
	t, ok := s.todos[id]
	if !ok {
		return Todo{}, ErrNotFound
	}
	out := *t
	out.Users = nil
	for _, m := range s.members[id] {
		if u, ok := s.users[m]; ok && u.Active {
			out.Users = append(out.Users, *u)
		}
	}
	return out, nil
}

// --- invites ---

func (s *InMemory) CreateInvite(ctx context.Context, inv Invite) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	inv.CreatedAt = now
	inv.ModifiedAt = now
	s.invites[inv.ID] = &inv
	return s.renderInvite(inv.ID)
}

func (s *InMemory) GetInvite(ctx context.Context, id string) (Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invites[id]
	if !ok || !inv.Active {
		return Invite{}, ErrNotFound
	}
	return s.renderInvite(id)
}

func (s *InMemory) FindActiveInvite(ctx context.Context, todoID, userID string) (Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invites {
		if inv.Active && inv.TodoID == todoID && inv.UserID == userID {
			return s.renderInvite(inv.ID)
		}
	}
	return Invite{}, ErrNotFound
}

func (s *InMemory) ListInvites(ctx context.Context, userID string, page Page) ([]Invite, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, inv := range s.invites {
		if inv.Active && inv.UserID == userID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.invites[ids[i]].CreatedAt.Before(s.invites[ids[j]].CreatedAt)
	})

	total := len(ids)
	page = page.Normalize()
	if page.Skip >= len(ids) {
		return nil, total, nil
	}
	ids = ids[page.Skip:]
	if len(ids) > page.Limit {
		ids = ids[:page.Limit]
	}

	out := make([]Invite, 0, len(ids))
	for _, id := range ids {
		inv, err := s.renderInvite(id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, nil
}

func (s *InMemory) AcceptInvite(ctx context.Context, id string) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok || !inv.Active {
		return Invite{}, ErrNotFound
	}
	already := false
	for _, m := range s.members[inv.TodoID] {
		if m == inv.UserID {
			already = true
			break
		}
	}
	if !already {
		s.members[inv.TodoID] = append(s.members[inv.TodoID], inv.UserID)
	}
	inv.Active = false
	inv.ModifiedAt = s.now().UTC()
	return *inv, nil
}

func (s *InMemory) DeleteInvite(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[id]; !ok {
		return ErrNotFound
	}
	delete(s.invites, id)
	return nil
}

// renderInvite returns a copy with the todo summary attached.
// Callers must hold at least the read lock.
func (s *InMemory) renderInvite(id string) (Invite, error) {
	inv, ok := s.invites[id]
	if !ok {
		return Invite{}, ErrNotFound
	}
	out := *inv
	if t, ok := s.todos[inv.TodoID]; ok {
		summary := t.Summary()
		out.Todo = &summary
	}
	return out, nil
}

// --- login codes ---

func (s *InMemory) SetLoginCode(ctx context.Context, phone int64, codeHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[phone] = loginCode{hash: codeHash, expiresAt: expiresAt}
	return nil
}

func (s *InMemory) GetLoginCode(ctx context.Context, phone int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[phone]
	if !ok || s.now().After(c.expiresAt) {
		return "", ErrNotFound
	}
	return c.hash, nil
}

func (s *InMemory) DeleteLoginCode(ctx context.Context, phone int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, phone)
	return nil
}
