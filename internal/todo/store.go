package todo

import (
	"context"
	"time"
)

// Store describes the persistence operations the service requires.
// All reads are scoped to active records unless noted otherwise;
// soft-deleted rows are invisible to them.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	// GetUserByPhone also returns deactivated users: the login-code flow
	// must see them to refuse re-registration.
	GetUserByPhone(ctx context.Context, phone int64) (User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	DeactivateUser(ctx context.Context, id string) error

	// Todos. Mutations return the post-mutation entity with members loaded.
	CreateTodo(ctx context.Context, t Todo, ownerID string) (Todo, error)
	GetTodo(ctx context.Context, id string) (Todo, error)
	ListTodos(ctx context.Context, userID string, page Page) ([]Todo, int, error)
	// UpdateTodo applies field changes and, when memberIDs is non-nil,
	// replaces the membership set in the same transaction.
	UpdateTodo(ctx context.Context, id string, upd TodoUpdate, memberIDs []string) (Todo, error)
	DeactivateTodo(ctx context.Context, id string) error

	// Invites.
	CreateInvite(ctx context.Context, inv Invite) (Invite, error)
	GetInvite(ctx context.Context, id string) (Invite, error)
	FindActiveInvite(ctx context.Context, todoID, userID string) (Invite, error)
	ListInvites(ctx context.Context, userID string, page Page) ([]Invite, int, error)
	// AcceptInvite atomically adds the invited user to the todo's
	// membership and deactivates the invite, both or neither.
	AcceptInvite(ctx context.Context, id string) (Invite, error)
	// DeleteInvite removes the row entirely (decline path).
	DeleteInvite(ctx context.Context, id string) error

	// Login codes, keyed by phone. Setting overwrites any previous code.
	SetLoginCode(ctx context.Context, phone int64, codeHash string, expiresAt time.Time) error
	// GetLoginCode ignores expired codes.
	GetLoginCode(ctx context.Context, phone int64) (string, error)
	DeleteLoginCode(ctx context.Context, phone int64) error
}
