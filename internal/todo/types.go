package todo

import (
	"errors"
	"time"
)

// Status enumerates todo workflow states.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Valid reports whether s is a known workflow state.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// User is an account identified by phone number.
type User struct {
	ID         string    `json:"id"`
	Phone      int64     `json:"phone"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Active     bool      `json:"-"`
	CreatedAt  time.Time `json:"-"`
	ModifiedAt time.Time `json:"-"`
}

// PublicUser is the pre-login rendering returned from the code request.
// It must not expose the account identifier.
type PublicUser struct {
	Phone int64  `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// Public returns the reduced rendering of the user.
func (u User) Public() PublicUser {
	return PublicUser{Phone: u.Phone, Name: u.Name}
}

// Todo is a shared task. Users is the membership set: the accounts
// allowed to see and mutate it.
type Todo struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Users       []User    `json:"users"`
	Active      bool      `json:"-"`
	CreatedAt   time.Time `json:"-"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// MemberIDs returns the identifiers of the current membership set.
func (t Todo) MemberIDs() []string {
	out := make([]string, 0, len(t.Users))
	for _, u := range t.Users {
		out = append(out, u.ID)
	}
	return out
}

// HasMember reports whether userID belongs to the membership set.
func (t Todo) HasMember(userID string) bool {
	for _, u := range t.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// TodoSummary is the short rendering embedded in invite listings.
type TodoSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status Status `json:"status"`
}

// Summary returns the short rendering of the todo.
func (t Todo) Summary() TodoSummary {
	return TodoSummary{ID: t.ID, Title: t.Title, Status: t.Status}
}

// Invite is a pending offer to join a todo's membership set.
// Accepting deactivates it (the row is kept for audit); declining
// removes the row entirely.
type Invite struct {
	ID         string       `json:"id"`
	UserID     string       `json:"-"`
	OwnerID    string       `json:"-"`
	TodoID     string       `json:"-"`
	Todo       *TodoSummary `json:"todo,omitempty"`
	Active     bool         `json:"-"`
	CreatedAt  time.Time    `json:"-"`
	ModifiedAt time.Time    `json:"-"`
}

// TodoCreate carries fields for creating a todo.
type TodoCreate struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

// TodoUpdate carries fields for updating a todo. Nil pointers mean
// "leave unchanged"; a non-nil UserIDs replaces the membership set.
type TodoUpdate struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Status      *Status   `json:"status"`
	UserIDs     *[]string `json:"user_ids"`
}

// UserUpdate carries the self-service profile fields.
type UserUpdate struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// Page bounds list queries.
type Page struct {
	Skip  int
	Limit int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	return p
}

var (
	// ErrNotFound covers both an absent resource and a caller without
	// membership; the two are deliberately indistinguishable so callers
	// cannot probe for existence.
	ErrNotFound = errors.New("not found")

	// ErrEmptyMembers rejects a membership replacement that would leave
	// the todo with no members.
	ErrEmptyMembers = errors.New("todo must keep at least one member")

	// ErrUnknownMember rejects a membership replacement naming unknown
	// users or users who are neither current members nor being added
	// through validated identifiers.
	ErrUnknownMember = errors.New("one or more user ids are invalid")

	// ErrDuplicateInvite signals an active invite already exists for the
	// same todo and user.
	ErrDuplicateInvite = errors.New("an active invite already exists")

	// ErrAlreadyMember rejects inviting a user who already holds membership.
	ErrAlreadyMember = errors.New("user is already a member")

	// ErrUserDisabled rejects login-code requests for deactivated accounts.
	ErrUserDisabled = errors.New("user not found")

	// ErrInvalidPhone rejects phone values with no digits.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrInvalidCode rejects a login attempt with a wrong, expired or
	// never-requested verification code.
	ErrInvalidCode = errors.New("incorrect phone or code")

	// ErrInvalidStatus rejects unknown workflow states.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrTitleRequired rejects todos without a title.
	ErrTitleRequired = errors.New("title is required")

	// ErrCodeDelivery signals the verification code could not be sent.
	ErrCodeDelivery = errors.New("can not send code")
)
