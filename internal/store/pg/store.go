package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"taskhive.org/internal/todo"
)

// Store implements todo.Store on PostgreSQL. Every read is scoped to
// active rows; soft-deleted records are invisible to it.
type Store struct {
	db *sql.DB
}

var _ todo.Store = (*Store)(nil)

// Open connects to Postgres with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool; used by tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the pool for readiness probes and the relay publisher.
func (s *Store) DB() *sql.DB { return s.db }

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u todo.User) (todo.User, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into users(id, phone, email, name, is_active)
		values ($1, $2, nullif($3,''), nullif($4,''), $5)
		returning created_at, modified_at
	`, u.ID, u.Phone, u.Email, u.Name, u.Active).Scan(&u.CreatedAt, &u.ModifiedAt)
	if err != nil {
		return todo.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (todo.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, phone, coalesce(email,''), coalesce(name,''), is_active, created_at, modified_at
		from users where id=$1 and is_active
	`, id)
	return scanUser(row)
}

func (s *Store) GetUserByPhone(ctx context.Context, phone int64) (todo.User, error) {
	// Deliberately unscoped by is_active: the login-code flow must see
	// disabled accounts to refuse them.
	row := s.db.QueryRowContext(ctx, `
		select id, phone, coalesce(email,''), coalesce(name,''), is_active, created_at, modified_at
		from users where phone=$1
		order by created_at limit 1
	`, phone)
	return scanUser(row)
}

func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) ([]todo.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, phone, coalesce(email,''), coalesce(name,''), is_active, created_at, modified_at
		from users where is_active and id in (%s)
		order by created_at
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []todo.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd todo.UserUpdate) (todo.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users set
			name = coalesce($2, name),
			email = coalesce($3, email),
			modified_at = now()
		where id=$1 and is_active
		returning id, phone, coalesce(email,''), coalesce(name,''), is_active, created_at, modified_at
	`, id, upd.Name, upd.Email)
	return scanUser(row)
}

func (s *Store) DeactivateUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set is_active=false, modified_at=now() where id=$1 and is_active
	`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (todo.User, error) {
	var u todo.User
	err := row.Scan(&u.ID, &u.Phone, &u.Email, &u.Name, &u.Active, &u.CreatedAt, &u.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.User{}, todo.ErrNotFound
	}
	if err != nil {
		return todo.User{}, err
	}
	return u, nil
}

// --- todos ---

func (s *Store) CreateTodo(ctx context.Context, t todo.Todo, ownerID string) (todo.Todo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return todo.Todo{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into todos(id, title, description, status, is_active)
		values ($1, $2, nullif($3,''), $4, true)
	`, t.ID, t.Title, t.Description, t.Status); err != nil {
		return todo.Todo{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into todo_users(todo_id, user_id) values ($1, $2)
	`, t.ID, ownerID); err != nil {
		return todo.Todo{}, err
	}
	if err := tx.Commit(); err != nil {
		return todo.Todo{}, err
	}
	return s.GetTodo(ctx, t.ID)
}

func (s *Store) GetTodo(ctx context.Context, id string) (todo.Todo, error) {
	var t todo.Todo
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, title, description, status, is_active, created_at, modified_at
		from todos where id=$1 and is_active
	`, id).Scan(&t.ID, &t.Title, &desc, &t.Status, &t.Active, &t.CreatedAt, &t.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Todo{}, todo.ErrNotFound
	}
	if err != nil {
		return todo.Todo{}, err
	}
	t.Description = desc.String

	t.Users, err = s.loadMembers(ctx, id)
	if err != nil {
		return todo.Todo{}, err
	}
	return t, nil
}

func (s *Store) loadMembers(ctx context.Context, todoID string) ([]todo.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select u.id, u.phone, coalesce(u.email,''), coalesce(u.name,''), u.is_active, u.created_at, u.modified_at
		from users u
		join todo_users tu on tu.user_id = u.id
		where tu.todo_id=$1 and u.is_active
		order by u.created_at
	`, todoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []todo.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ListTodos(ctx context.Context, userID string, page todo.Page) ([]todo.Todo, int, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		select t.id, t.title, t.description, t.status, t.is_active, t.created_at, t.modified_at,
		       count(*) over() as total
		from todos t
		join todo_users tu on tu.todo_id = t.id
		where tu.user_id=$1 and t.is_active
		order by t.created_at
		offset $2 limit $3
	`, userID, page.Skip, page.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []todo.Todo
	var total int
	for rows.Next() {
		var t todo.Todo
		var desc sql.NullString
		if err := rows.Scan(&t.ID, &t.Title, &desc, &t.Status, &t.Active, &t.CreatedAt, &t.ModifiedAt, &total); err != nil {
			return nil, 0, err
		}
		t.Description = desc.String
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Users, err = s.loadMembers(ctx, out[i].ID)
		if err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (s *Store) UpdateTodo(ctx context.Context, id string, upd todo.TodoUpdate, memberIDs []string) (todo.Todo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return todo.Todo{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update todos set
			title = coalesce($2, title),
			description = coalesce($3, description),
			status = coalesce($4, status),
			modified_at = now()
		where id=$1 and is_active
	`, id, upd.Title, upd.Description, statusArg(upd.Status))
	if err != nil {
		return todo.Todo{}, err
	}
	if err := requireRow(res); err != nil {
		return todo.Todo{}, err
	}

	if memberIDs != nil {
		if _, err := tx.ExecContext(ctx, `delete from todo_users where todo_id=$1`, id); err != nil {
			return todo.Todo{}, err
		}
		for _, userID := range memberIDs {
			if _, err := tx.ExecContext(ctx, `
				insert into todo_users(todo_id, user_id) values ($1, $2)
			`, id, userID); err != nil {
				return todo.Todo{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return todo.Todo{}, err
	}
	return s.GetTodo(ctx, id)
}

func statusArg(s *todo.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func (s *Store) DeactivateTodo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update todos set is_active=false, modified_at=now() where id=$1 and is_active
	`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- invites ---

func (s *Store) CreateInvite(ctx context.Context, inv todo.Invite) (todo.Invite, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into invites(id, user_id, owner_id, todo_id, is_active)
		values ($1, $2, nullif($3,'')::uuid, $4, true)
		returning created_at, modified_at
	`, inv.ID, inv.UserID, inv.OwnerID, inv.TodoID).Scan(&inv.CreatedAt, &inv.ModifiedAt)
	if err != nil {
		return todo.Invite{}, err
	}
	inv.Active = true

	var summary todo.TodoSummary
	err = s.db.QueryRowContext(ctx, `
		select id, title, status from todos where id=$1
	`, inv.TodoID).Scan(&summary.ID, &summary.Title, &summary.Status)
	if err == nil {
		inv.Todo = &summary
	}
	return inv, nil
}

func (s *Store) GetInvite(ctx context.Context, id string) (todo.Invite, error) {
	row := s.db.QueryRowContext(ctx, `
		select i.id, i.user_id, coalesce(i.owner_id::text,''), i.todo_id, i.is_active, i.created_at, i.modified_at,
		       t.id, t.title, t.status
		from invites i
		join todos t on t.id = i.todo_id
		where i.id=$1 and i.is_active
	`, id)
	return scanInvite(row)
}

func (s *Store) FindActiveInvite(ctx context.Context, todoID, userID string) (todo.Invite, error) {
	row := s.db.QueryRowContext(ctx, `
		select i.id, i.user_id, coalesce(i.owner_id::text,''), i.todo_id, i.is_active, i.created_at, i.modified_at,
		       t.id, t.title, t.status
		from invites i
		join todos t on t.id = i.todo_id
		where i.todo_id=$1 and i.user_id=$2 and i.is_active
		limit 1
	`, todoID, userID)
	return scanInvite(row)
}

func (s *Store) ListInvites(ctx context.Context, userID string, page todo.Page) ([]todo.Invite, int, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		select i.id, i.user_id, coalesce(i.owner_id::text,''), i.todo_id, i.is_active, i.created_at, i.modified_at,
		       t.id, t.title, t.status,
		       count(*) over() as total
		from invites i
		join todos t on t.id = i.todo_id
		where i.user_id=$1 and i.is_active
		order by i.created_at
		offset $2 limit $3
	`, userID, page.Skip, page.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []todo.Invite
	var total int
	for rows.Next() {
		var inv todo.Invite
		var summary todo.TodoSummary
		if err := rows.Scan(
			&inv.ID, &inv.UserID, &inv.OwnerID, &inv.TodoID, &inv.Active, &inv.CreatedAt, &inv.ModifiedAt,
			&summary.ID, &summary.Title, &summary.Status, &total,
		); err != nil {
			return nil, 0, err
		}
		inv.Todo = &summary
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func (s *Store) AcceptInvite(ctx context.Context, id string) (todo.Invite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return todo.Invite{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var inv todo.Invite
	err = tx.QueryRowContext(ctx, `
		select id, user_id, coalesce(owner_id::text,''), todo_id
		from invites where id=$1 and is_active
		for update
	`, id).Scan(&inv.ID, &inv.UserID, &inv.OwnerID, &inv.TodoID)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Invite{}, todo.ErrNotFound
	}
	if err != nil {
		return todo.Invite{}, err
	}

	// Membership and deactivation land in one transaction: both or neither.
	if _, err := tx.ExecContext(ctx, `
		insert into todo_users(todo_id, user_id) values ($1, $2)
		on conflict do nothing
	`, inv.TodoID, inv.UserID); err != nil {
		return todo.Invite{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update invites set is_active=false, modified_at=now() where id=$1
	`, inv.ID); err != nil {
		return todo.Invite{}, err
	}
	if err := tx.Commit(); err != nil {
		return todo.Invite{}, err
	}
	inv.Active = false
	return inv, nil
}

func (s *Store) DeleteInvite(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from invites where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanInvite(row rowScanner) (todo.Invite, error) {
	var inv todo.Invite
	var summary todo.TodoSummary
	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.OwnerID, &inv.TodoID, &inv.Active, &inv.CreatedAt, &inv.ModifiedAt,
		&summary.ID, &summary.Title, &summary.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Invite{}, todo.ErrNotFound
	}
	if err != nil {
		return todo.Invite{}, err
	}
	inv.Todo = &summary
	return inv, nil
}

// --- login codes ---

func (s *Store) SetLoginCode(ctx context.Context, phone int64, codeHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into login_codes(phone, code_hash, expires_at)
		values ($1, $2, $3)
		on conflict (phone) do update
		set code_hash = excluded.code_hash, expires_at = excluded.expires_at
	`, phone, codeHash, expiresAt)
	return err
}

func (s *Store) GetLoginCode(ctx context.Context, phone int64) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		select code_hash from login_codes where phone=$1 and expires_at > now()
	`, phone).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", todo.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *Store) DeleteLoginCode(ctx context.Context, phone int64) error {
	_, err := s.db.ExecContext(ctx, `delete from login_codes where phone=$1`, phone)
	return err
}

// --- helpers ---

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return todo.ErrNotFound
	}
	return nil
}
