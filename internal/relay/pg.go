package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"taskhive.org/internal/obs"
)

const channel = "todo_update"

// PG implements Relay over Postgres LISTEN/NOTIFY. Publishing rides
// the shared connection pool; the subscription loop owns one dedicated
// connection for the process lifetime and reconnects with backoff when
// it drops. Notifications sent while reconnecting are lost, which the
// protocol tolerates: clients re-fetch authoritative state on demand.
type PG struct {
	db  *sql.DB
	dsn string
}

// NewPG builds a Postgres-backed relay. db is the pool used for
// publishing; dsn is dialed separately for the listening connection.
func NewPG(db *sql.DB, dsn string) *PG {
	return &PG{db: db, dsn: dsn}
}

// Publish emits the event on the todo_update channel. Callers invoke
// this only after their own transaction committed, so a subscriber that
// re-reads on receipt observes the post-mutation state.
func (p *PG) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, `select pg_notify($1, $2)`, channel, string(payload)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	obs.RelayPublished()
	return nil
}

// Subscribe listens on the todo_update channel until ctx ends.
func (p *PG) Subscribe(ctx context.Context, h Handler) error {
	backoff := time.Second
	for {
		err := p.listen(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "relay listener disconnected",
			"error": err.Error(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (p *PG) listen(ctx context.Context, h Handler) error {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, `listen `+channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		note, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		var evt Event
		if err := json.Unmarshal([]byte(note.Payload), &evt); err != nil {
			obs.LogRequest(map[string]any{
				"level": "warn",
				"msg":   "relay payload decode failed",
				"error": err.Error(),
			})
			continue
		}
		obs.RelayReceived()
		h(ctx, evt)
	}
}
