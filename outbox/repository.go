package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Enqueue stores a message inside the caller's transaction so the
// notification commits or rolls back with the state change.
func (r *Repository) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	const query = `INSERT INTO outbox (id, topic, payload) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, query, uuid.NewString(), topic, payload); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}

const fetchPendingSQL = `
SELECT id, topic, payload, status, attempts, created_at, published_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

// FetchPending claims up to limit pending messages. SKIP LOCKED lets
// concurrent relay instances share the backlog without colliding.
func (r *Repository) FetchPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	rows, err := tx.Query(ctx, fetchPendingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch pending: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt, &m.PublishedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkPublished stamps a delivered message.
func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	const query = `UPDATE outbox SET status = 'published', published_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("outbox: mark published: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter; the message parks as failed once
// the counter exhausts its retries.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id string) error {
	const query = `
UPDATE outbox
SET attempts = attempts + 1,
    status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END
WHERE id = $1`
	if _, err := tx.Exec(ctx, query, id, maxAttempts); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

// Begin exposes a pool transaction for the relay loop.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}
