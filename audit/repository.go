package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrEntryNotFound is returned when no ledger row exists for the id.
	ErrEntryNotFound = errors.New("audit: entry not found")
)

// ledgerLockKey serializes chain appends. Taking the advisory lock inside the
// caller's transaction guarantees the tail digest read below cannot race with
// another append, so the chain never forks.
const ledgerLockKey = int64(0x434c4852) // "CLHR"

// Repository persists ledger rows. Appends run inside the caller's
// transaction so a workflow state change and its entry commit atomically.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `
id, seq, transaction_id, event_type, event_description, actor_id,
previous_state, new_state, changed_fields, security_level, compliance_flags,
metadata, occurred_at, prev_digest, digest`

// InsertTx chains and persists a new entry inside tx. The entry's Digest,
// PrevDigest and Seq are assigned here.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return Entry{}, fmt.Errorf("audit: acquire ledger lock: %w", err)
	}

	var prev string
	err := tx.QueryRow(ctx, `SELECT digest FROM audit_log_entries ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		prev = ""
	default:
		return Entry{}, fmt.Errorf("audit: read chain tail: %w", err)
	}
	entry.PrevDigest = prev
	entry.OccurredAt = entry.OccurredAt.UTC().Truncate(time.Microsecond)
	if entry.ChangedFields == nil {
		entry.ChangedFields = []string{}
	}
	if entry.ComplianceFlags == nil {
		entry.ComplianceFlags = []string{}
	}

	digest, err := ComputeDigest(entry)
	if err != nil {
		return Entry{}, err
	}
	entry.Digest = digest

	const insertSQL = `
INSERT INTO audit_log_entries (
    id, transaction_id, event_type, event_description, actor_id,
    previous_state, new_state, changed_fields, security_level,
    compliance_flags, metadata, occurred_at, prev_digest, digest
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING seq`

	if err := tx.QueryRow(ctx, insertSQL,
		entry.ID,
		entry.TransactionID,
		string(entry.EventType),
		entry.Description,
		entry.ActorID,
		entry.PreviousState,
		entry.NewState,
		entry.ChangedFields,
		string(entry.SecurityLevel),
		entry.ComplianceFlags,
		entry.Metadata,
		entry.OccurredAt,
		entry.PrevDigest,
		entry.Digest,
	).Scan(&entry.Seq); err != nil {
		return Entry{}, fmt.Errorf("audit: insert entry: %w", err)
	}

	return entry, nil
}

// GetByID loads a single entry.
func (r *Repository) GetByID(ctx context.Context, id string) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM audit_log_entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, fmt.Errorf("audit: get entry: %w", err)
	}
	return entry, nil
}

// ListRange returns up to limit entries with occurred_at in [start, end) and
// seq greater than afterSeq, ordered by occurred_at then seq ascending. The
// seq cursor makes range scans restartable.
func (r *Repository) ListRange(ctx context.Context, start, end time.Time, afterSeq int64, limit int, filters RangeFilters) ([]Entry, error) {
	query := `SELECT ` + entryColumns + `
FROM audit_log_entries
WHERE occurred_at >= $1 AND occurred_at < $2 AND seq > $3`
	args := []any{start, end, afterSeq}

	if filters.TransactionID != nil {
		args = append(args, *filters.TransactionID)
		query += fmt.Sprintf(" AND transaction_id = $%d", len(args))
	}
	if filters.EventType != nil {
		args = append(args, string(*filters.EventType))
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	// Seq is chain order (appends serialize on the ledger lock), so ordering
	// by seq keeps the cursor restartable while matching append order.
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY seq ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list range: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}
	return entries, nil
}

// ListChain returns entries ordered by seq for chain verification.
func (r *Repository) ListChain(ctx context.Context, afterSeq int64, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM audit_log_entries WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
		afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list chain: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan chain entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate chain: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		eventType string
		secLevel  string
	)
	err := row.Scan(
		&e.ID,
		&e.Seq,
		&e.TransactionID,
		&eventType,
		&e.Description,
		&e.ActorID,
		&e.PreviousState,
		&e.NewState,
		&e.ChangedFields,
		&secLevel,
		&e.ComplianceFlags,
		&e.Metadata,
		&e.OccurredAt,
		&e.PrevDigest,
		&e.Digest,
	)
	if err != nil {
		return Entry{}, err
	}
	e.EventType = EventType(eventType)
	e.SecurityLevel = SecurityLevel(secLevel)
	return e, nil
}
