package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const negotiationColumns = `id, transaction_id, contract_id, round, proposal_type,
	proposed_by_user_id, proposed_terms, previous_terms, changes, proposed_price,
	payment_terms, valid_until, auto_accept, status, response_by_user_id,
	response_type, response_notes, counter_offer, responded_at, created_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertNegotiationSQL = `
INSERT INTO negotiations (
	id, transaction_id, contract_id, round, proposal_type, proposed_by_user_id,
	proposed_terms, previous_terms, changes, proposed_price, payment_terms,
	valid_until, auto_accept, status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING created_at`

// InsertTx stores a new round inside the caller's transaction. The unique
// (transaction_id, round) constraint is the guard against two counters
// opening the same round concurrently.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, n Negotiation) (Negotiation, error) {
	err := tx.QueryRow(ctx, insertNegotiationSQL,
		n.ID, n.TransactionID, n.ContractID, n.Round, string(n.ProposalType),
		n.ProposedBy, n.ProposedTerms, n.PreviousTerms, n.Changes, n.ProposedPrice,
		nullable(n.PaymentTerms), n.ValidUntil, n.AutoAccept, string(n.Status),
	).Scan(&n.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Negotiation{}, fmt.Errorf("%w: round %d", ErrRoundConflict, n.Round)
		}
		return Negotiation{}, fmt.Errorf("negotiation: insert round %d: %w", n.Round, err)
	}
	return n, nil
}

// GetForUpdateTx locks one negotiation row for the response flow.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE id = $1 FOR UPDATE`
	n, err := scanNegotiation(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Negotiation{}, ErrNotFound
	}
	if err != nil {
		return Negotiation{}, fmt.Errorf("negotiation: get for update: %w", err)
	}
	return n, nil
}

const resolveNegotiationSQL = `
UPDATE negotiations
SET status = $2::negotiation_status,
    response_by_user_id = $3,
    response_type = $4,
    response_notes = $5,
    counter_offer = $6,
    responded_at = $7
WHERE id = $1 AND status = 'open'
RETURNING responded_at`

// ResolveTx closes an open round. The status = 'open' precondition makes
// concurrent responders lose cleanly instead of overwriting each other.
func (r *Repository) ResolveTx(ctx context.Context, tx pgx.Tx, n Negotiation) (Negotiation, error) {
	var respType *string
	if n.ResponseType != nil {
		s := string(*n.ResponseType)
		respType = &s
	}
	err := tx.QueryRow(ctx, resolveNegotiationSQL,
		n.ID, string(n.Status), n.RespondedBy, respType,
		nullable(n.ResponseNotes), n.CounterOffer, n.RespondedAt,
	).Scan(&n.RespondedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Negotiation{}, ErrAlreadyResolved
	}
	if err != nil {
		return Negotiation{}, fmt.Errorf("negotiation: resolve: %w", err)
	}
	return n, nil
}

// Get loads one round outside any transaction.
func (r *Repository) Get(ctx context.Context, id string) (Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE id = $1`
	n, err := scanNegotiation(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Negotiation{}, ErrNotFound
	}
	if err != nil {
		return Negotiation{}, fmt.Errorf("negotiation: get: %w", err)
	}
	return n, nil
}

// ListByTransaction returns every round for a transaction in round order.
func (r *Repository) ListByTransaction(ctx context.Context, transactionID string) ([]Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations
		WHERE transaction_id = $1 ORDER BY round ASC`
	rows, err := r.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("negotiation: list: %w", err)
	}
	defer rows.Close()
	return scanNegotiations(rows)
}

// OpenRoundTx returns the currently open round for a transaction, locked.
func (r *Repository) OpenRoundTx(ctx context.Context, tx pgx.Tx, transactionID string) (Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations
		WHERE transaction_id = $1 AND status = 'open'
		ORDER BY round DESC LIMIT 1 FOR UPDATE`
	n, err := scanNegotiation(tx.QueryRow(ctx, query, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Negotiation{}, ErrNotFound
	}
	if err != nil {
		return Negotiation{}, fmt.Errorf("negotiation: open round: %w", err)
	}
	return n, nil
}

const sweepExpiredSQL = `
UPDATE negotiations
SET status = 'expired'
WHERE status = 'open' AND valid_until < $1
RETURNING id, transaction_id, round`

// ExpiredRound identifies one round closed by a sweep.
type ExpiredRound struct {
	ID            string
	TransactionID string
	Round         int
}

// SweepExpired materializes derived expiry for rounds whose validity window
// has passed. Readers do not depend on the sweep; EffectiveStatus already
// reports these rounds as expired.
func (r *Repository) SweepExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]ExpiredRound, error) {
	rows, err := tx.Query(ctx, sweepExpiredSQL, now)
	if err != nil {
		return nil, fmt.Errorf("negotiation: sweep expired: %w", err)
	}
	defer rows.Close()

	var swept []ExpiredRound
	for rows.Next() {
		var e ExpiredRound
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.Round); err != nil {
			return nil, fmt.Errorf("negotiation: scan swept row: %w", err)
		}
		swept = append(swept, e)
	}
	return swept, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNegotiation(row rowScanner) (Negotiation, error) {
	var (
		n            Negotiation
		proposalType string
		status       string
		paymentTerms *string
		respType     *string
		notes        *string
	)
	err := row.Scan(
		&n.ID, &n.TransactionID, &n.ContractID, &n.Round, &proposalType,
		&n.ProposedBy, &n.ProposedTerms, &n.PreviousTerms, &n.Changes, &n.ProposedPrice,
		&paymentTerms, &n.ValidUntil, &n.AutoAccept, &status, &n.RespondedBy,
		&respType, &notes, &n.CounterOffer, &n.RespondedAt, &n.CreatedAt,
	)
	if err != nil {
		return Negotiation{}, err
	}
	n.ProposalType = ProposalType(proposalType)
	n.Status = Status(status)
	if paymentTerms != nil {
		n.PaymentTerms = *paymentTerms
	}
	if respType != nil {
		rt := ResponseType(*respType)
		n.ResponseType = &rt
	}
	if notes != nil {
		n.ResponseNotes = *notes
	}
	return n, nil
}

func scanNegotiations(rows pgx.Rows) ([]Negotiation, error) {
	var out []Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, fmt.Errorf("negotiation: scan row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
