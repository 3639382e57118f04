package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("validation: not found")

// Repository persists immutable validation rows. Recording a decision is an
// append, never a read-modify-write of a shared counter, so concurrent
// validators cannot lose each other's decisions.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const validationColumns = `
id, transaction_id, validator_user_id, validator_role, validation_type,
decision, reasoning, conditions, score, confidence, evidence_hash,
digital_signature, expires_at, created_at`

// InsertTx appends a validation inside the caller's transaction.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, v Validation) (Validation, error) {
	if err := v.Validate(); err != nil {
		return Validation{}, err
	}

	const insertSQL = `
INSERT INTO validations (
    id, transaction_id, validator_user_id, validator_role, validation_type,
    decision, reasoning, conditions, score, confidence, evidence_hash,
    digital_signature, expires_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING created_at`

	if err := tx.QueryRow(ctx, insertSQL,
		v.ID,
		v.TransactionID,
		v.ValidatorUserID,
		string(v.ValidatorRole),
		string(v.Method),
		string(v.Decision),
		v.Reasoning,
		v.Conditions,
		v.Score,
		v.Confidence,
		v.EvidenceHash,
		v.DigitalSignature,
		v.ExpiresAt,
	).Scan(&v.CreatedAt); err != nil {
		return Validation{}, fmt.Errorf("validation: insert: %w", err)
	}
	return v, nil
}

// ListByTransactionTx reads every validation recorded for the transaction
// inside the caller's transaction, so the quorum recount sees the freshly
// appended row.
func (r *Repository) ListByTransactionTx(ctx context.Context, tx pgx.Tx, transactionID string) ([]Validation, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+validationColumns+` FROM validations WHERE transaction_id = $1 ORDER BY created_at ASC, id ASC`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("validation: list in tx: %w", err)
	}
	defer rows.Close()
	return scanValidations(rows)
}

// ListByTransaction reads validations outside any transaction.
func (r *Repository) ListByTransaction(ctx context.Context, transactionID string) ([]Validation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+validationColumns+` FROM validations WHERE transaction_id = $1 ORDER BY created_at ASC, id ASC`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("validation: list: %w", err)
	}
	defer rows.Close()
	return scanValidations(rows)
}

// GetByID loads a single validation.
func (r *Repository) GetByID(ctx context.Context, id string) (Validation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+validationColumns+` FROM validations WHERE id = $1`, id)
	v, err := scanValidation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Validation{}, ErrNotFound
		}
		return Validation{}, fmt.Errorf("validation: get: %w", err)
	}
	return v, nil
}

func scanValidations(rows pgx.Rows) ([]Validation, error) {
	out := make([]Validation, 0, 8)
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("validation: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("validation: iterate: %w", err)
	}
	return out, nil
}

func scanValidation(row pgx.Row) (Validation, error) {
	var (
		v        Validation
		role     string
		method   string
		decision string
	)
	err := row.Scan(
		&v.ID,
		&v.TransactionID,
		&v.ValidatorUserID,
		&role,
		&method,
		&decision,
		&v.Reasoning,
		&v.Conditions,
		&v.Score,
		&v.Confidence,
		&v.EvidenceHash,
		&v.DigitalSignature,
		&v.ExpiresAt,
		&v.CreatedAt,
	)
	if err != nil {
		return Validation{}, err
	}
	v.ValidatorRole = Role(role)
	v.Method = Method(method)
	v.Decision = Decision(decision)
	return v, nil
}
