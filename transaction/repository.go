package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence surface for transactions. Writes take the
// caller's pgx.Tx so status changes, child rows, ledger entries and outbox
// messages commit atomically.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const transactionColumns = `
id, initiator_user_id, provider_org_id, consumer_org_id, resource_id,
contract_id, request_id, status, required_approvals, current_approvals,
conditional_counts, rejection_policy, contract_terms, total_amount, currency,
billing_model, compliance_level, security_rating, risk_score,
expected_completion, expires_at, completed_at, created_at, updated_at`

// InsertTx persists a new transaction inside tx.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	const insertSQL = `
INSERT INTO transactions (
    id, initiator_user_id, provider_org_id, consumer_org_id, resource_id,
    contract_id, request_id, status, required_approvals, conditional_counts,
    rejection_policy, contract_terms, total_amount, currency, billing_model,
    compliance_level, security_rating, risk_score, expected_completion,
    expires_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::transaction_status,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
RETURNING current_approvals, completed_at, created_at, updated_at`

	if err := tx.QueryRow(ctx, insertSQL,
		t.ID,
		t.InitiatorUserID,
		t.ProviderOrgID,
		t.ConsumerOrgID,
		t.ResourceID,
		t.ContractID,
		t.RequestID,
		string(t.Status),
		t.RequiredApprovals,
		t.ConditionalCounts,
		string(t.RejectionPolicy),
		t.ContractTerms,
		t.TotalAmount,
		t.Currency,
		t.BillingModel,
		t.ComplianceLevel,
		t.SecurityRating,
		t.RiskScore,
		t.ExpectedCompletion,
		t.ExpiresAt,
	).Scan(&t.CurrentApprovals, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, fmt.Errorf("transaction: insert: %w", err)
	}
	return t, nil
}

// Get loads a transaction by id.
func (r *Repository) Get(ctx context.Context, id string) (Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: get: %w", err)
	}
	return t, nil
}

// GetForUpdateTx loads and row-locks a transaction inside tx.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: get for update: %w", err)
	}
	return t, nil
}

// UpdateStatusTx moves a transaction to next only if its current status is in
// from. The WHERE clause is the optimistic precondition: a concurrent writer
// that already moved the row makes this update match nothing, and the caller
// gets ErrInvalidTransition instead of silently overwriting.
func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, from []Status, next Status, terms map[string]any) (Transaction, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	const updateSQL = `
UPDATE transactions
SET status = $2::transaction_status,
    contract_terms = COALESCE($4, contract_terms),
    completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
    updated_at = now()
WHERE id = $1 AND status = ANY($3::transaction_status[])
RETURNING ` + transactionColumns

	row := tx.QueryRow(ctx, updateSQL, id, string(next), fromStrs, terms)
	t, err := scanTransaction(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("transaction: update status: %w", err)
	}

	// Distinguish a missing row from a precondition failure.
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Transaction{}, fmt.Errorf("transaction: verify existence: %w", err)
	}
	if !exists {
		return Transaction{}, ErrNotFound
	}
	return Transaction{}, ErrInvalidTransition
}

// UpdateFieldsTx overwrites the mutable business fields of a locked row.
func (r *Repository) UpdateFieldsTx(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	const updateSQL = `
UPDATE transactions
SET contract_terms = $2,
    total_amount = $3,
    currency = $4,
    billing_model = $5,
    compliance_level = $6,
    security_rating = $7,
    risk_score = $8,
    expected_completion = $9,
    expires_at = $10,
    updated_at = now()
WHERE id = $1
RETURNING updated_at`

	if err := tx.QueryRow(ctx, updateSQL,
		t.ID,
		t.ContractTerms,
		t.TotalAmount,
		t.Currency,
		t.BillingModel,
		t.ComplianceLevel,
		t.SecurityRating,
		t.RiskScore,
		t.ExpectedCompletion,
		t.ExpiresAt,
	).Scan(&t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: update fields: %w", err)
	}
	return t, nil
}

// SetApprovalsTx writes the advisory approvals counter. The value is always
// re-derivable from the validation rows; this column only feeds list views.
func (r *Repository) SetApprovalsTx(ctx context.Context, tx pgx.Tx, id string, current int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE transactions SET current_approvals = $2, updated_at = now() WHERE id = $1`,
		id, current)
	if err != nil {
		return fmt.Errorf("transaction: set approvals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTx removes the transaction row; negotiations and validations cascade
// at the schema level. Ledger entries survive and may dangle.
func (r *Repository) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("transaction: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List pages transactions, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Transaction, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := " WHERE 1=1"
	args := []any{}
	if filters.Status != nil {
		args = append(args, string(*filters.Status))
		where += fmt.Sprintf(" AND status = $%d::transaction_status", len(args))
	}
	if filters.ProviderOrgID != nil {
		args = append(args, *filters.ProviderOrgID)
		where += fmt.Sprintf(" AND provider_org_id = $%d", len(args))
	}

	countArgs := make([]any, len(args))
	copy(countArgs, args)

	args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("transaction: list: %w", err)
	}
	defer rows.Close()

	records := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("transaction: scan: %w", err)
		}
		records = append(records, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("transaction: iterate: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("transaction: count: %w", err)
	}
	return records, total, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t      Transaction
		status string
		policy string
	)
	err := row.Scan(
		&t.ID,
		&t.InitiatorUserID,
		&t.ProviderOrgID,
		&t.ConsumerOrgID,
		&t.ResourceID,
		&t.ContractID,
		&t.RequestID,
		&status,
		&t.RequiredApprovals,
		&t.CurrentApprovals,
		&t.ConditionalCounts,
		&policy,
		&t.ContractTerms,
		&t.TotalAmount,
		&t.Currency,
		&t.BillingModel,
		&t.ComplianceLevel,
		&t.SecurityRating,
		&t.RiskScore,
		&t.ExpectedCompletion,
		&t.ExpiresAt,
		&t.CompletedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return Transaction{}, err
	}
	t.Status = Status(status)
	t.RejectionPolicy = RejectionPolicy(policy)
	return t, nil
}
