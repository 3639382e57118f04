package transaction

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"clearinghouse/audit"
	"clearinghouse/metrics"
	"clearinghouse/validation"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// repository is the persistence surface the state machine drives.
type repository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Transaction, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, from []Status, next Status, terms map[string]any) (Transaction, error)
	UpdateFieldsTx(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error)
	SetApprovalsTx(ctx context.Context, tx pgx.Tx, id string, current int) error
	DeleteTx(ctx context.Context, tx pgx.Tx, id string) error
	List(ctx context.Context, filters ListFilters) ([]Transaction, int, error)
}

// ledgerWriter appends workflow events inside the caller's transaction.
type ledgerWriter interface {
	Append(ctx context.Context, tx pgx.Tx, params audit.AppendParams) (audit.Entry, error)
}

// validationStore appends, recounts, and serves validator decisions.
type validationStore interface {
	InsertTx(ctx context.Context, tx pgx.Tx, v validation.Validation) (validation.Validation, error)
	ListByTransactionTx(ctx context.Context, tx pgx.Tx, transactionID string) ([]validation.Validation, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]validation.Validation, error)
	GetByID(ctx context.Context, id string) (validation.Validation, error)
}

// outboxWriter enqueues downstream notifications in the same transaction.
type outboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// approvalsCache mirrors the latest recount for read paths; advisory only.
type approvalsCache interface {
	Get(ctx context.Context, transactionID string) (approvals, required int, ok bool, err error)
	Put(ctx context.Context, transactionID string, state validation.QuorumState) error
	Invalidate(ctx context.Context, transactionID string) error
}

// Service is the transaction state machine. Every status change runs inside
// one database transaction together with its ledger entry and outbox message.
type Service struct {
	pool        TxBeginner
	repo        repository
	ledger      ledgerWriter
	validations validationStore
	outbox      outboxWriter
	cache       approvalsCache
	metrics     *metrics.Metrics
	now         func() time.Time
	idGen       func() string
}

func NewService(pool TxBeginner, repo repository, ledger ledgerWriter, validations validationStore) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		ledger:      ledger,
		validations: validations,
		now:         time.Now,
		idGen:       func() string { return uuid.NewString() },
	}
}

func (s *Service) WithOutbox(out outboxWriter) *Service {
	s.outbox = out
	return s
}

func (s *Service) WithApprovalsCache(cache approvalsCache) *Service {
	s.cache = cache
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Create opens a transaction in the initiated status and writes the
// TRANSACTION_CREATED ledger entry in the same database transaction.
func (s *Service) Create(ctx context.Context, params CreateParams) (Transaction, error) {
	if params.InitiatorUserID == "" || params.ProviderOrgID == "" || params.ConsumerOrgID == "" || params.ResourceID == "" {
		return Transaction{}, fmt.Errorf("transaction: initiator, provider, consumer and resource ids are required")
	}
	if params.RequiredApprovals < 1 {
		return Transaction{}, fmt.Errorf("transaction: required approvals must be at least 1")
	}
	policy := params.RejectionPolicy
	if policy == "" {
		policy = RejectionStrict
	}
	if policy != RejectionStrict && policy != RejectionLenient {
		return Transaction{}, fmt.Errorf("transaction: invalid rejection policy %q", policy)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t := Transaction{
		ID:                 s.idGen(),
		InitiatorUserID:    params.InitiatorUserID,
		ProviderOrgID:      params.ProviderOrgID,
		ConsumerOrgID:      params.ConsumerOrgID,
		ResourceID:         params.ResourceID,
		ContractID:         params.ContractID,
		RequestID:          params.RequestID,
		Status:             StatusInitiated,
		RequiredApprovals:  params.RequiredApprovals,
		ConditionalCounts:  params.ConditionalCounts,
		RejectionPolicy:    policy,
		ContractTerms:      params.ContractTerms,
		TotalAmount:        params.TotalAmount,
		Currency:           params.Currency,
		BillingModel:       params.BillingModel,
		ComplianceLevel:    params.ComplianceLevel,
		SecurityRating:     params.SecurityRating,
		RiskScore:          params.RiskScore,
		ExpectedCompletion: params.ExpectedCompletion,
		ExpiresAt:          params.ExpiresAt,
	}

	created, err := s.repo.InsertTx(ctx, tx, t)
	if err != nil {
		return Transaction{}, err
	}

	if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
		TransactionID:   &created.ID,
		EventType:       audit.EventTransactionCreated,
		Description:     fmt.Sprintf("transaction created for resource %s", created.ResourceID),
		ActorID:         &created.InitiatorUserID,
		NewState:        snapshot(created),
		SecurityLevel:   audit.SecurityStandard,
		ComplianceFlags: []string{"workflow"},
	}); err != nil {
		return Transaction{}, err
	}

	if err := s.enqueue(ctx, tx, "transaction.created", map[string]any{
		"transaction_id": created.ID,
		"provider_org":   created.ProviderOrgID,
		"consumer_org":   created.ConsumerOrgID,
		"status":         string(created.Status),
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit create: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TransactionsCreated.Inc()
	}
	return created, nil
}

// ApplyNegotiationOutcomeTx moves the transaction according to a resolved
// negotiation. It runs inside the negotiation engine's database transaction
// so the round resolution and the status change commit together (or not at
// all). The conditional status update is the optimistic precondition.
func (s *Service) ApplyNegotiationOutcomeTx(ctx context.Context, tx pgx.Tx, outcome NegotiationOutcome) (Transaction, error) {
	prev, err := s.repo.GetForUpdateTx(ctx, tx, outcome.TransactionID)
	if err != nil {
		return Transaction{}, err
	}
	prevState := snapshot(prev)

	var updated Transaction
	switch outcome.Kind {
	case OutcomeAccepted:
		updated, err = s.repo.UpdateStatusTx(ctx, tx, outcome.TransactionID,
			[]Status{StatusInitiated, StatusPendingValidation}, StatusPendingApproval, outcome.AcceptedTerms)
	case OutcomeRejected:
		updated, err = s.repo.UpdateStatusTx(ctx, tx, outcome.TransactionID,
			[]Status{StatusInitiated, StatusPendingValidation, StatusPendingApproval}, StatusRejected, nil)
	default:
		return Transaction{}, fmt.Errorf("transaction: unknown negotiation outcome %q", outcome.Kind)
	}
	if err != nil {
		return Transaction{}, err
	}

	if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
		TransactionID: &updated.ID,
		EventType:     audit.EventProposalResponded,
		Description: fmt.Sprintf("negotiation round %d %s; status %s -> %s",
			outcome.Round, outcome.Kind, prev.Status, updated.Status),
		ActorID:       &outcome.RespondedBy,
		PreviousState: prevState,
		NewState:      snapshot(updated),
		ChangedFields: []string{"status", "contract_terms"},
		SecurityLevel: audit.SecurityHigh,
		Metadata: map[string]any{
			"negotiation_id": outcome.NegotiationID,
			"round":          outcome.Round,
			"outcome":        string(outcome.Kind),
			"notes":          outcome.Notes,
		},
	}); err != nil {
		return Transaction{}, err
	}

	if err := s.enqueue(ctx, tx, "transaction.status_changed", map[string]any{
		"transaction_id": updated.ID,
		"previous":       string(prev.Status),
		"next":           string(updated.Status),
	}); err != nil {
		return Transaction{}, err
	}

	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(updated.Status)).Inc()
	}

	// Validator approvals can land while the negotiation is still open.
	// Entering the approval phase re-checks the stored quorum so a
	// satisfied one is not left waiting for a decision that never comes.
	if outcome.Kind == OutcomeAccepted {
		updated, err = s.promoteIfQuorumTx(ctx, tx, updated, outcome.RespondedBy)
		if err != nil {
			return Transaction{}, err
		}
	}
	return updated, nil
}

// promoteIfQuorumTx flips a transaction that just entered pending_approval
// to approved when the stored validations already satisfy the quorum.
func (s *Service) promoteIfQuorumTx(ctx context.Context, tx pgx.Tx, t Transaction, actorID string) (Transaction, error) {
	if t.Status != StatusPendingApproval {
		return t, nil
	}
	all, err := s.validations.ListByTransactionTx(ctx, tx, t.ID)
	if err != nil {
		return Transaction{}, err
	}
	state := validation.Recount(all, quorumPolicy(t))
	if !state.Reached || state.Rejected {
		return t, nil
	}
	updated, err := s.transitionTx(ctx, tx, t, StatusApproved, &actorID,
		fmt.Sprintf("approval quorum already satisfied on entering approval phase (%d/%d)",
			state.Approvals, state.Required))
	if err != nil {
		return Transaction{}, err
	}
	if err := s.enqueue(ctx, tx, "transaction.status_changed", map[string]any{
		"transaction_id": updated.ID,
		"previous":       string(t.Status),
		"next":           string(updated.Status),
	}); err != nil {
		return Transaction{}, err
	}
	return updated, nil
}

// RecordValidationParams carries one validator decision.
type RecordValidationParams struct {
	TransactionID    string
	ValidatorUserID  string
	ValidatorRole    validation.Role
	Method           validation.Method
	Decision         validation.Decision
	Reasoning        string
	Conditions       *string
	Score            *int
	Confidence       *float64
	EvidenceHash     string
	DigitalSignature string
	ExpiresAt        *time.Time
}

// ValidationResult reports the recorded decision and its effect.
type ValidationResult struct {
	Validation    validation.Validation
	Quorum        validation.QuorumState
	StatusChanged bool
	Transaction   Transaction
}

// RecordValidation appends a validator decision, recounts the quorum from
// the full set of stored validations, and advances the transaction when the
// recount says so. The transaction row is locked first so concurrent
// validators recount sequentially and the flip happens exactly once; the
// decisions themselves are still pure appends and none is ever lost.
func (s *Service) RecordValidation(ctx context.Context, params RecordValidationParams) (ValidationResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := s.repo.GetForUpdateTx(ctx, tx, params.TransactionID)
	if err != nil {
		return ValidationResult{}, err
	}
	switch t.Status {
	case StatusInitiated:
		// The first validator decision opens the validation phase.
		t, err = s.transitionTx(ctx, tx, t, StatusPendingValidation, &params.ValidatorUserID,
			"validation phase opened by first validator decision")
		if err != nil {
			return ValidationResult{}, err
		}
	case StatusPendingValidation, StatusPendingApproval:
	default:
		return ValidationResult{}, fmt.Errorf("%w: cannot validate in status %q", ErrInvalidState, t.Status)
	}

	v := validation.Validation{
		ID:               s.idGen(),
		TransactionID:    params.TransactionID,
		ValidatorUserID:  params.ValidatorUserID,
		ValidatorRole:    params.ValidatorRole,
		Method:           params.Method,
		Decision:         params.Decision,
		Reasoning:        params.Reasoning,
		Conditions:       params.Conditions,
		Score:            params.Score,
		Confidence:       params.Confidence,
		EvidenceHash:     params.EvidenceHash,
		DigitalSignature: params.DigitalSignature,
		ExpiresAt:        params.ExpiresAt,
	}
	recorded, err := s.validations.InsertTx(ctx, tx, v)
	if err != nil {
		return ValidationResult{}, err
	}

	all, err := s.validations.ListByTransactionTx(ctx, tx, params.TransactionID)
	if err != nil {
		return ValidationResult{}, err
	}
	state := validation.Recount(all, quorumPolicy(t))

	// The stored counter is advisory and capped by the invariant
	// current_approvals <= required_approvals.
	advisory := state.Approvals
	if advisory > t.RequiredApprovals {
		advisory = t.RequiredApprovals
	}
	if err := s.repo.SetApprovalsTx(ctx, tx, t.ID, advisory); err != nil {
		return ValidationResult{}, err
	}

	// Every decision is logged whether or not the status moves.
	if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
		TransactionID: &t.ID,
		EventType:     audit.EventValidationRecorded,
		Description: fmt.Sprintf("%s validation by %s: %s (%d/%d approvals)",
			recorded.Method, recorded.ValidatorRole, recorded.Decision, state.Approvals, state.Required),
		ActorID:       &recorded.ValidatorUserID,
		SecurityLevel: audit.SecurityHigh,
		Metadata: map[string]any{
			"validation_id": recorded.ID,
			"decision":      string(recorded.Decision),
			"role":          string(recorded.ValidatorRole),
			"method":        string(recorded.Method),
		},
	}); err != nil {
		return ValidationResult{}, err
	}
	if s.metrics != nil {
		s.metrics.ValidationsRecorded.Inc()
	}

	result := ValidationResult{Validation: recorded, Quorum: state, Transaction: t}

	switch {
	case state.Rejected:
		updated, err := s.transitionTx(ctx, tx, t, StatusRejected, &recorded.ValidatorUserID,
			fmt.Sprintf("rejected by %s validator under strict rejection policy", recorded.ValidatorRole))
		if err != nil {
			return ValidationResult{}, err
		}
		result.Transaction = updated
		result.StatusChanged = true
	case state.Reached && t.Status == StatusPendingApproval:
		updated, err := s.transitionTx(ctx, tx, t, StatusApproved, &recorded.ValidatorUserID,
			fmt.Sprintf("approval quorum reached (%d/%d)", state.Approvals, state.Required))
		if err != nil {
			return ValidationResult{}, err
		}
		result.Transaction = updated
		result.StatusChanged = true
	}

	if err := s.enqueue(ctx, tx, "transaction.validation_recorded", map[string]any{
		"transaction_id": t.ID,
		"validation_id":  recorded.ID,
		"decision":       string(recorded.Decision),
		"quorum_reached": state.Reached,
	}); err != nil {
		return ValidationResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ValidationResult{}, fmt.Errorf("transaction: commit validation: %w", err)
	}

	if s.cache != nil {
		// Best effort: the cache is advisory and repopulated on the next write.
		_ = s.cache.Put(ctx, t.ID, state)
	}
	return result, nil
}

// Update applies a partial field update, diffing old against new so the
// ledger entry names exactly the changed fields.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams, actorID string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}
	if current.Status.Terminal() {
		return Transaction{}, fmt.Errorf("%w: cannot update in terminal status %q", ErrInvalidState, current.Status)
	}

	next, changed := applyUpdate(current, params)
	if len(changed) == 0 {
		return current, nil
	}

	updated, err := s.repo.UpdateFieldsTx(ctx, tx, next)
	if err != nil {
		return Transaction{}, err
	}

	if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
		TransactionID: &updated.ID,
		EventType:     audit.EventTransactionUpdated,
		Description:   fmt.Sprintf("fields updated: %v", changed),
		ActorID:       &actorID,
		PreviousState: snapshot(current),
		NewState:      snapshot(updated),
		ChangedFields: changed,
		SecurityLevel: audit.SecurityStandard,
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit update: %w", err)
	}
	return updated, nil
}

// Cancel moves any non-terminal transaction to cancelled.
func (s *Service) Cancel(ctx context.Context, id, actorID, reason string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}
	if current.Status.Terminal() {
		return Transaction{}, fmt.Errorf("%w: %q is terminal", ErrInvalidTransition, current.Status)
	}

	updated, err := s.repo.UpdateStatusTx(ctx, tx, id, sources(StatusCancelled), StatusCancelled, nil)
	if err != nil {
		return Transaction{}, err
	}

	if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
		TransactionID: &updated.ID,
		EventType:     audit.EventTransactionCancelled,
		Description:   fmt.Sprintf("cancelled from %s: %s", current.Status, reason),
		ActorID:       &actorID,
		PreviousState: snapshot(current),
		NewState:      snapshot(updated),
		ChangedFields: []string{"status"},
		SecurityLevel: audit.SecurityHigh,
		Metadata:      map[string]any{"reason": reason},
	}); err != nil {
		return Transaction{}, err
	}

	if err := s.enqueue(ctx, tx, "transaction.status_changed", map[string]any{
		"transaction_id": updated.ID,
		"previous":       string(current.Status),
		"next":           string(updated.Status),
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit cancel: %w", err)
	}
	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(StatusCancelled)).Inc()
	}
	return updated, nil
}

// Complete closes out an approved transaction and stamps completed_at.
func (s *Service) Complete(ctx context.Context, id, actorID string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}

	updated, err := s.repo.UpdateStatusTx(ctx, tx, id, []Status{StatusApproved}, StatusCompleted, nil)
	if err != nil {
		return Transaction{}, err
	}

	if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
		TransactionID: &updated.ID,
		EventType:     audit.EventStatusChanged,
		Description:   "transaction completed",
		ActorID:       &actorID,
		PreviousState: snapshot(current),
		NewState:      snapshot(updated),
		ChangedFields: []string{"status", "completed_at"},
		SecurityLevel: audit.SecurityStandard,
	}); err != nil {
		return Transaction{}, err
	}

	if err := s.enqueue(ctx, tx, "transaction.status_changed", map[string]any{
		"transaction_id": updated.ID,
		"previous":       string(current.Status),
		"next":           string(updated.Status),
	}); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("transaction: commit complete: %w", err)
	}
	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(StatusCompleted)).Inc()
	}
	return updated, nil
}

// Delete removes a transaction and its children. The final ledger entry is
// written in the same database transaction, before the row disappears; the
// resulting dangling transaction reference in the ledger is expected and is
// not corruption.
func (s *Service) Delete(ctx context.Context, id, actorID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("transaction: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if !current.Status.Deletable() {
		return fmt.Errorf("%w: cannot delete in status %q", ErrInvalidState, current.Status)
	}

	if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
		TransactionID:   &current.ID,
		EventType:       audit.EventTransactionDeleted,
		Description:     fmt.Sprintf("transaction deleted while %s", current.Status),
		ActorID:         &actorID,
		PreviousState:   snapshot(current),
		SecurityLevel:   audit.SecurityCritical,
		ComplianceFlags: []string{"deletion"},
	}); err != nil {
		return err
	}

	if err := s.repo.DeleteTx(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("transaction: commit delete: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, id)
	}
	return nil
}

// Get loads one transaction. The approvals counter is served from the
// cache when the cached quorum matches the stored requirement; on a miss
// or a stale requirement the stored advisory column stands.
func (s *Service) Get(ctx context.Context, id string) (Transaction, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if s.cache != nil {
		approvals, required, ok, cerr := s.cache.Get(ctx, id)
		if cerr == nil && ok && required == t.RequiredApprovals {
			if approvals > t.RequiredApprovals {
				approvals = t.RequiredApprovals
			}
			t.CurrentApprovals = approvals
		}
	}
	return t, nil
}

// GetForUpdateTx loads and row-locks a transaction inside the caller's
// database transaction.
func (s *Service) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	return s.repo.GetForUpdateTx(ctx, tx, id)
}

// Validations returns every recorded decision for a transaction.
func (s *Service) Validations(ctx context.Context, transactionID string) ([]validation.Validation, error) {
	if _, err := s.repo.Get(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.validations.ListByTransaction(ctx, transactionID)
}

// GetValidation loads a single recorded decision.
func (s *Service) GetValidation(ctx context.Context, id string) (validation.Validation, error) {
	return s.validations.GetByID(ctx, id)
}

// List pages transactions.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Transaction, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) transitionTx(ctx context.Context, tx pgx.Tx, current Transaction, next Status, actorID *string, reason string) (Transaction, error) {
	updated, err := s.repo.UpdateStatusTx(ctx, tx, current.ID, []Status{current.Status}, next, nil)
	if err != nil {
		return Transaction{}, err
	}
	if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
		TransactionID: &updated.ID,
		EventType:     audit.EventStatusChanged,
		Description:   reason,
		ActorID:       actorID,
		PreviousState: snapshot(current),
		NewState:      snapshot(updated),
		ChangedFields: []string{"status"},
		SecurityLevel: audit.SecurityHigh,
	}); err != nil {
		return Transaction{}, err
	}
	if s.metrics != nil {
		s.metrics.StatusTransitions.WithLabelValues(string(next)).Inc()
	}
	return updated, nil
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Enqueue(ctx, tx, topic, payload)
}

// quorumPolicy derives the recount policy from the transaction's settings.
func quorumPolicy(t Transaction) validation.Policy {
	return validation.Policy{
		Required:         t.RequiredApprovals,
		CountConditional: t.ConditionalCounts,
		StrictRejection:  t.RejectionPolicy == RejectionStrict,
	}
}

// snapshot captures the audit-relevant view of a transaction.
func snapshot(t Transaction) map[string]any {
	return map[string]any{
		"status":             string(t.Status),
		"required_approvals": t.RequiredApprovals,
		"current_approvals":  t.CurrentApprovals,
		"contract_terms":     t.ContractTerms,
		"total_amount":       t.TotalAmount,
		"currency":           t.Currency,
		"compliance_level":   t.ComplianceLevel,
		"risk_score":         t.RiskScore,
	}
}

// applyUpdate returns a copy of t with params applied plus the names of the
// fields that actually changed.
func applyUpdate(t Transaction, params UpdateParams) (Transaction, []string) {
	next := t
	var changed []string

	if params.ContractTerms != nil && !reflect.DeepEqual(t.ContractTerms, params.ContractTerms) {
		next.ContractTerms = params.ContractTerms
		changed = append(changed, "contract_terms")
	}
	if params.TotalAmount != nil && !equalFloatPtr(t.TotalAmount, params.TotalAmount) {
		next.TotalAmount = params.TotalAmount
		changed = append(changed, "total_amount")
	}
	if params.Currency != nil && t.Currency != *params.Currency {
		next.Currency = *params.Currency
		changed = append(changed, "currency")
	}
	if params.BillingModel != nil && t.BillingModel != *params.BillingModel {
		next.BillingModel = *params.BillingModel
		changed = append(changed, "billing_model")
	}
	if params.ComplianceLevel != nil && t.ComplianceLevel != *params.ComplianceLevel {
		next.ComplianceLevel = *params.ComplianceLevel
		changed = append(changed, "compliance_level")
	}
	if params.SecurityRating != nil && t.SecurityRating != *params.SecurityRating {
		next.SecurityRating = *params.SecurityRating
		changed = append(changed, "security_rating")
	}
	if params.RiskScore != nil && !equalFloatPtr(t.RiskScore, params.RiskScore) {
		next.RiskScore = params.RiskScore
		changed = append(changed, "risk_score")
	}
	if params.ExpectedCompletion != nil && !equalTimePtr(t.ExpectedCompletion, params.ExpectedCompletion) {
		next.ExpectedCompletion = params.ExpectedCompletion
		changed = append(changed, "expected_completion")
	}
	if params.ExpiresAt != nil && !equalTimePtr(t.ExpiresAt, params.ExpiresAt) {
		next.ExpiresAt = params.ExpiresAt
		changed = append(changed, "expires_at")
	}
	return next, changed
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
