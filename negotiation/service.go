package negotiation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"clearinghouse/audit"
	"clearinghouse/metrics"
	"clearinghouse/transaction"
)

// DefaultValidity is how long a proposal stays open when the proposer does
// not set a window.
const DefaultValidity = 7 * 24 * time.Hour

type repository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, n Negotiation) (Negotiation, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Negotiation, error)
	OpenRoundTx(ctx context.Context, tx pgx.Tx, transactionID string) (Negotiation, error)
	ResolveTx(ctx context.Context, tx pgx.Tx, n Negotiation) (Negotiation, error)
	Get(ctx context.Context, id string) (Negotiation, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]Negotiation, error)
	SweepExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]ExpiredRound, error)
}

type ledgerWriter interface {
	Append(ctx context.Context, tx pgx.Tx, params audit.AppendParams) (audit.Entry, error)
}

// stateMachine is the transaction-side hook invoked inside our database
// transaction when a round opens or resolves the whole negotiation.
type stateMachine interface {
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (transaction.Transaction, error)
	ApplyNegotiationOutcomeTx(ctx context.Context, tx pgx.Tx, outcome transaction.NegotiationOutcome) (transaction.Transaction, error)
}

// Service runs the proposal/counter-proposal protocol. A response and its
// effect on the owning transaction always commit atomically.
type Service struct {
	pool    transaction.TxBeginner
	repo    repository
	ledger  ledgerWriter
	txns    stateMachine
	metrics *metrics.Metrics
	now     func() time.Time
	idGen   func() string
}

func NewService(pool transaction.TxBeginner, repo repository, ledger ledgerWriter, txns stateMachine) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		ledger: ledger,
		txns:   txns,
		now:    time.Now,
		idGen:  func() string { return uuid.NewString() },
	}
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

// Propose opens round 1 for a transaction. Counter rounds are opened by
// Respond, never directly.
func (s *Service) Propose(ctx context.Context, params ProposeParams) (Negotiation, error) {
	if params.TransactionID == "" || params.ProposedBy == "" {
		return Negotiation{}, fmt.Errorf("negotiation: transaction id and proposer are required")
	}
	if len(params.ProposedTerms) == 0 {
		return Negotiation{}, fmt.Errorf("negotiation: proposed terms are required")
	}

	now := s.now()
	validUntil := now.Add(DefaultValidity)
	if params.ValidUntil != nil {
		validUntil = *params.ValidUntil
	}
	if !validUntil.After(now) {
		return Negotiation{}, fmt.Errorf("negotiation: validity window must end in the future")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Negotiation{}, fmt.Errorf("negotiation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock order matches Respond: negotiation rows first, then the
	// owning transaction row.
	if open, err := s.repo.OpenRoundTx(ctx, tx, params.TransactionID); err == nil {
		return Negotiation{}, fmt.Errorf("%w: round %d is open", ErrRoundConflict, open.Round)
	} else if !errors.Is(err, ErrNotFound) {
		return Negotiation{}, err
	}

	owner, err := s.txns.GetForUpdateTx(ctx, tx, params.TransactionID)
	if err != nil {
		return Negotiation{}, err
	}
	if owner.Status.Terminal() {
		return Negotiation{}, fmt.Errorf("%w: transaction is %q", transaction.ErrInvalidState, owner.Status)
	}

	n := Negotiation{
		ID:            s.idGen(),
		TransactionID: params.TransactionID,
		ContractID:    params.ContractID,
		Round:         1,
		ProposalType:  ProposalInitial,
		ProposedBy:    params.ProposedBy,
		ProposedTerms: params.ProposedTerms,
		ProposedPrice: params.ProposedPrice,
		PaymentTerms:  params.PaymentTerms,
		ValidUntil:    validUntil,
		AutoAccept:    params.AutoAccept,
		Status:        StatusOpen,
	}
	created, err := s.repo.InsertTx(ctx, tx, n)
	if err != nil {
		return Negotiation{}, err
	}

	if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
		TransactionID: &created.TransactionID,
		EventType:     audit.EventProposalSubmitted,
		Description:   "initial proposal submitted",
		ActorID:       &created.ProposedBy,
		NewState:      map[string]any{"round": created.Round, "proposed_terms": created.ProposedTerms},
		SecurityLevel: audit.SecurityStandard,
		Metadata:      map[string]any{"negotiation_id": created.ID, "valid_until": created.ValidUntil},
	}); err != nil {
		return Negotiation{}, err
	}

	// An auto-accept proposal resolves itself: the provider pre-agreed to
	// these terms, so the transaction advances without a counterparty action.
	if created.AutoAccept {
		created, err = s.resolveTx(ctx, tx, created, RespondParams{
			Response:    ResponseAccept,
			RespondedBy: audit.SystemActor,
			Notes:       "auto-accepted",
		})
		if err != nil {
			return Negotiation{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Negotiation{}, fmt.Errorf("negotiation: commit propose: %w", err)
	}
	if s.metrics != nil {
		s.metrics.NegotiationRounds.Inc()
	}
	return created, nil
}

// Respond resolves an open round: accept and reject close the negotiation
// and move the owning transaction in the same database transaction; counter
// closes this round and opens the next one with the countered terms.
func (s *Service) Respond(ctx context.Context, params RespondParams) (Negotiation, error) {
	switch params.Response {
	case ResponseAccept, ResponseReject, ResponseCounter:
	default:
		return Negotiation{}, fmt.Errorf("%w: %q", ErrInvalidResponseType, params.Response)
	}
	if params.RespondedBy == "" {
		return Negotiation{}, fmt.Errorf("negotiation: responder is required")
	}
	if params.Response == ResponseCounter && len(params.CounterTerms) == 0 {
		return Negotiation{}, fmt.Errorf("negotiation: counter terms are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Negotiation{}, fmt.Errorf("negotiation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdateTx(ctx, tx, params.NegotiationID)
	if err != nil {
		return Negotiation{}, err
	}
	if current.Status != StatusOpen {
		return Negotiation{}, fmt.Errorf("%w: status is %q", ErrAlreadyResolved, current.Status)
	}
	if current.EffectiveStatus(s.now()) == StatusExpired {
		// The row stays open; derived expiry needs no write.
		return Negotiation{}, ErrExpired
	}

	resolved, err := s.resolveTx(ctx, tx, current, params)
	if err != nil {
		return Negotiation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Negotiation{}, fmt.Errorf("negotiation: commit respond: %w", err)
	}
	if params.Response == ResponseCounter && s.metrics != nil {
		s.metrics.NegotiationRounds.Inc()
	}
	return resolved, nil
}

// resolveTx does the actual resolution inside an open database transaction.
func (s *Service) resolveTx(ctx context.Context, tx pgx.Tx, current Negotiation, params RespondParams) (Negotiation, error) {
	now := s.now()
	current.RespondedBy = &params.RespondedBy
	current.ResponseNotes = params.Notes
	current.RespondedAt = &now
	rt := params.Response
	current.ResponseType = &rt

	switch params.Response {
	case ResponseAccept:
		current.Status = StatusAccepted
		resolved, err := s.repo.ResolveTx(ctx, tx, current)
		if err != nil {
			return Negotiation{}, err
		}
		if _, err := s.txns.ApplyNegotiationOutcomeTx(ctx, tx, transaction.NegotiationOutcome{
			TransactionID: resolved.TransactionID,
			NegotiationID: resolved.ID,
			Round:         resolved.Round,
			Kind:          transaction.OutcomeAccepted,
			AcceptedTerms: resolved.ProposedTerms,
			RespondedBy:   params.RespondedBy,
			Notes:         params.Notes,
		}); err != nil {
			return Negotiation{}, err
		}
		return resolved, nil

	case ResponseReject:
		current.Status = StatusRejected
		resolved, err := s.repo.ResolveTx(ctx, tx, current)
		if err != nil {
			return Negotiation{}, err
		}
		if _, err := s.txns.ApplyNegotiationOutcomeTx(ctx, tx, transaction.NegotiationOutcome{
			TransactionID: resolved.TransactionID,
			NegotiationID: resolved.ID,
			Round:         resolved.Round,
			Kind:          transaction.OutcomeRejected,
			RespondedBy:   params.RespondedBy,
			Notes:         params.Notes,
		}); err != nil {
			return Negotiation{}, err
		}
		return resolved, nil

	case ResponseCounter:
		current.Status = StatusCounterOffered
		current.CounterOffer = params.CounterTerms
		resolved, err := s.repo.ResolveTx(ctx, tx, current)
		if err != nil {
			return Negotiation{}, err
		}

		validUntil := now.Add(DefaultValidity)
		if params.ValidUntil != nil {
			validUntil = *params.ValidUntil
		}
		next := Negotiation{
			ID:            s.idGen(),
			TransactionID: resolved.TransactionID,
			ContractID:    resolved.ContractID,
			Round:         resolved.Round + 1,
			ProposalType:  ProposalCounterOffer,
			ProposedBy:    params.RespondedBy,
			ProposedTerms: params.CounterTerms,
			PreviousTerms: resolved.ProposedTerms,
			Changes:       diffTerms(resolved.ProposedTerms, params.CounterTerms),
			ValidUntil:    validUntil,
			Status:        StatusOpen,
		}
		next, err = s.repo.InsertTx(ctx, tx, next)
		if err != nil {
			return Negotiation{}, err
		}

		if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
			TransactionID: &resolved.TransactionID,
			EventType:     audit.EventProposalResponded,
			Description:   fmt.Sprintf("round %d countered; round %d opened", resolved.Round, next.Round),
			ActorID:       &params.RespondedBy,
			PreviousState: map[string]any{"round": resolved.Round, "proposed_terms": resolved.ProposedTerms},
			NewState:      map[string]any{"round": next.Round, "proposed_terms": next.ProposedTerms},
			ChangedFields: []string{"proposed_terms"},
			SecurityLevel: audit.SecurityStandard,
			Metadata:      map[string]any{"negotiation_id": resolved.ID, "next_negotiation_id": next.ID},
		}); err != nil {
			return Negotiation{}, err
		}
		return next, nil
	}
	return Negotiation{}, fmt.Errorf("%w: %q", ErrInvalidResponseType, params.Response)
}

// Get loads one round with derived expiry applied.
func (s *Service) Get(ctx context.Context, id string) (Negotiation, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return Negotiation{}, err
	}
	n.Status = n.EffectiveStatus(s.now())
	return n, nil
}

// History returns every round for a transaction with derived expiry applied.
func (s *Service) History(ctx context.Context, transactionID string) ([]Negotiation, error) {
	rounds, err := s.repo.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range rounds {
		rounds[i].Status = rounds[i].EffectiveStatus(now)
	}
	return rounds, nil
}

// SweepExpired writes derived expiry down for open rounds whose window has
// passed, one ledger entry per swept round. Readers never depend on this;
// it keeps listings honest for clients that read rows directly.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("negotiation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swept, err := s.repo.SweepExpired(ctx, tx, s.now())
	if err != nil {
		return 0, err
	}
	actor := audit.SystemActor
	for _, e := range swept {
		if _, err := s.ledger.Append(ctx, tx, audit.AppendParams{
			TransactionID: &e.TransactionID,
			EventType:     audit.EventProposalResponded,
			Description:   fmt.Sprintf("round %d expired unanswered", e.Round),
			ActorID:       &actor,
			SecurityLevel: audit.SecurityStandard,
			Metadata:      map[string]any{"negotiation_id": e.ID, "outcome": "expired"},
		}); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("negotiation: commit sweep: %w", err)
	}
	return len(swept), nil
}

// diffTerms reports, per key, what a counter changed against the previous
// terms.
func diffTerms(prev, next map[string]any) map[string]any {
	changes := make(map[string]any)
	for k, nv := range next {
		pv, ok := prev[k]
		if !ok {
			changes[k] = map[string]any{"added": nv}
			continue
		}
		if !reflect.DeepEqual(pv, nv) {
			changes[k] = map[string]any{"from": pv, "to": nv}
		}
	}
	for k, pv := range prev {
		if _, ok := next[k]; !ok {
			changes[k] = map[string]any{"removed": pv}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}
