package negotiation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"clearinghouse/audit"
	"clearinghouse/transaction"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestService(pool *fakePool, repo *fakeRepo, ledger *fakeLedger, txns *fakeStateMachine) *Service {
	return NewService(pool, repo, ledger, txns).
		WithClock(func() time.Time { return testNow }).
		WithIDGenerator(func() string { return "neg-new" })
}

func openRound(validUntil time.Time) Negotiation {
	return Negotiation{
		ID:            "neg-1",
		TransactionID: "tx-1",
		Round:         1,
		ProposalType:  ProposalInitial,
		ProposedBy:    "user-1",
		ProposedTerms: map[string]any{"price": 1000.0, "duration": "12m"},
		ValidUntil:    validUntil,
		Status:        StatusOpen,
	}
}

func TestPropose_OpensRoundOne(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	ledger := &fakeLedger{}
	svc := newTestService(pool, repo, ledger, &fakeStateMachine{})

	created, err := svc.Propose(context.Background(), ProposeParams{
		TransactionID: "tx-1",
		ProposedBy:    "user-1",
		ProposedTerms: map[string]any{"price": 1000.0},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if created.Round != 1 || created.ProposalType != ProposalInitial || created.Status != StatusOpen {
		t.Errorf("round: %+v", created)
	}
	if want := testNow.Add(DefaultValidity); !created.ValidUntil.Equal(want) {
		t.Errorf("valid until: got %v, want %v", created.ValidUntil, want)
	}
	if len(ledger.entries) != 1 || ledger.entries[0].EventType != audit.EventProposalSubmitted {
		t.Errorf("ledger entries: %+v", ledger.entries)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
}

func TestPropose_RequiresTerms(t *testing.T) {
	svc := newTestService(&fakePool{}, &fakeRepo{}, &fakeLedger{}, &fakeStateMachine{})
	_, err := svc.Propose(context.Background(), ProposeParams{
		TransactionID: "tx-1",
		ProposedBy:    "user-1",
	})
	if err == nil {
		t.Fatalf("expected error for missing terms")
	}
}

func TestPropose_RejectsPastValidity(t *testing.T) {
	svc := newTestService(&fakePool{}, &fakeRepo{}, &fakeLedger{}, &fakeStateMachine{})
	past := testNow.Add(-time.Hour)
	_, err := svc.Propose(context.Background(), ProposeParams{
		TransactionID: "tx-1",
		ProposedBy:    "user-1",
		ProposedTerms: map[string]any{"price": 1.0},
		ValidUntil:    &past,
	})
	if err == nil {
		t.Fatalf("expected error for past validity window")
	}
}

func TestPropose_UnknownTransaction(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	txns := &fakeStateMachine{ownerErr: transaction.ErrNotFound}
	svc := newTestService(pool, repo, &fakeLedger{}, txns)

	_, err := svc.Propose(context.Background(), ProposeParams{
		TransactionID: "tx-missing",
		ProposedBy:    "user-1",
		ProposedTerms: map[string]any{"price": 1000.0},
	})
	if !errors.Is(err, transaction.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Errorf("no round may be opened: %+v", repo.inserted)
	}
	if pool.tx.committed {
		t.Errorf("expected rollback")
	}
}

func TestPropose_TerminalTransaction(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	ledger := &fakeLedger{}
	txns := &fakeStateMachine{owner: transaction.Transaction{ID: "tx-1", Status: transaction.StatusRejected}}
	svc := newTestService(pool, repo, ledger, txns)

	_, err := svc.Propose(context.Background(), ProposeParams{
		TransactionID: "tx-1",
		ProposedBy:    "user-1",
		ProposedTerms: map[string]any{"price": 1000.0},
	})
	if !errors.Is(err, transaction.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if len(ledger.entries) != 0 {
		t.Errorf("terminal workflow must gain no ledger entries: %+v", ledger.entries)
	}
}

func TestPropose_OpenRoundConflict(t *testing.T) {
	pool := &fakePool{}
	open := openRound(testNow.Add(time.Hour))
	repo := &fakeRepo{open: &open}
	svc := newTestService(pool, repo, &fakeLedger{}, &fakeStateMachine{})

	_, err := svc.Propose(context.Background(), ProposeParams{
		TransactionID: "tx-1",
		ProposedBy:    "user-1",
		ProposedTerms: map[string]any{"price": 2000.0},
	})
	if !errors.Is(err, ErrRoundConflict) {
		t.Fatalf("expected ErrRoundConflict, got %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Errorf("no round may be opened: %+v", repo.inserted)
	}
}

func TestPropose_AutoAcceptResolvesImmediately(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	txns := &fakeStateMachine{}
	svc := newTestService(pool, repo, &fakeLedger{}, txns)

	resolved, err := svc.Propose(context.Background(), ProposeParams{
		TransactionID: "tx-1",
		ProposedBy:    "user-1",
		ProposedTerms: map[string]any{"price": 1000.0},
		AutoAccept:    true,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if resolved.Status != StatusAccepted {
		t.Errorf("status: got %s, want %s", resolved.Status, StatusAccepted)
	}
	if len(txns.outcomes) != 1 || txns.outcomes[0].Kind != transaction.OutcomeAccepted {
		t.Fatalf("outcomes: %+v", txns.outcomes)
	}
}

func TestRespond_AcceptAppliesOutcomeInSameTx(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{current: openRound(testNow.Add(time.Hour))}
	txns := &fakeStateMachine{}
	svc := newTestService(pool, repo, &fakeLedger{}, txns)

	resolved, err := svc.Respond(context.Background(), RespondParams{
		NegotiationID: "neg-1",
		Response:      ResponseAccept,
		RespondedBy:   "user-2",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resolved.Status != StatusAccepted {
		t.Errorf("status: got %s", resolved.Status)
	}
	if len(txns.outcomes) != 1 {
		t.Fatalf("outcomes: %+v", txns.outcomes)
	}
	outcome := txns.outcomes[0]
	if outcome.Kind != transaction.OutcomeAccepted {
		t.Errorf("kind: got %s", outcome.Kind)
	}
	if outcome.AcceptedTerms["price"] != 1000.0 {
		t.Errorf("accepted terms must be the open round's proposed terms: %+v", outcome.AcceptedTerms)
	}
	if !pool.tx.committed {
		t.Errorf("resolution and outcome must commit together")
	}
}

func TestRespond_RejectAppliesRejectedOutcome(t *testing.T) {
	repo := &fakeRepo{current: openRound(testNow.Add(time.Hour))}
	txns := &fakeStateMachine{}
	svc := newTestService(&fakePool{}, repo, &fakeLedger{}, txns)

	resolved, err := svc.Respond(context.Background(), RespondParams{
		NegotiationID: "neg-1",
		Response:      ResponseReject,
		RespondedBy:   "user-2",
		Notes:         "terms unacceptable",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resolved.Status != StatusRejected {
		t.Errorf("status: got %s", resolved.Status)
	}
	if len(txns.outcomes) != 1 || txns.outcomes[0].Kind != transaction.OutcomeRejected {
		t.Fatalf("outcomes: %+v", txns.outcomes)
	}
}

func TestRespond_CounterOpensNextRound(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{current: openRound(testNow.Add(time.Hour))}
	txns := &fakeStateMachine{}
	ledger := &fakeLedger{}
	svc := newTestService(pool, repo, ledger, txns)

	counter := map[string]any{"price": 800.0, "duration": "12m"}
	next, err := svc.Respond(context.Background(), RespondParams{
		NegotiationID: "neg-1",
		Response:      ResponseCounter,
		RespondedBy:   "user-2",
		CounterTerms:  counter,
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if next.Round != 2 || next.ProposalType != ProposalCounterOffer || next.Status != StatusOpen {
		t.Errorf("next round: %+v", next)
	}
	if next.PreviousTerms["price"] != 1000.0 {
		t.Errorf("previous terms must carry the countered proposal: %+v", next.PreviousTerms)
	}
	if next.Changes == nil {
		t.Errorf("counter must record a diff against previous terms")
	}
	if len(repo.resolved) != 1 || repo.resolved[0].Status != StatusCounterOffered {
		t.Errorf("resolved: %+v", repo.resolved)
	}
	if len(txns.outcomes) != 0 {
		t.Errorf("counter must not touch the transaction: %+v", txns.outcomes)
	}
	if len(ledger.entries) != 1 || ledger.entries[0].EventType != audit.EventProposalResponded {
		t.Errorf("ledger entries: %+v", ledger.entries)
	}
}

func TestRespond_CounterRequiresTerms(t *testing.T) {
	svc := newTestService(&fakePool{}, &fakeRepo{}, &fakeLedger{}, &fakeStateMachine{})
	_, err := svc.Respond(context.Background(), RespondParams{
		NegotiationID: "neg-1",
		Response:      ResponseCounter,
		RespondedBy:   "user-2",
	})
	if err == nil {
		t.Fatalf("expected error for counter without terms")
	}
}

func TestRespond_AlreadyResolved(t *testing.T) {
	round := openRound(testNow.Add(time.Hour))
	round.Status = StatusAccepted
	repo := &fakeRepo{current: round}
	svc := newTestService(&fakePool{}, repo, &fakeLedger{}, &fakeStateMachine{})

	_, err := svc.Respond(context.Background(), RespondParams{
		NegotiationID: "neg-1",
		Response:      ResponseReject,
		RespondedBy:   "user-2",
	})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestRespond_ExpiredWithoutMutation(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{current: openRound(testNow.Add(-time.Minute))}
	svc := newTestService(pool, repo, &fakeLedger{}, &fakeStateMachine{})

	_, err := svc.Respond(context.Background(), RespondParams{
		NegotiationID: "neg-1",
		Response:      ResponseAccept,
		RespondedBy:   "user-2",
	})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if len(repo.resolved) != 0 {
		t.Errorf("expired response must not write the row")
	}
	if pool.tx.committed {
		t.Errorf("expected rollback")
	}
}

func TestRespond_InvalidResponseType(t *testing.T) {
	svc := newTestService(&fakePool{}, &fakeRepo{}, &fakeLedger{}, &fakeStateMachine{})
	_, err := svc.Respond(context.Background(), RespondParams{
		NegotiationID: "neg-1",
		Response:      ResponseType("renegotiate"),
		RespondedBy:   "user-2",
	})
	if !errors.Is(err, ErrInvalidResponseType) {
		t.Fatalf("expected ErrInvalidResponseType, got %v", err)
	}
}

func TestEffectiveStatus(t *testing.T) {
	n := openRound(testNow.Add(-time.Second))
	if got := n.EffectiveStatus(testNow); got != StatusExpired {
		t.Errorf("open past validity: got %s, want %s", got, StatusExpired)
	}
	n = openRound(testNow.Add(time.Second))
	if got := n.EffectiveStatus(testNow); got != StatusOpen {
		t.Errorf("open inside validity: got %s", got)
	}
	n.Status = StatusAccepted
	n.ValidUntil = testNow.Add(-time.Hour)
	if got := n.EffectiveStatus(testNow); got != StatusAccepted {
		t.Errorf("resolved rounds never expire: got %s", got)
	}
}

func TestDiffTerms(t *testing.T) {
	prev := map[string]any{"price": 1000.0, "duration": "12m", "sla": "gold"}
	next := map[string]any{"price": 800.0, "duration": "12m", "penalty": "2%"}

	changes := diffTerms(prev, next)
	if len(changes) != 3 {
		t.Fatalf("changes: %+v", changes)
	}
	if _, ok := changes["duration"]; ok {
		t.Errorf("unchanged keys must not appear in the diff")
	}
	if _, ok := changes["price"]; !ok {
		t.Errorf("modified keys must appear in the diff")
	}
	if _, ok := changes["penalty"]; !ok {
		t.Errorf("added keys must appear in the diff")
	}
	if _, ok := changes["sla"]; !ok {
		t.Errorf("removed keys must appear in the diff")
	}

	if diffTerms(prev, prev) != nil {
		t.Errorf("identical terms must diff to nil")
	}
}

type fakeRepo struct {
	current  Negotiation
	open     *Negotiation
	getErr   error
	inserted []Negotiation
	resolved []Negotiation
	swept    []ExpiredRound
}

func (f *fakeRepo) InsertTx(_ context.Context, _ pgx.Tx, n Negotiation) (Negotiation, error) {
	f.inserted = append(f.inserted, n)
	return n, nil
}

func (f *fakeRepo) GetForUpdateTx(_ context.Context, _ pgx.Tx, _ string) (Negotiation, error) {
	return f.current, f.getErr
}

func (f *fakeRepo) OpenRoundTx(_ context.Context, _ pgx.Tx, _ string) (Negotiation, error) {
	if f.open == nil {
		return Negotiation{}, ErrNotFound
	}
	return *f.open, nil
}

func (f *fakeRepo) ResolveTx(_ context.Context, _ pgx.Tx, n Negotiation) (Negotiation, error) {
	f.resolved = append(f.resolved, n)
	return n, nil
}

func (f *fakeRepo) Get(_ context.Context, _ string) (Negotiation, error) {
	return f.current, f.getErr
}

func (f *fakeRepo) ListByTransaction(_ context.Context, _ string) ([]Negotiation, error) {
	return nil, nil
}

func (f *fakeRepo) SweepExpired(_ context.Context, _ pgx.Tx, _ time.Time) ([]ExpiredRound, error) {
	return f.swept, nil
}

type fakeStateMachine struct {
	owner    transaction.Transaction
	ownerErr error
	outcomes []transaction.NegotiationOutcome
}

func (f *fakeStateMachine) GetForUpdateTx(_ context.Context, _ pgx.Tx, id string) (transaction.Transaction, error) {
	if f.ownerErr != nil {
		return transaction.Transaction{}, f.ownerErr
	}
	owner := f.owner
	if owner.ID == "" {
		owner.ID = id
	}
	if owner.Status == "" {
		owner.Status = transaction.StatusInitiated
	}
	return owner, nil
}

func (f *fakeStateMachine) ApplyNegotiationOutcomeTx(_ context.Context, _ pgx.Tx, outcome transaction.NegotiationOutcome) (transaction.Transaction, error) {
	f.outcomes = append(f.outcomes, outcome)
	return transaction.Transaction{ID: outcome.TransactionID}, nil
}

type fakeLedger struct {
	entries []audit.AppendParams
}

func (f *fakeLedger) Append(_ context.Context, _ pgx.Tx, params audit.AppendParams) (audit.Entry, error) {
	f.entries = append(f.entries, params)
	return audit.Entry{ID: "entry-1", EventType: params.EventType}, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
