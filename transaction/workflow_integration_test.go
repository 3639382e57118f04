package transaction_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"clearinghouse/audit"
	"clearinghouse/negotiation"
	"clearinghouse/test/infra"
	"clearinghouse/transaction"
	"clearinghouse/validation"
)

// TestWorkflow_Integration runs the whole workflow against a real PostgreSQL:
// create, negotiate, validate to quorum, complete, then verify the ledger
// chain end to end. Needs Docker or DATABASE_URL.
func TestWorkflow_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgC, dsn, err := infra.StartPostgres16(ctx, "")
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, cleanup, err := infra.ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = cleanup(context.Background())
	})

	providerOrg := seedOrg(ctx, t, pool, "Provider KKKS", "kkks")
	consumerOrg := seedOrg(ctx, t, pool, "SKK Migas", "skk_migas")
	initiator := seedUser(ctx, t, pool, "initiator", providerOrg)
	responder := seedUser(ctx, t, pool, "responder", consumerOrg)
	validator1 := seedUser(ctx, t, pool, "validator1", consumerOrg)
	validator2 := seedUser(ctx, t, pool, "validator2", consumerOrg)

	ledger := audit.NewLedger(audit.NewRepository(pool))
	txSvc := transaction.NewService(pool, transaction.NewRepository(pool), ledger, validation.NewRepository(pool))
	negSvc := negotiation.NewService(pool, negotiation.NewRepository(pool), ledger, txSvc)

	created, err := txSvc.Create(ctx, transaction.CreateParams{
		InitiatorUserID:   initiator,
		ProviderOrgID:     providerOrg,
		ConsumerOrgID:     consumerOrg,
		ResourceID:        "3b7e7cbe-3c3f-4a54-9edb-000000000001",
		RequiredApprovals: 2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	proposal, err := negSvc.Propose(ctx, negotiation.ProposeParams{
		TransactionID: created.ID,
		ProposedBy:    initiator,
		ProposedTerms: map[string]any{"price": 150000.0, "delivery": "sftp"},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	accepted, err := negSvc.Respond(ctx, negotiation.RespondParams{
		NegotiationID: proposal.ID,
		Response:      negotiation.ResponseAccept,
		RespondedBy:   responder,
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if accepted.Status != negotiation.StatusAccepted {
		t.Fatalf("negotiation status: got %s", accepted.Status)
	}

	current, err := txSvc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after accept: %v", err)
	}
	if current.Status != transaction.StatusPendingApproval {
		t.Fatalf("status after accept: got %s, want %s", current.Status, transaction.StatusPendingApproval)
	}
	if current.ContractTerms["delivery"] != "sftp" {
		t.Fatalf("accepted terms not written: %+v", current.ContractTerms)
	}

	first, err := txSvc.RecordValidation(ctx, transaction.RecordValidationParams{
		TransactionID:   created.ID,
		ValidatorUserID: validator1,
		ValidatorRole:   validation.RoleRegulator,
		Method:          validation.MethodManualReview,
		Decision:        validation.DecisionApprove,
		Reasoning:       "documents verified",
	})
	if err != nil {
		t.Fatalf("first validation: %v", err)
	}
	if first.StatusChanged {
		t.Fatalf("one of two approvals must not flip the status")
	}

	second, err := txSvc.RecordValidation(ctx, transaction.RecordValidationParams{
		TransactionID:   created.ID,
		ValidatorUserID: validator2,
		ValidatorRole:   validation.RoleAuditor,
		Method:          validation.MethodDigitalSignature,
		Decision:        validation.DecisionApprove,
		Reasoning:       "signature checked",
	})
	if err != nil {
		t.Fatalf("second validation: %v", err)
	}
	if !second.StatusChanged || second.Transaction.Status != transaction.StatusApproved {
		t.Fatalf("quorum flip: %+v", second.Transaction)
	}
	if second.Transaction.CurrentApprovals > second.Transaction.RequiredApprovals {
		t.Fatalf("advisory counter exceeds quorum: %+v", second.Transaction)
	}

	decisions, err := txSvc.Validations(ctx, created.ID)
	if err != nil {
		t.Fatalf("validations: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("recorded decisions: got %d, want 2", len(decisions))
	}
	byID, err := txSvc.GetValidation(ctx, decisions[0].ID)
	if err != nil {
		t.Fatalf("get validation: %v", err)
	}
	if byID.ValidatorUserID != decisions[0].ValidatorUserID {
		t.Fatalf("validation lookup: %+v", byID)
	}

	completed, err := txSvc.Complete(ctx, created.ID, initiator)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != transaction.StatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("completed: %+v", completed)
	}

	ok, brokenSeq, err := ledger.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if !ok {
		t.Fatalf("ledger chain broken at seq %d", brokenSeq)
	}

	it := ledger.QueryRange(time.Now().Add(-time.Hour), time.Now().Add(time.Hour), audit.RangeFilters{TransactionID: &created.ID})
	total := 0
	for {
		batch, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("query range: %v", err)
		}
		if batch == nil {
			break
		}
		total += len(batch)
	}
	// created, proposal, accepted, 2 validations, quorum flip, completed
	if total < 7 {
		t.Fatalf("ledger entries for transaction: got %d, want at least 7", total)
	}
}

// TestRespond_ConcurrentResolution_Integration races an accept against a
// reject on the same open round; exactly one must win.
func TestRespond_ConcurrentResolution_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgC, dsn, err := infra.StartPostgres16(ctx, "")
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, cleanup, err := infra.ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = cleanup(context.Background())
	})

	providerOrg := seedOrg(ctx, t, pool, "Provider KKKS", "kkks")
	consumerOrg := seedOrg(ctx, t, pool, "SKK Migas", "skk_migas")
	initiator := seedUser(ctx, t, pool, "initiator", providerOrg)
	responder := seedUser(ctx, t, pool, "responder", consumerOrg)

	ledger := audit.NewLedger(audit.NewRepository(pool))
	txSvc := transaction.NewService(pool, transaction.NewRepository(pool), ledger, validation.NewRepository(pool))
	negSvc := negotiation.NewService(pool, negotiation.NewRepository(pool), ledger, txSvc)

	created, err := txSvc.Create(ctx, transaction.CreateParams{
		InitiatorUserID:   initiator,
		ProviderOrgID:     providerOrg,
		ConsumerOrgID:     consumerOrg,
		ResourceID:        "3b7e7cbe-3c3f-4a54-9edb-000000000002",
		RequiredApprovals: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	proposal, err := negSvc.Propose(ctx, negotiation.ProposeParams{
		TransactionID: created.ID,
		ProposedBy:    initiator,
		ProposedTerms: map[string]any{"price": 1000.0},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	results := make([]error, 2)
	var grp errgroup.Group
	for i, response := range []negotiation.ResponseType{negotiation.ResponseAccept, negotiation.ResponseReject} {
		grp.Go(func() error {
			_, err := negSvc.Respond(ctx, negotiation.RespondParams{
				NegotiationID: proposal.ID,
				Response:      response,
				RespondedBy:   responder,
			})
			results[i] = err
			return nil
		})
	}
	_ = grp.Wait()

	winners, losers := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, negotiation.ErrAlreadyResolved):
			losers++
		default:
			t.Fatalf("unexpected responder error: %v", err)
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d losers", winners, losers)
	}

	resolved, err := negSvc.Get(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("get negotiation: %v", err)
	}
	if resolved.Status != negotiation.StatusAccepted && resolved.Status != negotiation.StatusRejected {
		t.Fatalf("round left unresolved: %s", resolved.Status)
	}
}

func seedOrg(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name, orgType string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx,
		`INSERT INTO organizations (name, org_type, verified) VALUES ($1, $2::organization_type, TRUE) RETURNING id`,
		name, orgType).Scan(&id)
	if err != nil {
		t.Fatalf("seed org %s: %v", name, err)
	}
	return id
}

func seedUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, handle, orgID string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, organization_id) VALUES ($1, $2, 'x', $3) RETURNING id`,
		fmt.Sprintf("%s+%d@example.com", handle, time.Now().UnixNano()), handle, orgID).Scan(&id)
	if err != nil {
		t.Fatalf("seed user %s: %v", handle, err)
	}
	return id
}
