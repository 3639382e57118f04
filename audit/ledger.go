package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"clearinghouse/metrics"
)

// Store is the persistence surface the ledger needs; satisfied by
// *Repository and by test fakes.
type Store interface {
	InsertTx(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error)
	GetByID(ctx context.Context, id string) (Entry, error)
	ListRange(ctx context.Context, start, end time.Time, afterSeq int64, limit int, filters RangeFilters) ([]Entry, error)
	ListChain(ctx context.Context, afterSeq int64, limit int) ([]Entry, error)
}

// Ledger is the append-only, tamper-evident event log for the workflow.
type Ledger struct {
	repo    Store
	metrics *metrics.Metrics
	now     func() time.Time
	idGen   func() string
}

func NewLedger(repo Store) *Ledger {
	return &Ledger{
		repo:  repo,
		now:   time.Now,
		idGen: func() string { return uuid.NewString() },
	}
}

// WithMetrics attaches prometheus counters; nil-safe when not wired.
func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.metrics = m
	return l
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	l.idGen = gen
	return l
}

// Append records a workflow event inside the caller's transaction. The entry
// commits or rolls back together with the state change that triggered it; a
// status must never change without its ledger entry.
func (l *Ledger) Append(ctx context.Context, tx pgx.Tx, params AppendParams) (Entry, error) {
	if params.EventType == "" {
		return Entry{}, fmt.Errorf("audit: event type required")
	}
	if params.SecurityLevel == "" {
		params.SecurityLevel = SecurityStandard
	}

	entry := Entry{
		ID:              l.idGen(),
		TransactionID:   params.TransactionID,
		EventType:       params.EventType,
		Description:     params.Description,
		ActorID:         params.ActorID,
		PreviousState:   params.PreviousState,
		NewState:        params.NewState,
		ChangedFields:   params.ChangedFields,
		SecurityLevel:   params.SecurityLevel,
		ComplianceFlags: params.ComplianceFlags,
		Metadata:        params.Metadata,
		OccurredAt:      l.now(),
	}

	inserted, err := l.repo.InsertTx(ctx, tx, entry)
	if err != nil {
		return Entry{}, err
	}
	if l.metrics != nil {
		l.metrics.AuditEntriesAppended.Inc()
	}
	return inserted, nil
}

// TxBeginner matches *pgxpool.Pool for callers that hand the ledger its own
// transaction scope.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AppendSystem records an event with no surrounding workflow write, such as
// report generation, in a transaction of its own. The actor defaults to the
// SystemActor sentinel; it is never resolved by an ambient lookup.
func (l *Ledger) AppendSystem(ctx context.Context, pool TxBeginner, params AppendParams) (Entry, error) {
	if params.ActorID == nil {
		actor := SystemActor
		params.ActorID = &actor
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := l.Append(ctx, tx, params)
	if err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, fmt.Errorf("audit: commit system event: %w", err)
	}
	return entry, nil
}

// Verify recomputes the digest of one stored entry. A false result signals
// corruption or tampering; callers decide whether that is fatal.
func (l *Ledger) Verify(ctx context.Context, entryID string) (bool, error) {
	entry, err := l.repo.GetByID(ctx, entryID)
	if err != nil {
		return false, err
	}
	ok := VerifyEntry(entry)
	if !ok && l.metrics != nil {
		l.metrics.IntegrityFailures.Inc()
	}
	return ok, nil
}

// GetEntry exposes a single entry for callers that render or re-verify it.
func (l *Ledger) GetEntry(ctx context.Context, entryID string) (Entry, error) {
	return l.repo.GetByID(ctx, entryID)
}

// VerifyChain walks the ledger in seq order checking both each entry's digest
// and its link to the previous digest. It reports the seq of the first broken
// entry, or ok for an intact chain. Deleting or reordering rows breaks the
// link even when every surviving row still matches its own digest.
func (l *Ledger) VerifyChain(ctx context.Context) (ok bool, brokenSeq int64, err error) {
	const batch = 500
	var (
		cursor int64
		prev   string
		first  = true
	)
	for {
		entries, err := l.repo.ListChain(ctx, cursor, batch)
		if err != nil {
			return false, 0, err
		}
		if len(entries) == 0 {
			return true, 0, nil
		}
		for _, e := range entries {
			if !first && e.PrevDigest != prev {
				return false, e.Seq, nil
			}
			if !VerifyEntry(e) {
				if l.metrics != nil {
					l.metrics.IntegrityFailures.Inc()
				}
				return false, e.Seq, nil
			}
			prev = e.Digest
			first = false
			cursor = e.Seq
		}
	}
}

// QueryRange returns a restartable iterator over entries with timestamps in
// [start, end), ascending. Each Next call fetches one batch; Reset rewinds.
func (l *Ledger) QueryRange(start, end time.Time, filters RangeFilters) *RangeIterator {
	return &RangeIterator{
		ledger:  l,
		start:   start,
		end:     end,
		filters: filters,
		batch:   200,
	}
}

// RangeIterator pages through a ledger range using the seq cursor.
type RangeIterator struct {
	ledger  *Ledger
	start   time.Time
	end     time.Time
	filters RangeFilters
	batch   int
	cursor  int64
	done    bool
}

// Next returns the next batch of entries, or nil when the range is exhausted.
func (it *RangeIterator) Next(ctx context.Context) ([]Entry, error) {
	if it.done {
		return nil, nil
	}
	entries, err := it.ledger.repo.ListRange(ctx, it.start, it.end, it.cursor, it.batch, it.filters)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		it.done = true
		return nil, nil
	}
	it.cursor = entries[len(entries)-1].Seq
	if len(entries) < it.batch {
		it.done = true
	}
	return entries, nil
}

// Reset rewinds the iterator so the same range can be scanned again.
func (it *RangeIterator) Reset() {
	it.cursor = 0
	it.done = false
}
