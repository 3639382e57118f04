package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

// fakeStore mimics the repository's append behavior in memory: it links
// PrevDigest to the tail, truncates timestamps and assigns seq.
type fakeStore struct {
	entries []Entry
}

func (f *fakeStore) InsertTx(_ context.Context, _ pgx.Tx, e Entry) (Entry, error) {
	prev := ""
	if len(f.entries) > 0 {
		prev = f.entries[len(f.entries)-1].Digest
	}
	e.PrevDigest = prev
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Microsecond)
	d, err := ComputeDigest(e)
	if err != nil {
		return Entry{}, err
	}
	e.Digest = d
	e.Seq = int64(len(f.entries) + 1)
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (Entry, error) {
	for _, e := range f.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (f *fakeStore) ListRange(_ context.Context, start, end time.Time, afterSeq int64, limit int, filters RangeFilters) ([]Entry, error) {
	var out []Entry
	for _, e := range f.entries {
		if e.Seq <= afterSeq {
			continue
		}
		if e.OccurredAt.Before(start) || !e.OccurredAt.Before(end) {
			continue
		}
		if filters.TransactionID != nil && (e.TransactionID == nil || *e.TransactionID != *filters.TransactionID) {
			continue
		}
		if filters.EventType != nil && e.EventType != *filters.EventType {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ListChain(_ context.Context, afterSeq int64, limit int) ([]Entry, error) {
	var out []Entry
	for _, e := range f.entries {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newTestLedger(store *fakeStore) *Ledger {
	var (
		tick  = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		count int
	)
	return NewLedger(store).
		WithClock(func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		}).
		WithIDGenerator(func() string {
			count++
			return fmt.Sprintf("entry-%d", count)
		})
}

func appendN(t *testing.T, ledger *Ledger, n int) {
	t.Helper()
	txID := "tx-1"
	for i := 0; i < n; i++ {
		_, err := ledger.Append(context.Background(), nil, AppendParams{
			TransactionID: &txID,
			EventType:     EventStatusChanged,
			Description:   fmt.Sprintf("step %d", i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestAppend_LinksChain(t *testing.T) {
	store := &fakeStore{}
	ledger := newTestLedger(store)
	appendN(t, ledger, 3)

	if store.entries[0].PrevDigest != "" {
		t.Errorf("genesis entry must have empty prev digest")
	}
	for i := 1; i < len(store.entries); i++ {
		if store.entries[i].PrevDigest != store.entries[i-1].Digest {
			t.Errorf("entry %d not linked to predecessor", i)
		}
	}

	ok, _, err := ledger.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if !ok {
		t.Errorf("fresh chain must verify")
	}
}

func TestAppend_DefaultsSecurityLevel(t *testing.T) {
	store := &fakeStore{}
	ledger := newTestLedger(store)
	appendN(t, ledger, 1)
	if store.entries[0].SecurityLevel != SecurityStandard {
		t.Errorf("security level: got %s", store.entries[0].SecurityLevel)
	}
}

func TestVerifyChain_DetectsContentTamper(t *testing.T) {
	store := &fakeStore{}
	ledger := newTestLedger(store)
	appendN(t, ledger, 3)

	store.entries[1].Description = "rewritten"

	ok, brokenSeq, err := ledger.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if ok {
		t.Fatalf("tampered chain must not verify")
	}
	if brokenSeq != 2 {
		t.Errorf("broken seq: got %d, want 2", brokenSeq)
	}
}

func TestVerifyChain_DetectsDeletion(t *testing.T) {
	store := &fakeStore{}
	ledger := newTestLedger(store)
	appendN(t, ledger, 3)

	// Drop the middle entry; each survivor still matches its own digest but
	// the link from 1 to 3 is broken.
	store.entries = append(store.entries[:1], store.entries[2:]...)

	ok, brokenSeq, err := ledger.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if ok {
		t.Fatalf("chain with deleted entry must not verify")
	}
	if brokenSeq != 3 {
		t.Errorf("broken seq: got %d, want 3", brokenSeq)
	}
}

func TestVerifyChain_EmptyLedger(t *testing.T) {
	ledger := newTestLedger(&fakeStore{})
	ok, _, err := ledger.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if !ok {
		t.Errorf("empty ledger is intact")
	}
}

func TestVerify_SingleEntry(t *testing.T) {
	store := &fakeStore{}
	ledger := newTestLedger(store)
	appendN(t, ledger, 1)

	ok, err := ledger.Verify(context.Background(), "entry-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Errorf("untouched entry must verify")
	}

	store.entries[0].NewState = map[string]any{"status": "forged"}
	ok, err = ledger.Verify(context.Background(), "entry-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Errorf("tampered entry must not verify")
	}
}

func TestRangeIterator_PagesAndResets(t *testing.T) {
	store := &fakeStore{}
	ledger := newTestLedger(store)
	appendN(t, ledger, 5)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	it := ledger.QueryRange(start, end, RangeFilters{})
	it.batch = 2

	var seqs []int64
	for {
		batch, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if batch == nil {
			break
		}
		for _, e := range batch {
			seqs = append(seqs, e.Seq)
		}
	}
	if len(seqs) != 5 {
		t.Fatalf("seqs: %v", seqs)
	}
	for i, s := range seqs {
		if s != int64(i+1) {
			t.Fatalf("iteration order: %v", seqs)
		}
	}

	it.Reset()
	batch, err := it.Next(context.Background())
	if err != nil {
		t.Fatalf("next after reset: %v", err)
	}
	if len(batch) != 2 || batch[0].Seq != 1 {
		t.Errorf("reset must rewind to the range start: %+v", batch)
	}
}

func TestRangeIterator_BoundsAreHalfOpen(t *testing.T) {
	store := &fakeStore{}
	ledger := newTestLedger(store)
	appendN(t, ledger, 3)

	// Entries occur at 09:00:01, 09:00:02, 09:00:03.
	start := time.Date(2025, 6, 1, 9, 0, 1, 0, time.UTC)
	end := time.Date(2025, 6, 1, 9, 0, 3, 0, time.UTC)

	it := ledger.QueryRange(start, end, RangeFilters{})
	var got int
	for {
		batch, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if batch == nil {
			break
		}
		got += len(batch)
	}
	if got != 2 {
		t.Errorf("half-open range [start, end): got %d entries, want 2", got)
	}
}
