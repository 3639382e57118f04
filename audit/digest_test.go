package audit

import (
	"strings"
	"testing"
	"time"
)

func sampleEntry() Entry {
	txID := "tx-1"
	actor := "user-1"
	return Entry{
		ID:            "entry-1",
		TransactionID: &txID,
		EventType:     EventStatusChanged,
		Description:   "status pending_approval -> approved",
		ActorID:       &actor,
		PreviousState: map[string]any{"status": "pending_approval"},
		NewState:      map[string]any{"status": "approved"},
		ChangedFields: []string{"status"},
		SecurityLevel: SecurityHigh,
		Metadata:      map[string]any{"round": 2},
		OccurredAt:    time.Date(2025, 6, 1, 10, 0, 0, 123456000, time.UTC),
		PrevDigest:    "sha256:abc",
	}
}

func TestComputeDigest_Deterministic(t *testing.T) {
	e := sampleEntry()
	first, err := ComputeDigest(e)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, err := ComputeDigest(e)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if first != second {
		t.Errorf("digest not deterministic: %s vs %s", first, second)
	}
	if !strings.HasPrefix(first, "sha256:") {
		t.Errorf("digest format: %s", first)
	}
}

func TestComputeDigest_TimezoneNormalized(t *testing.T) {
	e := sampleEntry()
	utc, err := ComputeDigest(e)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	jakarta := time.FixedZone("WIB", 7*3600)
	e.OccurredAt = e.OccurredAt.In(jakarta)
	local, err := ComputeDigest(e)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if utc != local {
		t.Errorf("digest must not depend on timestamp zone representation")
	}
}

func TestVerifyEntry_DetectsMutation(t *testing.T) {
	e := sampleEntry()
	d, err := ComputeDigest(e)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	e.Digest = d
	if !VerifyEntry(e) {
		t.Fatalf("untouched entry must verify")
	}

	mutations := []func(Entry) Entry{
		func(e Entry) Entry { e.Description = "status approved -> completed"; return e },
		func(e Entry) Entry { e.NewState = map[string]any{"status": "rejected"}; return e },
		func(e Entry) Entry { e.PrevDigest = "sha256:def"; return e },
		func(e Entry) Entry {
			other := "someone-else"
			e.ActorID = &other
			return e
		},
		func(e Entry) Entry { e.OccurredAt = e.OccurredAt.Add(time.Microsecond); return e },
		func(e Entry) Entry { e.SecurityLevel = SecurityLow; return e },
	}
	for i, mutate := range mutations {
		if VerifyEntry(mutate(e)) {
			t.Errorf("mutation %d must break verification", i)
		}
	}
}

func TestVerifyEntry_DigestExcludesSeq(t *testing.T) {
	e := sampleEntry()
	d, err := ComputeDigest(e)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	e.Digest = d
	e.Seq = 42
	if !VerifyEntry(e) {
		t.Errorf("seq is assigned by the database and must not affect the digest")
	}
}

func TestComputeDigest_NilAndEmptyCollectionsAgree(t *testing.T) {
	a := sampleEntry()
	a.ChangedFields = nil
	a.ComplianceFlags = nil

	b := sampleEntry()
	b.ChangedFields = []string{}
	b.ComplianceFlags = []string{}

	da, err := ComputeDigest(a)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	db, err := ComputeDigest(b)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// The repository normalizes nil slices to empty before storing; the
	// digest must not tell the two apart or verification after a round trip
	// would fail.
	if da != db {
		t.Errorf("nil and empty collections must digest identically")
	}
}
