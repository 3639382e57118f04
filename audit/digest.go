package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// digestInput fixes the field order of the digest preimage. encoding/json
// emits struct fields in declaration order and map keys sorted, so the same
// entry content always produces the same bytes.
type digestInput struct {
	TransactionID   *string        `json:"transaction_id"`
	EventType       string         `json:"event_type"`
	Description     string         `json:"event_description"`
	ActorID         *string        `json:"actor_id"`
	PreviousState   map[string]any `json:"previous_state,omitempty"`
	NewState        map[string]any `json:"new_state,omitempty"`
	ChangedFields   []string       `json:"changed_fields,omitempty"`
	SecurityLevel   string         `json:"security_level"`
	ComplianceFlags []string       `json:"compliance_flags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	OccurredAt      string         `json:"occurred_at"`
	PrevDigest      string         `json:"prev_digest"`
}

// ComputeDigest hashes the canonical JSON form of the entry content,
// including PrevDigest. The Digest and Seq fields are not part of the
// preimage. OccurredAt must already be truncated to microseconds (the
// resolution Postgres stores) or verification after a round trip will fail.
func ComputeDigest(e Entry) (string, error) {
	in := digestInput{
		TransactionID:   e.TransactionID,
		EventType:       string(e.EventType),
		Description:     e.Description,
		ActorID:         e.ActorID,
		PreviousState:   e.PreviousState,
		NewState:        e.NewState,
		ChangedFields:   e.ChangedFields,
		SecurityLevel:   string(e.SecurityLevel),
		ComplianceFlags: e.ComplianceFlags,
		Metadata:        e.Metadata,
		OccurredAt:      e.OccurredAt.UTC().Format(time.RFC3339Nano),
		PrevDigest:      e.PrevDigest,
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("audit: marshal digest input: %w", err)
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// VerifyEntry recomputes the digest from the entry content and compares it to
// the stored one. A false result means the row was altered out-of-band or the
// chain link is wrong; it is reported, not raised.
func VerifyEntry(e Entry) bool {
	d, err := ComputeDigest(e)
	if err != nil {
		return false
	}
	return d == e.Digest
}
