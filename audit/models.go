package audit

import "time"

// EventType classifies workflow events recorded in the ledger.
type EventType string

const (
	EventTransactionCreated   EventType = "TRANSACTION_CREATED"
	EventStatusChanged        EventType = "STATUS_CHANGED"
	EventProposalSubmitted    EventType = "PROPOSAL_SUBMITTED"
	EventProposalResponded    EventType = "PROPOSAL_RESPONDED"
	EventValidationRecorded   EventType = "VALIDATION_RECORDED"
	EventTransactionUpdated   EventType = "TRANSACTION_UPDATED"
	EventTransactionCancelled EventType = "TRANSACTION_CANCELLED"
	EventTransactionDeleted   EventType = "TRANSACTION_DELETED"
	EventSystemConfiguration  EventType = "SYSTEM_CONFIGURATION"
	EventReportGenerated      EventType = "REPORT_GENERATED"
)

// SecurityLevel tags an entry for downstream retention and alerting rules.
type SecurityLevel string

const (
	SecurityLow      SecurityLevel = "low"
	SecurityStandard SecurityLevel = "standard"
	SecurityHigh     SecurityLevel = "high"
	SecurityCritical SecurityLevel = "critical"
)

// SystemActor identifies system-initiated events. Callers that act on behalf
// of no user must pass it explicitly; the ledger never resolves an ambient
// default actor.
const SystemActor = "system"

// Entry is one immutable row of the audit ledger. The digest covers every
// content field plus PrevDigest, so each entry is chained to the one before
// it. Seq is assigned by the database and orders the chain.
type Entry struct {
	ID              string
	Seq             int64
	TransactionID   *string
	EventType       EventType
	Description     string
	ActorID         *string
	PreviousState   map[string]any
	NewState        map[string]any
	ChangedFields   []string
	SecurityLevel   SecurityLevel
	ComplianceFlags []string
	Metadata        map[string]any
	OccurredAt      time.Time
	PrevDigest      string
	Digest          string
}

// AppendParams carries the caller-supplied portion of a new entry.
type AppendParams struct {
	TransactionID   *string
	EventType       EventType
	Description     string
	ActorID         *string
	PreviousState   map[string]any
	NewState        map[string]any
	ChangedFields   []string
	SecurityLevel   SecurityLevel
	ComplianceFlags []string
	Metadata        map[string]any
}

// RangeFilters narrows a QueryRange scan.
type RangeFilters struct {
	TransactionID *string
	EventType     *EventType
}
