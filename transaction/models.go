package transaction

import "time"

// RejectionPolicy controls how a REJECT decision affects the workflow.
type RejectionPolicy string

const (
	// RejectionStrict terminates the transaction on the first REJECT
	// decision regardless of quorum progress.
	RejectionStrict RejectionPolicy = "strict"
	// RejectionLenient lets the quorum play out; rejects simply never count
	// toward approval.
	RejectionLenient RejectionPolicy = "lenient"
)

// Transaction mirrors the transactions table. All party and resource
// references are opaque identifiers owned by master-data systems outside the
// workflow. ContractTerms and the business fields below it are carried and
// diffed but never interpreted.
type Transaction struct {
	ID                 string
	InitiatorUserID    string
	ProviderOrgID      string
	ConsumerOrgID      string
	ResourceID         string
	ContractID         *string
	RequestID          *string
	Status             Status
	RequiredApprovals  int
	CurrentApprovals   int
	ConditionalCounts  bool
	RejectionPolicy    RejectionPolicy
	ContractTerms      map[string]any
	TotalAmount        *float64
	Currency           string
	BillingModel       string
	ComplianceLevel    string
	SecurityRating     string
	RiskScore          *float64
	ExpectedCompletion *time.Time
	ExpiresAt          *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CreateParams collects the fields required to open a transaction.
type CreateParams struct {
	InitiatorUserID    string
	ProviderOrgID      string
	ConsumerOrgID      string
	ResourceID         string
	ContractID         *string
	RequestID          *string
	RequiredApprovals  int
	ConditionalCounts  bool
	RejectionPolicy    RejectionPolicy
	ContractTerms      map[string]any
	TotalAmount        *float64
	Currency           string
	BillingModel       string
	ComplianceLevel    string
	SecurityRating     string
	RiskScore          *float64
	ExpectedCompletion *time.Time
	ExpiresAt          *time.Time
}

// UpdateParams is a partial update; nil fields are left untouched. Status is
// deliberately absent: status only moves through the state machine.
type UpdateParams struct {
	ContractTerms      map[string]any
	TotalAmount        *float64
	Currency           *string
	BillingModel       *string
	ComplianceLevel    *string
	SecurityRating     *string
	RiskScore          *float64
	ExpectedCompletion *time.Time
	ExpiresAt          *time.Time
}

// OutcomeKind is the terminal result of a negotiation round.
type OutcomeKind string

const (
	OutcomeAccepted OutcomeKind = "accepted"
	OutcomeRejected OutcomeKind = "rejected"
)

// NegotiationOutcome is handed to the state machine by the negotiation
// engine, inside the engine's transaction, when a proposal is accepted or
// rejected outright.
type NegotiationOutcome struct {
	TransactionID string
	NegotiationID string
	Round         int
	Kind          OutcomeKind
	AcceptedTerms map[string]any
	RespondedBy   string
	Notes         string
}

// ListFilters pages and narrows transaction listings.
type ListFilters struct {
	Status        *Status
	ProviderOrgID *string
	Page          int
	PageSize      int
}
