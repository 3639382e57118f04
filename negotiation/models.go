package negotiation

import (
	"errors"
	"time"
)

// Status is the stored lifecycle of one negotiation round.
type Status string

const (
	StatusOpen           Status = "open"
	StatusAccepted       Status = "accepted"
	StatusRejected       Status = "rejected"
	StatusCounterOffered Status = "counter_offered"
	StatusExpired        Status = "expired"
)

// ProposalType distinguishes the opening proposal from counter rounds.
type ProposalType string

const (
	ProposalInitial      ProposalType = "initial"
	ProposalCounterOffer ProposalType = "counter_offer"
)

// ResponseType is what a counterparty can do with an open proposal.
type ResponseType string

const (
	ResponseAccept  ResponseType = "accept"
	ResponseReject  ResponseType = "reject"
	ResponseCounter ResponseType = "counter"
)

var (
	ErrNotFound            = errors.New("negotiation: not found")
	ErrAlreadyResolved     = errors.New("negotiation: proposal already resolved")
	ErrExpired             = errors.New("negotiation: proposal validity window has passed")
	ErrInvalidResponseType = errors.New("negotiation: invalid response type")
	ErrRoundConflict       = errors.New("negotiation: round already exists for transaction")
)

// Negotiation is one proposal round. Rounds are append-only: a counter
// closes the current round and opens round+1, it never edits terms in place.
type Negotiation struct {
	ID            string
	TransactionID string
	ContractID    *string
	Round         int
	ProposalType  ProposalType
	ProposedBy    string
	ProposedTerms map[string]any
	PreviousTerms map[string]any
	Changes       map[string]any
	ProposedPrice *float64
	PaymentTerms  string
	ValidUntil    time.Time
	AutoAccept    bool
	Status        Status
	RespondedBy   *string
	ResponseType  *ResponseType
	ResponseNotes string
	CounterOffer  map[string]any
	RespondedAt   *time.Time
	CreatedAt     time.Time
}

// EffectiveStatus derives expiry lazily: an open round past its validity
// window reads as expired without anyone having written the row.
func (n Negotiation) EffectiveStatus(now time.Time) Status {
	if n.Status == StatusOpen && now.After(n.ValidUntil) {
		return StatusExpired
	}
	return n.Status
}

// ProposeParams opens a negotiation round.
type ProposeParams struct {
	TransactionID string
	ContractID    *string
	ProposedBy    string
	ProposedTerms map[string]any
	ProposedPrice *float64
	PaymentTerms  string
	ValidUntil    *time.Time
	AutoAccept    bool
}

// RespondParams resolves (or counters) an open round.
type RespondParams struct {
	NegotiationID string
	Response      ResponseType
	RespondedBy   string
	Notes         string
	CounterTerms  map[string]any
	ValidUntil    *time.Time
}
