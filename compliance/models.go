package compliance

import (
	"errors"
	"time"

	"clearinghouse/audit"
)

var ErrInvalidRange = errors.New("compliance: report range start must precede end")

// GenerateParams scopes one report run.
type GenerateParams struct {
	Start         time.Time
	End           time.Time
	Standard      Standard
	TransactionID *string
	RequestedBy   string
}

// ControlCoverage is the evidence count for one control in the period.
type ControlCoverage struct {
	Control Control
	Entries int
}

// Report summarizes ledger activity and integrity for a period. A report is
// a pure read over the ledger: generating it twice over the same committed
// range yields the same numbers.
type Report struct {
	ID              string
	Standard        Standard
	Start           time.Time
	End             time.Time
	TransactionID   *string
	TotalEntries    int
	ByEventType     map[audit.EventType]int
	BySecurityLevel map[audit.SecurityLevel]int
	Coverage        []ControlCoverage
	VerifiedEntries int
	FailedEntries   []int64
	// IntegrityRate is the percentage of entries in range whose recomputed
	// digest matches; 100 for an empty range.
	IntegrityRate float64
	GeneratedAt   time.Time
	RequestedBy   string
}
