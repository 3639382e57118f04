package transaction

import "errors"

// Status is the lifecycle state of a clearing house transaction.
type Status string

const (
	StatusInitiated         Status = "initiated"
	StatusPendingValidation Status = "pending_validation"
	StatusPendingApproval   Status = "pending_approval"
	StatusApproved          Status = "approved"
	StatusRejected          Status = "rejected"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

var (
	// ErrInvalidTransition signals a state machine rule violation. Rejected
	// attempts are surfaced to the caller, not logged as state changes.
	ErrInvalidTransition = errors.New("transaction: invalid status transition")
	// ErrInvalidState signals an operation attempted in a status that does
	// not allow it (e.g. deleting an approved transaction).
	ErrInvalidState = errors.New("transaction: operation not allowed in current status")
	// ErrNotFound is returned when no transaction row exists for the id.
	ErrNotFound = errors.New("transaction: not found")
)

// transitions enumerates every legal edge. Rejected, completed and cancelled
// are terminal: no edges out.
var transitions = map[Status][]Status{
	StatusInitiated:         {StatusPendingValidation, StatusPendingApproval, StatusRejected, StatusCancelled},
	StatusPendingValidation: {StatusPendingApproval, StatusRejected, StatusCancelled},
	StatusPendingApproval:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:          {StatusCompleted, StatusCancelled},
	StatusRejected:          {},
	StatusCompleted:         {},
	StatusCancelled:         {},
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Deletable reports whether a transaction in this status may be removed.
// Approved and completed transactions are retained for compliance.
func (s Status) Deletable() bool {
	switch s {
	case StatusInitiated, StatusPendingValidation, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// sources returns every status from which next is reachable. Used to build
// conditional updates whose WHERE clause is the optimistic precondition.
func sources(next Status) []Status {
	var out []Status
	for from, tos := range transitions {
		for _, to := range tos {
			if to == next {
				out = append(out, from)
				break
			}
		}
	}
	return out
}
