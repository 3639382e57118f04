package validation

// Policy controls how decisions are counted toward quorum. The default
// excludes conditional approvals; a transaction may opt in.
type Policy struct {
	Required         int
	CountConditional bool
	StrictRejection  bool
}

// DefaultPolicy returns the strict counting rules applied unless a
// transaction overrides them.
func DefaultPolicy(required int) Policy {
	return Policy{Required: required, StrictRejection: true}
}

// counts determines whether a decision contributes to the approval tally.
// REQUEST_MORE_INFO and ESCALATE are process signals and never count either
// way; REJECT never counts toward approval but may terminate under a strict
// policy.
func (p Policy) counts(d Decision) bool {
	switch d {
	case DecisionApprove:
		return true
	case DecisionConditionalApprove:
		return p.CountConditional
	}
	return false
}

// QuorumState is the result of recounting recorded validations.
type QuorumState struct {
	Approvals int
	Required  int
	Reached   bool
	Rejected  bool
}

// Recount derives the quorum state from the full set of recorded validations.
// The approvals counter is always recomputed from the rows, never trusted
// from a cached field, so the count stays reconstructible and auditable and
// tolerates any arrival order of decisions.
func Recount(validations []Validation, policy Policy) QuorumState {
	state := QuorumState{Required: policy.Required}
	for _, v := range validations {
		if policy.counts(v.Decision) {
			state.Approvals++
		}
		if v.Decision == DecisionReject && policy.StrictRejection {
			state.Rejected = true
		}
	}
	state.Reached = policy.Required > 0 && state.Approvals >= policy.Required
	return state
}
