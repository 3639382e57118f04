package validation

import "testing"

func approval(decision Decision) Validation {
	conditions := "subject to data retention review"
	v := Validation{
		ID:              "v-1",
		TransactionID:   "tx-1",
		ValidatorUserID: "user-1",
		ValidatorRole:   RoleRegulator,
		Method:          MethodManualReview,
		Decision:        decision,
		Reasoning:       "reviewed",
	}
	if decision == DecisionConditionalApprove {
		v.Conditions = &conditions
	}
	return v
}

func TestRecount_CountsOnlyApprovals(t *testing.T) {
	validations := []Validation{
		approval(DecisionApprove),
		approval(DecisionRequestMoreInfo),
		approval(DecisionEscalate),
		approval(DecisionApprove),
	}
	state := Recount(validations, DefaultPolicy(2))
	if state.Approvals != 2 {
		t.Errorf("approvals: got %d, want 2", state.Approvals)
	}
	if !state.Reached {
		t.Errorf("expected quorum reached")
	}
	if state.Rejected {
		t.Errorf("unexpected rejection")
	}
}

func TestRecount_ConditionalApprovalOptIn(t *testing.T) {
	validations := []Validation{
		approval(DecisionApprove),
		approval(DecisionConditionalApprove),
	}

	state := Recount(validations, DefaultPolicy(2))
	if state.Approvals != 1 || state.Reached {
		t.Errorf("default policy must exclude conditional approvals: %+v", state)
	}

	policy := DefaultPolicy(2)
	policy.CountConditional = true
	state = Recount(validations, policy)
	if state.Approvals != 2 || !state.Reached {
		t.Errorf("opted-in policy must count conditional approvals: %+v", state)
	}
}

func TestRecount_StrictRejection(t *testing.T) {
	validations := []Validation{
		approval(DecisionApprove),
		approval(DecisionReject),
		approval(DecisionApprove),
	}

	state := Recount(validations, DefaultPolicy(2))
	if !state.Rejected {
		t.Errorf("strict policy must flag rejection")
	}
	if state.Approvals != 2 {
		t.Errorf("rejects must not erase approvals: got %d", state.Approvals)
	}

	lenient := Policy{Required: 2}
	state = Recount(validations, lenient)
	if state.Rejected {
		t.Errorf("lenient policy must not flag rejection")
	}
	if !state.Reached {
		t.Errorf("quorum still reached under lenient policy")
	}
}

func TestRecount_OrderIndependent(t *testing.T) {
	forward := []Validation{approval(DecisionReject), approval(DecisionApprove), approval(DecisionApprove)}
	backward := []Validation{approval(DecisionApprove), approval(DecisionApprove), approval(DecisionReject)}

	a := Recount(forward, DefaultPolicy(2))
	b := Recount(backward, DefaultPolicy(2))
	if a != b {
		t.Errorf("recount must be order independent: %+v vs %+v", a, b)
	}
}

func TestRecount_EmptySet(t *testing.T) {
	state := Recount(nil, DefaultPolicy(1))
	if state.Reached || state.Rejected || state.Approvals != 0 {
		t.Errorf("empty set: %+v", state)
	}
}

func TestValidate_ReasoningRequired(t *testing.T) {
	v := approval(DecisionApprove)
	v.Reasoning = ""
	if err := v.Validate(); err != ErrReasoningRequired {
		t.Errorf("got %v, want ErrReasoningRequired", err)
	}
}

func TestValidate_ConditionsOnlyForConditionalApprove(t *testing.T) {
	v := approval(DecisionConditionalApprove)
	v.Conditions = nil
	if err := v.Validate(); err != ErrConditionsRequired {
		t.Errorf("got %v, want ErrConditionsRequired", err)
	}

	v = approval(DecisionApprove)
	conds := "unexpected"
	v.Conditions = &conds
	if err := v.Validate(); err != ErrConditionsForbidden {
		t.Errorf("got %v, want ErrConditionsForbidden", err)
	}
}

func TestValidate_Ranges(t *testing.T) {
	v := approval(DecisionApprove)
	score := 101
	v.Score = &score
	if err := v.Validate(); err != ErrInvalidScore {
		t.Errorf("got %v, want ErrInvalidScore", err)
	}

	v = approval(DecisionApprove)
	confidence := 1.5
	v.Confidence = &confidence
	if err := v.Validate(); err != ErrInvalidConfidence {
		t.Errorf("got %v, want ErrInvalidConfidence", err)
	}
}
