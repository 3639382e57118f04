package validation

import (
	"errors"
	"time"
)

// Method is the mechanism a validator used to reach a decision.
type Method string

const (
	MethodManualReview           Method = "manual_review"
	MethodAutomatedCheck         Method = "automated_check"
	MethodDigitalSignature       Method = "digital_signature"
	MethodMultiPartyConsensus    Method = "multi_party_consensus"
	MethodBlockchainVerification Method = "blockchain_verification"
	MethodPKICertificate         Method = "pki_certificate"
	MethodBiometricVerification  Method = "biometric_verification"
)

// Role identifies the capacity in which a validator acted.
type Role string

const (
	RoleProvider  Role = "provider"
	RoleConsumer  Role = "consumer"
	RoleBroker    Role = "broker"
	RoleRegulator Role = "regulator"
	RoleAuditor   Role = "auditor"
	RoleSystem    Role = "system"
)

// Decision is a validator's verdict on a transaction.
type Decision string

const (
	DecisionApprove            Decision = "approve"
	DecisionReject             Decision = "reject"
	DecisionConditionalApprove Decision = "conditional_approve"
	DecisionRequestMoreInfo    Decision = "request_more_info"
	DecisionEscalate           Decision = "escalate"
)

var (
	ErrReasoningRequired   = errors.New("validation: reasoning is required")
	ErrConditionsRequired  = errors.New("validation: conditions required for conditional approval")
	ErrConditionsForbidden = errors.New("validation: conditions only valid for conditional approval")
	ErrInvalidScore        = errors.New("validation: score must be between 0 and 100")
	ErrInvalidConfidence   = errors.New("validation: confidence must be between 0.0 and 1.0")
	ErrInvalidDecision     = errors.New("validation: unknown decision")
	ErrInvalidRole         = errors.New("validation: unknown validator role")
	ErrInvalidMethod       = errors.New("validation: unknown validation method")
)

// Validation is one immutable validator decision. Corrections are recorded as
// a new Validation, never an edit.
type Validation struct {
	ID               string
	TransactionID    string
	ValidatorUserID  string
	ValidatorRole    Role
	Method           Method
	Decision         Decision
	Reasoning        string
	Conditions       *string
	Score            *int
	Confidence       *float64
	EvidenceHash     string
	DigitalSignature string
	ExpiresAt        *time.Time
	CreatedAt        time.Time
}

// Validate enforces the record-time invariants.
func (v Validation) Validate() error {
	if !validDecision(v.Decision) {
		return ErrInvalidDecision
	}
	if !validRole(v.ValidatorRole) {
		return ErrInvalidRole
	}
	if !validMethod(v.Method) {
		return ErrInvalidMethod
	}
	if v.Reasoning == "" {
		return ErrReasoningRequired
	}
	if v.Decision == DecisionConditionalApprove {
		if v.Conditions == nil || *v.Conditions == "" {
			return ErrConditionsRequired
		}
	} else if v.Conditions != nil {
		return ErrConditionsForbidden
	}
	if v.Score != nil && (*v.Score < 0 || *v.Score > 100) {
		return ErrInvalidScore
	}
	if v.Confidence != nil && (*v.Confidence < 0.0 || *v.Confidence > 1.0) {
		return ErrInvalidConfidence
	}
	return nil
}

func validDecision(d Decision) bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionConditionalApprove,
		DecisionRequestMoreInfo, DecisionEscalate:
		return true
	}
	return false
}

func validRole(r Role) bool {
	switch r {
	case RoleProvider, RoleConsumer, RoleBroker, RoleRegulator, RoleAuditor, RoleSystem:
		return true
	}
	return false
}

func validMethod(m Method) bool {
	switch m {
	case MethodManualReview, MethodAutomatedCheck, MethodDigitalSignature,
		MethodMultiPartyConsensus, MethodBlockchainVerification,
		MethodPKICertificate, MethodBiometricVerification:
		return true
	}
	return false
}
