package httpapi

import (
	"net/http"
	"time"

	"clearinghouse/transaction"
	"clearinghouse/validation"
)

type createTransactionRequest struct {
	ProviderOrgID      string         `json:"provider_org_id"`
	ConsumerOrgID      string         `json:"consumer_org_id"`
	ResourceID         string         `json:"resource_id"`
	ContractID         *string        `json:"contract_id"`
	RequestID          *string        `json:"request_id"`
	RequiredApprovals  int            `json:"required_approvals"`
	ConditionalCounts  bool           `json:"conditional_counts"`
	RejectionPolicy    string         `json:"rejection_policy"`
	ContractTerms      map[string]any `json:"contract_terms"`
	TotalAmount        *float64       `json:"total_amount"`
	Currency           string         `json:"currency"`
	BillingModel       string         `json:"billing_model"`
	ComplianceLevel    string         `json:"compliance_level"`
	SecurityRating     string         `json:"security_rating"`
	RiskScore          *float64       `json:"risk_score"`
	ExpectedCompletion *time.Time     `json:"expected_completion"`
	ExpiresAt          *time.Time     `json:"expires_at"`
}

func (h *handlers) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.deps.Transactions.Create(r.Context(), transaction.CreateParams{
		InitiatorUserID:    callerID(r),
		ProviderOrgID:      req.ProviderOrgID,
		ConsumerOrgID:      req.ConsumerOrgID,
		ResourceID:         req.ResourceID,
		ContractID:         req.ContractID,
		RequestID:          req.RequestID,
		RequiredApprovals:  req.RequiredApprovals,
		ConditionalCounts:  req.ConditionalCounts,
		RejectionPolicy:    transaction.RejectionPolicy(req.RejectionPolicy),
		ContractTerms:      req.ContractTerms,
		TotalAmount:        req.TotalAmount,
		Currency:           req.Currency,
		BillingModel:       req.BillingModel,
		ComplianceLevel:    req.ComplianceLevel,
		SecurityRating:     req.SecurityRating,
		RiskScore:          req.RiskScore,
		ExpectedCompletion: req.ExpectedCompletion,
		ExpiresAt:          req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionView(created))
}

func (h *handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Transactions.Get(r.Context(), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionView(t))
}

func (h *handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	filters := transaction.ListFilters{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", 20),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := transaction.Status(v)
		filters.Status = &status
	}
	if v := r.URL.Query().Get("provider_org_id"); v != "" {
		filters.ProviderOrgID = &v
	}
	items, total, err := h.deps.Transactions.List(r.Context(), filters)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for _, t := range items {
		views = append(views, transactionView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": views,
		"total":        total,
		"page":         filters.Page,
		"page_size":    filters.PageSize,
	})
}

type updateTransactionRequest struct {
	ContractTerms      map[string]any `json:"contract_terms"`
	TotalAmount        *float64       `json:"total_amount"`
	Currency           *string        `json:"currency"`
	BillingModel       *string        `json:"billing_model"`
	ComplianceLevel    *string        `json:"compliance_level"`
	SecurityRating     *string        `json:"security_rating"`
	RiskScore          *float64       `json:"risk_score"`
	ExpectedCompletion *time.Time     `json:"expected_completion"`
	ExpiresAt          *time.Time     `json:"expires_at"`
}

func (h *handlers) updateTransaction(w http.ResponseWriter, r *http.Request) {
	var req updateTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := h.deps.Transactions.Update(r.Context(), pathID(r), transaction.UpdateParams{
		ContractTerms:      req.ContractTerms,
		TotalAmount:        req.TotalAmount,
		Currency:           req.Currency,
		BillingModel:       req.BillingModel,
		ComplianceLevel:    req.ComplianceLevel,
		SecurityRating:     req.SecurityRating,
		RiskScore:          req.RiskScore,
		ExpectedCompletion: req.ExpectedCompletion,
		ExpiresAt:          req.ExpiresAt,
	}, callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionView(updated))
}

func (h *handlers) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Transactions.Delete(r.Context(), pathID(r), callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *handlers) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := h.deps.Transactions.Cancel(r.Context(), pathID(r), callerID(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionView(updated))
}

func (h *handlers) completeTransaction(w http.ResponseWriter, r *http.Request) {
	updated, err := h.deps.Transactions.Complete(r.Context(), pathID(r), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionView(updated))
}

type recordValidationRequest struct {
	Role             string     `json:"validator_role"`
	Method           string     `json:"method"`
	Decision         string     `json:"decision"`
	Reasoning        string     `json:"reasoning"`
	Conditions       *string    `json:"conditions"`
	Score            *int       `json:"score"`
	Confidence       *float64   `json:"confidence"`
	EvidenceHash     string     `json:"evidence_hash"`
	DigitalSignature string     `json:"digital_signature"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

func (h *handlers) recordValidation(w http.ResponseWriter, r *http.Request) {
	var req recordValidationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.deps.Transactions.RecordValidation(r.Context(), transaction.RecordValidationParams{
		TransactionID:    pathID(r),
		ValidatorUserID:  callerID(r),
		ValidatorRole:    validation.Role(req.Role),
		Method:           validation.Method(req.Method),
		Decision:         validation.Decision(req.Decision),
		Reasoning:        req.Reasoning,
		Conditions:       req.Conditions,
		Score:            req.Score,
		Confidence:       req.Confidence,
		EvidenceHash:     req.EvidenceHash,
		DigitalSignature: req.DigitalSignature,
		ExpiresAt:        req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"validation_id":  result.Validation.ID,
		"decision":       result.Validation.Decision,
		"approvals":      result.Quorum.Approvals,
		"required":       result.Quorum.Required,
		"quorum_reached": result.Quorum.Reached,
		"status_changed": result.StatusChanged,
		"transaction":    transactionView(result.Transaction),
	})
}

func (h *handlers) listValidations(w http.ResponseWriter, r *http.Request) {
	vals, err := h.deps.Transactions.Validations(r.Context(), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(vals))
	for _, v := range vals {
		views = append(views, validationView(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"validations": views})
}

func (h *handlers) getValidation(w http.ResponseWriter, r *http.Request) {
	v, err := h.deps.Transactions.GetValidation(r.Context(), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validationView(v))
}

func validationView(v validation.Validation) map[string]any {
	return map[string]any{
		"id":                v.ID,
		"transaction_id":    v.TransactionID,
		"validator_user_id": v.ValidatorUserID,
		"validator_role":    v.ValidatorRole,
		"method":            v.Method,
		"decision":          v.Decision,
		"reasoning":         v.Reasoning,
		"conditions":        v.Conditions,
		"score":             v.Score,
		"confidence":        v.Confidence,
		"evidence_hash":     v.EvidenceHash,
		"expires_at":        v.ExpiresAt,
		"created_at":        v.CreatedAt,
	}
}

func transactionView(t transaction.Transaction) map[string]any {
	return map[string]any{
		"id":                 t.ID,
		"initiator_user_id":  t.InitiatorUserID,
		"provider_org_id":    t.ProviderOrgID,
		"consumer_org_id":    t.ConsumerOrgID,
		"resource_id":        t.ResourceID,
		"contract_id":        t.ContractID,
		"request_id":         t.RequestID,
		"status":             t.Status,
		"required_approvals": t.RequiredApprovals,
		"current_approvals":  t.CurrentApprovals,
		"rejection_policy":   t.RejectionPolicy,
		"contract_terms":     t.ContractTerms,
		"total_amount":       t.TotalAmount,
		"currency":           t.Currency,
		"billing_model":      t.BillingModel,
		"compliance_level":   t.ComplianceLevel,
		"security_rating":    t.SecurityRating,
		"risk_score":         t.RiskScore,
		"completed_at":       t.CompletedAt,
		"created_at":         t.CreatedAt,
		"updated_at":         t.UpdatedAt,
	}
}
