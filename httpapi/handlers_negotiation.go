package httpapi

import (
	"net/http"
	"time"

	"clearinghouse/negotiation"
)

type proposeRequest struct {
	ContractID    *string        `json:"contract_id"`
	ProposedTerms map[string]any `json:"proposed_terms"`
	ProposedPrice *float64       `json:"proposed_price"`
	PaymentTerms  string         `json:"payment_terms"`
	ValidUntil    *time.Time     `json:"valid_until"`
	AutoAccept    bool           `json:"auto_accept"`
}

func (h *handlers) propose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.deps.Negotiations.Propose(r.Context(), negotiation.ProposeParams{
		TransactionID: pathID(r),
		ContractID:    req.ContractID,
		ProposedBy:    callerID(r),
		ProposedTerms: req.ProposedTerms,
		ProposedPrice: req.ProposedPrice,
		PaymentTerms:  req.PaymentTerms,
		ValidUntil:    req.ValidUntil,
		AutoAccept:    req.AutoAccept,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, negotiationView(created))
}

type respondRequest struct {
	Response     string         `json:"response"`
	Notes        string         `json:"notes"`
	CounterTerms map[string]any `json:"counter_terms"`
	ValidUntil   *time.Time     `json:"valid_until"`
}

func (h *handlers) respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.deps.Negotiations.Respond(r.Context(), negotiation.RespondParams{
		NegotiationID: pathID(r),
		Response:      negotiation.ResponseType(req.Response),
		RespondedBy:   callerID(r),
		Notes:         req.Notes,
		CounterTerms:  req.CounterTerms,
		ValidUntil:    req.ValidUntil,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, negotiationView(result))
}

func (h *handlers) getNegotiation(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Negotiations.Get(r.Context(), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, negotiationView(n))
}

func (h *handlers) negotiationHistory(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.deps.Negotiations.History(r.Context(), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(rounds))
	for _, n := range rounds {
		views = append(views, negotiationView(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"negotiations": views})
}

func negotiationView(n negotiation.Negotiation) map[string]any {
	return map[string]any{
		"id":             n.ID,
		"transaction_id": n.TransactionID,
		"contract_id":    n.ContractID,
		"round":          n.Round,
		"proposal_type":  n.ProposalType,
		"proposed_by":    n.ProposedBy,
		"proposed_terms": n.ProposedTerms,
		"previous_terms": n.PreviousTerms,
		"changes":        n.Changes,
		"proposed_price": n.ProposedPrice,
		"payment_terms":  n.PaymentTerms,
		"valid_until":    n.ValidUntil,
		"auto_accept":    n.AutoAccept,
		"status":         n.Status,
		"responded_by":   n.RespondedBy,
		"response_type":  n.ResponseType,
		"response_notes": n.ResponseNotes,
		"counter_offer":  n.CounterOffer,
		"responded_at":   n.RespondedAt,
		"created_at":     n.CreatedAt,
	}
}
