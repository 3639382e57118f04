package httpapi

import (
	"errors"
	"net/http"
	"time"

	"clearinghouse/audit"
	"clearinghouse/compliance"
)

func (h *handlers) getEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.Ledger.GetEntry(r.Context(), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryView(entry))
}

func (h *handlers) verifyEntry(w http.ResponseWriter, r *http.Request) {
	ok, err := h.deps.Ledger.Verify(r.Context(), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": pathID(r), "verified": ok})
}

func (h *handlers) verifyChain(w http.ResponseWriter, r *http.Request) {
	ok, brokenSeq, err := h.deps.Ledger.VerifyChain(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"intact": ok}
	if !ok {
		resp["broken_seq"] = brokenSeq
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryLedger streams a time range of ledger entries, paged by seq cursor.
func (h *handlers) queryLedger(w http.ResponseWriter, r *http.Request) {
	start, end, ok := parseRange(w, r)
	if !ok {
		return
	}
	filters := audit.RangeFilters{}
	if v := r.URL.Query().Get("transaction_id"); v != "" {
		filters.TransactionID = &v
	}
	if v := r.URL.Query().Get("event_type"); v != "" {
		et := audit.EventType(v)
		filters.EventType = &et
	}

	limit := queryInt(r, "limit", 200)
	it := h.deps.Ledger.QueryRange(start, end, filters)
	var entries []map[string]any
	for len(entries) < limit {
		batch, err := it.Next(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if batch == nil {
			break
		}
		for _, e := range batch {
			if len(entries) == limit {
				break
			}
			entries = append(entries, entryView(e))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type generateReportRequest struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Standard      string    `json:"standard"`
	TransactionID *string   `json:"transaction_id"`
}

func (h *handlers) generateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := h.deps.Reports.Generate(r.Context(), compliance.GenerateParams{
		Start:         req.Start,
		End:           req.End,
		Standard:      compliance.Standard(req.Standard),
		TransactionID: req.TransactionID,
		RequestedBy:   callerID(r),
	})
	if err != nil {
		if errors.Is(err, compliance.ErrInvalidRange) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start must be RFC3339"})
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end must be RFC3339"})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func entryView(e audit.Entry) map[string]any {
	return map[string]any{
		"id":               e.ID,
		"seq":              e.Seq,
		"transaction_id":   e.TransactionID,
		"event_type":       e.EventType,
		"description":      e.Description,
		"actor_id":         e.ActorID,
		"previous_state":   e.PreviousState,
		"new_state":        e.NewState,
		"changed_fields":   e.ChangedFields,
		"security_level":   e.SecurityLevel,
		"compliance_flags": e.ComplianceFlags,
		"metadata":         e.Metadata,
		"occurred_at":      e.OccurredAt,
		"prev_digest":      e.PrevDigest,
		"digest":           e.Digest,
	}
}
