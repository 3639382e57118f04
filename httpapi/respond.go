package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"clearinghouse/audit"
	"clearinghouse/auth"
	"clearinghouse/negotiation"
	"clearinghouse/party"
	"clearinghouse/transaction"
	"clearinghouse/validation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Conflicts (lost races,
// closed rounds, bad transitions) are 409 so clients can re-read and retry.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, transaction.ErrNotFound),
		errors.Is(err, negotiation.ErrNotFound),
		errors.Is(err, validation.ErrNotFound),
		errors.Is(err, party.ErrNotFound),
		errors.Is(err, audit.ErrEntryNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transaction.ErrInvalidTransition),
		errors.Is(err, transaction.ErrInvalidState),
		errors.Is(err, negotiation.ErrAlreadyResolved),
		errors.Is(err, negotiation.ErrExpired),
		errors.Is(err, negotiation.ErrRoundConflict):
		status = http.StatusConflict
	case errors.Is(err, negotiation.ErrInvalidResponseType),
		errors.Is(err, validation.ErrReasoningRequired),
		errors.Is(err, validation.ErrConditionsRequired),
		errors.Is(err, validation.ErrConditionsForbidden),
		errors.Is(err, validation.ErrInvalidScore),
		errors.Is(err, validation.ErrInvalidConfidence),
		errors.Is(err, validation.ErrInvalidDecision),
		errors.Is(err, validation.ErrInvalidRole),
		errors.Is(err, validation.ErrInvalidMethod),
		errors.Is(err, auth.ErrWeakPassword):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrDuplicateEmail):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Printf("httpapi: internal error: %v", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}
