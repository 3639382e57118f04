package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clearinghouse/audit"
	"clearinghouse/auth"
	"clearinghouse/compliance"
	"clearinghouse/negotiation"
	"clearinghouse/party"
	"clearinghouse/transaction"
)

// Deps collects the services the API exposes.
type Deps struct {
	Auth         *auth.Service
	Transactions *transaction.Service
	Negotiations *negotiation.Service
	Ledger       *audit.Ledger
	Reports      *compliance.Generator
	Parties      *party.Service
}

// New assembles the HTTP API. Mutating transaction routes require a token;
// validations and reports additionally require the regulator role.
func New(deps Deps) http.Handler {
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(deps.Auth))

			r.Route("/transactions", func(r chi.Router) {
				r.Post("/", h.createTransaction)
				r.Get("/", h.listTransactions)
				r.Get("/{id}", h.getTransaction)
				r.Patch("/{id}", h.updateTransaction)
				r.With(requireRole()).Delete("/{id}", h.deleteTransaction)
				r.Post("/{id}/cancel", h.cancelTransaction)
				r.Post("/{id}/complete", h.completeTransaction)
				r.Post("/{id}/proposals", h.propose)
				r.Get("/{id}/negotiations", h.negotiationHistory)
				r.With(requireRole(auth.RoleRegulator)).Post("/{id}/validations", h.recordValidation)
				r.Get("/{id}/validations", h.listValidations)
			})

			r.Post("/negotiations/{id}/respond", h.respond)
			r.Get("/negotiations/{id}", h.getNegotiation)
			r.Get("/validations/{id}", h.getValidation)

			r.Route("/audit", func(r chi.Router) {
				r.Get("/entries", h.queryLedger)
				r.Get("/entries/{id}", h.getEntry)
				r.Get("/entries/{id}/verify", h.verifyEntry)
				r.With(requireRole(auth.RoleRegulator)).Get("/verify-chain", h.verifyChain)
			})

			r.With(requireRole(auth.RoleRegulator)).Post("/reports", h.generateReport)

			r.Get("/organizations", h.listOrganizations)
			r.Get("/organizations/{id}", h.getOrganization)
		})
	})

	return r
}

type handlers struct {
	deps Deps
}

func pathID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
