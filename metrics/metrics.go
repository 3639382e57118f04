package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the workflow engine.
type Metrics struct {
	TransactionsCreated  prometheus.Counter
	StatusTransitions    *prometheus.CounterVec
	NegotiationRounds    prometheus.Counter
	ValidationsRecorded  prometheus.Counter
	AuditEntriesAppended prometheus.Counter
	IntegrityFailures    prometheus.Counter
	OutboxPublished      prometheus.Counter
	ReportsGenerated     prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		TransactionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_transactions_created_total",
			Help: "Total number of clearing house transactions created",
		}),
		StatusTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clearinghouse_status_transitions_total",
			Help: "Transaction status transitions by target status",
		}, []string{"to_status"}),
		NegotiationRounds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_negotiation_rounds_total",
			Help: "Negotiation rounds opened (initial proposals and counter-offers)",
		}),
		ValidationsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_validations_recorded_total",
			Help: "Validator decisions recorded",
		}),
		AuditEntriesAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_audit_entries_appended_total",
			Help: "Entries appended to the audit ledger",
		}),
		IntegrityFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_audit_integrity_failures_total",
			Help: "Ledger entries that failed digest verification",
		}),
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_outbox_published_total",
			Help: "Outbox messages delivered to the broker",
		}),
		ReportsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearinghouse_compliance_reports_total",
			Help: "Compliance reports generated",
		}),
	}
}
