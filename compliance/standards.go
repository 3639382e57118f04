package compliance

import "clearinghouse/audit"

// Standard selects the control catalogue a report is scored against.
type Standard string

const (
	StandardISO27001 Standard = "iso_27001"
	StandardInternal Standard = "internal_audit"
)

// Control is one requirement from a standard, mapped to the ledger event
// types that evidence it.
type Control struct {
	ID         string
	Name       string
	EventTypes []audit.EventType
}

// iso27001Controls maps the Annex A controls this workflow can evidence to
// their ledger event types. Controls the ledger cannot evidence are omitted
// rather than reported as zero.
var iso27001Controls = []Control{
	{
		ID:   "A.5.28",
		Name: "Collection of evidence",
		EventTypes: []audit.EventType{
			audit.EventValidationRecorded,
			audit.EventProposalSubmitted,
			audit.EventProposalResponded,
		},
	},
	{
		ID:   "A.5.31",
		Name: "Legal, statutory, regulatory and contractual requirements",
		EventTypes: []audit.EventType{
			audit.EventTransactionCreated,
			audit.EventStatusChanged,
		},
	},
	{
		ID:   "A.8.15",
		Name: "Logging",
		EventTypes: []audit.EventType{
			audit.EventTransactionCreated,
			audit.EventStatusChanged,
			audit.EventTransactionUpdated,
			audit.EventTransactionCancelled,
			audit.EventTransactionDeleted,
		},
	},
	{
		ID:   "A.8.16",
		Name: "Monitoring activities",
		EventTypes: []audit.EventType{
			audit.EventSystemConfiguration,
			audit.EventReportGenerated,
		},
	},
	{
		ID:   "A.5.33",
		Name: "Protection of records",
		EventTypes: []audit.EventType{
			audit.EventTransactionDeleted,
		},
	},
}

// internalControls is the lighter in-house catalogue used between external
// audits.
var internalControls = []Control{
	{
		ID:   "INT-01",
		Name: "Workflow completeness",
		EventTypes: []audit.EventType{
			audit.EventTransactionCreated,
			audit.EventStatusChanged,
		},
	},
	{
		ID:   "INT-02",
		Name: "Validator accountability",
		EventTypes: []audit.EventType{
			audit.EventValidationRecorded,
		},
	},
	{
		ID:   "INT-03",
		Name: "Negotiation traceability",
		EventTypes: []audit.EventType{
			audit.EventProposalSubmitted,
			audit.EventProposalResponded,
		},
	},
}

// ControlsFor returns the catalogue for a standard; unknown standards get
// the internal catalogue.
func ControlsFor(standard Standard) []Control {
	switch standard {
	case StandardISO27001:
		return iso27001Controls
	default:
		return internalControls
	}
}
