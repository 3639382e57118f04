package party

import "time"

// OrgType distinguishes contractor organizations from the regulator.
type OrgType string

const (
	OrgKKKS      OrgType = "kkks"
	OrgRegulator OrgType = "skk_migas"
)

// Profile captures the subset of organization data exposed via the public
// API layer. Parties are master data: the workflow references them but
// never mutates them.
type Profile struct {
	ID        string
	Name      string
	OrgType   OrgType
	Verified  bool
	CreatedAt time.Time
}
