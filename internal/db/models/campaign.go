package models

import "time"

// Campaign groups incidents that share a primary attack vector.
// All aggregate fields are recomputed from the member incidents on every write.
type Campaign struct {
	ID                  string
	PrimaryAttackVector AttackVector
	AIComponents        []string
	Sectors             []string // distinct contributor sectors, first-appearance order
	Regions             []string // distinct contributor regions, first-appearance order
	FirstSeen           time.Time
	LastSeen            time.Time
	NumOrgs             int
	NumIncidents        int
	CanonicalSummary    string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CampaignMember is the projection of a member incident needed to recompute campaign
// aggregates, joined with the contributing organization's sector and region.
type CampaignMember struct {
	IncidentID   string
	OrgID        string
	Sector       Sector
	Region       Region
	TimeStart    time.Time
	AIComponents []string
	Summary      string
	UpdatedAt    time.Time
}
