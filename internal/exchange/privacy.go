package exchange

import (
	"time"

	"github.com/threat-exchange/threat-exchange/internal/db/models"
)

// DefaultMinContributors is the smallest number of distinct organizations a campaign
// needs before its sectors and regions are disclosed.
const DefaultMinContributors = 2

// CampaignView is a campaign as it may leave the service
type CampaignView struct {
	ID                  string              `json:"id"`
	PrimaryAttackVector models.AttackVector `json:"primary_attack_vector"`
	AIComponents        []string            `json:"ai_components"`
	Sectors             []string            `json:"sectors"`
	Regions             []string            `json:"regions"`
	FirstSeen           time.Time           `json:"first_seen"`
	LastSeen            time.Time           `json:"last_seen"`
	NumOrgs             int                 `json:"num_orgs"`
	NumIncidents        int                 `json:"num_incidents"`
	CanonicalSummary    string              `json:"canonical_summary"`
}

// Redact builds the view of c. Below minContributors distinct organizations the sector
// and region lists are empty: with a single contributor they would identify it.
func Redact(c *models.Campaign, minContributors int) CampaignView {
	view := CampaignView{
		ID:                  c.ID,
		PrimaryAttackVector: c.PrimaryAttackVector,
		AIComponents:        orEmpty(c.AIComponents),
		Sectors:             []string{},
		Regions:             []string{},
		FirstSeen:           c.FirstSeen,
		LastSeen:            c.LastSeen,
		NumOrgs:             c.NumOrgs,
		NumIncidents:        c.NumIncidents,
		CanonicalSummary:    c.CanonicalSummary,
	}
	if c.NumOrgs >= minContributors {
		view.Sectors = orEmpty(c.Sectors)
		view.Regions = orEmpty(c.Regions)
	}
	return view
}
