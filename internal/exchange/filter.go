package exchange

import (
	"slices"
	"time"

	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// CampaignFilter narrows a campaign listing. Sector and Region are matched against the
// redacted view, so they never match a campaign whose sectors and regions are withheld.
type CampaignFilter struct {
	AttackVector models.AttackVector
	AIComponent  string
	Sector       models.Sector
	Region       models.Region
	MinOrgs      int
	Since        time.Time
	Limit        int
	Offset       int
}

func (f CampaignFilter) query() store.CampaignQuery {
	return store.CampaignQuery{
		AttackVector: f.AttackVector,
		MinOrgs:      f.MinOrgs,
		Since:        f.Since,
	}
}

func (f CampaignFilter) matches(v CampaignView) bool {
	if f.AIComponent != "" && !slices.Contains(v.AIComponents, f.AIComponent) {
		return false
	}
	if f.Sector != "" && !slices.Contains(v.Sectors, string(f.Sector)) {
		return false
	}
	if f.Region != "" && !slices.Contains(v.Regions, string(f.Region)) {
		return false
	}
	return true
}

// ClampPage applies the default page size and clamps limit and offset to the accepted range
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
