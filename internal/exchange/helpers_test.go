package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
	"github.com/threat-exchange/threat-exchange/internal/store/memory"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *memory.Store
	clock   *testClock
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	clock := &testClock{now: baseTime}
	return &fixture{
		store: st,
		clock: clock,
		service: NewService(st, Options{
			Budget: BudgetPolicy{Capacity: 100, Window: 24 * time.Hour},
			Now:    clock.Now,
		}),
	}
}

func (f *fixture) addOrg(t *testing.T, id string, sector models.Sector, region models.Region, budget int) {
	t.Helper()
	require.NoError(t, f.store.CreateOrganization(context.Background(), &models.Organization{
		ID:            id,
		DisplayName:   id,
		Sector:        sector,
		Region:        region,
		APIKeyHash:    "hash-" + id,
		QueryBudget:   budget,
		BudgetResetAt: f.clock.Now().Add(time.Hour),
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}))
}

func (f *fixture) org(t *testing.T, id string) *models.Organization {
	t.Helper()
	org, err := f.store.GetOrganization(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, org)
	return org
}

func (f *fixture) campaigns(t *testing.T) []*models.Campaign {
	t.Helper()
	var out []*models.Campaign
	require.NoError(t, f.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListCampaigns(context.Background(), store.CampaignQuery{})
		return err
	}))
	return out
}

func (f *fixture) incident(t *testing.T, orgID, localRef string) *models.Incident {
	t.Helper()
	var out *models.Incident
	require.NoError(t, f.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.GetIncidentByLocalRef(context.Background(), orgID, localRef)
		return err
	}))
	return out
}

func submission(localRef string, vector models.AttackVector, start time.Time) *Submission {
	return &Submission{
		LocalRef:     localRef,
		TimeStart:    start,
		AttackVector: vector,
		ImpactLevel:  models.ImpactHigh,
		Summary:      "summary of " + localRef,
	}
}
