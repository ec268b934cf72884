package exchange

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

func charge(f *fixture, policy BudgetPolicy, orgID string) (BudgetStatus, error) {
	var status BudgetStatus
	err := f.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		status, err = policy.Charge(context.Background(), tx, orgID, f.clock.Now())
		return err
	})
	return status, err
}

func TestCharge_Decrements(t *testing.T) {
	f := newFixture(t)
	f.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 5)
	policy := BudgetPolicy{Capacity: 10, Window: time.Hour}

	status, err := charge(f, policy, "org_a")
	require.NoError(t, err)
	assert.Equal(t, 4, status.Remaining)
	assert.Equal(t, 4, f.org(t, "org_a").QueryBudget)
}

func TestCharge_ExhaustedLeavesRowUntouched(t *testing.T) {
	f := newFixture(t)
	f.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 0)
	before := f.org(t, "org_a")

	_, err := charge(f, BudgetPolicy{Capacity: 10, Window: time.Hour}, "org_a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExhausted)

	var exhausted *BudgetExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, before.BudgetResetAt, exhausted.ResetAt)

	after := f.org(t, "org_a")
	assert.Equal(t, 0, after.QueryBudget)
	assert.Equal(t, before.BudgetResetAt, after.BudgetResetAt)
}

func TestCharge_ResetsLazilyAfterWindow(t *testing.T) {
	f := newFixture(t)
	f.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 0)
	policy := BudgetPolicy{Capacity: 10, Window: 24 * time.Hour}

	// reset_at is one hour after creation; land exactly on it
	f.clock.Advance(time.Hour)
	status, err := charge(f, policy, "org_a")
	require.NoError(t, err)
	assert.Equal(t, 9, status.Remaining)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), status.ResetAt)

	org := f.org(t, "org_a")
	assert.Equal(t, 9, org.QueryBudget)
	assert.True(t, org.BudgetResetAt.After(f.clock.Now()))
}

func TestCharge_UnknownOrganization(t *testing.T) {
	f := newFixture(t)
	_, err := charge(f, BudgetPolicy{Capacity: 1, Window: time.Hour}, "ghost")
	assert.ErrorIs(t, err, store.ErrOrganizationNotFound)
}

func TestCharge_ConcurrentChargesNeverOverspend(t *testing.T) {
	const budget, requests = 7, 25
	f := newFixture(t)
	f.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, budget)
	policy := BudgetPolicy{Capacity: 100, Window: time.Hour}

	var ok, exhausted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := charge(f, policy, "org_a")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrBudgetExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(budget), ok.Load())
	assert.Equal(t, int32(requests-budget), exhausted.Load())
	assert.Equal(t, 0, f.org(t, "org_a").QueryBudget)
}

func TestPeek(t *testing.T) {
	policy := BudgetPolicy{Capacity: 10, Window: time.Hour}
	org := &models.Organization{QueryBudget: 3, BudgetResetAt: baseTime.Add(time.Minute)}

	assert.Equal(t, BudgetStatus{Remaining: 3, ResetAt: org.BudgetResetAt}, policy.Peek(org, baseTime))

	later := baseTime.Add(2 * time.Minute)
	assert.Equal(t, BudgetStatus{Remaining: 10, ResetAt: later.Add(time.Hour)}, policy.Peek(org, later))
}
