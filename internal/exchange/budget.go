package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
	"github.com/threat-exchange/threat-exchange/internal/telemetry"
)

const (
	DefaultBudgetCapacity = 1000
	DefaultBudgetWindow   = 24 * time.Hour
)

// BudgetPolicy is the per-organization query allowance: Capacity queries per Window.
// Budgets refill lazily, on the first charge after the reset instant.
type BudgetPolicy struct {
	Capacity int
	Window   time.Duration
}

// BudgetStatus is an organization's remaining allowance
type BudgetStatus struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Charge takes one unit from the organization's budget inside tx.
//
// The organization row stays locked until tx ends, so concurrent charges for one
// organization are applied one after another and K charges against a budget of B
// succeed exactly min(K, B) times. An exhausted budget returns a *BudgetExhaustedError
// without writing anything.
func (p BudgetPolicy) Charge(ctx context.Context, tx store.Tx, orgID string, now time.Time) (BudgetStatus, error) {
	org, err := tx.LockOrganization(ctx, orgID)
	if err != nil {
		return BudgetStatus{}, fmt.Errorf("failed to lock organization: %w", err)
	}
	if org == nil {
		return BudgetStatus{}, store.ErrOrganizationNotFound
	}

	budget, resetAt := org.QueryBudget, org.BudgetResetAt
	switch {
	case !now.Before(resetAt):
		budget = p.Capacity - 1
		resetAt = now.Add(p.Window)
	case budget <= 0:
		telemetry.BudgetExhaustedTotal.Inc()
		return BudgetStatus{Remaining: 0, ResetAt: resetAt}, &BudgetExhaustedError{ResetAt: resetAt}
	default:
		budget--
	}

	if err := tx.UpdateOrganizationBudget(ctx, orgID, budget, resetAt); err != nil {
		return BudgetStatus{}, fmt.Errorf("failed to update budget: %w", err)
	}
	return BudgetStatus{Remaining: budget, ResetAt: resetAt}, nil
}

// Peek reports what the organization may still spend without charging it
func (p BudgetPolicy) Peek(org *models.Organization, now time.Time) BudgetStatus {
	if !now.Before(org.BudgetResetAt) {
		return BudgetStatus{Remaining: p.Capacity, ResetAt: now.Add(p.Window)}
	}
	return BudgetStatus{Remaining: org.QueryBudget, ResetAt: org.BudgetResetAt}
}
