// Package exchange implements the multi-tenant core of the threat exchange: query budget
// accounting, incident upsert, campaign correlation and privacy redaction. Every request
// runs in one store transaction, so a failure anywhere undoes the budget charge too.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
	"github.com/threat-exchange/threat-exchange/internal/telemetry"
)

// Options configures a Service. Zero fields take the package defaults, and
// MinContributors is never allowed below DefaultMinContributors.
type Options struct {
	Budget          BudgetPolicy
	MinContributors int
	Now             func() time.Time
}

// Service orchestrates the exchange operations
type Service struct {
	store           store.Store
	budget          BudgetPolicy
	minContributors int
	now             func() time.Time
}

// NewService creates a Service over st
func NewService(st store.Store, opts Options) *Service {
	if opts.Budget.Capacity <= 0 {
		opts.Budget.Capacity = DefaultBudgetCapacity
	}
	if opts.Budget.Window <= 0 {
		opts.Budget.Window = DefaultBudgetWindow
	}
	if opts.MinContributors < DefaultMinContributors {
		opts.MinContributors = DefaultMinContributors
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:           st,
		budget:          opts.Budget,
		minContributors: opts.MinContributors,
		now:             opts.Now,
	}
}

// SubmitIncident charges orgID one query, upserts the incident and correlates it, all in
// one transaction. An exhausted budget aborts before anything is written.
func (s *Service) SubmitIncident(ctx context.Context, orgID string, sub *Submission) (*models.Incident, BudgetStatus, error) {
	var (
		incident *models.Incident
		status   BudgetStatus
		created  bool
	)
	now := s.now()

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		status, err = s.budget.Charge(ctx, tx, orgID, now)
		if err != nil {
			return err
		}

		var previous *models.Incident
		incident, previous, err = UpsertIncident(ctx, tx, orgID, sub, now)
		if err != nil {
			return err
		}
		created = previous == nil

		_, err = Correlate(ctx, tx, incident, previous, now)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrBudgetExhausted), errors.Is(err, ErrInvalidSubmission):
			telemetry.IncidentsSubmittedTotal.WithLabelValues("rejected").Inc()
		default:
			telemetry.IncidentsSubmittedTotal.WithLabelValues("error").Inc()
		}
		return nil, status, err
	}

	result := "updated"
	if created {
		result = "created"
	}
	telemetry.IncidentsSubmittedTotal.WithLabelValues(result).Inc()
	slog.Debug("incident processed",
		"org_id", orgID,
		"incident_id", incident.ID,
		"campaign_id", *incident.CampaignID,
		"result", result,
	)
	return incident, status, nil
}

// ListCampaigns charges orgID one query and returns the matching campaigns, redacted,
// along with the total number of matches before pagination.
func (s *Service) ListCampaigns(ctx context.Context, orgID string, filter CampaignFilter) ([]CampaignView, int, BudgetStatus, error) {
	var (
		views  []CampaignView
		status BudgetStatus
	)
	now := s.now()

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		status, err = s.budget.Charge(ctx, tx, orgID, now)
		if err != nil {
			return err
		}

		campaigns, err := tx.ListCampaigns(ctx, filter.query())
		if err != nil {
			return fmt.Errorf("failed to list campaigns: %w", err)
		}

		views = make([]CampaignView, 0, len(campaigns))
		for _, c := range campaigns {
			v := Redact(c, s.minContributors)
			if filter.matches(v) {
				views = append(views, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, status, err
	}

	total := len(views)
	limit, offset := ClampPage(filter.Limit, filter.Offset)
	if offset >= total {
		return []CampaignView{}, total, status, nil
	}
	end := min(offset+limit, total)
	return views[offset:end], total, status, nil
}

// GetCampaign charges orgID one query and returns one redacted campaign. The charge
// stands even when the campaign does not exist.
func (s *Service) GetCampaign(ctx context.Context, orgID, campaignID string) (*CampaignView, BudgetStatus, error) {
	var (
		view   *CampaignView
		status BudgetStatus
	)
	now := s.now()

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		status, err = s.budget.Charge(ctx, tx, orgID, now)
		if err != nil {
			return err
		}

		// campaign ids are UUIDs; anything else cannot exist
		if _, err := uuid.Parse(campaignID); err != nil {
			return nil
		}
		c, err := tx.GetCampaign(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("failed to get campaign: %w", err)
		}
		if c != nil {
			v := Redact(c, s.minContributors)
			view = &v
		}
		return nil
	})
	if err != nil {
		return nil, status, err
	}
	if view == nil {
		return nil, status, ErrCampaignNotFound
	}
	return view, status, nil
}

// ListIncidents charges orgID one query and returns its own incidents, newest first
func (s *Service) ListIncidents(ctx context.Context, orgID string, limit, offset int) ([]*models.Incident, BudgetStatus, error) {
	var (
		incidents []*models.Incident
		status    BudgetStatus
	)
	now := s.now()
	limit, offset = ClampPage(limit, offset)

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		status, err = s.budget.Charge(ctx, tx, orgID, now)
		if err != nil {
			return err
		}

		incidents, err = tx.ListIncidentsByOrganization(ctx, orgID, limit, offset)
		if err != nil {
			return fmt.Errorf("failed to list incidents: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, status, err
	}
	return incidents, status, nil
}

// Budget reports orgID's remaining allowance without charging it
func (s *Service) Budget(ctx context.Context, orgID string) (BudgetStatus, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return BudgetStatus{}, fmt.Errorf("failed to get organization: %w", err)
	}
	if org == nil {
		return BudgetStatus{}, store.ErrOrganizationNotFound
	}
	return s.budget.Peek(org, s.now()), nil
}
