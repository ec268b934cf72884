package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/threat-exchange/threat-exchange/internal/auth"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
)

// ErrInvalidOrganization wraps every provisioning validation failure
var ErrInvalidOrganization = errors.New("invalid organization")

// NewOrganization describes an organization to provision
type NewOrganization struct {
	DisplayName string
	Sector      models.Sector
	Region      models.Region
}

// ProvisionOrganization creates an organization with a full budget and a fresh API key.
// The key is returned once; only its bcrypt hash (at keyCost) is stored.
func (s *Service) ProvisionOrganization(ctx context.Context, req NewOrganization, keyCost int) (*models.Organization, string, error) {
	name := strings.TrimSpace(req.DisplayName)
	switch {
	case name == "":
		return nil, "", fmt.Errorf("%w: display name is required", ErrInvalidOrganization)
	case !req.Sector.Valid():
		return nil, "", fmt.Errorf("%w: unknown sector %q", ErrInvalidOrganization, req.Sector)
	case !req.Region.Valid():
		return nil, "", fmt.Errorf("%w: unknown region %q", ErrInvalidOrganization, req.Region)
	}

	key, hash, err := auth.GenerateAPIKey(keyCost)
	if err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	org := &models.Organization{
		ID:            newOrganizationID(),
		DisplayName:   name,
		Sector:        req.Sector,
		Region:        req.Region,
		APIKeyHash:    hash,
		QueryBudget:   s.budget.Capacity,
		BudgetResetAt: now.Add(s.budget.Window),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, "", fmt.Errorf("failed to create organization: %w", err)
	}
	return org, key, nil
}

func newOrganizationID() string {
	return "org_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
