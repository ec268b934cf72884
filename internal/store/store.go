// Package store defines the persistence boundary of the exchange. The Postgres
// implementation lives in internal/db/repositories; internal/store/memory holds an
// in-process implementation used by tests and single-node development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/threat-exchange/threat-exchange/internal/db/models"
)

var (
	// ErrOrganizationNotFound is returned when an organization id does not resolve to a row.
	ErrOrganizationNotFound = errors.New("organization not found")
	// ErrOrganizationExists is returned by CreateOrganization on a duplicate id or key hash.
	ErrOrganizationExists = errors.New("organization already exists")
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrCampaignNotFound   = errors.New("campaign not found")
)

// Store is the non-transactional entry point. Every mutation goes through WithTx.
type Store interface {
	// WithTx runs fn in a single transaction. Any error returned by fn rolls back
	// every write made through tx and is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ListOrganizations(ctx context.Context) ([]*models.Organization, error)
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error
	CountCampaigns(ctx context.Context) (int, error)
}

// CampaignQuery narrows ListCampaigns to fields that are never redacted.
// Zero values mean "no constraint".
type CampaignQuery struct {
	AttackVector models.AttackVector
	MinOrgs      int
	Since        time.Time
}

// Tx is the set of operations available inside a transaction. Get* methods return
// (nil, nil) when the row does not exist.
type Tx interface {
	// LockOrganization reads the organization row and holds it until the transaction ends.
	LockOrganization(ctx context.Context, id string) (*models.Organization, error)
	UpdateOrganizationBudget(ctx context.Context, id string, budget int, resetAt time.Time) error

	GetIncidentByLocalRef(ctx context.Context, orgID, localRef string) (*models.Incident, error)
	CreateIncident(ctx context.Context, incident *models.Incident) error
	UpdateIncident(ctx context.Context, incident *models.Incident) error
	ListIncidentsByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*models.Incident, error)

	// LockAttackVectors serializes campaign lookup and mutation per attack vector
	// until the transaction ends. Vectors are locked in sorted order.
	LockAttackVectors(ctx context.Context, vectors ...models.AttackVector) error
	// FindLatestCampaign returns the campaign for vector with the most recent last_seen.
	FindLatestCampaign(ctx context.Context, vector models.AttackVector) (*models.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	CreateCampaign(ctx context.Context, campaign *models.Campaign) error
	UpdateCampaign(ctx context.Context, campaign *models.Campaign) error
	DeleteCampaign(ctx context.Context, id string) error
	// ListCampaignMembers returns member incidents in creation order.
	ListCampaignMembers(ctx context.Context, campaignID string) ([]models.CampaignMember, error)
	// ListCampaigns returns campaigns ordered by last_seen descending.
	ListCampaigns(ctx context.Context, q CampaignQuery) ([]*models.Campaign, error)
}
