// store.go implements store.Store on Postgres. Each WithTx call runs in one database
// transaction; serialization failures and deadlocks re-run the whole callback.
package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
	"github.com/threat-exchange/threat-exchange/internal/telemetry"
)

// DefaultTxAttempts bounds how often a transaction is run before its last error is returned
const DefaultTxAttempts = 5

// Store is the Postgres store.Store
type Store struct {
	db          *sqlx.DB
	maxAttempts uint
	newBackOff  func() backoff.BackOff
}

var _ store.Store = (*Store)(nil)

// StoreOption configures a Store
type StoreOption func(*Store)

// WithRetry sets the attempt limit and the backoff policy between attempts
func WithRetry(maxAttempts uint, newBackOff func() backoff.BackOff) StoreOption {
	return func(s *Store) {
		s.maxAttempts = maxAttempts
		s.newBackOff = newBackOff
	}
}

// DefaultBackOff is the wait policy between transaction attempts
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// NewStore creates a Store over db
func NewStore(db *sqlx.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:          db,
		maxAttempts: DefaultTxAttempts,
		newBackOff:  DefaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithTx runs fn inside a transaction and commits when fn returns nil
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.runTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if isRetryable(err) {
			telemetry.TxRetriesTotal.Inc()
			slog.Debug("retrying transaction", "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxAttempts),
	)
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(newTxStore(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListOrganizations returns every organization
func (s *Store) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	return NewOrganizationRepository(s.db).List(ctx)
}

// GetOrganization returns an organization or (nil, nil)
func (s *Store) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	return NewOrganizationRepository(s.db).GetByID(ctx, id)
}

// CreateOrganization inserts an organization
func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	return NewOrganizationRepository(s.db).Create(ctx, org)
}

// CountCampaigns returns the number of campaigns
func (s *Store) CountCampaigns(ctx context.Context) (int, error) {
	return NewCampaignRepository(s.db).Count(ctx)
}

// txStore binds the repositories to one open transaction
type txStore struct {
	orgs      *OrganizationRepository
	incidents *IncidentRepository
	campaigns *CampaignRepository
}

func newTxStore(tx *sqlx.Tx) *txStore {
	return &txStore{
		orgs:      NewOrganizationRepository(tx),
		incidents: NewIncidentRepository(tx),
		campaigns: NewCampaignRepository(tx),
	}
}

func (t *txStore) LockOrganization(ctx context.Context, id string) (*models.Organization, error) {
	return t.orgs.GetByIDForUpdate(ctx, id)
}

func (t *txStore) UpdateOrganizationBudget(ctx context.Context, id string, budget int, resetAt time.Time) error {
	return t.orgs.UpdateBudget(ctx, id, budget, resetAt)
}

func (t *txStore) GetIncidentByLocalRef(ctx context.Context, orgID, localRef string) (*models.Incident, error) {
	return t.incidents.GetByLocalRef(ctx, orgID, localRef)
}

func (t *txStore) CreateIncident(ctx context.Context, incident *models.Incident) error {
	return t.incidents.Create(ctx, incident)
}

func (t *txStore) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	return t.incidents.Update(ctx, incident)
}

func (t *txStore) ListIncidentsByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*models.Incident, error) {
	return t.incidents.ListByOrganization(ctx, orgID, limit, offset)
}

func (t *txStore) LockAttackVectors(ctx context.Context, vectors ...models.AttackVector) error {
	return t.campaigns.LockAttackVectors(ctx, vectors...)
}

func (t *txStore) FindLatestCampaign(ctx context.Context, vector models.AttackVector) (*models.Campaign, error) {
	return t.campaigns.FindLatest(ctx, vector)
}

func (t *txStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return t.campaigns.GetByID(ctx, id)
}

func (t *txStore) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	return t.campaigns.Create(ctx, campaign)
}

func (t *txStore) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	return t.campaigns.Update(ctx, campaign)
}

func (t *txStore) DeleteCampaign(ctx context.Context, id string) error {
	return t.campaigns.Delete(ctx, id)
}

func (t *txStore) ListCampaignMembers(ctx context.Context, campaignID string) ([]models.CampaignMember, error) {
	return t.campaigns.ListMembers(ctx, campaignID)
}

func (t *txStore) ListCampaigns(ctx context.Context, q store.CampaignQuery) ([]*models.Campaign, error) {
	return t.campaigns.List(ctx, q)
}
