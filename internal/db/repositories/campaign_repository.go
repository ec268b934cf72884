// campaign_repository.go implements CampaignRepository: campaign rows, their member
// projection and the per-attack-vector advisory lock taken by the correlator.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

const campaignColumns = `id, primary_attack_vector, ai_components, sectors, regions, first_seen, last_seen, num_orgs, num_incidents, canonical_summary, created_at, updated_at`

// CampaignRepository handles database operations for campaigns
type CampaignRepository struct {
	db sqlx.ExtContext
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db sqlx.ExtContext) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	err := row.Scan(
		&c.ID,
		&c.PrimaryAttackVector,
		pq.Array(&c.AIComponents),
		pq.Array(&c.Sectors),
		pq.Array(&c.Regions),
		&c.FirstSeen,
		&c.LastSeen,
		&c.NumOrgs,
		&c.NumIncidents,
		&c.CanonicalSummary,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

// LockAttackVectors takes a transaction-scoped advisory lock per vector, in sorted order
// so that two transactions touching the same pair of vectors cannot deadlock.
func (r *CampaignRepository) LockAttackVectors(ctx context.Context, vectors ...models.AttackVector) error {
	keys := make([]string, 0, len(vectors))
	seen := make(map[models.AttackVector]bool, len(vectors))
	for _, v := range vectors {
		if seen[v] {
			continue
		}
		seen[v] = true
		keys = append(keys, "campaign:"+string(v))
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("failed to lock attack vector: %w", err)
		}
	}
	return nil
}

// FindLatest returns the campaign for vector with the most recent last_seen and locks it
func (r *CampaignRepository) FindLatest(ctx context.Context, vector models.AttackVector) (*models.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE primary_attack_vector = $1
		ORDER BY last_seen DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`
	return r.get(ctx, query, vector)
}

// GetByID retrieves a campaign by ID. An id that is not a uuid matches nothing.
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := r.get(ctx, query, id)
	if err != nil && isInvalidText(err) {
		return nil, nil
	}
	return c, err
}

func (r *CampaignRepository) get(ctx context.Context, query string, arg any) (*models.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowxContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// Create inserts a new campaign
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	query := `
		INSERT INTO campaigns (` + campaignColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.PrimaryAttackVector,
		pq.Array(nonNil(c.AIComponents)),
		pq.Array(nonNil(c.Sectors)),
		pq.Array(nonNil(c.Regions)),
		c.FirstSeen,
		c.LastSeen,
		c.NumOrgs,
		c.NumIncidents,
		c.CanonicalSummary,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// Update overwrites the aggregate fields of a campaign
func (r *CampaignRepository) Update(ctx context.Context, c *models.Campaign) error {
	query := `
		UPDATE campaigns
		SET ai_components = $2, sectors = $3, regions = $4, first_seen = $5, last_seen = $6,
		    num_orgs = $7, num_incidents = $8, canonical_summary = $9, updated_at = $10
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		c.ID,
		pq.Array(nonNil(c.AIComponents)),
		pq.Array(nonNil(c.Sectors)),
		pq.Array(nonNil(c.Regions)),
		c.FirstSeen,
		c.LastSeen,
		c.NumOrgs,
		c.NumIncidents,
		c.CanonicalSummary,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return expectOneRow(result, store.ErrCampaignNotFound)
}

// Delete removes a campaign. Callers detach every member first.
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	return expectOneRow(result, store.ErrCampaignNotFound)
}

// ListMembers returns the member incidents of a campaign in creation order, joined with
// each contributor's sector and region.
func (r *CampaignRepository) ListMembers(ctx context.Context, campaignID string) ([]models.CampaignMember, error) {
	query := `
		SELECT i.id, i.org_id, o.sector, o.region, i.time_start, i.ai_components, i.summary, i.updated_at
		FROM incidents i
		JOIN organizations o ON o.id = i.org_id
		WHERE i.campaign_id = $1
		ORDER BY i.created_at, i.id
	`
	rows, err := r.db.QueryxContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign members: %w", err)
	}
	defer rows.Close()

	var members []models.CampaignMember
	for rows.Next() {
		var m models.CampaignMember
		if err := rows.Scan(
			&m.IncidentID,
			&m.OrgID,
			&m.Sector,
			&m.Region,
			&m.TimeStart,
			pq.Array(&m.AIComponents),
			&m.Summary,
			&m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan campaign member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaign members: %w", err)
	}
	return members, nil
}

// List returns campaigns matching q, most recently active first
func (r *CampaignRepository) List(ctx context.Context, q store.CampaignQuery) ([]*models.Campaign, error) {
	var (
		where []string
		args  []any
	)
	if q.AttackVector != "" {
		args = append(args, q.AttackVector)
		where = append(where, fmt.Sprintf("primary_attack_vector = $%d", len(args)))
	}
	if q.MinOrgs > 0 {
		args = append(args, q.MinOrgs)
		where = append(where, fmt.Sprintf("num_orgs >= $%d", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, fmt.Sprintf("last_seen >= $%d", len(args)))
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY last_seen DESC, id`

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaigns: %w", err)
	}
	return campaigns, nil
}

// Count returns the number of campaigns
func (r *CampaignRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM campaigns`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count campaigns: %w", err)
	}
	return count, nil
}
