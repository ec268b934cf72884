// incident_repository.go implements IncidentRepository: upsert support keyed by
// (org_id, local_ref) and per-organization listing.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

const incidentColumns = `id, org_id, local_ref, time_start, time_end, attack_vector, ai_components, techniques, iocs, impact_level, summary, campaign_id, created_at, updated_at`

// IncidentRepository handles database operations for incidents
type IncidentRepository struct {
	db sqlx.ExtContext
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db sqlx.ExtContext) *IncidentRepository {
	return &IncidentRepository{db: db}
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	inc := &models.Incident{}
	var (
		timeEnd    sql.NullTime
		campaignID sql.NullString
		iocs       []byte
	)
	err := row.Scan(
		&inc.ID,
		&inc.OrgID,
		&inc.LocalRef,
		&inc.TimeStart,
		&timeEnd,
		&inc.AttackVector,
		pq.Array(&inc.AIComponents),
		pq.Array(&inc.Techniques),
		&iocs,
		&inc.ImpactLevel,
		&inc.Summary,
		&campaignID,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if timeEnd.Valid {
		inc.TimeEnd = &timeEnd.Time
	}
	if campaignID.Valid {
		inc.CampaignID = &campaignID.String
	}
	if len(iocs) > 0 {
		if err := json.Unmarshal(iocs, &inc.IOCs); err != nil {
			return nil, fmt.Errorf("failed to decode iocs: %w", err)
		}
	}
	return inc, nil
}

// GetByLocalRef retrieves the incident an organization filed under localRef and locks
// it for the rest of the transaction. local_ref is compared case-sensitively.
func (r *IncidentRepository) GetByLocalRef(ctx context.Context, orgID, localRef string) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE org_id = $1 AND local_ref = $2 FOR UPDATE`

	inc, err := scanIncident(r.db.QueryRowxContext(ctx, query, orgID, localRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return inc, nil
}

// Create inserts a new incident
func (r *IncidentRepository) Create(ctx context.Context, inc *models.Incident) error {
	iocs, err := encodeIOCs(inc.IOCs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.ExecContext(ctx, query,
		inc.ID,
		inc.OrgID,
		inc.LocalRef,
		inc.TimeStart,
		inc.TimeEnd,
		inc.AttackVector,
		pq.Array(nonNil(inc.AIComponents)),
		pq.Array(nonNil(inc.Techniques)),
		iocs,
		inc.ImpactLevel,
		inc.Summary,
		inc.CampaignID,
		inc.CreatedAt,
		inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// Update overwrites every mutable field of an existing incident, including its campaign reference
func (r *IncidentRepository) Update(ctx context.Context, inc *models.Incident) error {
	iocs, err := encodeIOCs(inc.IOCs)
	if err != nil {
		return err
	}

	query := `
		UPDATE incidents
		SET time_start = $2, time_end = $3, attack_vector = $4, ai_components = $5,
		    techniques = $6, iocs = $7, impact_level = $8, summary = $9,
		    campaign_id = $10, updated_at = $11
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		inc.ID,
		inc.TimeStart,
		inc.TimeEnd,
		inc.AttackVector,
		pq.Array(nonNil(inc.AIComponents)),
		pq.Array(nonNil(inc.Techniques)),
		iocs,
		inc.ImpactLevel,
		inc.Summary,
		inc.CampaignID,
		inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	return expectOneRow(result, store.ErrIncidentNotFound)
}

// ListByOrganization returns an organization's incidents, newest first.
// A limit of 0 returns every row.
func (r *IncidentRepository) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE org_id = $1
		ORDER BY created_at DESC, id
		LIMIT NULLIF($2, 0) OFFSET $3
	`
	rows, err := r.db.QueryxContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := []*models.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}
	return incidents, nil
}

// encodeIOCs returns the JSONB text for iocs. lib/pq sends []byte as bytea, so the
// document goes over the wire as a string.
func encodeIOCs(iocs []models.IOC) (string, error) {
	if iocs == nil {
		iocs = []models.IOC{}
	}
	b, err := json.Marshal(iocs)
	if err != nil {
		return "", fmt.Errorf("failed to encode iocs: %w", err)
	}
	return string(b), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
