// organization_repository.go implements OrganizationRepository, providing database queries
// for organization provisioning, credential lookup and query-budget bookkeeping.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

const organizationColumns = `id, display_name, sector, region, api_key_hash, query_budget, budget_reset_at, created_at, updated_at`

// OrganizationRepository handles database operations for organizations.
// db is either the pool or an open transaction.
type OrganizationRepository struct {
	db sqlx.ExtContext
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db sqlx.ExtContext) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (*models.Organization, error) {
	org := &models.Organization{}
	err := row.Scan(
		&org.ID,
		&org.DisplayName,
		&org.Sector,
		&org.Region,
		&org.APIKeyHash,
		&org.QueryBudget,
		&org.BudgetResetAt,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	return org, err
}

// List returns every organization. The credential verifier scans this list.
func (r *OrganizationRepository) List(ctx context.Context) ([]*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations ORDER BY id`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizations: %w", err)
	}
	return orgs, nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1`
	return r.get(ctx, query, id)
}

// GetByIDForUpdate retrieves an organization and locks its row until the enclosing
// transaction ends. Only meaningful when the repository wraps a transaction.
func (r *OrganizationRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1 FOR UPDATE`
	return r.get(ctx, query, id)
}

func (r *OrganizationRepository) get(ctx context.Context, query, id string) (*models.Organization, error) {
	org, err := scanOrganization(r.db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// Create inserts a new organization
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, display_name, sector, region, api_key_hash, query_budget, budget_reset_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		org.ID,
		org.DisplayName,
		org.Sector,
		org.Region,
		org.APIKeyHash,
		org.QueryBudget,
		org.BudgetResetAt,
		org.CreatedAt,
		org.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrganizationExists
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// UpdateBudget stores the remaining budget and the next reset instant
func (r *OrganizationRepository) UpdateBudget(ctx context.Context, id string, budget int, resetAt time.Time) error {
	query := `
		UPDATE organizations
		SET query_budget = $2, budget_reset_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, budget, resetAt)
	if err != nil {
		return fmt.Errorf("failed to update organization budget: %w", err)
	}
	return expectOneRow(result, store.ErrOrganizationNotFound)
}
