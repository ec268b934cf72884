package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var orgCols = []string{
	"id", "display_name", "sector", "region", "api_key_hash",
	"query_budget", "budget_reset_at", "created_at", "updated_at",
}

var errDB = errors.New("db error")

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleOrgRow() *sqlmock.Rows {
	return sqlmock.NewRows(orgCols).
		AddRow("org_test", "Test Hospital", "health", "NA-East", "$2a$12$hash", 999, time.Now().Add(time.Hour), time.Now(), time.Now())
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func newOrgRepo(t *testing.T) (*OrganizationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewOrganizationRepository(db), mock
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestOrganizationList_Success(t *testing.T) {
	repo, mock := newOrgRepo(t)
	rows := sampleOrgRow().
		AddRow("org_two", "Grid Co", "energy", "EU", "$2a$12$other", 1000, time.Now(), time.Now(), time.Now())
	mock.ExpectQuery("SELECT.*FROM organizations ORDER BY id").WillReturnRows(rows)

	orgs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orgs) != 2 {
		t.Fatalf("len = %d, want 2", len(orgs))
	}
	if orgs[0].Sector != models.SectorHealth || orgs[0].Region != models.RegionNAEast {
		t.Errorf("sector/region = %q/%q", orgs[0].Sector, orgs[0].Region)
	}
	if orgs[1].APIKeyHash != "$2a$12$other" {
		t.Errorf("APIKeyHash = %q", orgs[1].APIKeyHash)
	}
}

func TestOrganizationList_QueryError(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations").WillReturnError(errDB)

	if _, err := repo.List(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetByID / GetByIDForUpdate
// ---------------------------------------------------------------------------

func TestOrganizationGetByID_Found(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations WHERE id").
		WithArgs("org_test").
		WillReturnRows(sampleOrgRow())

	org, err := repo.GetByID(context.Background(), "org_test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org == nil || org.QueryBudget != 999 {
		t.Fatalf("org = %+v", org)
	}
}

func TestOrganizationGetByID_NotFound(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(orgCols))

	org, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org != nil {
		t.Errorf("expected nil, got %+v", org)
	}
}

func TestOrganizationGetByIDForUpdate_LocksRow(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations WHERE id = \\$1 FOR UPDATE").
		WithArgs("org_test").
		WillReturnRows(sampleOrgRow())

	if _, err := repo.GetByIDForUpdate(context.Background(), "org_test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestOrganizationGetByID_DBError(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations").WillReturnError(errDB)

	if _, err := repo.GetByID(context.Background(), "org_test"); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func sampleOrganization() *models.Organization {
	now := time.Now()
	return &models.Organization{
		ID:            "org_test",
		DisplayName:   "Test Hospital",
		Sector:        models.SectorHealth,
		Region:        models.RegionNAEast,
		APIKeyHash:    "$2a$12$hash",
		QueryBudget:   1000,
		BudgetResetAt: now.Add(24 * time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrganizationCreate_Success(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("INSERT INTO organizations").
		WithArgs("org_test", "Test Hospital", "health", "NA-East", "$2a$12$hash", 1000,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), sampleOrganization()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrganizationCreate_Duplicate(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), sampleOrganization())
	if !errors.Is(err, store.ErrOrganizationExists) {
		t.Errorf("err = %v, want ErrOrganizationExists", err)
	}
}

// ---------------------------------------------------------------------------
// UpdateBudget
// ---------------------------------------------------------------------------

func TestOrganizationUpdateBudget_Success(t *testing.T) {
	repo, mock := newOrgRepo(t)
	reset := time.Now().Add(time.Hour)
	mock.ExpectExec("UPDATE organizations SET query_budget").
		WithArgs("org_test", 41, reset).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateBudget(context.Background(), "org_test", 41, reset); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrganizationUpdateBudget_NotFound(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("UPDATE organizations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateBudget(context.Background(), "missing", 1, time.Now())
	if !errors.Is(err, store.ErrOrganizationNotFound) {
		t.Errorf("err = %v, want ErrOrganizationNotFound", err)
	}
}
