package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

var campaignCols = []string{
	"id", "primary_attack_vector", "ai_components", "sectors", "regions", "first_seen", "last_seen",
	"num_orgs", "num_incidents", "canonical_summary", "created_at", "updated_at",
}

var memberCols = []string{"id", "org_id", "sector", "region", "time_start", "ai_components", "summary", "updated_at"}

func sampleCampaignRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(campaignCols).AddRow(
		"22222222-2222-2222-2222-222222222222", "ai_phishing", "{gpt-4}", "{health,energy}", "{NA-East,EU}",
		now.Add(-2*time.Hour), now, 2, 3, "latest summary", now, now,
	)
}

func newCampaignRepo(t *testing.T) (*CampaignRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewCampaignRepository(db), mock
}

// ---------------------------------------------------------------------------
// LockAttackVectors
// ---------------------------------------------------------------------------

func TestLockAttackVectors_SortedAndDeduplicated(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("campaign:ai_phishing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("campaign:deepfake_voice").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.LockAttackVectors(context.Background(),
		models.AttackVectorDeepfakeVoice, models.AttackVectorAIPhishing, models.AttackVectorDeepfakeVoice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLockAttackVectors_DBError(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnError(errDB)

	if err := repo.LockAttackVectors(context.Background(), models.AttackVectorOther); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
}

// ---------------------------------------------------------------------------
// FindLatest / GetByID
// ---------------------------------------------------------------------------

func TestCampaignFindLatest_Found(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectQuery("SELECT.*FROM campaigns WHERE primary_attack_vector = \\$1 ORDER BY last_seen DESC.*FOR UPDATE").
		WithArgs("ai_phishing").
		WillReturnRows(sampleCampaignRow())

	c, err := repo.FindLatest(context.Background(), models.AttackVectorAIPhishing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("expected campaign, got nil")
	}
	if c.NumOrgs != 2 || c.NumIncidents != 3 {
		t.Errorf("counts = %d/%d", c.NumOrgs, c.NumIncidents)
	}
	if len(c.Sectors) != 2 || c.Sectors[0] != "health" || c.Regions[1] != "EU" {
		t.Errorf("sectors/regions = %v/%v", c.Sectors, c.Regions)
	}
}

func TestCampaignFindLatest_None(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectQuery("SELECT.*FROM campaigns").
		WillReturnRows(sqlmock.NewRows(campaignCols))

	c, err := repo.FindLatest(context.Background(), models.AttackVectorDeepfakeVideo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Errorf("expected nil, got %+v", c)
	}
}

func TestCampaignGetByID_DBError(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectQuery("SELECT.*FROM campaigns WHERE id").WillReturnError(errDB)

	if _, err := repo.GetByID(context.Background(), "x"); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
}

func TestCampaignGetByID_MalformedUUID(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectQuery("SELECT.*FROM campaigns WHERE id").
		WithArgs("not-a-uuid").
		WillReturnError(&pq.Error{Code: pgerrcode.InvalidTextRepresentation, Message: `invalid input syntax for type uuid: "not-a-uuid"`})

	c, err := repo.GetByID(context.Background(), "not-a-uuid")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if c != nil {
		t.Errorf("campaign = %+v, want nil", c)
	}
}

// ---------------------------------------------------------------------------
// Create / Update / Delete
// ---------------------------------------------------------------------------

func sampleCampaign() *models.Campaign {
	now := time.Now()
	return &models.Campaign{
		ID:                  "22222222-2222-2222-2222-222222222222",
		PrimaryAttackVector: models.AttackVectorAIPhishing,
		FirstSeen:           now,
		LastSeen:            now,
		NumOrgs:             1,
		NumIncidents:        1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestCampaignCreate_EmptyUnionsStoredAsEmptyArrays(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectExec("INSERT INTO campaigns").
		WithArgs(sqlmock.AnyArg(), "ai_phishing", "{}", "{}", "{}",
			sqlmock.AnyArg(), sqlmock.AnyArg(), 1, 1, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), sampleCampaign()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCampaignUpdate_NotFound(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectExec("UPDATE campaigns SET").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Update(context.Background(), sampleCampaign()); !errors.Is(err, store.ErrCampaignNotFound) {
		t.Errorf("err = %v, want ErrCampaignNotFound", err)
	}
}

func TestCampaignDelete_Success(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectExec("DELETE FROM campaigns WHERE id").
		WithArgs("22222222-2222-2222-2222-222222222222").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "22222222-2222-2222-2222-222222222222"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ListMembers / List / Count
// ---------------------------------------------------------------------------

func TestCampaignListMembers(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	now := time.Now()
	rows := sqlmock.NewRows(memberCols).
		AddRow("inc-1", "org_a", "health", "NA-East", now, "{gpt-4}", "first", now).
		AddRow("inc-2", "org_b", "energy", "EU", now, "{}", "second", now)
	mock.ExpectQuery("SELECT.*FROM incidents i JOIN organizations o.*WHERE i.campaign_id = \\$1 ORDER BY i.created_at").
		WithArgs("c-1").
		WillReturnRows(rows)

	members, err := repo.ListMembers(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("len = %d, want 2", len(members))
	}
	if members[1].Sector != models.SectorEnergy || members[1].Region != models.RegionEU {
		t.Errorf("member[1] = %+v", members[1])
	}
	if len(members[0].AIComponents) != 1 {
		t.Errorf("member[0].AIComponents = %v", members[0].AIComponents)
	}
}

func TestCampaignList_BuildsFilters(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT.*FROM campaigns WHERE primary_attack_vector = \\$1 AND num_orgs >= \\$2 AND last_seen >= \\$3 ORDER BY last_seen DESC").
		WithArgs("ai_phishing", 2, since).
		WillReturnRows(sampleCampaignRow())

	campaigns, err := repo.List(context.Background(), store.CampaignQuery{
		AttackVector: models.AttackVectorAIPhishing,
		MinOrgs:      2,
		Since:        since,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(campaigns) != 1 {
		t.Fatalf("len = %d, want 1", len(campaigns))
	}
}

func TestCampaignList_NoFilters(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectQuery("SELECT.*FROM campaigns ORDER BY last_seen DESC").
		WillReturnRows(sqlmock.NewRows(campaignCols))

	campaigns, err := repo.List(context.Background(), store.CampaignQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(campaigns) != 0 {
		t.Errorf("len = %d, want 0", len(campaigns))
	}
}

func TestCampaignCount(t *testing.T) {
	repo, mock := newCampaignRepo(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("Count = %d, want 7", n)
	}
}
