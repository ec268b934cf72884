package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	exchangesvc "github.com/threat-exchange/threat-exchange/internal/exchange"
	"github.com/threat-exchange/threat-exchange/internal/middleware"
	"github.com/threat-exchange/threat-exchange/internal/store/memory"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type testServer struct {
	store  *memory.Store
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	now := func() time.Time { return testNow }
	svc := exchangesvc.NewService(st, exchangesvc.Options{
		Budget: exchangesvc.BudgetPolicy{Capacity: 100, Window: 24 * time.Hour},
		Now:    now,
	})
	h := NewHandlers(svc, now)

	r := gin.New()
	api := r.Group("/api/v1")
	// stands in for OrganizationAuthMiddleware: the X-Test-Org header names the caller
	api.Use(func(c *gin.Context) {
		id := c.GetHeader("X-Test-Org")
		if id != "" {
			c.Set(middleware.OrganizationKey, &models.Organization{ID: id})
			c.Set(middleware.OrganizationIDKey, id)
		}
		c.Next()
	})
	api.POST("/incidents", h.SubmitIncident())
	api.GET("/incidents", h.ListIncidents())
	api.GET("/campaigns", h.ListCampaigns())
	api.GET("/campaigns/:id", h.GetCampaign())
	api.GET("/budget", h.GetBudget())

	return &testServer{store: st, router: r}
}

func (s *testServer) addOrg(t *testing.T, id string, sector models.Sector, region models.Region, budget int) {
	t.Helper()
	require.NoError(t, s.store.CreateOrganization(context.Background(), &models.Organization{
		ID: id, DisplayName: id, Sector: sector, Region: region,
		APIKeyHash: "hash-" + id, QueryBudget: budget, BudgetResetAt: testNow.Add(time.Hour),
	}))
}

func (s *testServer) do(t *testing.T, method, path, org string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if org != "" {
		req.Header.Set("X-Test-Org", org)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) budget(t *testing.T, org string) int {
	t.Helper()
	o, err := s.store.GetOrganization(context.Background(), org)
	require.NoError(t, err)
	return o.QueryBudget
}

func incidentBody(ref string, vector models.AttackVector) map[string]any {
	return map[string]any{
		"local_ref":     ref,
		"time_start":    testNow.Add(-time.Hour).Format(time.RFC3339),
		"attack_vector": vector,
		"impact_level":  "high",
		"ai_components": []string{"voice-clone"},
		"summary":       "report " + ref,
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestSubmitIncident_OK(t *testing.T) {
	s := newTestServer(t)
	s.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 5)

	w := s.do(t, http.MethodPost, "/api/v1/incidents", "org_a", incidentBody("r1", models.AttackVectorDeepfakeVoice))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	inc := decode[models.Incident](t, w)
	assert.Equal(t, "r1", inc.LocalRef)
	assert.Equal(t, "org_a", inc.OrgID)
	require.NotNil(t, inc.CampaignID)
	assert.Equal(t, "4", w.Header().Get("X-Budget-Remaining"))
	assert.Equal(t, testNow.Add(time.Hour).Format(time.RFC3339), w.Header().Get("X-Budget-Reset"))
}

func TestSubmitIncident_BadRequests(t *testing.T) {
	s := newTestServer(t)
	s.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 5)

	missingRef := incidentBody("", models.AttackVectorAIPhishing)
	badVector := incidentBody("r1", "sql_injection")
	badOrder := incidentBody("r1", models.AttackVectorAIPhishing)
	badOrder["time_end"] = testNow.Add(-2 * time.Hour).Format(time.RFC3339)

	for name, body := range map[string]any{
		"malformed json":    `{"local_ref":`,
		"missing local_ref": missingRef,
		"unknown vector":    badVector,
		"time_end first":    badOrder,
	} {
		t.Run(name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/incidents", "org_a", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "error")
		})
	}
	assert.Equal(t, 5, s.budget(t, "org_a"), "rejected submissions are not charged")
}

func TestSubmitIncident_BudgetExhausted(t *testing.T) {
	s := newTestServer(t)
	s.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 0)

	w := s.do(t, http.MethodPost, "/api/v1/incidents", "org_a", incidentBody("r1", models.AttackVectorAIPhishing))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-Budget-Remaining"))

	body := decode[map[string]any](t, w)
	assert.Contains(t, strings.ToLower(body["detail"].(string)), "budget exhausted")

	w = s.do(t, http.MethodGet, "/api/v1/incidents", "org_a", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestSubmitIncident_Unauthenticated(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/incidents", "", incidentBody("r1", models.AttackVectorAIPhishing))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitIncident_OrganizationRemoved(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/incidents", "org_ghost", incidentBody("r1", models.AttackVectorAIPhishing))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type campaignPage struct {
	Campaigns  []exchangesvc.CampaignView `json:"campaigns"`
	Pagination struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Total  int `json:"total"`
	} `json:"pagination"`
}

func TestListCampaigns_RedactionAcrossOrganizations(t *testing.T) {
	s := newTestServer(t)
	s.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 10)
	s.addOrg(t, "org_b", models.SectorEnergy, models.RegionEU, 10)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/incidents", "org_a",
		incidentBody("a1", models.AttackVectorDeepfakeVoice)).Code)

	page := decode[campaignPage](t, s.do(t, http.MethodGet, "/api/v1/campaigns", "org_b", nil))
	require.Len(t, page.Campaigns, 1)
	assert.Equal(t, 1, page.Campaigns[0].NumOrgs)
	assert.Empty(t, page.Campaigns[0].Sectors)
	assert.Empty(t, page.Campaigns[0].Regions)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/incidents", "org_b",
		incidentBody("b1", models.AttackVectorDeepfakeVoice)).Code)

	w := s.do(t, http.MethodGet, "/api/v1/campaigns?sector=energy", "org_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[campaignPage](t, w)
	require.Len(t, page.Campaigns, 1)
	assert.Equal(t, []string{"health", "energy"}, page.Campaigns[0].Sectors)
	assert.Equal(t, []string{"NA-East", "EU"}, page.Campaigns[0].Regions)
	assert.Equal(t, 1, page.Pagination.Total)
	assert.Equal(t, exchangesvc.DefaultPageSize, page.Pagination.Limit)
}

func TestListCampaigns_InvalidFilters(t *testing.T) {
	s := newTestServer(t)
	s.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 10)

	for _, q := range []string{
		"attack_vector=nope",
		"sector=agriculture",
		"region=Mars",
		"min_orgs=-1",
		"since=yesterday",
		"limit=ten",
		"offset=-5",
	} {
		t.Run(q, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/api/v1/campaigns?"+q, "org_a", nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Equal(t, 10, s.budget(t, "org_a"), "invalid filters are not charged")
}

func TestListCampaigns_Pagination(t *testing.T) {
	s := newTestServer(t)
	s.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 20)

	for _, v := range []models.AttackVector{
		models.AttackVectorAIPhishing, models.AttackVectorDeepfakeVoice, models.AttackVectorPromptInjection,
	} {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/incidents", "org_a", incidentBody(string(v), v)).Code)
	}

	page := decode[campaignPage](t, s.do(t, http.MethodGet, "/api/v1/campaigns?limit=2&offset=2", "org_a", nil))
	assert.Len(t, page.Campaigns, 1)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Limit)
	assert.Equal(t, 2, page.Pagination.Offset)
}

func TestGetCampaign(t *testing.T) {
	s := newTestServer(t)
	s.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 10)

	inc := decode[models.Incident](t, s.do(t, http.MethodPost, "/api/v1/incidents", "org_a",
		incidentBody("r1", models.AttackVectorModelPoisoning)))
	require.NotNil(t, inc.CampaignID)

	w := s.do(t, http.MethodGet, "/api/v1/campaigns/"+*inc.CampaignID, "org_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[exchangesvc.CampaignView](t, w)
	assert.Equal(t, models.AttackVectorModelPoisoning, view.PrimaryAttackVector)
	assert.Equal(t, "report r1", view.CanonicalSummary)

	w = s.do(t, http.MethodGet, "/api/v1/campaigns/does-not-exist", "org_a", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "7", w.Header().Get("X-Budget-Remaining"))

	w = s.do(t, http.MethodGet, "/api/v1/campaigns/00000000-0000-4000-8000-000000000000", "org_a", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "6", w.Header().Get("X-Budget-Remaining"))
}

func TestListIncidents(t *testing.T) {
	s := newTestServer(t)
	s.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 10)
	s.addOrg(t, "org_b", models.SectorEnergy, models.RegionEU, 10)

	s.do(t, http.MethodPost, "/api/v1/incidents", "org_a", incidentBody("a1", models.AttackVectorAIPhishing))
	s.do(t, http.MethodPost, "/api/v1/incidents", "org_b", incidentBody("b1", models.AttackVectorAIPhishing))

	w := s.do(t, http.MethodGet, "/api/v1/incidents", "org_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Incidents []models.Incident `json:"incidents"`
	}](t, w)
	require.Len(t, body.Incidents, 1)
	assert.Equal(t, "a1", body.Incidents[0].LocalRef)
}

func TestGetBudget(t *testing.T) {
	s := newTestServer(t)
	s.addOrg(t, "org_a", models.SectorHealth, models.RegionNAEast, 6)

	for range 2 {
		w := s.do(t, http.MethodGet, "/api/v1/budget", "org_a", nil)
		require.Equal(t, http.StatusOK, w.Code)
		status := decode[exchangesvc.BudgetStatus](t, w)
		assert.Equal(t, 6, status.Remaining)
		assert.True(t, status.ResetAt.Equal(testNow.Add(time.Hour)))
	}
}
