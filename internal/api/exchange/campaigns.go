package exchange

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	exchangesvc "github.com/threat-exchange/threat-exchange/internal/exchange"
)

// parseCampaignFilter reads the listing filters. Enumerated values are checked so that a
// typo returns 400 instead of an empty page.
func parseCampaignFilter(c *gin.Context) (exchangesvc.CampaignFilter, bool) {
	var f exchangesvc.CampaignFilter

	if v := c.Query("attack_vector"); v != "" {
		f.AttackVector = models.AttackVector(v)
		if !f.AttackVector.Valid() {
			badRequest(c, "unknown attack_vector "+strconv.Quote(v))
			return f, false
		}
	}
	if v := c.Query("sector"); v != "" {
		f.Sector = models.Sector(v)
		if !f.Sector.Valid() {
			badRequest(c, "unknown sector "+strconv.Quote(v))
			return f, false
		}
	}
	if v := c.Query("region"); v != "" {
		f.Region = models.Region(v)
		if !f.Region.Valid() {
			badRequest(c, "unknown region "+strconv.Quote(v))
			return f, false
		}
	}
	f.AIComponent = c.Query("ai_component")

	if v := c.Query("min_orgs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "min_orgs must be a non-negative integer")
			return f, false
		}
		f.MinOrgs = n
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "since must be an RFC 3339 timestamp")
			return f, false
		}
		f.Since = t
	}

	limit, offset, ok := pageParams(c)
	if !ok {
		return f, false
	}
	f.Limit, f.Offset = limit, offset
	return f, true
}

// @Summary      List campaigns
// @Description  Lists campaigns, most recently active first. Sectors and regions are withheld for campaigns with fewer than the configured number of contributing organizations, and the sector and region filters only match disclosed values. Consumes one unit of query budget.
// @Tags         Campaigns
// @Security     Bearer
// @Produce      json
// @Param        attack_vector  query  string  false  "Exact attack vector"
// @Param        ai_component   query  string  false  "Campaign lists this AI component"
// @Param        sector         query  string  false  "Campaign discloses this sector"
// @Param        region         query  string  false  "Campaign discloses this region"
// @Param        min_orgs       query  int     false  "Minimum contributing organizations"
// @Param        since          query  string  false  "Only campaigns last seen at or after this RFC 3339 time"
// @Param        limit          query  int     false  "Page size (default 50, max 200)"
// @Param        offset         query  int     false  "Items to skip"
// @Success      200  {object}  map[string]interface{}  "campaigns: []exchange.CampaignView, pagination: {limit, offset, total}"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Failure      401  {object}  map[string]interface{}  "Invalid API key"
// @Failure      429  {object}  map[string]interface{}  "Query budget exhausted"
// @Router       /api/v1/campaigns [get]
func (h *Handlers) ListCampaigns() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := organizationID(c)
		if !ok {
			return
		}
		filter, ok := parseCampaignFilter(c)
		if !ok {
			return
		}

		views, total, status, err := h.svc.ListCampaigns(c.Request.Context(), orgID, filter)
		if err != nil {
			h.writeError(c, err)
			return
		}
		setBudgetHeaders(c, status)
		limit, offset := exchangesvc.ClampPage(filter.Limit, filter.Offset)
		c.JSON(http.StatusOK, gin.H{
			"campaigns": views,
			"pagination": gin.H{
				"limit":  limit,
				"offset": offset,
				"total":  total,
			},
		})
	}
}

// @Summary      Get campaign
// @Description  Returns one campaign, redacted like the listing. Consumes one unit of query budget even when the campaign does not exist.
// @Tags         Campaigns
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Campaign ID"
// @Success      200  {object}  exchange.CampaignView
// @Failure      401  {object}  map[string]interface{}  "Invalid API key"
// @Failure      404  {object}  map[string]interface{}  "Campaign not found"
// @Failure      429  {object}  map[string]interface{}  "Query budget exhausted"
// @Router       /api/v1/campaigns/{id} [get]
func (h *Handlers) GetCampaign() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := organizationID(c)
		if !ok {
			return
		}

		view, status, err := h.svc.GetCampaign(c.Request.Context(), orgID, c.Param("id"))
		if err != nil {
			if errors.Is(err, exchangesvc.ErrCampaignNotFound) {
				setBudgetHeaders(c, status)
			}
			h.writeError(c, err)
			return
		}
		setBudgetHeaders(c, status)
		c.JSON(http.StatusOK, view)
	}
}
