package exchange

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	exchangesvc "github.com/threat-exchange/threat-exchange/internal/exchange"
)

// @Summary      Submit incident
// @Description  Creates or replaces the caller's incident identified by local_ref and correlates it into a campaign. Consumes one unit of query budget.
// @Tags         Incidents
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  exchange.Submission  true  "Incident report"
// @Success      200  {object}  models.Incident
// @Failure      400  {object}  map[string]interface{}  "Invalid submission"
// @Failure      401  {object}  map[string]interface{}  "Invalid API key"
// @Failure      413  {object}  map[string]interface{}  "Request body too large"
// @Failure      429  {object}  map[string]interface{}  "Query budget exhausted"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/incidents [post]
func (h *Handlers) SubmitIncident() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := organizationID(c)
		if !ok {
			return
		}

		var sub exchangesvc.Submission
		if err := c.ShouldBindJSON(&sub); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
				return
			}
			badRequest(c, "Invalid request body: "+err.Error())
			return
		}
		if err := sub.Validate(); err != nil {
			h.writeError(c, err)
			return
		}

		incident, status, err := h.svc.SubmitIncident(c.Request.Context(), orgID, &sub)
		if err != nil {
			h.writeError(c, err)
			return
		}
		setBudgetHeaders(c, status)
		c.JSON(http.StatusOK, incident)
	}
}

// @Summary      List own incidents
// @Description  Lists the caller's incidents, newest first. Consumes one unit of query budget.
// @Tags         Incidents
// @Security     Bearer
// @Produce      json
// @Param        limit   query  int  false  "Page size (default 50, max 200)"
// @Param        offset  query  int  false  "Items to skip"
// @Success      200  {object}  map[string]interface{}  "incidents: []models.Incident, pagination: {limit, offset}"
// @Failure      401  {object}  map[string]interface{}  "Invalid API key"
// @Failure      429  {object}  map[string]interface{}  "Query budget exhausted"
// @Router       /api/v1/incidents [get]
func (h *Handlers) ListIncidents() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := organizationID(c)
		if !ok {
			return
		}
		limit, offset, ok := pageParams(c)
		if !ok {
			return
		}

		incidents, status, err := h.svc.ListIncidents(c.Request.Context(), orgID, limit, offset)
		if err != nil {
			h.writeError(c, err)
			return
		}
		setBudgetHeaders(c, status)
		limit, offset = exchangesvc.ClampPage(limit, offset)
		c.JSON(http.StatusOK, gin.H{
			"incidents": incidents,
			"pagination": gin.H{
				"limit":  limit,
				"offset": offset,
			},
		})
	}
}
