// Package exchange exposes the threat exchange over HTTP: incident submission, the
// caller's own incidents, redacted campaign listings and the caller's query budget.
// Every handler expects middleware.OrganizationAuthMiddleware to have run.
package exchange

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	exchangesvc "github.com/threat-exchange/threat-exchange/internal/exchange"
	"github.com/threat-exchange/threat-exchange/internal/middleware"
)

const (
	budgetRemainingHeader = "X-Budget-Remaining"
	budgetResetHeader     = "X-Budget-Reset"
)

// Handlers serves the exchange endpoints
type Handlers struct {
	svc *exchangesvc.Service
	now func() time.Time
}

// NewHandlers creates handlers over svc. now defaults to time.Now.
func NewHandlers(svc *exchangesvc.Service, now func() time.Time) *Handlers {
	if now == nil {
		now = time.Now
	}
	return &Handlers{svc: svc, now: now}
}

func setBudgetHeaders(c *gin.Context, status exchangesvc.BudgetStatus) {
	c.Header(budgetRemainingHeader, strconv.Itoa(status.Remaining))
	c.Header(budgetResetHeader, status.ResetAt.UTC().Format(time.RFC3339))
}

// organizationID returns the authenticated organization or writes 401
func organizationID(c *gin.Context) (string, bool) {
	org, ok := middleware.GetOrganization(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		return "", false
	}
	return org.ID, true
}

// pageParams reads limit and offset. Out-of-range values are clamped by the service;
// non-numeric values are rejected.
func pageParams(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			badRequest(c, "limit must be an integer")
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return 0, 0, false
		}
	}
	return limit, offset, true
}

// @Summary      Query budget
// @Description  Returns the caller's remaining query budget and when it resets. Does not consume budget.
// @Tags         Budget
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  exchange.BudgetStatus
// @Failure      401  {object}  map[string]interface{}  "Invalid API key"
// @Router       /api/v1/budget [get]
func (h *Handlers) GetBudget() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := organizationID(c)
		if !ok {
			return
		}

		status, err := h.svc.Budget(c.Request.Context(), orgID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		setBudgetHeaders(c, status)
		c.JSON(http.StatusOK, status)
	}
}
