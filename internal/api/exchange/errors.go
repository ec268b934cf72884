package exchange

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	exchangesvc "github.com/threat-exchange/threat-exchange/internal/exchange"
	"github.com/threat-exchange/threat-exchange/internal/middleware"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

// writeError maps a service error to its HTTP response. Persistence failures are logged
// and reported without detail.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var exhausted *exchangesvc.BudgetExhaustedError
	switch {
	case errors.As(err, &exhausted):
		retryAfter := max(1, int(math.Ceil(exhausted.ResetAt.Sub(h.now()).Seconds())))
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.Header(budgetRemainingHeader, "0")
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":    "Query budget exhausted",
			"detail":   fmt.Sprintf("query budget exhausted; resets at %s", exhausted.ResetAt.UTC().Format(time.RFC3339)),
			"reset_at": exhausted.ResetAt.UTC(),
		})
	case errors.Is(err, exchangesvc.ErrInvalidSubmission):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, exchangesvc.ErrCampaignNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
	case errors.Is(err, store.ErrOrganizationNotFound):
		// the organization was removed after its key was verified
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
	default:
		slog.Error("exchange request failed",
			"request_id", c.GetString(middleware.RequestIDKey),
			"org_id", c.GetString(middleware.OrganizationIDKey),
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
