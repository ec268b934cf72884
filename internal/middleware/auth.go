// Package middleware provides Gin HTTP middleware for organization authentication,
// rate limiting, security headers, request ids and metrics.
//
// Middleware ordering is fixed in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → (per group) Auth → RateLimit → Handler
//
// Security headers run before routing so they appear on every response, errors included.
// Authenticated routes rate limit after auth so the bucket is keyed on the organization
// rather than on a shared proxy address.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/threat-exchange/threat-exchange/internal/auth"
	"github.com/threat-exchange/threat-exchange/internal/db/models"
	"github.com/threat-exchange/threat-exchange/internal/telemetry"
)

const (
	// OrganizationKey holds the authenticated *models.Organization in gin.Context
	OrganizationKey = "organization"
	// OrganizationIDKey holds the authenticated organization id in gin.Context
	OrganizationIDKey = "organization_id"
)

// Authenticator resolves a bearer token to an organization
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Organization, error)
}

// OrganizationAuthMiddleware requires a valid organization API key in the Authorization
// header. Missing, malformed and unknown keys all get the same 401 body.
func OrganizationAuthMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractAPIKeyFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			unauthorized(c)
			return
		}

		org, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrAuthenticationFailed) {
				unauthorized(c)
				return
			}
			slog.Error("authentication lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Authentication failed",
			})
			return
		}

		c.Set(OrganizationKey, org)
		c.Set(OrganizationIDKey, org.ID)
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	telemetry.AuthFailuresTotal.Inc()
	c.Header("WWW-Authenticate", `Bearer realm="threat-exchange"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "Invalid API key",
	})
}

// GetOrganization returns the organization set by OrganizationAuthMiddleware
func GetOrganization(c *gin.Context) (*models.Organization, bool) {
	v, exists := c.Get(OrganizationKey)
	if !exists {
		return nil, false
	}
	org, ok := v.(*models.Organization)
	return org, ok && org != nil
}
