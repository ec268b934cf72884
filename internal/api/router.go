// Package api wires together all HTTP routes for the threat exchange.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes for orchestrators.
//   - Everything under /api/v1/ requires an organization API key and is rate limited
//     per organization. Query budget accounting happens in the exchange service, not
//     in middleware, so a request that fails validation is never charged.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/threat-exchange/threat-exchange/internal/api/exchange"
	"github.com/threat-exchange/threat-exchange/internal/auth"
	"github.com/threat-exchange/threat-exchange/internal/config"
	"github.com/threat-exchange/threat-exchange/internal/db/repositories"
	exchangesvc "github.com/threat-exchange/threat-exchange/internal/exchange"
	"github.com/threat-exchange/threat-exchange/internal/jobs"
	"github.com/threat-exchange/threat-exchange/internal/middleware"
	"github.com/threat-exchange/threat-exchange/internal/store"
)

// Version is reported by /version. It is overridden at build time with -ldflags.
var Version = "dev"

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators the router is built from. NewRouter derives them
// from configuration; tests supply them directly.
type Dependencies struct {
	Store store.Store
	// Limiter throttles /api/v1 per organization. Nil disables rate limiting.
	Limiter middleware.Limiter
	// Liveness backs /health; Readiness backs /ready, keyed by dependency name.
	Liveness  HealthCheck
	Readiness map[string]HealthCheck
	Now       func() time.Time
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	statsJob    *jobs.CampaignStatsJob
	rateLimiter *middleware.RateLimiter
	redis       *redis.Client
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.statsJob != nil {
		bg.statsJob.Stop()
	}
	if bg.rateLimiter != nil {
		bg.rateLimiter.Stop()
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates the Postgres-backed store, the rate limiter and the background jobs
// described by cfg, and returns the configured Gin router.
func NewRouter(ctx context.Context, cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	st := repositories.NewStore(
		sqlx.NewDb(db, "postgres"),
		repositories.WithRetry(uint(max(1, cfg.Database.TxAttempts)), repositories.DefaultBackOff),
	)

	bg := &BackgroundServices{}
	deps := Dependencies{
		Store:     st,
		Liveness:  db.PingContext,
		Readiness: map[string]HealthCheck{"database": db.PingContext},
	}

	if rl := cfg.Security.RateLimiting; rl.Enabled {
		rlCfg := middleware.DefaultRateLimitConfig()
		rlCfg.RequestsPerMinute = rl.RequestsPerMinute
		rlCfg.BurstSize = rl.Burst

		switch rl.Backend {
		case "redis":
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			bg.redis = rdb
			deps.Readiness["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
			deps.Limiter = middleware.NewRedisRateLimiter(rdb, rlCfg)
			slog.Info("rate limiting enabled", "backend", "redis", "addr", cfg.Redis.Addr, "requests_per_minute", rlCfg.RequestsPerMinute)
		case "memory", "":
			limiter := middleware.NewRateLimiter(rlCfg)
			bg.rateLimiter = limiter
			deps.Limiter = limiter
			slog.Info("rate limiting enabled", "backend", "memory", "requests_per_minute", rlCfg.RequestsPerMinute)
		default:
			return nil, nil, fmt.Errorf("unknown rate limiting backend %q", rl.Backend)
		}
	}

	bg.statsJob = jobs.NewCampaignStatsJob(st, cfg.Jobs.CampaignStatsInterval)
	bg.statsJob.Start(ctx)

	return NewEngine(cfg, deps), bg, nil
}

// NewEngine builds the router over deps
func NewEngine(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLoggerMiddleware())
	router.Use(CORSMiddleware(cfg.Security.CORS.AllowedOrigins))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(deps.Liveness))
	router.GET("/ready", readinessHandler(deps.Readiness))
	router.GET("/version", versionHandler())

	svc := exchangesvc.NewService(deps.Store, exchangesvc.Options{
		Budget: exchangesvc.BudgetPolicy{
			Capacity: cfg.Budget.DefaultCapacity,
			Window:   cfg.Budget.Window,
		},
		MinContributors: cfg.Privacy.MinContributors,
		Now:             deps.Now,
	})
	handlers := exchange.NewHandlers(svc, deps.Now)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.OrganizationAuthMiddleware(auth.NewVerifier(deps.Store)))
	if deps.Limiter != nil {
		v1.Use(middleware.RateLimitMiddleware(deps.Limiter))
	}
	{
		v1.POST("/incidents", maxBodyBytes(cfg.Server.MaxBodyBytes), handlers.SubmitIncident())
		v1.GET("/incidents", handlers.ListIncidents())
		v1.GET("/campaigns", handlers.ListCampaigns())
		v1.GET("/campaigns/:id", handlers.GetCampaign())
		v1.GET("/budget", handlers.GetBudget())
	}

	return router
}

// maxBodyBytes caps the request body. Reads past the cap fail with *http.MaxBytesError.
func maxBodyBytes(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
func healthCheckHandler(check HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				slog.Warn("health check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  "database connection failed",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when rate limiting uses it, Redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks: {name: healthy}, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks: {name: healthy|unhealthy}, error"
// @Router       /ready [get]
func readinessHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	names := slices.Sorted(maps.Keys(checks))
	return func(c *gin.Context) {
		results := gin.H{}
		var failed []string
		for _, name := range names {
			if err := checks[name](c.Request.Context()); err != nil {
				slog.Warn("readiness check failed", "check", name, "error", err)
				results[name] = "unhealthy"
				failed = append(failed, name)
				continue
			}
			results[name] = "healthy"
		}

		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": results,
				"error":  strings.Join(failed, ", ") + " not ready",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": results,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the build version and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// CORSMiddleware handles CORS. Clients authenticate with a bearer token, so credentials
// are never allowed cross-origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Budget-Remaining, X-Budget-Reset, Retry-After, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
