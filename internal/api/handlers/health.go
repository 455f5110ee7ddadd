package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
	Error  string                        `json:"error,omitempty"`
}

// DatabaseHealthChecker is satisfied by both the Postgres and memory stores.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// FeedStats reports live event feed usage.
type FeedStats interface {
	ClientCount() int
}

const healthTimeout = 5 * time.Second

// HealthHandler serves liveness checks for load balancers and operators.
type HealthHandler struct {
	db     DatabaseHealthChecker
	feed   FeedStats
	logger zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. feed may be nil.
func NewHealthHandler(db DatabaseHealthChecker, feed FeedStats, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		feed:   feed,
		logger: logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health check routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/db", h.Database)
	}
}

// Overall reports the store and, when configured, the live event feed.
//
//	@Summary		Server health
//	@Tags			Monitoring
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/health [get]
func (h *HealthHandler) Overall(c *gin.Context) {
	checks := map[string]*HealthCheckResult{
		"database": h.checkStore(c.Request.Context()),
	}
	if h.feed != nil {
		checks["event_feed"] = &HealthCheckResult{
			Status:  HealthStatusHealthy,
			Details: map[string]any{"clients": h.feed.ClientCount()},
		}
	}
	respond(c, checks)
}

// Database reports only the store.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	respond(c, map[string]*HealthCheckResult{
		"database": h.checkStore(c.Request.Context()),
	})
}

// respond is unhealthy as soon as one check is.
func respond(c *gin.Context, checks map[string]*HealthCheckResult) {
	resp := &HealthResponse{Status: HealthStatusHealthy, Checks: checks}
	for _, check := range checks {
		if check.Status == HealthStatusUnhealthy {
			resp.Status = HealthStatusUnhealthy
			resp.Error = check.Error
		}
	}
	status := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (h *HealthHandler) checkStore(parent context.Context) *HealthCheckResult {
	if h.db == nil {
		return &HealthCheckResult{Status: HealthStatusUnhealthy, Error: "store not configured"}
	}

	ctx, cancel := context.WithTimeout(parent, healthTimeout)
	defer cancel()

	start := time.Now()
	err := h.db.Ping(ctx)
	result := &HealthCheckResult{Status: HealthStatusHealthy, Duration: time.Since(start).String()}
	if err != nil {
		h.logger.Warn().Err(err).Msg("store health check failed")
		result.Status = HealthStatusUnhealthy
		result.Error = "store ping failed"
		return result
	}
	result.Details = h.db.Health()
	return result
}
