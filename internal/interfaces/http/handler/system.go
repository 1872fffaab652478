package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/vritti/backend/internal/infrastructure/persistence"
	"github.com/vritti/backend/internal/interfaces/http/dto"
)

// SystemHandler handles health and readiness endpoints
type SystemHandler struct {
	BaseHandler
	db        *persistence.Database
	redis     *redis.Client
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler. db and redis may be nil, in
// which case readiness skips the corresponding probe.
func NewSystemHandler(db *persistence.Database, redisClient *redis.Client) *SystemHandler {
	return &SystemHandler{
		db:        db,
		redis:     redisClient,
		startTime: time.Now(),
	}
}

// HealthResponse represents the liveness response
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// Health handles GET /health (liveness)
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	}))
}

// ReadyResponse represents the readiness response
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready handles GET /ready (readiness). It probes the database and Redis.
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	checks := make(map[string]string)
	healthy := true

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	resp := ReadyResponse{Status: "ready", Checks: checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}
	c.JSON(status, dto.NewSuccessResponse(resp))
}
