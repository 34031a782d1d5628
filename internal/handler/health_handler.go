package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/mocktest-backend/internal/response"
)

// HealthHandler reports liveness and dependency readiness.
type HealthHandler struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{pool: pool, rdb: rdb}
}

// Live godoc
// GET /health
func (h *HealthHandler) Live(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// GET /health/ready
// Pings PostgreSQL and Redis.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"postgres": "ok", "redis": "ok"}
	status := http.StatusOK
	if err := h.pool.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	if status != http.StatusOK {
		c.JSON(status, response.Response{
			Data:  checks,
			Error: &response.ErrorBody{Code: response.ErrTemporary, Message: response.GetMessage(response.ErrTemporary)},
			Metadata: response.Metadata{
				RequestID: response.RequestID(c),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		})
		return
	}
	response.Success(c, http.StatusOK, checks)
}
