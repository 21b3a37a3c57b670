package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wamcp-ingest/internal/http/middleware"
	"github.com/tbourn/wamcp-ingest/internal/repo"
)

// HealthResponse reports liveness and, when a database is attached, a small
// ingestion summary.
type HealthResponse struct {
	Status string            `json:"status" example:"ok"`
	DB     string            `json:"db,omitempty" example:"ok"`
	Stats  *repo.IngestStats `json:"stats,omitempty"`
}

// Health godoc
// @ID          health
// @Summary     Liveness and storage health
// @Description Pings the database and returns ingestion counters.
// @Tags        Health
// @Produce     json
//
// @Success     200  {object}  handlers.HealthResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Database unavailable"
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	if h.db == nil {
		ok(c, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	ctx := c.Request.Context()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("health check failed")
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "database unavailable")
		return
	}

	st, err := repo.Stats(ctx, h.db)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("health check failed")
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "stats unavailable")
		return
	}
	ok(c, http.StatusOK, HealthResponse{Status: "ok", DB: "ok", Stats: st})
}
