package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mhoffm/lobbysync/internal/conn"
	"github.com/mhoffm/lobbysync/internal/platform/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).Seconds(),
		"version": version.Get(),
	})
}

// handleReadiness reports ready while the data path can still serve.
// A failed lobby connection degrades readiness because the local state
// will only get staler; a redis outage does not, since the queue keeps
// working in memory.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	redisStatus := "skipped"
	if s.redis != nil {
		redisStatus = "ok"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = err.Error()
		}
	}

	state := s.session.ConnState()
	body := map[string]any{
		"status":     "ready",
		"connection": state.String(),
		"queueDepth": s.session.QueueDepth(),
		"redis":      redisStatus,
	}

	if state == conn.StateFailed {
		body["status"] = "degraded"
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return c.JSON(http.StatusOK, body)
}
