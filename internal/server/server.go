package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mhoffm/lobbysync/internal/client"
	"github.com/mhoffm/lobbysync/internal/errors"
	"github.com/mhoffm/lobbysync/internal/platform/config"
	"github.com/mhoffm/lobbysync/internal/platform/correlation"
)

// redisHealthChecker is the minimal surface needed for readiness checks.
type redisHealthChecker interface {
	Ping(ctx context.Context) *goredis.StatusCmd
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	session   *client.Session
	redis     redisHealthChecker
	limiter   *ActionRateLimiter
	startTime time.Time
}

// NewServer wires the HTTP surface around one lobby session. redis may
// be nil when queue persistence is disabled.
func NewServer(cfg *config.Config, session *client.Session, redis redisHealthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(correlationMiddleware())
	e.Use(errors.Middleware())

	srv := &Server{
		echo:      e,
		config:    cfg,
		session:   session,
		redis:     redis,
		limiter:   NewActionRateLimiter(cfg.ActionRateLimit, cfg.ActionRateBurst),
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// correlationMiddleware stamps every request context with an ID that
// the logging handler picks up.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := correlation.WithID(req.Context(), correlation.NewID())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
