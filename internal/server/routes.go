package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Lobby read surface
	s.echo.GET("/api/lobby/tables", s.handleTables)
	s.echo.GET("/api/lobby/tables/grouped", s.handleGrouped)
	s.echo.GET("/api/lobby/tables/open", s.handleOpenSeats)
	s.echo.GET("/api/lobby/stats", s.handleStats)
	s.echo.GET("/api/lobby/quickseat", s.handleQuickSeat)
	s.echo.GET("/api/lobby/connection", s.handleConnection)

	// Write actions, rate limited per IP
	s.echo.POST("/api/lobby/tables/:id/join", s.handleJoinTable, s.rateLimitMiddleware())
	s.echo.POST("/api/lobby/tables/:id/waitlist", s.handleJoinWaitlist, s.rateLimitMiddleware())
	s.echo.POST("/api/lobby/tables/:id/favorite", s.handleFavorite)
	s.echo.POST("/api/lobby/refresh", s.handleRefresh, s.rateLimitMiddleware())
}
