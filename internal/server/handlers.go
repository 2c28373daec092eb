package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mhoffm/lobbysync/internal/conn"
	"github.com/mhoffm/lobbysync/internal/errors"
	"github.com/mhoffm/lobbysync/internal/lobby"
	"github.com/mhoffm/lobbysync/internal/queue"
	"github.com/mhoffm/lobbysync/internal/views"
)

type tablesResponse struct {
	Tables []lobby.Table `json:"tables"`
	Count  int           `json:"count"`
}

func (s *Server) handleTables(c echo.Context) error {
	criteria, err := parseCriteria(c)
	if err != nil {
		return err
	}
	spec, err := parseSort(c)
	if err != nil {
		return err
	}

	tables := s.session.Tables(criteria, spec)
	return c.JSON(http.StatusOK, tablesResponse{Tables: tables, Count: len(tables)})
}

func (s *Server) handleGrouped(c echo.Context) error {
	criteria, err := parseCriteria(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.session.Grouped(criteria))
}

func (s *Server) handleOpenSeats(c echo.Context) error {
	tables := s.session.OpenSeats()
	return c.JSON(http.StatusOK, tablesResponse{Tables: tables, Count: len(tables)})
}

func (s *Server) handleStats(c echo.Context) error {
	criteria, err := parseCriteria(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"filtered": s.session.Stats(criteria),
		"server":   s.session.ServerStats(),
	})
}

func (s *Server) handleQuickSeat(c echo.Context) error {
	criteria, err := parseCriteria(c)
	if err != nil {
		return err
	}
	tables := s.session.QuickSeat(criteria)
	return c.JSON(http.StatusOK, tablesResponse{Tables: tables, Count: len(tables)})
}

func (s *Server) handleConnection(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"state":      s.session.ConnState().String(),
		"queueDepth": s.session.QueueDepth(),
	})
}

type joinTableRequest struct {
	BuyIn float64 `json:"buyIn"`
}

func (s *Server) handleJoinTable(c echo.Context) error {
	id := c.Param("id")

	var req joinTableRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError("invalid join request body")
	}
	if req.BuyIn <= 0 {
		return errors.ValidationError("buyIn must be positive").WithContext("buy_in", req.BuyIn)
	}

	if err := s.validateJoinTarget(id, true); err != nil {
		return err
	}

	if err := s.session.JoinTable(c.Request().Context(), id, req.BuyIn, queue.EnqueueOptions{}); err != nil {
		return errors.InternalError("failed to submit join action", err)
	}
	return c.JSON(http.StatusAccepted, s.actionStatus(id))
}

func (s *Server) handleJoinWaitlist(c echo.Context) error {
	id := c.Param("id")

	if err := s.validateJoinTarget(id, false); err != nil {
		return err
	}

	if err := s.session.JoinWaitlist(c.Request().Context(), id, queue.EnqueueOptions{}); err != nil {
		return errors.InternalError("failed to submit waitlist action", err)
	}
	return c.JSON(http.StatusAccepted, s.actionStatus(id))
}

func (s *Server) handleFavorite(c echo.Context) error {
	id := c.Param("id")
	favorite := c.QueryParam("value") != "false"

	if !s.session.SetFavorite(id, favorite) {
		return errors.NotFoundError("table not found").WithContext("table_id", id)
	}
	return c.JSON(http.StatusOK, map[string]any{"tableId": id, "favorite": favorite})
}

func (s *Server) handleRefresh(c echo.Context) error {
	if err := s.session.RefreshNow(c.Request().Context()); err != nil {
		return errors.UnavailableError("lobby refresh failed", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "refreshed"})
}

// validateJoinTarget checks the table against the local registry view.
// needSeat distinguishes joining the table from joining its waitlist.
func (s *Server) validateJoinTarget(id string, needSeat bool) error {
	if s.session.ConnState() == conn.StateFailed {
		return errors.UnavailableError("connection lost, manual refresh required", nil)
	}

	table, ok := s.session.TableByID(id)
	if !ok {
		return errors.NotFoundError("table not found").WithContext("table_id", id)
	}
	if needSeat && !table.HasOpenSeat() {
		return errors.ConflictError("table is full").
			WithContext("table_id", id).
			WithContext("capacity", table.Capacity)
	}
	return nil
}

// actionStatus tells the caller whether the action went out directly or
// is waiting in the offline queue.
func (s *Server) actionStatus(id string) map[string]any {
	status := "sent"
	if depth := s.session.QueueDepth(); depth > 0 {
		status = "queued"
	}
	return map[string]any{"tableId": id, "status": status}
}

// parseCriteria builds filter criteria from repeated or comma-separated
// query parameters.
func parseCriteria(c echo.Context) (lobby.FilterCriteria, error) {
	var criteria lobby.FilterCriteria

	criteria.Categories = splitParams(c.QueryParams()["categories"])
	criteria.Features = splitParams(c.QueryParams()["features"])

	for _, raw := range splitParams(c.QueryParams()["stakeLevels"]) {
		level := lobby.StakeLevel(raw)
		switch level {
		case lobby.StakeMicro, lobby.StakeLow, lobby.StakeMid, lobby.StakeHigh:
			criteria.StakeLevels = append(criteria.StakeLevels, level)
		default:
			return lobby.FilterCriteria{}, errors.ValidationError(
				fmt.Sprintf("unknown stake level %q", raw))
		}
	}

	for _, raw := range splitParams(c.QueryParams()["capacities"]) {
		capacity, err := strconv.Atoi(raw)
		if err != nil || capacity <= 0 {
			return lobby.FilterCriteria{}, errors.ValidationError(
				fmt.Sprintf("invalid capacity %q", raw))
		}
		criteria.Capacities = append(criteria.Capacities, capacity)
	}

	return criteria, nil
}

func parseSort(c echo.Context) (views.SortSpec, error) {
	column := views.SortColumn(c.QueryParam("sortBy"))
	if column == "" {
		column = views.SortByName
	}
	switch column {
	case views.SortByName, views.SortByStakes, views.SortByPlayers, views.SortByAvgPot, views.SortByWaitlist:
	default:
		return views.SortSpec{}, errors.ValidationError(
			fmt.Sprintf("unknown sort column %q", column))
	}

	return views.SortSpec{
		Column:     column,
		Descending: c.QueryParam("order") == "desc",
	}, nil
}

// splitParams flattens repeated params and comma-joined values.
func splitParams(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
