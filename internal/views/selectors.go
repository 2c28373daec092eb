package views

import (
	"sort"
	"strings"
	"sync"

	"github.com/mhoffm/lobbysync/internal/lobby"
)

// SortColumn selects the comparator key for the filtered list.
type SortColumn string

const (
	SortByName     SortColumn = "name"
	SortByStakes   SortColumn = "stakes"
	SortByPlayers  SortColumn = "players"
	SortByAvgPot   SortColumn = "avgPot"
	SortByWaitlist SortColumn = "waitlist"
)

// SortSpec is the column plus direction for the filtered list.
// Favorited tables sort before non-favorited regardless of column.
type SortSpec struct {
	Column     SortColumn
	Descending bool
}

func (s SortSpec) key() string {
	if s.Descending {
		return string(s.Column) + ":desc"
	}
	return string(s.Column) + ":asc"
}

// LobbyStats is the aggregate view over the filtered table set.
type LobbyStats struct {
	TableCount    int     `json:"tableCount"`
	TotalPlayers  int     `json:"totalPlayers"`
	TotalCapacity int     `json:"totalCapacity"`
	TotalWaitlist int     `json:"totalWaitlist"`
	OccupancyRate float64 `json:"occupancyRate"`
}

// memoKey is the input signature every selector caches against.
type memoKey struct {
	version  uint64
	criteria string
	sort     string
}

// FilteredTables selects tables matching the criteria, sorted by the
// given spec with a stable comparator.
type FilteredTables struct {
	mu    sync.Mutex
	key   memoKey
	out   []lobby.Table
	valid bool
}

// Compute returns the filtered, sorted list. Repeated calls with the
// same snapshot, criteria, and sort return the identical slice.
func (s *FilteredTables) Compute(snap *lobby.Snapshot, criteria lobby.FilterCriteria, spec SortSpec) []lobby.Table {
	k := memoKey{version: snap.Version, criteria: criteria.Key(), sort: spec.key()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.key == k {
		return s.out
	}

	out := make([]lobby.Table, 0, len(snap.Tables))
	for _, t := range snap.Tables {
		if criteria.Matches(t) {
			out = append(out, t)
		}
	}
	sortTables(out, spec)

	s.key, s.out, s.valid = k, out, true
	return out
}

// StakeLevelGroups groups the filtered tables by derived stake level.
type StakeLevelGroups struct {
	mu    sync.Mutex
	key   memoKey
	out   map[lobby.StakeLevel][]lobby.Table
	valid bool
}

// Compute returns tables grouped by stake level, each group in snapshot
// order. Levels with no tables are absent from the map.
func (s *StakeLevelGroups) Compute(snap *lobby.Snapshot, criteria lobby.FilterCriteria) map[lobby.StakeLevel][]lobby.Table {
	k := memoKey{version: snap.Version, criteria: criteria.Key()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.key == k {
		return s.out
	}

	out := make(map[lobby.StakeLevel][]lobby.Table)
	for _, t := range snap.Tables {
		if criteria.Matches(t) {
			level := t.StakeLevel()
			out[level] = append(out[level], t)
		}
	}

	s.key, s.out, s.valid = k, out, true
	return out
}

// OpenSeats selects tables with at least one free seat, registry-wide.
type OpenSeats struct {
	mu    sync.Mutex
	key   memoKey
	out   []lobby.Table
	valid bool
}

// Compute returns all tables with players < capacity, in snapshot order.
func (s *OpenSeats) Compute(snap *lobby.Snapshot) []lobby.Table {
	k := memoKey{version: snap.Version}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.key == k {
		return s.out
	}

	out := make([]lobby.Table, 0, len(snap.Tables))
	for _, t := range snap.Tables {
		if t.HasOpenSeat() {
			out = append(out, t)
		}
	}

	s.key, s.out, s.valid = k, out, true
	return out
}

// Aggregate computes totals and the occupancy rate over the filtered set.
type Aggregate struct {
	mu    sync.Mutex
	key   memoKey
	out   LobbyStats
	valid bool
}

// Compute returns aggregate statistics for the filtered tables. The
// occupancy rate is totalPlayers/totalCapacity*100, and 0 (not NaN)
// when the capacity sum is 0.
func (s *Aggregate) Compute(snap *lobby.Snapshot, criteria lobby.FilterCriteria) LobbyStats {
	k := memoKey{version: snap.Version, criteria: criteria.Key()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.key == k {
		return s.out
	}

	var out LobbyStats
	for _, t := range snap.Tables {
		if !criteria.Matches(t) {
			continue
		}
		out.TableCount++
		out.TotalPlayers += t.Players
		out.TotalCapacity += t.Capacity
		out.TotalWaitlist += t.Waitlist
	}
	if out.TotalCapacity > 0 {
		out.OccupancyRate = float64(out.TotalPlayers) / float64(out.TotalCapacity) * 100
	}

	s.key, s.out, s.valid = k, out, true
	return out
}

// quickSeatLimit caps the suggestion list.
const quickSeatLimit = 3

// QuickSeat ranks joinable tables for one-click seating.
type QuickSeat struct {
	mu    sync.Mutex
	key   memoKey
	out   []lobby.Table
	valid bool
}

// Compute returns up to three tables with an open seat that match the
// active criteria, ranked by fill ratio descending so near-full action
// tables come first.
func (s *QuickSeat) Compute(snap *lobby.Snapshot, criteria lobby.FilterCriteria) []lobby.Table {
	k := memoKey{version: snap.Version, criteria: criteria.Key()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.key == k {
		return s.out
	}

	candidates := make([]lobby.Table, 0, len(snap.Tables))
	for _, t := range snap.Tables {
		if t.HasOpenSeat() && criteria.Matches(t) {
			candidates = append(candidates, t)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].FillRatio() > candidates[j].FillRatio()
	})
	if len(candidates) > quickSeatLimit {
		candidates = candidates[:quickSeatLimit]
	}

	s.key, s.out, s.valid = k, candidates, true
	return candidates
}

// Views bundles one independent cache per selector for a client session.
type Views struct {
	Filtered  FilteredTables
	Groups    StakeLevelGroups
	Open      OpenSeats
	Stats     Aggregate
	QuickSeat QuickSeat
}

// New creates an empty selector bundle.
func New() *Views {
	return &Views{}
}

// sortTables orders tables by favorites first, then by the chosen
// column, stably so equal keys keep snapshot order.
func sortTables(tables []lobby.Table, spec SortSpec) {
	sort.SliceStable(tables, func(i, j int) bool {
		a, b := tables[i], tables[j]
		if a.Favorite != b.Favorite {
			return a.Favorite
		}
		less, equal := compareColumn(a, b, spec.Column)
		if equal {
			return false
		}
		if spec.Descending {
			return !less
		}
		return less
	})
}

func compareColumn(a, b lobby.Table, column SortColumn) (less, equal bool) {
	switch column {
	case SortByStakes:
		return a.Stakes.Big < b.Stakes.Big, a.Stakes.Big == b.Stakes.Big
	case SortByPlayers:
		return a.Players < b.Players, a.Players == b.Players
	case SortByAvgPot:
		return a.AvgPot < b.AvgPot, a.AvgPot == b.AvgPot
	case SortByWaitlist:
		return a.Waitlist < b.Waitlist, a.Waitlist == b.Waitlist
	default:
		c := strings.Compare(a.Name, b.Name)
		return c < 0, c == 0
	}
}
