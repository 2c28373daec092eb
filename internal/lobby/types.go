package lobby

import "sort"

// StakeLevel buckets a table by its big-blind amount.
type StakeLevel string

const (
	StakeMicro StakeLevel = "micro"
	StakeLow   StakeLevel = "low"
	StakeMid   StakeLevel = "mid"
	StakeHigh  StakeLevel = "high"
)

// StakeLevelOf derives the level from the larger stake value.
// Thresholds: <=0.25 micro, <=2 low, <=10 mid, else high.
func StakeLevelOf(bigBlind float64) StakeLevel {
	switch {
	case bigBlind <= 0.25:
		return StakeMicro
	case bigBlind <= 2:
		return StakeLow
	case bigBlind <= 10:
		return StakeMid
	default:
		return StakeHigh
	}
}

// Stakes describes the two monetary levels of a table.
type Stakes struct {
	Small    float64 `json:"small"`
	Big      float64 `json:"big"`
	Currency string  `json:"currency"`
}

// Table is one lobby listing. The registry owns the canonical copy;
// everything handed to consumers is a value copy.
type Table struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Stakes   Stakes   `json:"stakes"`
	Players  int      `json:"players"`
	Capacity int      `json:"capacity"`
	Waitlist int      `json:"waitlist"`
	AvgPot   float64  `json:"avgPot"`
	Speed    string   `json:"speed"`
	Features []string `json:"features"`
	Favorite bool     `json:"favorite"`
}

// StakeLevel returns the level bucket for this table.
func (t Table) StakeLevel() StakeLevel {
	return StakeLevelOf(t.Stakes.Big)
}

// HasOpenSeat reports whether at least one seat is free.
func (t Table) HasOpenSeat() bool {
	return t.Players < t.Capacity
}

// FillRatio is players/capacity, 0 for a zero-capacity table.
func (t Table) FillRatio() float64 {
	if t.Capacity == 0 {
		return 0
	}
	return float64(t.Players) / float64(t.Capacity)
}

// hasFeature reports whether the table carries the given feature tag.
func (t Table) hasFeature(feature string) bool {
	for _, f := range t.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Stats holds the lobby-wide aggregate counters pushed by the server.
// Replaced wholesale on every stats_update, never merged.
type Stats struct {
	PlayersOnline int     `json:"playersOnline"`
	ActiveTables  int     `json:"activeTables"`
	TotalPot      float64 `json:"totalPot"`
}

// FilterCriteria narrows the visible table set. An empty slice means
// no constraint on that dimension. Owned by the consumer layer and
// passed by value into selectors.
type FilterCriteria struct {
	Categories  []string
	StakeLevels []StakeLevel
	Capacities  []int
	Features    []string
}

// Matches evaluates the filtering predicate for one table:
// category and capacity are exact membership checks, stake level is
// derived from the big blind, and features use OR semantics (at least
// one tag in common).
func (c FilterCriteria) Matches(t Table) bool {
	if len(c.Categories) > 0 && !containsString(c.Categories, t.Category) {
		return false
	}
	if len(c.StakeLevels) > 0 {
		level := t.StakeLevel()
		found := false
		for _, l := range c.StakeLevels {
			if l == level {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Capacities) > 0 {
		found := false
		for _, cap := range c.Capacities {
			if cap == t.Capacity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Features) > 0 {
		found := false
		for _, f := range c.Features {
			if t.hasFeature(f) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IsEmpty reports whether no dimension is constrained.
func (c FilterCriteria) IsEmpty() bool {
	return len(c.Categories) == 0 && len(c.StakeLevels) == 0 &&
		len(c.Capacities) == 0 && len(c.Features) == 0
}

// Key returns a canonical signature of the criteria, used by selector
// caches to detect structural changes without holding references.
func (c FilterCriteria) Key() string {
	var b []byte
	appendSorted := func(prefix string, vals []string) {
		sorted := make([]string, len(vals))
		copy(sorted, vals)
		sort.Strings(sorted)
		b = append(b, prefix...)
		for _, v := range sorted {
			b = append(b, v...)
			b = append(b, ',')
		}
	}
	appendSorted("c:", c.Categories)

	levels := make([]string, len(c.StakeLevels))
	for i, l := range c.StakeLevels {
		levels[i] = string(l)
	}
	appendSorted("|s:", levels)

	caps := make([]int, len(c.Capacities))
	copy(caps, c.Capacities)
	sort.Ints(caps)
	b = append(b, "|n:"...)
	for _, n := range caps {
		b = appendInt(b, n)
		b = append(b, ',')
	}

	appendSorted("|f:", c.Features)
	return string(b)
}

func appendInt(b []byte, n int) []byte {
	if n < 0 {
		b = append(b, '-')
		n = -n
	}
	if n >= 10 {
		b = appendInt(b, n/10)
	}
	return append(b, byte('0'+n%10))
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
