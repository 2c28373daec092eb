package lobby

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
)

// Delta reports which registry slices a merge pass touched, so the
// selector layer can invalidate selectively.
type Delta struct {
	TablesChanged bool
	StatsChanged  bool
}

// Changed reports whether the merge touched anything at all.
func (d Delta) Changed() bool {
	return d.TablesChanged || d.StatsChanged
}

// Snapshot is an immutable view of the registry. Version is monotonic
// and bumps whenever either slice changes; two snapshots with the same
// version are the same object, which is what selector caches key on.
type Snapshot struct {
	Version uint64
	Tables  []Table
	Stats   Stats
}

// Registry is the in-memory normalized store of table records and
// aggregate stats for one client session. It is mutated only by merge
// passes; consumers read snapshots.
type Registry struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	tables  map[string]Table
	stats   Stats
	version uint64
	snap    *Snapshot // cached; invalidated on change
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		tables: make(map[string]Table),
	}
}

// ApplyBatch folds an ordered batch of heterogeneous events into one
// registry transition and returns the combined change-set. Events are
// applied strictly in arrival order; later events for the same id or
// field win. Cross-type ordering inside one batch window is a protocol
// assumption pending server-side confirmation.
//
// Per-event parse failures and unknown event types are logged and
// skipped, never fatal.
func (r *Registry) ApplyBatch(events []Event) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	var delta Delta
	for _, ev := range events {
		tablesChanged, statsChanged := r.applyLocked(ev)
		delta.TablesChanged = delta.TablesChanged || tablesChanged
		delta.StatsChanged = delta.StatsChanged || statsChanged
	}
	if delta.Changed() {
		r.bumpLocked()
	}
	return delta
}

// LoadFullState replaces the registry contents wholesale. Used for the
// initial load and the periodic fallback refresh.
func (r *Registry) LoadFullState(tables []Table, stats Stats) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tables = make(map[string]Table, len(tables))
	for _, t := range tables {
		r.tables[t.ID] = clampOccupancy(t)
	}
	r.stats = stats
	r.bumpLocked()
	return Delta{TablesChanged: true, StatsChanged: true}
}

// Snapshot returns the current immutable view. The same pointer is
// returned until the next change, so callers may use reference
// identity to skip recomputation.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	if r.snap != nil {
		snap := r.snap
		r.mu.RUnlock()
		return snap
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		r.snap = r.buildSnapshotLocked()
	}
	return r.snap
}

// Table returns a copy of one record by id.
func (r *Registry) Table(id string) (Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[id]
	return t, ok
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

// SetFavorite flags a table as favorited by the local user. Favorites
// sort before non-favorites in every derived view.
func (r *Registry) SetFavorite(id string, favorite bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[id]
	if !ok || t.Favorite == favorite {
		return false
	}
	t.Favorite = favorite
	r.tables[id] = t
	r.bumpLocked()
	return true
}

func (r *Registry) applyLocked(ev Event) (tablesChanged, statsChanged bool) {
	switch ev.Type {
	case EventTableAdded:
		var t Table
		if err := json.Unmarshal(ev.Payload, &t); err != nil || t.ID == "" {
			r.logger.Warn("dropping malformed table_added payload", "error", err)
			return false, false
		}
		if _, exists := r.tables[t.ID]; exists {
			// Idempotent insert.
			return false, false
		}
		r.tables[t.ID] = clampOccupancy(t)
		return true, false

	case EventTableUpdated:
		var p TableUpdatePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.ID == "" {
			r.logger.Warn("dropping malformed table_updated payload", "error", err)
			return false, false
		}
		t, exists := r.tables[p.ID]
		if !exists {
			// Table removed before its update arrived. Not an error.
			return false, false
		}
		if p.Players != nil {
			t.Players = *p.Players
		}
		if p.AvgPot != nil {
			t.AvgPot = *p.AvgPot
		} else if p.Pot != nil {
			t.AvgPot = *p.Pot
		}
		if p.Waitlist != nil {
			t.Waitlist = *p.Waitlist
		}
		r.tables[p.ID] = clampOccupancy(t)
		return true, false

	case EventTableRemoved:
		var p TableRemovedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.TableID == "" {
			r.logger.Warn("dropping malformed table_removed payload", "error", err)
			return false, false
		}
		if _, exists := r.tables[p.TableID]; !exists {
			return false, false
		}
		delete(r.tables, p.TableID)
		return true, false

	case EventWaitlistUpdate:
		var p WaitlistUpdatePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.TableID == "" {
			r.logger.Warn("dropping malformed waitlist_update payload", "error", err)
			return false, false
		}
		t, exists := r.tables[p.TableID]
		if !exists {
			return false, false
		}
		t.Waitlist = max(p.WaitlistCount, 0)
		r.tables[p.TableID] = t
		return true, false

	case EventStatsUpdate:
		var s Stats
		if err := json.Unmarshal(ev.Payload, &s); err != nil {
			r.logger.Warn("dropping malformed stats_update payload", "error", err)
			return false, false
		}
		// Last-write-wins replacement, no merge.
		r.stats = s
		return false, true

	default:
		r.logger.Warn("ignoring unknown event type", "event_type", string(ev.Type))
		return false, false
	}
}

func (r *Registry) bumpLocked() {
	r.version++
	r.snap = nil
}

func (r *Registry) buildSnapshotLocked() *Snapshot {
	tables := make([]Table, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	return &Snapshot{
		Version: r.version,
		Tables:  tables,
		Stats:   r.stats,
	}
}

// clampOccupancy enforces 0 <= players <= capacity and waitlist >= 0
// after every merge, whatever the server sent.
func clampOccupancy(t Table) Table {
	if t.Capacity < 0 {
		t.Capacity = 0
	}
	if t.Players < 0 {
		t.Players = 0
	}
	if t.Players > t.Capacity {
		t.Players = t.Capacity
	}
	if t.Waitlist < 0 {
		t.Waitlist = 0
	}
	return t
}
