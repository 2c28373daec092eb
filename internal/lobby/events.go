package lobby

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates inbound wire events.
type EventType string

const (
	EventTableAdded     EventType = "table_added"
	EventTableUpdated   EventType = "table_updated"
	EventTableRemoved   EventType = "table_removed"
	EventStatsUpdate    EventType = "stats_update"
	EventWaitlistUpdate EventType = "waitlist_update"
)

// Event is one inbound frame: a type discriminator plus its raw payload.
// Payloads stay unparsed until merge time so a malformed payload only
// costs its own event, not the whole batch.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TableUpdatePayload is the partial-update shape of table_updated.
// Pointer fields distinguish "absent" from zero so unspecified fields
// retain their prior values. The pot metric arrives as either avgPot
// or the shorter pot alias.
type TableUpdatePayload struct {
	ID       string   `json:"id"`
	Players  *int     `json:"players,omitempty"`
	AvgPot   *float64 `json:"avgPot,omitempty"`
	Pot      *float64 `json:"pot,omitempty"`
	Waitlist *int     `json:"waitlist,omitempty"`
}

// TableRemovedPayload identifies the table to delete.
type TableRemovedPayload struct {
	TableID string `json:"tableId"`
}

// WaitlistUpdatePayload overwrites a table's waitlist count.
type WaitlistUpdatePayload struct {
	TableID       string `json:"tableId"`
	WaitlistCount int    `json:"waitlistCount"`
}

// ParseFrame decodes a raw wire frame into an Event. The payload is
// kept raw; only the envelope is validated here.
func ParseFrame(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("malformed frame: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("frame missing type discriminator")
	}
	return ev, nil
}

// NewEvent builds an Event from a type and an already-serializable payload.
// Used by tests and the fallback refresh path.
func NewEvent(eventType EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: raw}, nil
}
