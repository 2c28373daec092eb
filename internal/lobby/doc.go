// Package lobby holds the table registry and the delta merge engine.
//
// The registry is the single owner of all table records for one client session.
// Inbound wire events are folded into it in arrival order; consumers read
// immutable versioned snapshots, never the live maps.
package lobby
