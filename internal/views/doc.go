// Package views computes derived, query-ready views of the lobby registry.
//
// Each selector is a small stateful object with an explicit last-inputs
// cache keyed on snapshot version plus the canonical filter-criteria key.
// A cache hit returns the identical output reference, so consumers can
// use reference equality to skip their own recomputation.
package views
