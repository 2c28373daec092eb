// Package server exposes the synchronized lobby state over HTTP for UI
// consumers: derived views as JSON, join actions with per-IP rate
// limiting, and the usual health and metrics endpoints.
package server
