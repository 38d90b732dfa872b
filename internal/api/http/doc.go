// Package http provides the bridge's admin endpoints.
//
// Routes live under /_bridge so they never collide with bridged or
// passed-through paths:
//
//	GET /_bridge          service description
//	GET /_bridge/health   supervisor status, 503 unless ready
package http
