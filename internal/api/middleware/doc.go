// Package middleware holds the HTTP middleware shared by every route:
// CORS for the page origin and per-client rate limiting.
package middleware
