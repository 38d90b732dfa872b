// Package main is the entry point for the meshbridge server.
//
// meshbridge runs a bundled homeserver program in-process and answers the
// page's requests under the bridged prefix from it, passing everything
// else to the upstream origin.
//
// Architecture:
//
//	Page → meshbridge → embedded server (goja)   [/_matrix/client/...]
//	                  → upstream origin          [everything else]
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	./server -manifest bundle/manifest.yaml -port 8080
//
//	# Development mode (console logs)
//	LOG_DEV=true LOG_LEVEL=debug ./server
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown with a final sync of the
//     embedded server's storage
package main
