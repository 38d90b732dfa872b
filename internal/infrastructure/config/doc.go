// Package config provides 12-factor configuration for the bridge service.
//
// Configuration is loaded from environment variables with sensible defaults.
//
// Configuration Sections:
//   - Server: HTTP listener (port, host, shutdown timeout)
//   - Bridge: embedded server manifest, bridged path prefix, call timeout
//   - Supervisor: readiness polling and restart policy
//   - Store: SQLite durable store and flush interval
//   - Upstream: pass-through origin
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting
//   - CORS: allowed page origins
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Addr())
package config
