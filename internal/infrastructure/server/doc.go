// Package server composes the bridge: it loads the bundle, opens the
// durable store, builds the supervisor and interceptor, and serves them
// behind the shared middleware with the admin routes under /_bridge.
package server
