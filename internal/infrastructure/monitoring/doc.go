/*
Package monitoring provides Prometheus metrics for the bridge.

Metrics implements the observer interfaces of the supervisor, the
persistence manager and the interceptor, so those packages stay free of
Prometheus imports. Every Metrics value owns a private registry served by
Handler, which lets tests build as many as they need.

# Metrics

	meshbridge_http_requests_total{method,route,status}
	meshbridge_bridge_requests_total{outcome}
	meshbridge_supervisor_state{state}
	meshbridge_supervisor_boots_total{result}
	meshbridge_store_syncs_total{kind,result}
	meshbridge_store_purges_total{store}
	meshbridge_ws_connections
	meshbridge_uptime_seconds

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/_bridge/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
