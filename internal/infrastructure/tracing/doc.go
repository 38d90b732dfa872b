/*
Package tracing provides request tracing for debugging production issues.

Every request gets a trace ID, taken from an incoming X-Trace-ID header
when it holds a valid ID and generated otherwise. The ID is echoed in the
response, carried in the request context, and injected into requests the
upstream forwarder makes. Finished spans are written to the log by a
buffered collector; spans are dropped rather than blocking a request when
the buffer is full.

# Usage

	tracer := tracing.New("meshbridge", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	// Outgoing requests
	tracing.Inject(ctx, req.Header)
*/
package tracing
