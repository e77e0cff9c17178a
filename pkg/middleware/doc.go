// Package middleware provides dispatch middleware for observability.
//
// # Prometheus Metrics
//
// NewMetrics registers event counters and duration histograms; its
// Middleware method records them for every dispatched event:
//
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//	m.RegisterStoreGauges(store)
//	d := dispatch.New(store, views, components,
//	    dispatch.WithMiddleware(m.Middleware()))
//
// Events without a handler are counted under a single "_unhandled" label.
//
// # OpenTelemetry
//
// OpenTelemetry starts one span per event using the global tracer provider
// unless WithTracerProvider is given. The span context is passed to the
// handler, so async handlers continue the trace in their outbound calls.
//
//	dispatch.WithMiddleware(
//	    middleware.OpenTelemetry(middleware.WithTracerName("my-app")),
//	    m.Middleware(),
//	)
package middleware
