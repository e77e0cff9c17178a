package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/live-view/liveview-backend/pkg/dispatch"
)

const defaultTracerName = "liveview"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "liveview").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider from otel.GetTracerProvider.
	TracerProvider trace.TracerProvider

	// Filter determines which events to trace. If nil, all events are traced.
	Filter func(ev dispatch.Event) bool

	// AttributeExtractor adds custom attributes to each span.
	AttributeExtractor func(ev dispatch.Event) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithEventFilter sets a filter function for events.
func WithEventFilter(filter func(ev dispatch.Event) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(ev dispatch.Event) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// OpenTelemetry creates middleware that traces every dispatched event.
//
// Each span carries the session id and event name, records the error and
// status, and on success the patch op count and resulting sequence number.
// The span context flows into the handler's ctx, so async handlers calling
// out to databases or HTTP services continue the trace.
func OpenTelemetry(opts ...OTelOption) dispatch.Middleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(next dispatch.HandleFunc) dispatch.HandleFunc {
		return func(ctx context.Context, ev dispatch.Event) (*dispatch.Result, error) {
			if config.Filter != nil && !config.Filter(ev) {
				return next(ctx, ev)
			}

			attrs := []attribute.KeyValue{
				attribute.String("liveview.session_id", ev.SessionID),
				attribute.String("liveview.event", ev.Name),
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(ev)...)
			}

			ctx, span := tracer.Start(ctx, "liveview.event",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			res, err := next(ctx, ev)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return res, err
			}

			span.SetStatus(codes.Ok, "")
			if res != nil {
				span.SetAttributes(
					attribute.Int("liveview.patch_count", len(res.Patch)),
					attribute.Int64("liveview.seq", int64(res.Seq)),
				)
			}
			return res, nil
		}
	}
}
