// Package telemetry re-exports finished task traces as OTLP spans so
// they can land in any OpenTelemetry collector next to the local JSON
// trace files.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/kodalabs/koda/internal/config"
	"github.com/kodalabs/koda/internal/trace"
)

const defaultServiceName = "koda"

// Export replays the document's spans and events through an OTLP/HTTP
// exporter. No-op when telemetry is disabled. The call blocks until the
// batch is flushed or ctx is done.
func Export(ctx context.Context, cfg config.TelemetryConfig, doc *trace.Document) error {
	if !cfg.Enabled || doc == nil {
		return nil
	}

	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: create exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res := sdkresource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("koda.task_id", doc.TaskID),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	tracer := tp.Tracer(defaultServiceName)

	replaySpans(ctx, tracer, doc)

	return tp.Shutdown(ctx)
}

// replaySpans walks the document in start order. Parents always precede
// their children there, so the parent's context is available when a
// child starts.
func replaySpans(ctx context.Context, tracer oteltrace.Tracer, doc *trace.Document) {
	contexts := map[string]context.Context{}

	for _, s := range doc.Spans {
		parent := ctx
		if s.ParentID != "" {
			if p, ok := contexts[s.ParentID]; ok {
				parent = p
			}
		}

		spanCtx, span := tracer.Start(parent, s.Name,
			oteltrace.WithTimestamp(toTime(s.StartTime)))
		contexts[s.SpanID] = spanCtx

		for _, e := range s.Events {
			span.AddEvent(string(e.EventType),
				oteltrace.WithTimestamp(toTime(e.Timestamp)),
				oteltrace.WithAttributes(eventAttributes(e.Data)...))
		}

		end := s.StartTime
		if s.EndTime != nil {
			end = *s.EndTime
		}
		span.End(oteltrace.WithTimestamp(toTime(end)))
	}
}

func eventAttributes(data map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := data[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", v)))
		}
	}
	return attrs
}

func toTime(unixSeconds float64) time.Time {
	return time.Unix(0, int64(unixSeconds*float64(time.Second)))
}
