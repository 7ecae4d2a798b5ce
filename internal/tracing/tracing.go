// Package tracing wires real OpenTelemetry spans around the
// orchestrator's dispatch/session lifecycle, C7. Grounded on the
// span-per-run idiom of internal/agent/loop_tracing.go (one span per
// Assistant run, tagged with model/provider/status), generalized here
// from that file's custom, in-process store.SpanData abstraction to
// real OTel spans exported over OTLP — one span per dispatched event
// and one child span per subroutine transition.
//
// Tracing is opt-in: Init is a no-op (spans are created against a
// otel.Tracer backed by the no-op TracerProvider) unless
// OTEL_EXPORTER_OTLP_ENDPOINT is set, so the worker runs with zero
// collector configured exactly as it did before this package existed.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName is the tracer name every span in this worker is
// created under.
const instrumentationName = "github.com/nextlevelbuilder/agentworker"

// serviceName is reported on the OTel Resource attached to every span.
const serviceName = "agentworker"

var tracer trace.Tracer = otel.Tracer(instrumentationName)

// Init configures the global TracerProvider from
// OTEL_EXPORTER_OTLP_ENDPOINT / OTEL_EXPORTER_OTLP_PROTOCOL, per the
// standard OTel env var convention. When the endpoint is unset, Init
// leaves the global no-op provider in place and returns a shutdown
// func that does nothing — tracing.StartSpan is always safe to call
// regardless of whether a collector is configured.
func Init(ctx context.Context) (shutdown func(context.Context) error, err error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracing: build otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(instrumentationName)

	return tp.Shutdown, nil
}

// newExporter selects the gRPC or HTTP OTLP trace exporter based on
// OTEL_EXPORTER_OTLP_PROTOCOL ("grpc" by default, matching the
// collector's default listener; "http/protobuf" selects the HTTP
// exporter).
func newExporter(ctx context.Context) (*otlptrace.Exporter, error) {
	protocol := strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"))
	if strings.HasPrefix(protocol, "http") {
		client := otlptracehttp.NewClient()
		return otlptrace.New(ctx, client)
	}
	client := otlptracegrpc.NewClient()
	return otlptrace.New(ctx, client)
}

// StartEventSpan opens a span around one Orchestrator.Handle dispatch,
// tagged with the repository and event kind that drove it — the
// per-session span named in DESIGN.md, rooted at dispatch rather than
// at session-creation since a single session receives many dispatched
// events over its lifetime.
func StartEventSpan(ctx context.Context, repoID, eventKind string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrator.handle",
		trace.WithAttributes(
			attribute.String("repo.id", repoID),
			attribute.String("event.kind", eventKind),
		),
	)
}

// StartSubroutineSpan opens a per-subroutine span, the generalization
// of loop_tracing.go's span-per-run to this worker's procedure model:
// one span per Subroutine the Procedure advances through.
func StartSubroutineSpan(ctx context.Context, sessionID, procedureName, subroutineName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrator.subroutine",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("procedure.name", procedureName),
			attribute.String("subroutine.name", subroutineName),
		),
	)
}

// RecordOutcome sets span's status from err (nil means OK) and ends
// it. Defined here rather than inlined at every call site so the
// status-code mapping stays consistent across event and subroutine
// spans.
func RecordOutcome(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
