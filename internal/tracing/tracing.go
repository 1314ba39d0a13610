/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tracing provides OpenTelemetry spans for sync passes.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer used for sync spans.
const TracerName = "reportsync"

// Span attribute keys.
const (
	AttrRunID     = "reportsync.run_id"
	AttrReport    = "reportsync.report"
	AttrTable     = "reportsync.table"
	AttrMode      = "reportsync.insert_mode"
	AttrFirstRun  = "reportsync.first_run"
	AttrWindow    = "reportsync.window"
	AttrWindows   = "reportsync.windows"
	AttrPages     = "reportsync.pages"
	AttrRows      = "reportsync.rows"
	AttrAttempts  = "reportsync.attempts"
	AttrHook      = "reportsync.hook"
	AttrReportCnt = "reportsync.reports"
)

// Config holds tracing configuration.
type Config struct {
	// Enabled enables tracing.
	Enabled bool

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	Endpoint string

	ServiceName    string
	ServiceVersion string
	Environment    string

	// SampleRate is the sampling rate (0.0 to 1.0). Default 1.0 (all traces).
	SampleRate float64

	// Insecure disables TLS for the OTLP connection.
	Insecure bool
}

// Provider wraps the OpenTelemetry TracerProvider. A nil *Provider hands out
// spans from the global provider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider creates a new tracing provider with the given configuration.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(TracerName)}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "reportsync"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Standalone resource; merging with resource.Default() can fail on
	// conflicting schema URLs.
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(TracerName)}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// NewTestProvider creates a Provider from a pre-configured TracerProvider,
// for tests that supply an in-memory exporter.
func NewTestProvider(tp *sdktrace.TracerProvider) *Provider {
	return &Provider{tp: tp, tracer: tp.Tracer(TracerName)}
}

// Tracer returns the tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(TracerName)
	}
	return p.tracer
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p != nil && p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// StartPassSpan starts the root span of one sync pass.
func (p *Provider) StartPassSpan(ctx context.Context, runID string, reports int) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "sync.pass",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrRunID, runID),
			attribute.Int(AttrReportCnt, reports),
		),
	)
}

// StartReportSpan starts a span covering all attempts of one report.
func (p *Provider) StartReportSpan(ctx context.Context, report, table, mode string) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "sync.report "+report,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrReport, report),
			attribute.String(AttrTable, table),
			attribute.String(AttrMode, mode),
		),
	)
}

// StartWindowSpan starts a span for fetching and staging one query window.
func (p *Provider) StartWindowSpan(ctx context.Context, window string) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "sync.window",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(AttrWindow, window)),
	)
}

// StartHookSpan starts a span for a post-processing hook.
func (p *Provider) StartHookSpan(ctx context.Context, hook string) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "sync.hook "+hook,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(AttrHook, hook)),
	)
}

// AddPlan records the planned window count on a report span.
func AddPlan(span trace.Span, windows int, firstRun bool) {
	span.SetAttributes(
		attribute.Int(AttrWindows, windows),
		attribute.Bool(AttrFirstRun, firstRun),
	)
}

// AddLoadResult records fetched pages and staged rows.
func AddLoadResult(span trace.Span, pages int, rows int64) {
	span.SetAttributes(
		attribute.Int(AttrPages, pages),
		attribute.Int64(AttrRows, rows),
	)
}

// AddAttempts records how many attempts a report took.
func AddAttempts(span trace.Span, attempts int) {
	span.SetAttributes(attribute.Int(AttrAttempts, attempts))
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful.
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "success")
}
