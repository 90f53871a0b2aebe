// Package telemetry configures OpenTelemetry tracing for the binaries.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Config configures the tracer provider.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Writer receives exported spans. Nil means stdout.
	Writer io.Writer

	// PrettyPrint indents exported spans.
	PrettyPrint bool

	// Synchronous exports every span as it ends instead of batching.
	Synchronous bool
}

// TracerProvider wraps the SDK provider installed as the global one.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// Setup creates a tracer provider exporting to cfg.Writer and installs it
// globally. Call Shutdown before exit to flush pending spans.
func Setup(cfg Config) (*TracerProvider, error) {
	opts := []stdouttrace.Option{}
	if cfg.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
	}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "browsepilot"
	}
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(version),
			attribute.String("component", "task-engine"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	spanOpt := sdktrace.WithBatcher(exporter)
	if cfg.Synchronous {
		spanOpt = sdktrace.WithSyncer(exporter)
	}
	provider := sdktrace.NewTracerProvider(
		spanOpt,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}
