// Package tracing installs the OpenTelemetry SDK tracer provider. Code that
// emits spans uses otel.Tracer directly and stays a no-op until Init runs.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(ctx context.Context) error

var (
	providerOnce sync.Once
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// Init configures the stdout exporter writing to outputFile, or os.Stdout
// when outputFile is empty. Only the first call installs a provider.
func Init(serviceName, serviceVersion, outputFile string) (ShutdownFunc, error) {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, err
		}
		w = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	return InitWithExporter(serviceName, serviceVersion, exporter)
}

// InitWithExporter installs a provider around the supplied exporter.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (ShutdownFunc, error) {
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})
	if providerErr != nil {
		return nil, providerErr
	}
	return provider.Shutdown, nil
}
