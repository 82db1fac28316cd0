// Package telemetry wires OpenTelemetry tracing for the bridge.
package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// InitTracer initializes OpenTelemetry tracing with spans written to w as
// JSON. Stdout carries console output, so w is normally stderr or a file.
// The returned provider is also installed globally.
func InitTracer(serviceName string, w io.Writer, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))

	return tp, nil
}

// InitFileTracer is InitTracer writing to path, or to stderr when path is
// empty. The returned shutdown flushes spans and closes the file.
func InitFileTracer(serviceName, path string, logger *slog.Logger) (func(context.Context) error, error) {
	var w io.Writer = os.Stderr
	var f *os.File
	if path != "" {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		w = f
	}

	tp, err := InitTracer(serviceName, w, logger)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, err
	}

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if f != nil {
			err = errors.Join(err, f.Close())
		}
		return err
	}, nil
}
