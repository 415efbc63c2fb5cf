// Package telemetry wires the optional OpenTelemetry export path: trace,
// metric, and log providers feeding one OTLP gRPC collector over a shared
// connection.
//
// Call [Setup] once at startup and defer the returned [ShutdownFunc]. When no
// collector is configured the globals stay no-ops and nothing in the rest of
// the codebase pays for instrumentation.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Config groups all telemetry settings, mirroring the telemetry block of the
// YAML configuration.
type Config struct {
	// OTLPEndpoint is the collector's gRPC host:port, e.g. "localhost:4317".
	OTLPEndpoint string

	// Insecure disables TLS on the collector connection, for local
	// collectors without a certificate.
	Insecure bool

	// ServiceName becomes the service.name resource attribute. Defaults to
	// "alliancevault".
	ServiceName string

	// Headers is attached as gRPC metadata to every OTLP request, typically
	// an authentication token: {"Authorization": "Bearer <token>"}.
	Headers map[string]string
}

// ShutdownFunc flushes and closes every provider [Setup] created. Call it
// with a fresh context; the main context is usually cancelled by the time
// shutdown runs.
type ShutdownFunc func(context.Context) error

// providers holds everything Setup builds, so one shutdown path covers both
// the success case and cleanup after a partial failure.
type providers struct {
	tp   *sdktrace.TracerProvider
	mp   *sdkmetric.MeterProvider
	lp   *sdklog.LoggerProvider
	conn *grpc.ClientConn
}

// shutdown flushes each provider and closes the shared connection. Nil
// members (from a partially built set) are skipped.
func (p *providers) shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric provider shutdown: %w", err))
		}
	}
	if p.lp != nil {
		if err := p.lp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing OTLP connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Setup initialises the global trace, metric, and log providers against the
// collector in cfg. The globals are only replaced once every provider has
// been built, so a failure partway through leaves the process on the no-op
// defaults.
//
// The returned ShutdownFunc is always non-nil; on error it is a no-op, so
// callers can defer it unconditionally.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	svcName := cfg.ServiceName
	if svcName == "" {
		svcName = "alliancevault"
	}

	// NewSchemaless sidesteps the schema URL conflict between
	// resource.Default() and a pinned semconv version.
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(svcName)))
	if err != nil {
		return noopShutdown, fmt.Errorf("building OTel resource: %w", err)
	}

	conn, err := dial(cfg)
	if err != nil {
		return noopShutdown, err
	}

	p := &providers{conn: conn}
	if p.tp, err = newTraceProvider(ctx, conn, cfg.Headers, res); err != nil {
		_ = p.shutdown(ctx)
		return noopShutdown, err
	}
	if p.mp, err = newMeterProvider(ctx, conn, cfg.Headers, res); err != nil {
		_ = p.shutdown(ctx)
		return noopShutdown, err
	}
	if p.lp, err = newLoggerProvider(ctx, conn, cfg.Headers, res); err != nil {
		_ = p.shutdown(ctx)
		return noopShutdown, err
	}

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	global.SetLoggerProvider(p.lp)

	return p.shutdown, nil
}

// dial opens the single gRPC connection all three exporters share.
func dial(cfg Config) (*grpc.ClientConn, error) {
	creds := credentials.NewTLS(nil) // system root CAs
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}
	return conn, nil
}

func newTraceProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
		otlpmetricgrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

func newLoggerProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithGRPCConn(conn),
		otlploggrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	), nil
}

// noopShutdown is returned on error so callers can defer unconditionally.
func noopShutdown(_ context.Context) error { return nil }
