// Package telemetry sets up OpenTelemetry trace and metric export for the client.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc/credentials"

	"github.com/sokdak/sokdak/app"
	"github.com/sokdak/sokdak/config"
)

var (
	initMutex    sync.Mutex
	shutdownOTEL func(context.Context) error
)

type Attributes struct {
	App            string
	AppVersion     string
	GoVersion      string
	LocaleLanguage string
	Platform       string
	OSName         string
	OSArch         string
}

// DefaultAttributes describes the running client.
func DefaultAttributes(locale string) Attributes {
	return Attributes{
		App:            app.Name,
		AppVersion:     app.Version,
		GoVersion:      runtime.Version(),
		LocaleLanguage: locale,
		Platform:       app.Platform,
		OSName:         runtime.GOOS,
		OSArch:         runtime.GOARCH,
	}
}

// Init starts exporting traces and metrics to cfg.Endpoint, replacing any previous setup. It does
// nothing when no endpoint is configured, leaving the global no-op providers in place.
func Init(ctx context.Context, cfg config.OTEL, attrs Attributes) error {
	initMutex.Lock()
	defer initMutex.Unlock()

	if cfg.Endpoint == "" {
		slog.Debug("No otel endpoint configured, skipping OpenTelemetry initialization")
		return nil
	}
	if shutdownOTEL != nil {
		slog.Info("Shutting down existing OpenTelemetry SDK")
		if err := shutdownOTEL(ctx); err != nil {
			return fmt.Errorf("failed to shutdown OpenTelemetry SDK: %w", err)
		}
		shutdownOTEL = nil
	}

	shutdown, err := setupOTelSDK(ctx, attrs, cfg)
	if err != nil {
		slog.Error("Failed to start OpenTelemetry SDK", "error", err)
		return fmt.Errorf("failed to start OpenTelemetry SDK: %w", err)
	}
	shutdownOTEL = shutdown
	return nil
}

// Close flushes and stops the exporters started by Init.
func Close(ctx context.Context) error {
	initMutex.Lock()
	defer initMutex.Unlock()
	if shutdownOTEL == nil {
		return nil
	}
	slog.Info("Shutting down OpenTelemetry SDK")
	err := shutdownOTEL(ctx)
	shutdownOTEL = nil
	if err != nil {
		return fmt.Errorf("failed to shutdown OpenTelemetry SDK: %w", err)
	}
	return nil
}

func buildResources(a Attributes) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceNameKey.String(a.App),
		semconv.ServiceVersionKey.String(a.AppVersion),
		attribute.String("library.language", "go"),
		attribute.String("library.language.version", a.GoVersion),
		attribute.String("locale.language", a.LocaleLanguage),
		attribute.String("platform", a.Platform),
		attribute.String("os.name", a.OSName),
		attribute.String("os.arch", a.OSArch),
	}
}

// setupOTelSDK bootstraps the OpenTelemetry pipeline.
// If it does not return an error, make sure to call shutdown for proper cleanup.
func setupOTelSDK(ctx context.Context, attrs Attributes, cfg config.OTEL) (func(context.Context) error, error) {
	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}
	res, err := resource.New(ctx, resource.WithAttributes(buildResources(attrs)...))
	if err != nil {
		return shutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracerShutdown, err := initTracer(ctx, res, cfg)
	if err != nil {
		return shutdown, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, tracerShutdown)
	slog.Info("OpenTelemetry tracer initialized", "endpoint", cfg.Endpoint)

	mp, err := initMeterProvider(ctx, res, cfg)
	if err != nil {
		return shutdown, errors.Join(fmt.Errorf("failed to initialize meter provider: %w", err), shutdown(ctx))
	}
	shutdownFuncs = append(shutdownFuncs, mp)
	return shutdown, nil
}

func initTracer(ctx context.Context, res *resource.Resource, cfg config.OTEL) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithHeaders(cfg.Headers),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TracesSampleRate))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tracerProvider)
	return func(ctx context.Context) error {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		if err := exporter.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown exporter: %w", err)
		}
		return nil
	}, nil
}

// Initializes an OTLP exporter, and configures the corresponding meter provider.
func initMeterProvider(ctx context.Context, res *resource.Resource, cfg config.OTEL) (func(context.Context) error, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithHeaders(cfg.Headers),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	} else {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(meterProvider)
	return meterProvider.Shutdown, nil
}
