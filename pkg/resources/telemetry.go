package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// StopFn flushes and shuts down whatever was started.
type StopFn func(ctx context.Context) error

// Observe installs OTLP/gRPC trace, metric and log providers, starts runtime
// metrics and bridges the global zerolog logger into the log pipeline.
func Observe(ctx context.Context, settings *Settings) (context.Context, StopFn, error) {
	var stops []StopFn

	stop := func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}

		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", settings.Name),
		attribute.String("service.version", settings.Version),
		attribute.String("deployment.environment", settings.Env),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(settings.OTelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return ctx, stop, fmt.Errorf("failed to create the OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	stops = append(stops, tp.Shutdown)

	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(settings.OTelEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return ctx, stop, fmt.Errorf("failed to create the OTLP metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	stops = append(stops, mp.Shutdown)

	err = runtime.Start(runtime.WithMeterProvider(mp))
	if err != nil {
		return ctx, stop, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	logExp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(settings.OTelEndpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return ctx, stop, fmt.Errorf("failed to create the OTLP log exporter: %w", err)
	}

	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
	global.SetLoggerProvider(lp)
	stops = append(stops, lp.Shutdown)

	log.Logger = log.Logger.Hook(NewZerologHook(settings.Name, settings.Version))
	zerolog.DefaultContextLogger = &log.Logger

	return log.Logger.WithContext(ctx), stop, nil
}
