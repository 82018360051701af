// Пакет tracing — настройка OpenTelemetry (OTLP HTTP).
package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc сбрасывает буфер и останавливает экспорт.
type ShutdownFunc func(context.Context) error

// Init настраивает глобальный TracerProvider с OTLP HTTP экспортом.
// Пустой endpoint оставляет no-op провайдер.
func Init(ctx context.Context, endpoint, serviceName, version, environment string, logger *slog.Logger) (ShutdownFunc, error) {
	if endpoint == "" {
		logger.Info("Трассировка выключена: OTEL_EXPORTER_OTLP_ENDPOINT не задан")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(environment),
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

	logger.Info("Трассировка включена", slog.String("endpoint", endpoint))
	return tp.Shutdown, nil
}
