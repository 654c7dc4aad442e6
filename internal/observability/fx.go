package observability

import (
	"time"

	obslogger "github.com/smallbiznis/reminder/internal/observability/logger"
	"github.com/smallbiznis/reminder/internal/observability/metrics"
	"github.com/smallbiznis/reminder/internal/observability/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		provideConsolidationMetrics,
		provideSchedulerMetrics,
		provideGormLoggerConfig,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ trace.TracerProvider) {}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

func provideConsolidationMetrics(cfg metrics.Config) *metrics.ConsolidationMetrics {
	return metrics.ConsolidationWithConfig(cfg)
}

func provideSchedulerMetrics(cfg metrics.Config) *metrics.SchedulerMetrics {
	return metrics.SchedulerWithConfig(cfg)
}

func provideGormLoggerConfig(cfg Config) obslogger.GormLoggerConfig {
	out := obslogger.DefaultGormLoggerConfig()
	out.SlowThreshold = time.Duration(cfg.SlowQueryThresholdMs) * time.Millisecond
	if cfg.Debug() {
		out.Level = gormlogger.Info
	}
	return out
}
