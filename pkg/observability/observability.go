package observability

import (
	"context"
)

// Config groups the observability settings loaded by pkg/config
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig names the tracer used for spans
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Provider bundles the observability components handed to every subsystem
type Provider struct {
	Logger    Logger
	Metrics   MetricsClient
	StartSpan StartSpanFunc
}

// NewProvider builds the logger, metrics client and span starter described by cfg
func NewProvider(cfg Config) *Provider {
	startSpan := StartSpanFunc(NoopStartSpan)
	if cfg.Tracing.Enabled {
		name := cfg.Tracing.ServiceName
		if name == "" {
			name = "collab"
		}
		startSpan = NewStartSpanFunc(name)
	}
	return &Provider{
		Logger:    NewLogger(cfg.Logging),
		Metrics:   NewMetricsClient(cfg.Metrics),
		StartSpan: startSpan,
	}
}

// NewNoopProvider returns a provider whose components discard everything
func NewNoopProvider() *Provider {
	return &Provider{
		Logger:    NewNoopLogger(),
		Metrics:   NewNoOpMetricsClient(),
		StartSpan: NoopStartSpan,
	}
}

// Shutdown releases the metrics client
func (p *Provider) Shutdown() error {
	return p.Metrics.Close()
}

const loggerKey contextKey = "observability_logger"

// WithLogger stores a logger in ctx
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored in ctx, or fallback. Identifiers
// recorded with the With* helpers are attached as fields.
func LoggerFromContext(ctx context.Context, fallback Logger) Logger {
	logger := fallback
	if l, ok := ctx.Value(loggerKey).(Logger); ok && l != nil {
		logger = l
	}
	if md := ExtractMetadata(ctx); len(md) > 0 {
		logger = logger.With(md)
	}
	return logger
}
