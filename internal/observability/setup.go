package observability

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/honeynil/referral-credit-service/internal/infrastructure/observability"
)

type Options struct {
	ServiceName  string
	LogLevel     string
	OTLPEndpoint string
	// MetricsAddr starts a dedicated metrics listener when set.
	MetricsAddr string
}

// Setup initializes logging, metrics and tracing in one place for the binaries.
func Setup(ctx context.Context, opts Options) (*zerolog.Logger, func(context.Context) error) {
	logger := observability.InitLogger(opts.LogLevel)
	observability.InitMetrics(opts.MetricsAddr)

	shutdown, err := observability.InitTracing(ctx, opts.ServiceName, opts.OTLPEndpoint)
	if err != nil {
		logger.Error().Err(err).Msg("failed to init tracing, spans will not be exported")
		shutdown = func(context.Context) error { return nil }
	}

	logger.Info().Str("service", opts.ServiceName).Msg("observability initialized")
	return logger, shutdown
}
