package observability

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

func InitLogger(level string) *zerolog.Logger {
	return NewLogger(os.Stdout, level)
}

func NewLogger(w io.Writer, level string) *zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &logger
}

// WithContext attaches the active trace id, if any.
func WithContext(ctx context.Context, logger *zerolog.Logger) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	l := logger.With().Str("trace_id", sc.TraceID().String()).Logger()
	return &l
}
