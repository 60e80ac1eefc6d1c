package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Purchase settlements by outcome",
		},
		[]string{"result"},
	)

	ReferralPayouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_payouts_total",
			Help: "Referrals completed by a qualifying purchase",
		},
	)

	ResetTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reset_tokens_total",
			Help: "Password reset tokens by lifecycle event",
		},
		[]string{"event"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification dispatch attempts by kind and status",
		},
		[]string{"kind", "status"},
	)
)

func InitMetrics(addr string) {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		Settlements,
		ReferralPayouts,
		ResetTokens,
		Notifications,
	)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}

// TrackRepositoryCall opens a span for a repository method and returns the
// callback that records its outcome in the span and the repository metrics.
func TrackRepositoryCall(ctx context.Context, tracerName, method string) (context.Context, trace.Span, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method)
	start := time.Now()
	return ctx, span, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		RepositoryCalls.WithLabelValues(method, status).Inc()
		RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}
