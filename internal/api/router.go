package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/honeynil/referral-credit-service/internal/handler"
	"github.com/honeynil/referral-credit-service/internal/infrastructure/auth"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, RequestDuration)
}

// Middleware для метрик
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		// Записываем ответ для получения статуса
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := fmt.Sprintf("%d", recorder.status)
		RequestCounter.WithLabelValues(r.Method, endpoint, status).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func loggingMiddleware(logger *zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", recorder.status).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}

func SetupRouter(h *handler.Handler, jwtService *auth.JWTService, sessions *auth.SessionStore, logger *zerolog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(logger))

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	// Роуты
	public := r.PathPrefix("/api").Subrouter()
	public.Use(metricsMiddleware)
	h.RegisterPublicRoutes(public)

	optional := r.PathPrefix("/api").Subrouter()
	optional.Use(metricsMiddleware, auth.OptionalAuthMiddleware(jwtService, sessions, logger))
	h.RegisterOptionalAuthRoutes(optional)

	// Защищённые роуты с JWT
	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(metricsMiddleware, auth.AuthMiddleware(jwtService, sessions, logger))
	h.RegisterProtectedRoutes(protected)

	return r
}

// statusRecorder для захвата статуса ответа
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
