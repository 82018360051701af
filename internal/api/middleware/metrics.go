// metrics.go — Prometheus HTTP метрики Directory Sync.
// Регистрирует метрики: ds_http_requests_total, ds_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ds_http_requests_total",
			Help: "Общее количество HTTP-запросов к Directory Sync",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ds_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Directory Sync в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// runsPrefix — префикс пути запусков синхронизации.
const runsPrefix = "/api/v1/directory/runs/"

// normalizePath заменяет идентификатор запуска на {id} для предотвращения
// роста кардинальности метрик. Неизвестные пути сводятся к "other".
// /api/v1/directory/runs/a1b2c3d4-... → /api/v1/directory/runs/{id}
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/directory/sync",
		"/api/v1/directory/runs",
		"/api/v1/directory/status",
		"/api/v1/directory/login-sync":
		return path
	}

	if rest, ok := strings.CutPrefix(path, runsPrefix); ok && rest != "" && !strings.Contains(rest, "/") {
		return runsPrefix + "{id}"
	}

	return "other"
}
