// metrics.go — Prometheus HTTP метрики сервиса.
// Регистрирует метрики: dn_http_requests_total, dn_http_request_duration_seconds.
// Бизнес-метрики (dn_operations_total, dn_cleanup_* и др.) регистрируются
// в соответствующих пакетах и обновляются из сервисного слоя.
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
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dn_http_requests_total",
			Help: "Общее количество HTTP-запросов",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dn_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем идентификатор на {id} для ограничения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newStatusResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// statusResponseWriter — обёртка для перехвата статус-кода.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *statusResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному
// ResponseWriter. Необходимо и для websocket Hijack на /ws.
func (rw *statusResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет идентификатор документа в пути на {id}
// для предотвращения взрывного роста кардинальности метрик.
// /api/files/68a1b2c3d4e5f60718293a4b/download → /api/files/{id}/download
func normalizePath(path string) string {
	const prefix = "/api/files/"
	if !strings.HasPrefix(path, prefix) || path == prefix {
		return path
	}

	rest := strings.TrimPrefix(path, prefix)
	segment, suffix, _ := strings.Cut(rest, "/")
	if !isObjectIDSegment(segment) {
		return path
	}

	switch suffix {
	case "":
		return "/api/files/{id}"
	case "download":
		return "/api/files/{id}/download"
	case "star":
		return "/api/files/{id}/star"
	}
	return path
}

// isObjectIDSegment проверяет, что сегмент пути — 24-символьный hex
// идентификатор документа.
func isObjectIDSegment(segment string) bool {
	if len(segment) != 24 {
		return false
	}
	for _, c := range segment {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
