// health.go — обработчики health endpoint и корневой страницы сервиса.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/datanestling/backend/internal/config"
)

// healthCheckTimeout — таймаут проверки базы в health endpoint.
const healthCheckTimeout = 5 * time.Second

// DatabaseChecker — интерфейс проверки доступности хранилища метаданных.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// SubscriberCounter — интерфейс подсчёта подписчиков канала уведомлений.
type SubscriberCounter interface {
	Count() int
}

// HealthHandler реализует GET /api/health и GET /.
type HealthHandler struct {
	db        DatabaseChecker
	hub       SubscriberCounter
	uploadDir string
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(db DatabaseChecker, hub SubscriberCounter, uploadDir string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		hub:       hub,
		uploadDir: uploadDir,
	}
}

// Root обрабатывает GET / — информационный баннер сервиса.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	database := "connected"
	if err := h.ping(r.Context()); err != nil {
		database = "disconnected"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Data Nestling Backend API",
		"version":  config.Version,
		"status":   "running",
		"database": database,
		"realtime": true,
	})
}

// Health обрабатывает GET /api/health.
// Возвращает 200 при доступной базе, иначе 503 с описанием.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "unhealthy",
			"service":     "data-nestling-backend",
			"database":    "disconnected",
			"error":       "Хранилище метаданных недоступно",
			"total_files": 0,
		})
		return
	}

	totalFiles, err := h.db.Count(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "unhealthy",
			"service":     "data-nestling-backend",
			"database":    "disconnected",
			"error":       "Хранилище метаданных недоступно",
			"total_files": 0,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "healthy",
		"service":               "data-nestling-backend",
		"database":              "connected",
		"total_files":           totalFiles,
		"upload_dir":            h.uploadDir,
		"realtime_ws":           true,
		"websocket_connections": h.hub.Count(),
	})
}

// ping проверяет базу с таймаутом health check.
func (h *HealthHandler) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return h.db.Ping(pingCtx)
}
