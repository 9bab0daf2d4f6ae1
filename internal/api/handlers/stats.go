// stats.go — обработчик агрегированной статистики.
package handlers

import (
	"net/http"

	"github.com/datanestling/backend/internal/api/errors"
	"github.com/datanestling/backend/internal/notify"
	"github.com/datanestling/backend/internal/service"
)

// StatsHandler — обработчик GET /api/stats.
type StatsHandler struct {
	store service.MetadataStore
	hub   service.Broadcaster
}

// NewStatsHandler создаёт обработчик статистики.
func NewStatsHandler(store service.MetadataStore, hub service.Broadcaster) *StatsHandler {
	return &StatsHandler{
		store: store,
		hub:   hub,
	}
}

// Stats обрабатывает GET /api/stats.
// Возвращает агрегаты одним проходом по коллекции и рассылает
// stats_updated подписчикам.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Aggregate(r.Context())
	if err != nil {
		errors.DatabaseUnavailable(w, "Хранилище метаданных недоступно")
		return
	}

	h.hub.Broadcast(notify.NewStatsEvent(stats))

	writeJSON(w, http.StatusOK, stats)
}
