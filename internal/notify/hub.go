// hub.go — реестр подписчиков и fan-out рассылка событий.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики канала уведомлений
var (
	// subscribersGauge — текущее количество подписчиков.
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dn_notify_subscribers",
		Help: "Текущее количество подписчиков канала уведомлений",
	})

	// eventsBroadcastTotal — количество разосланных событий по типу.
	eventsBroadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dn_notify_events_total",
		Help: "Общее количество разосланных событий",
	}, []string{"type"})

	// subscribersDroppedTotal — подписчики, отключённые из-за сбоя доставки.
	subscribersDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dn_notify_subscribers_dropped_total",
		Help: "Общее количество подписчиков, отключённых из-за переполнения очереди",
	})
)

// sendQueueSize — ёмкость очереди событий одного подписчика.
// Подписчик, не успевающий вычитывать очередь, отключается.
const sendQueueSize = 32

// Subscriber — один подписанный клиент. События поступают в Events()
// в порядке рассылки (FIFO). Канал закрывается при отписке или
// отключении подписчика хабом.
type Subscriber struct {
	ch     chan []byte
	closed bool // защищается мьютексом хаба
}

// Events возвращает канал сериализованных событий подписчика.
func (s *Subscriber) Events() <-chan []byte {
	return s.ch
}

// Hub — реестр подписчиков с best-effort рассылкой.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	logger *slog.Logger
}

// NewHub создаёт пустой реестр подписчиков.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[*Subscriber]struct{}),
		logger: logger.With(slog.String("component", "notify_hub")),
	}
}

// Subscribe регистрирует нового подписчика и возвращает его.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, sendQueueSize)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	subscribersGauge.Set(float64(n))
	h.logger.Debug("Подписчик зарегистрирован", slog.Int("subscribers", n))
	return sub
}

// Unsubscribe удаляет подписчика и закрывает его канал. Идемпотентно.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	h.removeLocked(sub)
	n := len(h.subs)
	h.mu.Unlock()

	subscribersGauge.Set(float64(n))
}

// Count возвращает текущее количество подписчиков.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast рассылает событие всем подписчикам. Доставка best-effort:
// событие кладётся в очередь подписчика без блокировки; подписчик
// с переполненной очередью отключается, остальные не затрагиваются.
// Broadcast никогда не возвращает ошибку вызывающей операции.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Ошибка сериализации события",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.Lock()
	var dropped int
	for sub := range h.subs {
		select {
		case sub.ch <- data:
		default:
			// Очередь переполнена: подписчик мёртв или слишком медленный
			h.removeLocked(sub)
			dropped++
		}
	}
	n := len(h.subs)
	h.mu.Unlock()

	eventsBroadcastTotal.WithLabelValues(string(ev.Type)).Inc()
	if dropped > 0 {
		subscribersGauge.Set(float64(n))
		subscribersDroppedTotal.Add(float64(dropped))
		h.logger.Warn("Подписчики отключены при рассылке",
			slog.Int("dropped", dropped),
			slog.String("type", string(ev.Type)),
		)
	}
}

// removeLocked удаляет подписчика из реестра. Вызывается под h.mu.
func (h *Hub) removeLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	delete(h.subs, sub)
	sub.closed = true
	close(sub.ch)
}
