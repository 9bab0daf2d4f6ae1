// ws.go — websocket endpoint канала уведомлений.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/datanestling/backend/internal/notify"
)

// writeTimeout — дедлайн записи одного события подписчику.
// Медленный клиент не должен удерживать writer-горутину.
const writeTimeout = 10 * time.Second

// WSHandler — обработчик GET /ws: подписка клиента на события.
type WSHandler struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler создаёт websocket-обработчик.
func NewWSHandler(hub *notify.Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			// Сервис отдаёт API для браузерного фронтенда с любого origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

// Subscribe обрабатывает GET /ws.
// Регистрирует соединение в хабе, пишет события из очереди подписчика
// в порядке рассылки и читает (отбрасывая) клиентские кадры до
// закрытия соединения.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Ошибка upgrade websocket",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := h.hub.Subscribe()

	// Writer: события подписчика → соединение.
	// Завершается при закрытии канала подписчика (отписка или дроп хабом)
	// либо при ошибке записи.
	go func() {
		defer conn.Close()
		for data := range sub.Events() {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.hub.Unsubscribe(sub)
				return
			}
		}
	}()

	// Reader: держит соединение и обнаруживает разрыв.
	// Входящие кадры протоколом не используются.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unsubscribe(sub)
	conn.Close()
}
