package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/datanestling/backend/internal/domain/model"
	"github.com/datanestling/backend/internal/notify"
)

// TestWS_ReceivesEvents проверяет доставку событий через websocket.
func TestWS_ReceivesEvents(t *testing.T) {
	hub := notify.NewHub(testLogger())
	h := NewWSHandler(hub, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(h.Subscribe))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ошибка подключения: %v", err)
	}
	defer conn.Close()

	// Ждём регистрации подписчика
	deadline := time.After(5 * time.Second)
	for hub.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("подписчик не зарегистрирован")
		case <-time.After(10 * time.Millisecond):
		}
	}

	rec := &model.FileRecord{OriginalName: "live.txt", FileType: model.TypeDocument}
	hub.Broadcast(notify.NewFileEvent(notify.EventFileUploaded, rec))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ошибка чтения события: %v", err)
	}

	var ev struct {
		Type string `json:"type"`
		File struct {
			OriginalName string `json:"original_name"`
		} `json:"file"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("некорректный JSON события: %v", err)
	}
	if ev.Type != "file_uploaded" {
		t.Errorf("ожидался тип file_uploaded, получено %s", ev.Type)
	}
	if ev.File.OriginalName != "live.txt" {
		t.Errorf("original_name: ожидалось live.txt, получено %s", ev.File.OriginalName)
	}
}

// TestWS_UnsubscribesOnClose проверяет отписку при закрытии соединения.
func TestWS_UnsubscribesOnClose(t *testing.T) {
	hub := notify.NewHub(testLogger())
	h := NewWSHandler(hub, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(h.Subscribe))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ошибка подключения: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for hub.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("подписчик не зарегистрирован")
		case <-time.After(10 * time.Millisecond):
		}
	}

	conn.Close()

	deadline = time.After(5 * time.Second)
	for hub.Count() != 0 {
		select {
		case <-deadline:
			t.Fatal("подписчик не отписан после закрытия соединения")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
