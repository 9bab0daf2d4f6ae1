package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeChecker — управляемая реализация DatabaseChecker.
type fakeChecker struct {
	pingErr  error
	countErr error
	total    int64
}

func (f *fakeChecker) Ping(context.Context) error { return f.pingErr }

func (f *fakeChecker) Count(context.Context) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.total, nil
}

// fakeCounter — фиксированное количество подписчиков.
type fakeCounter struct{ n int }

func (f *fakeCounter) Count() int { return f.n }

// TestHealth_Healthy проверяет ответ при доступной базе.
func TestHealth_Healthy(t *testing.T) {
	h := NewHealthHandler(&fakeChecker{total: 7}, &fakeCounter{n: 2}, "uploads")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	h.Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидалось 200, получено %d", rr.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("некорректный JSON ответа: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status: ожидалось healthy, получено %v", resp["status"])
	}
	if resp["database"] != "connected" {
		t.Errorf("database: ожидалось connected, получено %v", resp["database"])
	}
	if resp["total_files"] != float64(7) {
		t.Errorf("total_files: ожидалось 7, получено %v", resp["total_files"])
	}
	if resp["websocket_connections"] != float64(2) {
		t.Errorf("websocket_connections: ожидалось 2, получено %v", resp["websocket_connections"])
	}
}

// TestHealth_Unhealthy проверяет 503 при недоступной базе.
func TestHealth_Unhealthy(t *testing.T) {
	tests := []struct {
		name    string
		checker *fakeChecker
	}{
		{"ping fails", &fakeChecker{pingErr: errors.New("соединение разорвано")}},
		{"count fails", &fakeChecker{countErr: errors.New("таймаут")}},
	}

	for _, tt := range tests {
		h := NewHealthHandler(tt.checker, &fakeCounter{}, "uploads")

		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rr := httptest.NewRecorder()
		h.Health(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: ожидалось 503, получено %d", tt.name, rr.Code)
			continue
		}

		var resp map[string]any
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("%s: некорректный JSON ответа: %v", tt.name, err)
		}
		if resp["status"] != "unhealthy" {
			t.Errorf("%s: status ожидалось unhealthy, получено %v", tt.name, resp["status"])
		}
		if resp["database"] != "disconnected" {
			t.Errorf("%s: database ожидалось disconnected, получено %v", tt.name, resp["database"])
		}
	}
}

// TestRoot проверяет информационный баннер.
func TestRoot(t *testing.T) {
	h := NewHealthHandler(&fakeChecker{}, &fakeCounter{}, "uploads")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.Root(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидалось 200, получено %d", rr.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("некорректный JSON ответа: %v", err)
	}
	if resp["status"] != "running" {
		t.Errorf("status: ожидалось running, получено %v", resp["status"])
	}
	if resp["database"] != "connected" {
		t.Errorf("database: ожидалось connected, получено %v", resp["database"])
	}

	// База недоступна — баннер остаётся 200
	h = NewHealthHandler(&fakeChecker{pingErr: errors.New("нет соединения")}, &fakeCounter{}, "uploads")
	rr = httptest.NewRecorder()
	h.Root(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("ожидалось 200, получено %d", rr.Code)
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("некорректный JSON ответа: %v", err)
	}
	if resp["database"] != "disconnected" {
		t.Errorf("database: ожидалось disconnected, получено %v", resp["database"])
	}
}
