// files.go — HTTP handlers файловых операций.
// Upload, List, Download, Delete, ToggleStar.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/datanestling/backend/internal/api/errors"
	"github.com/datanestling/backend/internal/service"
)

// multipartMemoryLimit — буфер парсинга multipart form в памяти,
// остальное уходит во временные файлы.
const multipartMemoryLimit = 32 << 20

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	lifecycle *service.Lifecycle
	store     service.MetadataStore
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(lifecycle *service.Lifecycle, store service.MetadataStore) *FilesHandler {
	return &FilesHandler{
		lifecycle: lifecycle,
		store:     store,
	}
}

// Upload обрабатывает POST /api/upload.
// Multipart form с обязательным полем file. Успех — 201 и запись в JSON.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")

	rec, opErr := h.lifecycle.Upload(r.Context(), file, header.Size, header.Filename, contentType)
	if opErr != nil {
		errors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// List обрабатывает GET /api/files.
// Возвращает все записи, отсортированные по дате загрузки (новые первые).
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListAll(r.Context())
	if err != nil {
		errors.DatabaseUnavailable(w, "Хранилище метаданных недоступно")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// Download обрабатывает GET /api/files/{id}/download.
// Отдаёт содержимое файла с Content-Disposition из оригинального имени.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	f, rec, opErr := h.lifecycle.Download(r.Context(), id)
	if opErr != nil {
		errors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		errors.StorageError(w, "Ошибка чтения файла")
		return
	}

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.OriginalName))

	// http.ServeContent обрабатывает Range requests и Content-Length
	http.ServeContent(w, r, rec.OriginalName, stat.ModTime(), f)
}

// Delete обрабатывает DELETE /api/files/{id}.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if _, opErr := h.lifecycle.Delete(r.Context(), id); opErr != nil {
		errors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Файл удалён",
	})
}

// ToggleStar обрабатывает PATCH /api/files/{id}/star.
func (h *FilesHandler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	rec, opErr := h.lifecycle.ToggleStar(r.Context(), id)
	if opErr != nil {
		errors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"starred": rec.Starred,
	})
}

// parseID извлекает идентификатор документа из пути.
// Непарсящийся идентификатор не может ссылаться на запись,
// поэтому отвечаем 404, а не 400.
func parseID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		errors.NotFound(w, fmt.Sprintf("Файл %s не найден", raw))
		return primitive.NilObjectID, false
	}
	return id, true
}

// writeJSON — вспомогательная функция записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
