// Пакет notify — канал push-уведомлений об изменениях файлов.
// Hub рассылает JSON-события всем подписанным клиентам best-effort:
// сбой доставки одному подписчику не влияет на остальных и никогда
// не приводит к ошибке вызывающей операции.
package notify

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/datanestling/backend/internal/domain/model"
)

// EventType — тип события изменения.
type EventType string

const (
	EventFileUploaded   EventType = "file_uploaded"
	EventFileDeleted    EventType = "file_deleted"
	EventFileUpdated    EventType = "file_updated"
	EventFileDownloaded EventType = "file_downloaded"
	EventStatsUpdated   EventType = "stats_updated"
)

// Event — событие, рассылаемое подписчикам.
// Формат на проводе: {type, timestamp, file?, stats?}.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`

	// File — полезная нагрузка события: *model.FileRecord для
	// file_uploaded/file_deleted/file_updated, FileRef для
	// file_downloaded. nil для stats_updated.
	File any `json:"file,omitempty"`

	// Stats — полезная нагрузка stats_updated.
	Stats *model.Stats `json:"stats,omitempty"`
}

// FileRef — сокращённая ссылка на файл для события file_downloaded.
type FileRef struct {
	ID           primitive.ObjectID `json:"id"`
	OriginalName string             `json:"original_name"`
}

// NewFileEvent создаёт событие с полной записью файла.
func NewFileEvent(t EventType, rec *model.FileRecord) Event {
	return Event{
		Type:      t,
		Timestamp: eventTimestamp(),
		File:      rec,
	}
}

// NewDownloadEvent создаёт событие file_downloaded с сокращённой ссылкой.
func NewDownloadEvent(id primitive.ObjectID, originalName string) Event {
	return Event{
		Type:      EventFileDownloaded,
		Timestamp: eventTimestamp(),
		File:      FileRef{ID: id, OriginalName: originalName},
	}
}

// NewStatsEvent создаёт событие stats_updated.
func NewStatsEvent(stats *model.Stats) Event {
	return Event{
		Type:      EventStatsUpdated,
		Timestamp: eventTimestamp(),
		Stats:     stats,
	}
}

// eventTimestamp — метка времени события в формате RFC3339 (UTC).
func eventTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
