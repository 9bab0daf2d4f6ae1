// Пакет model — доменные модели Data Nestling.
// FileRecord — единая структура метаданных файла, используется
// как in-memory представление и как документ коллекции files.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FileRecord — метаданные загруженного файла. Соответствует документу
// в коллекции files. bson-теги фиксируют схему коллекции,
// json-теги — формат API-ответов и websocket-событий.
type FileRecord struct {
	// ID — идентификатор документа, присваивается хранилищем при Insert.
	// В JSON сериализуется как 24-символьная hex-строка.
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// OriginalName — имя файла, переданное клиентом. Используется только
	// для отображения и заголовка Content-Disposition, не для путей на диске.
	OriginalName string `bson:"original_name" json:"original_name"`

	// StoredName — сгенерированное имя файла на диске (ключ blob-хранилища).
	// Неизменяемо после создания записи.
	StoredName string `bson:"filename" json:"filename"`

	// MimeType — MIME-тип, переданный клиентом, либо application/octet-stream.
	MimeType string `bson:"mime_type" json:"mime_type"`

	// FileType — классификация файла, вычисляется один раз при загрузке.
	FileType FileType `bson:"file_type" json:"file_type"`

	// Size — размер файла в байтах, равен фактически записанным данным.
	Size int64 `bson:"size" json:"size"`

	// UploadDate — дата и время загрузки (UTC). Неизменяемо.
	UploadDate time.Time `bson:"upload_date" json:"upload_date"`

	// Starred — флаг избранного, меняется только операцией toggle.
	Starred bool `bson:"starred" json:"starred"`

	// DownloadCount — счётчик скачиваний, монотонно неубывающий.
	DownloadCount int64 `bson:"download_count" json:"download_count"`
}

// Stats — агрегированная статистика по всем записям.
type Stats struct {
	TotalFiles     int64            `json:"total_files"`
	TotalSize      int64            `json:"total_size"`
	StarredCount   int64            `json:"starred_count"`
	TotalDownloads int64            `json:"total_downloads"`
	FileTypes      map[string]int64 `json:"file_types"`
}
