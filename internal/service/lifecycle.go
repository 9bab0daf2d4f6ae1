// Пакет service — бизнес-логика Data Nestling.
// lifecycle.go — менеджер жизненного цикла файлов: согласованные
// операции над blob-хранилищем и хранилищем метаданных с рассылкой
// уведомлений. Каждая операция — короткая сага с явной компенсацией
// при частичном сбое.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/bson/primitive"

	apierrors "github.com/datanestling/backend/internal/api/errors"
	"github.com/datanestling/backend/internal/domain/model"
	"github.com/datanestling/backend/internal/notify"
	"github.com/datanestling/backend/internal/storage/blobstore"
	"github.com/datanestling/backend/internal/storage/metastore"
)

// operationsTotal — количество файловых операций по результату.
var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dn_operations_total",
	Help: "Общее количество файловых операций",
}, []string{"operation", "result"})

// MetadataStore — контракт хранилища метаданных, используемый менеджером.
// Реализуется metastore.Store; в тестах подменяется in-memory фейком.
// Отсутствие записи сигнализируется ошибкой, совместимой с
// metastore.ErrNotFound; любая другая ошибка трактуется как
// недоступность хранилища.
type MetadataStore interface {
	Insert(ctx context.Context, rec *model.FileRecord) (primitive.ObjectID, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*model.FileRecord, error)
	FindByStoredName(ctx context.Context, storedName string) (*model.FileRecord, error)
	ListAll(ctx context.Context) ([]*model.FileRecord, error)
	SetStarred(ctx context.Context, id primitive.ObjectID, starred bool) error
	IncDownloadCount(ctx context.Context, id primitive.ObjectID) error
	Delete(ctx context.Context, id primitive.ObjectID) (bool, error)
	Aggregate(ctx context.Context) (*model.Stats, error)
}

// Broadcaster — контракт канала уведомлений. Реализуется notify.Hub.
type Broadcaster interface {
	Broadcast(ev notify.Event)
}

// CleanupTrigger — контракт планирования внеочередной очистки orphan-файлов.
type CleanupTrigger interface {
	Trigger()
}

// OpError — ошибка операции с HTTP-кодом и машиночитаемым кодом.
type OpError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Lifecycle — менеджер жизненного цикла файлов.
type Lifecycle struct {
	blobs       *blobstore.BlobStore
	store       MetadataStore
	hub         Broadcaster
	cleanup     CleanupTrigger
	maxFileSize int64
	logger      *slog.Logger
}

// NewLifecycle создаёт менеджер жизненного цикла.
// cleanup может быть nil: тогда внеочередная очистка не планируется.
func NewLifecycle(
	blobs *blobstore.BlobStore,
	store MetadataStore,
	hub Broadcaster,
	cleanup CleanupTrigger,
	maxFileSize int64,
	logger *slog.Logger,
) *Lifecycle {
	return &Lifecycle{
		blobs:       blobs,
		store:       store,
		hub:         hub,
		cleanup:     cleanup,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "lifecycle")),
	}
}

// Upload загружает файл: валидация → запись blob → вставка метаданных →
// триггер очистки → уведомление.
//
// declaredSize — размер из multipart-заголовка, проверяется до любого
// дискового ввода-вывода. Итоговый размер записи берётся из фактически
// записанных байт. При сбое вставки метаданных записанный blob
// удаляется (компенсация): orphan после неудачной загрузки не остаётся.
func (l *Lifecycle) Upload(ctx context.Context, reader io.Reader, declaredSize int64, originalName, mimeType string) (*model.FileRecord, *OpError) {
	// 1. Валидация до записи на диск
	if declaredSize == 0 {
		operationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, &OpError{
			StatusCode: 400,
			Code:       apierrors.CodeEmptyFile,
			Message:    "Файл пуст",
		}
	}
	if declaredSize > l.maxFileSize {
		operationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, &OpError{
			StatusCode: 413,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", declaredSize, l.maxFileSize),
		}
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// 2. Классификация вычисляется один раз, до записи
	fileType := model.DetectFileType(mimeType, originalName)

	// 3. Запись blob. Поток ограничиваем лимитом на случай расхождения
	// с заявленным размером.
	storedName, size, err := l.blobs.Put(io.LimitReader(reader, l.maxFileSize+1), originalName)
	if err != nil {
		operationsTotal.WithLabelValues("upload", "error").Inc()
		l.logger.Error("Ошибка записи файла на диск",
			slog.String("filename", originalName),
			slog.String("error", err.Error()),
		)
		return nil, &OpError{
			StatusCode: 500,
			Code:       apierrors.CodeStorageError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}

	// Фактический размер мог разойтись с заявленным
	if size == 0 {
		_ = l.blobs.Delete(storedName)
		operationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, &OpError{
			StatusCode: 400,
			Code:       apierrors.CodeEmptyFile,
			Message:    "Файл пуст",
		}
	}
	if size > l.maxFileSize {
		_ = l.blobs.Delete(storedName)
		operationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, &OpError{
			StatusCode: 413,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла превышает максимум %d байт", l.maxFileSize),
		}
	}

	// 4. Вставка метаданных; при сбое — компенсация (удаление blob)
	rec := &model.FileRecord{
		OriginalName:  originalName,
		StoredName:    storedName,
		MimeType:      mimeType,
		FileType:      fileType,
		Size:          size,
		UploadDate:    time.Now().UTC(),
		Starred:       false,
		DownloadCount: 0,
	}

	id, err := l.store.Insert(ctx, rec)
	if err != nil {
		if delErr := l.blobs.Delete(storedName); delErr != nil {
			l.logger.Error("Компенсация не удалась: blob остался на диске",
				slog.String("stored_name", storedName),
				slog.String("error", delErr.Error()),
			)
		}
		operationsTotal.WithLabelValues("upload", "error").Inc()
		l.logger.Error("Ошибка вставки метаданных, blob удалён",
			slog.String("filename", originalName),
			slog.String("error", err.Error()),
		)
		return nil, l.classifyStoreError(err)
	}
	rec.ID = id

	// 5. Внеочередная очистка orphan-файлов, не блокируя вызывающего
	if l.cleanup != nil {
		l.cleanup.Trigger()
	}

	// 6. Уведомление
	l.hub.Broadcast(notify.NewFileEvent(notify.EventFileUploaded, rec))

	operationsTotal.WithLabelValues("upload", "success").Inc()
	l.logger.Info("Файл загружен",
		slog.String("id", id.Hex()),
		slog.String("filename", originalName),
		slog.String("stored_name", storedName),
		slog.Int64("size", size),
		slog.String("file_type", string(fileType)),
	)

	return rec, nil
}

// Download открывает файл для отдачи клиенту и увеличивает счётчик
// скачиваний. Возвращает открытый файл (закрывает вызывающий код)
// и запись метаданных.
//
// Запись без blob на диске — отдельное состояние "missing blob":
// возвращается NotFound, метаданные не удаляются и счётчик не растёт.
func (l *Lifecycle) Download(ctx context.Context, id primitive.ObjectID) (*os.File, *model.FileRecord, *OpError) {
	rec, err := l.store.FindByID(ctx, id)
	if err != nil {
		operationsTotal.WithLabelValues("download", "error").Inc()
		return nil, nil, l.classifyStoreError(err)
	}

	f, err := l.blobs.Open(rec.StoredName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			// Метаданные есть, blob отсутствует: не лечим автоматически,
			// оставляем след для оператора
			operationsTotal.WithLabelValues("download", "missing_blob").Inc()
			l.logger.Error("Запись без blob на диске",
				slog.String("id", id.Hex()),
				slog.String("stored_name", rec.StoredName),
			)
			return nil, nil, &OpError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    "Файл отсутствует на диске",
			}
		}
		operationsTotal.WithLabelValues("download", "error").Inc()
		return nil, nil, &OpError{
			StatusCode: 500,
			Code:       apierrors.CodeStorageError,
			Message:    "Ошибка чтения файла",
		}
	}

	if err := l.store.IncDownloadCount(ctx, id); err != nil {
		f.Close()
		operationsTotal.WithLabelValues("download", "error").Inc()
		return nil, nil, l.classifyStoreError(err)
	}
	rec.DownloadCount++

	l.hub.Broadcast(notify.NewDownloadEvent(rec.ID, rec.OriginalName))

	operationsTotal.WithLabelValues("download", "success").Inc()
	l.logger.Debug("Файл скачан",
		slog.String("id", id.Hex()),
		slog.String("filename", rec.OriginalName),
		slog.Int64("download_count", rec.DownloadCount),
	)

	return f, rec, nil
}

// Delete удаляет файл: blob (идемпотентно) и запись метаданных.
// Операция не атомарна между двумя хранилищами: сбой после удаления
// blob оставляет запись, которая проявится как "missing blob" при
// следующем скачивании.
func (l *Lifecycle) Delete(ctx context.Context, id primitive.ObjectID) (*model.FileRecord, *OpError) {
	rec, err := l.store.FindByID(ctx, id)
	if err != nil {
		operationsTotal.WithLabelValues("delete", "error").Inc()
		return nil, l.classifyStoreError(err)
	}

	// Удаление blob идемпотентно: уже отсутствующий файл не ошибка
	if err := l.blobs.Delete(rec.StoredName); err != nil {
		operationsTotal.WithLabelValues("delete", "error").Inc()
		l.logger.Error("Ошибка удаления blob",
			slog.String("id", id.Hex()),
			slog.String("stored_name", rec.StoredName),
			slog.String("error", err.Error()),
		)
		return nil, &OpError{
			StatusCode: 500,
			Code:       apierrors.CodeStorageError,
			Message:    "Ошибка удаления файла с диска",
		}
	}

	removed, err := l.store.Delete(ctx, id)
	if err != nil {
		operationsTotal.WithLabelValues("delete", "error").Inc()
		return nil, l.classifyStoreError(err)
	}
	if !removed {
		// Параллельное удаление успело раньше: принятый исход
		operationsTotal.WithLabelValues("delete", "not_found").Inc()
		return nil, &OpError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Файл %s не найден", id.Hex()),
		}
	}

	l.hub.Broadcast(notify.NewFileEvent(notify.EventFileDeleted, rec))

	operationsTotal.WithLabelValues("delete", "success").Inc()
	l.logger.Info("Файл удалён",
		slog.String("id", id.Hex()),
		slog.String("filename", rec.OriginalName),
	)

	return rec, nil
}

// ToggleStar переключает флаг избранного и возвращает обновлённую запись.
func (l *Lifecycle) ToggleStar(ctx context.Context, id primitive.ObjectID) (*model.FileRecord, *OpError) {
	rec, err := l.store.FindByID(ctx, id)
	if err != nil {
		operationsTotal.WithLabelValues("star", "error").Inc()
		return nil, l.classifyStoreError(err)
	}

	if err := l.store.SetStarred(ctx, id, !rec.Starred); err != nil {
		operationsTotal.WithLabelValues("star", "error").Inc()
		return nil, l.classifyStoreError(err)
	}

	// Перечитываем запись, чтобы разослать актуальное состояние
	updated, err := l.store.FindByID(ctx, id)
	if err != nil {
		operationsTotal.WithLabelValues("star", "error").Inc()
		return nil, l.classifyStoreError(err)
	}

	l.hub.Broadcast(notify.NewFileEvent(notify.EventFileUpdated, updated))

	operationsTotal.WithLabelValues("star", "success").Inc()
	l.logger.Info("Флаг избранного переключён",
		slog.String("id", id.Hex()),
		slog.Bool("starred", updated.Starred),
	)

	return updated, nil
}

// classifyStoreError преобразует ошибку хранилища метаданных в OpError.
// Отсутствие записи — 404; всё остальное считается недоступностью
// базы и возвращается как 503 без повторных попыток.
func (l *Lifecycle) classifyStoreError(err error) *OpError {
	if errors.Is(err, metastore.ErrNotFound) {
		return &OpError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    "Файл не найден",
		}
	}
	return &OpError{
		StatusCode: 503,
		Code:       apierrors.CodeDatabaseUnavailable,
		Message:    "Хранилище метаданных недоступно",
	}
}
