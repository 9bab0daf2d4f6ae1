// Пакет metastore — хранилище метаданных файлов в MongoDB.
// CRUD над документами коллекции files, вторичный поиск по имени
// на диске, сортированный листинг и агрегированная статистика.
//
// Идентификаторы документов — ObjectID, присваиваются хранилищем
// при вставке; код не полагается на их последовательность или
// внутреннюю структуру.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/datanestling/backend/internal/domain/model"
)

// ErrNotFound — запись с указанным идентификатором отсутствует.
// Отличается от ошибок недоступности базы: отсутствие документа —
// нормальный исход, обрыв соединения — нет.
var ErrNotFound = errors.New("запись не найдена")

// connectTimeout — таймаут выбора сервера и первичного ping.
const connectTimeout = 10 * time.Second

// Store — хранилище метаданных поверх коллекции MongoDB.
// Создаётся один раз при старте процесса и передаётся в сервисы
// явно, без глобального состояния.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// Connect подключается к MongoDB, проверяет соединение ping-ом
// и возвращает Store над коллекцией files базы dbName.
func Connect(ctx context.Context, uri, dbName string, logger *slog.Logger) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(connectTimeout).
		SetConnectTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("MongoDB недоступна: %w", err)
	}

	return &Store{
		client: client,
		coll:   client.Database(dbName).Collection("files"),
		logger: logger.With(slog.String("component", "metastore")),
	}, nil
}

// Close разрывает соединение с MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping проверяет доступность базы. Используется health endpoint-ом.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// EnsureIndexes создаёт индексы, поддерживающие листинг и статистику:
// upload_date (сортировка списка), starred и file_type (агрегации).
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "upload_date", Value: -1}}},
		{Keys: bson.D{{Key: "starred", Value: 1}}},
		{Keys: bson.D{{Key: "file_type", Value: 1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("ошибка создания индексов: %w", err)
	}
	return nil
}

// Insert сохраняет новую запись и возвращает присвоенный идентификатор.
func (s *Store) Insert(ctx context.Context, rec *model.FileRecord) (primitive.ObjectID, error) {
	res, err := s.coll.InsertOne(ctx, rec)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("ошибка вставки записи: %w", err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("неожиданный тип идентификатора: %T", res.InsertedID)
	}
	return id, nil
}

// FindByID возвращает запись по идентификатору.
// Возвращает ErrNotFound, если документ отсутствует.
func (s *Store) FindByID(ctx context.Context, id primitive.ObjectID) (*model.FileRecord, error) {
	var rec model.FileRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
		}
		return nil, fmt.Errorf("ошибка поиска записи %s: %w", id.Hex(), err)
	}
	return &rec, nil
}

// FindByStoredName возвращает запись по имени файла на диске.
// Используется сверкой blob-хранилища с метаданными.
func (s *Store) FindByStoredName(ctx context.Context, storedName string) (*model.FileRecord, error) {
	var rec model.FileRecord
	err := s.coll.FindOne(ctx, bson.M{"filename": storedName}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storedName)
		}
		return nil, fmt.Errorf("ошибка поиска по имени %s: %w", storedName, err)
	}
	return &rec, nil
}

// ListAll возвращает все записи, отсортированные по дате загрузки
// (новые первые).
func (s *Store) ListAll(ctx context.Context) ([]*model.FileRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "upload_date", Value: -1}})
	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]*model.FileRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("ошибка чтения списка записей: %w", err)
	}
	return records, nil
}

// SetStarred выставляет флаг starred у записи.
// Возвращает ErrNotFound, если запись отсутствует.
func (s *Store) SetStarred(ctx context.Context, id primitive.ObjectID, starred bool) error {
	return s.updateFields(ctx, id, bson.M{"$set": bson.M{"starred": starred}})
}

// IncDownloadCount атомарно увеличивает счётчик скачиваний на 1.
func (s *Store) IncDownloadCount(ctx context.Context, id primitive.ObjectID) error {
	return s.updateFields(ctx, id, bson.M{"$inc": bson.M{"download_count": 1}})
}

// updateFields применяет частичное обновление к документу.
// Обновление одного документа атомарно на уровне хранилища,
// поэтому in-process блокировки не требуются.
func (s *Store) updateFields(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("ошибка обновления записи %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	return nil
}

// Delete удаляет запись. Возвращает true, если документ был удалён.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("ошибка удаления записи %s: %w", id.Hex(), err)
	}
	return res.DeletedCount > 0, nil
}

// Count возвращает общее количество записей.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return n, nil
}

// Aggregate собирает статистику по всем записям одним проходом:
// общий счётчик, суммарный размер, количество избранных, суммарные
// скачивания и распределение по file_type.
func (s *Store) Aggregate(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{FileTypes: make(map[string]int64)}

	// Общие агрегаты одним $group
	totalsPipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.M{
			"_id":             nil,
			"total_files":     bson.M{"$sum": 1},
			"total_size":      bson.M{"$sum": "$size"},
			"starred_count":   bson.M{"$sum": bson.M{"$cond": bson.A{"$starred", 1, 0}}},
			"total_downloads": bson.M{"$sum": "$download_count"},
		}}},
	}

	cursor, err := s.coll.Aggregate(ctx, totalsPipeline)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации статистики: %w", err)
	}

	var totals []struct {
		TotalFiles     int64 `bson:"total_files"`
		TotalSize      int64 `bson:"total_size"`
		StarredCount   int64 `bson:"starred_count"`
		TotalDownloads int64 `bson:"total_downloads"`
	}
	if err := cursor.All(ctx, &totals); err != nil {
		return nil, fmt.Errorf("ошибка чтения агрегатов: %w", err)
	}
	if len(totals) > 0 {
		stats.TotalFiles = totals[0].TotalFiles
		stats.TotalSize = totals[0].TotalSize
		stats.StarredCount = totals[0].StarredCount
		stats.TotalDownloads = totals[0].TotalDownloads
	}

	// Распределение по типам файлов
	typesPipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   "$file_type",
			"count": bson.M{"$sum": 1},
		}}},
	}

	typeCursor, err := s.coll.Aggregate(ctx, typesPipeline)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации по типам: %w", err)
	}

	var byType []struct {
		Type  string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := typeCursor.All(ctx, &byType); err != nil {
		return nil, fmt.Errorf("ошибка чтения агрегатов по типам: %w", err)
	}
	for _, t := range byType {
		stats.FileTypes[t.Type] = t.Count
	}

	return stats, nil
}
