package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	apierrors "github.com/datanestling/backend/internal/api/errors"
	"github.com/datanestling/backend/internal/domain/model"
	"github.com/datanestling/backend/internal/notify"
	"github.com/datanestling/backend/internal/storage/blobstore"
	"github.com/datanestling/backend/internal/storage/metastore"
)

// --- Тестовые двойники ---

// fakeStore — in-memory реализация MetadataStore.
// Ошибки инъецируются через поля insertErr / findErr / updateErr.
type fakeStore struct {
	mu        sync.Mutex
	recs      map[primitive.ObjectID]*model.FileRecord
	insertErr error
	findErr   error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[primitive.ObjectID]*model.FileRecord)}
}

func (s *fakeStore) Insert(_ context.Context, rec *model.FileRecord) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return primitive.NilObjectID, s.insertErr
	}
	id := primitive.NewObjectID()
	cp := *rec
	cp.ID = id
	s.recs[id] = &cp
	return id, nil
}

func (s *fakeStore) FindByID(_ context.Context, id primitive.ObjectID) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	rec, ok := s.recs[id]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) FindByStoredName(_ context.Context, storedName string) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, rec := range s.recs {
		if rec.StoredName == storedName {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, metastore.ErrNotFound
}

func (s *fakeStore) ListAll(_ context.Context) ([]*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	out := make([]*model.FileRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadDate.After(out[j].UploadDate)
	})
	return out, nil
}

func (s *fakeStore) SetStarred(_ context.Context, id primitive.ObjectID, starred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	rec, ok := s.recs[id]
	if !ok {
		return metastore.ErrNotFound
	}
	rec.Starred = starred
	return nil
}

func (s *fakeStore) IncDownloadCount(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	rec, ok := s.recs[id]
	if !ok {
		return metastore.ErrNotFound
	}
	rec.DownloadCount++
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return false, s.updateErr
	}
	if _, ok := s.recs[id]; !ok {
		return false, nil
	}
	delete(s.recs, id)
	return true, nil
}

func (s *fakeStore) Aggregate(_ context.Context) (*model.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	stats := &model.Stats{FileTypes: make(map[string]int64)}
	for _, rec := range s.recs {
		stats.TotalFiles++
		stats.TotalSize += rec.Size
		stats.TotalDownloads += rec.DownloadCount
		if rec.Starred {
			stats.StarredCount++
		}
		stats.FileTypes[string(rec.FileType)]++
	}
	return stats, nil
}

// recordingHub запоминает разосланные события в порядке рассылки.
type recordingHub struct {
	mu     sync.Mutex
	events []notify.Event
}

func (h *recordingHub) Broadcast(ev notify.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHub) types() []notify.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]notify.EventType, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Type
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

const testMaxFileSize = 1 << 20

func newTestLifecycle(t *testing.T) (*Lifecycle, *blobstore.BlobStore, *fakeStore, *recordingHub) {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}
	store := newFakeStore()
	hub := &recordingHub{}
	lc := NewLifecycle(blobs, store, hub, nil, testMaxFileSize, testLogger())
	return lc, blobs, store, hub
}

// --- Upload ---

// TestUpload проверяет успешную загрузку: blob на диске, запись
// в хранилище, событие file_uploaded.
func TestUpload(t *testing.T) {
	lc, blobs, store, hub := newTestLifecycle(t)
	content := []byte("test image bytes")

	rec, opErr := lc.Upload(context.Background(), bytes.NewReader(content), int64(len(content)), "photo.JPG", "image/jpeg")
	if opErr != nil {
		t.Fatalf("ошибка загрузки: %v", opErr)
	}

	if rec.ID.IsZero() {
		t.Error("запись должна получить идентификатор")
	}
	if rec.OriginalName != "photo.JPG" {
		t.Errorf("original_name: ожидалось photo.JPG, получено %s", rec.OriginalName)
	}
	if rec.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), rec.Size)
	}
	if rec.FileType != model.TypeImage {
		t.Errorf("file_type: ожидалось image, получено %s", rec.FileType)
	}
	if rec.Starred || rec.DownloadCount != 0 {
		t.Error("новая запись должна иметь starred=false и download_count=0")
	}
	if rec.UploadDate.IsZero() {
		t.Error("upload_date не задана")
	}

	if !blobs.Exists(rec.StoredName) {
		t.Error("blob должен существовать на диске")
	}
	if _, err := store.FindByID(context.Background(), rec.ID); err != nil {
		t.Errorf("запись должна существовать в хранилище: %v", err)
	}

	types := hub.types()
	if len(types) != 1 || types[0] != notify.EventFileUploaded {
		t.Errorf("ожидалось одно событие file_uploaded, получено %v", types)
	}
}

// TestUpload_DefaultMimeType проверяет подстановку application/octet-stream.
func TestUpload_DefaultMimeType(t *testing.T) {
	lc, _, _, _ := newTestLifecycle(t)

	rec, opErr := lc.Upload(context.Background(), bytes.NewReader([]byte("x")), 1, "raw", "")
	if opErr != nil {
		t.Fatalf("ошибка загрузки: %v", opErr)
	}
	if rec.MimeType != "application/octet-stream" {
		t.Errorf("mime_type: ожидалось application/octet-stream, получено %s", rec.MimeType)
	}
}

// TestUpload_EmptyFile проверяет отказ пустому файлу до записи на диск.
func TestUpload_EmptyFile(t *testing.T) {
	lc, blobs, _, hub := newTestLifecycle(t)

	_, opErr := lc.Upload(context.Background(), bytes.NewReader(nil), 0, "empty.txt", "text/plain")
	if opErr == nil {
		t.Fatal("ожидалась ошибка для пустого файла")
	}
	if opErr.StatusCode != 400 || opErr.Code != apierrors.CodeEmptyFile {
		t.Errorf("ожидалось 400 %s, получено %d %s", apierrors.CodeEmptyFile, opErr.StatusCode, opErr.Code)
	}

	names, _ := blobs.ListNames()
	if len(names) != 0 {
		t.Errorf("на диске не должно быть файлов: %v", names)
	}
	if len(hub.types()) != 0 {
		t.Error("событий быть не должно")
	}
}

// TestUpload_TooLarge проверяет отказ по заявленному размеру.
func TestUpload_TooLarge(t *testing.T) {
	lc, blobs, _, _ := newTestLifecycle(t)

	_, opErr := lc.Upload(context.Background(), bytes.NewReader([]byte("x")), testMaxFileSize+1, "big.bin", "application/octet-stream")
	if opErr == nil {
		t.Fatal("ожидалась ошибка для слишком большого файла")
	}
	if opErr.StatusCode != 413 || opErr.Code != apierrors.CodeFileTooLarge {
		t.Errorf("ожидалось 413 %s, получено %d %s", apierrors.CodeFileTooLarge, opErr.StatusCode, opErr.Code)
	}

	names, _ := blobs.ListNames()
	if len(names) != 0 {
		t.Errorf("на диске не должно быть файлов: %v", names)
	}
}

// TestUpload_ActualSizeExceeds проверяет отказ, когда фактический поток
// больше заявленного размера и превышает лимит. Blob не должен остаться.
func TestUpload_ActualSizeExceeds(t *testing.T) {
	lc, blobs, store, hub := newTestLifecycle(t)

	big := bytes.Repeat([]byte("a"), testMaxFileSize+10)
	_, opErr := lc.Upload(context.Background(), bytes.NewReader(big), 100, "liar.bin", "application/octet-stream")
	if opErr == nil {
		t.Fatal("ожидалась ошибка при превышении лимита фактическим размером")
	}
	if opErr.StatusCode != 413 {
		t.Errorf("ожидалось 413, получено %d", opErr.StatusCode)
	}

	names, _ := blobs.ListNames()
	if len(names) != 0 {
		t.Errorf("blob должен быть удалён: %v", names)
	}
	if len(store.recs) != 0 {
		t.Error("записей в хранилище быть не должно")
	}
	if len(hub.types()) != 0 {
		t.Error("событий быть не должно")
	}
}

// TestUpload_Compensation проверяет компенсацию: при сбое вставки
// метаданных записанный blob удаляется.
func TestUpload_Compensation(t *testing.T) {
	lc, blobs, store, hub := newTestLifecycle(t)
	store.insertErr = errors.New("соединение разорвано")

	_, opErr := lc.Upload(context.Background(), bytes.NewReader([]byte("data")), 4, "doc.pdf", "application/pdf")
	if opErr == nil {
		t.Fatal("ожидалась ошибка при сбое вставки")
	}
	if opErr.StatusCode != 503 || opErr.Code != apierrors.CodeDatabaseUnavailable {
		t.Errorf("ожидалось 503 %s, получено %d %s", apierrors.CodeDatabaseUnavailable, opErr.StatusCode, opErr.Code)
	}

	names, err := blobs.ListNames()
	if err != nil {
		t.Fatalf("ошибка перечисления: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("компенсация должна удалить blob: %v", names)
	}
	if len(hub.types()) != 0 {
		t.Error("событий быть не должно")
	}
}

// TestUpload_TriggersCleanup проверяет триггер очистки после вставки.
type fakeTrigger struct{ count int }

func (f *fakeTrigger) Trigger() { f.count++ }

func TestUpload_TriggersCleanup(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания BlobStore: %v", err)
	}
	store := newFakeStore()
	hub := &recordingHub{}
	trigger := &fakeTrigger{}
	lc := NewLifecycle(blobs, store, hub, trigger, testMaxFileSize, testLogger())

	// Успешная загрузка планирует очистку
	if _, opErr := lc.Upload(context.Background(), bytes.NewReader([]byte("x")), 1, "a.txt", "text/plain"); opErr != nil {
		t.Fatalf("ошибка загрузки: %v", opErr)
	}
	if trigger.count != 1 {
		t.Errorf("ожидался 1 триггер очистки, получено %d", trigger.count)
	}

	// Отклонённая загрузка не планирует
	if _, opErr := lc.Upload(context.Background(), bytes.NewReader(nil), 0, "b.txt", "text/plain"); opErr == nil {
		t.Fatal("ожидалась ошибка для пустого файла")
	}
	if trigger.count != 1 {
		t.Errorf("отклонённая загрузка не должна планировать очистку: %d", trigger.count)
	}
}

// --- Download ---

// TestDownload проверяет скачивание: содержимое, счётчик, событие.
func TestDownload(t *testing.T) {
	lc, _, store, hub := newTestLifecycle(t)
	content := []byte("download me")

	rec, opErr := lc.Upload(context.Background(), bytes.NewReader(content), int64(len(content)), "file.txt", "text/plain")
	if opErr != nil {
		t.Fatalf("ошибка загрузки: %v", opErr)
	}

	f, got, opErr := lc.Download(context.Background(), rec.ID)
	if opErr != nil {
		t.Fatalf("ошибка скачивания: %v", opErr)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое не совпадает с загруженным")
	}

	if got.DownloadCount != 1 {
		t.Errorf("download_count: ожидалось 1, получено %d", got.DownloadCount)
	}
	stored, _ := store.FindByID(context.Background(), rec.ID)
	if stored.DownloadCount != 1 {
		t.Errorf("счётчик в хранилище: ожидалось 1, получено %d", stored.DownloadCount)
	}

	types := hub.types()
	if len(types) != 2 || types[1] != notify.EventFileDownloaded {
		t.Errorf("ожидалось file_uploaded, file_downloaded; получено %v", types)
	}
}

// TestDownload_NotFound проверяет 404 для несуществующей записи.
func TestDownload_NotFound(t *testing.T) {
	lc, _, _, _ := newTestLifecycle(t)

	_, _, opErr := lc.Download(context.Background(), primitive.NewObjectID())
	if opErr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if opErr.StatusCode != 404 || opErr.Code != apierrors.CodeNotFound {
		t.Errorf("ожидалось 404 %s, получено %d %s", apierrors.CodeNotFound, opErr.StatusCode, opErr.Code)
	}
}

// TestDownload_MissingBlob проверяет состояние "запись без blob":
// 404, метаданные сохраняются, счётчик не растёт, событий нет.
func TestDownload_MissingBlob(t *testing.T) {
	lc, _, store, hub := newTestLifecycle(t)

	id, err := store.Insert(context.Background(), &model.FileRecord{
		OriginalName: "ghost.txt",
		StoredName:   "deadbeefdeadbeefdeadbeefdeadbeef.txt",
		MimeType:     "text/plain",
		FileType:     model.TypeDocument,
		Size:         10,
	})
	if err != nil {
		t.Fatalf("ошибка вставки: %v", err)
	}

	_, _, opErr := lc.Download(context.Background(), id)
	if opErr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if opErr.StatusCode != 404 {
		t.Errorf("ожидалось 404, получено %d", opErr.StatusCode)
	}

	rec, err := store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("метаданные не должны удаляться: %v", err)
	}
	if rec.DownloadCount != 0 {
		t.Errorf("счётчик не должен расти: %d", rec.DownloadCount)
	}
	if len(hub.types()) != 0 {
		t.Error("событий быть не должно")
	}
}

// TestDownload_StoreUnavailable проверяет 503 при недоступной базе.
func TestDownload_StoreUnavailable(t *testing.T) {
	lc, _, store, _ := newTestLifecycle(t)
	store.findErr = errors.New("таймаут соединения")

	_, _, opErr := lc.Download(context.Background(), primitive.NewObjectID())
	if opErr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if opErr.StatusCode != 503 || opErr.Code != apierrors.CodeDatabaseUnavailable {
		t.Errorf("ожидалось 503 %s, получено %d %s", apierrors.CodeDatabaseUnavailable, opErr.StatusCode, opErr.Code)
	}
}

// --- Delete ---

// TestDelete проверяет удаление blob и метаданных с событием.
func TestDelete(t *testing.T) {
	lc, blobs, store, hub := newTestLifecycle(t)

	rec, opErr := lc.Upload(context.Background(), bytes.NewReader([]byte("bye")), 3, "bye.txt", "text/plain")
	if opErr != nil {
		t.Fatalf("ошибка загрузки: %v", opErr)
	}

	deleted, opErr := lc.Delete(context.Background(), rec.ID)
	if opErr != nil {
		t.Fatalf("ошибка удаления: %v", opErr)
	}
	if deleted.ID != rec.ID {
		t.Error("возвращена не та запись")
	}

	if blobs.Exists(rec.StoredName) {
		t.Error("blob должен быть удалён")
	}
	if _, err := store.FindByID(context.Background(), rec.ID); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("запись должна быть удалена, получено: %v", err)
	}

	types := hub.types()
	if len(types) != 2 || types[1] != notify.EventFileDeleted {
		t.Errorf("ожидалось file_uploaded, file_deleted; получено %v", types)
	}

	// Повторное удаление — 404
	_, opErr = lc.Delete(context.Background(), rec.ID)
	if opErr == nil || opErr.StatusCode != 404 {
		t.Errorf("повторное удаление должно вернуть 404, получено %v", opErr)
	}
}

// TestDelete_MissingBlob проверяет, что запись без blob всё равно удаляется.
func TestDelete_MissingBlob(t *testing.T) {
	lc, _, store, hub := newTestLifecycle(t)

	id, err := store.Insert(context.Background(), &model.FileRecord{
		OriginalName: "ghost.txt",
		StoredName:   "cafebabecafebabecafebabecafebabe.txt",
	})
	if err != nil {
		t.Fatalf("ошибка вставки: %v", err)
	}

	if _, opErr := lc.Delete(context.Background(), id); opErr != nil {
		t.Fatalf("удаление записи без blob не должно быть ошибкой: %v", opErr)
	}
	if _, err := store.FindByID(context.Background(), id); !errors.Is(err, metastore.ErrNotFound) {
		t.Error("запись должна быть удалена")
	}

	types := hub.types()
	if len(types) != 1 || types[0] != notify.EventFileDeleted {
		t.Errorf("ожидалось одно событие file_deleted, получено %v", types)
	}
}

// --- ToggleStar ---

// TestToggleStar проверяет двойное переключение флага избранного.
func TestToggleStar(t *testing.T) {
	lc, _, _, hub := newTestLifecycle(t)

	rec, opErr := lc.Upload(context.Background(), bytes.NewReader([]byte("s")), 1, "star.txt", "text/plain")
	if opErr != nil {
		t.Fatalf("ошибка загрузки: %v", opErr)
	}

	updated, opErr := lc.ToggleStar(context.Background(), rec.ID)
	if opErr != nil {
		t.Fatalf("ошибка переключения: %v", opErr)
	}
	if !updated.Starred {
		t.Error("после первого переключения starred должен быть true")
	}

	updated, opErr = lc.ToggleStar(context.Background(), rec.ID)
	if opErr != nil {
		t.Fatalf("ошибка переключения: %v", opErr)
	}
	if updated.Starred {
		t.Error("после второго переключения starred должен быть false")
	}

	types := hub.types()
	expected := []notify.EventType{notify.EventFileUploaded, notify.EventFileUpdated, notify.EventFileUpdated}
	if len(types) != len(expected) {
		t.Fatalf("ожидалось %d событий, получено %v", len(expected), types)
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Errorf("событие %d: ожидалось %s, получено %s", i, expected[i], types[i])
		}
	}
}

// TestToggleStar_NotFound проверяет 404 для несуществующей записи.
func TestToggleStar_NotFound(t *testing.T) {
	lc, _, _, _ := newTestLifecycle(t)

	_, opErr := lc.ToggleStar(context.Background(), primitive.NewObjectID())
	if opErr == nil || opErr.StatusCode != 404 {
		t.Errorf("ожидалось 404, получено %v", opErr)
	}
}
