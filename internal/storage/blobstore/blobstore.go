// Пакет blobstore — операции с физическими файлами на диске.
// Хранит содержимое загруженных файлов под сгенерированными уникальными
// именами, независимыми от пользовательских имён. Обеспечивает
// атомарную запись, чтение, идемпотентное удаление и перечисление
// ключей для сверки с хранилищем метаданных.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound — файл с указанным именем отсутствует на диске.
var ErrNotFound = errors.New("файл не найден в blob-хранилище")

// BlobStore — управление физическими файлами в директории загрузок.
type BlobStore struct {
	// dir — корневая директория хранения файлов (DN_UPLOAD_DIR)
	dir string
}

// New создаёт новый BlobStore. Создаёт директорию, если она не существует.
func New(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", dir, err)
	}
	return &BlobStore{dir: dir}, nil
}

// Put записывает данные из reader на диск под сгенерированным именем.
// Имя: uuid-hex с сохранением расширения оригинального имени.
// Возвращает сгенерированное имя и количество записанных байт.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При любой ошибке temp файл удаляется: под итоговым именем
// не остаётся частично записанных данных.
func (bs *BlobStore) Put(reader io.Reader, originalName string) (string, int64, error) {
	storedName := generateStoredName(originalName)
	fullPath := filepath.Join(bs.dir, storedName)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename: файл становится видимым целиком или никак
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return storedName, size, nil
}

// Open открывает файл для чтения и возвращает *os.File.
// Вызывающий код обязан закрыть файл.
// Возвращает ErrNotFound, если файл отсутствует.
func (bs *BlobStore) Open(storedName string) (*os.File, error) {
	f, err := os.Open(filepath.Join(bs.dir, storedName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storedName)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storedName, err)
	}
	return f, nil
}

// Delete удаляет файл с диска. Идемпотентно:
// отсутствие файла не является ошибкой.
func (bs *BlobStore) Delete(storedName string) error {
	err := os.Remove(filepath.Join(bs.dir, storedName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storedName, err)
	}
	return nil
}

// Exists проверяет существование файла на диске.
func (bs *BlobStore) Exists(storedName string) bool {
	_, err := os.Stat(filepath.Join(bs.dir, storedName))
	return err == nil
}

// ListNames возвращает имена всех файлов в хранилище.
// Служебные файлы (dotfiles) и незавершённые записи (*.tmp) пропускаются.
// Используется для сверки с хранилищем метаданных.
func (bs *BlobStore) ListNames() ([]string, error) {
	entries, err := os.ReadDir(bs.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", bs.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (bs *BlobStore) FullPath(storedName string) string {
	return filepath.Join(bs.dir, storedName)
}

// Dir возвращает путь к директории загрузок.
func (bs *BlobStore) Dir() string {
	return bs.dir
}

// generateStoredName генерирует имя файла для хранения на диске.
// Формат: {uuid-hex}{.ext}. Имя не зависит от пользовательского ввода,
// сохраняется только расширение (в нижнем регистре).
// Пример: 3f2a1b4c5d6e7f8091a2b3c4d5e6f708.jpg
func generateStoredName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "") + ext
}
