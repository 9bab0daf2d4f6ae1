// Точка входа Data Nestling — сервиса загрузки и управления файлами.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/datanestling/backend/internal/api/handlers"
	"github.com/datanestling/backend/internal/config"
	"github.com/datanestling/backend/internal/notify"
	"github.com/datanestling/backend/internal/server"
	"github.com/datanestling/backend/internal/service"
	"github.com/datanestling/backend/internal/storage/blobstore"
	"github.com/datanestling/backend/internal/storage/metastore"
)

// Проверка на этапе компиляции
var _ service.MetadataStore = (*metastore.Store)(nil)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Data Nestling запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("database", cfg.DatabaseName),
		slog.String("upload_dir", cfg.UploadDir),
	)

	// --- Инициализация компонентов ---

	ctx := context.Background()

	// 1. Хранилище блобов на диске
	blobs, err := blobstore.New(cfg.UploadDir)
	if err != nil {
		logger.Error("Ошибка инициализации blob-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Хранилище метаданных
	store, err := metastore.Connect(ctx, cfg.MongoURI, cfg.DatabaseName, logger)
	if err != nil {
		logger.Error("Ошибка подключения к MongoDB", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close(ctx)

	if err := store.EnsureIndexes(ctx); err != nil {
		logger.Error("Ошибка создания индексов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Канал уведомлений
	hub := notify.NewHub(logger)

	// 4. Фоновая очистка orphan-файлов
	cleanupSvc := service.NewCleanupService(blobs, store, cfg.CleanupInterval, logger)
	cleanupSvc.Start(ctx)

	// Стартовая сверка: убираем orphan-файлы, накопившиеся
	// между перезапусками
	cleanupSvc.Trigger()

	// 5. Менеджер жизненного цикла файлов
	lifecycle := service.NewLifecycle(blobs, store, hub, cleanupSvc, cfg.MaxFileSize, logger)

	// 6. Handlers
	h := server.Handlers{
		Files:  handlers.NewFilesHandler(lifecycle, store),
		Stats:  handlers.NewStatsHandler(store, hub),
		Health: handlers.NewHealthHandler(store, hub, cfg.UploadDir),
		WS:     handlers.NewWSHandler(hub, logger),
	}

	// 7. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	cleanupSvc.Stop()

	logger.Info("Data Nestling остановлен")
}
