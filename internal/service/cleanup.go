// cleanup.go — сервис очистки orphan-файлов.
//
// Orphan — blob на диске без соответствующей записи в хранилище
// метаданных. Очистка сверяет перечень blob-файлов с метаданными и
// удаляет несопоставленные. Записи метаданных никогда не удаляются:
// обратный случай (запись без blob) — состояние "missing blob",
// которое проявляется при скачивании и не лечится автоматически.
//
// Запускается как горутина: периодический тикер (DN_CLEANUP_INTERVAL)
// плюс внеочередной триггер после каждой загрузки.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/datanestling/backend/internal/storage/blobstore"
	"github.com/datanestling/backend/internal/storage/metastore"
)

// Prometheus метрики очистки
var (
	// cleanupRunsTotal — количество запусков очистки.
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dn_cleanup_runs_total",
		Help: "Общее количество запусков очистки orphan-файлов",
	})

	// cleanupOrphansRemovedTotal — количество удалённых orphan-файлов.
	cleanupOrphansRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dn_cleanup_orphans_removed_total",
		Help: "Общее количество удалённых orphan-файлов",
	})

	// cleanupDurationSeconds — длительность выполнения очистки.
	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dn_cleanup_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// CleanupResult — результат одного запуска очистки.
type CleanupResult struct {
	// Checked — количество проверенных blob-файлов
	Checked int
	// Removed — количество удалённых orphan-файлов
	Removed int
	// Errors — количество ошибок при обработке отдельных файлов
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// CleanupService — фоновая очистка orphan-файлов.
type CleanupService struct {
	blobs    *blobstore.BlobStore
	store    MetadataStore
	interval time.Duration
	logger   *slog.Logger

	// triggerCh — внеочередной запуск после загрузки; буфер 1,
	// лишние триггеры во время работы схлопываются
	triggerCh chan struct{}

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewCleanupService создаёт сервис очистки.
// interval == 0 отключает периодический запуск, остаются только триггеры.
func NewCleanupService(
	blobs *blobstore.BlobStore,
	store MetadataStore,
	interval time.Duration,
	logger *slog.Logger,
) *CleanupService {
	return &CleanupService{
		blobs:     blobs,
		store:     store,
		interval:  interval,
		logger:    logger.With(slog.String("component", "cleanup")),
		triggerCh: make(chan struct{}, 1),
	}
}

// Start запускает фоновую горутину очистки.
// Вызывается один раз при старте приложения.
func (cs *CleanupService) Start(ctx context.Context) {
	csCtx, cancel := context.WithCancel(ctx)
	cs.cancel = cancel

	go cs.run(csCtx)

	cs.logger.Info("Очистка orphan-файлов запущена",
		slog.String("interval", cs.interval.String()),
	)
}

// Stop останавливает фоновый процесс очистки.
func (cs *CleanupService) Stop() {
	if cs.cancel != nil {
		cs.cancel()
	}
	cs.logger.Info("Очистка orphan-файлов остановлена")
}

// Trigger планирует внеочередной запуск очистки, не блокируя
// вызывающего. Если запуск уже запланирован, триггер поглощается.
func (cs *CleanupService) Trigger() {
	select {
	case cs.triggerCh <- struct{}{}:
	default:
	}
}

// run — основной цикл фоновой горутины.
func (cs *CleanupService) run(ctx context.Context) {
	var tick <-chan time.Time
	if cs.interval > 0 {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			cs.RunOnce(ctx)
		case <-cs.triggerCh:
			cs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход очистки.
// Потокобезопасен: параллельные вызовы сериализуются мьютексом.
//
// Ошибки удаления отдельных файлов логируются и не прерывают проход.
// Ошибка хранилища метаданных (не ErrNotFound) прерывает проход:
// при недоступной базе нельзя отличить orphan от файла идущей
// загрузки, удалять в этом состоянии нельзя.
func (cs *CleanupService) RunOnce(ctx context.Context) *CleanupResult {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	start := time.Now()
	result := &CleanupResult{}

	names, err := cs.blobs.ListNames()
	if err != nil {
		cs.logger.Error("Ошибка перечисления blob-файлов",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}
	result.Checked = len(names)

	for _, name := range names {
		_, err := cs.store.FindByStoredName(ctx, name)
		if err == nil {
			// Запись есть: blob не orphan
			continue
		}
		if !errors.Is(err, metastore.ErrNotFound) {
			cs.logger.Error("Хранилище метаданных недоступно, проход прерван",
				slog.String("error", err.Error()),
			)
			result.Errors++
			break
		}

		if err := cs.blobs.Delete(name); err != nil {
			cs.logger.Error("Ошибка удаления orphan-файла",
				slog.String("stored_name", name),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		result.Removed++
		cs.logger.Info("Orphan-файл удалён", slog.String("stored_name", name))
	}

	result.Duration = time.Since(start)

	cleanupRunsTotal.Inc()
	cleanupOrphansRemovedTotal.Add(float64(result.Removed))
	cleanupDurationSeconds.Observe(result.Duration.Seconds())

	cs.logger.Debug("Очистка завершена",
		slog.Int("checked", result.Checked),
		slog.Int("removed", result.Removed),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}
