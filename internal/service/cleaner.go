// cleaner.go — фоновая очистка осиротевших файлов хранилища.
//
// Осиротевший файл — файл на диске без записи в БД: остаток
// прерванной загрузки, у которой запись была откачена, либо удалённой
// записи, чей файл не удалось стереть. Cleaner удаляет такие файлы,
// выдержав минимальный возраст, чтобы не затронуть загрузку,
// выполняющуюся прямо сейчас.
package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/fileprocessing/internal/repository"
	"github.com/arturkryukov/fileprocessing/internal/storage/contentstore"
)

// Prometheus метрики cleaner'а
var (
	cleanerRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_cleaner_runs_total",
		Help: "Общее количество запусков cleaner'а",
	})

	cleanerRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_cleaner_removed_total",
		Help: "Общее количество удалённых осиротевших файлов",
	})
)

// CleanerResult — результат одного запуска cleaner'а.
type CleanerResult struct {
	// Removed — количество удалённых файлов
	Removed int
	// Errors — количество ошибок при обработке
	Errors int
}

// Cleaner — фоновая служба удаления осиротевших файлов.
type Cleaner struct {
	repo       repository.FileRepository
	store      *contentstore.Store
	scratchDir string
	minAge     time.Duration
	interval   time.Duration
	logger     *slog.Logger

	// now подменяется в тестах
	now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCleaner создаёт cleaner с заданным минимальным возрастом файлов.
// scratchDir — директория временных архивов; в ней возраст решает всё,
// так как архивы в БД не регистрируются.
func NewCleaner(
	repo repository.FileRepository,
	store *contentstore.Store,
	scratchDir string,
	minAge time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *Cleaner {
	return &Cleaner{
		repo:       repo,
		store:      store,
		scratchDir: scratchDir,
		minAge:     minAge,
		interval:   interval,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "cleaner")),
	}
}

// Start запускает фоновую горутину cleaner'а.
func (c *Cleaner) Start(ctx context.Context) {
	cleanCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(cleanCtx)

	c.logger.Info("cleaner запущен",
		slog.String("interval", c.interval.String()),
		slog.String("min_age", c.minAge.String()),
	)
}

// Stop останавливает фоновый процесс.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("cleaner остановлен")
}

func (c *Cleaner) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход: обходит корень хранилища и удаляет
// достаточно старые файлы без записи в БД, затем чистит scratch-директорию
// от достаточно старых архивов.
func (c *Cleaner) RunOnce(ctx context.Context) *CleanerResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &CleanerResult{}
	cutoff := c.now().Add(-c.minAge)

	c.sweepStorage(ctx, cutoff, result)
	c.sweepScratch(cutoff, result)

	cleanerRunsTotal.Inc()
	cleanerRemovedTotal.Add(float64(result.Removed))

	return result
}

// sweepStorage удаляет из корня хранилища старые файлы без записи в БД.
func (c *Cleaner) sweepStorage(ctx context.Context, cutoff time.Time, result *CleanerResult) {
	entries, err := os.ReadDir(c.store.Root())
	if err != nil {
		// Корень создаётся лениво при первой загрузке
		if os.IsNotExist(err) {
			return
		}
		c.logger.Error("чтение корня хранилища", slog.String("error", err.Error()))
		result.Errors++
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			result.Errors++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		exists, err := c.repo.ExistsByStorageName(ctx, entry.Name())
		if err != nil {
			c.logger.Error("проверка записи файла",
				slog.String("storage_name", entry.Name()),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if exists {
			continue
		}

		if err := os.Remove(filepath.Join(c.store.Root(), entry.Name())); err != nil {
			c.logger.Error("удаление осиротевшего файла",
				slog.String("storage_name", entry.Name()),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		result.Removed++
		c.logger.Info("осиротевший файл удалён", slog.String("storage_name", entry.Name()))
	}
}

// sweepScratch удаляет старые временные архивы из scratch-директории.
func (c *Cleaner) sweepScratch(cutoff time.Time, result *CleanerResult) {
	if c.scratchDir == "" {
		return
	}

	entries, err := os.ReadDir(c.scratchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		c.logger.Error("чтение scratch-директории", slog.String("error", err.Error()))
		result.Errors++
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			result.Errors++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(c.scratchDir, entry.Name())); err != nil {
			c.logger.Error("удаление старого архива",
				slog.String("name", entry.Name()),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		result.Removed++
		c.logger.Info("старый архив удалён", slog.String("name", entry.Name()))
	}
}
