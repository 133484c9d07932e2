// retry.go — фоновая служба повторной постановки проверок.
//
// Sweep периодически выбирает записи в статусе FAILURE_RETRIABLE,
// переводит их в RETRYING и возвращает задания в очередь. Сбой одного
// файла не прерывает обработку остальных.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/fileprocessing/internal/domain/scan"
	"github.com/arturkryukov/fileprocessing/internal/queue"
	"github.com/arturkryukov/fileprocessing/internal/repository"
	"github.com/arturkryukov/fileprocessing/internal/storage/contentstore"
)

// Prometheus метрики retry sweep
var (
	retryRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_retry_runs_total",
		Help: "Общее количество запусков retry sweep",
	})

	retryRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_retry_requeued_total",
		Help: "Общее количество заданий, возвращённых в очередь",
	})

	retryErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_retry_errors_total",
		Help: "Общее количество ошибок retry sweep",
	})

	retryDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fp_retry_duration_seconds",
		Help:    "Длительность выполнения retry sweep в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// RetryResult — результат одного запуска sweep.
type RetryResult struct {
	// Requeued — количество заданий, возвращённых в очередь
	Requeued int
	// Errors — количество файлов, оставшихся в FAILURE_RETRIABLE
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// RetrySweeper — фоновая служба повторной постановки проверок.
type RetrySweeper struct {
	repo      repository.FileRepository
	store     *contentstore.Store
	publisher queue.Publisher
	pageSize  int
	interval  time.Duration
	logger    *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewRetrySweeper создаёт службу повторной постановки.
func NewRetrySweeper(
	repo repository.FileRepository,
	store *contentstore.Store,
	publisher queue.Publisher,
	pageSize int,
	interval time.Duration,
	logger *slog.Logger,
) *RetrySweeper {
	return &RetrySweeper{
		repo:      repo,
		store:     store,
		publisher: publisher,
		pageSize:  pageSize,
		interval:  interval,
		logger:    logger.With(slog.String("component", "retry-sweep")),
	}
}

// Start запускает фоновую горутину sweep с периодическим тикером.
func (rs *RetrySweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(sweepCtx)

	rs.logger.Info("retry sweep запущен",
		slog.String("interval", rs.interval.String()),
		slog.Int("page_size", rs.pageSize),
	)
}

// Stop останавливает фоновый процесс.
func (rs *RetrySweeper) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("retry sweep остановлен")
}

// run — основной цикл фоновой горутины.
func (rs *RetrySweeper) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход sweep: постранично выбирает
// FAILURE_RETRIABLE записи и возвращает их в очередь.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (rs *RetrySweeper) RunOnce(ctx context.Context) *RetryResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	start := time.Now()
	result := &RetryResult{}

	// Успешно переведённые записи покидают FAILURE_RETRIABLE, поэтому
	// страница всегда читается со смещения, равного числу оставшихся
	// в статусе после сбоев.
	offset := 0
	for {
		page, err := rs.repo.ListByScanStatus(ctx, scan.StatusFailureRetriable, rs.pageSize, offset)
		if err != nil {
			rs.logger.Error("выборка записей для повтора", slog.String("error", err.Error()))
			retryErrorsTotal.Inc()
			break
		}
		if len(page) == 0 {
			break
		}

		for _, record := range page {
			if err := rs.requeue(ctx, record.FileStorageName); err != nil {
				rs.logger.Warn("повторная постановка не удалась",
					slog.String("storage_name", record.FileStorageName),
					slog.String("error", err.Error()),
				)
				result.Errors++
				offset++
				continue
			}
			result.Requeued++
		}

		if len(page) < rs.pageSize {
			break
		}
	}

	result.Duration = time.Since(start)

	retryRunsTotal.Inc()
	retryRequeuedTotal.Add(float64(result.Requeued))
	retryErrorsTotal.Add(float64(result.Errors))
	retryDurationSeconds.Observe(result.Duration.Seconds())

	if result.Requeued > 0 || result.Errors > 0 {
		rs.logger.Info("retry sweep завершён",
			slog.Int("requeued", result.Requeued),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}

// requeue переводит запись в RETRYING и возвращает задание в очередь.
// При сбое публикации статус откатывается в FAILURE_RETRIABLE.
func (rs *RetrySweeper) requeue(ctx context.Context, storageName string) error {
	fullPath, err := rs.store.Resolve(storageName)
	if err != nil {
		return err
	}

	if err := rs.repo.SetScanStatus(ctx, storageName, scan.StatusRetrying); err != nil {
		return err
	}

	if err := rs.publisher.Publish(ctx, fullPath); err != nil {
		// Откат: запись остаётся повторяемой для следующего прохода
		if revertErr := rs.repo.SetScanStatus(ctx, storageName, scan.StatusFailureRetriable); revertErr != nil {
			rs.logger.Error("откат статуса после сбоя публикации",
				slog.String("storage_name", storageName),
				slog.String("error", revertErr.Error()),
			)
		}
		return err
	}

	return nil
}
