// scanworker.go — воркер асинхронной проверки файлов.
//
// Воркер получает из очереди путь к файлу, упаковывает его в zip,
// отправляет внешнему сканеру, опрашивает статус анализа и фиксирует
// вердикт в записи файла. Любой сбой проверки переводит запись в
// FAILURE_RETRIABLE — её подберёт retry sweep.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/fileprocessing/internal/domain/scan"
	"github.com/arturkryukov/fileprocessing/internal/repository"
	"github.com/arturkryukov/fileprocessing/internal/scanner"
)

// Prometheus метрики проверки
var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_scans_total",
		Help: "Общее количество проверок по исходу",
	}, []string{"outcome"}) // success, unsafe, retriable, skipped

	scanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fp_scan_duration_seconds",
		Help:    "Длительность полного цикла проверки в секундах",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

// Compressor упаковывает файлы в архив перед отправкой сканеру.
type Compressor interface {
	Compress(paths ...string) (string, error)
}

// ScanWorker выполняет проверку файлов из очереди в ограниченном
// пуле горутин.
type ScanWorker struct {
	repo       repository.FileRepository
	compressor Compressor
	client     scanner.Client

	pollInterval time.Duration
	maxWait      time.Duration

	// sem ограничивает количество параллельных проверок
	sem chan struct{}
	wg  sync.WaitGroup

	// now и sleep подменяются в тестах
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	logger *slog.Logger
}

// ScanWorkerConfig — параметры воркера проверки.
type ScanWorkerConfig struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	Workers      int
}

// NewScanWorker создаёт воркер проверки.
func NewScanWorker(
	repo repository.FileRepository,
	compressor Compressor,
	client scanner.Client,
	cfg ScanWorkerConfig,
	logger *slog.Logger,
) *ScanWorker {
	return &ScanWorker{
		repo:         repo,
		compressor:   compressor,
		client:       client,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
		sem:          make(chan struct{}, cfg.Workers),
		now:          time.Now,
		sleep:        sleepCtx,
		logger:       logger.With(slog.String("component", "scan-worker")),
	}
}

// Handle — обработчик задания очереди. Блокируется, пока в пуле нет
// свободного слота, затем выполняет проверку в отдельной горутине,
// позволяя consumer'у читать следующие задания.
func (w *ScanWorker) Handle(ctx context.Context, filePath string) {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.Process(ctx, filePath)
	}()
}

// Wait дожидается завершения всех выполняющихся проверок.
func (w *ScanWorker) Wait() {
	w.wg.Wait()
}

// Process выполняет полный цикл проверки одного файла.
func (w *ScanWorker) Process(ctx context.Context, filePath string) {
	start := w.now()
	name := filepath.Base(filePath)
	log := w.logger.With(slog.String("storage_name", name))

	record, err := w.repo.GetByStorageName(ctx, name)
	if err != nil {
		// Запись могла быть удалена после постановки задания
		log.Warn("файл из задания не найден в БД", slog.String("error", err.Error()))
		scansTotal.WithLabelValues("skipped").Inc()
		return
	}

	// Повторное задание для уже обработанного файла игнорируется
	if _, err := scan.Transition(record.ScanStatus, scan.StatusInProgress); err != nil {
		log.Info("проверка пропущена",
			slog.String("status", string(record.ScanStatus)),
		)
		scansTotal.WithLabelValues("skipped").Inc()
		return
	}
	if err := w.repo.SetScanStatus(ctx, name, scan.StatusInProgress); err != nil {
		log.Error("перевод в IN_PROGRESS", slog.String("error", err.Error()))
		scansTotal.WithLabelValues("skipped").Inc()
		return
	}

	verdict, err := w.scan(ctx, filePath)
	if err != nil {
		// Любой сбой проверки оставляет запись в повторяемом статусе
		log.Warn("проверка не удалась", slog.String("error", err.Error()))
		w.setStatus(ctx, log, name, scan.StatusFailureRetriable)
		scansTotal.WithLabelValues("retriable").Inc()
		return
	}

	if verdict.Safe() {
		w.setStatus(ctx, log, name, scan.StatusSuccess)
		scansTotal.WithLabelValues("success").Inc()
		log.Info("файл признан безопасным")
	} else {
		w.setStatus(ctx, log, name, scan.StatusFailureUnsafe)
		scansTotal.WithLabelValues("unsafe").Inc()
		log.Warn("файл признан небезопасным",
			slog.Int("malicious", verdict.Malicious),
			slog.Int("suspicious", verdict.Suspicious),
		)
	}

	scanDurationSeconds.Observe(w.now().Sub(start).Seconds())
}

// scan упаковывает файл, отправляет сканеру и дожидается вердикта.
func (w *ScanWorker) scan(ctx context.Context, filePath string) (scanner.Stats, error) {
	archive, err := w.compressor.Compress(filePath)
	if err != nil {
		return scanner.Stats{}, fmt.Errorf("упаковка файла: %w", err)
	}
	defer os.Remove(archive)

	info, err := os.Stat(archive)
	if err != nil {
		return scanner.Stats{}, fmt.Errorf("размер архива: %w", err)
	}

	analysisURL, err := w.client.Submit(ctx, archive, info.Size())
	if err != nil {
		return scanner.Stats{}, fmt.Errorf("отправка сканеру: %w", err)
	}

	deadline := w.now().Add(w.maxWait)
	for {
		analysis, err := w.client.GetAnalysis(ctx, analysisURL)
		if err != nil {
			return scanner.Stats{}, fmt.Errorf("опрос анализа: %w", err)
		}
		if analysis.Completed() {
			return analysis.Stats, nil
		}

		if w.now().Add(w.pollInterval).After(deadline) {
			return scanner.Stats{}, fmt.Errorf("анализ не завершился за %s", w.maxWait)
		}
		if err := w.sleep(ctx, w.pollInterval); err != nil {
			return scanner.Stats{}, fmt.Errorf("ожидание анализа: %w", err)
		}
	}
}

// setStatus обновляет статус проверки, логируя ошибку обновления.
func (w *ScanWorker) setStatus(ctx context.Context, log *slog.Logger, name string, status scan.Status) {
	if err := w.repo.SetScanStatus(ctx, name, status); err != nil {
		log.Error("обновление статуса проверки",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

// sleepCtx — сон с прерыванием по контексту.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
