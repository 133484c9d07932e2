// Пакет service — бизнес-логика File Processing Service.
// upload.go — приём файлов: дедупликация по контрольной сумме,
// сохранение на диск, регистрация в БД и постановка в очередь на проверку.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/fileprocessing/internal/checksum"
	"github.com/arturkryukov/fileprocessing/internal/domain/model"
	"github.com/arturkryukov/fileprocessing/internal/domain/scan"
	"github.com/arturkryukov/fileprocessing/internal/queue"
	"github.com/arturkryukov/fileprocessing/internal/repository"
	"github.com/arturkryukov/fileprocessing/internal/storage/contentstore"
)

// Prometheus метрики загрузки
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fp_uploads_total",
		Help: "Общее количество загрузок по исходу",
	}, []string{"outcome"}) // stored, deduplicated, rejected, error

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_upload_bytes_total",
		Help: "Общий объём принятых байт",
	})

	uploadDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fp_upload_duration_seconds",
		Help:    "Длительность обработки загрузки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// Ошибки валидации загрузки, транслируются API-слоем в HTTP-коды.
var (
	// ErrFileTooSmall — файл пуст либо размер меньше одного байта.
	ErrFileTooSmall = errors.New("размер файла меньше допустимого")
	// ErrUnsupportedContentType — MIME-тип не входит в allow-list.
	ErrUnsupportedContentType = errors.New("недопустимый тип содержимого")
)

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// Size — заявленный размер файла из multipart-заголовка
	Size int64
	// OriginalFilename — оригинальное имя файла (может быть пустым)
	OriginalFilename string
	// ContentType — MIME-тип файла
	ContentType string
	// OwnerID — идентификатор владельца (sub из JWT)
	OwnerID string
	// Visibility — видимость файла
	Visibility model.Visibility
}

// UploadResult — результат загрузки.
type UploadResult struct {
	// Record — запись файла: новая либо существующая при дедупликации
	Record *model.FileRecord
	// Deduplicated — true, если файл с такой контрольной суммой уже был
	Deduplicated bool
}

// UploadService — сервис приёма файлов.
type UploadService struct {
	repo      repository.FileRepository
	store     *contentstore.Store
	computer  *checksum.Computer
	publisher queue.Publisher
	// typeAllowed проверяет content-type по allow-list конфигурации
	typeAllowed func(string) bool
	logger      *slog.Logger
}

// NewUploadService создаёт сервис загрузки.
func NewUploadService(
	repo repository.FileRepository,
	store *contentstore.Store,
	computer *checksum.Computer,
	publisher queue.Publisher,
	typeAllowed func(string) bool,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		repo:        repo,
		store:       store,
		computer:    computer,
		publisher:   publisher,
		typeAllowed: typeAllowed,
		logger:      logger.With(slog.String("component", "upload")),
	}
}

// Upload принимает файл.
//
// Порядок обработки:
//  1. Заявленный размер меньше байта — отказ до чтения потока
//  2. Спул потока во временный файл с одновременным вычислением
//     контрольной суммы
//  3. Дедупликация: при совпадении контрольной суммы возвращается
//     существующая запись без изменений
//  4. Валидация content-type по allow-list (только для нового содержимого)
//  5. Регистрация записи со статусом NOT_STARTED
//  6. Запись файла в хранилище; при сбое запись в БД откатывается
//  7. Постановка задания на проверку в очередь (best-effort)
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, error) {
	start := time.Now()
	defer func() {
		uploadDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if params.Size < 1 {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrFileTooSmall
	}

	// Контрольная сумма нужна до выбора имени в хранилище,
	// поэтому поток сначала спулится во временный файл.
	tmp, err := os.CreateTemp("", "fp-upload-*")
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("создание временного файла: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	sum, err := s.computer.Sum(io.TeeReader(params.Reader, tmp))
	if err != nil {
		tmp.Close()
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("чтение потока загрузки: %w", err)
	}
	if err := tmp.Close(); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("запись временного файла: %w", err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("получение размера загрузки: %w", err)
	}
	size := info.Size()
	if size < 1 {
		// Заявленный размер разошёлся с фактически пустым потоком
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrFileTooSmall
	}

	// Дедупликация: существующая запись возвращается как есть,
	// её статус проверки и владелец не меняются.
	existing, err := s.repo.GetByChecksum(ctx, sum)
	if err == nil {
		uploadsTotal.WithLabelValues("deduplicated").Inc()
		s.logger.Info("дубликат файла",
			slog.String("checksum", sum),
			slog.String("uuid", existing.UUID),
		)
		return &UploadResult{Record: existing, Deduplicated: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("поиск дубликата: %w", err)
	}

	// Allow-list применяется только к новому содержимому: дубликат
	// уже хранимого файла возвращается независимо от заявленного типа
	if !s.typeAllowed(params.ContentType) {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, params.ContentType)
	}

	record := &model.FileRecord{
		UUID:             uuid.New().String(),
		Checksum:         sum,
		OriginalFilename: params.OriginalFilename,
		FileStorageName:  storageName(sum, params.OriginalFilename),
		Size:             size,
		ContentType:      params.ContentType,
		ScanStatus:       scan.StatusNotStarted,
		Visibility:       params.Visibility,
		OwnerID:          params.OwnerID,
		UploadedAt:       time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, record); err != nil {
		// Конкурентная загрузка того же содержимого: запись уже
		// создана другим запросом, возвращаем её.
		if errors.Is(err, repository.ErrConflict) {
			if existing, getErr := s.repo.GetByChecksum(ctx, sum); getErr == nil {
				uploadsTotal.WithLabelValues("deduplicated").Inc()
				return &UploadResult{Record: existing, Deduplicated: true}, nil
			}
		}
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("регистрация файла: %w", err)
	}

	src, err := os.Open(tmpPath)
	if err != nil {
		s.compensate(ctx, record)
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("чтение временного файла: %w", err)
	}
	fullPath, _, err := s.store.Put(record.FileStorageName, src)
	src.Close()
	if err != nil {
		s.compensate(ctx, record)
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("сохранение файла: %w", err)
	}

	// Постановка в очередь best-effort: при сбое файл остаётся
	// в NOT_STARTED и виден оператору по статусу.
	if err := s.publisher.Publish(ctx, fullPath); err != nil {
		s.logger.Warn("не удалось поставить задание на проверку",
			slog.String("uuid", record.UUID),
			slog.String("error", err.Error()),
		)
	}

	uploadsTotal.WithLabelValues("stored").Inc()
	uploadBytesTotal.Add(float64(size))
	s.logger.Info("файл принят",
		slog.String("uuid", record.UUID),
		slog.String("storage_name", record.FileStorageName),
		slog.Int64("size", size),
	)

	return &UploadResult{Record: record}, nil
}

// compensate удаляет запись из БД после сбоя записи файла на диск.
func (s *UploadService) compensate(ctx context.Context, record *model.FileRecord) {
	if err := s.repo.Delete(ctx, record.UUID); err != nil {
		s.logger.Error("откат записи после сбоя сохранения",
			slog.String("uuid", record.UUID),
			slog.String("error", err.Error()),
		)
	}
}

// storageName формирует имя файла в хранилище: контрольная сумма плюс
// оригинальное имя, либо одна контрольная сумма, если имени нет.
func storageName(sum, originalName string) string {
	if originalName == "" {
		return sum
	}
	return sum + "-" + originalName
}
