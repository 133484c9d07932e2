// files.go — операции над записями файлов: список, метаданные,
// скачивание, видимость, удаление.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/arturkryukov/fileprocessing/internal/domain/model"
	"github.com/arturkryukov/fileprocessing/internal/domain/scan"
	"github.com/arturkryukov/fileprocessing/internal/repository"
	"github.com/arturkryukov/fileprocessing/internal/storage/contentstore"
)

// ErrScanNotCompleted — скачивание файла, ещё не прошедшего проверку.
var ErrScanNotCompleted = errors.New("проверка файла не завершена")

// FileService — операции чтения и управления записями файлов.
type FileService struct {
	repo   repository.FileRepository
	store  *contentstore.Store
	logger *slog.Logger
}

// NewFileService создаёт сервис операций над файлами.
func NewFileService(repo repository.FileRepository, store *contentstore.Store, logger *slog.Logger) *FileService {
	return &FileService{
		repo:   repo,
		store:  store,
		logger: logger.With(slog.String("component", "files")),
	}
}

// List возвращает файлы, видимые пользователю: собственные и публичные.
func (s *FileService) List(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	return s.repo.ListVisible(ctx, ownerID)
}

// Get возвращает метаданные собственного файла пользователя.
func (s *FileService) Get(ctx context.Context, fileUUID, ownerID string) (*model.FileRecord, error) {
	return s.repo.GetOwned(ctx, fileUUID, ownerID)
}

// Download открывает содержимое собственного файла. Файл доступен
// для скачивания только после успешной проверки.
func (s *FileService) Download(ctx context.Context, fileUUID, ownerID string) (io.ReadCloser, *model.FileRecord, error) {
	record, err := s.repo.GetOwned(ctx, fileUUID, ownerID)
	if err != nil {
		return nil, nil, err
	}

	if record.ScanStatus != scan.StatusSuccess {
		return nil, nil, fmt.Errorf("%w: статус %s", ErrScanNotCompleted, record.ScanStatus)
	}

	f, err := s.store.Open(record.FileStorageName)
	if err != nil {
		return nil, nil, fmt.Errorf("открытие файла: %w", err)
	}
	return f, record, nil
}

// SetVisibility изменяет видимость собственного файла.
func (s *FileService) SetVisibility(ctx context.Context, fileUUID, ownerID string, v model.Visibility) (*model.FileRecord, error) {
	record, err := s.repo.SetVisibility(ctx, fileUUID, ownerID, v)
	if err != nil {
		return nil, err
	}
	s.logger.Info("видимость файла изменена",
		slog.String("uuid", fileUUID),
		slog.String("visibility", string(v)),
	)
	return record, nil
}

// Delete удаляет собственный файл: сначала запись, затем содержимое.
// Недоудалённое содержимое подберёт cleaner.
func (s *FileService) Delete(ctx context.Context, fileUUID, ownerID string) error {
	record, err := s.repo.GetOwned(ctx, fileUUID, ownerID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, record.UUID); err != nil {
		return fmt.Errorf("удаление записи: %w", err)
	}

	if err := s.store.Delete(record.FileStorageName); err != nil {
		s.logger.Warn("содержимое файла не удалено",
			slog.String("storage_name", record.FileStorageName),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("файл удалён", slog.String("uuid", fileUUID))
	return nil
}
