// files.go — HTTP handlers файловых операций.
// Upload, List, Get metadata, Download, Update visibility, Delete.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arturkryukov/fileprocessing/internal/api/errors"
	"github.com/arturkryukov/fileprocessing/internal/api/middleware"
	"github.com/arturkryukov/fileprocessing/internal/domain/model"
	"github.com/arturkryukov/fileprocessing/internal/repository"
	"github.com/arturkryukov/fileprocessing/internal/service"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	uploadSvc *service.UploadService
	fileSvc   *service.FileService
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(uploadSvc *service.UploadService, fileSvc *service.FileService) *FilesHandler {
	return &FilesHandler{
		uploadSvc: uploadSvc,
		fileSvc:   fileSvc,
	}
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно), visibility (опционально: private, public).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	// Отбрасываем параметры вида "; charset=utf-8"
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}

	visibility := model.VisibilityPrivate
	if raw := r.FormValue("visibility"); raw != "" {
		v, ok := model.ParseVisibility(raw)
		if !ok {
			errors.ValidationError(w, fmt.Sprintf("Недопустимая видимость: %s", raw))
			return
		}
		visibility = v
	}

	result, err := h.uploadSvc.Upload(r.Context(), service.UploadParams{
		Reader: file,
		Size:   header.Size,
		// Имя очищается от путей: поле заполняется клиентом
		OriginalFilename: filepath.Base(filepath.Clean(header.Filename)),
		ContentType:      contentType,
		OwnerID:          subject,
		Visibility:       visibility,
	})
	if err != nil {
		switch {
		case stderrors.Is(err, service.ErrFileTooSmall):
			errors.FileTooSmall(w, "Файл пуст")
		case stderrors.Is(err, service.ErrUnsupportedContentType):
			errors.UnsupportedContentType(w, fmt.Sprintf("Тип %s не разрешён", contentType))
		default:
			errors.InternalError(w, "Не удалось принять файл")
		}
		return
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result.Record)
}

// ListFiles обрабатывает GET /api/v1/files.
// Возвращает собственные файлы пользователя и публичные файлы других.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	files, err := h.fileSvc.List(r.Context(), subject)
	if err != nil {
		errors.InternalError(w, "Не удалось получить список файлов")
		return
	}
	if files == nil {
		files = []*model.FileRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"items": files,
		"total": len(files),
	})
}

// GetFile обрабатывает GET /api/v1/files/{file_id}.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := h.fileID(w, r)
	if !ok {
		return
	}
	subject := middleware.SubjectFromContext(r.Context())

	record, err := h.fileSvc.Get(r.Context(), fileID, subject)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			errors.NotFound(w, "Файл не найден")
			return
		}
		errors.InternalError(w, "Не удалось получить метаданные")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(record)
}

// DownloadFile обрабатывает GET /api/v1/files/{file_id}/download.
// Содержимое доступно только после успешной проверки файла.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := h.fileID(w, r)
	if !ok {
		return
	}
	subject := middleware.SubjectFromContext(r.Context())

	rc, record, err := h.fileSvc.Download(r.Context(), fileID, subject)
	if err != nil {
		switch {
		case stderrors.Is(err, repository.ErrNotFound):
			errors.NotFound(w, "Файл не найден")
		case stderrors.Is(err, service.ErrScanNotCompleted):
			errors.ScanNotCompleted(w, "Файл ещё не прошёл проверку")
		default:
			errors.InternalError(w, "Не удалось открыть файл")
		}
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", record.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(record.Size, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", record.OriginalFilename))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// UpdateFile обрабатывает PATCH /api/v1/files/{file_id}.
// Тело: {"visibility": "private"|"public"}.
func (h *FilesHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := h.fileID(w, r)
	if !ok {
		return
	}
	subject := middleware.SubjectFromContext(r.Context())

	var body struct {
		Visibility string `json:"visibility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	visibility, ok := model.ParseVisibility(body.Visibility)
	if !ok {
		errors.ValidationError(w, fmt.Sprintf("Недопустимая видимость: %s", body.Visibility))
		return
	}

	record, err := h.fileSvc.SetVisibility(r.Context(), fileID, subject, visibility)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			errors.NotFound(w, "Файл не найден")
			return
		}
		errors.InternalError(w, "Не удалось обновить файл")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(record)
}

// DeleteFile обрабатывает DELETE /api/v1/files/{file_id}.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := h.fileID(w, r)
	if !ok {
		return
	}
	subject := middleware.SubjectFromContext(r.Context())

	if err := h.fileSvc.Delete(r.Context(), fileID, subject); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			errors.NotFound(w, "Файл не найден")
			return
		}
		errors.InternalError(w, "Не удалось удалить файл")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// fileID извлекает и валидирует UUID файла из пути запроса.
func (h *FilesHandler) fileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "file_id")
	if _, err := uuid.Parse(raw); err != nil {
		errors.ValidationError(w, "Некорректный идентификатор файла")
		return "", false
	}
	return raw, true
}
