// Пакет model — доменные модели File Processing Service.
// FileRecord — запись о загруженном файле, система учёта (system of record)
// для дедупликации и асинхронной проверки безопасности.
package model

import (
	"time"

	"github.com/arturkryukov/fileprocessing/internal/domain/scan"
)

// Visibility — видимость файла для других пользователей.
type Visibility string

const (
	// VisibilityPrivate — файл виден только владельцу
	VisibilityPrivate Visibility = "private"
	// VisibilityPublic — файл виден всем аутентифицированным пользователям
	VisibilityPublic Visibility = "public"
)

// ParseVisibility преобразует строку в Visibility.
func ParseVisibility(s string) (Visibility, bool) {
	switch Visibility(s) {
	case VisibilityPrivate, VisibilityPublic:
		return Visibility(s), true
	default:
		return "", false
	}
}

// FileRecord — метаданные загруженного файла.
//
// Инварианты:
//   - FileStorageName глобально уникально (unique constraint в БД)
//   - Checksum уникален: не более одной канонической записи на контент
//   - UUID неизменяем после создания
//   - Size >= 1 для любой записи, дошедшей до хранилища
type FileRecord struct {
	// UUID — стабильный внешний идентификатор файла
	UUID string `json:"uuid"`

	// Checksum — hex-дайджест содержимого (ключ дедупликации)
	Checksum string `json:"checksum"`

	// OriginalFilename — оригинальное имя файла при загрузке
	OriginalFilename string `json:"original_filename"`

	// FileStorageName — имя файла на диске: {checksum}-{original} или {checksum}
	FileStorageName string `json:"-"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`

	// ContentType — MIME-тип файла
	ContentType string `json:"content_type"`

	// ScanStatus — состояние асинхронной проверки безопасности
	ScanStatus scan.Status `json:"scan_status"`

	// Visibility — видимость файла (private/public)
	Visibility Visibility `json:"visibility"`

	// OwnerID — идентификатор владельца (sub из JWT)
	OwnerID string `json:"-"`

	// UploadedAt — дата и время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`
}
