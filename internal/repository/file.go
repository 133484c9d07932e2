package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/fileprocessing/internal/domain/model"
	"github.com/arturkryukov/fileprocessing/internal/domain/scan"
)

// fileColumns — список столбцов таблицы files для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const fileColumns = `uuid, checksum, original_filename, file_storage_name,
	size, content_type, scan_status, visibility, owner_id, uploaded_at`

// FileRepository — интерфейс доступа к записям файлов.
type FileRepository interface {
	// Create создаёт новую запись файла.
	// Дубликат checksum или file_storage_name → ErrConflict.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByChecksum возвращает каноническую запись по дайджесту содержимого.
	GetByChecksum(ctx context.Context, checksum string) (*model.FileRecord, error)
	// GetByStorageName возвращает запись по имени блоба в хранилище.
	GetByStorageName(ctx context.Context, storageName string) (*model.FileRecord, error)
	// GetOwned возвращает запись по UUID, принадлежащую владельцу.
	GetOwned(ctx context.Context, uuid, ownerID string) (*model.FileRecord, error)
	// ListVisible возвращает записи владельца плюс публичные.
	ListVisible(ctx context.Context, ownerID string) ([]*model.FileRecord, error)
	// ListByScanStatus возвращает страницу записей с указанным статусом.
	ListByScanStatus(ctx context.Context, status scan.Status, limit, offset int) ([]*model.FileRecord, error)
	// SetScanStatus обновляет статус проверки по имени блоба.
	SetScanStatus(ctx context.Context, storageName string, status scan.Status) error
	// SetVisibility обновляет видимость записи владельца.
	SetVisibility(ctx context.Context, uuid, ownerID string, v model.Visibility) (*model.FileRecord, error)
	// Delete удаляет запись по UUID.
	Delete(ctx context.Context, uuid string) error
	// ExistsByStorageName проверяет наличие записи по имени блоба.
	ExistsByStorageName(ctx context.Context, storageName string) (bool, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (uuid, checksum, original_filename, file_storage_name,
			size, content_type, scan_status, visibility, owner_id, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		f.UUID, f.Checksum, f.OriginalFilename, f.FileStorageName,
		f.Size, f.ContentType, f.ScanStatus, f.Visibility, f.OwnerID, f.UploadedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким содержимым уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByChecksum(ctx context.Context, checksum string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE checksum = $1`, fileColumns)
	return r.scanOne(r.db.QueryRow(ctx, query, checksum))
}

func (r *fileRepo) GetByStorageName(ctx context.Context, storageName string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE file_storage_name = $1`, fileColumns)
	return r.scanOne(r.db.QueryRow(ctx, query, storageName))
}

func (r *fileRepo) GetOwned(ctx context.Context, uuid, ownerID string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE uuid = $1 AND owner_id = $2`, fileColumns)
	return r.scanOne(r.db.QueryRow(ctx, query, uuid, ownerID))
}

func (r *fileRepo) ListVisible(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM files WHERE owner_id = $1 OR visibility = $2 ORDER BY uploaded_at DESC`,
		fileColumns,
	)

	rows, err := r.db.Query(ctx, query, ownerID, model.VisibilityPublic)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки файлов: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

func (r *fileRepo) ListByScanStatus(ctx context.Context, status scan.Status, limit, offset int) ([]*model.FileRecord, error) {
	// Стабильный порядок обязателен для корректной пагинации sweep'а
	query := fmt.Sprintf(
		`SELECT %s FROM files WHERE scan_status = $1 ORDER BY uploaded_at, uuid LIMIT $2 OFFSET $3`,
		fileColumns,
	)

	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки файлов по статусу: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

func (r *fileRepo) SetScanStatus(ctx context.Context, storageName string, status scan.Status) error {
	query := `UPDATE files SET scan_status = $2 WHERE file_storage_name = $1`

	tag, err := r.db.Exec(ctx, query, storageName, status)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса проверки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) SetVisibility(ctx context.Context, uuid, ownerID string, v model.Visibility) (*model.FileRecord, error) {
	query := fmt.Sprintf(`
		UPDATE files SET visibility = $3
		WHERE uuid = $1 AND owner_id = $2
		RETURNING %s`, fileColumns)

	return r.scanOne(r.db.QueryRow(ctx, query, uuid, ownerID, v))
}

func (r *fileRepo) Delete(ctx context.Context, uuid string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE uuid = $1`, uuid)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) ExistsByStorageName(ctx context.Context, storageName string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM files WHERE file_storage_name = $1)`, storageName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки существования записи: %w", err)
	}
	return exists, nil
}

// scanOne сканирует одну запись или возвращает ErrNotFound.
func (r *fileRepo) scanOne(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(
		&f.UUID, &f.Checksum, &f.OriginalFilename, &f.FileStorageName,
		&f.Size, &f.ContentType, &f.ScanStatus, &f.Visibility, &f.OwnerID, &f.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения записи файла: %w", err)
	}
	return f, nil
}

// scanAll сканирует все строки результата.
func (r *fileRepo) scanAll(rows pgx.Rows) ([]*model.FileRecord, error) {
	var result []*model.FileRecord
	for rows.Next() {
		f := &model.FileRecord{}
		if err := rows.Scan(
			&f.UUID, &f.Checksum, &f.OriginalFilename, &f.FileStorageName,
			&f.Size, &f.ContentType, &f.ScanStatus, &f.Visibility, &f.OwnerID, &f.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}
