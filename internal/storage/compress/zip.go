// Пакет compress — упаковка файлов в zip-архив перед отправкой сканеру.
// Архивы создаются в отдельной scratch-директории и удаляются после
// отправки (подстраховка — фоновый cleaner).
package compress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
)

// Zip — упаковщик файлов в zip-архивы.
type Zip struct {
	// scratchDir — директория для создаваемых архивов
	scratchDir string
}

// New создаёт упаковщик. Создаёт scratch-директорию, если она не существует.
func New(scratchDir string) (*Zip, error) {
	if err := os.MkdirAll(scratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать scratch-директорию %s: %w", scratchDir, err)
	}
	return &Zip{scratchDir: scratchDir}, nil
}

// ScratchDir возвращает путь к директории архивов.
func (z *Zip) ScratchDir() string {
	return z.scratchDir
}

// Compress упаковывает указанные файлы в новый zip-архив.
// Имя архива: {unix_millis}-{uuid}.zip. Возвращает путь к архиву.
// Имя каждой записи — базовое имя исходного файла.
func (z *Zip) Compress(paths ...string) (string, error) {
	archivePath := filepath.Join(z.scratchDir,
		fmt.Sprintf("%d-%s.zip", time.Now().UnixMilli(), uuid.New().String()))

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания архива: %w", err)
	}

	zw := zip.NewWriter(out)

	for _, path := range paths {
		if err := addEntry(zw, path); err != nil {
			zw.Close()
			out.Close()
			os.Remove(archivePath)
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(archivePath)
		return "", fmt.Errorf("ошибка завершения архива: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(archivePath)
		return "", fmt.Errorf("ошибка закрытия архива: %w", err)
	}

	return archivePath, nil
}

// addEntry добавляет один файл в открытый архив.
func addEntry(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ошибка открытия файла %s для упаковки: %w", path, err)
	}
	defer in.Close()

	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("ошибка создания записи архива для %s: %w", path, err)
	}

	if _, err := io.Copy(entry, in); err != nil {
		return fmt.Errorf("ошибка упаковки файла %s: %w", path, err)
	}
	return nil
}
