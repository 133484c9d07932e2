// Пакет contentstore — операции с физическими блобами на диске.
// Все имена разрешаются строго внутри корневой директории: имя,
// выводящее путь за пределы корня, отвергается с ErrPathEscape.
// Это единственная защита от directory traversal для имён,
// производных от пользовательских имён файлов.
package contentstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrPathEscape — разрешённый путь выходит за пределы корневой директории.
var ErrPathEscape = errors.New("путь выходит за пределы директории хранения")

// Store — управление физическими блобами под одним корнем.
type Store struct {
	// root — абсолютный путь корневой директории хранения
	root string
}

// New создаёт Store для указанного корня.
// Директория создаётся лениво при первой записи, не здесь.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения корневой директории %s: %w", root, err)
	}
	return &Store{root: abs}, nil
}

// Root возвращает абсолютный путь корневой директории.
func (s *Store) Root() string {
	return s.root
}

// Resolve возвращает абсолютный путь блоба по имени, выполняя
// проверку конфайнмента без записи. Родитель разрешённого пути
// должен совпадать с корнем в точности.
func (s *Store) Resolve(name string) (string, error) {
	resolved := filepath.Clean(filepath.Join(s.root, name))
	if filepath.Dir(resolved) != s.root {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	return resolved, nil
}

// Put записывает данные из reader в блоб с указанным именем.
// Возвращает абсолютный путь и размер записанных данных.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (s *Store) Put(name string, r io.Reader) (string, int64, error) {
	fullPath, err := s.Resolve(name)
	if err != nil {
		return "", 0, err
	}

	// Ленивое создание корневой директории
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return "", 0, fmt.Errorf("не удалось создать директорию хранения %s: %w", s.root, err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return fullPath, size, nil
}

// Open открывает блоб для чтения и возвращает io.ReadCloser.
// Вызывающий код обязан закрыть файл.
func (s *Store) Open(name string) (*os.File, error) {
	fullPath, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("блоб не найден: %s", name)
		}
		return nil, fmt.Errorf("ошибка открытия блоба %s: %w", name, err)
	}
	return f, nil
}

// Delete удаляет блоб с диска. Возвращает nil, если блоб уже не существует.
// Ошибка удаления не фатальна для вызывающего кода: система учёта —
// репозиторий, а не диск.
func (s *Store) Delete(name string) error {
	fullPath, err := s.Resolve(name)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления блоба %s: %w", name, err)
	}
	return nil
}

// Exists проверяет существование блоба на диске.
func (s *Store) Exists(name string) bool {
	fullPath, err := s.Resolve(name)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(fullPath)
	return statErr == nil
}
