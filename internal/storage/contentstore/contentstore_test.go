package contentstore

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestPut проверяет запись блоба и ленивое создание корня.
func TestPut(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	s, err := New(root)
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}

	// Корень ещё не создан
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatal("корневая директория не должна существовать до первой записи")
	}

	content := []byte("blob content")
	fullPath, size, err := s.Put("abc123-file.txt", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), size)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		t.Fatalf("ошибка чтения файла: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое блоба не совпадает")
	}
}

// TestPut_PathEscape проверяет отказ для имён с directory traversal
// до записи хоть одного байта.
func TestPut_PathEscape(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	s, err := New(root)
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}

	names := []string{
		"../escape.txt",
		"../../etc/passwd",
		"sub/../../escape.txt",
		"nested/dir/file.txt", // вложенные пути тоже запрещены
	}
	for _, name := range names {
		_, _, putErr := s.Put(name, strings.NewReader("x"))
		if !errors.Is(putErr, ErrPathEscape) {
			t.Errorf("имя %q: ожидался ErrPathEscape, получено %v", name, putErr)
		}
	}

	// Ни одного байта не записано — корень даже не создан
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("при отказе конфайнмента не должно быть записей на диск")
	}
}

// TestPut_NoTmpFile проверяет отсутствие temp файла после записи.
func TestPut_NoTmpFile(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}

	fullPath, _, err := s.Put("file.bin", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if _, err := os.Stat(fullPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не должен существовать")
	}
}

// TestResolve проверяет разрешение пути без записи.
func TestResolve(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}

	got, err := s.Resolve("abc-file.txt")
	if err != nil {
		t.Fatalf("ошибка разрешения: %v", err)
	}
	if got != filepath.Join(s.Root(), "abc-file.txt") {
		t.Errorf("неожиданный путь: %s", got)
	}

	if _, err := s.Resolve("../secret"); !errors.Is(err, ErrPathEscape) {
		t.Errorf("ожидался ErrPathEscape, получено %v", err)
	}
}

// TestOpen проверяет чтение записанного блоба.
func TestOpen(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}

	content := []byte("read me back")
	if _, _, err := s.Put("readable", bytes.NewReader(content)); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	f, err := s.Open("readable")
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("прочитанные данные не совпадают с записанными")
	}
}

// TestOpen_NotFound проверяет ошибку при чтении несуществующего блоба.
func TestOpen_NotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}

	if _, err := s.Open("missing"); err == nil {
		t.Error("ожидалась ошибка для несуществующего блоба")
	}
}

// TestDelete проверяет удаление, включая идемпотентность.
func TestDelete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания Store: %v", err)
	}

	if _, _, err := s.Put("victim", strings.NewReader("bye")); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if err := s.Delete("victim"); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if s.Exists("victim") {
		t.Error("блоб должен быть удалён")
	}

	// Повторное удаление — не ошибка
	if err := s.Delete("victim"); err != nil {
		t.Errorf("удаление несуществующего блоба не должно быть ошибкой: %v", err)
	}

	// Traversal в имени при удалении тоже отвергается
	if err := s.Delete("../victim"); !errors.Is(err, ErrPathEscape) {
		t.Errorf("ожидался ErrPathEscape, получено %v", err)
	}
}
