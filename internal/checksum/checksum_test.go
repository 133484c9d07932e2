package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

// TestNew_UnknownAlgorithm проверяет отказ при неизвестном алгоритме.
func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New("md4")
	if err == nil {
		t.Fatal("ожидалась ошибка для неизвестного алгоритма")
	}
	if !errors.Is(err, ErrDigestUnavailable) {
		t.Errorf("ожидался ErrDigestUnavailable, получен %v", err)
	}
}

// TestNew_EmptyAlgorithm проверяет отказ при незаданном алгоритме.
func TestNew_EmptyAlgorithm(t *testing.T) {
	_, err := New("")
	if !errors.Is(err, ErrDigestUnavailable) {
		t.Errorf("ожидался ErrDigestUnavailable, получен %v", err)
	}
}

// TestSum_SHA256 проверяет дайджест известного содержимого.
func TestSum_SHA256(t *testing.T) {
	c, err := New("sha256")
	if err != nil {
		t.Fatalf("ошибка создания Computer: %v", err)
	}

	content := "hello, checksum"
	expected := sha256.Sum256([]byte(content))

	got, err := c.Sum(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка вычисления: %v", err)
	}
	if got != hex.EncodeToString(expected[:]) {
		t.Errorf("дайджест не совпадает: получен %s", got)
	}
}

// TestSum_Deterministic проверяет стабильность дайджеста.
func TestSum_Deterministic(t *testing.T) {
	c, err := New("sha512")
	if err != nil {
		t.Fatalf("ошибка создания Computer: %v", err)
	}

	first, err := c.Sum(strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("ошибка вычисления: %v", err)
	}
	second, err := c.Sum(strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("ошибка вычисления: %v", err)
	}

	if first != second {
		t.Errorf("дайджест нестабилен: %s != %s", first, second)
	}
	// sha512 → 128 hex-символов
	if len(first) != 128 {
		t.Errorf("длина sha512 hex: получено %d, ожидалось 128", len(first))
	}
}

// TestSum_EmptyStream проверяет дайджест пустого потока.
func TestSum_EmptyStream(t *testing.T) {
	c, err := New("sha256")
	if err != nil {
		t.Fatalf("ошибка создания Computer: %v", err)
	}

	got, err := c.Sum(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ошибка вычисления: %v", err)
	}

	empty := sha256.Sum256(nil)
	if got != hex.EncodeToString(empty[:]) {
		t.Errorf("дайджест пустого потока не совпадает: %s", got)
	}
}
