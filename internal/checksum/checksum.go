// Пакет checksum — потоковое вычисление дайджеста содержимого файла.
// Алгоритм задаётся конфигурацией (FP_DIGEST_ALGORITHM) и валидируется
// при старте приложения, а не при первом использовании.
package checksum

import (
	"crypto/sha1" //nolint:gosec // G505: sha1 допустим только по явной конфигурации
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// ErrDigestUnavailable — алгоритм дайджеста не задан или неизвестен.
// Это ошибка конфигурации, приложение с ней не стартует.
var ErrDigestUnavailable = fmt.Errorf("алгоритм дайджеста недоступен")

// algorithms — поддерживаемые алгоритмы и их конструкторы.
var algorithms = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha512": sha512.New,
	"sha1":   sha1.New,
}

// Computer — потоковый вычислитель контрольной суммы.
type Computer struct {
	algorithm string
	newHash   func() hash.Hash
}

// New создаёт Computer для указанного алгоритма.
// Пустое или неизвестное имя алгоритма — ошибка ErrDigestUnavailable.
func New(algorithm string) (*Computer, error) {
	if algorithm == "" {
		return nil, fmt.Errorf("%w: алгоритм не задан", ErrDigestUnavailable)
	}
	newHash, ok := algorithms[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: неизвестный алгоритм %q", ErrDigestUnavailable, algorithm)
	}
	return &Computer{algorithm: algorithm, newHash: newHash}, nil
}

// Algorithm возвращает имя сконфигурированного алгоритма.
func (c *Computer) Algorithm() string {
	return c.algorithm
}

// Sum читает поток до конца и возвращает hex-дайджест содержимого.
func (c *Computer) Sum(r io.Reader) (string, error) {
	h := c.newHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("ошибка чтения потока при вычислении дайджеста: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
