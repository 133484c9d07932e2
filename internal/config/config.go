// Пакет config — загрузка и валидация конфигурации File Processing
// Service из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения файлов
	DataDir string
	// Путь к scratch-директории для zip-архивов перед отправкой сканеру
	ScratchDir string
	// Алгоритм дайджеста для дедупликации (sha256, sha512, sha1)
	DigestAlgorithm string
	// Разрешённые content-type (пустой список — разрешены все)
	AllowedContentTypes []string

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis — распределённое состояние admission control
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka — очередь заданий на проверку
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Внешний сканер
	ScanURL string
	// API-ключ сканера (заголовок x-apikey)
	ScanAPIKey string
	// Порог размера файла для big scan endpoint (байт)
	ScanBigThreshold int64
	// Суффикс пути big scan endpoint
	ScanBigSuffix string
	// Интервал опроса статуса анализа
	ScanPollInterval time.Duration
	// Максимальное суммарное время ожидания завершения анализа
	ScanMaxWait time.Duration
	// Количество параллельных воркеров проверки
	ScanWorkers int

	// Размер страницы выборки FAILURE_RETRIABLE в retry sweep
	RetryPageSize int
	// Интервал запуска retry sweep
	RetryInterval time.Duration

	// Интервал запуска cleaner'а осиротевших файлов
	CleanerInterval time.Duration
	// Минимальный возраст файла для удаления cleaner'ом
	CleanerMinAge time.Duration

	// TTL ключа идемпотентности
	IdempotencyTTL time.Duration
	// Ёмкость token bucket (запросов на клиента)
	RateLimitCapacity int64
	// Окно пополнения token bucket
	RateLimitWindow time.Duration

	// Секрет для валидации JWT (HS256)
	JWTSecret string

	// Имя вершины графа зависимостей текущего сервиса
	ServiceName string
	// Имя группы в метриках мониторинга зависимостей
	DephealthGroup string
	// Интервал проверки внешних зависимостей
	DephealthCheckInterval time.Duration
	// Пропускать проверку TLS-сертификата при опросе сканера
	DephealthTLSSkipVerify bool

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FP_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("FP_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FP_PORT: %w", err)
	}

	// FP_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("FP_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// FP_SCRATCH_DIR — директория архивов (по умолчанию {data_dir}/scratch)
	cfg.ScratchDir = getEnvDefault("FP_SCRATCH_DIR", cfg.DataDir+"/scratch")

	// FP_DIGEST_ALGORITHM — алгоритм дедупликации (по умолчанию sha256).
	// Валидируется при создании checksum.Computer на старте.
	cfg.DigestAlgorithm = getEnvDefault("FP_DIGEST_ALGORITHM", "sha256")

	// FP_ALLOWED_CONTENT_TYPES — разрешённые MIME-типы через запятую.
	// Пустое значение — разрешены все типы.
	cfg.AllowedContentTypes = splitNonEmpty(getEnvDefault("FP_ALLOWED_CONTENT_TYPES", ""))

	// --- PostgreSQL ---
	cfg.DBHost = getEnvDefault("FP_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("FP_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FP_DB_PORT: %w", err)
	}
	cfg.DBUser, err = getEnvRequired("FP_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("FP_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBName, err = getEnvRequired("FP_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("FP_DB_SSLMODE", "disable")

	// --- Redis ---
	cfg.RedisAddr = getEnvDefault("FP_REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvDefault("FP_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("FP_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("FP_REDIS_DB: %w", err)
	}

	// --- Kafka ---
	cfg.KafkaBrokers = splitNonEmpty(getEnvDefault("FP_KAFKA_BROKERS", "localhost:9092"))
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("FP_KAFKA_BROKERS: список брокеров пуст")
	}
	cfg.KafkaTopic = getEnvDefault("FP_KAFKA_TOPIC", "file.upload.scan")
	cfg.KafkaGroupID = getEnvDefault("FP_KAFKA_GROUP_ID", "fileprocessing")

	// --- Внешний сканер ---
	cfg.ScanURL, err = getEnvRequired("FP_SCAN_URL")
	if err != nil {
		return nil, err
	}
	cfg.ScanAPIKey, err = getEnvRequired("FP_SCAN_API_KEY")
	if err != nil {
		return nil, err
	}

	// FP_SCAN_BIG_THRESHOLD — порог big scan (по умолчанию 32 MB)
	cfg.ScanBigThreshold, err = getEnvInt64("FP_SCAN_BIG_THRESHOLD", 33554432)
	if err != nil {
		return nil, fmt.Errorf("FP_SCAN_BIG_THRESHOLD: %w", err)
	}
	cfg.ScanBigSuffix = getEnvDefault("FP_SCAN_BIG_SUFFIX", "/upload_url")

	// FP_SCAN_POLL_INTERVAL — интервал опроса (по умолчанию 20s)
	cfg.ScanPollInterval, err = getEnvDuration("FP_SCAN_POLL_INTERVAL", 20*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FP_SCAN_POLL_INTERVAL: %w", err)
	}

	// FP_SCAN_MAX_WAIT — максимальное ожидание анализа (по умолчанию 5m)
	cfg.ScanMaxWait, err = getEnvDuration("FP_SCAN_MAX_WAIT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FP_SCAN_MAX_WAIT: %w", err)
	}
	if cfg.ScanMaxWait < cfg.ScanPollInterval {
		return nil, fmt.Errorf("FP_SCAN_MAX_WAIT: значение %s должно быть >= FP_SCAN_POLL_INTERVAL (%s)",
			cfg.ScanMaxWait, cfg.ScanPollInterval)
	}

	// FP_SCAN_WORKERS — размер пула воркеров (по умолчанию 4)
	cfg.ScanWorkers, err = getEnvInt("FP_SCAN_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("FP_SCAN_WORKERS: %w", err)
	}
	if cfg.ScanWorkers < 1 {
		return nil, fmt.Errorf("FP_SCAN_WORKERS: значение должно быть положительным")
	}

	// --- Retry sweep ---
	cfg.RetryPageSize, err = getEnvInt("FP_RETRY_PAGE_SIZE", 100)
	if err != nil {
		return nil, fmt.Errorf("FP_RETRY_PAGE_SIZE: %w", err)
	}
	if cfg.RetryPageSize < 1 {
		return nil, fmt.Errorf("FP_RETRY_PAGE_SIZE: значение должно быть положительным")
	}
	cfg.RetryInterval, err = getEnvDuration("FP_RETRY_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FP_RETRY_INTERVAL: %w", err)
	}

	// --- Cleaner ---
	cfg.CleanerInterval, err = getEnvDuration("FP_CLEANER_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FP_CLEANER_INTERVAL: %w", err)
	}
	cfg.CleanerMinAge, err = getEnvDuration("FP_CLEANER_MIN_AGE", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FP_CLEANER_MIN_AGE: %w", err)
	}

	// --- Admission control ---
	cfg.IdempotencyTTL, err = getEnvDuration("FP_IDEMPOTENCY_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FP_IDEMPOTENCY_TTL: %w", err)
	}
	cfg.RateLimitCapacity, err = getEnvInt64("FP_RATELIMIT_CAPACITY", 10)
	if err != nil {
		return nil, fmt.Errorf("FP_RATELIMIT_CAPACITY: %w", err)
	}
	if cfg.RateLimitCapacity < 1 {
		return nil, fmt.Errorf("FP_RATELIMIT_CAPACITY: значение должно быть положительным")
	}
	cfg.RateLimitWindow, err = getEnvDuration("FP_RATELIMIT_WINDOW", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FP_RATELIMIT_WINDOW: %w", err)
	}

	// FP_JWT_SECRET — обязательный
	cfg.JWTSecret, err = getEnvRequired("FP_JWT_SECRET")
	if err != nil {
		return nil, err
	}

	// --- Мониторинг зависимостей ---
	cfg.ServiceName = getEnvDefault("FP_SERVICE_NAME", "fileprocessing")
	cfg.DephealthGroup = getEnvDefault("FP_DEPHEALTH_GROUP", "fileprocessing")
	cfg.DephealthCheckInterval, err = getEnvDuration("FP_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthTLSSkipVerify, err = getEnvBool("FP_DEPHEALTH_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("FP_DEPHEALTH_TLS_SKIP_VERIFY: %w", err)
	}

	// FP_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FP_LOG_LEVEL: %w", err)
	}

	// FP_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// FP_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("FP_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FP_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// ContentTypeAllowed проверяет content-type по allow-list.
// Пустой список — разрешены все типы.
func (c *Config) ContentTypeAllowed(contentType string) bool {
	if len(c.AllowedContentTypes) == 0 {
		return true
	}
	for _, allowed := range c.AllowedContentTypes {
		if allowed == contentType {
			return true
		}
	}
	return false
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// splitNonEmpty разбивает строку по запятым, отбрасывая пустые элементы.
func splitNonEmpty(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
