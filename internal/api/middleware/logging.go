// logging.go — логирование HTTP-запросов конвейера приёма файлов.
//
// Каждый запрос логируется одной записью после обработки. Запросы
// health-проб логируются на уровне DEBUG: liveness/readiness опрашиваются
// оркестратором постоянно и на INFO заглушали бы полезные записи.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseWriter перехватывает статус-код и объём ответа. Используется
// также idempotency-middleware для фиксации исхода запроса.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap открывает оригинальный ResponseWriter для http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestLevel выбирает уровень записи по пути и статус-коду ответа.
func requestLevel(path string, statusCode int) slog.Level {
	switch {
	case statusCode >= 500:
		return slog.LevelError
	case statusCode >= 400:
		return slog.LevelWarn
	case path == "/health/live" || path == "/health/ready":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// RequestLogger логирует каждый HTTP-запрос: метод, путь, статус,
// длительность, объём ответа и адрес клиента.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	httpLogger := logger.With(slog.String("component", "http"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			httpLogger.LogAttrs(r.Context(),
				requestLevel(r.URL.Path, wrapped.statusCode),
				"HTTP запрос",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
