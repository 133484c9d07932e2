// admission.go — входной контроль запросов на загрузку: лимит частоты
// по адресу клиента и барьер идемпотентности по клиентскому ключу.
package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/arturkryukov/fileprocessing/internal/admission"
	apierrors "github.com/arturkryukov/fileprocessing/internal/api/errors"
)

// IdempotencyKeyHeader — заголовок клиентского ключа идемпотентности.
const IdempotencyKeyHeader = "Idempotency-Key"

// StatusAlreadyCompleted — нестандартный код ответа на повтор уже
// выполненного запроса.
const StatusAlreadyCompleted = 209

// RateLimit возвращает middleware, ограничивающий частоту запросов
// по адресу клиента. При отказе отвечает 429 с заголовком Retry-After.
// При недоступности limiter'а запрос пропускается: доступность сервиса
// важнее строгости лимита.
func RateLimit(limiter admission.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "rate_limit"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.Take(r.Context(), clientKey(r))
			if err != nil {
				log.Warn("limiter недоступен, запрос пропущен",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				apierrors.RateLimited(w, "Превышен лимит запросов, повторите позже")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey — ключ bucket'а клиента: хост из RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Idempotency возвращает middleware, исключающий повторное выполнение
// запроса с одним ключом идемпотентности.
//
// Поведение:
//   - без заголовка Idempotency-Key — 400
//   - ключ захвачен выполняющимся запросом — 425
//   - ключ уже выполнен — 209
//   - иначе запрос выполняется; успешный исход (статус < 400) помечает
//     ключ выполненным, неуспешный освобождает его для повтора
func Idempotency(gate *admission.Gate, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "idempotency"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				apierrors.IdempotencyKeyRequired(w, "Отсутствует заголовок "+IdempotencyKeyHeader)
				return
			}

			decision, err := gate.Begin(r.Context(), key)
			if err != nil {
				log.Error("барьер идемпотентности недоступен",
					slog.String("error", err.Error()),
				)
				apierrors.InternalError(w, "Сервис временно недоступен")
				return
			}

			switch decision {
			case admission.AlreadyProcessing:
				apierrors.RequestInProgress(w, "Запрос с этим ключом ещё выполняется")
				return
			case admission.AlreadyCompleted:
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(StatusAlreadyCompleted)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"message": "Запрос с этим ключом уже выполнен",
				})
				return
			}

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			if err := gate.Complete(r.Context(), key, wrapped.statusCode < 400); err != nil {
				log.Error("фиксация ключа идемпотентности",
					slog.String("error", err.Error()),
				)
			}
		})
	}
}
