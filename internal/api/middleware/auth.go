// auth.go — JWT middleware для аутентификации.
// Токены подписываются общим секретом (HS256). Claims: sub (subject) —
// идентификатор владельца загружаемых файлов.
// Публичные endpoints (health, metrics) — без аутентификации.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"net/http"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/arturkryukov/fileprocessing/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeySubject — ключ для sub из JWT в контексте запроса.
const ContextKeySubject contextKey = "jwt_subject"

// JWTAuth — middleware для JWT-аутентификации по общему секрету.
type JWTAuth struct {
	secret    []byte
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с заданным секретом подписи.
func NewJWTAuth(secret string, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		secret:    []byte(secret),
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token из заголовка Authorization, валидирует подпись (HS256),
// проверяет exp/nbf, помещает sub в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Извлекаем Bearer token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			// Парсинг и валидация JWT
			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims,
				func(_ *jwt.Token) (interface{}, error) { return j.secret, nil },
				jwt.WithValidMethods([]string{"HS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			// Извлекаем sub
			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если sub не найден.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}
