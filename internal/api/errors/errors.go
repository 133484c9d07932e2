// Пакет errors — конструкторы стандартных ошибок HTTP API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError        = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeFileTooSmall           = "FILE_TOO_SMALL"
	CodeUnsupportedContentType = "UNSUPPORTED_CONTENT_TYPE"
	CodeIdempotencyKeyRequired = "IDEMPOTENCY_KEY_REQUIRED"
	CodeRequestInProgress      = "REQUEST_IN_PROGRESS"
	CodeRateLimited            = "RATE_LIMITED"
	CodeScanNotCompleted       = "SCAN_NOT_COMPLETED"
	CodeInternalError          = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// FileTooSmall — 400 файл пуст.
func FileTooSmall(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeFileTooSmall, message)
}

// UnsupportedContentType — 415 тип содержимого вне allow-list.
func UnsupportedContentType(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnsupportedMediaType, CodeUnsupportedContentType, message)
}

// IdempotencyKeyRequired — 400 отсутствует ключ идемпотентности.
func IdempotencyKeyRequired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeIdempotencyKeyRequired, message)
}

// RequestInProgress — 425 запрос с этим ключом ещё выполняется.
func RequestInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooEarly, CodeRequestInProgress, message)
}

// RateLimited — 429 превышен лимит запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// ScanNotCompleted — 409 файл ещё не прошёл проверку.
func ScanNotCompleted(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeScanNotCompleted, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
