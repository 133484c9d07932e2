package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/arturkryukov/fileprocessing/internal/admission"
)

// memKV — in-memory хранилище состояния идемпотентности для тестов.
type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (m *memKV) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// okHandler отвечает 200.
func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Запрос в пределах лимита пропускается, сверх лимита — 429 с Retry-After.
func TestRateLimitRejectsOverCapacity(t *testing.T) {
	limiter := admission.NewMemoryLimiter(2, time.Minute)
	handler := RateLimit(limiter, testLogger())(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/files", nil)
		req.RemoteAddr = "10.0.0.1:54321"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("запрос #%d: статус = %d, ожидался 200", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("статус = %d, ожидался 429", rec.Code)
	}
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, ожидались секунды >= 1", rec.Header().Get("Retry-After"))
	}
}

// Лимит считается по адресу клиента: другой адрес не затронут.
func TestRateLimitPerClient(t *testing.T) {
	limiter := admission.NewMemoryLimiter(1, time.Minute)
	handler := RateLimit(limiter, testLogger())(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/api/v1/files", nil)
	first.RemoteAddr = "10.0.0.1:1000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("первый клиент: статус = %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/api/v1/files", nil)
	second.RemoteAddr = "10.0.0.2:1000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusOK {
		t.Errorf("другой клиент: статус = %d, лимит не должен делиться", rec.Code)
	}

	// Порт не входит в ключ клиента
	samehost := httptest.NewRequest(http.MethodPost, "/api/v1/files", nil)
	samehost.RemoteAddr = "10.0.0.1:2000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, samehost)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("тот же хост с другим портом: статус = %d, ожидался 429", rec.Code)
	}
}

func idempotencyFixture() (http.Handler, *int) {
	gate := admission.NewGate(newMemKV(), time.Hour)
	status := http.StatusOK
	handler := Idempotency(gate, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	return handler, &status
}

func doIdempotent(handler http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", nil)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// Запрос без ключа идемпотентности отклоняется.
func TestIdempotencyRequiresKey(t *testing.T) {
	handler, _ := idempotencyFixture()
	rec := doIdempotent(handler, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидался 400", rec.Code)
	}
}

// Повтор успешно выполненного запроса возвращает 209.
func TestIdempotencyReplayAfterSuccess(t *testing.T) {
	handler, _ := idempotencyFixture()

	if rec := doIdempotent(handler, "key-1"); rec.Code != http.StatusOK {
		t.Fatalf("первый запрос: статус = %d", rec.Code)
	}
	if rec := doIdempotent(handler, "key-1"); rec.Code != StatusAlreadyCompleted {
		t.Errorf("повтор: статус = %d, ожидался %d", rec.Code, StatusAlreadyCompleted)
	}
}

// Неуспешный запрос освобождает ключ: повтор выполняется заново.
func TestIdempotencyRetryAfterFailure(t *testing.T) {
	handler, status := idempotencyFixture()

	*status = http.StatusInternalServerError
	if rec := doIdempotent(handler, "key-2"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("первый запрос: статус = %d", rec.Code)
	}

	*status = http.StatusOK
	if rec := doIdempotent(handler, "key-2"); rec.Code != http.StatusOK {
		t.Errorf("повтор после сбоя: статус = %d, ожидался 200", rec.Code)
	}
}

// Конкурентный запрос с тем же ключом во время обработки получает 425.
func TestIdempotencyConcurrentRequest(t *testing.T) {
	gate := admission.NewGate(newMemKV(), time.Hour)

	release := make(chan struct{})
	started := make(chan struct{})
	handler := Idempotency(gate, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- doIdempotent(handler, "key-3")
	}()
	<-started

	// Пока первый запрос выполняется
	concurrent := doIdempotent(handler, "key-3")
	if concurrent.Code != http.StatusTooEarly {
		t.Errorf("конкурентный запрос: статус = %d, ожидался 425", concurrent.Code)
	}

	close(release)
	if first := <-done; first.Code != http.StatusOK {
		t.Errorf("первый запрос: статус = %d", first.Code)
	}
}
