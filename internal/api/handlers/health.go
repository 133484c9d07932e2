// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/arturkryukov/fileprocessing/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// ReadinessChecker — проверка готовности внешней зависимости.
type ReadinessChecker interface {
	CheckReady() (status, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории данных (для проверки FS)
	dataDir string
	// db — проверка готовности PostgreSQL
	db ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(dataDir string, db ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dataDir: dataDir,
		db:      db,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "fileprocessing",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: файловая система хранилища, PostgreSQL.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	dbCheck := map[string]any{"status": "ok"}
	if h.db != nil {
		status, message := h.db.CheckReady()
		dbCheck["status"] = status
		if message != "" {
			dbCheck["message"] = message
		}
		if status != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "fileprocessing",
		"checks": map[string]any{
			"filesystem": fsCheck,
			"database":   dbCheck,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkFilesystem проверяет доступность директории данных на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	check := map[string]any{"status": "ok"}
	if h.dataDir == "" {
		return check
	}

	// Корень хранилища создаётся лениво, его отсутствие — не сбой.
	// Проверяем запись в родительскую директорию.
	probeDir := h.dataDir
	if _, err := os.Stat(probeDir); os.IsNotExist(err) {
		probeDir = filepath.Dir(probeDir)
	}

	probe := filepath.Join(probeDir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		check["status"] = statusFail
		check["message"] = err.Error()
		return check
	}
	_ = os.Remove(probe)
	return check
}
