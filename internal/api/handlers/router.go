// router.go — сборка HTTP-маршрутов сервиса.
//
// Публичные endpoints: /health/live, /health/ready, /metrics.
// Файловые endpoints требуют JWT; загрузка дополнительно проходит
// лимит частоты и барьер идемпотентности.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arturkryukov/fileprocessing/internal/admission"
	"github.com/arturkryukov/fileprocessing/internal/api/middleware"
)

// RouterDeps — зависимости маршрутизатора.
type RouterDeps struct {
	Files   *FilesHandler
	Health  *HealthHandler
	Auth    *middleware.JWTAuth
	Limiter admission.Limiter
	Gate    *admission.Gate
	Logger  *slog.Logger
}

// NewRouter собирает chi-маршрутизатор со всеми endpoints и middleware.
func NewRouter(deps RouterDeps) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.MetricsMiddleware())

	// Публичные endpoints
	router.Get("/health/live", deps.Health.HealthLive)
	router.Get("/health/ready", deps.Health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Файловые endpoints — только с JWT
	router.Route("/api/v1/files", func(r chi.Router) {
		r.Use(deps.Auth.Middleware())

		r.With(
			middleware.RateLimit(deps.Limiter, deps.Logger),
			middleware.Idempotency(deps.Gate, deps.Logger),
		).Post("/", deps.Files.UploadFile)

		r.Get("/", deps.Files.ListFiles)
		r.Get("/{file_id}", deps.Files.GetFile)
		r.Get("/{file_id}/download", deps.Files.DownloadFile)
		r.Patch("/{file_id}", deps.Files.UpdateFile)
		r.Delete("/{file_id}", deps.Files.DeleteFile)
	})

	return router
}
