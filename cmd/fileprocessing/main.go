// Точка входа File Processing Service — сервиса приёма и асинхронной
// проверки файлов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arturkryukov/fileprocessing/internal/admission"
	"github.com/arturkryukov/fileprocessing/internal/api/handlers"
	"github.com/arturkryukov/fileprocessing/internal/api/middleware"
	"github.com/arturkryukov/fileprocessing/internal/checksum"
	"github.com/arturkryukov/fileprocessing/internal/config"
	"github.com/arturkryukov/fileprocessing/internal/database"
	"github.com/arturkryukov/fileprocessing/internal/queue"
	"github.com/arturkryukov/fileprocessing/internal/repository"
	"github.com/arturkryukov/fileprocessing/internal/scanner"
	"github.com/arturkryukov/fileprocessing/internal/server"
	"github.com/arturkryukov/fileprocessing/internal/service"
	"github.com/arturkryukov/fileprocessing/internal/storage/compress"
	"github.com/arturkryukov/fileprocessing/internal/storage/contentstore"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("File Processing Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
	)

	// --- Инициализация компонентов ---

	// 1. Контрольные суммы и хранилище содержимого
	computer, err := checksum.New(cfg.DigestAlgorithm)
	if err != nil {
		logger.Error("Ошибка инициализации дайджеста", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := contentstore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	compressor, err := compress.New(cfg.ScratchDir)
	if err != nil {
		logger.Error("Ошибка инициализации scratch-директории", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. PostgreSQL: подключение и миграции
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo := repository.NewFileRepository(pool)

	// 3. Redis — состояние admission control
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("Ошибка подключения к Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()

	gate := admission.NewGate(admission.NewRedisKV(redisClient), cfg.IdempotencyTTL)
	limiter := admission.NewRedisLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitWindow)

	// 4. Kafka — очередь заданий на проверку
	publisher := queue.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer publisher.Close()

	// 5. Клиент внешнего сканера
	scanClient := scanner.New(scanner.Config{
		BaseURL:      cfg.ScanURL,
		APIKey:       cfg.ScanAPIKey,
		BigThreshold: cfg.ScanBigThreshold,
		BigSuffix:    cfg.ScanBigSuffix,
		Timeout:      2 * time.Minute,
	}, logger)

	// 6. Сервисы
	uploadSvc := service.NewUploadService(repo, store, computer, publisher, cfg.ContentTypeAllowed, logger)
	fileSvc := service.NewFileService(repo, store, logger)

	worker := service.NewScanWorker(repo, compressor, scanClient, service.ScanWorkerConfig{
		PollInterval: cfg.ScanPollInterval,
		MaxWait:      cfg.ScanMaxWait,
		Workers:      cfg.ScanWorkers,
	}, logger)

	// 7. Consumer очереди и фоновые процессы
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, worker.Handle, logger)
	consumer.Start(consumerCtx)

	sweeper := service.NewRetrySweeper(repo, store, publisher, cfg.RetryPageSize, cfg.RetryInterval, logger)
	sweeper.Start(ctx)

	cleaner := service.NewCleaner(repo, store, compressor.ScratchDir(), cfg.CleanerMinAge, cfg.CleanerInterval, logger)
	cleaner.Start(ctx)

	dephealthSvc, err := service.NewDephealthService(
		cfg.ServiceName,
		cfg.DephealthGroup,
		"scanner",
		cfg.ScanURL,
		cfg.DephealthCheckInterval,
		cfg.DephealthTLSSkipVerify,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. HTTP API
	auth := middleware.NewJWTAuth(cfg.JWTSecret, 30*time.Second, logger)
	filesHandler := handlers.NewFilesHandler(uploadSvc, fileSvc)
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, database.NewReadinessChecker(pool))

	router := handlers.NewRouter(handlers.RouterDeps{
		Files:   filesHandler,
		Health:  healthHandler,
		Auth:    auth,
		Limiter: limiter,
		Gate:    gate,
		Logger:  logger,
	})

	srv := server.New(cfg, logger, router)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
	}

	// Остановка фоновых процессов после завершения сервера
	dephealthSvc.Stop()
	sweeper.Stop()
	cleaner.Stop()
	stopConsumer()
	if err := consumer.Stop(); err != nil {
		logger.Warn("Ошибка остановки consumer'а", slog.String("error", err.Error()))
	}
	worker.Wait()

	logger.Info("File Processing Service остановлен")
}
