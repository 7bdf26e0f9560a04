package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/task-summary-api/internal/config"
	"github.com/BuzzLyutic/task-summary-api/internal/handler"
	"github.com/BuzzLyutic/task-summary-api/internal/repo"
	"github.com/BuzzLyutic/task-summary-api/internal/service"
	"github.com/BuzzLyutic/task-summary-api/internal/summarizer"
	"github.com/BuzzLyutic/task-summary-api/internal/worker"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err))
	}

	// Подключаем логгер
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	// Без ключа для выбранного провайдера дальнейшая работа теряет смысл
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	taskRepo, closeRepo := openRepository(ctx, cfg, logger)
	defer closeRepo()

	provider, err := summarizer.NewProvider(ctx, summarizer.ProviderConfig{
		Provider: cfg.SummarizerProvider,
		Model:    cfg.SummarizerModel,
		APIKey:   cfg.SummarizerAPIKey(),
		BaseURL:  cfg.SummarizerBaseURL,
	})
	if err != nil {
		logger.Fatal("Failed to configure summarizer", zap.Error(err))
	}
	gateway := summarizer.NewGateway(provider, summarizer.GatewayConfig{
		MaxConcurrency: cfg.SummarizerMaxConcurrency,
		Timeout:        cfg.SummarizerTimeout,
	}, logger.Named("summarizer"))

	taskService := service.NewTaskService(taskRepo, gateway)

	workerPool := worker.NewPool(taskRepo, gateway, logger.Named("worker"), cfg.WorkerCount, cfg.SummaryPollInterval)
	taskService.SetKicker(workerPool)
	workerPool.Start(ctx)

	taskHandler := handler.NewTaskHandler(taskService, logger)

	srv := http.Server{ // Создаем сервер
		Addr:        ":" + cfg.Port,
		Handler:     handler.NewRouter(taskHandler),
		ReadTimeout: 10 * time.Second,
		// генерация summary может занять до SUMMARIZER_TIMEOUT
		WriteTimeout: cfg.SummarizerTimeout + 10*time.Second,
	}

	go func() { // Запуск сервера и обработка ошибок
		logger.Info("Server started", zap.String("addr", srv.Addr), zap.String("summarizer", provider.Name()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	workerPool.Stop()
	if err := summarizer.CloseProvider(provider); err != nil {
		logger.Warn("Failed to close summarizer", zap.Error(err))
	}
	logger.Info("Server stopped successfully!")
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}

	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.TaskRepository, func()) {
	if cfg.StorageDriver == "memory" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return repo.NewMemoryTaskRepo(), func() {}
	}

	// Подключаем БД
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL) // Создаем новое соединение к БД
	if err != nil {
		logger.Fatal("Failed to connect to Database", zap.Error(err))
	}

	if err := pool.Ping(ctx); err != nil { // Пытаемся пингануть БД
		logger.Fatal("Failed to ping the Database", zap.Error(err))
	}
	logger.Info("Successfully connected to the Database!")

	added, err := repo.EnsureSchema(ctx, pool, logger)
	if err != nil {
		logger.Fatal("Failed to prepare schema", zap.Error(err))
	}
	if len(added) > 0 {
		logger.Info("Schema upgraded", zap.Strings("columns", added))
	}

	return repo.NewTaskRepo(pool), pool.Close
}
