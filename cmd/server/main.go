package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"energy-ledger/config"
	"energy-ledger/internal/api"
	"energy-ledger/internal/broker"
	"energy-ledger/internal/ledger"
	"energy-ledger/internal/redisclient"
	"energy-ledger/internal/service"
	"energy-ledger/internal/store"
	"energy-ledger/internal/util"
	"energy-ledger/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting energy ledger", zap.String("env", cfg.Server.Env))

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer("energy-ledger", cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	checks := make(map[string]api.ReadinessCheck)

	ledgerStore, closeStore, err := openStore(cfg, checks)
	if err != nil {
		logger.Fatal("Failed to open ledger store", zap.Error(err))
	}
	defer closeStore()
	logger.Info("Ledger store ready", zap.String("driver", cfg.Database.Driver))

	engine := ledger.NewEngine(
		ledgerStore,
		ledger.NewAccessController(cfg.Ledger.AdminID),
		ledger.Options{
			RefundPricing:         cfg.Ledger.RefundPricing,
			AutoRegisterConsumers: cfg.Ledger.AutoRegisterConsumers,
		},
		logger.Named("ledger"),
	)

	serviceOpts := []service.Option{service.WithMaxBatchCommands(cfg.Ledger.MaxBatchCommands)}
	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CacheTTL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

		serviceOpts = append(serviceOpts,
			service.WithProducerCache(redisClient),
			service.WithIdempotency(redisClient, cfg.Redis.IdempotencyTTL))
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.GetClient().Ping(ctx).Err()
		}
	}

	eventPublisher := broker.NewEventPublisher(broker.Discard)
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		eventPublisher = broker.NewEventPublisher(producer)

		commandProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands)
		defer commandProducer.Close()
		serviceOpts = append(serviceOpts, service.WithCommandQueue(broker.NewEventPublisher(commandProducer)))

		logger.Info("Kafka producers initialized",
			zap.String("events_topic", cfg.Kafka.TopicEvents),
			zap.String("commands_topic", cfg.Kafka.TopicCommands))
	}

	ledgerService := service.NewLedgerService(engine, eventPublisher, serviceOpts...)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var commandWorker *worker.CommandWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.ConsumerGroup)
		commandWorker = worker.NewCommandWorker(consumer, ledgerService)
		go func() {
			if err := commandWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Command worker error", zap.Error(err))
			}
		}()
	}

	var refresher *worker.CacheRefresher
	if redisClient != nil {
		refresher, err = worker.NewCacheRefresher(workerCtx, ledgerService, cfg.Redis.RefreshSpec)
		if err != nil {
			logger.Fatal("Failed to schedule cache refresher", zap.Error(err))
		}
		refresher.Refresh(workerCtx)
		refresher.Start()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(ledgerService, checks)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if refresher != nil {
		refresher.Stop()
	}
	if commandWorker != nil {
		if err := commandWorker.Stop(); err != nil {
			logger.Error("Error stopping command worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openStore builds the configured ledger store and registers its
// readiness check
func openStore(cfg *config.Config, checks map[string]api.ReadinessCheck) (ledger.Store, func(), error) {
	var (
		driver string
		dsn    string
	)

	switch cfg.Database.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "postgres":
		driver, dsn = store.DriverPostgres, cfg.Database.URL
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		driver, dsn = store.DriverSQLite, cfg.Database.SQLitePath
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Database.Driver)
	}

	db, err := store.NewStore(driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	checks["database"] = func(ctx context.Context) error {
		return db.GetDB().PingContext(ctx)
	}
	return db, func() { db.Close() }, nil
}
