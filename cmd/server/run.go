package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/batch"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/categories"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/clock"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/config"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/db"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/deadletter"
	grpcserver "github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/grpc/server"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/messaging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/rates"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/repository"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/server"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/service"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume registrations and write them to both stores (default)",
	RunE:  runService,
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("starting delivery service",
		"queue", cfg.RabbitMQ.Queue,
		"document_backend", cfg.Document.Backend,
		"grpc_port", cfg.GRPC.Port,
		"http_port", cfg.HTTP.Port,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.MigrateOnStart {
		version, err := db.Migrate(cfg.Postgres.URL)
		if err != nil {
			return err
		}
		logger.Info("database migrations applied", "version", version)
	}

	connectCtx, cancelConnect := connectTimeout(ctx)
	defer cancelConnect()

	pool, err := db.NewPool(connectCtx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL pool: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := db.NewRedisClient(connectCtx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis client: %w", err)
	}
	defer redisClient.Close()

	router, closeStore, err := newRouter(connectCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if _, err := router.CollectionFor(connectCtx, router.Today()); err != nil {
		logger.Warn("failed to open today's collection", logging.Error(err))
	}

	dlq, err := newDeadLetterQueue(connectCtx, cfg.DeadLetter, logger)
	if err != nil {
		return err
	}
	defer dlq.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	tm := db.NewTransactionManager(pool.Pool, logger)
	packageRepo := repository.NewPackageRepository(pool.Pool, tm)
	categoryRepo := repository.NewCategoryRepository(pool.Pool)

	categoryResolver := categories.NewResolver(redisClient, categoryRepo, categories.Options{
		CacheKey:    categories.DefaultCacheKey,
		CacheTTL:    cfg.Categories.CacheTTL,
		DefaultID:   cfg.Categories.DefaultID,
		DefaultName: cfg.Categories.DefaultName,
	}, logger)

	rateResolver := rates.NewResolver(redisClient, rates.NewHTTPSource(cfg.Rates.URL, cfg.Rates.Timeout), rates.Options{
		CacheKey:     rates.DefaultCacheKey,
		LockKey:      rates.DefaultLockKey,
		CacheTTL:     cfg.Rates.CacheTTL,
		LockTTL:      cfg.Rates.LockTTL,
		FetchTimeout: cfg.Rates.Timeout,
		WaitInitial:  cfg.Rates.WaitInitial,
		WaitAttempts: cfg.Rates.WaitAttempts,
	}, logger)

	enrichment := service.NewEnrichmentService(categoryResolver, rateResolver, clock.System{}, loc, logger)

	writer := batch.NewWriter(packageRepo, router, batch.Options{
		RelationalSize:     cfg.Batch.Relational.Size,
		RelationalInterval: cfg.Batch.Relational.Interval,
		MaxAttempts:        cfg.Batch.Relational.MaxAttempts,
		BaseBackoff:        cfg.Batch.Relational.BaseBackoff,
		DocumentSize:       cfg.Batch.Document.Size,
		DocumentInterval:   cfg.Batch.Document.Interval,
	}, logger)

	consumer, err := messaging.NewRabbitMQConsumer(cfg.RabbitMQ, enrichment, writer, dlq, logger)
	if err != nil {
		return fmt.Errorf("failed to create RabbitMQ consumer: %w", err)
	}
	defer consumer.Close()

	grpcServer, health := grpcserver.NewGRPCServer()
	var consuming atomic.Bool
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           server.NewRouter(consuming.Load),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	// Flush loops outlive the consumer so Close can drain what it handed over.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		writer.Run(writerCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startGRPCServer(cfg.GRPC.Port, grpcServer, logger); err != nil {
			logger.Error("gRPC server error", logging.Error(err))
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("HTTP ops server listening", "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", logging.Error(err))
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		consuming.Store(true)
		grpcserver.SetServing(health, true)
		if err := consumer.Start(ctx); err != nil {
			logger.Error("RabbitMQ consumer error", logging.Error(err))
			cancel()
		}
		consuming.Store(false)
	}()

	<-ctx.Done()
	logger.Info("initiating shutdown")

	grpcserver.SetServing(health, false)
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", logging.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("waiting for services to shutdown")
	wg.Wait()

	stopWriter()
	writerWG.Wait()

	rel, doc := writer.Pending()
	logger.Info("flushing buffers", "relational", rel, "document", doc)
	if err := writer.Close(shutdownCtx); err != nil {
		logger.Error("records left unwritten at shutdown", logging.Error(err))
	}

	logger.Info("delivery service stopped gracefully")
	return nil
}

func newDeadLetterQueue(ctx context.Context, cfg config.DeadLetterConfig, logger *logging.Logger) (deadletter.Queue, error) {
	if !cfg.Enabled {
		return deadletter.Nop{}, nil
	}
	q, err := deadletter.NewJetStreamQueue(ctx, cfg.NatsURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dead letter queue: %w", err)
	}
	return q, nil
}

// startGRPCServer serves the health service until the server is stopped
func startGRPCServer(port string, s *grpc.Server, logger *logging.Logger) error {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", port, err)
	}

	logger.Info("gRPC server listening", "port", port)

	if err := s.Serve(listener); err != nil {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}
