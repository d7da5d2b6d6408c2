package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transflow/internal/ride-service/handler"
	"transflow/internal/ride-service/infrastructure/ledgerstore"
	"transflow/internal/ride-service/infrastructure/messaging"
	"transflow/internal/ride-service/infrastructure/repository"
	"transflow/internal/ride-service/ledger"
	"transflow/internal/ride-service/service"
	"transflow/pkg/cache"
	"transflow/pkg/config"
	"transflow/pkg/db"
	"transflow/pkg/logger"
	"transflow/pkg/rabbitmq"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Load config
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.NewLogger("ride-service", logger.WithLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	dbConn, err := db.NewConnection(ctx, cfg, log)
	if err != nil {
		log.Error("db_connect_failed", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	rides := repository.NewPostgresRideRepository(dbConn)
	if err := rides.EnsureSchema(ctx); err != nil {
		log.Error("db_schema_failed", err)
		os.Exit(1)
	}

	// Connect to Redis
	redisClient, err := cache.NewClient(ctx, cfg, log)
	if err != nil {
		log.Error("redis_connect_failed", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Connect to RabbitMQ
	rabbit, err := rabbitmq.NewConnection(cfg, log)
	if err != nil {
		log.Error("rabbitmq_connect_failed", err)
		os.Exit(1)
	}
	defer rabbit.Close()

	ledgerStore := ledgerstore.NewRedisLedgerStore(redisClient, cfg.Ledger.MarkerTTL)
	balances := ledger.New(ledgerStore,
		ledger.WithMaxAttempts(cfg.Ledger.MaxAttempts),
		ledger.WithBackoff(cfg.Ledger.BackoffBase, cfg.Ledger.BackoffMax),
		ledger.WithLogger(log),
	)

	publisher := messaging.NewRabbitMQEventPublisher(rabbit, cfg.RabbitMQ.Queue, log)
	createRide := service.NewCreateRideUseCase(publisher, log)

	// Setup routes
	mux := http.NewServeMux()
	handler.NewRideHandler(createRide, rides, balances, log).Register(mux)
	mux.HandleFunc("GET /health", handler.Health(
		handler.HealthCheck{Name: "postgres", Check: rides.Ping},
		handler.HealthCheck{Name: "redis", Check: ledgerStore.Ping},
		handler.HealthCheck{Name: "rabbitmq", Check: rabbitCheck(rabbit)},
	))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.RideService),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logger.LogFields{"addr": srv.Addr}).Info("server_running", "Ride Service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server_shutdown", "Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server_failed", err)
		os.Exit(1)
	}
	log.Info("server_stopped", "Server stopped gracefully")
}

func rabbitCheck(rabbit *rabbitmq.Connection) func(context.Context) error {
	return func(context.Context) error {
		if !rabbit.IsConnected() {
			return rabbitmq.ErrNotConnected
		}
		return nil
	}
}
