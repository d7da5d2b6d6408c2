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
	"transflow/internal/ride-service/infrastructure/consumer"
	"transflow/internal/ride-service/infrastructure/ledgerstore"
	"transflow/internal/ride-service/infrastructure/notification"
	"transflow/internal/ride-service/infrastructure/repository"
	"transflow/internal/ride-service/ledger"
	"transflow/internal/ride-service/service"
	"transflow/pkg/cache"
	"transflow/pkg/config"
	"transflow/pkg/db"
	"transflow/pkg/logger"
	"transflow/pkg/rabbitmq"
	"transflow/pkg/websocket"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.NewLogger("ride-consumer", logger.WithLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	redisClient, err := cache.NewClient(ctx, cfg, log)
	if err != nil {
		log.Error("redis_connect_failed", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	rabbit, err := rabbitmq.NewConnection(cfg, log)
	if err != nil {
		log.Error("rabbitmq_connect_failed", err)
		os.Exit(1)
	}
	// Runs before the Redis and Postgres defers: in-flight deliveries are
	// settled while their stores are still open.
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Consumer.HandleTimeout+shutdownTimeout)
		defer cancel()
		if err := rabbit.Shutdown(drainCtx); err != nil {
			log.Error("consumer_drain_failed", err)
		}
	}()

	ledgerStore := ledgerstore.NewRedisLedgerStore(redisClient, cfg.Ledger.MarkerTTL)
	balances := ledger.New(ledgerStore,
		ledger.WithMaxAttempts(cfg.Ledger.MaxAttempts),
		ledger.WithBackoff(cfg.Ledger.BackoffBase, cfg.Ledger.BackoffMax),
		ledger.WithLogger(log),
	)

	// Drivers following their balance over websocket
	wsManager := websocket.NewManager(log)
	defer wsManager.CloseAll()
	notifier := notification.NewBalanceNotifier(wsManager, log)

	processor := service.NewRideProcessor(balances, rides, log, service.WithNotifier(notifier))
	rideConsumer := consumer.New(rabbit, processor, cfg.RabbitMQ.Queue,
		cfg.Consumer.Workers, cfg.Consumer.HandleTimeout, log)
	// Handlers outlive the signal so the drain lets them finish.
	if err := rideConsumer.StartConsuming(context.WithoutCancel(ctx)); err != nil {
		log.Error("consumer_start_failed", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws/drivers/{driver}", notifier.Handler())
	mux.HandleFunc("GET /health", handler.Health(
		handler.HealthCheck{Name: "postgres", Check: rides.Ping},
		handler.HealthCheck{Name: "redis", Check: ledgerStore.Ping},
		handler.HealthCheck{Name: "rabbitmq", Check: func(context.Context) error {
			if !rabbit.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		}},
	))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.RideConsumer),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logger.LogFields{"addr": srv.Addr}).Info("server_running", "Ride consumer listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server_shutdown", "Shutting down consumer...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server_failed", err)
		os.Exit(1)
	}
	log.Info("server_stopped", "Consumer stopped gracefully")
}
