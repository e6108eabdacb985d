package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"certmint/internal/certificate/generator"
	"certmint/internal/certificate/handler"
	certmetrics "certmint/internal/certificate/metrics"
	"certmint/internal/certificate/service"
	"certmint/internal/certificate/store"
	"certmint/internal/certificate/validator"
	"certmint/internal/credentials"
	httpapi "certmint/internal/http"
	"certmint/internal/mirror"
	"certmint/internal/outbox"
	"certmint/internal/platform/config"
	"certmint/internal/platform/httpserver"
	"certmint/internal/platform/kafka"
	"certmint/internal/platform/logger"
	"certmint/internal/platform/metrics"
	"certmint/internal/platform/postgres"
	"certmint/internal/platform/redis"
	"certmint/pkg/platform/tx"
)

// main wires the dependency graph and owns the process lifecycle. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: PostgreSQL when a DSN is configured, in-memory otherwise.
	var (
		certStore   store.Store
		outboxStore outbox.Store
		runner      service.TxRunner
	)
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		certStore = store.NewPostgres(db)
		outboxStore = outbox.NewPostgres(db)
		runner = tx.NewRunner(db, 5*time.Second)
		log.Info("certificate store on postgres")
	} else {
		certStore = store.NewInMemory()
		outboxStore = outbox.NewInMemory()
		runner = tx.Passthrough{}
		log.Info("certificate store in memory, set CERTMINT_POSTGRES_DSN for persistence")
	}

	// Mirror repair queue: Redis when configured, process-local otherwise.
	var queue mirror.RepairQueue
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		queue = mirror.NewFallbackQueue(mirror.NewRedisQueue(redisClient.Client), mirror.NewInMemoryQueue(), log)
		log.Info("mirror repair queue on redis with in-process fallback")
	} else {
		queue = mirror.NewInMemoryQueue()
	}

	artifacts := mirror.New(cfg.Mirror.Root, queue, log)

	svc := service.New(
		certStore,
		generator.New(certStore),
		validator.New(validator.Policy{MaxUsers: cfg.Policy.MaxUsers}),
		runner,
		service.WithArtifacts(artifacts),
		service.WithEventLog(outboxStore),
		service.WithLogger(log),
		service.WithMetrics(certmetrics.New()),
	)

	verifier := credentials.NewVerifier(cfg.Auth.JWTSigningKey, cfg.Auth.APIKeys)
	router := httpapi.New(handler.New(svc, log), verifier, metrics.New(), log)
	srv := httpserver.New(cfg.Server, router)

	group, groupCtx := errgroup.WithContext(ctx)

	// Outbox relay: runs only when brokers are configured.
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	if producer != nil {
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
			return fmt.Errorf("ensure events topic: %w", err)
		}
		relay := outbox.NewRelay(outboxStore, producer, log,
			outbox.WithInterval(cfg.Relay.Interval),
			outbox.WithBatchSize(cfg.Relay.BatchSize))
		group.Go(func() error {
			if err := relay.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("outbox relay: %w", err)
			}
			return nil
		})
		log.Info("outbox relay started", "topic", cfg.Kafka.Topic, "interval", cfg.Relay.Interval.String())
	}

	group.Go(func() error {
		log.Info("starting certmint server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
