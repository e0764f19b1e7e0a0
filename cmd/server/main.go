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

	"github.com/honeynil/charity-auction/internal/api"
	"github.com/honeynil/charity-auction/internal/config"
	"github.com/honeynil/charity-auction/internal/handler"
	"github.com/honeynil/charity-auction/internal/infrastructure/kafka"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	"github.com/honeynil/charity-auction/internal/observability"
	"github.com/honeynil/charity-auction/internal/repository"
	"github.com/honeynil/charity-auction/internal/repository/memory"
	"github.com/honeynil/charity-auction/internal/repository/postgres"
	service "github.com/honeynil/charity-auction/internal/services"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	shutdownTracing := observability.Setup("charity-auction", cfg)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("failed to shut down tracing", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient, err := redis.NewClient(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic, cfg.NotificationsTopic)
	defer producer.Close()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.NotificationsTopic, cfg.ConsumerGroup, kafka.LogSender{}, store.Notifications())
	defer consumer.Close()

	settlement := service.NewSettlementService(store, redisClient, producer, cfg.SettlementLockTTL)
	h := handler.NewHandler(handler.Services{
		Ledger:      service.NewLedgerService(store, redisClient),
		Bids:        service.NewBidService(store, redisClient, producer),
		Settlement:  settlement,
		Fulfillment: service.NewFulfillmentService(store, producer),
		Tickets:     service.NewTicketService(store, redisClient, producer),
		Moderation:  service.NewModerationService(store, producer),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.SetupRouter(h, redisClient, cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		slog.Info("server stopped")
		return nil
	})
	g.Go(func() error {
		return service.NewSweeper(settlement, cfg.SettlementInterval, cfg.ReminderWindow).Run(gctx)
	})
	g.Go(func() error {
		return consumer.Consume(gctx)
	})

	return g.Wait()
}

// openStore picks the repository backend. The memory store keeps nothing
// across restarts and is meant for local runs.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("using in-memory store")
		return memory.NewStore(), func() {}, nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
