package main

import (
	"context"
	"fmt"
	"time"

	"github.com/honeynil/charity-auction/internal/config"
	"github.com/honeynil/charity-auction/internal/infrastructure/kafka"
	"github.com/honeynil/charity-auction/internal/infrastructure/observability"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	"github.com/honeynil/charity-auction/internal/repository/postgres"
	service "github.com/honeynil/charity-auction/internal/services"
	"github.com/spf13/cobra"
)

var atFlag string

var rootCmd = &cobra.Command{
	Use:          "auctionctl",
	Short:        "Operate charity auction settlement",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&atFlag, "at", "", "reference time in RFC3339 (default: now)")
	rootCmd.AddCommand(settleCmd, remindCmd)
}

// referenceTime resolves --at.
func referenceTime() (time.Time, error) {
	if atFlag == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, atFlag)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at: %w", err)
	}
	return t, nil
}

// withSettlement wires the settlement service against the configured
// Postgres, Redis and Kafka and releases them when fn returns.
func withSettlement(ctx context.Context, fn func(service.SettlementService) error) error {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel)

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := redis.NewClient(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic, cfg.NotificationsTopic)
	defer producer.Close()

	return fn(service.NewSettlementService(postgres.NewStore(db), redisClient, producer, cfg.SettlementLockTTL))
}
