package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	"github.com/honeynil/charity-auction/internal/ledger"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	balanceCacheTTL   = 5 * time.Minute
	balanceVersionTTL = 24 * time.Hour
)

type LedgerService interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error)
	History(ctx context.Context, userID int64) ([]models.LedgerEntry, error)
}

type ledgerService struct {
	store       repository.Store
	redisClient redis.RedisClient
}

func NewLedgerService(store repository.Store, redisClient redis.RedisClient) *ledgerService {
	return &ledgerService{store: store, redisClient: redisClient}
}

func (s *ledgerService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "GetBalance")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	balanceKey := redis.BalanceKey(userID)
	cached, err := s.redisClient.Get(ctx, balanceKey)
	switch {
	case err == nil:
		if amount, parseErr := decimal.NewFromString(cached); parseErr == nil {
			slog.Debug("balance fetched from Redis", "user_id", userID)
			return amount, nil
		}
		slog.Error("invalid cached balance", "user_id", userID, "value", cached)
	case !stderrors.Is(err, redis.ErrKeyNotFound):
		slog.Error("failed to read cached balance", "user_id", userID, "error", err)
	}

	// The version is read before the store. A change committed after the read
	// bumps it, and the fill below then leaves the cache empty.
	versionKey := redis.BalanceVersionKey(userID)
	version, err := s.redisClient.Get(ctx, versionKey)
	cacheable := err == nil || stderrors.Is(err, redis.ErrKeyNotFound)
	if !cacheable {
		slog.Error("failed to read balance version", "user_id", userID, "error", err)
	}

	balance, err := s.store.Balances().Get(ctx, userID)
	if err != nil {
		slog.Error("failed to get balance", "user_id", userID, "error", err)
		return decimal.Zero, fail(span, err, "failed to get balance")
	}

	if cacheable {
		filled, err := s.redisClient.SetIfEqual(ctx, versionKey, version, balanceKey, balance.Amount.String(), balanceCacheTTL)
		switch {
		case err != nil:
			slog.Error("failed to cache balance", "user_id", userID, "error", err)
		case !filled:
			slog.Debug("balance changed while reading, cache not filled", "user_id", userID)
		}
	}
	return balance.Amount, nil
}

func (s *ledgerService) TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "TopUp")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	var updated decimal.Decimal
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		updated, err = ledger.Credit(ctx, tx, userID, amount, ledger.Reason{Kind: models.EntryTopUp})
		return err
	})
	if err != nil {
		slog.Warn("top up rejected", "user_id", userID, "amount", amount.String(), "error", err)
		return decimal.Zero, fail(span, fmt.Errorf("failed to top up balance: %w", err), "top up rejected")
	}

	invalidateBalances(ctx, s.redisClient, userID)
	slog.Info("balance topped up", "user_id", userID, "amount", amount.String(), "balance", updated.String())
	return updated, nil
}

func (s *ledgerService) History(ctx context.Context, userID int64) ([]models.LedgerEntry, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "History")
	defer span.End()

	entries, err := s.store.Entries().ListByUser(ctx, userID)
	if err != nil {
		slog.Error("failed to list ledger entries", "user_id", userID, "error", err)
		return nil, fail(span, err, "failed to list ledger entries")
	}
	return entries, nil
}
