package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	"github.com/honeynil/charity-auction/internal/models"
	pkgerrors "github.com/honeynil/charity-auction/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerService_GetBalance(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		mock  func(e *testEnv, userID int64)
		want  string
		isErr bool
	}{
		{
			name: "cache hit",
			mock: func(e *testEnv, userID int64) {
				e.redis.EXPECT().Get(gomock.Any(), redis.BalanceKey(userID)).Return("42.50", nil)
			},
			want: "42.50",
		},
		{
			name: "cache miss reads store and fills cache",
			mock: func(e *testEnv, userID int64) {
				e.redis.EXPECT().Get(gomock.Any(), redis.BalanceKey(userID)).Return("", redis.ErrKeyNotFound)
				e.redis.EXPECT().Get(gomock.Any(), redis.BalanceVersionKey(userID)).Return("3", nil)
				e.redis.EXPECT().
					SetIfEqual(gomock.Any(), redis.BalanceVersionKey(userID), "3", redis.BalanceKey(userID), "75", balanceCacheTTL).
					Return(true, nil)
			},
			want: "75",
		},
		{
			name: "balance changed while reading",
			mock: func(e *testEnv, userID int64) {
				e.redis.EXPECT().Get(gomock.Any(), redis.BalanceKey(userID)).Return("", redis.ErrKeyNotFound)
				e.redis.EXPECT().Get(gomock.Any(), redis.BalanceVersionKey(userID)).Return("3", nil)
				e.redis.EXPECT().
					SetIfEqual(gomock.Any(), redis.BalanceVersionKey(userID), "3", redis.BalanceKey(userID), "75", balanceCacheTTL).
					Return(false, nil)
			},
			want: "75",
		},
		{
			name: "redis down falls back to store without caching",
			mock: func(e *testEnv, userID int64) {
				e.redis.EXPECT().Get(gomock.Any(), redis.BalanceKey(userID)).Return("", fmt.Errorf("connection refused"))
				e.redis.EXPECT().Get(gomock.Any(), redis.BalanceVersionKey(userID)).Return("", fmt.Errorf("connection refused"))
			},
			want: "75",
		},
		{
			name: "corrupt cache entry is ignored",
			mock: func(e *testEnv, userID int64) {
				e.redis.EXPECT().Get(gomock.Any(), redis.BalanceKey(userID)).Return("not-a-number", nil)
				e.redis.EXPECT().Get(gomock.Any(), redis.BalanceVersionKey(userID)).Return("", redis.ErrKeyNotFound)
				e.redis.EXPECT().
					SetIfEqual(gomock.Any(), redis.BalanceVersionKey(userID), "", redis.BalanceKey(userID), "75", balanceCacheTTL).
					Return(true, nil)
			},
			want: "75",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			userID := e.addBuyer(t, "75")
			tt.mock(e, userID)

			got, err := NewLedgerService(e.store, e.redis).GetBalance(ctx, userID)
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tt.want)), "want %s, got %s", tt.want, got)
		})
	}
}

func TestLedgerService_GetBalanceUnknownUser(t *testing.T) {
	e := newTestEnv(t).withRedis()

	_, err := NewLedgerService(e.store, e.redis).GetBalance(context.Background(), 404)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

// A top-up committed between the store read and the cache fill must not
// leave the older balance cached.
func TestLedgerService_TopUpDuringCacheFill(t *testing.T) {
	e := newTestEnv(t).withRedis()
	userID := e.addBuyer(t, "100")
	ctx := context.Background()
	writer := NewLedgerService(e.store, e.redis)

	var once sync.Once
	store := &hookedStore{Store: e.store}
	store.afterBalanceRead = func(id int64) {
		once.Do(func() {
			_, err := writer.TopUp(ctx, id, dec("50"))
			require.NoError(t, err)
		})
	}
	reader := NewLedgerService(store, e.redis)

	raced, err := reader.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, raced.Equal(dec("100")))
	assert.False(t, e.hasKey(redis.BalanceKey(userID)))

	fresh, err := reader.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, fresh.Equal(dec("150")))
	assert.Equal(t, "150", e.key(redis.BalanceKey(userID)))

	cached, err := reader.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, cached.Equal(dec("150")))
}

func TestLedgerService_TopUp(t *testing.T) {
	e := newTestEnv(t)
	userID := e.addBuyer(t, "10")
	gomock.InOrder(
		e.redis.EXPECT().Incr(gomock.Any(), redis.BalanceVersionKey(userID), balanceVersionTTL).Return(int64(1), nil),
		e.redis.EXPECT().Del(gomock.Any(), redis.BalanceKey(userID)).Return(nil),
	)
	s := NewLedgerService(e.store, e.redis)
	ctx := context.Background()

	updated, err := s.TopUp(ctx, userID, dec("25.50"))
	require.NoError(t, err)
	assert.True(t, updated.Equal(dec("35.50")))
	assertBalance(t, e, userID, "35.50")

	_, err = s.TopUp(ctx, userID, dec("0"))
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	_, err = s.TopUp(ctx, userID, dec("-5"))
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	assertBalance(t, e, userID, "35.50")

	history, err := s.History(ctx, userID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.EntryTopUp, history[0].Kind)
	assert.True(t, history[0].Amount.Equal(dec("25.50")))
}
