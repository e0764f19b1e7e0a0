package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	kafkamocks "github.com/honeynil/charity-auction/internal/infrastructure/kafka/mocks"
	"github.com/honeynil/charity-auction/internal/infrastructure/redis"
	redismocks "github.com/honeynil/charity-auction/internal/infrastructure/redis/mocks"
	"github.com/honeynil/charity-auction/internal/models"
	"github.com/honeynil/charity-auction/internal/repository"
	"github.com/honeynil/charity-auction/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store     *memory.Store
	redis     *redismocks.MockRedisClient
	publisher *kafkamocks.MockPublisher

	mu            sync.Mutex
	keys          map[string]string
	events        []models.AuctionEvent
	notifications []models.Notification
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	return &testEnv{
		store:     memory.NewStore(),
		redis:     redismocks.NewMockRedisClient(ctrl),
		publisher: kafkamocks.NewMockPublisher(ctrl),
		keys:      make(map[string]string),
	}
}

// withRedis backs the Redis mock with a map so SETNX and cache reads behave
// like the real thing. Call it after registering any specific expectations.
func (e *testEnv) withRedis() *testEnv {
	e.redis.EXPECT().SetNX(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.keys[key]; ok {
				return false, nil
			}
			e.keys[key] = toString(value)
			return true, nil
		}).AnyTimes()
	e.redis.EXPECT().Get(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string) (string, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			v, ok := e.keys[key]
			if !ok {
				return "", redis.ErrKeyNotFound
			}
			return v, nil
		}).AnyTimes()
	e.redis.EXPECT().SetIfEqual(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, guardKey, guardValue, key string, value interface{}, _ time.Duration) (bool, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.keys[guardKey] != guardValue {
				return false, nil
			}
			e.keys[key] = toString(value)
			return true, nil
		}).AnyTimes()
	e.redis.EXPECT().Incr(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string, _ time.Duration) (int64, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			n, _ := strconv.ParseInt(e.keys[key], 10, 64)
			n++
			e.keys[key] = strconv.FormatInt(n, 10)
			return n, nil
		}).AnyTimes()
	e.redis.EXPECT().DelIfEqual(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key, value string) (bool, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if v, ok := e.keys[key]; !ok || v != value {
				return false, nil
			}
			delete(e.keys, key)
			return true, nil
		}).AnyTimes()
	e.redis.EXPECT().Del(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.keys, key)
			return nil
		}).AnyTimes()
	return e
}

func (e *testEnv) withPublisher() *testEnv {
	e.publisher.EXPECT().PublishEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev models.AuctionEvent) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.events = append(e.events, ev)
			return nil
		}).AnyTimes()
	e.publisher.EXPECT().PublishNotification(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n models.Notification) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.notifications = append(e.notifications, n)
			return nil
		}).AnyTimes()
	return e
}

func (e *testEnv) key(key string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keys[key]
}

func (e *testEnv) setKey(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys[key] = value
}

func (e *testEnv) hasKey(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.keys[key]
	return ok
}

func (e *testEnv) publishedEvents(typ models.EventType) []models.AuctionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.AuctionEvent
	for _, ev := range e.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (e *testEnv) publishedTo(userID int64) []models.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Notification
	for _, n := range e.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// auctionFixture is one active auction ending an hour after base with a
// single approved lot starting at 100.
type auctionFixture struct {
	charity, donor int64
	auction, lot   int64
}

func (e *testEnv) seedAuction(t *testing.T) auctionFixture {
	t.Helper()
	var f auctionFixture
	f.charity = e.store.AddUser(models.User{Role: models.RoleCharity, Username: "charity"}, decimal.Zero)
	f.donor = e.store.AddUser(models.User{Role: models.RoleDonor, Username: "donor"}, decimal.Zero)
	f.auction = e.store.AddAuction(models.Auction{
		CharityUserID: f.charity,
		Name:          "Spring gala",
		StartTime:     base.Add(-24 * time.Hour),
		EndTime:       base.Add(time.Hour),
	})
	f.lot = e.store.AddLot(models.Lot{
		AuctionID:     f.auction,
		DonorID:       f.donor,
		Title:         "Painting",
		StartingPrice: dec("100"),
		Status:        models.LotApproved,
	})
	return f
}

func (e *testEnv) addBuyer(t *testing.T, balance string) int64 {
	t.Helper()
	return e.store.AddUser(models.User{Role: models.RoleBuyer}, dec(balance))
}

func (e *testEnv) bidService(now time.Time) *bidService {
	s := NewBidService(e.store, e.redis, e.publisher)
	s.now = func() time.Time { return now }
	return s
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func assertBalance(t *testing.T, e *testEnv, userID int64, want string) {
	t.Helper()
	b, err := e.store.Balances().Get(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(dec(want)), "user %d balance: want %s, got %s", userID, want, b.Amount)
}

// hookedStore wraps the memory store. afterBalanceRead runs once a balance
// has been read outside a unit of work; brokenBalance makes every balance
// write of that user fail inside units of work.
type hookedStore struct {
	*memory.Store
	afterBalanceRead func(userID int64)
	brokenBalance    int64
	beforeTx         func()
}

func (s *hookedStore) Balances() repository.BalanceRepository {
	return hookedBalances{BalanceRepository: s.Store.Balances(), after: s.afterBalanceRead}
}

func (s *hookedStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if s.beforeTx != nil {
		s.beforeTx()
	}
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, hookedTx{Tx: tx, broken: s.brokenBalance})
	})
}

type hookedTx struct {
	repository.Tx
	broken int64
}

func (t hookedTx) Balances() repository.BalanceRepository {
	return hookedBalances{BalanceRepository: t.Tx.Balances(), broken: t.broken}
}

type hookedBalances struct {
	repository.BalanceRepository
	after  func(userID int64)
	broken int64
}

func (b hookedBalances) Get(ctx context.Context, userID int64) (*models.Balance, error) {
	balance, err := b.BalanceRepository.Get(ctx, userID)
	if err == nil && b.after != nil {
		b.after(userID)
	}
	return balance, err
}

func (b hookedBalances) SetAmount(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if b.broken != 0 && userID == b.broken {
		return fmt.Errorf("balance row of user %d is gone", userID)
	}
	return b.BalanceRepository.SetAmount(ctx, userID, amount)
}
