package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/redis/go-redis/v9"
)

var ErrKeyNotFound = stderrors.New("key not found")

//go:generate mockgen -source=client.go -destination=mocks/mock_client.go -package=mocks

// RedisClient defines the Redis operations used for caching, idempotency
// keys and advisory locks.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// DelIfEqual deletes key only while it still holds value.
	DelIfEqual(ctx context.Context, key, value string) (bool, error)
	// Incr increments the counter at key and refreshes its expiration.
	Incr(ctx context.Context, key string, expiration time.Duration) (int64, error)
	// SetIfEqual stores value at key only while guardKey still holds
	// guardValue. An empty guardValue matches a missing guardKey.
	SetIfEqual(ctx context.Context, guardKey, guardValue, key string, value interface{}, expiration time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

var (
	delIfEqualScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	setIfEqualScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1]) or ""
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1`)
)

// Client is the implementation of RedisClient.
type Client struct {
	client *redis.Client
}

func NewClient(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("failed to connect to Redis", "addr", addr, "error", err)
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	slog.Info("connected to Redis", "addr", addr)
	return &Client{client: client}, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, expiration).Result()
}

func (c *Client) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *Client) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	n, err := delIfEqualScript.Run(ctx, c.client, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) Incr(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, expiration)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *Client) SetIfEqual(ctx context.Context, guardKey, guardValue, key string, value interface{}, expiration time.Duration) (bool, error) {
	n, err := setIfEqualScript.Run(ctx, c.client, []string{guardKey, key}, guardValue, value, expiration.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func BalanceKey(userID int64) string { return fmt.Sprintf("balance:user:%d", userID) }

// BalanceVersionKey counts committed balance changes of a user. Cache fills
// are guarded by it.
func BalanceVersionKey(userID int64) string { return fmt.Sprintf("balance:user:%d:version", userID) }

func RequestKey(requestID string) string { return "request:" + requestID }

func SettlementLockKey(auctionID int64) string {
	return fmt.Sprintf("settlement:auction:%d", auctionID)
}

func ReminderKey(auctionID, userID int64) string {
	return fmt.Sprintf("reminder:auction:%d:user:%d", auctionID, userID)
}

func RevokedTokenKey(tokenID string) string { return "auth:revoked:" + tokenID }
