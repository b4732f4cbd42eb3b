package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	rateKeyPrefix     = "fx:"
	idempotencyKeyTTL = 24 * time.Hour
)

type RedisAdapter struct {
	client *redis.Client
	locker *redislock.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, locker: redislock.New(client)}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) GetRate(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	raw, err := r.client.Get(ctx, rateKey(from, to)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		// a corrupt entry behaves like a miss and gets overwritten
		return decimal.Zero, false, nil
	}
	return rate, true, nil
}

func (r *RedisAdapter) SetRate(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error {
	return r.client.Set(ctx, rateKey(from, to), rate.String(), ttl).Err()
}

// Obtain takes a non-blocking lock. A lock held elsewhere is reported as
// ok=false rather than an error.
func (r *RedisAdapter) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, err := r.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, true, nil
}

func rateKey(from, to string) string {
	return rateKeyPrefix + from + ":" + to
}
