package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key whose request failed so it can be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// GetRate returns a cached exchange rate, ok=false on miss
	GetRate(ctx context.Context, from, to string) (decimal.Decimal, bool, error)

	SetRate(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error
}

// Locker hands out short-lived distributed locks. release is nil when the
// lock was not obtained.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
