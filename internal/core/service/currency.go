package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/settlement/internal/port"
)

const defaultRateTTL = 15 * time.Minute

type rateSource interface {
	GetExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, bool, error)
}

// CurrencyConverter is best-effort: a missing rate is reported, never fatal.
type CurrencyConverter struct {
	rates  rateSource
	cache  port.CacheRepository
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewCurrencyConverter(rates rateSource, cache port.CacheRepository, ttl time.Duration, logger logrus.FieldLogger) *CurrencyConverter {
	if ttl <= 0 {
		ttl = defaultRateTTL
	}
	return &CurrencyConverter{rates: rates, cache: cache, ttl: ttl, logger: logger}
}

// Convert returns the amount in the target currency, or ok=false when no rate
// could be found.
func (c *CurrencyConverter) Convert(ctx context.Context, from, to string, amount decimal.Decimal) (decimal.Decimal, bool) {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	if from == "" || from == to {
		return amount, true
	}

	rate, ok := c.rate(ctx, from, to)
	if !ok {
		return decimal.Zero, false
	}
	return amount.Mul(rate), true
}

// ConvertOrKeep falls back to the unconverted amount and logs a warning.
func (c *CurrencyConverter) ConvertOrKeep(ctx context.Context, from, to string, amount decimal.Decimal) decimal.Decimal {
	converted, ok := c.Convert(ctx, from, to, amount)
	if !ok {
		c.logger.WithFields(logrus.Fields{
			"from":   from,
			"to":     to,
			"amount": amount.String(),
		}).Warn("no exchange rate, using unconverted amount")
		return amount
	}
	return converted
}

func (c *CurrencyConverter) rate(ctx context.Context, from, to string) (decimal.Decimal, bool) {
	if c.cache != nil {
		if rate, ok, err := c.cache.GetRate(ctx, from, to); err == nil && ok {
			return rate, true
		} else if err != nil {
			c.logger.WithError(err).Debug("rate cache lookup failed")
		}
	}

	rate, ok, err := c.rates.GetExchangeRate(ctx, from, to)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"from": from, "to": to}).Warn("exchange rate lookup failed")
		return decimal.Zero, false
	}
	if !ok {
		inverse, ok, err := c.rates.GetExchangeRate(ctx, to, from)
		if err != nil || !ok || inverse.IsZero() {
			return decimal.Zero, false
		}
		rate = decimal.NewFromInt(1).DivRound(inverse, 8)
	}
	if !rate.IsPositive() {
		return decimal.Zero, false
	}

	if c.cache != nil {
		if err := c.cache.SetRate(ctx, from, to, rate, c.ttl); err != nil {
			c.logger.WithError(err).Debug("rate cache write failed")
		}
	}
	return rate, true
}
