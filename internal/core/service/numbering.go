package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/port"
)

const (
	numberWidth    = 6
	maxNumberProbe = 10
)

var seriesPrefix = map[domain.NumberSeries]string{
	domain.SeriesQuotation:  "QUO",
	domain.SeriesInvoice:    "INV",
	domain.SeriesSalesOrder: "SO",
	domain.SeriesPayment:    "PAY",
	domain.SeriesOrder:      domain.DefaultOrderPrefix,
}

// NumberGenerator hands out human-readable document numbers. Uniqueness is
// advisory: two concurrent writers can still read the same last number, the
// unique index on each table is the final arbiter.
type NumberGenerator struct {
	now func() time.Time
}

func NewNumberGenerator(now func() time.Time) *NumberGenerator {
	if now == nil {
		now = time.Now
	}
	return &NumberGenerator{now: now}
}

// Next returns the number after the highest existing one for the series.
// prefix overrides the series default when non-empty.
func (g *NumberGenerator) Next(ctx context.Context, repo port.NumberRepository, series domain.NumberSeries, prefix string) (string, error) {
	if prefix == "" {
		prefix = seriesPrefix[series]
	}
	head := prefix + "-"

	last, err := repo.LastNumber(ctx, series, head)
	if err != nil {
		return "", fmt.Errorf("read last %s number: %w", series, err)
	}

	seq := parseSequence(last, head)
	for i := 0; i < maxNumberProbe; i++ {
		seq++
		candidate := formatNumber(head, seq)
		exists, err := repo.NumberExists(ctx, series, candidate)
		if err != nil {
			return "", fmt.Errorf("check %s number: %w", series, err)
		}
		if !exists {
			return candidate, nil
		}
	}

	return fmt.Sprintf("%s%d", head, g.now().UnixMilli()), nil
}

func parseSequence(number, head string) int64 {
	if !strings.HasPrefix(number, head) {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(number, head), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func formatNumber(head string, seq int64) string {
	return fmt.Sprintf("%s%0*d", head, numberWidth, seq)
}
