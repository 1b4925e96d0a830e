package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"valrtrader/internal/valr/memorystore"
	"valrtrader/pkg/valr"

	"go.uber.org/zap"
)

// Source is the REST surface the loader needs.
type Source interface {
	GetMarkPriceBuckets(ctx context.Context, pair string, period valr.BucketPeriod, start, end time.Time) ([]valr.PriceBucket, error)
	GetOpenOrders(ctx context.Context) ([]valr.Order, error)
}

// Loader seeds the store before any session starts streaming.
type Loader struct {
	Source   Source
	Store    *memorystore.Store
	Pair     string
	Period   valr.BucketPeriod
	Lookback time.Duration
	Timeout  time.Duration
	Logger   *zap.Logger

	now func() time.Time
}

// LoadBuckets fetches [now-Lookback, now] and seeds the store oldest first.
// It returns the number of buckets seeded.
func (l *Loader) LoadBuckets(ctx context.Context) (int, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	end := l.clock()
	start := end.Add(-l.Lookback)

	buckets, err := l.Source.GetMarkPriceBuckets(ctx, l.Pair, l.Period, start, end)
	if err != nil {
		l.Logger.Error("failed to load historical buckets", zap.String("pair", l.Pair), zap.Error(err))
		return 0, fmt.Errorf("backfill %s: %w", l.Pair, err)
	}

	l.Store.Seed(buckets)

	l.Logger.Info("loaded historical buckets",
		zap.String("pair", l.Pair),
		zap.String("period", l.Period.Label()),
		zap.Int("count", len(buckets)),
		zap.Time("start", start),
		zap.Time("end", end))
	return len(buckets), nil
}

// LoadOpenOrders replaces the store's open orders with those for Pair.
func (l *Loader) LoadOpenOrders(ctx context.Context) (int, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	orders, err := l.Source.GetOpenOrders(ctx)
	if err != nil {
		l.Logger.Error("failed to load open orders", zap.Error(err))
		return 0, fmt.Errorf("open orders: %w", err)
	}

	mine := make([]valr.Order, 0, len(orders))
	for _, o := range orders {
		if strings.EqualFold(o.CurrencyPair, l.Pair) {
			mine = append(mine, o)
		}
	}
	l.Store.ReplaceOpenOrders(mine)

	l.Logger.Info("loaded open orders", zap.String("pair", l.Pair), zap.Int("count", len(mine)), zap.Int("total", len(orders)))
	return len(mine), nil
}

func (l *Loader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.Timeout)
}

func (l *Loader) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}
