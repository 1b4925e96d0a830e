package postgres

import (
	"context"
	"time"

	"valrtrader/internal/valr/strategy"
	"valrtrader/pkg/valr"

	"gorm.io/gorm/clause"
)

// RecordBucket upserts b. Replaying the same bucket leaves one row.
func (c *Client) RecordBucket(ctx context.Context, b valr.PriceBucket) error {
	record := ToBucketRecord(b)
	return c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "period_seconds"},
			{Name: "start_time"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"open", "high", "low", "close", "volume", "quote_volume", "recorded_at",
		}),
	}).Create(record).Error
}

func (c *Client) RecordSignal(ctx context.Context, pair string, sig strategy.Signal) error {
	return c.DB.WithContext(ctx).Create(ToSignalRecord(pair, sig)).Error
}

// Buckets returns journalled buckets for symbol and period from since onwards, oldest first.
func (c *Client) Buckets(ctx context.Context, symbol string, periodSeconds int, since time.Time) ([]BucketRecord, error) {
	var out []BucketRecord
	err := c.DB.WithContext(ctx).
		Where("symbol = ? AND period_seconds = ? AND start_time >= ?", symbol, periodSeconds, since).
		Order("start_time").
		Find(&out).Error
	return out, err
}

// RecentSignals returns up to limit decisions for pair, newest first.
func (c *Client) RecentSignals(ctx context.Context, pair string, limit int) ([]SignalRecord, error) {
	var out []SignalRecord
	err := c.DB.WithContext(ctx).
		Where("pair = ?", pair).
		Order("recorded_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteBucketsBefore prunes the bucket journal.
func (c *Client) DeleteBucketsBefore(ctx context.Context, before time.Time) (int64, error) {
	tx := c.DB.WithContext(ctx).Where("start_time < ?", before).Delete(&BucketRecord{})
	return tx.RowsAffected, tx.Error
}

func ToBucketRecord(b valr.PriceBucket) *BucketRecord {
	return &BucketRecord{
		Symbol:        b.Symbol,
		PeriodSeconds: b.PeriodSeconds,
		StartTime:     b.StartTime.UTC(),
		Open:          b.Open,
		High:          b.High,
		Low:           b.Low,
		Close:         b.Close,
		Volume:        b.Volume,
		QuoteVolume:   b.QuoteVolume,
	}
}

func ToSignalRecord(pair string, sig strategy.Signal) *SignalRecord {
	return &SignalRecord{
		Pair:          pair,
		BucketStart:   sig.BucketStart.UTC(),
		Direction:     string(sig.Direction),
		Price:         sig.Price,
		Quantity:      sig.Quantity,
		SwingHigh:     sig.SwingHigh,
		SwingLow:      sig.SwingLow,
		PreviousClose: sig.PreviousClose,
	}
}
