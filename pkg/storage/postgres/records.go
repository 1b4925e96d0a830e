package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

// BucketRecord is one tracked price bucket. The latest update for a
// (symbol, period, start) key wins.
type BucketRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol        string    `gorm:"type:text;not null;index:idx_bucket_key,unique"`
	PeriodSeconds int       `gorm:"not null;index:idx_bucket_key,unique"`
	StartTime     time.Time `gorm:"not null;index:idx_bucket_key,unique"`

	Open        decimal.Decimal `gorm:"type:numeric;not null"`
	High        decimal.Decimal `gorm:"type:numeric;not null"`
	Low         decimal.Decimal `gorm:"type:numeric;not null"`
	Close       decimal.Decimal `gorm:"type:numeric;not null"`
	Volume      decimal.Decimal `gorm:"type:numeric"`
	QuoteVolume decimal.Decimal `gorm:"type:numeric"`

	RecordedAt time.Time `gorm:"autoUpdateTime"`
}

func (BucketRecord) TableName() string {
	return "price_bucket"
}

// SignalRecord is one buy or sell decision.
type SignalRecord struct {
	ID uint `gorm:"primaryKey"`

	Pair        string    `gorm:"type:text;not null;index:idx_signal_pair_bucket"`
	BucketStart time.Time `gorm:"index:idx_signal_pair_bucket"`
	Direction   string    `gorm:"type:varchar(8);not null"`

	Price         decimal.Decimal `gorm:"type:numeric;not null"`
	Quantity      decimal.Decimal `gorm:"type:numeric;not null"`
	SwingHigh     decimal.Decimal `gorm:"type:numeric"`
	SwingLow      decimal.Decimal `gorm:"type:numeric"`
	PreviousClose decimal.Decimal `gorm:"type:numeric"`

	RecordedAt time.Time `gorm:"autoCreateTime;index:idx_signal_recorded_at"`
}

func (SignalRecord) TableName() string {
	return "trade_signal"
}
