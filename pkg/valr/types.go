package valr

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBucket is an OHLC aggregate for one pair over PeriodSeconds starting at StartTime.
// A bucket is identified by (Symbol, PeriodSeconds, StartTime).
type PriceBucket struct {
	Symbol        string          `json:"currencyPairSymbol"`    // e.g. "BTCZAR"
	PeriodSeconds int             `json:"bucketPeriodInSeconds"` // e.g. 60, 300
	StartTime     time.Time       `json:"startTime"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	Volume        decimal.Decimal `json:"volume"`      // zero for mark price buckets
	QuoteVolume   decimal.Decimal `json:"quoteVolume"` // zero for mark price buckets
}

// Level is one [price, quantity] entry on a book side.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Orderbook is a consistent view of both top-of-book sides, best price first.
type Orderbook struct {
	Asks       []Level
	Bids       []Level
	LastChange time.Time
}

// BestAsk returns the lowest ask, if any.
func (o Orderbook) BestAsk() (Level, bool) {
	if len(o.Asks) == 0 {
		return Level{}, false
	}
	return o.Asks[0], true
}

// BestBid returns the highest bid, if any.
func (o Orderbook) BestBid() (Level, bool) {
	if len(o.Bids) == 0 {
		return Level{}, false
	}
	return o.Bids[0], true
}

// Balance is the latest known balance of one currency.
type Balance struct {
	Currency  string
	Available decimal.Decimal
	Reserved  decimal.Decimal
	Total     decimal.Decimal
	UpdatedAt time.Time
}

// Order is the account view of an open order. Display only.
type Order struct {
	OrderID           string
	Side              string
	Type              string
	Price             decimal.Decimal
	OriginalQuantity  decimal.Decimal
	RemainingQuantity decimal.Decimal
	FilledPercentage  decimal.Decimal
	Status            string
	CurrencyPair      string
	TimeInForce       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
