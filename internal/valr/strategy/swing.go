package strategy

import (
	"time"

	"valrtrader/pkg/valr"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultHalfWidth gives a centred window of seven buckets.
const DefaultHalfWidth = 3

type Direction string

const (
	DirectionNone Direction = "none"
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Signal is the outcome of one evaluation. Price and Quantity are only set
// for buy (best ask) and sell (best bid).
type Signal struct {
	Direction     Direction
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	SwingHigh     decimal.Decimal
	SwingLow      decimal.Decimal
	HasSwingHigh  bool
	HasSwingLow   bool
	PreviousClose decimal.Decimal
	BucketStart   time.Time // newest bucket in the evaluated history
}

// View is the read side of the state store the engine needs.
type View interface {
	Buckets() []valr.PriceBucket
	Orderbook() valr.Orderbook
}

// SwingEngine looks for a break of structure: price trading through the most
// recent swing high (buy) or swing low (sell).
type SwingEngine struct {
	halfWidth int
	logger    *zap.Logger
}

func NewSwingEngine(halfWidth int, logger *zap.Logger) *SwingEngine {
	if halfWidth <= 0 {
		halfWidth = DefaultHalfWidth
	}
	return &SwingEngine{halfWidth: halfWidth, logger: logger.Named("swing")}
}

func (e *SwingEngine) HalfWidth() int { return e.halfWidth }

// EvaluateView reads one point-in-time copy of the history and of the book.
func (e *SwingEngine) EvaluateView(v View) Signal {
	return e.Evaluate(v.Buckets(), v.Orderbook())
}

// Evaluate runs swing detection over history (oldest first) against book.
//
// The candidate at offset i is history[i], counted from the oldest end, while
// its neighbours are taken around center = len-w-1. Offsets run over [1, w).
// When several offsets qualify the last one wins.
func (e *SwingEngine) Evaluate(history []valr.PriceBucket, book valr.Orderbook) Signal {
	sig := Signal{Direction: DirectionNone}

	w := e.halfWidth
	if len(history) < 2*w+1 {
		e.logger.Debug("not enough buckets for a full window", zap.Int("have", len(history)), zap.Int("need", 2*w+1))
		return sig
	}
	bestAsk, okAsk := book.BestAsk()
	bestBid, okBid := book.BestBid()
	if !okAsk || !okBid {
		e.logger.Warn("no asks or bids available")
		return sig
	}

	newest := history[len(history)-1]
	sig.PreviousClose = newest.Close
	sig.BucketStart = newest.StartTime

	center := len(history) - w - 1
	for i := 1; i < w; i++ {
		current := history[i]
		left := history[center-i]
		right := history[center+i]

		if isSwingHigh(current, left, right) {
			sig.SwingHigh = current.High
			sig.HasSwingHigh = true
			e.logCandidate("high swing", current, left, right)
		}
		if isSwingLow(current, left, right) {
			sig.SwingLow = current.Low
			sig.HasSwingLow = true
			e.logCandidate("low swing", current, left, right)
		}
	}

	switch {
	case sig.HasSwingHigh && bestBid.Price.GreaterThan(sig.SwingHigh) && sig.PreviousClose.GreaterThan(sig.SwingHigh):
		sig.Direction = DirectionBuy
		sig.Price = bestAsk.Price
		sig.Quantity = bestAsk.Quantity
	case sig.HasSwingLow && bestAsk.Price.LessThan(sig.SwingLow) && sig.PreviousClose.LessThan(sig.SwingLow):
		sig.Direction = DirectionSell
		sig.Price = bestBid.Price
		sig.Quantity = bestBid.Quantity
	}
	return sig
}

// strictly above the left neighbour, not below the right one
func isSwingHigh(current, left, right valr.PriceBucket) bool {
	return current.High.GreaterThan(left.High) && current.High.GreaterThanOrEqual(right.High)
}

func isSwingLow(current, left, right valr.PriceBucket) bool {
	return current.Low.LessThan(left.Low) && current.Low.LessThanOrEqual(right.Low)
}

func (e *SwingEngine) logCandidate(msg string, current, left, right valr.PriceBucket) {
	if ce := e.logger.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(
			zap.Stringer("left_high", left.High), zap.Stringer("left_low", left.Low),
			zap.Stringer("current_high", current.High), zap.Stringer("current_low", current.Low),
			zap.Stringer("right_high", right.High), zap.Stringer("right_low", right.Low),
		)
	}
}
