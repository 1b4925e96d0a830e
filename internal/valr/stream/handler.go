package stream

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"valrtrader/internal/metrics"
	"valrtrader/internal/valr/memorystore"
	"valrtrader/internal/valr/strategy"
	"valrtrader/pkg/valr"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BucketJournal persists tracked buckets. Optional.
type BucketJournal interface {
	RecordBucket(ctx context.Context, b valr.PriceBucket) error
}

type Config struct {
	Pair          string
	TrackedPeriod valr.BucketPeriod
	Store         *memorystore.Store
	Engine        *strategy.SwingEngine
	Executor      strategy.Executor
	Journal       BucketJournal
	Logger        *zap.Logger
}

// Dispatcher routes decoded frames into the store and triggers the engine on
// every tracked bucket. One Dispatcher serves all sessions of a process.
type Dispatcher struct {
	cfg    Config
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.TrackedPeriod == 0 {
		cfg.TrackedPeriod = valr.Period1Min
	}
	return &Dispatcher{cfg: cfg, logger: cfg.Logger.Named("dispatch")}
}

// Handler returns the frame handler for one named session. Journal writes and
// executor calls run under ctx, not under the context of the session that
// delivered the frame.
func (d *Dispatcher) Handler(ctx context.Context, session string) valr.MessageHandler {
	logger := d.logger.With(zap.String("session", session))
	return func(_ context.Context, frame []byte) {
		d.handle(ctx, session, logger, frame)
	}
}

// Wait blocks until every in-flight signal evaluation has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, session string, logger *zap.Logger, frame []byte) {
	ev, err := valr.DecodeEvent(frame)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues(session).Inc()
		var decErr *valr.DecodeError
		if errors.As(err, &decErr) {
			logger.Warn("skipping malformed frame", zap.String("type", decErr.Type), zap.Error(decErr.Err))
		} else {
			logger.Warn("skipping malformed frame", zap.Error(err))
		}
		return
	}
	metrics.FramesTotal.WithLabelValues(session, ev.EventType()).Inc()

	switch e := ev.(type) {
	case valr.NewTradeBucketEvent:
		d.onBucket(ctx, logger, e.Bucket)
	case valr.OrderbookSnapshotEvent:
		d.cfg.Store.ReplaceOrderbook(e.Book)
	case valr.BalanceUpdateEvent:
		d.cfg.Store.UpsertBalance(e.Balance)
		logger.Debug("balance updated",
			zap.String("currency", e.Balance.Currency),
			zap.Stringer("available", e.Balance.Available),
			zap.Stringer("total", e.Balance.Total))
	case valr.OpenOrdersUpdateEvent:
		d.cfg.Store.ReplaceOpenOrders(e.Orders)
		logger.Info("open orders updated", zap.Int("count", len(e.Orders)))
		for _, o := range e.Orders {
			logger.Debug("open order",
				zap.String("order_id", o.OrderID),
				zap.String("pair", o.CurrencyPair),
				zap.String("side", o.Side),
				zap.Stringer("price", o.Price),
				zap.Stringer("remaining", o.RemainingQuantity),
				zap.String("status", o.Status))
		}
	case valr.AuthenticatedEvent:
		logger.Info("authenticated")
	case valr.SubscribedEvent:
		logger.Info("subscribed")
	case valr.PongEvent:
		logger.Debug("pong")
	case valr.UnsupportedEvent:
		logger.Warn("exchange rejected a request", zap.String("message", e.Message))
	case valr.UnrecognizedEvent:
		logger.Debug("ignoring event", zap.String("type", e.Type))
	}
}

func (d *Dispatcher) onBucket(ctx context.Context, logger *zap.Logger, b valr.PriceBucket) {
	period := strconv.Itoa(b.PeriodSeconds)
	if valr.BucketPeriod(b.PeriodSeconds) != d.cfg.TrackedPeriod {
		metrics.BucketsTotal.WithLabelValues(period, "false").Inc()
		return
	}
	if d.cfg.Pair != "" && b.Symbol != "" && b.Symbol != d.cfg.Pair {
		logger.Debug("bucket for another pair", zap.String("pair", b.Symbol))
		return
	}
	metrics.BucketsTotal.WithLabelValues(period, "true").Inc()

	store := d.cfg.Store
	if last, ok := store.LastBucket(); ok {
		logger.Info("trade bucket update",
			zap.String("pair", b.Symbol),
			zap.Stringer("close", b.Close), zap.String("close_dir", direction(last.Close, b.Close)),
			zap.Stringer("high", b.High), zap.String("high_dir", direction(last.High, b.High)),
			zap.Stringer("low", b.Low), zap.String("low_dir", direction(last.Low, b.Low)),
			zap.Time("start_time", b.StartTime))
	} else {
		logger.Info("trade bucket update",
			zap.String("pair", b.Symbol),
			zap.Stringer("close", b.Close),
			zap.Stringer("high", b.High),
			zap.Stringer("low", b.Low),
			zap.Time("start_time", b.StartTime))
	}

	store.UpsertBucket(b)
	// Snapshot before handing off: the evaluation must see this bucket and
	// nothing that arrives after it.
	history, book := store.Buckets(), store.Orderbook()
	metrics.StoredBuckets.Set(float64(len(history)))

	if d.cfg.Journal != nil {
		if err := d.cfg.Journal.RecordBucket(ctx, b); err != nil {
			logger.Warn("failed to journal bucket", zap.Error(err))
		}
	}

	if d.cfg.Engine == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sig := d.cfg.Engine.Evaluate(history, book)
		metrics.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
		if sig.Direction == strategy.DirectionNone || d.cfg.Executor == nil {
			return
		}
		if err := d.cfg.Executor.Execute(ctx, d.cfg.Pair, sig); err != nil {
			logger.Warn("executor failed", zap.String("direction", string(sig.Direction)), zap.Error(err))
		}
	}()
}

// direction marks how a value moved against the previous bucket.
func direction(prev, next decimal.Decimal) string {
	switch next.Cmp(prev) {
	case 1:
		return "up"
	case -1:
		return "down"
	}
	return "flat"
}
