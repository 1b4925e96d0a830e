package trader

import (
	"context"
	"fmt"
	"time"

	"valrtrader/config"
	"valrtrader/internal/metrics"
	"valrtrader/internal/valr/memorystore"
	"valrtrader/internal/valr/snapshot"
	"valrtrader/internal/valr/strategy"
	"valrtrader/internal/valr/stream"
	"valrtrader/pkg/storage/postgres"
	"valrtrader/pkg/valr"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const strategyBreakOfStructure = "break_of_structure"

// Trader wires backfill, the two stream sessions, the dispatcher and the
// signal engine around one shared store.
type Trader struct {
	cfg    *config.Config
	logger *zap.Logger

	store      *memorystore.Store
	factory    *valr.SessionFactory
	rest       *valr.RESTClient
	dispatcher *stream.Dispatcher
	loader     *snapshot.Loader
	journal    *postgres.Client

	trackedPeriod valr.BucketPeriod
}

// New validates cfg and builds every component. Storage is opened here so
// that a bad DSN fails before any connection to the exchange is made.
func New(cfg *config.Config, logger *zap.Logger) (*Trader, error) {
	if cfg.Strategy.Name != strategyBreakOfStructure {
		return nil, &config.ConfigError{Field: "strategy.name", Err: fmt.Errorf("%w: strategy %q not supported", config.ErrInvalid, cfg.Strategy.Name)}
	}
	tracked, err := valr.ParseBucketPeriod(cfg.Market.TrackedPeriodSeconds)
	if err != nil {
		return nil, &config.ConfigError{Field: "market.tracked_period_seconds", Err: fmt.Errorf("%w: %w", config.ErrInvalid, err)}
	}
	backfill, err := valr.ParseBucketPeriod(cfg.Market.BackfillPeriodSeconds)
	if err != nil {
		return nil, &config.ConfigError{Field: "market.backfill_period_seconds", Err: fmt.Errorf("%w: %w", config.ErrInvalid, err)}
	}

	factory := valr.NewSessionFactory(cfg.Valr.Auth.APIKey, cfg.Valr.Auth.APISecret)
	// Fail on unusable key material now rather than on the first handshake.
	if _, err := factory.StreamHeader(cfg.Valr.WS.TradePath); err != nil {
		return nil, err
	}

	t := &Trader{
		cfg:           cfg,
		logger:        logger,
		store:         memorystore.NewStore(cfg.Strategy.MaxBuckets),
		factory:       factory,
		rest:          valr.NewRESTClient(cfg.Valr.REST.BaseURL, cfg.Valr.REST.Timeout, factory),
		trackedPeriod: tracked,
	}

	if cfg.Storage.Enabled {
		journal, err := postgres.Initialize(cfg.Storage, cfg.Log.Environment)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		t.journal = journal
	}

	t.loader = &snapshot.Loader{
		Source:   t.rest,
		Store:    t.store,
		Pair:     cfg.Market.Pair,
		Period:   backfill,
		Lookback: cfg.Market.BackfillLookback,
		Timeout:  cfg.Valr.REST.Timeout,
		Logger:   logger.Named("snapshot"),
	}

	executor := &strategy.LogExecutor{
		BaseCurrency:  cfg.Market.BaseCurrency,
		QuoteCurrency: cfg.Market.QuoteCurrency,
		Balances:      t.store,
		Logger:        logger.Named("executor"),
	}
	dispatchCfg := stream.Config{
		Pair:          cfg.Market.Pair,
		TrackedPeriod: tracked,
		Store:         t.store,
		Engine:        strategy.NewSwingEngine(cfg.Strategy.HalfWidth, logger),
		Executor:      executor,
		Logger:        logger,
	}
	if t.journal != nil {
		executor.Journal = t.journal
		dispatchCfg.Journal = t.journal
	}
	t.dispatcher = stream.NewDispatcher(dispatchCfg)

	return t, nil
}

func (t *Trader) Store() *memorystore.Store { return t.store }

// Run backfills the store and then streams until ctx is cancelled or a
// session fails for good. A cancelled ctx is a clean exit and returns nil.
func (t *Trader) Run(ctx context.Context) error {
	defer t.closeJournal()

	if _, err := t.loader.LoadBuckets(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	metrics.StoredBuckets.Set(float64(t.store.BucketCount()))

	if t.cfg.Market.LoadOpenOrders {
		if _, err := t.loader.LoadOpenOrders(ctx); err != nil {
			t.logger.Warn("continuing without open orders", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if t.cfg.Metrics.Enabled {
		g.Go(func() error {
			if err := metrics.Serve(gctx, t.cfg.Metrics.Addr, t.logger); err != nil {
				t.logger.Error("metrics endpoint failed", zap.Error(err))
			}
			return nil
		})
	}
	// Decisions already in flight finish after the sessions stop.
	dispatchCtx := context.WithoutCancel(ctx)
	for _, sc := range t.sessionConfigs() {
		sc := sc
		handler := t.dispatcher.Handler(dispatchCtx, sc.Name)
		g.Go(func() error { return t.supervise(gctx, sc, handler) })
	}
	g.Go(func() error { return t.reportStats(gctx) })

	err := g.Wait()
	t.dispatcher.Wait()
	if ctx.Err() != nil {
		err = nil
	}
	t.logger.Info("trader stopped", zap.Int("buckets", t.store.BucketCount()), zap.Error(err))
	return err
}

func (t *Trader) sessionConfigs() []valr.SessionConfig {
	ws := t.cfg.Valr.WS
	pairs := []string{t.cfg.Market.Pair}
	base := valr.SessionConfig{
		URL:                  ws.BaseURL,
		HandshakeTimeout:     ws.HandshakeTimeout,
		HeartbeatInterval:    ws.HeartbeatInterval,
		MaxHeartbeatFailures: ws.MaxHeartbeatFailures,
	}

	trade := base
	trade.Name = "trade"
	trade.Path = ws.TradePath
	trade.Subscriptions = []valr.Subscription{
		{Event: valr.EventNewTradeBucket, Pairs: pairs},
		{Event: valr.EventOrderbookD10, Pairs: pairs},
		{Event: valr.EventNewTrade},
		{Event: valr.EventOrderStatusUpdate},
	}

	// The account feed pushes balance and order events without a subscription.
	account := base
	account.Name = "account"
	account.Path = ws.AccountPath

	return []valr.SessionConfig{trade, account}
}

// reportStats periodically logs what the store holds and prunes the journal.
func (t *Trader) reportStats(ctx context.Context) error {
	interval := t.cfg.Log.StatsInterval
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		book := t.store.Orderbook()
		fields := []zap.Field{
			zap.Int("buckets", t.store.BucketCount()),
			zap.Int("asks", len(book.Asks)),
			zap.Int("bids", len(book.Bids)),
			zap.Int("balances", len(t.store.Balances())),
			zap.Int("open_orders", len(t.store.OpenOrders())),
		}
		if last, ok := t.store.LastBucket(); ok {
			fields = append(fields, zap.Time("last_bucket", last.StartTime), zap.Stringer("last_close", last.Close))
		}
		t.logger.Info("current state", fields...)

		if t.journal != nil && t.cfg.Storage.Retention > 0 {
			n, err := t.journal.DeleteBucketsBefore(ctx, time.Now().Add(-t.cfg.Storage.Retention))
			if err != nil {
				t.logger.Warn("failed to prune journal", zap.Error(err))
			} else if n > 0 {
				t.logger.Debug("pruned journal", zap.Int64("rows", n))
			}
		}
	}
}

func (t *Trader) closeJournal() {
	if t.journal == nil {
		return
	}
	if err := t.journal.Close(); err != nil {
		t.logger.Warn("failed to close journal", zap.Error(err))
	}
}
