package stream

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"

	"valrtrader/internal/valr/memorystore"
	"valrtrader/internal/valr/strategy"
	"valrtrader/pkg/valr"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type executorSpy struct {
	mu   sync.Mutex
	sigs []strategy.Signal
	errs []error
}

func (x *executorSpy) Execute(ctx context.Context, _ string, sig strategy.Signal) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.sigs = append(x.sigs, sig)
	x.errs = append(x.errs, ctx.Err())
	return nil
}

type journalSpy struct {
	mu      sync.Mutex
	buckets []valr.PriceBucket
}

func (j *journalSpy) RecordBucket(_ context.Context, b valr.PriceBucket) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buckets = append(j.buckets, b)
	return nil
}

func bucketFrame(period, minute int, high, low, close string) []byte {
	return []byte(fmt.Sprintf(`{"type":"NEW_TRADE_BUCKET","currencyPairSymbol":"BTCZAR","data":{
		"currencyPairSymbol":"BTCZAR","bucketPeriodInSeconds":%d,"startTime":"2024-03-01T12:%02d:00Z",
		"open":"%s","high":"%s","low":"%s","close":"%s","volume":"1"}}`, period, minute, close, high, low, close))
}

func newDispatcher(t *testing.T, store *memorystore.Store, x strategy.Executor, j BucketJournal) *Dispatcher {
	return NewDispatcher(Config{
		Pair:          "BTCZAR",
		TrackedPeriod: valr.Period1Min,
		Store:         store,
		Engine:        strategy.NewSwingEngine(3, zap.NewNop()),
		Executor:      x,
		Journal:       j,
		Logger:        zaptest.NewLogger(t),
	})
}

// go test -v --run TestDispatcherTracksOnlyOneMinuteBuckets
func TestDispatcherTracksOnlyOneMinuteBuckets(t *testing.T) {
	store := memorystore.NewStore(0)
	journal := &journalSpy{}
	d := newDispatcher(t, store, nil, journal)
	handle := d.Handler(context.Background(), "trade")
	ctx := context.Background()

	handle(ctx, bucketFrame(60, 0, "101", "99", "100"))
	handle(ctx, bucketFrame(300, 0, "101", "99", "100"))
	handle(ctx, bucketFrame(3600, 0, "101", "99", "100"))
	d.Wait()

	if store.BucketCount() != 1 {
		t.Fatalf("bucket count = %d, want 1", store.BucketCount())
	}
	last, _ := store.LastBucket()
	if last.PeriodSeconds != 60 {
		t.Errorf("stored period = %d", last.PeriodSeconds)
	}
	if len(journal.buckets) != 1 {
		t.Errorf("journal got %d buckets, want 1", len(journal.buckets))
	}
}

// go test -v --run TestDispatcherReplayIsIdempotent
func TestDispatcherReplayIsIdempotent(t *testing.T) {
	store := memorystore.NewStore(0)
	d := newDispatcher(t, store, nil, nil)
	handle := d.Handler(context.Background(), "trade")
	ctx := context.Background()

	handle(ctx, bucketFrame(60, 0, "101", "99", "100"))
	handle(ctx, bucketFrame(60, 1, "102", "100", "101"))
	d.Wait()
	once := store.Buckets()

	handle(ctx, bucketFrame(60, 1, "102", "100", "101"))
	d.Wait()
	if !reflect.DeepEqual(once, store.Buckets()) {
		t.Fatalf("replaying a bucket changed the store")
	}

	// An update for the open minute replaces in place.
	handle(ctx, bucketFrame(60, 1, "105", "100", "104"))
	d.Wait()
	got := store.Buckets()
	if len(got) != 2 || !got[1].Close.Equal(decimal.NewFromInt(104)) {
		t.Fatalf("unexpected buckets after update: %+v", got)
	}
}

// go test -v --run TestDispatcherRoutesAccountAndBookEvents
func TestDispatcherRoutesAccountAndBookEvents(t *testing.T) {
	store := memorystore.NewStore(0)
	d := newDispatcher(t, store, nil, nil)
	ctx := context.Background()
	trade, account := d.Handler(context.Background(), "trade"), d.Handler(context.Background(), "account")

	trade(ctx, []byte(`{"type":"OB_L1_D10_SNAPSHOT","ps":"BTCZAR","d":{"a":[["101","1"]],"b":[["100","2"]],"lc":1709294460000}}`))
	account(ctx, []byte(`{"type":"BALANCE_UPDATE","data":{"currency":{"symbol":"ZAR"},"available":"10","reserved":"0","total":"10"}}`))
	account(ctx, []byte(`{"type":"OPEN_ORDERS_UPDATE","data":[{"orderId":"o-1","side":"sell","price":"120","originalQuantity":"1","remainingQuantity":"1","currencyPair":"BTCZAR"}]}`))

	ask, ok := store.Orderbook().BestAsk()
	if !ok || !ask.Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("best ask = %+v", ask)
	}
	if bal, ok := store.Balance("ZAR"); !ok || !bal.Total.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %+v", bal)
	}
	if orders := store.OpenOrders(); len(orders) != 1 || orders[0].OrderID != "o-1" {
		t.Errorf("open orders = %+v", orders)
	}
}

// go test -v --run TestDispatcherSkipsBadFrames
func TestDispatcherSkipsBadFrames(t *testing.T) {
	store := memorystore.NewStore(0)
	d := newDispatcher(t, store, nil, nil)
	handle := d.Handler(context.Background(), "trade")
	ctx := context.Background()

	for _, frame := range []string{
		`garbage`,
		`{"type":"NEW_TRADE_BUCKET","data":{"bucketPeriodInSeconds":60,"startTime":"2024-03-01T12:00:00Z","open":"x","high":"1","low":"1","close":"1"}}`,
		`{"type":"SOMETHING_ELSE","data":{}}`,
		`{"type":"PONG"}`,
		`{"type":"UNSUPPORTED","message":"nope"}`,
	} {
		handle(ctx, []byte(frame))
	}
	handle(ctx, bucketFrame(60, 0, "101", "99", "100"))
	d.Wait()

	if store.BucketCount() != 1 {
		t.Fatalf("dispatcher stopped processing after bad frames")
	}
}

// go test -v --run TestDispatcherEmitsBuy
func TestDispatcherEmitsBuy(t *testing.T) {
	store := memorystore.NewStore(0)
	spy := &executorSpy{}
	d := newDispatcher(t, store, spy, nil)
	trade := d.Handler(context.Background(), "trade")
	ctx := context.Background()

	trade(ctx, []byte(`{"type":"OB_L1_D10_SNAPSHOT","ps":"BTCZAR","d":{"a":[["102","0.5"]],"b":[["101","1"]]}}`))

	highs := []string{"90", "90", "100", "90", "95", "95", "110"}
	closes := []string{"90", "90", "100", "90", "95", "95", "105"}
	for i := range highs {
		trade(ctx, bucketFrame(60, i, highs[i], "80", closes[i]))
		// each evaluation sees exactly the history up to its own bucket
		d.Wait()
	}

	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.sigs) != 1 {
		t.Fatalf("expected exactly one decision, got %d", len(spy.sigs))
	}
	sig := spy.sigs[0]
	if sig.Direction != strategy.DirectionBuy || !sig.Price.Equal(decimal.NewFromInt(102)) {
		t.Errorf("unexpected decision: %+v", sig)
	}
}

// go test -v --run TestDispatcherEvaluatesEachBucketOnItsOwnHistory
func TestDispatcherEvaluatesEachBucketOnItsOwnHistory(t *testing.T) {
	highs := []string{"90", "90", "100", "85", "95", "90", "110", "108"}
	closes := []string{"90", "90", "100", "85", "95", "90", "105", "106"}
	book := []byte(`{"type":"OB_L1_D10_SNAPSHOT","ps":"BTCZAR","d":{"a":[["102","0.5"]],"b":[["101","1"]]}}`)

	for run := 0; run < 50; run++ {
		store := memorystore.NewStore(0)
		spy := &executorSpy{}
		d := newDispatcher(t, store, spy, nil)
		trade := d.Handler(context.Background(), "trade")
		ctx := context.Background()

		trade(ctx, book)
		for i := 0; i < 6; i++ {
			trade(ctx, bucketFrame(60, i, highs[i], "80", closes[i]))
		}
		d.Wait()
		// buckets 6 and 7 arrive back to back
		trade(ctx, bucketFrame(60, 6, highs[6], "80", closes[6]))
		trade(ctx, bucketFrame(60, 7, highs[7], "80", closes[7]))
		d.Wait()

		spy.mu.Lock()
		sigs := append([]strategy.Signal(nil), spy.sigs...)
		spy.mu.Unlock()
		if len(sigs) != 2 {
			t.Fatalf("run %d: expected two decisions, got %d", run, len(sigs))
		}
		sort.Slice(sigs, func(i, j int) bool { return sigs[i].BucketStart.Before(sigs[j].BucketStart) })

		first, second := sigs[0], sigs[1]
		if first.BucketStart.Minute() != 6 || !first.PreviousClose.Equal(decimal.NewFromInt(105)) ||
			!first.SwingHigh.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("run %d: bucket 6 evaluated on the wrong history: %+v", run, first)
		}
		if second.BucketStart.Minute() != 7 || !second.PreviousClose.Equal(decimal.NewFromInt(106)) ||
			!second.SwingHigh.Equal(decimal.NewFromInt(90)) {
			t.Fatalf("run %d: bucket 7 evaluated on the wrong history: %+v", run, second)
		}
	}
}

// go test -v --run TestDispatcherOutlivesSessionContext
func TestDispatcherOutlivesSessionContext(t *testing.T) {
	store := memorystore.NewStore(0)
	spy := &executorSpy{}
	d := newDispatcher(t, store, spy, nil)
	trade := d.Handler(context.Background(), "trade")

	sessionCtx, cancel := context.WithCancel(context.Background())
	trade(sessionCtx, []byte(`{"type":"OB_L1_D10_SNAPSHOT","ps":"BTCZAR","d":{"a":[["102","0.5"]],"b":[["101","1"]]}}`))
	highs := []string{"90", "90", "100", "90", "95", "95", "110"}
	closes := []string{"90", "90", "100", "90", "95", "95", "105"}
	for i := 0; i < len(highs)-1; i++ {
		trade(sessionCtx, bucketFrame(60, i, highs[i], "80", closes[i]))
	}
	// the session is torn down while its last frame is being handled
	cancel()
	trade(sessionCtx, bucketFrame(60, 6, highs[6], "80", closes[6]))
	d.Wait()

	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.sigs) != 1 {
		t.Fatalf("expected one decision, got %d", len(spy.sigs))
	}
	if spy.errs[0] != nil {
		t.Errorf("executor ran under a cancelled context: %v", spy.errs[0])
	}
}

// go test -v --run TestDirection
func TestDirection(t *testing.T) {
	one, two := decimal.NewFromInt(1), decimal.NewFromInt(2)
	if direction(one, two) != "up" || direction(two, one) != "down" || direction(one, one) != "flat" {
		t.Error("unexpected direction markers")
	}
}
