package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"valrtrader/internal/valr/memorystore"
	"valrtrader/pkg/valr"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeSource struct {
	buckets []valr.PriceBucket
	orders  []valr.Order
	err     error

	gotPair   string
	gotPeriod valr.BucketPeriod
	gotStart  time.Time
	gotEnd    time.Time
}

func (f *fakeSource) GetMarkPriceBuckets(_ context.Context, pair string, period valr.BucketPeriod, start, end time.Time) ([]valr.PriceBucket, error) {
	f.gotPair, f.gotPeriod, f.gotStart, f.gotEnd = pair, period, start, end
	return f.buckets, f.err
}

func (f *fakeSource) GetOpenOrders(context.Context) ([]valr.Order, error) {
	return f.orders, f.err
}

var now = time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)

func bucketAt(minutes int) valr.PriceBucket {
	return valr.PriceBucket{
		Symbol:        "BTCZAR",
		PeriodSeconds: 300,
		StartTime:     now.Add(time.Duration(minutes) * time.Minute),
		Close:         decimal.NewFromInt(int64(1000 + minutes)),
	}
}

func newLoader(src Source, store *memorystore.Store) *Loader {
	return &Loader{
		Source:   src,
		Store:    store,
		Pair:     "BTCZAR",
		Period:   valr.Period5Min,
		Lookback: time.Hour,
		Timeout:  time.Second,
		Logger:   zap.NewNop(),
		now:      func() time.Time { return now },
	}
}

// go test -v --run TestLoadBucketsSeedsOldestFirst
func TestLoadBucketsSeedsOldestFirst(t *testing.T) {
	// the exchange returns newest first
	src := &fakeSource{buckets: []valr.PriceBucket{bucketAt(-5), bucketAt(-10), bucketAt(-15)}}
	store := memorystore.NewStore(0)

	n, err := newLoader(src, store).LoadBuckets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || store.BucketCount() != 3 {
		t.Fatalf("seeded %d, stored %d", n, store.BucketCount())
	}

	got := store.Buckets()
	for i := 1; i < len(got); i++ {
		if !got[i-1].StartTime.Before(got[i].StartTime) {
			t.Fatalf("buckets not oldest first: %v then %v", got[i-1].StartTime, got[i].StartTime)
		}
	}

	if src.gotPair != "BTCZAR" || src.gotPeriod != valr.Period5Min {
		t.Errorf("request pair/period = %s/%d", src.gotPair, src.gotPeriod)
	}
	if !src.gotEnd.Equal(now) || !src.gotStart.Equal(now.Add(-time.Hour)) {
		t.Errorf("request window = [%s, %s]", src.gotStart, src.gotEnd)
	}
}

// go test -v --run TestLoadBucketsError
func TestLoadBucketsError(t *testing.T) {
	src := &fakeSource{err: &valr.TransportError{Op: "markprice", Err: errors.New("connection refused")}}
	store := memorystore.NewStore(0)

	_, err := newLoader(src, store).LoadBuckets(context.Background())
	var tErr *valr.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected wrapped *TransportError, got %v", err)
	}
	if store.BucketCount() != 0 {
		t.Error("store should be untouched on failure")
	}
}

// go test -v --run TestLoadOpenOrdersFiltersPair
func TestLoadOpenOrdersFiltersPair(t *testing.T) {
	src := &fakeSource{orders: []valr.Order{
		{OrderID: "a", CurrencyPair: "BTCZAR"},
		{OrderID: "b", CurrencyPair: "ETHZAR"},
		{OrderID: "c", CurrencyPair: "btczar"},
	}}
	store := memorystore.NewStore(0)

	n, err := newLoader(src, store).LoadOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orders := store.OpenOrders()
	if n != 2 || len(orders) != 2 || orders[0].OrderID != "a" || orders[1].OrderID != "c" {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}
