package memorystore

import (
	"sort"
	"sync"

	"valrtrader/pkg/valr"
)

// Store is the shared snapshot of bucket history, top-of-book, balances and
// open orders. Each collection has its own lock so a bucket write never waits
// on a book snapshot. Locks are never held across I/O.
type Store struct {
	maxBuckets int

	bucketMu sync.RWMutex
	buckets  []valr.PriceBucket

	bookMu sync.RWMutex
	book   valr.Orderbook

	balanceMu sync.RWMutex
	balances  map[string]valr.Balance

	orderMu sync.RWMutex
	orders  []valr.Order
}

// NewStore creates an empty store. maxBuckets > 0 caps the bucket history,
// dropping the oldest entries after an append.
func NewStore(maxBuckets int) *Store {
	return &Store{
		maxBuckets: maxBuckets,
		buckets:    make([]valr.PriceBucket, 0),
		balances:   make(map[string]valr.Balance),
	}
}

// UpsertBucket replaces the bucket with the same (symbol, period, start time)
// in place or inserts it at its start time position. It reports whether a new
// entry was added.
func (s *Store) UpsertBucket(b valr.PriceBucket) bool {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()

	for i := len(s.buckets) - 1; i >= 0; i-- {
		if sameBucket(s.buckets[i], b) {
			s.buckets[i] = b
			return false
		}
	}

	n := len(s.buckets)
	if n == 0 || !b.StartTime.Before(s.buckets[n-1].StartTime) {
		s.buckets = append(s.buckets, b)
	} else {
		// late arrival
		i := sort.Search(n, func(i int) bool {
			return s.buckets[i].StartTime.After(b.StartTime)
		})
		s.buckets = append(s.buckets, valr.PriceBucket{})
		copy(s.buckets[i+1:], s.buckets[i:])
		s.buckets[i] = b
	}

	if s.maxBuckets > 0 && len(s.buckets) > s.maxBuckets {
		drop := len(s.buckets) - s.maxBuckets
		s.buckets = append(s.buckets[:0:0], s.buckets[drop:]...)
	}
	return true
}

func sameBucket(a, b valr.PriceBucket) bool {
	return a.Symbol == b.Symbol && a.PeriodSeconds == b.PeriodSeconds && a.StartTime.Equal(b.StartTime)
}

// Seed upserts a batch of buckets in start time order.
func (s *Store) Seed(buckets []valr.PriceBucket) {
	sorted := make([]valr.PriceBucket, len(buckets))
	copy(sorted, buckets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})
	for _, b := range sorted {
		s.UpsertBucket(b)
	}
}

// Buckets returns a copy of the history, oldest first.
func (s *Store) Buckets() []valr.PriceBucket {
	s.bucketMu.RLock()
	defer s.bucketMu.RUnlock()

	out := make([]valr.PriceBucket, len(s.buckets))
	copy(out, s.buckets)
	return out
}

// LastBucket returns the newest bucket in the history.
func (s *Store) LastBucket() (valr.PriceBucket, bool) {
	s.bucketMu.RLock()
	defer s.bucketMu.RUnlock()

	if len(s.buckets) == 0 {
		return valr.PriceBucket{}, false
	}
	return s.buckets[len(s.buckets)-1], true
}

func (s *Store) BucketCount() int {
	s.bucketMu.RLock()
	defer s.bucketMu.RUnlock()
	return len(s.buckets)
}

// ReplaceOrderbook swaps both sides under one write lock, so no reader can
// see new asks next to old bids.
func (s *Store) ReplaceOrderbook(book valr.Orderbook) {
	next := valr.Orderbook{
		Asks:       copyLevels(book.Asks),
		Bids:       copyLevels(book.Bids),
		LastChange: book.LastChange,
	}

	s.bookMu.Lock()
	s.book = next
	s.bookMu.Unlock()
}

// Orderbook returns both sides as of a single point in time.
func (s *Store) Orderbook() valr.Orderbook {
	s.bookMu.RLock()
	defer s.bookMu.RUnlock()

	return valr.Orderbook{
		Asks:       copyLevels(s.book.Asks),
		Bids:       copyLevels(s.book.Bids),
		LastChange: s.book.LastChange,
	}
}

func copyLevels(in []valr.Level) []valr.Level {
	out := make([]valr.Level, len(in))
	copy(out, in)
	return out
}

// UpsertBalance stores the latest balance for its currency.
func (s *Store) UpsertBalance(b valr.Balance) {
	s.balanceMu.Lock()
	defer s.balanceMu.Unlock()
	s.balances[b.Currency] = b
}

func (s *Store) Balance(currency string) (valr.Balance, bool) {
	s.balanceMu.RLock()
	defer s.balanceMu.RUnlock()
	b, ok := s.balances[currency]
	return b, ok
}

// Balances returns a copy of all balances keyed by currency.
func (s *Store) Balances() map[string]valr.Balance {
	s.balanceMu.RLock()
	defer s.balanceMu.RUnlock()

	out := make(map[string]valr.Balance, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

// ReplaceOpenOrders replaces the open order list with a full update.
func (s *Store) ReplaceOpenOrders(orders []valr.Order) {
	next := make([]valr.Order, len(orders))
	copy(next, orders)

	s.orderMu.Lock()
	s.orders = next
	s.orderMu.Unlock()
}

func (s *Store) OpenOrders() []valr.Order {
	s.orderMu.RLock()
	defer s.orderMu.RUnlock()

	out := make([]valr.Order, len(s.orders))
	copy(out, s.orders)
	return out
}
