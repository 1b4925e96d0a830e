package valr

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"


	"github.com/shopspring/decimal"
)

// Event is one decoded inbound frame. The concrete types below are the only
// implementations; callers switch on them.
type Event interface {
	EventType() string
}

type NewTradeBucketEvent struct {
	Bucket PriceBucket
}

type OrderbookSnapshotEvent struct {
	Pair  string
	Depth int // 1 or 10
	Book  Orderbook
}

type BalanceUpdateEvent struct {
	Balance Balance
}

type OpenOrdersUpdateEvent struct {
	Orders []Order
}

type AuthenticatedEvent struct{}

type SubscribedEvent struct{}

type PongEvent struct{}

// UnsupportedEvent is the exchange rejecting something we sent.
type UnsupportedEvent struct {
	Message string
}

// UnrecognizedEvent carries a tag this client does not decode.
type UnrecognizedEvent struct {
	Type string
}

func (NewTradeBucketEvent) EventType() string   { return EventNewTradeBucket }
func (BalanceUpdateEvent) EventType() string    { return EventBalanceUpdate }
func (OpenOrdersUpdateEvent) EventType() string { return EventOpenOrdersUpdate }
func (AuthenticatedEvent) EventType() string    { return EventAuthenticated }
func (SubscribedEvent) EventType() string       { return EventSubscribed }
func (PongEvent) EventType() string             { return EventPong }
func (UnsupportedEvent) EventType() string      { return EventUnsupported }
func (e UnrecognizedEvent) EventType() string   { return e.Type }

func (e OrderbookSnapshotEvent) EventType() string {
	if e.Depth == 1 {
		return EventOrderbookD1
	}
	return EventOrderbookD10
}

// envelope is the outer frame. Payloads arrive under "data" or, for the
// compact order book feeds, "d".
type envelope struct {
	Type    string          `json:"type"`
	Pair    string          `json:"currencyPairSymbol"`
	PairAlt string          `json:"ps"`
	Data    json.RawMessage `json:"data"`
	D       json.RawMessage `json:"d"`
	Message string          `json:"message"`
}

func (e envelope) payload() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.D
}

func (e envelope) pair() string {
	if e.Pair != "" {
		return e.Pair
	}
	return e.PairAlt
}

var errNoPayload = errors.New("missing data")

// DecodeEvent decodes one text frame. Unknown tags decode to
// UnrecognizedEvent; malformed frames return a *DecodeError.
func DecodeEvent(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: errors.New("missing type")}
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EventNewTradeBucket:
		ev, err = decodeTradeBucket(env.payload())
	case EventOrderbookD1:
		ev, err = decodeOrderbook(env, 1)
	case EventOrderbookD10:
		ev, err = decodeOrderbook(env, 10)
	case EventBalanceUpdate:
		ev, err = decodeBalance(env.payload())
	case EventOpenOrdersUpdate:
		ev, err = decodeOpenOrders(env.payload())
	case EventAuthenticated:
		ev = AuthenticatedEvent{}
	case EventSubscribed:
		ev = SubscribedEvent{}
	case EventPong:
		ev = PongEvent{}
	case EventUnsupported:
		ev = UnsupportedEvent{Message: env.Message}
	default:
		ev = UnrecognizedEvent{Type: env.Type}
	}
	if err != nil {
		return nil, &DecodeError{Type: env.Type, Err: err}
	}
	return ev, nil
}

type bucketWire struct {
	Symbol        string `json:"currencyPairSymbol"`
	PeriodSeconds int    `json:"bucketPeriodInSeconds"`
	StartTime     string `json:"startTime"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	QuoteVolume   string `json:"quoteVolume"`
}

func (w bucketWire) toBucket() (PriceBucket, error) {
	start, err := parseTime("startTime", w.StartTime)
	if err != nil {
		return PriceBucket{}, err
	}
	p := fieldParser{}
	b := PriceBucket{
		Symbol:        w.Symbol,
		PeriodSeconds: w.PeriodSeconds,
		StartTime:     start,
		Open:          p.required("open", w.Open),
		High:          p.required("high", w.High),
		Low:           p.required("low", w.Low),
		Close:         p.required("close", w.Close),
		Volume:        p.optional("volume", w.Volume),
		QuoteVolume:   p.optional("quoteVolume", w.QuoteVolume),
	}
	if p.err != nil {
		return PriceBucket{}, p.err
	}
	if b.PeriodSeconds <= 0 {
		return PriceBucket{}, fmt.Errorf("bucketPeriodInSeconds: %d", b.PeriodSeconds)
	}
	return b, nil
}

func decodeTradeBucket(raw json.RawMessage) (Event, error) {
	if len(raw) == 0 {
		return nil, errNoPayload
	}
	var w bucketWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	b, err := w.toBucket()
	if err != nil {
		return nil, err
	}
	return NewTradeBucketEvent{Bucket: b}, nil
}

type orderbookWire struct {
	A          [][]string `json:"a"`
	B          [][]string `json:"b"`
	Asks       [][]string `json:"Asks"`
	Bids       [][]string `json:"Bids"`
	LC         int64      `json:"lc"`
	LastChange int64      `json:"LastChange"`
}

func decodeOrderbook(env envelope, depth int) (Event, error) {
	raw := env.payload()
	if len(raw) == 0 {
		return nil, errNoPayload
	}
	var w orderbookWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	asksRaw, bidsRaw := w.A, w.B
	if asksRaw == nil && bidsRaw == nil {
		asksRaw, bidsRaw = w.Asks, w.Bids
	}
	asks, err := parseLevels("asks", asksRaw)
	if err != nil {
		return nil, err
	}
	bids, err := parseLevels("bids", bidsRaw)
	if err != nil {
		return nil, err
	}

	lc := w.LC
	if lc == 0 {
		lc = w.LastChange
	}
	var lastChange time.Time
	if lc > 0 {
		lastChange = time.UnixMilli(lc).UTC()
	}

	return OrderbookSnapshotEvent{
		Pair:  env.pair(),
		Depth: depth,
		Book:  Orderbook{Asks: asks, Bids: bids, LastChange: lastChange},
	}, nil
}

func parseLevels(side string, raw [][]string) ([]Level, error) {
	out := make([]Level, 0, len(raw))
	for i, row := range raw {
		if len(row) < 2 {
			return nil, fmt.Errorf("%s[%d]: want [price, quantity], got %d fields", side, i, len(row))
		}
		p := fieldParser{}
		lvl := Level{
			Price:    p.required(fmt.Sprintf("%s[%d].price", side, i), row[0]),
			Quantity: p.required(fmt.Sprintf("%s[%d].quantity", side, i), row[1]),
		}
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, lvl)
	}
	return out, nil
}

type balanceWire struct {
	Currency struct {
		Symbol string `json:"symbol"`
	} `json:"currency"`
	Available string `json:"available"`
	Reserved  string `json:"reserved"`
	Total     string `json:"total"`
	UpdatedAt string `json:"updatedAt"`
}

func decodeBalance(raw json.RawMessage) (Event, error) {
	if len(raw) == 0 {
		return nil, errNoPayload
	}
	var w balanceWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.Currency.Symbol == "" {
		return nil, errors.New("currency.symbol: missing")
	}

	p := fieldParser{}
	b := Balance{
		Currency:  w.Currency.Symbol,
		Available: p.required("available", w.Available),
		Reserved:  p.required("reserved", w.Reserved),
		Total:     p.required("total", w.Total),
	}
	if p.err != nil {
		return nil, p.err
	}
	if w.UpdatedAt != "" {
		t, err := parseTime("updatedAt", w.UpdatedAt)
		if err != nil {
			return nil, err
		}
		b.UpdatedAt = t
	}
	return BalanceUpdateEvent{Balance: b}, nil
}

type orderWire struct {
	OrderID           string `json:"orderId"`
	Side              string `json:"side"`
	Type              string `json:"type"`
	Price             string `json:"price"`
	OriginalQuantity  string `json:"originalQuantity"`
	RemainingQuantity string `json:"remainingQuantity"`
	FilledPercentage  string `json:"filledPercentage"`
	Status            string `json:"status"`
	CurrencyPair      string `json:"currencyPair"`
	TimeInForce       string `json:"timeInForce"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

func (w orderWire) toOrder() (Order, error) {
	p := fieldParser{}
	o := Order{
		OrderID:           w.OrderID,
		Side:              w.Side,
		Type:              w.Type,
		Price:             p.optional("price", w.Price),
		OriginalQuantity:  p.optional("originalQuantity", w.OriginalQuantity),
		RemainingQuantity: p.optional("remainingQuantity", w.RemainingQuantity),
		FilledPercentage:  p.optional("filledPercentage", w.FilledPercentage),
		Status:            w.Status,
		CurrencyPair:      w.CurrencyPair,
		TimeInForce:       w.TimeInForce,
	}
	if p.err != nil {
		return Order{}, p.err
	}
	var err error
	if w.CreatedAt != "" {
		if o.CreatedAt, err = parseTime("createdAt", w.CreatedAt); err != nil {
			return Order{}, err
		}
	}
	if w.UpdatedAt != "" {
		if o.UpdatedAt, err = parseTime("updatedAt", w.UpdatedAt); err != nil {
			return Order{}, err
		}
	}
	return o, nil
}

func decodeOrders(raw json.RawMessage) ([]Order, error) {
	var ws []orderWire
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(ws))
	for i, w := range ws {
		o, err := w.toOrder()
		if err != nil {
			return nil, fmt.Errorf("order[%d]: %w", i, err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func decodeOpenOrders(raw json.RawMessage) (Event, error) {
	if len(raw) == 0 {
		return nil, errNoPayload
	}
	orders, err := decodeOrders(raw)
	if err != nil {
		return nil, err
	}
	return OpenOrdersUpdateEvent{Orders: orders}, nil
}

// fieldParser parses decimal strings and keeps the first failure.
type fieldParser struct {
	err error
}

func (p *fieldParser) required(name, s string) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	if s == "" {
		p.err = fmt.Errorf("%s: missing", name)
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
		return decimal.Zero
	}
	return d
}

func (p *fieldParser) optional(name, s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return p.required(name, s)
}

func parseTime(name, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", name, err)
	}
	return t.UTC(), nil
}
