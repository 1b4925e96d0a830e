package valr

import "fmt"

// Authentication headers shared by REST and streaming requests.
const (
	HeaderAPIKey    = "X-VALR-API-KEY"
	HeaderSignature = "X-VALR-SIGNATURE"
	HeaderTimestamp = "X-VALR-TIMESTAMP"
)

// Event names used in SUBSCRIBE frames and as inbound message tags.
const (
	EventNewTradeBucket    = "NEW_TRADE_BUCKET"
	EventOrderbookD1       = "OB_L1_D1_SNAPSHOT"
	EventOrderbookD10      = "OB_L1_D10_SNAPSHOT"
	EventNewTrade          = "NEW_TRADE"
	EventOrderStatusUpdate = "ORDER_STATUS_UPDATE"
	EventBalanceUpdate     = "BALANCE_UPDATE"
	EventOpenOrdersUpdate  = "OPEN_ORDERS_UPDATE"
	EventAuthenticated     = "AUTHENTICATED"
	EventSubscribed        = "SUBSCRIBED"
	EventPong              = "PONG"
	EventUnsupported       = "UNSUPPORTED"

	typeSubscribe = "SUBSCRIBE"
	typePing      = "PING"
)

// BucketPeriod is a bucket length in seconds as used by the exchange.
type BucketPeriod int

const (
	Period1Min  BucketPeriod = 60
	Period5Min  BucketPeriod = 300
	Period15Min BucketPeriod = 900
	Period30Min BucketPeriod = 1800
	Period1Hour BucketPeriod = 3600
	Period6Hour BucketPeriod = 21600
	Period1Day  BucketPeriod = 86400
)

var bucketPeriodLabels = map[BucketPeriod]string{
	Period1Min:  "1m",
	Period5Min:  "5m",
	Period15Min: "15m",
	Period30Min: "30m",
	Period1Hour: "1h",
	Period6Hour: "6h",
	Period1Day:  "1d",
}

// IsValid reports whether the exchange publishes buckets of this length.
func (p BucketPeriod) IsValid() bool {
	_, ok := bucketPeriodLabels[p]
	return ok
}

// Label returns the short form used in logs and storage, e.g. "1m".
func (p BucketPeriod) Label() string {
	if l, ok := bucketPeriodLabels[p]; ok {
		return l
	}
	return fmt.Sprintf("%ds", int(p))
}

// ParseBucketPeriod validates a period given in seconds.
func ParseBucketPeriod(seconds int) (BucketPeriod, error) {
	p := BucketPeriod(seconds)
	if !p.IsValid() {
		return 0, fmt.Errorf("invalid bucket period: %ds", seconds)
	}
	return p, nil
}
