package valr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	factory    *SessionFactory
}

// NewRESTClient creates a client for baseURL. factory may be nil when only
// public endpoints are used.
func NewRESTClient(baseURL string, timeout time.Duration, factory *SessionFactory) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		factory:    factory,
	}
}

// GetMarkPriceBuckets fetches historical mark price buckets for pair between
// start and end. The result is in the order the exchange returns it.
func (c *RESTClient) GetMarkPriceBuckets(ctx context.Context, pair string, period BucketPeriod,
	start, end time.Time) ([]PriceBucket, error) {
	q := url.Values{}
	q.Set("startTime", strconv.FormatInt(start.Unix(), 10))
	q.Set("endTime", strconv.FormatInt(end.Unix(), 10))
	q.Set("periodSeconds", strconv.Itoa(int(period)))
	endpoint := fmt.Sprintf("%s/v1/public/%s/markprice/buckets?%s", c.baseURL, url.PathEscape(pair), q.Encode())

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var raw []bucketWire
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}

	buckets := make([]PriceBucket, 0, len(raw))
	for i, w := range raw {
		if w.Symbol == "" {
			w.Symbol = pair
		}
		if w.PeriodSeconds == 0 {
			w.PeriodSeconds = int(period)
		}
		b, err := w.toBucket()
		if err != nil {
			return nil, &DecodeError{Type: "markprice/buckets", Err: fmt.Errorf("bucket[%d]: %w", i, err)}
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// GetOpenOrders fetches the account's open orders with a signed request.
func (c *RESTClient) GetOpenOrders(ctx context.Context) ([]Order, error) {
	if c.factory == nil {
		return nil, &SigningError{Err: ErrInvalidKey}
	}
	req, err := c.factory.NewRESTRequest(ctx, c.baseURL, http.MethodGet, "/v1/orders/open", nil)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	orders, err := decodeOrders(raw)
	if err != nil {
		return nil, &DecodeError{Type: "orders/open", Err: err}
	}
	return orders, nil
}

func (c *RESTClient) do(req *http.Request, out any) error {
	// Execute the HTTP request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "http", Err: err}
	}
	defer resp.Body.Close()

	// Check HTTP status code
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("valr error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Type: req.URL.Path, Err: err}
	}
	return nil
}
