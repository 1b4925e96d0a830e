package valr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

var signedVerbs = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// SessionFactory attaches API key, signature and timestamp headers to REST
// requests and streaming handshakes.
type SessionFactory struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

type FactoryOption func(*SessionFactory)

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *SessionFactory) {
		f.now = now
	}
}

func NewSessionFactory(apiKey, apiSecret string, opts ...FactoryOption) *SessionFactory {
	f := &SessionFactory{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Headers signs (verb, path, body) with a fresh timestamp. The same
// timestamp value goes into the signature and the timestamp header.
func (f *SessionFactory) Headers(verb, path string, body []byte) (http.Header, error) {
	if !signedVerbs[verb] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVerb, verb)
	}

	ts := f.now().UnixMilli()
	sig, err := Sign(f.apiSecret, ts, verb, path, body)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderAPIKey, f.apiKey)
	h.Set(HeaderSignature, sig)
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	return h, nil
}

// StreamHeader returns the handshake headers for a streaming endpoint. The
// signature covers (timestamp, "GET", path) with no body.
func (f *SessionFactory) StreamHeader(path string) (http.Header, error) {
	return f.Headers(http.MethodGet, path, nil)
}

// NewRESTRequest builds a signed request for baseURL+path.
func (f *SessionFactory) NewRESTRequest(ctx context.Context, baseURL, verb, path string, body []byte) (*http.Request, error) {
	h, err := f.Headers(verb, path, body)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, verb, baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range h {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
