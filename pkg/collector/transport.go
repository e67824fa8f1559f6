package collector

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"
)

// Transport delivers one encoded batch to an ingestion channel and reports
// the HTTP status. A zero status with a non-nil error means no response
// arrived at all.
type Transport interface {
	Send(ctx context.Context, channel string, body []byte) (status int, err error)
}

// ErrUnavailable may be returned by a custom primary transport to make the
// dispatcher fall back to the synchronous transport for that attempt.
var ErrUnavailable = errors.New("collector: transport unavailable")

// sendClass buckets a delivery attempt's outcome.
type sendClass int

const (
	classSuccess sendClass = iota
	classRetryable
	classTerminal
)

// classify maps an attempt to its outcome: 2xx succeeds, 5xx or no
// response retries, anything else (every 4xx included, 429 too) is
// terminal. Treating 429 as terminal is intentional lossy behavior: the
// only backpressure signal is the rate limit, and the collector sheds
// load rather than queueing against it.
func classify(status int, err error) sendClass {
	switch {
	case err != nil:
		return classRetryable
	case status >= 200 && status < 300:
		return classSuccess
	case status >= 500:
		return classRetryable
	default:
		return classTerminal
	}
}

// HTTPTransport posts batches to the bulk ingestion gateway.
type HTTPTransport struct {
	Client   *http.Client
	Endpoint string // gateway base URL, e.g. https://ingest.example.com
	APIKey   string
}

// NewHTTPTransport builds the default transport with a bounded timeout.
func NewHTTPTransport(endpoint, apiKey string) *HTTPTransport {
	return &HTTPTransport{
		Client:   &http.Client{Timeout: 10 * time.Second},
		Endpoint: endpoint,
		APIKey:   apiKey,
	}
}

// Send posts the batch to /v1/<channel> and returns the response status.
func (t *HTTPTransport) Send(ctx context.Context, channel string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint+"/v1/"+channel, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	resp, err := t.Client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// BeaconTransport is the fire-and-forget path used for forced flushes when
// the host may be terminating: Send returns immediately and the request
// runs out on a short leash with its outcome unconfirmed.
type BeaconTransport struct {
	inner *HTTPTransport
}

// NewBeaconTransport wraps an HTTPTransport with fire-and-forget delivery.
func NewBeaconTransport(endpoint, apiKey string) *BeaconTransport {
	inner := NewHTTPTransport(endpoint, apiKey)
	inner.Client = &http.Client{Timeout: 5 * time.Second}
	return &BeaconTransport{inner: inner}
}

// Send launches the request and reports success unconditionally; the
// caller cannot await a response it may not live to see.
func (t *BeaconTransport) Send(_ context.Context, channel string, body []byte) (int, error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = t.inner.Send(ctx, channel, body)
	}()
	return http.StatusAccepted, nil
}
