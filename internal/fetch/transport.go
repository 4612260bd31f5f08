package fetch

import (
	"context"
	"net/http"
	"time"
)

// retryStatuses are HTTP codes treated as transient at the transport layer.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// retryTransport retries transient transport failures (connection errors and
// retryable status codes) a bounded number of times, independently of the
// outer whole-operation retry. Only safe, body-less requests (GET/HEAD) pass
// through this client.
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
	baseDelay   time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		resp *http.Response
		err  error
	)
	delay := t.baseDelay
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		resp, err = t.base.RoundTrip(req)
		if err == nil && !retryStatuses[resp.StatusCode] {
			return resp, nil
		}
		if attempt == t.maxAttempts {
			break
		}
		if resp != nil {
			resp.Body.Close()
		}
		if !sleepWithContext(req.Context(), delay) {
			return nil, req.Context().Err()
		}
		delay *= 2
	}
	return resp, err
}

// NewClient builds the HTTP client used for probes, listings, and chunk
// fetches: transport-level retry plus an overall request timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &retryTransport{
			base:        http.DefaultTransport,
			maxAttempts: 3,
			baseDelay:   time.Second,
		},
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
