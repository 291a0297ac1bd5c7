// Package httpx provides the HTTP transport used for JSON-RPC traffic.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"time"
)

const defaultUserAgent = "ammswap/1.0"

// Methods that change chain state are sent exactly once. A retried
// broadcast can surface as a spurious "already known" or nonce error.
var sendOnce = map[string]bool{
	"eth_sendRawTransaction": true,
	"eth_sendTransaction":    true,
}

// Transport retries JSON-RPC requests that failed at the HTTP layer
// (network error, 429, 5xx) unless they carry a state-changing method.
type Transport struct {
	base      http.RoundTripper
	retries   int
	userAgent string
	backoff   func(attempt int) time.Duration
}

func NewTransport(base http.RoundTripper, retries int) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if retries < 0 {
		retries = 0
	}
	return &Transport{base: base, retries: retries, userAgent: defaultUserAgent, backoff: backoff}
}

// New returns a client for rpc.WithHTTPClient. Deadlines come from the
// request context, so the client itself has no timeout.
func New(retries int) *http.Client {
	return &http.Client{Transport: NewTransport(nil, retries)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	retries := t.retries
	if !retryable(body) {
		retries = 0
	}

	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, t.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		clone := req.Clone(ctx)
		if body != nil {
			clone.Body = io.NopCloser(bytes.NewReader(body))
			clone.ContentLength = int64(len(body))
		}
		if clone.Header.Get("User-Agent") == "" {
			clone.Header.Set("User-Agent", t.userAgent)
		}

		resp, err := t.base.RoundTrip(clone)
		if err != nil {
			if attempt < retries && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		if transientStatus(resp.StatusCode) && attempt < retries {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			continue
		}
		return resp, nil
	}
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	// RoundTrip owns req.Body and must close it on every path.
	defer req.Body.Close()
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return io.ReadAll(req.Body)
}

type rpcMessage struct {
	Method string `json:"method"`
}

// retryable reports whether every call in a single or batched JSON-RPC
// body is safe to resend.
func retryable(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return true
	}
	var msgs []rpcMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return false
		}
	} else {
		var msg rpcMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return false
		}
		msgs = []rpcMessage{msg}
	}
	for _, m := range msgs {
		if sendOnce[m.Method] {
			return false
		}
	}
	return true
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
