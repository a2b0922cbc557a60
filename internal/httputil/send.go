package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const maxErrorLines = 20

// RetryConfig controls the backoff applied to transient upstream failures.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

// Response is a fully drained HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// retryableStatus reports whether a status is worth retrying: throttling
// and transient gateway failures only.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends a request with retry on transport errors and retryable statuses.
// The body is provided as bytes so every attempt replays it from the start.
// Non-2xx terminal responses become "http <status>: <snippet>" errors.
func Do(ctx context.Context, client *http.Client, method, url string, header http.Header, body []byte, retry RetryConfig) (*Response, error) {
	attempt := func() (*Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("http %d: %s", resp.StatusCode, snippet(respBody))
			if retryableStatus(resp.StatusCode) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
		}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retry.InitialInterval
	bo.MaxInterval = retry.MaxInterval
	bo.Multiplier = retry.Multiplier

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(retry.MaxRetries+1)),
	)
}

// SendJSON marshals in, posts it, and decodes the response into out when
// out is non-nil. It returns the response headers so callers can read
// cost and upload metadata.
func SendJSON(ctx context.Context, client *http.Client, method, url string, header http.Header, in, out any, retry RetryConfig) (http.Header, error) {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	h := http.Header{}
	for k, vs := range header {
		h[k] = vs
	}
	if in != nil {
		h.Set("Content-Type", "application/json")
	}

	resp, err := Do(ctx, client, method, url, h, body, retry)
	if err != nil {
		return nil, err
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp.Header, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	lines := strings.Split(s, "\n")
	if len(lines) <= maxErrorLines {
		return s
	}
	return strings.Join(lines[:maxErrorLines], "\n") + "\n..."
}
