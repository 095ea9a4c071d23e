// Package transport provides HTTP client middleware for talking to generation
// backends.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// RetryAfterTransport retries requests rejected with 429 after honoring the
// backend's retry-after header. Requests are replayed with their original
// body, so bodies are buffered up front.
type RetryAfterTransport struct {
	base http.RoundTripper
	log  zerolog.Logger
}

func WithRetryAfter(base http.RoundTripper, log zerolog.Logger) *RetryAfterTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RetryAfterTransport{base: base, log: log}
}

func (t *RetryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if err := req.Body.Close(); err != nil {
			return nil, fmt.Errorf("failed to close request body: %w", err)
		}
	}

	for {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return resp, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		wait := parseRetryAfter(resp.Header.Get("retry-after"))
		if wait <= 0 {
			return resp, nil
		}

		if err := resp.Body.Close(); err != nil {
			return nil, fmt.Errorf("failed to close response body: %w", err)
		}

		t.log.Warn().Dur("wait", wait).Msg("rate limited by generation backend")
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if retryTime, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(retryTime)
	}
	return 0
}
