package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries    = 3
	maxRetryAfter = 30 * time.Second
)

// retryBaseDelay scales the backoff; tests shrink it.
var retryBaseDelay = time.Second

// retryableError is a 5xx or 429 response that outlived its retries.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// DoWithRetry sends the request built by buildReq, retrying network errors,
// 5xx and 429 with quadratic backoff plus jitter. A Retry-After header in
// seconds replaces the computed backoff, capped at maxRetryAfter. buildReq is
// called once per attempt so bodies are fresh.
func DoWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		lastErr error
		wait    time.Duration
	)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = backoff(attempt)
			}
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait = 0
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Warn("request failed", "url", req.URL.Redacted(), "error", err)
			continue
		}

		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
		wait = retryAfter(resp.Header.Get("Retry-After"))
		logger.Warn("transient status", "url", req.URL.Redacted(), "status", resp.StatusCode)
	}

	return nil, fmt.Errorf("giving up after %d retries: %w", maxRetries, lastErr)
}

func backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * retryBaseDelay
	return base + time.Duration(rand.Int64N(int64(base/2)+1))
}

// retryAfter parses a delay-seconds Retry-After value. HTTP dates and junk
// yield zero, which falls back to the computed backoff.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}
