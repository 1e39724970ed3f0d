package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

const defaultMaxRetries = 3

// apiError reports a retryable upstream status such as a 5xx or 429.
type apiError struct {
	provider string
	status   int
	body     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.provider, e.status, e.body)
}

// retrier re-issues an HTTP request on transient failures: network errors,
// 5xx responses and 429 rate limits. Backoff grows quadratically, with
// jitter so retries from concurrent workers spread out.
type retrier struct {
	name   string
	max    int
	client *http.Client
	logger *slog.Logger
}

func newRetrier(name string, maxRetries int, client *http.Client, logger *slog.Logger) retrier {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return retrier{name: name, max: maxRetries, client: client, logger: logger}
}

// do runs the request built by buildReq, retrying up to max times. The
// builder runs once per attempt because a consumed *http.Request body
// cannot be resent.
func (r retrier) do(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.max; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * time.Second
			backoff := base + time.Duration(rand.Int64N(int64(base/2+1)))
			r.logger.Warn("retrying request",
				"provider", r.name, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt == r.max {
				return nil, fmt.Errorf("%s request failed after %d retries: %w", r.name, r.max, err)
			}
			r.logger.Warn("request failed, will retry", "provider", r.name, "error", err)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &apiError{provider: r.name, status: resp.StatusCode, body: string(body)}
			if attempt == r.max {
				return nil, fmt.Errorf("server error after %d retries: %w", r.max, lastErr)
			}
			r.logger.Warn("server error, will retry",
				"provider", r.name, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}
