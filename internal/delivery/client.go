package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"meetingalert/internal/types"
)

// RetryPolicy configures how a failed POST is retried.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy keeps the total retry budget well under a minute: a
// late alert is worth less than a dropped one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    250 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// httpPoster sends requests through a circuit breaker, retrying 429 and 5xx
// responses with backoff.
type httpPoster struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	retry     RetryPolicy
	userAgent string
	// sleep waits between attempts and returns early when ctx ends.
	sleep func(ctx context.Context, d time.Duration) error
}

func newHTTPPoster(client *http.Client, name string, retry RetryPolicy, userAgent string) *httpPoster {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &httpPoster{
		client:    client,
		breaker:   cb,
		retry:     retry,
		userAgent: userAgent,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// post sends body to url with headers. A 2xx-4xx response other than 429 is
// returned for the caller to interpret; exhausted retries and an open
// breaker come back as *types.AppError.
func (p *httpPoster) post(ctx context.Context, url string, body []byte, headers http.Header) (*http.Response, error) {
	var (
		lastResp *http.Response
		lastErr  error
	)

	attempts := 1 + p.retry.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build webhook request", err)
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Content-Type", "application/json")
		if p.userAgent != "" {
			req.Header.Set("User-Agent", p.userAgent)
		}
		if id := types.GetRequestID(ctx); id != "" {
			req.Header.Set("X-Request-Id", id)
		}

		resp, err := p.breaker.Execute(func() (*http.Response, error) {
			r, doErr := p.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("webhook returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp, lastErr = resp, err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts-1 {
			if p.sleep(ctx, p.backoff(attempt, resp)) != nil {
				break
			}
		}
	}

	if lastResp != nil {
		io.Copy(io.Discard, lastResp.Body) //nolint:errcheck
		lastResp.Body.Close()
	}
	return nil, mapError(lastResp, lastErr)
}

// backoff honors Retry-After in seconds, otherwise jittered exponential
// backoff clamped to [MinWait, MaxWait].
func (p *httpPoster) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			return min(time.Duration(s)*time.Second, p.retry.MaxWait)
		}
	}

	ceiling := min(float64(p.retry.MinWait)*math.Pow(2, float64(attempt)), float64(p.retry.MaxWait))
	floor := float64(p.retry.MinWait)
	if ceiling <= floor {
		return p.retry.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

func mapError(resp *http.Response, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "webhook circuit breaker is open", err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "webhook rate limit exceeded", err)
	case resp != nil:
		return types.NewAppError(types.ErrCodeUpstreamWebhook,
			fmt.Sprintf("webhook returned %d after retries", resp.StatusCode), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamWebhook, "webhook request failed", err)
	}
}
