package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/infrastructure/resilience"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; paper-qa/1.0; +https://github.com/kirillkom/paper-qa)"

type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Executor   *resilience.Executor
	Throttle   *resilience.Throttle
	UserAgent  string
	// Language selects the Wikipedia edition, e.g. "en".
	Language string
	Email    string
}

func (o Options) normalize() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.Language == "" {
		o.Language = "en"
	}
	return o
}

type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Provider, e.StatusCode)
}

type client struct {
	name string
	opts Options
}

func (c *client) get(ctx context.Context, reqURL, accept string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.opts.Throttle.Wait(callCtx, c.name); err != nil {
		return nil, c.wrap(ctx, err)
	}
	body, err := resilience.Call(callCtx, c.opts.Executor, "websearch."+c.name, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", accept)
		req.Header.Set("Accept-Language", "en-US,en;q=0.5")

		resp, err := c.opts.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{Provider: c.name, StatusCode: resp.StatusCode}
		}
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	}, classifySearchError)
	if err != nil {
		return nil, c.wrap(ctx, err)
	}
	return body, nil
}

func (c *client) wrap(parent context.Context, err error) error {
	var statusErr *StatusError
	switch {
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrFetchTimeout, c.name+" search", err)
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests:
		return domain.WrapError(domain.ErrProviderRateLimited, c.name+" search", err)
	default:
		return fmt.Errorf("%s search: %w", c.name, err)
	}
}

func classifySearchError(err error) resilience.ErrorClassification {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		retryable := statusErr.StatusCode >= 500
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable || statusErr.StatusCode == http.StatusTooManyRequests}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func trimSnippet(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return 5
	}
	if limit > max {
		return max
	}
	return limit
}
