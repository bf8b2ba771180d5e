package academic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/infrastructure/resilience"
)

const defaultUserAgent = "paper-qa/1.0 (+https://github.com/kirillkom/paper-qa)"

// Options are shared by every provider client.
type Options struct {
	HTTPClient *http.Client
	// Timeout bounds one outbound call including retries.
	Timeout   time.Duration
	Executor  *resilience.Executor
	Throttle  *resilience.Throttle
	UserAgent string
	APIKey    string
	Email     string
}

func (o Options) normalize() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *StatusError) RetryAfter() time.Duration { return e.retryAfter }

type client struct {
	name string
	opts Options
}

// getJSON issues one throttled GET through the resilience executor and
// decodes the body into out. 429 maps to ErrProviderRateLimited and 404 to
// ErrPaperNotFound; neither is retried.
func (c *client) getJSON(ctx context.Context, op, reqURL string, headers map[string]string, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.opts.Throttle.Wait(callCtx, c.name); err != nil {
		return c.contextError(ctx, op, err)
	}

	_, err := resilience.Call(callCtx, c.opts.Executor, c.name+"."+op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.doGet(ctx, reqURL, headers, out)
	}, classifyProviderError)
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests:
		return domain.WrapError(domain.ErrProviderRateLimited, c.name+" "+op, err)
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		return domain.WrapError(domain.ErrPaperNotFound, c.name+" "+op, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return c.contextError(ctx, op, err)
	case classifyProviderError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, c.name+" "+op, err)
	default:
		return fmt.Errorf("%s %s: %w", c.name, op, err)
	}
}

// contextError keeps caller cancellation distinct from the per-call timeout.
func (c *client) contextError(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	return domain.WrapError(domain.ErrFetchTimeout, c.name+" "+op, err)
}

func (c *client) doGet(ctx context.Context, reqURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Provider:   c.name,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing %s response: %w", c.name, err)
	}
	return nil
}

func classifyProviderError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			// The crawler moves to the next provider instead of waiting.
			return resilience.ErrorClassification{RecordFailure: true}
		case http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// escapeID path-escapes an id but keeps DOI slashes readable.
func escapeID(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), "%2F", "/")
}

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return 10
	}
	if limit > max {
		return max
	}
	return limit
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if id == "" {
			continue
		}
		dup := false
		for _, have := range dst {
			if have == id {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, id)
		}
	}
	return dst
}
