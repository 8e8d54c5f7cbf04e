// Package zoteroapi implements a typed client over the Zotero Web API v3:
// versioned reads, precondition-bearing writes, and the rate-limit/backoff
// handling every call must apply before decoding a response body.
package zoteroapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiVersionHeader = "Zotero-API-Version"
	apiVersion       = "3"

	headerBackoff        = "Backoff"
	headerRetryAfter     = "Retry-After"
	headerLastModVersion = "Last-Modified-Version"
	headerIfUnmodSince   = "If-Unmodified-Since-Version"

	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 60 * time.Second
	maxAttempts        = 6

	// BatchLimit is the maximum number of keys accepted by collectionKey=
	// and itemKey= batch-fetch parameters.
	BatchLimit = 50
)

// Client is a connection-pooled Zotero Web API client. One instance is
// shared across libraries and goroutines; httpClient and the quiet-until
// clock are the only mutable shared state, both safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc is overridable in tests to avoid real waits, mirroring the
	// teacher's graph.Client.sleepFunc.
	sleepFunc func(ctx context.Context, d time.Duration) error

	quiet *quietClock
}

// NewClient builds a Client against baseURL using apiKey as the bearer
// token. httpClient's Timeout should already reflect the caller's desired
// per-request timeout (default 60s).
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultMaxBackoff}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
		quiet:      newQuietClock(),
	}
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// quietClock tracks a single process-wide "don't call before this instant"
// deadline, shared across every library driven by this Client. The original
// implementation mutates client-wide rate-limit state the same way rather
// than tracking backoff per library.
type quietClock struct {
	mu    chan struct{} // 1-buffered mutex
	until time.Time
}

func newQuietClock() *quietClock {
	q := &quietClock{mu: make(chan struct{}, 1)}
	q.mu <- struct{}{}

	return q
}

func (q *quietClock) lock()   { <-q.mu }
func (q *quietClock) unlock() { q.mu <- struct{}{} }

func (q *quietClock) wait(ctx context.Context, sleep func(context.Context, time.Duration) error) error {
	q.lock()
	until := q.until
	q.unlock()

	if d := time.Until(until); d > 0 {
		return sleep(ctx, d)
	}

	return nil
}

func (q *quietClock) extend(d time.Duration) {
	q.lock()
	defer q.unlock()

	next := time.Now().Add(d)
	if next.After(q.until) {
		q.until = next
	}
}

// requestParams holds the pieces of a request that do needs to rebuild
// the request body on every attempt.
type requestParams struct {
	method string
	path   string
	query  url.Values
	body   []byte
	extra  http.Header
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return u
}

// do executes one HTTP round trip, applying standing backoff before sending
// and per-response rate-limit handling before the caller sees the result.
// Returns the raw *http.Response on success; callers must close the body.
func (c *Client) do(ctx context.Context, p requestParams) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.quiet.wait(ctx, c.sleepFunc); err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, p)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %w", ErrTransport, err)

			if sleepErr := c.sleepFunc(ctx, calcBackoff(attempt)); sleepErr != nil {
				return nil, sleepErr
			}

			continue
		}

		if handled, retry, handleErr := c.handleRateLimit(ctx, resp, attempt); handled {
			resp.Body.Close()

			if handleErr != nil {
				return nil, handleErr
			}

			if retry {
				continue
			}
		}

		if resp.StatusCode >= 400 {
			sentinel := classifyStatus(resp.StatusCode)

			if isRetryable(resp.StatusCode) && attempt < maxAttempts-1 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				resp.Body.Close()

				c.logger.Warn("zoteroapi: retrying after server error",
					slog.Int("status", resp.StatusCode),
					slog.Int("attempt", attempt),
				)

				lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(body), Sentinel: sentinel}

				if sleepErr := c.sleepFunc(ctx, calcBackoff(attempt)); sleepErr != nil {
					return nil, sleepErr
				}

				continue
			}

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()

			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body), Sentinel: sentinel}
		}

		return resp, nil
	}

	return nil, fmt.Errorf("zoteroapi: exhausted retries: %w", lastErr)
}

// handleRateLimit inspects Backoff/Retry-After. Backoff is advisory and
// takes precedence; Retry-After is a hard rate limit. Either extends the
// shared quiet clock and signals the caller to retry.
func (c *Client) handleRateLimit(ctx context.Context, resp *http.Response, attempt int) (handled, retry bool, err error) {
	if v := resp.Header.Get(headerBackoff); v != "" {
		if secs, perr := strconv.Atoi(v); perr == nil {
			c.quiet.extend(time.Duration(secs) * time.Second)

			if werr := c.sleepFunc(ctx, time.Duration(secs)*time.Second); werr != nil {
				return true, false, werr
			}

			return true, true, nil
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		var wait time.Duration

		if v := resp.Header.Get(headerRetryAfter); v != "" {
			if secs, perr := strconv.Atoi(v); perr == nil {
				wait = time.Duration(secs) * time.Second
			}
		}

		if wait == 0 {
			wait = calcBackoff(attempt)
		}

		c.quiet.extend(wait)

		if attempt >= maxAttempts-1 {
			return true, false, fmt.Errorf("%w: exhausted retries", ErrRateLimited)
		}

		if werr := c.sleepFunc(ctx, wait); werr != nil {
			return true, false, werr
		}

		return true, true, nil
	}

	return false, false, nil
}

func (c *Client) newRequest(ctx context.Context, p requestParams) (*http.Request, error) {
	var bodyReader io.Reader
	if p.body != nil {
		bodyReader = strings.NewReader(string(p.body))
	}

	req, err := http.NewRequestWithContext(ctx, p.method, c.url(p.path, p.query), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("zoteroapi: building request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(apiVersionHeader, apiVersion)

	if p.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, vs := range p.extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	return req, nil
}

// calcBackoff returns exponential backoff with +/-25% jitter, capped at
// defaultMaxBackoff.
func calcBackoff(attempt int) time.Duration {
	base := float64(defaultBaseBackoff) * math.Pow(2, float64(attempt))
	if base > float64(defaultMaxBackoff) {
		base = float64(defaultMaxBackoff)
	}

	jitter := base * (0.75 + rand.Float64()*0.5) //nolint:gosec // jitter, not security-sensitive
	if jitter > float64(defaultMaxBackoff) {
		jitter = float64(defaultMaxBackoff)
	}

	return time.Duration(jitter)
}

// lastModifiedVersion extracts the Last-Modified-Version header. A 304
// response means nothing changed since fallback, so the caller's version is
// returned unchanged; otherwise an absent header falls back to fallback+1.
func lastModifiedVersion(resp *http.Response, fallback int) int {
	if resp.StatusCode == http.StatusNotModified {
		return fallback
	}

	v := resp.Header.Get(headerLastModVersion)
	if v == "" {
		return fallback + 1
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback + 1
	}

	return n
}
