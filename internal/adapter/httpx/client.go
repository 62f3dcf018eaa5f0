// Package httpx is the shared rate-limited, retrying HTTP client under
// every source adapter. Transports are injectable so adapter tests run
// against stubs instead of live APIs.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a provider client.
type Config struct {
	// BaseURL is prefixed to every request path.
	BaseURL string

	// Auth is applied to every outgoing request.
	Auth Auth

	// Timeout per attempt (default 30s).
	Timeout time.Duration

	// MaxRetries for rate-limited and 5xx responses (default 3).
	MaxRetries int

	// RateLimit is requests per second (default 4, conservative for
	// provider APIs); RateBurst defaults to 2.
	RateLimit float64
	RateBurst int

	// Headers added to every request.
	Headers map[string]string

	UserAgent string

	// Transport overrides the default transport; tests inject stubs here.
	Transport http.RoundTripper
}

// Client executes provider API requests with rate limiting and retry.
type Client struct {
	cfg  Config
	http *http.Client
	lim  *rate.Limiter
}

// NewClient fills defaults and builds the client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 4
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "crosswire/1.0"
	}
	if cfg.Auth == nil {
		cfg.Auth = NoAuth{}
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		lim: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// Response is a fully-read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Body
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, msg)
}

// RateLimited reports a 429 response.
func (e *APIError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RateLimited() || apiErr.StatusCode >= 500
	}
	return false
}

// Get issues a GET against path with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, query, headers, nil)
}

// PostJSON issues a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	var buf []byte
	if body != nil {
		var err error
		if buf, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, nil, map[string]string{
		"Content-Type": "application/json",
	}, buf)
}

// PostForm issues a POST with a form-encoded body (Slack Web API style).
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, nil, map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}, []byte(form.Encode()))
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, headers map[string]string, body []byte) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.once(ctx, method, path, query, headers, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}

		wait := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > wait {
			wait = apiErr.RetryAfter
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, query url.Values, headers map[string]string, body []byte) (*Response, error) {
	full := c.cfg.BaseURL
	if path != "" {
		full = strings.TrimSuffix(full, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.cfg.Auth.Apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
