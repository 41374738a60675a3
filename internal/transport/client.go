// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/metrics"
	"github.com/tomtom215/prodsync/internal/syncerr"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 * 1024

// Config configures a store client.
type Config struct {
	// Name labels metrics and the circuit breaker ("remote", "local").
	Name    string
	BaseURL string

	// Token is sent as "Authorization: Bearer <token>" unless TokenHeader
	// names another header, in which case it is sent verbatim.
	Token       string
	TokenHeader string

	// OriginHeader carries Origin on every write so the opposite ingestor
	// can recognise the hub's own changes.
	OriginHeader string
	Origin       string

	Timeout time.Duration

	// RequestsPerSecond and Burst throttle outbound calls. Zero disables.
	RequestsPerSecond float64
	Burst             int

	// MaxRateLimitRetries bounds retries of HTTP 429. Default: 5
	MaxRateLimitRetries int
	// RateLimitBaseDelay is the first 429 backoff step. Default: 1s
	RateLimitBaseDelay time.Duration

	Breaker BreakerConfig
}

// Client is a JSON-over-HTTP client shared by the Remote and Local store
// adapters: authentication, origin tagging, throttling, 429 handling,
// circuit breaking and error classification live here.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *breaker
}

// New creates a client. BaseURL must be absolute.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", cfg.Name, cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRateLimitRetries <= 0 {
		cfg.MaxRateLimitRetries = 5
	}
	if cfg.RateLimitBaseDelay <= 0 {
		cfg.RateLimitBaseDelay = time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		breaker: newBreaker(cfg.Name+"-store", cfg.Breaker),
	}, nil
}

// Name returns the configured client name.
func (c *Client) Name() string { return c.cfg.Name }

// BreakerState reports the circuit state ("closed", "half-open", "open").
func (c *Client) BreakerState() string { return stateToString(c.breaker.state()) }

// StatusError is a non-2xx answer that is not retryable.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	if len(e.Body) > 0 {
		msg += ": " + strings.TrimSpace(string(e.Body))
	}
	return msg
}

// Unwrap maps 404 onto syncerr.ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return syncerr.ErrNotFound
	}
	return nil
}

// IsConflict reports whether err is an HTTP 409 answer.
func IsConflict(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
		return se, true
	}
	return nil, false
}

// Get fetches path into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	_, err := c.Do(ctx, http.MethodGet, path, query, nil, out)
	return err
}

// Do sends a request with an optional JSON body and decodes a JSON answer
// into out. It returns the HTTP status of the final response.
//
// Errors: *syncerr.TransientIOError for network failures, 408, 429 after
// retries, 5xx and open circuits; *StatusError for every other non-2xx.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out interface{}) (int, error) {
	op := c.cfg.Name + " " + method + " " + path

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, fmt.Errorf("%s: encode body: %w", op, err)
		}
	}

	result, err := c.breaker.execute(op, func() (interface{}, error) {
		return c.roundTrip(ctx, method, path, query, payload, out)
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return se.StatusCode, err
		}
		var te *syncerr.TransientIOError
		if errors.As(err, &te) {
			return te.StatusCode, err
		}
		return 0, err
	}

	status, ok := result.(int)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected result type %T", op, result)
	}
	return status, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte, out interface{}) (int, error) {
	op := c.cfg.Name + " " + method + " " + path

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	reqURL := *c.base
	reqURL.Path = c.base.Path + path
	if len(query) > 0 {
		reqURL.RawQuery = query.Encode()
	}

	resp, err := c.doRequestWithRateLimit(ctx, method, reqURL.String(), payload)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, syncerr.NewTransient(op, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
				return resp.StatusCode, fmt.Errorf("%s: decode response: %w", op, err)
			}
		}
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return resp.StatusCode, syncerr.NewTransient(op, resp.StatusCode, errors.New(readBodyForError(resp.Body)))
	default:
		return resp.StatusCode, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       []byte(readBodyForError(resp.Body)),
		}
	}
}

// doRequestWithRateLimit retries HTTP 429 with exponential backoff, honouring
// Retry-After when the store sends it. The last 429 is returned to the caller.
func (c *Client) doRequestWithRateLimit(ctx context.Context, method, reqURL string, payload []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		var body io.Reader = http.NoBody
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		c.decorate(req, payload != nil)

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		metrics.RecordStoreRequest(c.cfg.Name, method, resp.StatusCode, time.Since(start))

		if resp.StatusCode != http.StatusTooManyRequests || attempt >= c.cfg.MaxRateLimitRetries {
			return resp, nil
		}
		metrics.StoreRateLimited.WithLabelValues(c.cfg.Name).Inc()

		retryDelay := retryAfter(resp.Header.Get("Retry-After"), c.cfg.RateLimitBaseDelay*(1<<attempt), time.Now())
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		logging.Warn().
			Str("store", c.cfg.Name).
			Dur("retry_delay", retryDelay).
			Int("attempt", attempt+1).
			Int("max_retries", c.cfg.MaxRateLimitRetries).
			Msg("Store API rate limited (HTTP 429), retrying")

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) decorate(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		if c.cfg.TokenHeader != "" {
			req.Header.Set(c.cfg.TokenHeader, c.cfg.Token)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		}
	}
	if c.cfg.OriginHeader != "" && c.cfg.Origin != "" {
		req.Header.Set(c.cfg.OriginHeader, c.cfg.Origin)
	}
}

// retryAfter parses a Retry-After value (seconds or HTTP date) and falls
// back to def.
func retryAfter(value string, def time.Duration, now time.Time) time.Duration {
	if value == "" {
		return def
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return def
}

func readBodyForError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return fmt.Sprintf("<read body: %v>", err)
	}
	return strings.TrimSpace(string(data))
}

// IsOpenCircuit reports whether err came from a rejected call.
func IsOpenCircuit(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
