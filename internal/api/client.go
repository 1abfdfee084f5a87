// Package api fetches event records from the APS events API.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"apsgen/internal/dates"
	appLog "apsgen/internal/log"
	"apsgen/internal/metrics"
	"apsgen/internal/model"
)

const (
	EventsPath = "/api/events"

	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoff     = 1 * time.Second
	DefaultMaxBackoff  = 8 * time.Second
	DefaultRatePerSec  = 2.0
	maxErrorBodyPrefix = 200
)

// retryStatus lists responses that are retried with backoff.
var retryStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Options configures a Client. Zero values take the defaults above.
type Options struct {
	Timeout           time.Duration
	MaxRetries        int
	Backoff           time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Metrics           *metrics.Metrics
}

// Client talks to the APS events API.
type Client struct {
	baseURL    string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// NewClient creates a Client for baseURL (e.g. "http://localhost:4321").
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRatePerSec
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     hc,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		maxBackoff: opts.MaxBackoff,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		metrics:    opts.Metrics,
	}
}

// Name identifies this source in logs and metrics.
func (c *Client) Name() string { return "api" }

// Events fetches and validates the events in r.
func (c *Client) Events(ctx context.Context, r dates.Range) ([]model.Event, error) {
	body, err := c.FetchRaw(ctx, r.StartDay(), r.EndDay())
	if err != nil {
		return nil, err
	}
	events, err := model.DecodeEvents(body)
	if err != nil {
		return nil, err
	}
	c.metrics.EventsFetched(c.Name(), len(events))
	appLog.Info("fetched events from API", "count", len(events))
	return events, nil
}

// FetchRaw performs GET /api/events?start_date=...&end_date=... with retries
// and returns the response body unvalidated.
func (c *Client) FetchRaw(ctx context.Context, startDate, endDate string) ([]byte, error) {
	u := c.baseURL + EventsPath
	q := url.Values{}
	q.Set("start_date", startDate)
	q.Set("end_date", endDate)
	full := u + "?" + q.Encode()

	appLog.Debug("api request", "url", u, "start_date", startDate, "end_date", endDate)

	var body []byte
	err := retry(ctx, c.maxRetries+1, c.backoff, c.maxBackoff, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return permanent(err)
		}
		b, err := c.do(ctx, u, full)
		if err != nil {
			var p *permanentError
			if errors.As(err, &p) {
				c.metrics.FetchAttempt(c.Name(), "failed")
			} else {
				c.metrics.FetchAttempt(c.Name(), "retry")
				appLog.Debug("api attempt failed; will retry", "err", err)
			}
			return err
		}
		c.metrics.FetchAttempt(c.Name(), "ok")
		body = b
		return nil
	})
	if err != nil {
		var p *permanentError
		if errors.As(err, &p) {
			err = p.err
		}
		appLog.Error("api fetch failed", err, "url", u)
		return nil, err
	}
	return body, nil
}

// do runs one attempt. Errors that must not be retried are wrapped with
// permanent.
func (c *Client) do(ctx context.Context, u, full string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.describeTransportError(u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read response from %s: %w", u, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, permanent(fmt.Errorf("API endpoint not found: %s. Please check that the API server is running and the endpoint is correct", u))
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, permanent(fmt.Errorf("authentication required for %s. Please check your API credentials", u))
	case resp.StatusCode == http.StatusForbidden:
		return nil, permanent(fmt.Errorf("access forbidden for %s. Please check your API permissions", u))
	case retryStatus[resp.StatusCode]:
		return nil, fmt.Errorf("HTTP error %d from %s. Response: %s", resp.StatusCode, u, prefix(body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, permanent(fmt.Errorf("HTTP error %d from %s. Response: %s", resp.StatusCode, u, prefix(body)))
	}

	return body, nil
}

func (c *Client) describeTransportError(u string, err error) error {
	if errors.Is(err, context.Canceled) {
		return permanent(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("request to %s timed out after %s. The API server may be slow or unavailable. "+
			"Try increasing the timeout or check your network connection: %w", u, c.timeout, err)
	}
	return fmt.Errorf("failed to connect to %s. Please check that the API server is running and accessible: %w", u, err)
}

func prefix(body []byte) string {
	s := string(body)
	if len(s) > maxErrorBodyPrefix {
		s = s[:maxErrorBodyPrefix]
	}
	return s
}
