/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package upstream talks to the AppFolio reporting API and exposes report
// results as a lazy sequence of pages.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// ErrTransport marks a failed or non-2xx upstream request.
var ErrTransport = errors.New("upstream transport failure")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Default client settings.
const (
	DefaultTimeout         = 5 * time.Minute
	DefaultRetryMax        = 3
	DefaultRetryWaitMin    = 2 * time.Second
	DefaultRetryWaitMax    = 30 * time.Second
	DefaultRequestsPerSec  = 5
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = time.Minute

	reportsPath  = "/api/v1/reports/"
	maxErrorBody = 512
)

// Config holds AppFolio API settings.
type Config struct {
	// DatabaseID selects https://<DatabaseID>.appfolio.com.
	DatabaseID   string
	ClientID     string
	ClientSecret string
	// BaseURL overrides the host derived from DatabaseID.
	BaseURL string

	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RequestsPerSecond limits request rate across all fetches. Zero disables.
	RequestsPerSecond float64
	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns a Config with defaults; credentials must still be set.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		RetryMax:          DefaultRetryMax,
		RetryWaitMin:      DefaultRetryWaitMin,
		RetryWaitMax:      DefaultRetryWaitMax,
		RequestsPerSecond: DefaultRequestsPerSec,
		BreakerFailures:   DefaultBreakerFailures,
		BreakerTimeout:    DefaultBreakerTimeout,
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.DatabaseID == "" && c.BaseURL == "" {
		return errors.New("appfolio: database id is required")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("appfolio: client id and secret are required")
	}
	return nil
}

func (c *Config) base() string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	return "https://" + c.DatabaseID + ".appfolio.com"
}

// Client performs authenticated, rate limited, retried GETs.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *retryablehttp.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     logr.Logger
}

// NewClient creates an AppFolio client.
func NewClient(cfg Config, log logr.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(cfg.base())
	if err != nil {
		return nil, fmt.Errorf("appfolio: parse base url: %w", err)
	}
	log = log.WithName("appfolio-client")

	hc := retryablehttp.NewClient()
	hc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = cfg.RetryWaitMin
	hc.RetryWaitMax = cfg.RetryWaitMax
	hc.Logger = leveledLogger{log: log}
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = DefaultBreakerFailures
	}
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "appfolio",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{cfg: cfg, base: base, http: hc, limiter: limiter, breaker: breaker, log: log}, nil
}

// ReportURL is the JSON endpoint of a report.
func (c *Client) ReportURL(endpoint string) string {
	return c.base.String() + reportsPath + url.PathEscape(endpoint) + ".json"
}

// Resolve turns a continuation URL that may be relative into an absolute one.
func (c *Client) Resolve(next string) string {
	u, err := url.Parse(next)
	if err != nil {
		return next
	}
	return c.base.ResolveReference(u).String()
}

// Get fetches rawURL with query appended and returns the body of a 2xx
// response. Every other outcome wraps ErrTransport, except cancellation of
// ctx which is returned as is.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	target := rawURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, target)
	})
	if err == nil {
		return body, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, ErrTransport) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", ErrTransport, err)
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %w", ErrTransport, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	return body, nil
}

// leveledLogger routes retryablehttp logs to logr; request-level chatter
// goes to V(1).
type leveledLogger struct {
	log logr.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error(nil, msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Info(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.V(1).Info(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.V(1).Info(msg, kv...) }
