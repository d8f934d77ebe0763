// Package upstream implements product lookups against a JSON product API
// and a search results page.
package upstream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gozephyr/giftrelay/backoff"
	"github.com/gozephyr/giftrelay/metrics"
)

// DefaultUserAgent is sent with every upstream request
const DefaultUserAgent = "giftrelay/1.0 (+https://github.com/gozephyr/giftrelay)"

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

type options struct {
	client    *http.Client
	logger    *slog.Logger
	recorder  metrics.Recorder
	retryOpts []backoff.Option
	userAgent string
}

func defaultOptions() options {
	return options{
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    slog.Default(),
		recorder:  metrics.Nop{},
		userAgent: DefaultUserAgent,
	}
}

// Option configures a lookup
type Option func(*options)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithRetryOptions passes options to the retry loop
func WithRetryOptions(opts ...backoff.Option) Option {
	return func(o *options) {
		o.retryOpts = append(o.retryOpts, opts...)
	}
}

// WithUserAgent overrides DefaultUserAgent
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}
