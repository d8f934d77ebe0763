package backoff

import (
	"context"
	"time"

	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/internal"
)

type retryOptions struct {
	onRetry    func(attempt int, delay time.Duration, err error)
	sleep      func(ctx context.Context, d time.Duration) bool
	retryIf    func(err error) bool
	calculator *Calculator
}

// Option configures Retry and Do
type Option func(*retryOptions)

// WithOnRetry registers a callback invoked before each backoff sleep
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *retryOptions) {
		o.onRetry = fn
	}
}

// WithSleep replaces the sleep function. It must return false when ctx
// ends before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) bool) Option {
	return func(o *retryOptions) {
		o.sleep = fn
	}
}

// WithRetryIf replaces the transient-error check
func WithRetryIf(fn func(err error) bool) Option {
	return func(o *retryOptions) {
		o.retryIf = fn
	}
}

// WithCalculator draws delays from c instead of the package random source
func WithCalculator(c *Calculator) Option {
	return func(o *retryOptions) {
		o.calculator = c
	}
}

// Retry calls fn until it succeeds, returns a non-transient error, or
// cfg.MaxRetries attempts have been made. Only transient errors are retried.
func Retry(ctx context.Context, cfg Config, fn func(ctx context.Context) error, opts ...Option) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// Do is the value-returning form of Retry
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := retryOptions{
		sleep:   internal.Sleep,
		retryIf: errors.IsTransient,
	}
	for _, opt := range opts {
		opt(&o)
	}

	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, errors.Wrap("Retry", attempt, err)
		}
		if !o.retryIf(err) || attempt+1 >= attempts {
			return zero, errors.Wrap("Retry", attempt, err)
		}

		var d time.Duration
		if o.calculator != nil {
			d = o.calculator.Delay(attempt)
		} else {
			d = Delay(cfg, attempt)
		}
		if o.onRetry != nil {
			o.onRetry(attempt, d, err)
		}
		if !o.sleep(ctx, d) {
			return zero, errors.Wrap("Retry", attempt, err)
		}
	}
}
