package giftrelay

import (
	"log/slog"
	"time"

	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/internal"
	"github.com/gozephyr/giftrelay/metrics"
	"github.com/gozephyr/giftrelay/policy"
	"github.com/gozephyr/giftrelay/store"
	"github.com/gozephyr/giftrelay/ttl"
)

// Default cache settings
const (
	DefaultMaxEntries     = 500
	DefaultEvictFraction  = 0.2
	DefaultPersistTimeout = 5 * time.Second
)

// Options represents cache configuration options
type Options[V any] struct {
	// Name identifies the cache in logs and metrics
	Name string

	// TTLConfig is the configuration for TTL behavior
	TTLConfig ttl.Config

	// MaxEntries is the live entry count above which a purge runs (0 means unbounded)
	MaxEntries int

	// EvictFraction is the share of MaxEntries removed by one overflow purge
	EvictFraction float64

	// SweepInterval is the period of the background expiry sweep (0 disables it)
	SweepInterval time.Duration

	// Policy selects victim ordering for overflow purges
	Policy policy.Kind

	// Mirror receives the full entry set after every change
	Mirror store.Mirror[V]

	// PersistTimeout bounds a single mirror read or write
	PersistTimeout time.Duration

	// Clock returns the current time
	Clock func() time.Time

	// Logger receives persistence warnings
	Logger *slog.Logger

	// Recorder receives cache metrics
	Recorder metrics.Recorder
}

// Option is a function that configures cache options
type Option[V any] func(*Options[V])

// DefaultOptions returns the default cache options
func DefaultOptions[V any]() *Options[V] {
	return &Options[V]{
		Name:           "cache",
		TTLConfig:      ttl.DefaultConfig(),
		MaxEntries:     DefaultMaxEntries,
		EvictFraction:  DefaultEvictFraction,
		Policy:         policy.KindFIFO,
		PersistTimeout: DefaultPersistTimeout,
		Clock:          internal.SystemClock,
		Logger:         slog.Default(),
		Recorder:       metrics.Nop{},
	}
}

// Validate checks the options
func (o *Options[V]) Validate() error {
	if err := o.TTLConfig.Validate(); err != nil {
		return err
	}
	if o.MaxEntries < 0 {
		return errors.Wrap("Options.Validate", "max_entries", errors.ErrInvalidConfig)
	}
	if o.EvictFraction <= 0 || o.EvictFraction > 1 {
		return errors.Wrap("Options.Validate", "evict_fraction", errors.ErrInvalidConfig)
	}
	if o.SweepInterval < 0 || o.PersistTimeout <= 0 {
		return errors.Wrap("Options.Validate", "interval", errors.ErrInvalidConfig)
	}
	return nil
}

// WithName sets the cache name used in logs and metric labels
func WithName[V any](name string) Option[V] {
	return func(o *Options[V]) {
		o.Name = name
	}
}

// WithTTL sets the entry lifetime
func WithTTL[V any](d time.Duration) Option[V] {
	return func(o *Options[V]) {
		o.TTLConfig.TTL = d
	}
}

// WithTTLConfig sets the TTL configuration
func WithTTLConfig[V any](config ttl.Config) Option[V] {
	return func(o *Options[V]) {
		o.TTLConfig = config
	}
}

// WithMaxEntries sets the overflow threshold
func WithMaxEntries[V any](n int) Option[V] {
	return func(o *Options[V]) {
		o.MaxEntries = n
	}
}

// WithEvictFraction sets the share of MaxEntries removed per purge
func WithEvictFraction[V any](f float64) Option[V] {
	return func(o *Options[V]) {
		o.EvictFraction = f
	}
}

// WithSweepInterval enables the periodic expiry sweep
func WithSweepInterval[V any](d time.Duration) Option[V] {
	return func(o *Options[V]) {
		o.SweepInterval = d
	}
}

// WithPolicy sets the victim ordering for overflow purges
func WithPolicy[V any](kind policy.Kind) Option[V] {
	return func(o *Options[V]) {
		o.Policy = kind
	}
}

// WithMirror sets the durable mirror
func WithMirror[V any](m store.Mirror[V]) Option[V] {
	return func(o *Options[V]) {
		o.Mirror = m
	}
}

// WithPersistTimeout bounds mirror reads and writes
func WithPersistTimeout[V any](d time.Duration) Option[V] {
	return func(o *Options[V]) {
		o.PersistTimeout = d
	}
}

// WithClock sets the time source
func WithClock[V any](clock func() time.Time) Option[V] {
	return func(o *Options[V]) {
		o.Clock = clock
	}
}

// WithLogger sets the logger
func WithLogger[V any](logger *slog.Logger) Option[V] {
	return func(o *Options[V]) {
		o.Logger = logger
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder[V any](r metrics.Recorder) Option[V] {
	return func(o *Options[V]) {
		o.Recorder = r
	}
}
