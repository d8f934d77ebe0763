package store

import (
	"compress/gzip"

	"github.com/gozephyr/giftrelay/errors"
)

// Default values for mirror options
const (
	DefaultNamespace = "giftrelay"
	DefaultMaxBytes  = int64(5 * 1024 * 1024) // 5MB, a typical browser storage quota
)

// Options represents mirror configuration options
type Options struct {
	// Namespace separates snapshots of different caches sharing a backend
	Namespace string

	// Quota is the maximum number of entries a snapshot may hold (0 means unlimited)
	Quota int

	// MaxBytes is the maximum encoded snapshot size (0 means unlimited)
	MaxBytes int64

	// Compress enables gzip for file snapshots
	Compress bool

	// CompressionLevel is the gzip level used when Compress is set
	CompressionLevel int
}

// NewOptions creates a new Options instance with default values
func NewOptions() *Options {
	return &Options{
		Namespace:        DefaultNamespace,
		MaxBytes:         DefaultMaxBytes,
		CompressionLevel: gzip.DefaultCompression,
	}
}

// Option is a function that configures mirror options
type Option func(*Options) error

// WithNamespace sets the snapshot namespace
func WithNamespace(ns string) Option {
	return func(o *Options) error {
		if ns == "" {
			return errors.ErrInvalidConfig
		}
		o.Namespace = ns
		return nil
	}
}

// WithQuota sets the maximum number of entries per snapshot
func WithQuota(n int) Option {
	return func(o *Options) error {
		if n < 0 {
			return errors.ErrInvalidConfig
		}
		o.Quota = n
		return nil
	}
}

// WithMaxBytes sets the maximum encoded snapshot size
func WithMaxBytes(n int64) Option {
	return func(o *Options) error {
		if n < 0 {
			return errors.ErrInvalidConfig
		}
		o.MaxBytes = n
		return nil
	}
}

// WithCompression enables gzip with the given level
func WithCompression(level int) Option {
	return func(o *Options) error {
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			return errors.ErrInvalidConfig
		}
		o.Compress = true
		o.CompressionLevel = level
		return nil
	}
}

// Apply applies the given options to the Options struct
func (o *Options) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// checkQuota returns ErrQuotaExceeded when n entries do not fit
func (o *Options) checkQuota(n int) error {
	if o.Quota > 0 && n > o.Quota {
		return errors.ErrQuotaExceeded
	}
	return nil
}

// checkBytes returns ErrQuotaExceeded when size bytes do not fit
func (o *Options) checkBytes(size int) error {
	if o.MaxBytes > 0 && int64(size) > o.MaxBytes {
		return errors.ErrQuotaExceeded
	}
	return nil
}
