// Package ttl provides time-to-live helpers for cache entries.
// An entry is valid while its age is strictly below the configured TTL.
package ttl

import (
	"time"

	"github.com/gozephyr/giftrelay/errors"
)

const (
	// ProductTTL is the lifetime of cached product lookups
	ProductTTL = 24 * time.Hour
	// SuggestionTTL is the lifetime of cached suggestion sets
	SuggestionTTL = 30 * time.Minute
)

// Config represents configuration for TTL behavior
type Config struct {
	// TTL is the lifetime of every entry
	TTL time.Duration

	// MaxTTL bounds TTL; zero means unbounded
	MaxTTL time.Duration
}

// DefaultConfig returns the default TTL configuration (product lookups)
func DefaultConfig() Config {
	return ProductConfig()
}

// ProductConfig returns the TTL configuration for the product cache
func ProductConfig() Config {
	return Config{TTL: ProductTTL, MaxTTL: 7 * 24 * time.Hour}
}

// SuggestionConfig returns the TTL configuration for suggestion sets
func SuggestionConfig() Config {
	return Config{TTL: SuggestionTTL, MaxTTL: 7 * 24 * time.Hour}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return errors.Wrap("ttl.Validate", nil, errors.ErrInvalidConfig)
	}
	if c.MaxTTL > 0 && c.TTL > c.MaxTTL {
		return errors.Wrap("ttl.Validate", nil, errors.ErrInvalidConfig)
	}
	return nil
}

// Expired reports whether an entry created at ts is stale at now
func Expired(ts, now time.Time, ttl time.Duration) bool {
	return now.Sub(ts) >= ttl
}

// ExpiresAt returns the instant an entry created at ts becomes stale
func ExpiresAt(ts time.Time, ttl time.Duration) time.Time {
	return ts.Add(ttl)
}

// Remaining returns how long an entry created at ts stays valid, or zero
func Remaining(ts, now time.Time, ttl time.Duration) time.Duration {
	left := ttl - now.Sub(ts)
	if left < 0 {
		return 0
	}
	return left
}
