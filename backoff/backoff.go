// Package backoff computes retry delays and runs operations with
// exponential backoff and jitter.
package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gozephyr/giftrelay/errors"
)

// Config holds backoff parameters
type Config struct {
	// Base is the delay before the first retry
	Base time.Duration

	// Max caps the exponential delay before jitter is added
	Max time.Duration

	// JitterFraction is the upper bound of the random extra delay, as a
	// fraction of the capped delay
	JitterFraction float64

	// MaxRetries is the total number of attempts Retry makes
	MaxRetries int
}

// DefaultConfig returns the default backoff configuration
func DefaultConfig() Config {
	return Config{
		Base:           time.Second,
		Max:            10 * time.Second,
		JitterFraction: 0.1,
		MaxRetries:     3,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Base < 0 || c.Max < 0 || c.Max < c.Base {
		return errors.Wrap("Validate", "delay", errors.ErrInvalidConfig)
	}
	if c.JitterFraction < 0 || math.IsNaN(c.JitterFraction) {
		return errors.Wrap("Validate", "jitter", errors.ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return errors.Wrap("Validate", "max_retries", errors.ErrInvalidConfig)
	}
	return nil
}

// MaxDelay is the largest value Delay can return for cfg
func (c Config) MaxDelay() time.Duration {
	return c.Max + time.Duration(float64(c.Max)*c.JitterFraction)
}

// Delay returns the wait before retrying after the given zero-based attempt:
// min(Base*2^attempt, Max) plus uniform jitter in [0, d*JitterFraction],
// floored to the millisecond.
func Delay(cfg Config, attempt int) time.Duration {
	return delay(cfg, attempt, rand.Float64())
}

func delay(cfg Config, attempt int, r float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(cfg.Base) * math.Pow(2, float64(attempt))
	if d > float64(cfg.Max) || math.IsInf(d, 1) {
		d = float64(cfg.Max)
	}
	d += d * cfg.JitterFraction * r
	ms := math.Floor(d / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// Calculator computes delays from its own random source. It is safe for
// concurrent use.
type Calculator struct {
	cfg Config
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewCalculator creates a calculator. A nil src seeds from the clock.
func NewCalculator(cfg Config, src rand.Source) *Calculator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Calculator{cfg: cfg, rnd: rand.New(src)}
}

// Config returns the calculator configuration
func (c *Calculator) Config() Config {
	return c.cfg
}

// Delay returns the delay for attempt
func (c *Calculator) Delay(attempt int) time.Duration {
	c.mu.Lock()
	r := c.rnd.Float64()
	c.mu.Unlock()
	return delay(c.cfg, attempt, r)
}
