// Package config loads the service configuration from a .env file and the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	giftrelay "github.com/gozephyr/giftrelay"
	"github.com/gozephyr/giftrelay/backoff"
	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/ttl"
)

// Capacity throttles calls to rate-limited upstreams
type Capacity struct {
	MaxConcurrent      int
	InterDispatchDelay time.Duration
	ItemTimeout        time.Duration

	BatchSize       int
	Stagger         time.Duration
	InterBatchDelay time.Duration

	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

// AppConfig holds all configuration for the service
type AppConfig struct {
	Port     string
	LogLevel string

	// Product upstreams; at least one must be set
	ProductAPIURL string
	ProductAPIKey string
	ScrapeURL     string

	// Cache mirror; the first configured of DatabaseURL, RedisAddr and
	// CacheFile is used
	CacheNamespace  string
	CacheFile       string
	RedisAddr       string
	DatabaseURL     string
	CacheMaxEntries int
	ProductTTL      time.Duration

	Capacity Capacity
}

// Load reads the given .env files (default ".env") into the environment and
// builds the configuration from it. A missing default .env file is not an
// error.
func Load(files ...string) (*AppConfig, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 {
			return nil, fmt.Errorf("error loading env files: %w", err)
		}
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// FromEnv builds the configuration from environment variables without
// validating it
func FromEnv() (*AppConfig, error) {
	p := parser{}
	queue := giftrelay.DefaultQueueConfig()
	batch := giftrelay.DefaultBatchConfig()
	retry := backoff.DefaultConfig()

	cfg := &AppConfig{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ProductAPIURL:   os.Getenv("PRODUCT_API_URL"),
		ProductAPIKey:   os.Getenv("PRODUCT_API_KEY"),
		ScrapeURL:       os.Getenv("PRODUCT_SCRAPE_URL"),
		CacheNamespace:  getEnv("CACHE_NAMESPACE", "giftrelay"),
		CacheFile:       os.Getenv("CACHE_FILE"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CacheMaxEntries: p.getInt("CACHE_MAX_ENTRIES", giftrelay.DefaultMaxEntries),
		ProductTTL:      p.getDuration("PRODUCT_TTL", ttl.ProductTTL),
		Capacity: Capacity{
			MaxConcurrent:      p.getInt("MAX_CONCURRENT", queue.MaxConcurrent),
			InterDispatchDelay: p.getDuration("INTER_DISPATCH_DELAY", queue.InterDispatchDelay),
			ItemTimeout:        p.getDuration("ITEM_TIMEOUT", queue.ItemTimeout),
			BatchSize:          p.getInt("BATCH_SIZE", batch.BatchSize),
			Stagger:            p.getDuration("STAGGER", batch.Stagger),
			InterBatchDelay:    p.getDuration("INTER_BATCH_DELAY", batch.InterBatchDelay),
			MaxRetries:         p.getInt("MAX_RETRIES", retry.MaxRetries),
			BaseRetryDelay:     p.getDuration("BASE_RETRY_DELAY", retry.Base),
			MaxRetryDelay:      p.getDuration("MAX_RETRY_DELAY", retry.Max),
		},
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *AppConfig) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port number: %s: %w", c.Port, errors.ErrInvalidConfig)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.ProductAPIURL == "" && c.ScrapeURL == "" {
		return fmt.Errorf("one of PRODUCT_API_URL or PRODUCT_SCRAPE_URL is required: %w", errors.ErrInvalidConfig)
	}
	if c.CacheMaxEntries <= 0 || c.ProductTTL <= 0 {
		return fmt.Errorf("cache limits must be positive: %w", errors.ErrInvalidConfig)
	}
	if err := c.Capacity.QueueConfig().Validate(); err != nil {
		return err
	}
	if err := c.Capacity.BatchConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by LogLevel
func (c *AppConfig) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, errors.ErrInvalidConfig)
	}
	return level, nil
}

// HasAPI reports whether the JSON product API is configured
func (c *AppConfig) HasAPI() bool {
	return c.ProductAPIURL != ""
}

// HasScraper reports whether the results page scraper is configured
func (c *AppConfig) HasScraper() bool {
	return c.ScrapeURL != ""
}

// QueueConfig returns the queue settings
func (c Capacity) QueueConfig() giftrelay.QueueConfig {
	return giftrelay.QueueConfig{
		MaxConcurrent:      c.MaxConcurrent,
		InterDispatchDelay: c.InterDispatchDelay,
		ItemTimeout:        c.ItemTimeout,
	}
}

// RetryConfig returns the backoff settings
func (c Capacity) RetryConfig() backoff.Config {
	cfg := backoff.DefaultConfig()
	cfg.Base = c.BaseRetryDelay
	cfg.Max = c.MaxRetryDelay
	cfg.MaxRetries = c.MaxRetries
	return cfg
}

// BatchConfig returns the batch settings
func (c Capacity) BatchConfig() giftrelay.BatchConfig {
	retry := c.RetryConfig()
	return giftrelay.BatchConfig{
		BatchSize:       c.BatchSize,
		Stagger:         c.Stagger,
		InterBatchDelay: c.InterBatchDelay,
		Retry:           &retry,
	}
}

// parser keeps the first conversion error
type parser struct {
	err error
}

func (p *parser) getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, errors.ErrInvalidConfig)
	}
	return n
}

// getDuration accepts Go durations ("1.5s") and bare milliseconds ("1500")
func (p *parser) getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, errors.ErrInvalidConfig)
	}
	return d
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
