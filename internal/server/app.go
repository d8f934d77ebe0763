// Package server composes the cache, queue, product search and upstream
// clients into the giftrelay HTTP service.
package server

import (
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	giftrelay "github.com/gozephyr/giftrelay"
	"github.com/gozephyr/giftrelay/internal/config"
	"github.com/gozephyr/giftrelay/metrics"
	"github.com/gozephyr/giftrelay/product"
	"github.com/gozephyr/giftrelay/store"
	"github.com/gozephyr/giftrelay/upstream"
)

const (
	cacheName     = "products"
	sweepInterval = time.Minute
)

// App owns every long-lived component of the service
type App struct {
	Config   *config.AppConfig
	Cache    *giftrelay.Cache[*product.Product]
	Queue    *giftrelay.Queue[*product.Product]
	Searcher *product.Searcher
	Metrics  *metrics.PrometheusExporter

	logger  *slog.Logger
	started time.Time
	closers []func() error
}

type appOptions struct {
	lookup product.Lookup
	logger *slog.Logger
}

// AppOption configures NewApp
type AppOption func(*appOptions)

// WithLookup replaces the upstream lookups built from the configuration
func WithLookup(l product.Lookup) AppOption {
	return func(o *appOptions) {
		o.lookup = l
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) AppOption {
	return func(o *appOptions) {
		o.logger = logger
	}
}

// NewApp connects the configured mirror and builds the service components
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...AppOption) (*App, error) {
	o := appOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:  cfg,
		Metrics: metrics.NewPrometheusExporter("giftrelay"),
		logger:  o.logger,
		started: time.Now(),
	}

	lookup := o.lookup
	if lookup == nil {
		var err error
		if lookup, err = a.newLookup(); err != nil {
			return nil, err
		}
	}

	mirror, err := a.newMirror(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	a.Cache, err = giftrelay.NewCache[*product.Product](
		giftrelay.WithName[*product.Product](cacheName),
		giftrelay.WithTTL[*product.Product](cfg.ProductTTL),
		giftrelay.WithMaxEntries[*product.Product](cfg.CacheMaxEntries),
		giftrelay.WithSweepInterval[*product.Product](sweepInterval),
		giftrelay.WithMirror[*product.Product](mirror),
		giftrelay.WithLogger[*product.Product](a.logger),
		giftrelay.WithRecorder[*product.Product](a.Metrics),
	)
	if err != nil {
		_ = mirror.Close()
		a.closeAll()
		return nil, err
	}

	a.Queue = giftrelay.NewQueue[*product.Product](cfg.Capacity.QueueConfig(),
		giftrelay.WithQueueName(cacheName),
		giftrelay.WithQueueLogger(a.logger),
		giftrelay.WithQueueRecorder(a.Metrics),
	)

	// lookups retry transient failures themselves
	batch := cfg.Capacity.BatchConfig()
	batch.Retry = nil
	a.Searcher, err = product.NewSearcher(lookup, a.Cache,
		product.WithLogger(a.logger),
		product.WithBatchConfig(batch),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) newLookup() (product.Lookup, error) {
	cfg := a.Config
	opts := []upstream.Option{
		upstream.WithLogger(a.logger),
		upstream.WithRecorder(a.Metrics),
	}

	var lookups []product.Lookup
	if cfg.HasAPI() {
		l, err := upstream.NewAPILookup(upstream.APIConfig{
			BaseURL: cfg.ProductAPIURL,
			APIKey:  cfg.ProductAPIKey,
			Retry:   cfg.Capacity.RetryConfig(),
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("product API: %w", err)
		}
		lookups = append(lookups, l)
	}
	if cfg.HasScraper() {
		l, err := upstream.NewScrapeLookup(upstream.ScrapeConfig{
			SearchURL: cfg.ScrapeURL,
			Retry:     cfg.Capacity.RetryConfig(),
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("product scraper: %w", err)
		}
		lookups = append(lookups, l)
	}
	return upstream.NewChain(a.logger, lookups...), nil
}

// newMirror picks the first configured of Postgres, Redis and file
func (a *App) newMirror(ctx context.Context) (store.Mirror[*product.Product], error) {
	cfg := a.Config
	ns := store.WithNamespace(cfg.CacheNamespace)

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		m, err := store.NewPostgres[*product.Product](pool, ns)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.logger.Info("cache mirror selected", "kind", "postgres", "table", store.DefaultTable)
		return m, nil

	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		m, err := store.NewRedis[*product.Product](client, ns)
		if err != nil {
			return nil, err
		}
		a.logger.Info("cache mirror selected", "kind", "redis", "key", m.Key())
		return m, nil

	case cfg.CacheFile != "":
		m, err := store.NewFile[*product.Product](cfg.CacheFile, ns, store.WithCompression(gzip.BestSpeed))
		if err != nil {
			return nil, err
		}
		a.logger.Info("cache mirror selected", "kind", "file", "path", m.Path())
		return m, nil
	}

	a.logger.Info("cache mirror selected", "kind", "none")
	return store.NewNop[*product.Product](), nil
}

// Close stops the queue, flushes and closes the cache and releases
// connections. It is safe to call once.
func (a *App) Close() error {
	var firstErr error
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *App) closeAll() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
