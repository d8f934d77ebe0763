package giftrelay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gozephyr/giftrelay/backoff"
	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/internal"
	"github.com/gozephyr/giftrelay/metrics"
)

// BatchConfig represents configuration for batch runs
type BatchConfig struct {
	// BatchSize is the number of items per chunk; it is also the chunk's
	// concurrency
	BatchSize int

	// Stagger offsets the start of the i-th item of a chunk by i*Stagger
	Stagger time.Duration

	// InterBatchDelay is the pause between chunks
	InterBatchDelay time.Duration

	// Retry, when set, retries transient item failures with backoff
	Retry *backoff.Config
}

// DefaultBatchConfig returns the default batch configuration
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:       4,
		Stagger:         200 * time.Millisecond,
		InterBatchDelay: time.Second,
	}
}

// Validate checks the configuration
func (c BatchConfig) Validate() error {
	if c.BatchSize <= 0 {
		return errors.Wrap("BatchConfig.Validate", "batch_size", errors.ErrInvalidConfig)
	}
	if c.Stagger < 0 || c.InterBatchDelay < 0 {
		return errors.Wrap("BatchConfig.Validate", "delay", errors.ErrInvalidConfig)
	}
	if c.Retry != nil {
		return c.Retry.Validate()
	}
	return nil
}

type batchOptions[I any] struct {
	name      string
	progress  func(processed, total int)
	itemError func(index int, item I, err error)
	logger    *slog.Logger
	recorder  metrics.Recorder
	sleep     func(ctx context.Context, d time.Duration) bool
	retryOpts []backoff.Option
}

// BatchOption configures a batch run
type BatchOption[I any] func(*batchOptions[I])

// WithBatchName sets the name used in logs and metric labels
func WithBatchName[I any](name string) BatchOption[I] {
	return func(o *batchOptions[I]) {
		o.name = name
	}
}

// WithProgress registers a callback invoked after each chunk
func WithProgress[I any](fn func(processed, total int)) BatchOption[I] {
	return func(o *batchOptions[I]) {
		o.progress = fn
	}
}

// WithItemError registers a callback invoked for each failed item
func WithItemError[I any](fn func(index int, item I, err error)) BatchOption[I] {
	return func(o *batchOptions[I]) {
		o.itemError = fn
	}
}

// WithBatchLogger sets the logger
func WithBatchLogger[I any](logger *slog.Logger) BatchOption[I] {
	return func(o *batchOptions[I]) {
		o.logger = logger
	}
}

// WithBatchRecorder sets the metrics recorder
func WithBatchRecorder[I any](r metrics.Recorder) BatchOption[I] {
	return func(o *batchOptions[I]) {
		o.recorder = r
	}
}

// WithBatchSleep replaces the sleep used for stagger and inter-batch delays
func WithBatchSleep[I any](fn func(ctx context.Context, d time.Duration) bool) BatchOption[I] {
	return func(o *batchOptions[I]) {
		o.sleep = fn
	}
}

// WithBatchRetryOptions passes options to the per-item retry
func WithBatchRetryOptions[I any](opts ...backoff.Option) BatchOption[I] {
	return func(o *batchOptions[I]) {
		o.retryOpts = append(o.retryOpts, opts...)
	}
}

// BatchFailure describes one failed item
type BatchFailure struct {
	Index int
	Err   error
}

// BatchReport summarizes a batch run
type BatchReport[R any] struct {
	Results   []R
	Total     int
	Succeeded int
	Failed    int
	Chunks    int
	Failures  []BatchFailure
}

// Chunk splits items into contiguous chunks of at most size items. A
// non-positive size yields a single chunk.
func Chunk[I any](items []I, size int) [][]I {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	chunks := make([][]I, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// RunBatches runs fn over items chunk by chunk and returns the successful
// results. Failed items are logged, reported and left out; they never stop
// their siblings or the run.
func RunBatches[I, R any](ctx context.Context, items []I, fn func(ctx context.Context, item I) (R, error), cfg BatchConfig, opts ...BatchOption[I]) []R {
	return RunBatchesReport(ctx, items, fn, cfg, opts...).Results
}

type batchSlot[R any] struct {
	value R
	err   error
}

// RunBatchesReport is RunBatches returning a full report
func RunBatchesReport[I, R any](ctx context.Context, items []I, fn func(ctx context.Context, item I) (R, error), cfg BatchConfig, opts ...BatchOption[I]) BatchReport[R] {
	o := batchOptions[I]{
		name:     "batch",
		logger:   slog.Default(),
		recorder: metrics.Nop{},
		sleep:    internal.Sleep,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchConfig().BatchSize
	}

	chunks := Chunk(items, cfg.BatchSize)
	report := BatchReport[R]{
		Results: make([]R, 0, len(items)),
		Total:   len(items),
		Chunks:  len(chunks),
	}

	processed := 0
	for c, chunk := range chunks {
		base := c * cfg.BatchSize
		slots := make([]batchSlot[R], len(chunk))

		var g errgroup.Group
		for j, item := range chunk {
			g.Go(func() error {
				if j > 0 && cfg.Stagger > 0 {
					o.sleep(ctx, time.Duration(j)*cfg.Stagger)
				}
				v, err := runItem(ctx, item, fn, cfg.Retry, o.retryOpts)
				slots[j] = batchSlot[R]{value: v, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for j, s := range slots {
			index := base + j
			if s.err != nil {
				err := errors.New(errors.KindBatchItem, "RunBatches", index,
					fmt.Errorf("%w: %w", errors.ErrBatchItem, s.err))
				report.Failed++
				report.Failures = append(report.Failures, BatchFailure{Index: index, Err: err})
				o.recorder.BatchItem(o.name, false)
				o.logger.Warn("batch item failed", "batch", o.name, "index", index, "error", s.err)
				if o.itemError != nil {
					o.itemError(index, chunk[j], err)
				}
				continue
			}
			report.Succeeded++
			report.Results = append(report.Results, s.value)
			o.recorder.BatchItem(o.name, true)
		}

		processed += len(chunk)
		if o.progress != nil {
			o.progress(processed, len(items))
		}
		if c < len(chunks)-1 && cfg.InterBatchDelay > 0 {
			o.sleep(ctx, cfg.InterBatchDelay)
		}
	}

	o.logger.Debug("batch run finished", "batch", o.name, "total", report.Total,
		"succeeded", report.Succeeded, "failed", report.Failed, "chunks", report.Chunks)
	return report
}

// runItem calls fn once, or through backoff when retry is set. A canceled
// ctx fails the item without calling fn.
func runItem[I, R any](ctx context.Context, item I, fn func(context.Context, I) (R, error), retry *backoff.Config, retryOpts []backoff.Option) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			v, err = zero, errors.Recover("RunBatches", r)
		}
	}()

	if ctx.Err() != nil {
		var zero R
		return zero, errors.ErrContextCanceled
	}
	if retry == nil {
		return fn(ctx, item)
	}
	return backoff.Do(ctx, *retry, func(ctx context.Context) (R, error) {
		return fn(ctx, item)
	}, retryOpts...)
}
