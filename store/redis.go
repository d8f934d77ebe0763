package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/gozephyr/giftrelay/errors"
)

// Redis mirrors a cache into a single Redis hash named after the namespace.
// Each field holds one JSON-encoded entry.
type Redis[V any] struct {
	client redis.UniversalClient
	opts   *Options
}

// NewRedis creates a Redis-backed mirror. The client is owned by the caller.
func NewRedis[V any](client redis.UniversalClient, opts ...Option) (*Redis[V], error) {
	if client == nil {
		return nil, errors.Wrap("NewRedis", nil, errors.ErrInvalidConfig)
	}
	options := NewOptions()
	if err := options.Apply(opts...); err != nil {
		return nil, errors.Wrap("NewRedis", nil, err)
	}
	return &Redis[V]{client: client, opts: options}, nil
}

// Key returns the Redis key holding the snapshot
func (r *Redis[V]) Key() string {
	return r.opts.Namespace + ":cache"
}

// ReadAll implements Mirror. Fields that fail to decode are skipped.
func (r *Redis[V]) ReadAll(ctx context.Context) (map[string]Entry[V], error) {
	fields, err := r.client.HGetAll(ctx, r.Key()).Result()
	if err != nil {
		if err == redis.Nil {
			return map[string]Entry[V]{}, nil
		}
		return nil, errors.Wrap("ReadAll", r.Key(), err)
	}

	out := make(map[string]Entry[V], len(fields))
	for k, raw := range fields {
		var e Entry[V]
		if err := json.UnmarshalFromString(raw, &e); err != nil {
			continue
		}
		out[k] = e
	}
	return out, nil
}

// WriteAll implements Mirror. The hash is replaced inside a MULTI/EXEC block
// so readers never see a half-written snapshot.
func (r *Redis[V]) WriteAll(ctx context.Context, entries map[string]Entry[V]) error {
	if err := r.opts.checkQuota(len(entries)); err != nil {
		return errors.Wrap("WriteAll", r.Key(), err)
	}

	fields := make(map[string]interface{}, len(entries))
	size := 0
	for k, e := range entries {
		raw, err := json.MarshalToString(e)
		if err != nil {
			return errors.Wrap("WriteAll", k, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
		}
		size += len(k) + len(raw)
		fields[k] = raw
	}
	if err := r.opts.checkBytes(size); err != nil {
		return errors.Wrap("WriteAll", r.Key(), err)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.Key())
		if len(fields) > 0 {
			pipe.HSet(ctx, r.Key(), fields)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap("WriteAll", r.Key(), fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
	}
	return nil
}

// Close implements Mirror
func (r *Redis[V]) Close() error {
	return nil
}
