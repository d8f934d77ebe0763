package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gozephyr/giftrelay/errors"
)

// DefaultTable is the table used by Postgres mirrors
const DefaultTable = "giftrelay_cache"

// Postgres mirrors a cache into rows of a shared table, one namespace per cache
type Postgres[V any] struct {
	pool  *pgxpool.Pool
	table string
	opts  *Options
}

// NewPostgres creates a Postgres-backed mirror. The pool is owned by the caller.
func NewPostgres[V any](pool *pgxpool.Pool, opts ...Option) (*Postgres[V], error) {
	if pool == nil {
		return nil, errors.Wrap("NewPostgres", nil, errors.ErrInvalidConfig)
	}
	options := NewOptions()
	if err := options.Apply(opts...); err != nil {
		return nil, errors.Wrap("NewPostgres", nil, err)
	}
	return &Postgres[V]{pool: pool, table: DefaultTable, opts: options}, nil
}

// EnsureSchema creates the mirror table if it does not exist
func (p *Postgres[V]) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+p.table+` (
		namespace  text        NOT NULL,
		key        text        NOT NULL,
		value      jsonb       NOT NULL,
		created_at timestamptz NOT NULL,
		PRIMARY KEY (namespace, key)
	)`)
	if err != nil {
		return errors.Wrap("EnsureSchema", p.table, err)
	}
	return nil
}

// ReadAll implements Mirror
func (p *Postgres[V]) ReadAll(ctx context.Context) (map[string]Entry[V], error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, value, created_at FROM `+p.table+` WHERE namespace = $1`,
		p.opts.Namespace)
	if err != nil {
		return nil, errors.Wrap("ReadAll", p.opts.Namespace, err)
	}
	defer rows.Close()

	out := make(map[string]Entry[V])
	for rows.Next() {
		var (
			key string
			raw []byte
			e   Entry[V]
		)
		if err := rows.Scan(&key, &raw, &e.Timestamp); err != nil {
			return nil, errors.Wrap("ReadAll", p.opts.Namespace, err)
		}
		if err := json.Unmarshal(raw, &e.Value); err != nil {
			continue
		}
		out[key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap("ReadAll", p.opts.Namespace, err)
	}
	return out, nil
}

// WriteAll implements Mirror. The namespace is replaced in one transaction.
func (p *Postgres[V]) WriteAll(ctx context.Context, entries map[string]Entry[V]) error {
	if err := p.opts.checkQuota(len(entries)); err != nil {
		return errors.Wrap("WriteAll", p.opts.Namespace, err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap("WriteAll", p.opts.Namespace, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	b.Queue(`DELETE FROM `+p.table+` WHERE namespace = $1`, p.opts.Namespace)
	for k, e := range entries {
		raw, err := json.Marshal(e.Value)
		if err != nil {
			return errors.Wrap("WriteAll", k, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
		}
		b.Queue(
			`INSERT INTO `+p.table+` (namespace, key, value, created_at) VALUES ($1, $2, $3, $4)`,
			p.opts.Namespace, k, raw, e.Timestamp,
		)
	}

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrap("WriteAll", p.opts.Namespace, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap("WriteAll", p.opts.Namespace, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap("WriteAll", p.opts.Namespace, fmt.Errorf("%w: %v", errors.ErrCacheWrite, err))
	}
	return nil
}

// Close implements Mirror
func (p *Postgres[V]) Close() error {
	return nil
}
