package product

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	giftrelay "github.com/gozephyr/giftrelay"
	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/extract"
)

// Searcher resolves terms to products. Concurrent searches for the same key
// share one upstream call.
type Searcher struct {
	lookup Lookup
	cache  *giftrelay.Cache[*Product]
	group  singleflight.Group
	logger *slog.Logger
	batch  giftrelay.BatchConfig

	// timeout bounds a shared lookup, which outlives any one caller
	timeout time.Duration
}

// DefaultSharedTimeout bounds one coalesced search
const DefaultSharedTimeout = 30 * time.Second

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// WithBatchConfig sets the pacing used by SearchMany
func WithBatchConfig(cfg giftrelay.BatchConfig) Option {
	return func(s *Searcher) {
		s.batch = cfg
	}
}

// WithSharedTimeout bounds a coalesced search. Non-positive values keep the
// default.
func WithSharedTimeout(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSearcher creates a searcher. cache may be nil to disable caching.
func NewSearcher(lookup Lookup, cache *giftrelay.Cache[*Product], opts ...Option) (*Searcher, error) {
	if lookup == nil {
		return nil, errors.Wrap("NewSearcher", "lookup", errors.ErrInvalidConfig)
	}
	s := &Searcher{
		lookup: lookup,
		cache:  cache,
		logger: slog.Default(),
		batch:  giftrelay.DefaultBatchConfig(),

		timeout: DefaultSharedTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.batch.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Search returns the product for term within r, or nil when nothing matched.
// The sanitized term is tried first; when it finds nothing the simplified
// term is tried once. Hits are cached under the key of the original term, so
// a repeated search for the same term never reaches the upstream. Products
// priced outside r count as not found.
//
// Coalesced callers share one lookup that runs detached from their
// contexts; a caller whose ctx ends stops waiting without affecting the rest.
func (s *Searcher) Search(ctx context.Context, term string, r *extract.PriceRange) (*Product, error) {
	key := Key(term, r)
	if s.cache != nil {
		if p, ok := s.cache.Get(key); ok {
			return p, nil
		}
	}

	ch := s.group.DoChan(key, func() (v any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				v, err = (*Product)(nil), errors.Recover("Search", rec)
			}
		}()
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.search(shared, term, r)
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap("Search", term, errors.ErrContextCanceled)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("product search coalesced", "term", term)
		}
		return res.Val.(*Product), nil
	}
}

func (s *Searcher) search(ctx context.Context, term string, r *extract.PriceRange) (*Product, error) {
	key := Key(term, r)

	sanitized := extract.SanitizeTerm(term)
	if sanitized == "" {
		return nil, nil
	}
	p, err := s.find(ctx, sanitized, r)
	if err != nil {
		return nil, err
	}

	if p == nil {
		simplified := extract.SimplifyTerm(term)
		if simplified != "" && !strings.EqualFold(simplified, sanitized) {
			s.logger.Debug("retrying with simplified term", "term", term, "simplified", simplified)
			p, err = s.find(ctx, simplified, r)
			if err != nil {
				return nil, err
			}
		}
	}

	if p == nil {
		s.logger.Debug("no product found", "term", term)
		return nil, nil
	}
	if s.cache != nil {
		s.cache.Set(key, p)
	}
	return p, nil
}

func (s *Searcher) find(ctx context.Context, term string, r *extract.PriceRange) (*Product, error) {
	p, err := s.lookup.Lookup(ctx, term, r)
	if err != nil {
		return nil, errors.Wrap("Search", term, err)
	}
	if p == nil {
		return nil, nil
	}
	if r != nil && !r.Accepts(p.Price) {
		s.logger.Debug("product price out of range", "term", term, "asin", p.ASIN,
			"price", p.Price, "min", r.Min, "max", r.Max)
		return nil, nil
	}
	return p, nil
}

// SearchMany searches every term in paced batches and returns the matches
// in term order. Terms that fail or match nothing are left out.
func (s *Searcher) SearchMany(ctx context.Context, terms []string, r *extract.PriceRange, opts ...giftrelay.BatchOption[string]) []Match {
	opts = append([]giftrelay.BatchOption[string]{
		giftrelay.WithBatchName[string]("products"),
		giftrelay.WithBatchLogger[string](s.logger),
	}, opts...)

	found := giftrelay.RunBatches(ctx, terms, func(ctx context.Context, term string) (Match, error) {
		p, err := s.Search(ctx, term, r)
		return Match{Term: term, Product: p}, err
	}, s.batch, opts...)

	matches := make([]Match, 0, len(found))
	for _, m := range found {
		if m.Product != nil {
			matches = append(matches, m)
		}
	}
	return matches
}

// SearchQueued runs Search through q unless the result is already cached.
func (s *Searcher) SearchQueued(ctx context.Context, q *giftrelay.Queue[*Product], term string, r *extract.PriceRange, priority int) (*Product, error) {
	if s.cache != nil {
		if p, ok := s.cache.Get(Key(term, r)); ok {
			return p, nil
		}
	}
	return q.Do(ctx, func(ctx context.Context) (*Product, error) {
		return s.Search(ctx, term, r)
	}, priority)
}
