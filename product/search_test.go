package product

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	giftrelay "github.com/gozephyr/giftrelay"
	cacheerrors "github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/extract"
)

type fakeLookup struct {
	mu       sync.Mutex
	calls    []string
	products map[string]*Product
	errs     map[string]error
	gate     chan struct{}
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		products: make(map[string]*Product),
		errs:     make(map[string]error),
	}
}

func (f *fakeLookup) Lookup(ctx context.Context, term string, _ *extract.PriceRange) (*Product, error) {
	f.mu.Lock()
	f.calls = append(f.calls, term)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[term]; ok {
		return nil, err
	}
	return f.products[term], nil
}

func (f *fakeLookup) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newProductCache(t *testing.T) *giftrelay.Cache[*Product] {
	t.Helper()
	c, err := giftrelay.NewCache[*Product](giftrelay.WithName[*Product]("products"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func fastBatch() giftrelay.BatchConfig {
	return giftrelay.BatchConfig{BatchSize: 2}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "lego set|any", Key("  LEGO   Set ", nil))
	assert.Equal(t, "lego set|16.00-48.00", Key("LEGO Set", &extract.PriceRange{Min: 16, Max: 48}))
	assert.NotEqual(t, Key("mug", nil), Key("mug", &extract.PriceRange{Min: 1, Max: 2}))
}

func TestNewSearcherRequiresLookup(t *testing.T) {
	_, err := NewSearcher(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cacheerrors.ErrInvalidConfig))

	_, err = NewSearcher(newFakeLookup(), nil, WithBatchConfig(giftrelay.BatchConfig{}))
	require.Error(t, err)
}

func TestSearchCachesHits(t *testing.T) {
	lookup := newFakeLookup()
	lookup.products["Yeti Rambler"] = &Product{ASIN: "B01", Title: "Yeti Rambler", Price: 35}
	cache := newProductCache(t)
	s, err := NewSearcher(lookup, cache)
	require.NoError(t, err)

	p, err := s.Search(context.Background(), "Yeti Rambler", nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "B01", p.ASIN)

	p, err = s.Search(context.Background(), "yeti  rambler", nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, lookup.Calls(), 1)
	assert.Equal(t, int64(1), cache.Stats().Hits)
}

func TestSearchFallsBackToSimplifiedTerm(t *testing.T) {
	lookup := newFakeLookup()
	lookup.products["Kindle Paperwhite"] = &Product{ASIN: "B02", Title: "Kindle Paperwhite", Price: 140}
	cache := newProductCache(t)
	s, err := NewSearcher(lookup, cache)
	require.NoError(t, err)

	term := "Kindle Paperwhite (16 GB) - 2nd Generation, Black"
	r := &extract.PriceRange{Min: 100, Max: 200}

	p, err := s.Search(context.Background(), term, r)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "B02", p.ASIN)

	calls := lookup.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Kindle Paperwhite", calls[1])

	cached, ok := cache.Get(Key(term, r))
	require.True(t, ok)
	assert.Equal(t, "B02", cached.ASIN)
	_, ok = cache.Get(Key("Kindle Paperwhite", r))
	assert.False(t, ok)

	_, err = s.Search(context.Background(), term, r)
	require.NoError(t, err)
	assert.Len(t, lookup.Calls(), 2)
}

func TestSearchSkipsFallbackWhenTermIsAlreadySimple(t *testing.T) {
	lookup := newFakeLookup()
	s, err := NewSearcher(lookup, newProductCache(t))
	require.NoError(t, err)

	p, err := s.Search(context.Background(), "Simple Term", nil)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, []string{"Simple Term"}, lookup.Calls())
}

func TestSearchNotFoundIsNotCached(t *testing.T) {
	lookup := newFakeLookup()
	cache := newProductCache(t)
	s, err := NewSearcher(lookup, cache)
	require.NoError(t, err)

	for range 2 {
		p, err := s.Search(context.Background(), "Unobtainium", nil)
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	assert.Len(t, lookup.Calls(), 2)
	assert.Equal(t, 0, cache.Len())
}

func TestSearchErrorStopsBeforeFallback(t *testing.T) {
	lookup := newFakeLookup()
	lookup.errs["Catan Board Game 5th Edition"] = &cacheerrors.UpstreamError{StatusCode: 503}
	lookup.products["Catan Board Game"] = &Product{ASIN: "B03", Price: 40}
	s, err := NewSearcher(lookup, newProductCache(t))
	require.NoError(t, err)

	p, err := s.Search(context.Background(), "Catan Board Game 5th Edition", nil)
	require.Error(t, err)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, cacheerrors.ErrTransientUpstream))
	assert.Len(t, lookup.Calls(), 1)
}

func TestSearchFallbackErrorPropagates(t *testing.T) {
	lookup := newFakeLookup()
	lookup.errs["Catan Board Game"] = &cacheerrors.UpstreamError{StatusCode: 400}
	s, err := NewSearcher(lookup, nil)
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "Catan Board Game 5th Edition", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cacheerrors.ErrUpstream))
	assert.Len(t, lookup.Calls(), 2)
}

func TestSearchRejectsOutOfRangePrice(t *testing.T) {
	lookup := newFakeLookup()
	lookup.products["Catan Board Game 5th Edition"] = &Product{ASIN: "B04", Price: 90}
	lookup.products["Catan Board Game"] = &Product{ASIN: "B05", Price: 45}
	s, err := NewSearcher(lookup, newProductCache(t))
	require.NoError(t, err)

	r := &extract.PriceRange{Min: 32, Max: 60}
	p, err := s.Search(context.Background(), "Catan Board Game 5th Edition", r)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "B05", p.ASIN)

	lookup.products["Catan Board Game"] = &Product{ASIN: "B06", Price: 0}
	p, err = s.Search(context.Background(), "Catan Board Game 5th Edition", &extract.PriceRange{Min: 1, Max: 2})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSearchCoalescesConcurrentCalls(t *testing.T) {
	lookup := newFakeLookup()
	lookup.products["Ember Mug"] = &Product{ASIN: "B07", Price: 99}
	lookup.gate = make(chan struct{})
	s, err := NewSearcher(lookup, newProductCache(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var found atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.Search(context.Background(), "Ember Mug", nil)
			if err == nil && p != nil {
				found.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return len(lookup.Calls()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(lookup.gate)
	wg.Wait()

	assert.Equal(t, int32(10), found.Load())
	assert.Len(t, lookup.Calls(), 1)
}

func TestSearchCancelledCallerDoesNotFailOthers(t *testing.T) {
	lookup := newFakeLookup()
	lookup.products["Lamp"] = &Product{ASIN: "L1", Price: 30}
	lookup.gate = make(chan struct{})
	cache := newProductCache(t)
	s, err := NewSearcher(lookup, cache)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Search(ctx, "Lamp", nil)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return len(lookup.Calls()) == 1 }, time.Second, time.Millisecond)

	type result struct {
		p   *Product
		err error
	}
	second := make(chan result, 1)
	go func() {
		p, err := s.Search(context.Background(), "Lamp", nil)
		second <- result{p, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		require.Error(t, err)
		assert.True(t, errors.Is(err, cacheerrors.ErrContextCanceled))
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(lookup.gate)
	res := <-second
	require.NoError(t, res.err)
	require.NotNil(t, res.p)
	assert.Equal(t, "L1", res.p.ASIN)
	assert.Len(t, lookup.Calls(), 1)

	cached, ok := cache.Get(Key("Lamp", nil))
	require.True(t, ok)
	assert.Equal(t, "L1", cached.ASIN)
}

func TestSearchSharedTimeout(t *testing.T) {
	lookup := newFakeLookup()
	lookup.gate = make(chan struct{})
	defer close(lookup.gate)
	s, err := NewSearcher(lookup, nil, WithSharedTimeout(30*time.Millisecond))
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "Lamp", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSearchMany(t *testing.T) {
	lookup := newFakeLookup()
	lookup.products["Mug"] = &Product{ASIN: "M1", Price: 12}
	lookup.products["Scarf"] = &Product{ASIN: "S1", Price: 25}
	lookup.products["Book"] = &Product{ASIN: "K1", Price: 18}
	lookup.errs["Lamp"] = errors.New("connection refused")
	s, err := NewSearcher(lookup, newProductCache(t), WithBatchConfig(fastBatch()))
	require.NoError(t, err)

	var failed []string
	matches := s.SearchMany(context.Background(),
		[]string{"Mug", "Lamp", "Scarf", "Nothing", "Book"}, nil,
		giftrelay.WithItemError(func(_ int, term string, _ error) {
			failed = append(failed, term)
		}))

	require.Len(t, matches, 3)
	assert.Equal(t, "Mug", matches[0].Term)
	assert.Equal(t, "S1", matches[1].Product.ASIN)
	assert.Equal(t, "Book", matches[2].Term)
	assert.Equal(t, []string{"Lamp"}, failed)
}

func TestSearchQueued(t *testing.T) {
	lookup := newFakeLookup()
	lookup.products["Scarf"] = &Product{ASIN: "S1", Price: 25}
	s, err := NewSearcher(lookup, newProductCache(t))
	require.NoError(t, err)

	q := giftrelay.NewQueue[*Product](giftrelay.QueueConfig{MaxConcurrent: 1, ItemTimeout: 5 * time.Second})
	defer q.Close()

	p, err := s.SearchQueued(context.Background(), q, "Scarf", nil, 1)
	require.NoError(t, err)
	require.NotNil(t, p)

	p, err = s.SearchQueued(context.Background(), q, "Scarf", nil, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, lookup.Calls(), 1)
	assert.Equal(t, int64(1), q.Stats().Dispatched)
}
