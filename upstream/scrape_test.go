package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gozephyr/giftrelay/backoff"
	cacheerrors "github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/extract"
)

const resultsPage = `<!DOCTYPE html>
<html><body>
<div class="s-result-list">
  <div data-asin="">sponsored header</div>
  <div data-asin="B0PRICEY">
    <h2><a href="/dp/B0PRICEY">Cashmere Scarf</a></h2>
    <span class="a-price"><span class="a-offscreen">$1,249.00</span></span>
  </div>
  <div data-asin="B0SCARF">
    <img src="https://img.example/scarf.jpg">
    <h2><a href="/dp/B0SCARF">Wool Scarf</a></h2>
    <span class="a-price"><span class="a-offscreen">$34.99</span></span>
    <i data-rating="4.5"></i>
    <span class="review-count">2,310</span>
  </div>
</div>
</body></html>`

func TestScrapeLookup(t *testing.T) {
	var gotTerm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTerm = r.URL.Query().Get("k")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	l, err := NewScrapeLookup(ScrapeConfig{SearchURL: srv.URL + "/s", Retry: quickRetry()})
	require.NoError(t, err)

	p, err := l.Lookup(context.Background(), "wool scarf", &extract.PriceRange{Min: 20, Max: 60})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "wool scarf", gotTerm)
	assert.Equal(t, "B0SCARF", p.ASIN)
	assert.Equal(t, "Wool Scarf", p.Title)
	assert.InDelta(t, 34.99, p.Price, 0.001)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, srv.URL+"/dp/B0SCARF", p.URL)
	assert.Equal(t, "https://img.example/scarf.jpg", p.ImageURL)
	assert.InDelta(t, 4.5, p.Rating, 0.001)
	assert.Equal(t, 2310, p.ReviewCount)

	p, err = l.Lookup(context.Background(), "scarf", nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "B0PRICEY", p.ASIN)
	assert.InDelta(t, 1249.0, p.Price, 0.001)
}

func TestScrapeLookupStatusErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l, err := NewScrapeLookup(ScrapeConfig{SearchURL: srv.URL, Retry: quickRetry()}, noSleep())
	require.NoError(t, err)

	_, err = l.Lookup(context.Background(), "scarf", nil)
	require.Error(t, err)
	var upErr *cacheerrors.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusServiceUnavailable, upErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestScrapeLookupEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>No results</p></body></html>`))
	}))
	defer srv.Close()

	l, err := NewScrapeLookup(ScrapeConfig{SearchURL: srv.URL, QueryParam: "q", Retry: backoff.Config{MaxRetries: 1}})
	require.NoError(t, err)

	p, err := l.Lookup(context.Background(), "scarf", nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewScrapeLookupValidates(t *testing.T) {
	_, err := NewScrapeLookup(ScrapeConfig{SearchURL: "/relative"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cacheerrors.ErrInvalidConfig))
}
