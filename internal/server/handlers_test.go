package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheerrors "github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/product"
)

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, testConfig(), alwaysFound(10))
	rec := do(t, a.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
}

func TestSearchHandler(t *testing.T) {
	lookup := alwaysFound(30)
	a := newTestApp(t, testConfig(), lookup)
	h := a.Handler()

	rec := do(t, h, http.MethodGet, "/search?q=Ember+Mug", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[searchResponse](t, rec)
	assert.True(t, resp.Found)
	require.NotNil(t, resp.Product)
	assert.Equal(t, "B-ember-mug", resp.Product.ASIN)
	assert.Nil(t, resp.Range)

	rec = do(t, h, http.MethodGet, "/search?q=ember+mug&priority=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, lookup.Calls())
	assert.Equal(t, int64(1), a.Cache.Stats().Hits)
}

func TestSearchHandlerPriceRange(t *testing.T) {
	lookup := alwaysFound(30)
	a := newTestApp(t, testConfig(), lookup)
	h := a.Handler()

	rec := do(t, h, http.MethodGet, "/search?q=mug&min=10&max=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[searchResponse](t, rec)
	require.NotNil(t, resp.Range)
	assert.InDelta(t, 8, resp.Range.Min, 1e-9)
	assert.InDelta(t, 24, resp.Range.Max, 1e-9)
	assert.False(t, resp.Found)
	assert.Nil(t, resp.Product)
	require.NotNil(t, lookup.LastRange())
	assert.InDelta(t, 24, lookup.LastRange().Max, 1e-9)

	rec = do(t, h, http.MethodGet, "/search?q=headphones+~$25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[searchResponse](t, rec)
	require.NotNil(t, resp.Range)
	assert.InDelta(t, 20, resp.Range.Min, 1e-9)
	assert.InDelta(t, 30, resp.Range.Max, 1e-9)
	assert.True(t, resp.Found)
}

func TestSearchHandlerBadRequests(t *testing.T) {
	a := newTestApp(t, testConfig(), alwaysFound(30))
	h := a.Handler()

	for _, target := range []string{
		"/search",
		"/search?q=+",
		"/search?q=mug&min=10",
		"/search?q=mug&min=20&max=10",
		"/search?q=mug&min=abc&max=10",
		"/search?q=mug&priority=high",
	} {
		rec := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
	}

	rec := do(t, h, http.MethodPost, "/search?q=mug", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSearchHandlerUpstreamFailure(t *testing.T) {
	lookup := &recordingLookup{fn: func(string) (*product.Product, error) {
		return nil, &cacheerrors.UpstreamError{StatusCode: http.StatusServiceUnavailable}
	}}
	a := newTestApp(t, testConfig(), lookup)

	rec := do(t, a.Handler(), http.MethodGet, "/search?q=mug", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "product search failed", decode[errorResponse](t, rec).Error)
}

func TestBatchHandler(t *testing.T) {
	lookup := &recordingLookup{fn: func(term string) (*product.Product, error) {
		if term == "Nothing" {
			return nil, nil
		}
		return &product.Product{ASIN: "B-" + term, Title: term, Price: 30}, nil
	}}
	a := newTestApp(t, testConfig(), lookup)
	h := a.Handler()

	rec := do(t, h, http.MethodPost, "/batch", `{"terms":["Mug"," ","Nothing","Scarf"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[batchResponse](t, rec)
	assert.Equal(t, 3, resp.Requested)
	assert.Equal(t, 2, resp.Found)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Mug", resp.Results[0].Term)
	assert.Equal(t, "B-Scarf", resp.Results[1].Product.ASIN)

	rec = do(t, h, http.MethodPost, "/batch", `{"terms":["Lamp"],"min":10,"max":20}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[batchResponse](t, rec)
	require.NotNil(t, resp.Range)
	assert.InDelta(t, 24, resp.Range.Max, 1e-9)
	assert.Equal(t, 0, resp.Found)
}

func TestBatchHandlerBadRequests(t *testing.T) {
	a := newTestApp(t, testConfig(), alwaysFound(30))
	h := a.Handler()

	tooMany := `{"terms":["` + strings.Repeat(`a","`, maxBatchTerms) + `a"]}`
	for _, body := range []string{
		`not json`,
		`{"terms":[]}`,
		`{"terms":["a"],"min":5}`,
		`{"terms":["a"],"min":9,"max":5}`,
		tooMany,
	} {
		rec := do(t, h, http.MethodPost, "/batch", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestContextHandler(t *testing.T) {
	a := newTestApp(t, testConfig(), alwaysFound(30))
	h := a.Handler()

	rec := do(t, h, http.MethodGet, "/context?q=birthday+present+for+my+grandma,+budget:+$40", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[contextResponse](t, rec)
	assert.True(t, resp.Context.IsFemale)
	assert.Equal(t, "female", resp.Context.GenderLabel)
	require.NotNil(t, resp.Range)
	assert.InDelta(t, 32, resp.Range.Min, 1e-9)
	assert.InDelta(t, 48, resp.Range.Max, 1e-9)

	rec = do(t, h, http.MethodGet, "/context?q=something+for+a+coworker", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[contextResponse](t, rec)
	assert.Nil(t, resp.Range)
	assert.Equal(t, "person", resp.Context.GenderLabel)

	rec = do(t, h, http.MethodGet, "/context", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsHandler(t *testing.T) {
	a := newTestApp(t, testConfig(), alwaysFound(30))
	h := a.Handler()

	do(t, h, http.MethodGet, "/search?q=mug", "")
	do(t, h, http.MethodGet, "/search?q=mug", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `giftrelay_cache_hits_total{cache="products"} 1`)
	assert.Contains(t, body, `giftrelay_queue_dispatched_total{queue="products"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{cacheerrors.Wrap("Enqueue", nil, cacheerrors.ErrTimeout), http.StatusGatewayTimeout},
		{cacheerrors.Wrap("Close", nil, cacheerrors.ErrQueueClosed), http.StatusServiceUnavailable},
		{cacheerrors.Wrap("Wait", nil, cacheerrors.ErrContextCanceled), http.StatusRequestTimeout},
		{&cacheerrors.UpstreamError{StatusCode: 404}, http.StatusBadGateway},
		{cacheerrors.ErrInvalidInput, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
