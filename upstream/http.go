package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/gozephyr/giftrelay/backoff"
	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/extract"
	"github.com/gozephyr/giftrelay/product"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIConfig configures an APILookup
type APIConfig struct {
	// BaseURL is the API root; searches go to BaseURL/search
	BaseURL string
	// APIKey is sent in the X-API-Key header when set
	APIKey string
	Retry  backoff.Config
}

type apiProduct struct {
	ASIN        string              `json:"asin"`
	Title       string              `json:"title"`
	Price       jsoniter.RawMessage `json:"price"`
	Currency    string              `json:"currency"`
	ImageURL    string              `json:"image_url"`
	URL         string              `json:"url"`
	Rating      float64             `json:"rating"`
	ReviewCount int                 `json:"review_count"`
}

type apiResponse struct {
	Results []apiProduct `json:"results"`
}

// APILookup searches a JSON product API. Transient failures are retried
// with backoff.
type APILookup struct {
	cfg     APIConfig
	search  *url.URL
	options options
}

// NewAPILookup creates a lookup for the API at cfg.BaseURL
func NewAPILookup(cfg APIConfig, opts ...Option) (*APILookup, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/search")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Wrap("NewAPILookup", cfg.BaseURL, errors.ErrInvalidConfig)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &APILookup{cfg: cfg, search: base, options: o}, nil
}

// Lookup implements product.Lookup
func (l *APILookup) Lookup(ctx context.Context, term string, r *extract.PriceRange) (*product.Product, error) {
	opts := append([]backoff.Option{
		backoff.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			reason, _ := errors.Classify(err)
			l.options.recorder.Retry("product_api", reason)
			l.options.logger.Warn("product lookup failed, retrying",
				"term", term, "attempt", attempt+1, "delay", delay, "error", err)
		}),
	}, l.options.retryOpts...)

	return backoff.Do(ctx, l.cfg.Retry, func(ctx context.Context) (*product.Product, error) {
		return l.fetch(ctx, term, r)
	}, opts...)
}

func (l *APILookup) fetch(ctx context.Context, term string, r *extract.PriceRange) (*product.Product, error) {
	u := *l.search
	q := url.Values{}
	q.Set("q", term)
	if r != nil {
		q.Set("min_price", strconv.FormatFloat(r.Min, 'f', 2, 64))
		q.Set("max_price", strconv.FormatFloat(r.Max, 'f', 2, 64))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating product API request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", l.options.userAgent)
	if l.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", l.cfg.APIKey)
	}

	resp, err := l.options.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling product API: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			l.options.logger.Warn("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &errors.UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("error decoding product API response: %w", err)
	}

	candidates := make([]*product.Product, 0, len(out.Results))
	for _, item := range out.Results {
		if p := item.product(); p != nil {
			candidates = append(candidates, p)
		}
	}
	return pick(candidates, r), nil
}

func (a apiProduct) product() *product.Product {
	if a.ASIN == "" || a.Title == "" {
		return nil
	}
	// price arrives as a number or as a display string like "$1,299.99"
	price, _ := extract.ParsePrice(string(a.Price))
	return &product.Product{
		ASIN:        a.ASIN,
		Title:       a.Title,
		Price:       price,
		Currency:    a.Currency,
		ImageURL:    a.ImageURL,
		URL:         a.URL,
		Rating:      a.Rating,
		ReviewCount: a.ReviewCount,
	}
}

// pick returns the first candidate priced inside r, or the first candidate
// when r is nil
func pick(candidates []*product.Product, r *extract.PriceRange) *product.Product {
	for _, p := range candidates {
		if r == nil || r.Accepts(p.Price) {
			return p
		}
	}
	return nil
}
