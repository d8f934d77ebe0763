package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/gozephyr/giftrelay/backoff"
	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/extract"
	"github.com/gozephyr/giftrelay/product"
)

// DefaultQueryParam is the search query parameter of a results page
const DefaultQueryParam = "k"

// ScrapeConfig configures a ScrapeLookup
type ScrapeConfig struct {
	// SearchURL is the results page; the term is sent in QueryParam
	SearchURL  string
	QueryParam string
	Retry      backoff.Config
}

// ScrapeLookup reads products from a search results page. Each result is an
// element carrying a data-asin attribute.
type ScrapeLookup struct {
	cfg     ScrapeConfig
	search  *url.URL
	options options
}

// NewScrapeLookup creates a lookup for the page at cfg.SearchURL
func NewScrapeLookup(cfg ScrapeConfig, opts ...Option) (*ScrapeLookup, error) {
	u, err := url.Parse(cfg.SearchURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Wrap("NewScrapeLookup", cfg.SearchURL, errors.ErrInvalidConfig)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = DefaultQueryParam
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &ScrapeLookup{cfg: cfg, search: u, options: o}, nil
}

// Lookup implements product.Lookup
func (l *ScrapeLookup) Lookup(ctx context.Context, term string, r *extract.PriceRange) (*product.Product, error) {
	opts := append([]backoff.Option{
		backoff.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			reason, _ := errors.Classify(err)
			l.options.recorder.Retry("product_scrape", reason)
			l.options.logger.Warn("product scrape failed, retrying",
				"term", term, "attempt", attempt+1, "delay", delay, "error", err)
		}),
	}, l.options.retryOpts...)

	return backoff.Do(ctx, l.cfg.Retry, func(ctx context.Context) (*product.Product, error) {
		return l.scrape(ctx, term, r)
	}, opts...)
}

func (l *ScrapeLookup) scrape(ctx context.Context, term string, r *extract.PriceRange) (*product.Product, error) {
	u := *l.search
	q := u.Query()
	q.Set(l.cfg.QueryParam, term)
	u.RawQuery = q.Encode()

	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.UserAgent(l.options.userAgent),
		colly.StdlibContext(ctx),
	)
	c.SetClient(l.options.client)

	var candidates []*product.Product
	c.OnHTML("[data-asin]", func(e *colly.HTMLElement) {
		if p := cardProduct(e); p != nil {
			candidates = append(candidates, p)
		}
	})

	var status int
	c.OnError(func(resp *colly.Response, err error) {
		status = resp.StatusCode
	})

	if err := c.Visit(u.String()); err != nil {
		if status >= 400 {
			return nil, &errors.UpstreamError{StatusCode: status}
		}
		return nil, fmt.Errorf("error scraping results page: %w", err)
	}

	l.options.logger.Debug("scraped results page", "term", term, "candidates", len(candidates))
	return pick(candidates, r), nil
}

func cardProduct(e *colly.HTMLElement) *product.Product {
	asin := strings.TrimSpace(e.Attr("data-asin"))
	title := strings.TrimSpace(e.ChildText("h2"))
	if asin == "" || title == "" {
		return nil
	}

	price, _ := extract.ParsePrice(e.ChildText(".a-price .a-offscreen"))
	rating, _ := strconv.ParseFloat(e.ChildAttr("[data-rating]", "data-rating"), 64)
	reviews, _ := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(e.ChildText(".review-count")), ",", ""))

	p := &product.Product{
		ASIN:        asin,
		Title:       title,
		Price:       price,
		ImageURL:    e.ChildAttr("img", "src"),
		Rating:      rating,
		ReviewCount: reviews,
	}
	if href := e.ChildAttr("h2 a", "href"); href != "" {
		p.URL = e.Request.AbsoluteURL(href)
	}
	if strings.Contains(e.ChildText(".a-price .a-offscreen"), "$") {
		p.Currency = "USD"
	}
	return p
}
