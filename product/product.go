// Package product resolves gift terms to catalog products through an
// upstream lookup, a shared TTL cache and a simplified-term fallback.
package product

import (
	"context"
	"fmt"
	"strings"

	"github.com/gozephyr/giftrelay/extract"
)

// Product is a catalog item returned by an upstream lookup
type Product struct {
	ASIN        string  `json:"asin"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	URL         string  `json:"url,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`
}

// Lookup finds the best product for a search term. A nil product with a nil
// error means nothing matched; errors are transport or upstream failures.
type Lookup interface {
	Lookup(ctx context.Context, term string, r *extract.PriceRange) (*Product, error)
}

// LookupFunc adapts a function to the Lookup interface
type LookupFunc func(ctx context.Context, term string, r *extract.PriceRange) (*Product, error)

// Lookup calls f
func (f LookupFunc) Lookup(ctx context.Context, term string, r *extract.PriceRange) (*Product, error) {
	return f(ctx, term, r)
}

// Key returns the cache key for a term and optional price range. Terms are
// compared case-insensitively with collapsed whitespace.
func Key(term string, r *extract.PriceRange) string {
	t := strings.ToLower(strings.Join(strings.Fields(term), " "))
	if r == nil {
		return t + "|any"
	}
	return fmt.Sprintf("%s|%.2f-%.2f", t, r.Min, r.Max)
}

// Match pairs a requested term with the product found for it
type Match struct {
	Term    string   `json:"term"`
	Product *Product `json:"product"`
}
