package upstream

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/gozephyr/giftrelay/extract"
	"github.com/gozephyr/giftrelay/product"
)

// Chain tries each lookup in order and returns the first product found.
// When none finds one, the errors of the failed lookups are returned
// joined, or nil when every lookup simply found nothing.
type Chain struct {
	lookups []product.Lookup
	logger  *slog.Logger
}

// NewChain creates a chain over the non-nil lookups
func NewChain(logger *slog.Logger, lookups ...product.Lookup) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{logger: logger}
	for _, l := range lookups {
		if l != nil {
			c.lookups = append(c.lookups, l)
		}
	}
	return c
}

// Len returns the number of lookups in the chain
func (c *Chain) Len() int {
	return len(c.lookups)
}

// Lookup implements product.Lookup
func (c *Chain) Lookup(ctx context.Context, term string, r *extract.PriceRange) (*product.Product, error) {
	var errs []error
	for i, l := range c.lookups {
		p, err := l.Lookup(ctx, term, r)
		if err != nil {
			c.logger.Warn("product lookup failed", "term", term, "source", i, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, stderrors.Join(errs...)
}
