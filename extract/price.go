// Package extract turns free-form gift queries into structured hints:
// price ranges, demographic context and cleaned product search terms.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Margin widens every price bound: min by -20%, max by +20%
const Margin = 0.2

// PriceRange is an inclusive price filter
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Valid reports whether the range is usable as a filter
func (r PriceRange) Valid() bool {
	return finite(r.Min) && finite(r.Max) && r.Min >= 0 && r.Max >= r.Min
}

// Contains reports whether price lies inside the range, bounds included
func (r PriceRange) Contains(price float64) bool {
	return price >= r.Min && price <= r.Max
}

// Accepts reports whether price is a positive finite amount inside the range
func (r PriceRange) Accepts(price float64) bool {
	return finite(price) && price > 0 && r.Contains(price)
}

// Widen applies Margin to both bounds, rounding to the cent
func Widen(r PriceRange) PriceRange {
	return PriceRange{
		Min: roundCents(r.Min * (1 - Margin)),
		Max: roundCents(r.Max * (1 + Margin)),
	}
}

const amount = `\$?\s*(\d[\d,]*(?:\.\d+)?)`

var (
	budgetPattern = regexp.MustCompile(`(?i)\b(?:budget|price|cost)s?\b[^\d$]{0,24}` + amount + `(?:\s*(?:-|–|to)\s*` + amount + `)?`)
	aroundPattern = regexp.MustCompile(`(?i)(?:\b(?:around|about|approximately)\s*|~\s*)` + amount)
	rangePattern  = regexp.MustCompile(`(?i)` + amount + `\s*(?:-|–|to)\s*` + amount + `(?:\s*([a-z]+))?`)
	agePattern    = regexp.MustCompile(`(?i)\bages?\b`)
	unitPattern   = regexp.MustCompile(`(?i)^(?:years?|yrs?|months?|mos?|days?|weeks?|wks?)$`)
	sentenceEnd   = regexp.MustCompile(`[.!?](?:\s+|$)`)
)

// ParseRange finds a price constraint in text and returns it widened by
// Margin. Recognition order: a budget/price/cost keyword followed by N or
// N-M, then "around N", then a bare N-M range that is not an age or
// duration. It returns false when nothing usable is found.
func ParseRange(text string) (PriceRange, bool) {
	if m := budgetPattern.FindStringSubmatch(text); m != nil {
		return widenMatch(m[1], m[2])
	}
	if m := aroundPattern.FindStringSubmatch(text); m != nil {
		return widenMatch(m[1], "")
	}
	for _, loc := range rangePattern.FindAllStringSubmatchIndex(text, -1) {
		if loc[6] >= 0 && unitPattern.MatchString(text[loc[6]:loc[7]]) {
			continue
		}
		if agePattern.MatchString(sentenceAt(text, loc[0], loc[1])) {
			continue
		}
		return widenMatch(text[loc[2]:loc[3]], text[loc[4]:loc[5]])
	}
	return PriceRange{}, false
}

// sentenceAt returns the sentence of text holding [start, end)
func sentenceAt(text string, start, end int) string {
	lo := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text[:start], -1) {
		lo = loc[1]
	}
	hi := len(text)
	if loc := sentenceEnd.FindStringIndex(text[end:]); loc != nil {
		hi = end + loc[0] + 1
	}
	return text[lo:hi]
}

func widenMatch(lo, hi string) (PriceRange, bool) {
	minV, ok := parseAmount(lo)
	if !ok {
		return PriceRange{}, false
	}
	maxV := minV
	if hi != "" {
		if maxV, ok = parseAmount(hi); !ok {
			return PriceRange{}, false
		}
	}
	r := Widen(PriceRange{Min: minV, Max: maxV})
	if !r.Valid() {
		return PriceRange{}, false
	}
	return r, true
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || !finite(v) || v < 0 {
		return 0, false
	}
	return v, true
}

var pricePattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParsePrice reads the first amount in a display price such as "$1,299.99"
func ParsePrice(s string) (float64, bool) {
	m := pricePattern.FindString(s)
	if m == "" {
		return 0, false
	}
	return parseAmount(m)
}

// ValidatePrice reports whether price is positive and finite and lies in
// [minBudget*(1-Margin), maxBudget*(1+Margin)], bounds included. The
// budgets must be non-negative and ordered.
func ValidatePrice(price, minBudget, maxBudget float64) bool {
	budget := PriceRange{Min: minBudget, Max: maxBudget}
	if !budget.Valid() {
		return false
	}
	return Widen(budget).Accepts(price)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
