package extract

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name string
		text string
		want PriceRange
		ok   bool
	}{
		{"budget label", "budget: 100", PriceRange{80, 120}, true},
		{"around dollars", "around $50", PriceRange{40, 60}, true},
		{"bare dollar range", "$20 - $40", PriceRange{16, 48}, true},
		{"age is not a price", "my dog is 3 years old", PriceRange{}, false},
		{"budget range", "gift for my dad, budget $50-$100", PriceRange{40, 120}, true},
		{"price keyword", "something cool, price under 30", PriceRange{24, 36}, true},
		{"cost with to", "cost 25 to 75 please", PriceRange{20, 90}, true},
		{"tilde", "headphones ~$200", PriceRange{160, 240}, true},
		{"about", "about 1,000 dollars", PriceRange{800, 1200}, true},
		{"decimals", "budget 19.99", PriceRange{15.99, 23.99}, true},
		{"range of years", "toys for a 5-7 year old", PriceRange{}, false},
		{"range of months", "baby gift 6 - 12 months", PriceRange{}, false},
		{"sentence mentions age", "ages 8 - 12 board games", PriceRange{}, false},
		{"range with words after", "$30-$60 for my sister", PriceRange{24, 72}, true},
		{"word starting like a unit", "$25-$50 more or less", PriceRange{20, 60}, true},
		{"mom after range", "something 20-40 mom would love", PriceRange{16, 48}, true},
		{"modern after range", "$30 - $60 modern decor", PriceRange{24, 72}, true},
		{"range of weeks", "a 2-3 week trip", PriceRange{}, false},
		{"age in another sentence", "He is at a tricky age. Looking for something $20-$40.", PriceRange{16, 48}, true},
		{"age in same sentence", "Looking for something 8-12, age appropriate.", PriceRange{}, false},
		{"reversed range", "budget 100 - 50", PriceRange{}, false},
		{"nothing", "something for my sister who likes yoga", PriceRange{}, false},
		{"empty", "", PriceRange{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRange(tt.text)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want.Min, got.Min, 1e-9)
				assert.InDelta(t, tt.want.Max, got.Max, 1e-9)
			}
		})
	}
}

func TestValidatePrice(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		min, max float64
		want     bool
	}{
		{"inside", 45, 40, 60, true},
		{"below widened min", 30, 40, 60, false},
		{"exact lower bound", 32, 40, 60, true},
		{"exact upper bound", 72, 40, 60, true},
		{"above widened max", 75, 40, 60, false},
		{"just above max", 72.01, 40, 60, false},
		{"zero price", 0, 0, 60, false},
		{"negative price", -5, 0, 60, false},
		{"NaN price", math.NaN(), 40, 60, false},
		{"infinite price", math.Inf(1), 40, 60, false},
		{"negative budget", 10, -1, 60, false},
		{"unordered budget", 50, 60, 40, false},
		{"zero min budget", 1, 0, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidatePrice(tt.price, tt.min, tt.max))
		})
	}
}

func TestWiden(t *testing.T) {
	r := Widen(PriceRange{Min: 20, Max: 40})
	assert.Equal(t, PriceRange{Min: 16, Max: 48}, r)
	assert.True(t, r.Valid())
	assert.True(t, r.Contains(16))
	assert.True(t, r.Contains(48))
	assert.False(t, r.Contains(48.01))
	assert.False(t, PriceRange{Min: 5, Max: 1}.Valid())
	assert.False(t, PriceRange{Min: math.NaN(), Max: 1}.Valid())
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$1,299.99", 1299.99, true},
		{"49.95", 49.95, true},
		{"USD 20", 20, true},
		{"$35.00 - $40.00", 35, true},
		{"Currently unavailable", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePrice(tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}

func TestAccepts(t *testing.T) {
	r := PriceRange{Min: 16, Max: 48}
	assert.True(t, r.Accepts(16))
	assert.True(t, r.Accepts(48))
	assert.False(t, r.Accepts(0))
	assert.False(t, PriceRange{Min: 0, Max: 10}.Accepts(0))
	assert.False(t, r.Accepts(math.NaN()))
	assert.False(t, r.Accepts(50))
}
