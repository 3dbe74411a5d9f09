package pricing

import "github.com/shopspring/decimal"

// Usage is the raw token counts a Cost calculation consumes. Zero
// fields are valid ("no cache tokens used"), never "unknown" — per
// spec §4.2, a missing price field is treated as zero, not as an
// error.
type Usage struct {
	InputTokens        int64
	OutputTokens       int64
	CacheCreateTokens  int64
	CacheReadTokens    int64
	Batch              bool
}

var mtok = decimal.NewFromInt(1_000_000)

// Cost computes the USD cost of a Usage against a ModelDescriptor,
// quantized to 6 decimal places, per spec §4.2:
//
//	(input*input_price + output*output_price + cache_create*cache_create_price +
//	 cache_read*cache_read_price) / 1e6
//
// Pure function; no I/O, no shared state. Always exact decimal
// arithmetic — never float64 — so costs summed across many calls stay
// associative (spec §8's "cost calculation is associative" property).
func Cost(usage Usage, d ModelDescriptor) decimal.Decimal {
	total := decimal.NewFromInt(usage.InputTokens).Mul(d.InputPerMtok).
		Add(decimal.NewFromInt(usage.OutputTokens).Mul(d.OutputPerMtok)).
		Add(decimal.NewFromInt(usage.CacheCreateTokens).Mul(d.CacheCreatePerMtok)).
		Add(decimal.NewFromInt(usage.CacheReadTokens).Mul(d.CacheReadPerMtok)).
		Div(mtok)

	if usage.Batch && d.BatchDiscountPercent > 0 {
		discount := decimal.NewFromInt(int64(d.BatchDiscountPercent)).Div(decimal.NewFromInt(100))
		total = total.Sub(total.Mul(discount))
	}

	return total.Round(6)
}
