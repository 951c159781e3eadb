package domain

import "github.com/shopspring/decimal"

// Monetary arithmetic goes through shopspring/decimal so that aggregate
// figures round half-up to 2 decimals exactly once, at the aggregation point.
// Line-level derived prices keep a higher precision to avoid compounding
// rounding error across lines.

// linePrecision is the scale kept on derived per-line figures.
const linePrecision = 6

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// round2 rounds a decimal to 2 places (half away from zero) and returns a float64.
func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// roundLine rounds a decimal to the line precision and returns a float64.
func roundLine(d decimal.Decimal) float64 {
	f, _ := d.Round(linePrecision).Float64()
	return f
}

// priceExclTax derives the tax-exclusive price from a tax-inclusive one:
// ht = ttc / (1 + rate/100). For a zero rate the two are equal.
func priceExclTax(ttc decimal.Decimal, vatRate float64) decimal.Decimal {
	if vatRate == 0 {
		return ttc
	}
	divisor := decimal.NewFromInt(1).Add(dec(vatRate).Div(decimal.NewFromInt(100)))
	return ttc.DivRound(divisor, linePrecision)
}
