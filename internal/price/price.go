// Package price implements the procedural price generator that drives the
// simulated market.
//
// Each tick an asset moves by a bounded uniform shock scaled by its
// volatility plus a small trend bias:
//
//	next = current * (1 + r*volatility + trend*0.001),  r ∈ [-1, 1]
//
// There is no clamping. Over long runs a price may drift toward zero or grow
// without bound; both are accepted simulation behaviour. Assets are advanced
// independently, with no cross-asset correlation.
package price

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
)

var (
	// ErrInvalidVolatility is returned when volatility is negative or the
	// worst-case single-tick move could take a price to or below zero.
	ErrInvalidVolatility = errors.New("price: volatility must be in [0, 1) including trend bias")

	// TrendWeight scales an asset's trend into a per-tick change fraction.
	TrendWeight = 0.001

	// SignificantDigits bounds the precision a price carries between ticks.
	// Rounding to significant digits, not decimal places, keeps any positive
	// price positive and moving however small it gets.
	SignificantDigits int32 = 12
)

// Source supplies uniform samples in [0, 1). *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Generator draws the next price for an asset. Not safe for concurrent use
// unless the Source is; the simulation engine calls it under its lock.
type Generator struct {
	src Source
}

// NewGenerator creates a generator reading randomness from src.
func NewGenerator(src Source) *Generator {
	return &Generator{src: src}
}

// Shock draws one uniform sample r ∈ [-1, 1].
func (g *Generator) Shock() float64 {
	return g.src.Float64()*2 - 1
}

// NextPrice returns current * (1 + r*volatility + trend*TrendWeight),
// rounded to SignificantDigits.
func (g *Generator) NextPrice(current decimal.Decimal, volatility, trend float64) decimal.Decimal {
	return Step(current, g.Shock(), volatility, trend)
}

// Next implements the engine's price feed for one catalog asset.
func (g *Generator) Next(a model.Asset, current decimal.Decimal) decimal.Decimal {
	return g.NextPrice(current, a.Volatility, a.Trend)
}

// Step applies a given shock r to current. Exposed so callers holding their
// own shock sequence get exactly the generator's arithmetic.
func Step(current decimal.Decimal, r, volatility, trend float64) decimal.Decimal {
	change := decimal.NewFromFloat(r*volatility + trend*TrendWeight)
	return roundSignificant(current.Mul(decimal.NewFromInt(1).Add(change)), SignificantDigits)
}

// roundSignificant rounds v to n significant digits. Zero stays zero and a
// non-zero value never rounds to zero.
func roundSignificant(v decimal.Decimal, n int32) decimal.Decimal {
	if v.IsZero() {
		return v
	}
	// v = coefficient * 10^exponent, so the integer part of v has
	// len(coefficient)+exponent digits (zero or negative below 1).
	magnitude := int32(len(v.Abs().Coefficient().String())) + v.Exponent()
	return v.Round(n - magnitude)
}
