// Package history keeps the bounded per-asset price history.
//
// Windows are copy-on-write: Push never touches the slice it was given, so
// a window referenced by a published snapshot stays valid forever.
package history

import (
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
)

// DefaultCapacity is the number of samples kept per asset.
const DefaultCapacity = 50

// Push returns a new window holding the last capacity samples of w followed
// by p.
func Push(w []model.PricePoint, p model.PricePoint, capacity int) []model.PricePoint {
	if capacity < 1 {
		capacity = 1
	}
	keep := len(w)
	if keep > capacity-1 {
		keep = capacity - 1
	}
	out := make([]model.PricePoint, 0, keep+1)
	out = append(out, w[len(w)-keep:]...)
	return append(out, p)
}

// Seed returns a window of n copies of price at t, so charts start flat.
func Seed(price decimal.Decimal, t time.Time, n, capacity int) []model.PricePoint {
	if n > capacity {
		n = capacity
	}
	if n < 1 {
		n = 1
	}
	out := make([]model.PricePoint, n)
	for i := range out {
		out[i] = model.PricePoint{Time: t, Price: price}
	}
	return out
}

// Summary describes a price window.
type Summary struct {
	Samples       int             `json:"samples"`
	First         decimal.Decimal `json:"first"`
	Last          decimal.Decimal `json:"last"`
	Min           decimal.Decimal `json:"min"`
	Max           decimal.Decimal `json:"max"`
	Mean          decimal.Decimal `json:"mean"`
	StdDev        decimal.Decimal `json:"stddev"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// Summarize computes window statistics. An empty window yields a zero Summary.
func Summarize(w []model.PricePoint) Summary {
	if len(w) == 0 {
		return Summary{}
	}
	data := make(stats.Float64Data, len(w))
	for i, p := range w {
		data[i] = p.Price.InexactFloat64()
	}

	first, last := w[0].Price, w[len(w)-1].Price
	s := Summary{Samples: len(w), First: first, Last: last}

	if v, err := stats.Min(data); err == nil {
		s.Min = decimal.NewFromFloat(v).Round(8)
	}
	if v, err := stats.Max(data); err == nil {
		s.Max = decimal.NewFromFloat(v).Round(8)
	}
	if v, err := stats.Mean(data); err == nil {
		s.Mean = decimal.NewFromFloat(v).Round(8)
	}
	if v, err := stats.StandardDeviation(data); err == nil {
		s.StdDev = decimal.NewFromFloat(v).Round(8)
	}
	if first.IsPositive() {
		s.ChangePercent = last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return s
}
