package risk

import (
	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
)

const (
	MaxScore = 100
	MinScore = 0
)

var (
	leveragePenalty   = decimal.NewFromInt(10)
	overExposed       = decimal.NewFromFloat(0.5)
	overExposedCost   = decimal.NewFromInt(20)
	highlyExposed     = decimal.NewFromFloat(0.8)
	highlyExposedCost = decimal.NewFromInt(30)
)

// Exposure returns totalCollateral / (balance + totalCollateral), the share
// of equity posted as collateral. A non-positive denominator counts as fully
// exposed.
func Exposure(positions []model.Position, balance decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Collateral)
	}
	equity := balance.Add(total)
	if !equity.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return total.Div(equity)
}

// Score computes the 0..100 sustainability score of a portfolio:
//
//	100 - (avgLeverage - 1) * 10
//	    - 20 if exposure > 0.5
//	    - 30 more if exposure > 0.8
//
// rounded half away from zero and clamped. An empty portfolio scores 100.
// Always recomputed from scratch.
func Score(positions []model.Position, balance decimal.Decimal) int {
	if len(positions) == 0 {
		return MaxScore
	}

	totalLeverage := decimal.Zero
	for _, p := range positions {
		totalLeverage = totalLeverage.Add(decimal.NewFromInt(int64(p.Leverage)))
	}
	avgLeverage := totalLeverage.Div(decimal.NewFromInt(int64(len(positions))))

	score := decimal.NewFromInt(MaxScore).
		Sub(avgLeverage.Sub(decimal.NewFromInt(1)).Mul(leveragePenalty))

	exposure := Exposure(positions, balance)
	if exposure.GreaterThan(overExposed) {
		score = score.Sub(overExposedCost)
	}
	if exposure.GreaterThan(highlyExposed) {
		score = score.Sub(highlyExposedCost)
	}

	rounded := score.Round(0).IntPart()
	if rounded < MinScore {
		return MinScore
	}
	if rounded > MaxScore {
		return MaxScore
	}
	return int(rounded)
}
