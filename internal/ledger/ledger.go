// Package ledger owns position construction, mark-to-market and the
// liquidation policy.
//
// Marks are always recomputed from the entry price and the current price,
// never accumulated, so PnL cannot drift across ticks:
//
//	rawPercent = (current - entry) / entry * sign(direction) * leverage
//	pnl        = collateral * rawPercent
//	pnlPercent = rawPercent * 100
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
)

const (
	MinLeverage = 1
	MaxLeverage = 5
)

var (
	ErrInvalidCollateral = errors.New("ledger: collateral must be positive")
	ErrInvalidLeverage   = errors.New("ledger: leverage must be between 1 and 5")
	ErrInvalidEntryPrice = errors.New("ledger: entry price must be positive")
	ErrInvalidDirection  = errors.New("ledger: direction must be LONG or SHORT")

	// DefaultLiquidationThreshold is the pnlPercent at or below which a
	// position is force-closed with its collateral forfeited.
	DefaultLiquidationThreshold = decimal.NewFromInt(-80)

	hundred = decimal.NewFromInt(100)
)

// OpenParams describes a new position. ID, OpenedAt and Coordinates are
// supplied by the caller so tests can make them deterministic.
type OpenParams struct {
	ID          string
	Symbol      model.AssetSymbol
	Direction   model.Direction
	Collateral  decimal.Decimal
	Leverage    int
	Price       decimal.Decimal
	OpenedAt    time.Time
	Coordinates model.Coordinates
}

// Open builds a position entered at the current price with zero PnL.
// Balance checks belong to the caller; see risk.Limiter.
func Open(p OpenParams) (model.Position, error) {
	if p.Direction != model.DirectionLong && p.Direction != model.DirectionShort {
		return model.Position{}, ErrInvalidDirection
	}
	if !p.Collateral.IsPositive() {
		return model.Position{}, ErrInvalidCollateral
	}
	if p.Leverage < MinLeverage || p.Leverage > MaxLeverage {
		return model.Position{}, ErrInvalidLeverage
	}
	if !p.Price.IsPositive() {
		return model.Position{}, ErrInvalidEntryPrice
	}
	return model.Position{
		ID:          p.ID,
		Symbol:      p.Symbol,
		Direction:   p.Direction,
		EntryPrice:  p.Price,
		Collateral:  p.Collateral,
		Leverage:    p.Leverage,
		Size:        p.Collateral.Mul(decimal.NewFromInt(int64(p.Leverage))),
		PnL:         decimal.Zero,
		PnLPercent:  decimal.Zero,
		OpenedAt:    p.OpenedAt,
		Coordinates: p.Coordinates,
	}, nil
}

// Mark is the result of marking a position to market.
type Mark struct {
	PnL        decimal.Decimal
	PnLPercent decimal.Decimal
}

// MarkToMarket computes PnL of p at currentPrice. Pure.
func MarkToMarket(p model.Position, currentPrice decimal.Decimal) Mark {
	if !p.EntryPrice.IsPositive() {
		return Mark{PnL: decimal.Zero, PnLPercent: decimal.Zero}
	}
	raw := currentPrice.Sub(p.EntryPrice).
		Div(p.EntryPrice).
		Mul(p.Direction.Sign()).
		Mul(decimal.NewFromInt(int64(p.Leverage)))
	return Mark{
		PnL:        p.Collateral.Mul(raw),
		PnLPercent: raw.Mul(hundred),
	}
}

// Apply returns a copy of p carrying the mark at currentPrice.
func Apply(p model.Position, currentPrice decimal.Decimal) model.Position {
	m := MarkToMarket(p, currentPrice)
	p.PnL = m.PnL
	p.PnLPercent = m.PnLPercent
	return p
}

// Close returns the amount released back to the balance: collateral + pnl.
func Close(p model.Position) decimal.Decimal {
	return p.Collateral.Add(p.PnL)
}

// Policy holds the liquidation rule.
type Policy struct {
	LiquidationThreshold decimal.Decimal
}

// DefaultPolicy liquidates at -80%.
func DefaultPolicy() Policy {
	return Policy{LiquidationThreshold: DefaultLiquidationThreshold}
}

// Liquidated reports whether a position at pnlPercent must be force-closed.
func (p Policy) Liquidated(pnlPercent decimal.Decimal) bool {
	return pnlPercent.LessThanOrEqual(p.LiquidationThreshold)
}

// MarkAll marks every position against prices and partitions the result.
// Input positions are not modified. A position whose symbol has no price
// keeps its previous mark.
func (p Policy) MarkAll(positions []model.Position, prices map[model.AssetSymbol]decimal.Decimal) (open, liquidated []model.Position) {
	open = make([]model.Position, 0, len(positions))
	for _, pos := range positions {
		if px, ok := prices[pos.Symbol]; ok {
			pos = Apply(pos, px)
		}
		if p.Liquidated(pos.PnLPercent) {
			liquidated = append(liquidated, pos)
			continue
		}
		open = append(open, pos)
	}
	return open, liquidated
}
