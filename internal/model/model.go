// Package model defines the core domain types shared across the simulation engine.
// All monetary values and prices use shopspring/decimal, never float64.
// Coordinates and tree scale are cosmetic and stay float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetSymbol identifies one of the simulated assets.
type AssetSymbol string

const (
	SymbolETH AssetSymbol = "ETH"
	SymbolBTC AssetSymbol = "BTC"
	SymbolSOL AssetSymbol = "SOL"
)

// Direction is the side of a leveraged position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Asset is the static configuration of a simulated asset. Price is the
// starting price; the live price is owned by GameState.Prices.
type Asset struct {
	Symbol     AssetSymbol     `json:"symbol" yaml:"symbol"`
	Name       string          `json:"name" yaml:"name"`
	Price      decimal.Decimal `json:"price" yaml:"price"`
	Volatility float64         `json:"volatility" yaml:"volatility"` // relative stddev per tick
	Trend      float64         `json:"trend" yaml:"trend"`           // small signed bias per tick
}

// Coordinates place a position in the biome. Cosmetic only.
type Coordinates struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Position is an open leveraged bet on an asset's price direction.
// PnL and PnLPercent are recomputed from EntryPrice on every tick.
type Position struct {
	ID          string          `json:"id"`
	Symbol      AssetSymbol     `json:"symbol"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	Collateral  decimal.Decimal `json:"collateral"`
	Leverage    int             `json:"leverage"`
	Size        decimal.Decimal `json:"size"` // collateral × leverage
	PnL         decimal.Decimal `json:"pnl"`
	PnLPercent  decimal.Decimal `json:"pnl_percent"`
	OpenedAt    time.Time       `json:"opened_at"`
	Coordinates Coordinates     `json:"coordinates"`
}

// PlantedTree records a profitable LONG close. Immutable once created.
type PlantedTree struct {
	ID        string    `json:"id"`
	X         float64   `json:"x"`
	Z         float64   `json:"z"`
	Scale     float64   `json:"scale"`
	PlantedAt time.Time `json:"planted_at"`
}

// Quest is one entry of the quest board. Progress only moves forward and
// Completed flips false→true at most once.
type Quest struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Reward      int64  `json:"reward" yaml:"reward"` // ECO tokens
	Progress    int    `json:"progress" yaml:"-"`
	MaxProgress int    `json:"max_progress" yaml:"max_progress"`
	Completed   bool   `json:"completed" yaml:"-"`
}

// PricePoint is one sample of an asset's price history.
type PricePoint struct {
	Time  time.Time       `json:"time"`
	Price decimal.Decimal `json:"price"`
}

// GameState is the root aggregate. A published snapshot is never mutated;
// every transition builds a new one.
type GameState struct {
	Balance             decimal.Decimal                 `json:"balance"`
	EcoTokens           int64                           `json:"eco_tokens"`
	SustainabilityScore int                             `json:"sustainability_score"` // 0..100
	Positions           []Position                      `json:"positions"`
	PlantedTrees        []PlantedTree                   `json:"planted_trees"`
	Prices              map[AssetSymbol]decimal.Decimal `json:"prices"`
	Quests              []Quest                         `json:"quests"`
	History             map[AssetSymbol][]PricePoint    `json:"history"`
	Tick                uint64                          `json:"tick"`
	UpdatedAt           time.Time                       `json:"updated_at"`
}

// FindPosition returns the open position with the given ID.
func (s *GameState) FindPosition(id string) (Position, bool) {
	for _, p := range s.Positions {
		if p.ID == id {
			return p, true
		}
	}
	return Position{}, false
}

// EntryKind classifies journal entries.
type EntryKind string

const (
	EntryOpen        EntryKind = "OPEN"
	EntryClose       EntryKind = "CLOSE"
	EntryLiquidate   EntryKind = "LIQUIDATE"
	EntryQuestReward EntryKind = "QUEST_REWARD"
)

// LedgerEntry is an immutable record of a simulation event.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID           string          `json:"id" db:"id"`
	Kind         EntryKind       `json:"kind" db:"kind"`
	PositionID   string          `json:"position_id,omitempty" db:"position_id"`
	Symbol       AssetSymbol     `json:"symbol,omitempty" db:"symbol"`
	Direction    Direction       `json:"direction,omitempty" db:"direction"`
	Leverage     int             `json:"leverage,omitempty" db:"leverage"`
	Collateral   decimal.Decimal `json:"collateral" db:"collateral"`
	Price        decimal.Decimal `json:"price" db:"price"`
	PnL          decimal.Decimal `json:"pnl" db:"pnl"`
	PnLPercent   decimal.Decimal `json:"pnl_percent" db:"pnl_percent"`
	BalanceDelta decimal.Decimal `json:"balance_delta" db:"balance_delta"` // signed
	QuestID      string          `json:"quest_id,omitempty" db:"quest_id"`
	Reward       int64           `json:"reward,omitempty" db:"reward"`
	Tick         uint64          `json:"tick" db:"tick"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// JournalStats aggregates the journal into session totals.
type JournalStats struct {
	Opened              int             `json:"opened"`
	Closed              int             `json:"closed"`
	Liquidated          int             `json:"liquidated"`
	QuestsCompleted     int             `json:"quests_completed"`
	RealizedPnL         decimal.Decimal `json:"realized_pnl"`
	ForfeitedCollateral decimal.Decimal `json:"forfeited_collateral"`
	EcoTokensEarned     int64           `json:"eco_tokens_earned"`
}
