package sim

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/history"
	"github.com/ecosim/perps-engine/internal/ledger"
	"github.com/ecosim/perps-engine/internal/model"
	"github.com/ecosim/perps-engine/internal/quest"
	"github.com/ecosim/perps-engine/internal/risk"
)

// Tree scale bounds for a harvested LONG.
const (
	MinTreeScale = 0.5
	MaxTreeScale = 2.5
)

// The functions in this file are the pure state transitions. Each takes the
// previous snapshot and returns a new one; the previous snapshot is never
// modified, and slices or maps that change are copied first.

// tickOutcome reports what a tick did besides producing the new state.
type tickOutcome struct {
	liquidated []model.Position
	quests     quest.Result
}

// applyTick advances prices, marks positions, drops liquidations, rescores
// and evaluates passive quests, in that order. Balance is untouched.
func applyTick(prev *model.GameState, prices map[model.AssetSymbol]decimal.Decimal, now time.Time, capacity int, policy ledger.Policy) (*model.GameState, tickOutcome) {
	next := *prev

	next.Prices = make(map[model.AssetSymbol]decimal.Decimal, len(prev.Prices))
	for sym, px := range prev.Prices {
		next.Prices[sym] = px
	}
	next.History = make(map[model.AssetSymbol][]model.PricePoint, len(prev.History))
	for sym, w := range prev.History {
		next.History[sym] = w
	}
	for sym, px := range prices {
		next.Prices[sym] = px
		next.History[sym] = history.Push(prev.History[sym], model.PricePoint{Time: now, Price: px}, capacity)
	}

	open, liquidated := policy.MarkAll(prev.Positions, next.Prices)
	next.Positions = open
	next.SustainabilityScore = risk.Score(open, prev.Balance)

	res := quest.OnTick(prev.Quests, open)
	next.Quests = res.Quests
	next.EcoTokens = prev.EcoTokens + res.Reward

	next.Tick = prev.Tick + 1
	next.UpdatedAt = now
	return &next, tickOutcome{liquidated: liquidated, quests: res}
}

// applyOpen debits collateral and appends pos. pos must already be valid.
func applyOpen(prev *model.GameState, pos model.Position, now time.Time) (*model.GameState, quest.Result) {
	next := *prev
	next.Balance = prev.Balance.Sub(pos.Collateral)

	next.Positions = make([]model.Position, 0, len(prev.Positions)+1)
	next.Positions = append(next.Positions, prev.Positions...)
	next.Positions = append(next.Positions, pos)

	res := quest.OnOpen(prev.Quests, pos.Direction, len(next.Positions))
	next.Quests = res.Quests
	next.EcoTokens = prev.EcoTokens + res.Reward

	next.SustainabilityScore = risk.Score(next.Positions, next.Balance)
	next.UpdatedAt = now
	return &next, res
}

// ClosedPosition describes a successful close.
type ClosedPosition struct {
	Position model.Position
	Released decimal.Decimal    // collateral + pnl credited to balance
	Tree     *model.PlantedTree // set when a profitable LONG was harvested
}

// applyClose removes the position with id and credits collateral + pnl.
// ok is false when no such position is open.
func applyClose(prev *model.GameState, id string, now time.Time) (next *model.GameState, closed ClosedPosition, res quest.Result, ok bool) {
	pos, found := prev.FindPosition(id)
	if !found {
		return prev, ClosedPosition{}, quest.Result{Quests: prev.Quests}, false
	}

	state := *prev
	released := ledger.Close(pos)
	state.Balance = prev.Balance.Add(released)

	state.Positions = make([]model.Position, 0, len(prev.Positions)-1)
	for _, p := range prev.Positions {
		if p.ID != id {
			state.Positions = append(state.Positions, p)
		}
	}

	closed = ClosedPosition{Position: pos, Released: released}
	if pos.Direction == model.DirectionLong && pos.PnL.IsPositive() {
		tree := plantTree(pos, now)
		state.PlantedTrees = make([]model.PlantedTree, 0, len(prev.PlantedTrees)+1)
		state.PlantedTrees = append(state.PlantedTrees, prev.PlantedTrees...)
		state.PlantedTrees = append(state.PlantedTrees, tree)
		closed.Tree = &tree
	}

	res = quest.OnClose(prev.Quests, pos.PnLPercent)
	state.Quests = res.Quests
	state.EcoTokens = prev.EcoTokens + res.Reward

	state.SustainabilityScore = risk.Score(state.Positions, state.Balance)
	state.UpdatedAt = now
	return &state, closed, res, true
}

// plantTree freezes a harvested LONG into the biome. Scale grows with the
// realized return: 1 + pnlPercent/100, clamped to [0.5, 2.5].
func plantTree(pos model.Position, now time.Time) model.PlantedTree {
	scale := 1 + pos.PnLPercent.InexactFloat64()/100
	scale = math.Min(math.Max(scale, MinTreeScale), MaxTreeScale)
	return model.PlantedTree{
		ID:        pos.ID,
		X:         pos.Coordinates.X,
		Z:         pos.Coordinates.Z,
		Scale:     scale,
		PlantedAt: now,
	}
}
