// Package quest implements the quest board state machine.
//
// Each quest moves forward only: progress never decreases and completed
// flips false→true at most once. Every transition returns the new board
// together with the IDs that completed in that step, so rewards are
// credited exactly once by construction.
package quest

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
)

// Quest IDs with built-in trigger rules.
const (
	FirstGrowth       = "first_growth"
	Diversify         = "diversify"
	SustainableTrader = "sustainable_trader"
	RiskManager       = "risk_manager"
)

const (
	// DiversifyMinPositions is the open-position count that completes diversify.
	DiversifyMinPositions = 2
	// HighLeverage is the leverage that counts toward risk_manager.
	HighLeverage = 5
)

var (
	// MinProfitPercent is the close pnlPercent that completes sustainable_trader.
	MinProfitPercent = decimal.NewFromInt(5)

	ErrInvalidQuest = errors.New("quest: invalid quest definition")
)

// DefaultCatalog returns the stock quest board, all unstarted.
func DefaultCatalog() []model.Quest {
	return []model.Quest{
		{
			ID:          FirstGrowth,
			Title:       "Plant a Seed",
			Description: "Open your first LONG position to plant a tree in your biome.",
			Reward:      50,
			MaxProgress: 1,
		},
		{
			ID:          Diversify,
			Title:       "Ecosystem Diversity",
			Description: "Have at least 2 active positions (Long or Short) simultaneously.",
			Reward:      100,
			MaxProgress: 2,
		},
		{
			ID:          SustainableTrader,
			Title:       "Sustainable Growth",
			Description: "Close a position with at least +5% profit.",
			Reward:      200,
			MaxProgress: 1,
		},
		{
			ID:          RiskManager,
			Title:       "Storm Weatherer",
			Description: "Keep a high leverage (5x) position open for 30 seconds without liquidation.",
			Reward:      300,
			MaxProgress: 30,
		},
	}
}

// Validate checks a catalog for unique IDs, positive rewards and thresholds.
func Validate(quests []model.Quest) error {
	seen := make(map[string]bool, len(quests))
	for _, q := range quests {
		switch {
		case q.ID == "":
			return fmt.Errorf("%w: empty id", ErrInvalidQuest)
		case seen[q.ID]:
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidQuest, q.ID)
		case q.Reward <= 0:
			return fmt.Errorf("%w: %s reward must be positive", ErrInvalidQuest, q.ID)
		case q.MaxProgress < 1:
			return fmt.Errorf("%w: %s max_progress must be at least 1", ErrInvalidQuest, q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}

// Reset returns a copy of quests with progress cleared.
func Reset(quests []model.Quest) []model.Quest {
	out := make([]model.Quest, len(quests))
	for i, q := range quests {
		q.Progress = 0
		q.Completed = false
		out[i] = q
	}
	return out
}

// Result is the outcome of one quest transition.
type Result struct {
	Quests    []model.Quest
	Completed []string // IDs that completed in this step
	Reward    int64    // sum of rewards of Completed
}

// OnOpen evaluates open-position triggers. openCount is the number of open
// positions after the new one was added.
func OnOpen(quests []model.Quest, dir model.Direction, openCount int) Result {
	return advance(quests, func(q model.Quest) (int, bool) {
		switch q.ID {
		case FirstGrowth:
			return q.MaxProgress, dir == model.DirectionLong
		case Diversify:
			return q.MaxProgress, openCount >= DiversifyMinPositions
		}
		return 0, false
	})
}

// OnClose evaluates close-position triggers for a position closed at
// pnlPercent.
func OnClose(quests []model.Quest, pnlPercent decimal.Decimal) Result {
	return advance(quests, func(q model.Quest) (int, bool) {
		if q.ID == SustainableTrader {
			return q.MaxProgress, pnlPercent.GreaterThanOrEqual(MinProfitPercent)
		}
		return 0, false
	})
}

// OnTick evaluates passive triggers against the positions that survived the
// tick. risk_manager counts ticks in which any high-leverage position is
// open, not the lifetime of one position.
func OnTick(quests []model.Quest, open []model.Position) Result {
	highLeverage := false
	for _, p := range open {
		if p.Leverage >= HighLeverage {
			highLeverage = true
			break
		}
	}
	return advance(quests, func(q model.Quest) (int, bool) {
		if q.ID == RiskManager {
			return q.Progress + 1, highLeverage
		}
		return 0, false
	})
}

// advance applies rule to every incomplete quest and collects completions.
// rule returns the candidate progress and whether the trigger fired.
func advance(quests []model.Quest, rule func(model.Quest) (int, bool)) Result {
	res := Result{Quests: make([]model.Quest, len(quests))}
	for i, q := range quests {
		if !q.Completed {
			if progress, fired := rule(q); fired {
				if progress > q.MaxProgress {
					progress = q.MaxProgress
				}
				if progress > q.Progress {
					q.Progress = progress
				}
			}
			if q.Progress >= q.MaxProgress {
				q.Completed = true
				res.Completed = append(res.Completed, q.ID)
				res.Reward += q.Reward
			}
		}
		res.Quests[i] = q
	}
	return res
}
