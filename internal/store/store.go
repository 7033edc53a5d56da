// Package store defines the persistence interface for the simulation journal.
// Implementations include PostgreSQL (durable), Redis (read-through cache),
// and in-memory (default and tests). The journal is write-only from the
// engine's point of view; nothing is ever read back into game state.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/model"
)

var ErrDuplicateEntry = errors.New("store: duplicate ledger entry")

// Store is the journal persistence interface.
type Store interface {
	// InsertLedgerEntry appends an immutable journal record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// ListLedgerEntries returns the most recent entries, newest first.
	// A limit <= 0 returns every entry.
	ListLedgerEntries(ctx context.Context, limit int) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByPosition returns the entries of one position in
	// the order they were recorded.
	GetLedgerEntriesByPosition(ctx context.Context, positionID string) ([]model.LedgerEntry, error)

	// GetJournalStats aggregates the whole journal.
	GetJournalStats(ctx context.Context) (*model.JournalStats, error)
}

// Aggregate folds entries into session totals.
func Aggregate(entries []model.LedgerEntry) *model.JournalStats {
	st := &model.JournalStats{
		RealizedPnL:         decimal.Zero,
		ForfeitedCollateral: decimal.Zero,
	}
	for _, e := range entries {
		switch e.Kind {
		case model.EntryOpen:
			st.Opened++
		case model.EntryClose:
			st.Closed++
			st.RealizedPnL = st.RealizedPnL.Add(e.PnL)
		case model.EntryLiquidate:
			st.Liquidated++
			st.ForfeitedCollateral = st.ForfeitedCollateral.Add(e.Collateral)
		case model.EntryQuestReward:
			st.QuestsCompleted++
			st.EcoTokensEarned += e.Reward
		}
	}
	return st
}
