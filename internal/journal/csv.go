package journal

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/ecosim/perps-engine/internal/model"
)

// csvEntry is the flat export row of a ledger entry.
type csvEntry struct {
	ID           string `csv:"id"`
	Kind         string `csv:"kind"`
	Tick         uint64 `csv:"tick"`
	Timestamp    string `csv:"timestamp"`
	PositionID   string `csv:"position_id"`
	Symbol       string `csv:"symbol"`
	Direction    string `csv:"direction"`
	Leverage     int    `csv:"leverage"`
	Collateral   string `csv:"collateral"`
	Price        string `csv:"price"`
	PnL          string `csv:"pnl"`
	PnLPercent   string `csv:"pnl_percent"`
	BalanceDelta string `csv:"balance_delta"`
	QuestID      string `csv:"quest_id"`
	Reward       int64  `csv:"reward"`
}

// WriteCSV writes entries as CSV with a header row.
func WriteCSV(w io.Writer, entries []model.LedgerEntry) error {
	rows := make([]*csvEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, &csvEntry{
			ID:           e.ID,
			Kind:         string(e.Kind),
			Tick:         e.Tick,
			Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
			PositionID:   e.PositionID,
			Symbol:       string(e.Symbol),
			Direction:    string(e.Direction),
			Leverage:     e.Leverage,
			Collateral:   e.Collateral.String(),
			Price:        e.Price.String(),
			PnL:          e.PnL.StringFixed(2),
			PnLPercent:   e.PnLPercent.StringFixed(2),
			BalanceDelta: e.BalanceDelta.StringFixed(2),
			QuestID:      e.QuestID,
			Reward:       e.Reward,
		})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("marshal journal csv: %w", err)
	}
	return nil
}
