package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/asset"
	"github.com/ecosim/perps-engine/internal/journal"
	"github.com/ecosim/perps-engine/internal/model"
	"github.com/ecosim/perps-engine/internal/sim"
	"github.com/ecosim/perps-engine/internal/store"
)

// RunArgs configures one headless game.
type RunArgs struct {
	Engine     sim.Config
	Seed       int64 // 0: seeded from the clock
	Ticks      int
	Opens      []sim.OpenRequest
	CloseAfter int    // 0: positions stay open
	JournalCSV string // empty: no export
}

// parseOpen parses SYMBOL:DIRECTION:AMOUNT:LEVERAGE.
func parseOpen(s string) (sim.OpenRequest, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return sim.OpenRequest{}, fmt.Errorf("open %q: want SYMBOL:DIRECTION:AMOUNT:LEVERAGE", s)
	}
	sym, err := asset.ParseSymbol(parts[0])
	if err != nil {
		return sim.OpenRequest{}, fmt.Errorf("open %q: %w", s, err)
	}
	dir, err := asset.ParseDirection(parts[1])
	if err != nil {
		return sim.OpenRequest{}, fmt.Errorf("open %q: %w", s, err)
	}
	amount, err := decimal.NewFromString(parts[2])
	if err != nil {
		return sim.OpenRequest{}, fmt.Errorf("open %q: amount: %w", s, err)
	}
	lev, err := strconv.Atoi(parts[3])
	if err != nil {
		return sim.OpenRequest{}, fmt.Errorf("open %q: leverage: %w", s, err)
	}
	return sim.OpenRequest{Symbol: sym, Direction: dir, Amount: amount, Leverage: lev}, nil
}

// Run plays args.Ticks ticks and writes the tick log and final board to w.
// Rejected opens are reported and skipped.
func Run(w io.Writer, args RunArgs) error {
	seed := args.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	bus := EventBus.New()
	engine, err := sim.New(args.Engine,
		sim.WithRand(rand.New(rand.NewSource(seed))),
		sim.WithPublisher(bus),
	)
	if err != nil {
		return err
	}

	st := store.NewMemoryStore()
	recorder := journal.NewRecorder(st, nil)
	if err := recorder.Subscribe(bus); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); recorder.Run(ctx) }()

	fmt.Fprintf(w, "seed %d, %d ticks\n\n", seed, args.Ticks)

	for _, req := range args.Opens {
		if _, err := engine.OpenPosition(req); err != nil {
			fmt.Fprintf(w, "open %s %s rejected: %v\n", req.Symbol, req.Direction, err)
		}
	}

	ticks := tablewriter.NewWriter(w)
	ticks.SetHeader([]string{"Tick", "Balance", "Open", "Unrealized PnL", "Score", "ECO"})
	ticks.SetAlignment(tablewriter.ALIGN_RIGHT)
	for i := 1; i <= args.Ticks; i++ {
		s := engine.Tick()
		if args.CloseAfter > 0 && i == args.CloseAfter {
			for _, p := range s.Positions {
				if _, err := engine.ClosePosition(p.ID); err != nil {
					fmt.Fprintf(w, "close %s: %v\n", p.ID, err)
				}
			}
			s = engine.Snapshot()
		}
		ticks.Append([]string{
			strconv.FormatUint(s.Tick, 10),
			s.Balance.StringFixed(2),
			strconv.Itoa(len(s.Positions)),
			unrealized(s.Positions).StringFixed(2),
			strconv.Itoa(s.SustainabilityScore),
			strconv.FormatInt(s.EcoTokens, 10),
		})
	}
	ticks.Render()

	cancel()
	wg.Wait()

	final := engine.Snapshot()
	fmt.Fprintln(w)
	renderPositions(w, final)
	fmt.Fprintln(w)
	renderQuests(w, final)
	fmt.Fprintf(w, "\nbalance %s, trees %d, eco tokens %d\n",
		final.Balance.StringFixed(2), len(final.PlantedTrees), final.EcoTokens)

	if args.JournalCSV == "" {
		return nil
	}
	entries, err := st.ListLedgerEntries(context.Background(), 0)
	if err != nil {
		return err
	}
	// ListLedgerEntries is newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	f, err := os.Create(args.JournalCSV)
	if err != nil {
		return fmt.Errorf("create journal csv: %w", err)
	}
	defer f.Close()
	if err := journal.WriteCSV(f, entries); err != nil {
		return fmt.Errorf("write journal csv: %w", err)
	}
	fmt.Fprintf(w, "journal written to %s (%d entries)\n", args.JournalCSV, len(entries))
	return nil
}

func unrealized(ps []model.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range ps {
		total = total.Add(p.PnL)
	}
	return total
}

func renderPositions(w io.Writer, s *model.GameState) {
	if len(s.Positions) == 0 {
		fmt.Fprintln(w, "no open positions")
		return
	}
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"ID", "Symbol", "Side", "Lev", "Collateral", "Entry", "Mark", "PnL", "PnL %"})
	for _, p := range s.Positions {
		t.Append([]string{
			p.ID,
			string(p.Symbol),
			string(p.Direction),
			strconv.Itoa(p.Leverage),
			p.Collateral.StringFixed(2),
			p.EntryPrice.StringFixed(2),
			s.Prices[p.Symbol].StringFixed(2),
			p.PnL.StringFixed(2),
			p.PnLPercent.StringFixed(2),
		})
	}
	t.Render()
}

func renderQuests(w io.Writer, s *model.GameState) {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Quest", "Progress", "Reward", "Done"})
	for _, q := range s.Quests {
		t.Append([]string{
			q.Title,
			fmt.Sprintf("%d/%d", q.Progress, q.MaxProgress),
			strconv.FormatInt(q.Reward, 10),
			strconv.FormatBool(q.Completed),
		})
	}
	t.Render()
}
