// Package journal turns simulation events into append-only ledger entries.
//
// The Recorder subscribes synchronously to the engine's events and hands
// them to a single writer goroutine through a buffered queue, so entries
// reach the store in the order the engine produced them without store
// latency ever reaching the engine. A full queue or a failing store drops
// the entry and logs it; the simulation never fails because of the journal.
package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/metrics"
	"github.com/ecosim/perps-engine/internal/model"
	"github.com/ecosim/perps-engine/internal/sim"
	"github.com/ecosim/perps-engine/internal/store"
)

const (
	DefaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Subscriber registers a handler for a topic. asaskevich/EventBus
// satisfies it.
type Subscriber interface {
	Subscribe(topic string, fn interface{}) error
}

// Recorder writes journal entries for engine events.
type Recorder struct {
	store store.Store
	queue chan model.LedgerEntry
	newID func() string
	log   *slog.Logger
}

// NewRecorder creates a recorder writing to st.
func NewRecorder(st store.Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		store: st,
		queue: make(chan model.LedgerEntry, DefaultQueueSize),
		newID: uuid.NewString,
		log:   log,
	}
}

// Subscribe registers the recorder on every journaled topic.
func (r *Recorder) Subscribe(bus Subscriber) error {
	for _, topic := range []string{
		sim.TopicPositionOpened,
		sim.TopicPositionClosed,
		sim.TopicPositionLiquidated,
		sim.TopicQuestCompleted,
	} {
		if err := bus.Subscribe(topic, r.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle queues the entries for ev. It never blocks.
func (r *Recorder) Handle(ev sim.Event) {
	for _, e := range r.Entries(ev) {
		select {
		case r.queue <- e:
		default:
			metrics.JournalWriteFailures.Inc()
			r.log.Warn("journal queue full, entry dropped", "kind", e.Kind, "position_id", e.PositionID)
		}
	}
}

// Run writes queued entries until ctx is cancelled, then drains what is
// already queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.write(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ctx context.Context, e model.LedgerEntry) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := r.store.InsertLedgerEntry(ctx, &e); err != nil {
		metrics.JournalWriteFailures.Inc()
		r.log.Error("journal write failed", "entry_id", e.ID, "kind", e.Kind, "err", err)
	}
}

// Entries converts an event into ledger entries. Tick events produce none.
func (r *Recorder) Entries(ev sim.Event) []model.LedgerEntry {
	base := model.LedgerEntry{
		ID:           r.newID(),
		Tick:         ev.Tick,
		Timestamp:    ev.Time,
		Collateral:   decimal.Zero,
		Price:        decimal.Zero,
		PnL:          decimal.Zero,
		PnLPercent:   decimal.Zero,
		BalanceDelta: decimal.Zero,
	}

	switch ev.Type {
	case sim.TopicPositionOpened:
		if ev.Position == nil {
			return nil
		}
		e := withPosition(base, *ev.Position)
		e.Kind = model.EntryOpen
		e.Price = ev.Position.EntryPrice
		e.BalanceDelta = ev.Position.Collateral.Neg()
		return []model.LedgerEntry{e}

	case sim.TopicPositionClosed:
		if ev.Position == nil {
			return nil
		}
		e := withPosition(base, *ev.Position)
		e.Kind = model.EntryClose
		e.Price = markPrice(ev)
		e.BalanceDelta = ev.Released
		return []model.LedgerEntry{e}

	case sim.TopicPositionLiquidated:
		if ev.Position == nil {
			return nil
		}
		e := withPosition(base, *ev.Position)
		e.Kind = model.EntryLiquidate
		e.Price = markPrice(ev)
		return []model.LedgerEntry{e}

	case sim.TopicQuestCompleted:
		if ev.Quest == nil {
			return nil
		}
		e := base
		e.Kind = model.EntryQuestReward
		e.QuestID = ev.Quest.ID
		e.Reward = ev.Quest.Reward
		return []model.LedgerEntry{e}
	}
	return nil
}

func withPosition(e model.LedgerEntry, p model.Position) model.LedgerEntry {
	e.PositionID = p.ID
	e.Symbol = p.Symbol
	e.Direction = p.Direction
	e.Leverage = p.Leverage
	e.Collateral = p.Collateral
	e.PnL = p.PnL
	e.PnLPercent = p.PnLPercent
	return e
}

func markPrice(ev sim.Event) decimal.Decimal {
	if ev.State == nil || ev.Position == nil {
		return decimal.Zero
	}
	return ev.State.Prices[ev.Position.Symbol]
}
