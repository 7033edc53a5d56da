// Package sim is the simulation clock and orchestrator. The Engine owns the
// current game snapshot and is its single writer: ticks and player actions
// are serialized, and each replaces the snapshot atomically.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/asset"
	"github.com/ecosim/perps-engine/internal/history"
	"github.com/ecosim/perps-engine/internal/ledger"
	"github.com/ecosim/perps-engine/internal/metrics"
	"github.com/ecosim/perps-engine/internal/model"
	"github.com/ecosim/perps-engine/internal/price"
	"github.com/ecosim/perps-engine/internal/quest"
	"github.com/ecosim/perps-engine/internal/risk"
)

var (
	ErrUnknownAsset     = errors.New("sim: unknown asset")
	ErrPositionNotFound = errors.New("sim: position not found")
	ErrInvalidConfig    = errors.New("sim: invalid configuration")
)

// placementMargin keeps new positions away from the edge of the ground.
const placementMargin = 4

// Config is the startup configuration of a game.
type Config struct {
	InitialBalance       decimal.Decimal
	TickInterval         time.Duration
	HistoryCapacity      int
	HistorySeedPoints    int
	LiquidationThreshold decimal.Decimal
	GroundSize           float64
	MaxCollateral        decimal.Decimal // zero: bounded by balance only
	Assets               *asset.Catalog
	Quests               []model.Quest
}

// DefaultConfig returns the stock game: 10000 balance, ETH/BTC/SOL, the
// default quest board, 2s ticks and 50-sample history.
func DefaultConfig() Config {
	return Config{
		InitialBalance:       decimal.NewFromInt(10000),
		TickInterval:         2 * time.Second,
		HistoryCapacity:      history.DefaultCapacity,
		HistorySeedPoints:    20,
		LiquidationThreshold: ledger.DefaultLiquidationThreshold,
		GroundSize:           30,
		Assets:               asset.Default(),
		Quests:               quest.DefaultCatalog(),
	}
}

func (c Config) validate() error {
	if c.Assets == nil {
		return fmt.Errorf("%w: no asset catalog", ErrInvalidConfig)
	}
	if c.InitialBalance.IsNegative() {
		return fmt.Errorf("%w: initial balance must not be negative", ErrInvalidConfig)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("%w: history capacity must be at least 1", ErrInvalidConfig)
	}
	if err := quest.Validate(c.Quests); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Feed produces the next price of an asset. *price.Generator implements it.
type Feed interface {
	Next(a model.Asset, current decimal.Decimal) decimal.Decimal
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRand sets the random source used for placement and, unless WithFeed
// is also given, for the price generator.
func WithRand(src price.Source) Option {
	return func(e *Engine) { e.rng = src }
}

// WithFeed replaces the price generator.
func WithFeed(f Feed) Option {
	return func(e *Engine) { e.feed = f }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the position ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine drives the simulation.
type Engine struct {
	mu    sync.RWMutex
	state *model.GameState
	seq   uint64 // transitions committed, guarded by mu

	// Publishing happens after mu is released. Each transition waits for
	// its turn so events still leave in commit order.
	pubMu     sync.Mutex
	pubCond   *sync.Cond
	published uint64 // transitions fully published, guarded by pubMu

	cfg     Config
	policy  ledger.Policy
	limiter *risk.Limiter
	feed    Feed
	rng     price.Source
	now     func() time.Time
	newID   func() string
	pub     Publisher
	log     *slog.Logger
}

// New creates an engine holding the initial snapshot for cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		policy:  ledger.Policy{LiquidationThreshold: cfg.LiquidationThreshold},
		limiter: risk.NewLimiter(cfg.MaxCollateral),
		now:     time.Now,
		newID:   uuid.NewString,
		pub:     nopPublisher{},
		log:     slog.Default(),
	}
	e.pubCond = sync.NewCond(&e.pubMu)
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.feed == nil {
		e.feed = price.NewGenerator(e.rng)
	}

	e.state = initialState(cfg, e.now())
	metrics.ObserveState(e.state)
	return e, nil
}

func initialState(cfg Config, now time.Time) *model.GameState {
	s := &model.GameState{
		Balance:             cfg.InitialBalance,
		SustainabilityScore: risk.MaxScore,
		Positions:           []model.Position{},
		PlantedTrees:        []model.PlantedTree{},
		Prices:              make(map[model.AssetSymbol]decimal.Decimal),
		Quests:              quest.Reset(cfg.Quests),
		History:             make(map[model.AssetSymbol][]model.PricePoint),
		UpdatedAt:           now,
	}
	for _, a := range cfg.Assets.All() {
		s.Prices[a.Symbol] = a.Price
		s.History[a.Symbol] = history.Seed(a.Price, now, cfg.HistorySeedPoints, cfg.HistoryCapacity)
	}
	return s
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Snapshot returns the current state. The snapshot must not be modified.
func (e *Engine) Snapshot() *model.GameState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// commit installs next and returns its sequence number. Caller holds mu.
func (e *Engine) commit(next *model.GameState) uint64 {
	e.state = next
	e.seq++
	return e.seq
}

// publishTurn blocks until every transition committed before seq has been
// published, and returns the func that hands the turn on.
func (e *Engine) publishTurn(seq uint64) func() {
	e.pubMu.Lock()
	for e.published+1 != seq {
		e.pubCond.Wait()
	}
	return func() {
		e.published = seq
		e.pubCond.Broadcast()
		e.pubMu.Unlock()
	}
}

// Run ticks every TickInterval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.log.Info("simulation started", "tick_interval", e.cfg.TickInterval.String())
	for {
		select {
		case <-ctx.Done():
			e.log.Info("simulation stopped", "tick", e.Snapshot().Tick)
			return ctx.Err()
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick advances the simulation by one step and returns the new snapshot.
// It always succeeds.
func (e *Engine) Tick() *model.GameState {
	start := time.Now()

	e.mu.Lock()
	prev := e.state
	now := e.now()

	prices := make(map[model.AssetSymbol]decimal.Decimal, len(prev.Prices))
	for _, a := range e.cfg.Assets.All() {
		current, ok := prev.Prices[a.Symbol]
		if !ok {
			current = a.Price
		}
		prices[a.Symbol] = e.feed.Next(a, current)
	}

	next, out := applyTick(prev, prices, now, e.cfg.HistoryCapacity, e.policy)
	seq := e.commit(next)
	e.mu.Unlock()
	defer e.publishTurn(seq)()

	metrics.TickLatency.Observe(time.Since(start).Seconds())
	metrics.TicksTotal.Inc()
	metrics.ObserveState(next)

	for i := range out.liquidated {
		p := out.liquidated[i]
		metrics.Liquidations.WithLabelValues(string(p.Symbol)).Inc()
		e.log.Info("position liquidated",
			"position_id", p.ID,
			"symbol", p.Symbol,
			"direction", p.Direction,
			"leverage", p.Leverage,
			"pnl_percent", p.PnLPercent.StringFixed(2),
			"collateral", p.Collateral.String(),
		)
		e.pub.Publish(TopicPositionLiquidated, Event{
			Type: TopicPositionLiquidated, Tick: next.Tick, Time: now, State: next, Position: &p,
		})
	}
	e.publishQuests(next, out.quests, now)
	e.log.Debug("tick", "tick", next.Tick, "positions", len(next.Positions), "score", next.SustainabilityScore)
	e.pub.Publish(TopicTick, Event{Type: TopicTick, Tick: next.Tick, Time: now, State: next})
	return next
}

// OpenRequest is the open-position action.
type OpenRequest struct {
	Symbol    model.AssetSymbol
	Direction model.Direction
	Amount    decimal.Decimal // collateral
	Leverage  int
}

// OpenPosition posts Amount as collateral on a new position at the current
// price. On any validation error the state is left unchanged.
func (e *Engine) OpenPosition(req OpenRequest) (model.Position, error) {
	e.mu.Lock()
	prev := e.state
	now := e.now()

	pos, err := e.buildPosition(prev, req, now)
	if err != nil {
		e.mu.Unlock()
		metrics.OpenRejections.Inc()
		e.log.Debug("open rejected", "symbol", req.Symbol, "amount", req.Amount.String(), "leverage", req.Leverage, "err", err)
		return model.Position{}, err
	}

	next, res := applyOpen(prev, pos, now)
	seq := e.commit(next)
	e.mu.Unlock()
	defer e.publishTurn(seq)()

	metrics.PositionsOpened.WithLabelValues(string(pos.Symbol), string(pos.Direction)).Inc()
	metrics.ObserveState(next)
	e.log.Info("position opened",
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"direction", pos.Direction,
		"collateral", pos.Collateral.String(),
		"leverage", pos.Leverage,
		"entry_price", pos.EntryPrice.String(),
	)
	e.pub.Publish(TopicPositionOpened, Event{
		Type: TopicPositionOpened, Tick: next.Tick, Time: now, State: next, Position: &pos,
	})
	e.publishQuests(next, res, now)
	return pos, nil
}

func (e *Engine) buildPosition(prev *model.GameState, req OpenRequest, now time.Time) (model.Position, error) {
	if _, ok := e.cfg.Assets.Get(req.Symbol); !ok {
		return model.Position{}, fmt.Errorf("%w: %s", ErrUnknownAsset, req.Symbol)
	}
	if err := e.limiter.CheckOpen(prev.Balance, req.Amount); err != nil {
		return model.Position{}, err
	}
	params := ledger.OpenParams{
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Collateral: req.Amount,
		Leverage:   req.Leverage,
		Price:      prev.Prices[req.Symbol],
		OpenedAt:   now,
	}
	// Validate before consuming randomness for placement.
	if _, err := ledger.Open(params); err != nil {
		return model.Position{}, err
	}
	params.ID = e.newID()
	params.Coordinates = e.place()
	return ledger.Open(params)
}

// place picks cosmetic ground coordinates within ±(GroundSize/2 - margin).
func (e *Engine) place() model.Coordinates {
	bound := e.cfg.GroundSize/2 - placementMargin
	if bound < 0 {
		bound = 0
	}
	return model.Coordinates{
		X: (e.rng.Float64()*2 - 1) * bound,
		Z: (e.rng.Float64()*2 - 1) * bound,
	}
}

// ClosePosition closes an open position, crediting collateral + pnl.
// Returns ErrPositionNotFound, with state unchanged, for unknown IDs.
func (e *Engine) ClosePosition(id string) (ClosedPosition, error) {
	e.mu.Lock()
	prev := e.state
	now := e.now()

	next, closed, res, ok := applyClose(prev, id, now)
	if !ok {
		e.mu.Unlock()
		return ClosedPosition{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	seq := e.commit(next)
	e.mu.Unlock()
	defer e.publishTurn(seq)()

	p := closed.Position
	metrics.PositionsClosed.WithLabelValues(string(p.Symbol), string(p.Direction)).Inc()
	metrics.ObserveState(next)
	e.log.Info("position closed",
		"position_id", p.ID,
		"symbol", p.Symbol,
		"direction", p.Direction,
		"pnl", p.PnL.StringFixed(2),
		"pnl_percent", p.PnLPercent.StringFixed(2),
		"released", closed.Released.StringFixed(2),
		"tree_planted", closed.Tree != nil,
	)
	e.pub.Publish(TopicPositionClosed, Event{
		Type: TopicPositionClosed, Tick: next.Tick, Time: now, State: next,
		Position: &p, Released: closed.Released, Tree: closed.Tree,
	})
	e.publishQuests(next, res, now)
	return closed, nil
}

func (e *Engine) publishQuests(next *model.GameState, res quest.Result, now time.Time) {
	for _, id := range res.Completed {
		for i := range next.Quests {
			if next.Quests[i].ID != id {
				continue
			}
			q := next.Quests[i]
			metrics.QuestCompletions.WithLabelValues(q.ID).Inc()
			e.log.Info("quest completed", "quest", q.ID, "reward", q.Reward, "eco_tokens", next.EcoTokens)
			e.pub.Publish(TopicQuestCompleted, Event{
				Type: TopicQuestCompleted, Tick: next.Tick, Time: now, State: next, Quest: &q,
			})
		}
	}
}
