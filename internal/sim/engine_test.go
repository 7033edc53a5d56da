package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecosim/perps-engine/internal/ledger"
	"github.com/ecosim/perps-engine/internal/model"
	"github.com/ecosim/perps-engine/internal/quest"
	"github.com/ecosim/perps-engine/internal/risk"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// scriptedFeed returns queued prices per symbol and holds the current
// price once a queue is empty.
type scriptedFeed struct {
	mu     sync.Mutex
	queued map[model.AssetSymbol][]decimal.Decimal
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{queued: make(map[model.AssetSymbol][]decimal.Decimal)}
}

func (f *scriptedFeed) push(sym model.AssetSymbol, prices ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range prices {
		f.queued[sym] = append(f.queued[sym], d(p))
	}
}

func (f *scriptedFeed) Next(a model.Asset, current decimal.Decimal) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queued[a.Symbol]
	if len(q) == 0 {
		return current
	}
	f.queued[a.Symbol] = q[1:]
	return q[0]
}

type fixedSource float64

func (s fixedSource) Float64() float64 { return float64(s) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(topic string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev := args[0].(Event)
	if ev.Type != topic {
		panic(fmt.Sprintf("topic %s carries event %s", topic, ev.Type))
	}
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		if ev.Type != TopicTick {
			out = append(out, ev.Type)
		}
	}
	return out
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *scriptedFeed) {
	t.Helper()
	feed := newScriptedFeed()
	n := 0
	base := []Option{
		WithFeed(feed),
		WithRand(fixedSource(0.5)),
		WithClock(func() time.Time { return testEpoch }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("pos-%d", n)
		}),
	}
	e, err := New(DefaultConfig(), append(base, opts...)...)
	require.NoError(t, err)
	return e, feed
}

func open(t *testing.T, e *Engine, sym model.AssetSymbol, dir model.Direction, amount float64, leverage int) model.Position {
	t.Helper()
	p, err := e.OpenPosition(OpenRequest{Symbol: sym, Direction: dir, Amount: d(amount), Leverage: leverage})
	require.NoError(t, err)
	return p
}

func questByID(t *testing.T, s *model.GameState, id string) model.Quest {
	t.Helper()
	for _, q := range s.Quests {
		if q.ID == id {
			return q
		}
	}
	t.Fatalf("quest %s not on board", id)
	return model.Quest{}
}

func TestNew_InitialState(t *testing.T) {
	e, _ := newTestEngine(t)
	s := e.Snapshot()

	assert.True(t, s.Balance.Equal(d(10000)))
	assert.Equal(t, int64(0), s.EcoTokens)
	assert.Equal(t, 100, s.SustainabilityScore)
	assert.Empty(t, s.Positions)
	assert.Empty(t, s.PlantedTrees)
	assert.Len(t, s.Quests, 4)
	assert.Equal(t, uint64(0), s.Tick)

	require.Len(t, s.Prices, 3)
	assert.True(t, s.Prices[model.SymbolETH].Equal(d(3000)))
	assert.True(t, s.Prices[model.SymbolBTC].Equal(d(60000)))
	assert.True(t, s.Prices[model.SymbolSOL].Equal(d(150)))
	for sym, w := range s.History {
		assert.Len(t, w, 20, sym)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Assets = nil
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Quests = []model.Quest{{ID: "x", Reward: 0, MaxProgress: 1}}
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestScenarioA_ProfitableLongPlantsTree(t *testing.T) {
	e, feed := newTestEngine(t)

	p := open(t, e, model.SymbolETH, model.DirectionLong, 1000, 1)
	assert.True(t, p.EntryPrice.Equal(d(3000)))
	assert.True(t, e.Snapshot().Balance.Equal(d(9000)))

	feed.push(model.SymbolETH, 3300)
	s := e.Tick()
	require.Len(t, s.Positions, 1)
	assert.True(t, s.Positions[0].PnLPercent.Equal(d(10)), s.Positions[0].PnLPercent.String())
	assert.True(t, s.Positions[0].PnL.Equal(d(100)), s.Positions[0].PnL.String())

	closed, err := e.ClosePosition(p.ID)
	require.NoError(t, err)
	assert.True(t, closed.Released.Equal(d(1100)))
	require.NotNil(t, closed.Tree)
	assert.InDelta(t, 1.1, closed.Tree.Scale, 1e-9)

	s = e.Snapshot()
	assert.True(t, s.Balance.Equal(d(10100)), s.Balance.String())
	assert.Empty(t, s.Positions)
	require.Len(t, s.PlantedTrees, 1)
	assert.Equal(t, p.ID, s.PlantedTrees[0].ID)
	assert.True(t, questByID(t, s, quest.SustainableTrader).Completed)
	assert.Equal(t, 100, s.SustainabilityScore)
}

func TestScenarioB_ShortAgainstNotLiquidated(t *testing.T) {
	e, feed := newTestEngine(t)
	p := open(t, e, model.SymbolBTC, model.DirectionShort, 500, 5)

	feed.push(model.SymbolBTC, 66000)
	s := e.Tick()
	got, ok := s.FindPosition(p.ID)
	require.True(t, ok)
	assert.True(t, got.PnLPercent.Equal(d(-50)), got.PnLPercent.String())
	assert.True(t, got.PnL.Equal(d(-250)), got.PnL.String())
	assert.True(t, s.Balance.Equal(d(9500)))
}

func TestScenarioC_LiquidationForfeitsCollateral(t *testing.T) {
	pub := &recordingPublisher{}
	e, feed := newTestEngine(t, WithPublisher(pub))
	p := open(t, e, model.SymbolBTC, model.DirectionShort, 500, 5)

	feed.push(model.SymbolBTC, 72000)
	s := e.Tick()
	_, ok := s.FindPosition(p.ID)
	assert.False(t, ok)
	assert.True(t, s.Balance.Equal(d(9500)), s.Balance.String())
	assert.Empty(t, s.PlantedTrees)
	assert.Equal(t, 100, s.SustainabilityScore)
	assert.Contains(t, pub.types(), TopicPositionLiquidated)

	_, err := e.ClosePosition(p.ID)
	assert.ErrorIs(t, err, ErrPositionNotFound)
	assert.True(t, e.Snapshot().Balance.Equal(d(9500)))
}

func TestLiquidationAtThresholdBoundary(t *testing.T) {
	e, feed := newTestEngine(t)
	// 5x long, -16% move: exactly -80%.
	p := open(t, e, model.SymbolETH, model.DirectionLong, 100, 5)
	feed.push(model.SymbolETH, 2520)
	s := e.Tick()
	_, ok := s.FindPosition(p.ID)
	assert.False(t, ok)
}

func TestScenarioD_FirstGrowthCreditedOnce(t *testing.T) {
	e, _ := newTestEngine(t)

	open(t, e, model.SymbolETH, model.DirectionLong, 100, 1)
	s := e.Snapshot()
	assert.True(t, questByID(t, s, quest.FirstGrowth).Completed)
	assert.Equal(t, int64(50), s.EcoTokens)

	p2 := open(t, e, model.SymbolSOL, model.DirectionLong, 100, 1)
	s = e.Snapshot()
	// second open completes diversify, first_growth is not re-credited
	assert.Equal(t, int64(150), s.EcoTokens)

	_, err := e.ClosePosition(p2.ID)
	require.NoError(t, err)
	open(t, e, model.SymbolBTC, model.DirectionLong, 100, 1)
	assert.Equal(t, int64(150), e.Snapshot().EcoTokens)
}

func TestScenarioE_DiversifyWithShorts(t *testing.T) {
	e, _ := newTestEngine(t)

	open(t, e, model.SymbolBTC, model.DirectionShort, 100, 2)
	s := e.Snapshot()
	assert.False(t, questByID(t, s, quest.Diversify).Completed)
	assert.False(t, questByID(t, s, quest.FirstGrowth).Completed)
	assert.Equal(t, int64(0), s.EcoTokens)

	open(t, e, model.SymbolSOL, model.DirectionShort, 100, 2)
	s = e.Snapshot()
	assert.True(t, questByID(t, s, quest.Diversify).Completed)
	assert.Equal(t, int64(100), s.EcoTokens)

	open(t, e, model.SymbolETH, model.DirectionShort, 100, 2)
	assert.Equal(t, int64(100), e.Snapshot().EcoTokens)
}

func TestRiskManager_CountsHighLeverageTicks(t *testing.T) {
	e, _ := newTestEngine(t)
	open(t, e, model.SymbolETH, model.DirectionLong, 100, 5)

	for i := 0; i < 29; i++ {
		e.Tick()
	}
	s := e.Snapshot()
	rm := questByID(t, s, quest.RiskManager)
	assert.Equal(t, 29, rm.Progress)
	assert.False(t, rm.Completed)
	tokens := s.EcoTokens

	s = e.Tick()
	rm = questByID(t, s, quest.RiskManager)
	assert.True(t, rm.Completed)
	assert.Equal(t, 30, rm.Progress)
	assert.Equal(t, tokens+300, s.EcoTokens)

	s = e.Tick()
	assert.Equal(t, 30, questByID(t, s, quest.RiskManager).Progress)
	assert.Equal(t, tokens+300, s.EcoTokens)
}

func TestOpenPosition_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  OpenRequest
		want error
	}{
		{"zero amount", OpenRequest{model.SymbolETH, model.DirectionLong, d(0), 1}, risk.ErrInvalidCollateral},
		{"negative amount", OpenRequest{model.SymbolETH, model.DirectionLong, d(-5), 1}, risk.ErrInvalidCollateral},
		{"overdraft", OpenRequest{model.SymbolETH, model.DirectionLong, d(10000.01), 1}, risk.ErrInsufficientBalance},
		{"leverage zero", OpenRequest{model.SymbolETH, model.DirectionLong, d(100), 0}, ledger.ErrInvalidLeverage},
		{"leverage six", OpenRequest{model.SymbolETH, model.DirectionLong, d(100), 6}, ledger.ErrInvalidLeverage},
		{"bad direction", OpenRequest{model.SymbolETH, model.Direction("UP"), d(100), 1}, ledger.ErrInvalidDirection},
		{"unknown asset", OpenRequest{model.AssetSymbol("DOGE"), model.DirectionLong, d(100), 1}, ErrUnknownAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			e, _ := newTestEngine(t, WithPublisher(pub))
			before := e.Snapshot()

			_, err := e.OpenPosition(tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Same(t, before, e.Snapshot())
			assert.Empty(t, pub.events)
		})
	}
}

func TestOpenPosition_FullBalance(t *testing.T) {
	e, _ := newTestEngine(t)
	open(t, e, model.SymbolETH, model.DirectionLong, 10000, 1)
	s := e.Snapshot()
	assert.True(t, s.Balance.IsZero())
	// exposure 1.0: both exposure penalties apply
	assert.Equal(t, 50, s.SustainabilityScore)

	_, err := e.OpenPosition(OpenRequest{model.SymbolBTC, model.DirectionLong, d(1), 1})
	assert.ErrorIs(t, err, risk.ErrInsufficientBalance)
}

func TestOpenPosition_Placement(t *testing.T) {
	e, _ := newTestEngine(t, WithRand(fixedSource(1)))
	p := open(t, e, model.SymbolETH, model.DirectionLong, 100, 1)
	// ground 30: ±(15 - 4)
	assert.InDelta(t, 11, p.Coordinates.X, 1e-9)
	assert.InDelta(t, 11, p.Coordinates.Z, 1e-9)
	assert.Equal(t, "pos-1", p.ID)
	assert.Equal(t, testEpoch, p.OpenedAt)
	assert.True(t, p.Size.Equal(d(100)))
}

func TestClosePosition_Unknown(t *testing.T) {
	e, _ := newTestEngine(t)
	before := e.Snapshot()
	_, err := e.ClosePosition("missing")
	assert.ErrorIs(t, err, ErrPositionNotFound)
	assert.Same(t, before, e.Snapshot())
}

func TestClosePosition_CreditsOnce(t *testing.T) {
	e, feed := newTestEngine(t)
	p := open(t, e, model.SymbolSOL, model.DirectionShort, 1000, 2)
	feed.push(model.SymbolSOL, 165) // +10% against a 2x short
	e.Tick()

	closed, err := e.ClosePosition(p.ID)
	require.NoError(t, err)
	assert.True(t, closed.Released.Equal(d(800)), closed.Released.String())
	assert.Nil(t, closed.Tree)
	assert.True(t, e.Snapshot().Balance.Equal(d(9800)))

	_, err = e.ClosePosition(p.ID)
	assert.ErrorIs(t, err, ErrPositionNotFound)
	assert.True(t, e.Snapshot().Balance.Equal(d(9800)))
	assert.Empty(t, e.Snapshot().PlantedTrees)
}

func TestClosePosition_ProfitableShortPlantsNothing(t *testing.T) {
	e, feed := newTestEngine(t)
	p := open(t, e, model.SymbolETH, model.DirectionShort, 1000, 1)
	feed.push(model.SymbolETH, 2700)
	e.Tick()

	closed, err := e.ClosePosition(p.ID)
	require.NoError(t, err)
	assert.Nil(t, closed.Tree)
	assert.Empty(t, e.Snapshot().PlantedTrees)
	assert.True(t, questByID(t, e.Snapshot(), quest.SustainableTrader).Completed)
}

func TestTreeScaleClamped(t *testing.T) {
	e, feed := newTestEngine(t)
	p := open(t, e, model.SymbolETH, model.DirectionLong, 100, 5)
	feed.push(model.SymbolETH, 6000) // +100% at 5x = +500%
	e.Tick()

	closed, err := e.ClosePosition(p.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.Tree)
	assert.Equal(t, MaxTreeScale, closed.Tree.Scale)
}

func TestTick_HistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCapacity = 5
	cfg.HistorySeedPoints = 3
	feed := newScriptedFeed()
	e, err := New(cfg, WithFeed(feed), WithRand(fixedSource(0.5)))
	require.NoError(t, err)

	feed.push(model.SymbolETH, 3001, 3002, 3003, 3004)
	var s *model.GameState
	for i := 0; i < 4; i++ {
		s = e.Tick()
	}
	w := s.History[model.SymbolETH]
	require.Len(t, w, 5)
	assert.True(t, w[4].Price.Equal(d(3004)))
	assert.True(t, w[1].Price.Equal(d(3001)))
	assert.Equal(t, uint64(4), s.Tick)
}

func TestSnapshotImmutability(t *testing.T) {
	e, feed := newTestEngine(t)
	s0 := e.Snapshot()

	p := open(t, e, model.SymbolETH, model.DirectionLong, 1000, 1)
	assert.Empty(t, s0.Positions)
	assert.True(t, s0.Balance.Equal(d(10000)))
	assert.False(t, s0.Quests[0].Completed)

	s1 := e.Snapshot()
	feed.push(model.SymbolETH, 3300)
	e.Tick()
	assert.True(t, s1.Prices[model.SymbolETH].Equal(d(3000)))
	assert.Len(t, s1.History[model.SymbolETH], 20)
	assert.True(t, s1.Positions[0].PnL.IsZero())

	s2 := e.Snapshot()
	_, err := e.ClosePosition(p.ID)
	require.NoError(t, err)
	assert.Len(t, s2.Positions, 1)
	assert.Empty(t, s2.PlantedTrees)
}

func TestConcurrentOpensAllReflected(t *testing.T) {
	cfg := DefaultConfig()
	e, err := New(cfg, WithFeed(newScriptedFeed()), WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.OpenPosition(OpenRequest{model.SymbolSOL, model.DirectionLong, d(100), 1})
			errs <- err
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			e.Tick()
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	s := e.Snapshot()
	assert.Len(t, s.Positions, n)
	assert.True(t, s.Balance.Equal(d(8000)), s.Balance.String())
	assert.Equal(t, uint64(10), s.Tick)
}

func TestEventsPublishedInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	e, feed := newTestEngine(t, WithPublisher(pub))

	p := open(t, e, model.SymbolETH, model.DirectionLong, 1000, 1)
	feed.push(model.SymbolETH, 3300)
	e.Tick()
	_, err := e.ClosePosition(p.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		TopicPositionOpened,
		TopicQuestCompleted, // first_growth
		TopicPositionClosed,
		TopicQuestCompleted, // sustainable_trader
	}, pub.types())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	closeEv := pub.events[len(pub.events)-2]
	require.NotNil(t, closeEv.Position)
	require.NotNil(t, closeEv.Tree)
	assert.True(t, closeEv.Released.Equal(d(1100)))
	assert.True(t, closeEv.State.Balance.Equal(d(10100)))

	var ticks int
	for _, ev := range pub.events {
		if ev.Type == TopicTick {
			ticks++
			assert.Equal(t, uint64(1), ev.Tick)
		}
	}
	assert.Equal(t, 1, ticks)
}

// TestProperties drives a seeded random walk with random actions and checks
// the invariants that must hold at every observation.
// gatedPublisher holds the first tick event until release is called.
type gatedPublisher struct {
	recordingPublisher
	entered chan struct{}
	gate    chan struct{}
	first   sync.Once
	opened  sync.Once
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{entered: make(chan struct{}), gate: make(chan struct{})}
}

func (p *gatedPublisher) release() { p.opened.Do(func() { close(p.gate) }) }

func (p *gatedPublisher) Publish(topic string, args ...interface{}) {
	if topic == TopicTick {
		p.first.Do(func() {
			close(p.entered)
			<-p.gate
		})
	}
	p.recordingPublisher.Publish(topic, args...)
}

func TestSnapshotNotBlockedWhilePublishing(t *testing.T) {
	pub := newGatedPublisher()
	t.Cleanup(pub.release)
	e, _ := newTestEngine(t, WithPublisher(pub))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); e.Tick() }()
	<-pub.entered
	go func() { defer wg.Done(); e.Tick() }()

	// The second tick commits and is readable while the first is still
	// stuck in a subscriber.
	require.Eventually(t, func() bool { return e.Snapshot().Tick == 2 }, 2*time.Second, 5*time.Millisecond)
	pub.release()
	wg.Wait()

	var ticks []uint64
	for _, ev := range pub.events {
		if ev.Type == TopicTick {
			ticks = append(ticks, ev.Tick)
		}
	}
	assert.Equal(t, []uint64{1, 2}, ticks)
}

func TestProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e, err := New(DefaultConfig(), WithRand(rng))
	require.NoError(t, err)

	symbols := []model.AssetSymbol{model.SymbolETH, model.SymbolBTC, model.SymbolSOL}
	dirs := []model.Direction{model.DirectionLong, model.DirectionShort}
	tolerance := d(1e-9)
	prev := e.Snapshot()

	for step := 0; step < 500; step++ {
		switch r := rng.Intn(10); {
		case r < 2:
			_, err := e.OpenPosition(OpenRequest{
				Symbol:    symbols[rng.Intn(len(symbols))],
				Direction: dirs[rng.Intn(len(dirs))],
				Amount:    decimal.NewFromInt(int64(rng.Intn(1500) + 1)),
				Leverage:  rng.Intn(5) + 1,
			})
			if err != nil {
				require.True(t, errors.Is(err, risk.ErrInsufficientBalance), err)
			}
		case r < 3 && len(prev.Positions) > 0:
			p := prev.Positions[rng.Intn(len(prev.Positions))]
			closed, err := e.ClosePosition(p.ID)
			require.NoError(t, err)
			s := e.Snapshot()
			assert.True(t, s.Balance.Equal(prev.Balance.Add(p.Collateral).Add(p.PnL)))
			assert.True(t, closed.Released.Equal(p.Collateral.Add(p.PnL)))
			_, still := s.FindPosition(p.ID)
			assert.False(t, still)
		default:
			s := e.Tick()
			assert.True(t, s.Balance.Equal(prev.Balance), "tick changed balance")
			for _, p := range prev.Positions {
				if _, ok := s.FindPosition(p.ID); !ok {
					assert.True(t, e.policy.Liquidated(ledger.MarkToMarket(p, s.Prices[p.Symbol]).PnLPercent))
				}
			}
		}

		s := e.Snapshot()
		assert.GreaterOrEqual(t, s.SustainabilityScore, 0)
		assert.LessOrEqual(t, s.SustainabilityScore, 100)
		if len(s.Positions) == 0 {
			assert.Equal(t, 100, s.SustainabilityScore)
		}
		for _, p := range s.Positions {
			assert.True(t, p.PnLPercent.GreaterThan(e.policy.LiquidationThreshold))
			implied := p.PnL.Div(p.Collateral).Mul(decimal.NewFromInt(100))
			assert.True(t, implied.Sub(p.PnLPercent).Abs().LessThan(tolerance))
		}
		assert.GreaterOrEqual(t, s.EcoTokens, prev.EcoTokens)
		for i, q := range s.Quests {
			old := prev.Quests[i]
			assert.GreaterOrEqual(t, q.Progress, old.Progress)
			assert.LessOrEqual(t, q.Progress, q.MaxProgress)
			if old.Completed {
				assert.True(t, q.Completed)
			}
		}
		assert.GreaterOrEqual(t, len(s.PlantedTrees), len(prev.PlantedTrees))
		prev = s
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	e, err := New(cfg, WithFeed(newScriptedFeed()), WithRand(fixedSource(0.5)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Snapshot().Tick >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
