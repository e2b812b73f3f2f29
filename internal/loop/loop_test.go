package loop

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/adoption"
	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/command"
	"github.com/atlas-desktop/trading-core/internal/confluence"
	"github.com/atlas-desktop/trading-core/internal/databar"
	"github.com/atlas-desktop/trading-core/internal/dynstop"
	"github.com/atlas-desktop/trading-core/internal/eventsink"
	"github.com/atlas-desktop/trading-core/internal/exitcoord"
	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/internal/metrics"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/scaler"
	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// fakeStrategy always abstains and needs no indicator history, so tests can
// exercise the scheduler's wiring without depending on the real strategies'
// lookback requirements or signal conditions.
type fakeStrategy struct{ name string }

func (f *fakeStrategy) Name() string                                 { return f.name }
func (f *fakeStrategy) Parameters() map[string]strategy.Parameter     { return nil }
func (f *fakeStrategy) SetParameter(name string, value float64) error { return nil }
func (f *fakeStrategy) Requirements() []indicator.Requirement         { return nil }
func (f *fakeStrategy) Reset()                                       {}
func (f *fakeStrategy) OnBar(bar types.Bar, series *types.BarSeries, ind indicator.Snapshot) (*types.Signal, error) {
	return nil, nil
}

func seedBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := decimal.NewFromInt(100)
	for i := 0; i < n; i++ {
		bars[i] = types.Bar{
			Symbol:    "EURUSD",
			Timeframe: types.TimeframeM15,
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      price,
			High:      price.Add(decimal.NewFromFloat(0.2)),
			Low:       price.Sub(decimal.NewFromFloat(0.2)),
			Close:     price,
			Volume:    decimal.NewFromInt(100),
		}
	}
	return bars
}

func testScheduler(t *testing.T) (*Scheduler, *broker.Simulated) {
	t.Helper()
	logger := zap.NewNop()

	sim := broker.NewSimulated(logger, types.AccountSnapshot{
		Balance:     decimal.NewFromInt(10000),
		Equity:      decimal.NewFromInt(10000),
		PeakBalance: decimal.NewFromInt(10000),
		FreeMargin:  decimal.NewFromInt(10000),
		MarginLevel: decimal.NewFromInt(1000),
	})
	sim.SetSymbolInfo(types.SymbolInfo{
		Symbol:           "EURUSD",
		Point:            decimal.NewFromFloat(0.0001),
		VolumeMin:        decimal.NewFromFloat(0.01),
		VolumeMax:        decimal.NewFromInt(10),
		VolumeStep:       decimal.NewFromFloat(0.01),
		StopsLevelPoints: decimal.NewFromInt(50),
		Digits:           5,
		ContractSize:     decimal.NewFromInt(100000),
		TradeAllowed:     true,
	})
	sim.SeedBars("EURUSD", types.TimeframeM15, seedBars(30))

	tracker := position.New(logger)
	reg := strategy.NewRegistry(logger)
	for _, name := range reg.Names() {
		name := name
		reg.Register(name, func() strategy.Strategy { return &fakeStrategy{name: name} })
	}
	selector := strategy.NewSelector(logger, reg, strategy.DefaultWeights(), time.Minute, 2)

	deps := Deps{
		Broker:     sim,
		Bars:       databar.New(logger, sim, 30),
		Indicators: indicator.NewEngine(logger),
		Regime:     regime.New(logger, regime.DefaultConfig()),
		Strategies: reg,
		Selector:   selector,
		Confluence: confluence.New(logger, confluence.DefaultConfig()),
		Risk:       risk.New(logger, risk.DefaultConfig()),
		Positions:  tracker,
		ExitCoord:  exitcoord.NewDefault(logger, tracker, nil),
		DynStop:    dynstop.New(logger, dynstop.DefaultConfig(), tracker, sim),
		Scaler:     scaler.New(logger, scaler.DefaultConfig(), tracker, sim),
		Adoption:   adoption.New(logger, adoption.DefaultConfig(), tracker, sim),
		Commands:   command.New(command.Config{}),
		Events:     eventsink.New(logger, eventsink.DefaultConfig()),
		Metrics:    metrics.New(),
	}

	cfg := DefaultConfig()
	cfg.Symbol = "EURUSD"
	cfg.CallTimeout = time.Second

	return New(logger, deps, cfg), sim
}

func TestStepCompletesWithoutErrorWhenEveryStrategyAbstains(t *testing.T) {
	s, sim := testScheduler(t)
	ctx := context.Background()
	if err := sim.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := s.step(ctx, time.Now()); err != nil {
		t.Fatalf("step returned an error with every strategy abstaining: %v", err)
	}
}

func TestRecordErrorTripsAtConfiguredCeiling(t *testing.T) {
	s, _ := testScheduler(t)
	s.cfg.MaxErrorsPerHour = 3
	now := time.Now()

	for i := 0; i < 3; i++ {
		if s.recordError(now) {
			t.Fatalf("tripped early at error %d", i+1)
		}
	}
	if !s.recordError(now) {
		t.Fatal("expected the 4th error within the window to trip the monitor")
	}
}

func TestRecordErrorPrunesEntriesOutsideWindow(t *testing.T) {
	s, _ := testScheduler(t)
	s.cfg.MaxErrorsPerHour = 1
	start := time.Now()

	s.recordError(start)
	tripped := s.recordError(start.Add(2 * time.Hour))
	if tripped {
		t.Fatal("expected the stale error to have been pruned before evaluating the ceiling")
	}
}

func TestPauseSkipsSignalGenerationButNotMonitoring(t *testing.T) {
	s, sim := testScheduler(t)
	ctx := context.Background()
	sim.Connect(ctx)
	s.Pause()
	if !s.isPaused() {
		t.Fatal("expected scheduler to report paused")
	}
	if err := s.step(ctx, time.Now()); err != nil {
		t.Fatalf("step failed while paused: %v", err)
	}
	s.Resume()
	if s.isPaused() {
		t.Fatal("expected scheduler to report resumed")
	}
}

func TestStopClosesStopChannelAndRecordsDrainMode(t *testing.T) {
	s, _ := testScheduler(t)
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.Stop(DrainCloseAll)
	if !s.shuttingDown() {
		t.Fatal("expected shuttingDown to report true after Stop")
	}
	if s.drainMode != DrainCloseAll {
		t.Fatalf("drainMode = %q, want %q", s.drainMode, DrainCloseAll)
	}
}

func TestHandleCommandPauseAndResume(t *testing.T) {
	s, _ := testScheduler(t)
	now := time.Now()
	s.handleCommand(now, command.Command{ID: "1", Kind: command.KindPause})
	if !s.isPaused() {
		t.Fatal("expected pause command to pause the scheduler")
	}
	s.handleCommand(now, command.Command{ID: "2", Kind: command.KindResume})
	if s.isPaused() {
		t.Fatal("expected resume command to resume the scheduler")
	}
}

func TestHandleCommandShutdownRequestsStop(t *testing.T) {
	s, _ := testScheduler(t)
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.handleCommand(time.Now(), command.Command{ID: "1", Kind: command.KindShutdown, ShutdownMode: command.ShutdownDrain})
	if !s.shuttingDown() {
		t.Fatal("expected shutdown command to close the stop channel")
	}
	if s.drainMode != DrainCloseAll {
		t.Fatalf("drainMode = %q, want %q for a \"drain\" shutdown mode", s.drainMode, DrainCloseAll)
	}
}

func TestStepReconnectsBeforeIngestOnDisconnect(t *testing.T) {
	s, sim := testScheduler(t)
	s.cfg.ReconnectBackoff = time.Millisecond
	// sim is never Connect()ed, so the first GetBars call would otherwise
	// return a transient error and skip the reconnect entirely.
	if sim.IsConnected() {
		t.Fatal("test setup: simulated broker should start disconnected")
	}

	if err := s.step(context.Background(), time.Now()); err != nil {
		t.Fatalf("step returned an error after a disconnect it should have reconnected from: %v", err)
	}
	if !sim.IsConnected() {
		t.Fatal("expected the health check to reconnect the broker before ingest ran")
	}
}

func TestReconcileAndAdoptRecordsRealizedPnLOnBrokerVanishedClose(t *testing.T) {
	s, sim := testScheduler(t)
	ctx := context.Background()
	if err := sim.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	riskCfg := risk.DefaultConfig()
	riskCfg.DailyTradeLimit = 1
	s.deps.Risk = risk.New(zap.NewNop(), riskCfg)

	now := time.Now()
	s.deps.Positions.Insert(types.Position{
		Ticket: "T1", Symbol: "EURUSD", Side: types.SideLong,
		OpenVolume: decimal.NewFromFloat(1), RemainingVolume: decimal.NewFromFloat(1),
		EntryPrice: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(108),
		OpenedAt: now, State: types.PositionOpen,
	})

	// The broker reports no positions at all, so reconciliation must treat
	// T1 as closed and book its realized P&L against the daily counters.
	snapshot := indicator.Snapshot{}
	if err := s.reconcileAndAdopt(ctx, now, snapshot); err != nil {
		t.Fatalf("reconcileAndAdopt: %v", err)
	}

	decision := s.deps.Risk.Evaluate(risk.Input{
		Signal:     types.Signal{Symbol: "EURUSD", Side: types.SideLong, ReferencePrice: decimal.NewFromInt(100)},
		Account:    types.AccountSnapshot{Balance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000), FreeMargin: decimal.NewFromInt(10000), MarginLevel: decimal.NewFromInt(1000)},
		SymbolInfo: types.SymbolInfo{TradeAllowed: true},
		ServerTime: now,
	})
	if decision.Approved || decision.Reason != types.RejectDailyTrades {
		t.Fatalf("expected daily-trade-limit rejection after one reconciled close, got approved=%v reason=%q", decision.Approved, decision.Reason)
	}
}

func TestMonitorPositionsCompletesWithSeveralOpenPositions(t *testing.T) {
	s, sim := testScheduler(t)
	ctx := context.Background()
	if err := sim.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	now := time.Now()
	for _, ticket := range []types.Ticket{"T1", "T2", "T3"} {
		s.deps.Positions.Insert(types.Position{
			Ticket: ticket, Symbol: "EURUSD", Side: types.SideLong,
			OpenVolume: decimal.NewFromFloat(1), RemainingVolume: decimal.NewFromFloat(1),
			EntryPrice: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromFloat(100.5),
			StopLoss: decimal.NewFromInt(99), OpenedAt: now, State: types.PositionOpen,
		})
	}

	series, err := s.deps.Bars.Fetch(ctx, "EURUSD", types.TimeframeM15, time.Second)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	bar, _ := series.At(series.Len() - 1)

	// monitorPositions runs the scaler and exit coordinator per position and
	// then calls dynstop.Manager.Run once, which scans every tracked
	// position itself. This checks that the whole pass completes without
	// error with three positions open; it does not count the Run calls.
	if err := s.monitorPositions(ctx, now, bar, series, indicator.Snapshot{}); err != nil {
		t.Fatalf("monitorPositions: %v", err)
	}
}

func TestBarsSinceComputesWholeElapsedBars(t *testing.T) {
	s, _ := testScheduler(t)
	s.cfg.Timeframe = types.TimeframeM15
	opened := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := opened.Add(47 * time.Minute)
	if got := s.barsSince(opened, now); got != 3 {
		t.Fatalf("barsSince = %d, want 3", got)
	}
}

func TestBarsSinceReturnsZeroForFutureOpen(t *testing.T) {
	s, _ := testScheduler(t)
	opened := time.Now().Add(time.Hour)
	if got := s.barsSince(opened, time.Now()); got != 0 {
		t.Fatalf("barsSince = %d, want 0 for an open time after now", got)
	}
}

func TestClampVolumeEnforcesMinAndMax(t *testing.T) {
	info := types.SymbolInfo{VolumeMin: decimal.NewFromFloat(0.01), VolumeMax: decimal.NewFromInt(5)}
	if got := clampVolume(decimal.NewFromFloat(0.001), info); !got.Equal(info.VolumeMin) {
		t.Fatalf("clampVolume below min = %s, want %s", got, info.VolumeMin)
	}
	if got := clampVolume(decimal.NewFromInt(10), info); !got.Equal(info.VolumeMax) {
		t.Fatalf("clampVolume above max = %s, want %s", got, info.VolumeMax)
	}
	mid := decimal.NewFromFloat(1.5)
	if got := clampVolume(mid, info); !got.Equal(mid) {
		t.Fatalf("clampVolume in range = %s, want unchanged %s", got, mid)
	}
}

func TestTimeframeDurationKnownAndUnknown(t *testing.T) {
	if got := timeframeDuration(types.TimeframeH1); got != time.Hour {
		t.Fatalf("H1 duration = %v, want 1h", got)
	}
	if got := timeframeDuration(types.Timeframe("bogus")); got != 0 {
		t.Fatalf("unknown timeframe duration = %v, want 0", got)
	}
}
