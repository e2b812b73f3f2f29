// Package loop implements the trading core's single-threaded cooperative
// scheduler (spec.md §4.12): one goroutine drives a fixed twelve-step
// iteration order over a symbol/timeframe pair, draining the command queue
// at the top of every iteration and checking a shutdown flag at every step
// boundary so a graceful stop never interrupts a step in progress.
//
// The goroutine lifecycle (isRunning/isPaused bools under a mutex, a
// stopChan closed on Stop, a ticker-driven select loop) is generalized from
// the teacher's TradingAgent.Start/Stop/Pause/Resume/mainLoop. The teacher
// ran a second goroutine (riskMonitorLoop) alongside mainLoop; this
// scheduler folds that responsibility into step 7 (risk approval) and the
// error-rate monitor below, since spec.md requires every step — including
// risk checks — to run on the single cooperative loop, never concurrently
// with a trading iteration.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/adoption"
	"github.com/atlas-desktop/trading-core/internal/command"
	"github.com/atlas-desktop/trading-core/internal/confluence"
	"github.com/atlas-desktop/trading-core/internal/coreerr"
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
	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// DrainPolicy governs what happens to open positions on a graceful
// shutdown (spec.md §6).
type DrainPolicy string

const (
	DrainCloseAll          DrainPolicy = "close_all"
	DrainFlattenLongsOnly  DrainPolicy = "flatten_longs_only"
	DrainLeaveOpen         DrainPolicy = "leave_open"
)

// Advisor optionally adjusts a gated signal's confidence and size
// multiplier (spec.md §4.12 step 5). It can never flip Side, StopLoss or
// TakeProfit — the loop enforces that by discarding any such mutation.
type Advisor interface {
	Enhance(ctx context.Context, sig types.Signal, conf types.EntryConfluenceResult) (confidenceDelta, sizeMultiplier decimal.Decimal)
}

// Config tunes the scheduler.
type Config struct {
	Symbol       string
	Timeframe    types.Timeframe
	PollInterval time.Duration
	LookbackBars int

	CallTimeout          time.Duration
	MaxErrorsPerHour     int
	MetricsEveryN        int
	ReconnectMaxAttempts int
	ReconnectBackoff     time.Duration

	ShutdownDrain       DrainPolicy
	ShutdownDrainBudget time.Duration

	CryptoPrefixes []string
}

// DefaultConfig returns the spec's documented scheduling defaults.
func DefaultConfig() Config {
	return Config{
		Timeframe:            types.TimeframeM15,
		PollInterval:         15 * time.Second,
		LookbackBars:         250,
		CallTimeout:          10 * time.Second,
		MaxErrorsPerHour:     20,
		MetricsEveryN:        2,
		ReconnectMaxAttempts: 5,
		ReconnectBackoff:     5 * time.Second,
		ShutdownDrain:        DrainLeaveOpen,
		ShutdownDrainBudget:  30 * time.Second,
	}
}

// Deps bundles every collaborator one iteration touches. All fields are
// required except Advisor and Performance, which are optional.
type Deps struct {
	Broker      broker.Adapter
	Bars        *databar.Cache
	Indicators  *indicator.Engine
	Regime      *regime.Detector
	Strategies  *strategy.Registry
	Selector    *strategy.Selector
	Confluence  *confluence.Gate
	Risk        *risk.Evaluator
	Positions   *position.Tracker
	ExitCoord   *exitcoord.Coordinator
	DynStop     *dynstop.Manager
	Scaler      *scaler.Manager
	Adoption    *adoption.Manager
	Commands    *command.Queue
	Events      *eventsink.Bus
	Metrics     *metrics.Registry
	Performance strategy.PerformanceTracker
	Advisor     Advisor
}

// Scheduler runs the fixed twelve-step iteration for one symbol/timeframe.
type Scheduler struct {
	logger *zap.Logger
	deps   Deps
	cfg    Config

	mu        sync.Mutex
	running   bool
	paused    bool
	stopCh    chan struct{}
	drainMode DrainPolicy

	iteration       int
	errorTimestamps []time.Time
	disconnected    bool
	reconnectTries  int
}

// New constructs a Scheduler.
func New(logger *zap.Logger, deps Deps, cfg Config) *Scheduler {
	return &Scheduler{
		logger: logger.Named("loop"),
		deps:   deps,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Run drives the scheduler until ctx is cancelled or Stop is
// called and the drain policy has been applied. It blocks the calling
// goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("loop: already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.deps.Broker.Connect(ctx); err != nil {
		return fmt.Errorf("loop: initial connect: %w", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(context.Background())
			return ctx.Err()
		case <-s.stopCh:
			s.shutdown(context.Background())
			return nil
		case now := <-ticker.C:
			s.runOnce(ctx, now)
		}
	}
}

// Stop requests a graceful shutdown using policy as the position-drain
// rule. It returns immediately; Run finishes the in-flight step, drains,
// and returns.
func (s *Scheduler) Stop(policy DrainPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.drainMode = policy
	close(s.stopCh)
}

// Pause suspends new entries while monitoring/exits keep running.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables new entries.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) shuttingDown() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// runOnce executes one full iteration and feeds any step error into the
// sliding error-rate monitor. A monitor trip requests a graceful shutdown
// rather than returning an error to the caller, per spec.md §6.
func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	s.iteration++

	// Step 0 (not spec-numbered, precedes step 1): drain the command
	// queue once per iteration.
	s.drainCommands(now)
	if s.shuttingDown() {
		return
	}

	if err := s.step(ctx, now); err != nil {
		s.logger.Warn("iteration error", zap.Error(err), zap.Int("iteration", s.iteration))
		s.deps.Events.Emit(eventsink.IterationError, now, s.cfg.Symbol, "", map[string]any{"error": err.Error()})
		s.deps.Metrics.IncIterationError()
		if s.recordError(now) {
			s.logger.Error("error rate exceeded max_errors_per_hour, requesting graceful shutdown")
			s.Stop(s.cfg.ShutdownDrain)
		}
	}

	if s.cfg.MetricsEveryN > 0 && s.iteration%s.cfg.MetricsEveryN == 0 {
		s.emitMetrics(ctx)
	}
}

// recordError appends now to the rolling one-hour error window, evicts
// stale entries, and reports whether the configured ceiling was breached.
func (s *Scheduler) recordError(now time.Time) bool {
	cutoff := now.Add(-time.Hour)
	kept := s.errorTimestamps[:0]
	for _, t := range s.errorTimestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.errorTimestamps = kept
	return s.cfg.MaxErrorsPerHour > 0 && len(s.errorTimestamps) > s.cfg.MaxErrorsPerHour
}

func (s *Scheduler) timeout() time.Duration {
	if s.cfg.CallTimeout > 0 {
		return s.cfg.CallTimeout
	}
	return 10 * time.Second
}

// step runs the fixed twelve-step order (spec.md §4.12). Each numbered
// comment below corresponds to the spec's step number.
func (s *Scheduler) step(ctx context.Context, now time.Time) error {
	timeout := s.timeout()

	// 11 (moved ahead of ingest). A disconnect surfaces first as a
	// transient error on the very next broker call — bars, account, or
	// order placement — so the bounded reconnect has to run before any of
	// those, not after, or it is never reached. Reconnecting here also
	// resets the bar cache, forcing step 1 below to pull a full fresh
	// series and step 9 to fully reconcile against it, satisfying spec.md
	// §4.12 scenario F's "reconnect and full-reconcile before any other
	// step."
	if err := s.healthCheck(ctx); err != nil {
		return err
	}
	if s.shuttingDown() {
		return nil
	}

	// 1. Ingest bars.
	series, err := s.deps.Bars.Fetch(ctx, s.cfg.Symbol, s.cfg.Timeframe, timeout)
	if err != nil {
		return s.handleBrokerErr(ctx, err)
	}
	if s.shuttingDown() {
		return nil
	}
	bar, ok := series.At(series.Len() - 1)
	if !ok || !bar.Valid() {
		return fmt.Errorf("%w: no valid bar for %s", coreerr.ErrInvariantViolation, s.cfg.Symbol)
	}

	// 2. Compute indicators for every registered strategy's requirements.
	// If any of them lacks history, the engine logs a warning and signal
	// generation (steps 4-8) is skipped for this iteration; reconciliation
	// and position monitoring still run.
	var reqs []indicator.Requirement
	for _, name := range s.deps.Strategies.Names() {
		strat, ok := s.deps.Strategies.Create(name)
		if !ok {
			continue
		}
		reqs = append(reqs, strat.Requirements()...)
	}
	snapshot, indicatorsReady := s.deps.Indicators.Compute(series, reqs)
	if s.shuttingDown() {
		return nil
	}

	// 3. Check pending (queued-for-better-entry) confluence signals
	// against the new bar before generating a fresh one.
	ready := s.deps.Confluence.CheckPending(bar.Close, series.Len())
	for _, pending := range ready {
		if err := s.execute(ctx, now, pending, decimal.NewFromInt(1)); err != nil {
			s.logger.Warn("pending signal execution failed", zap.Error(err), zap.String("signal", pending.ID))
		}
	}
	if s.shuttingDown() {
		return nil
	}

	if indicatorsReady && !s.isPaused() {
		// 4. Generate a signal from the active strategy, falling back
		// through the selector's ranked chain if it abstains.
		regimeState := s.deps.Regime.Current()
		active, _ := s.deps.Selector.Reselect(now, s.deps.Performance, regimeState)
		sig, err := s.generateSignal(active, bar, series, snapshot)
		if err != nil {
			return err
		}
		if sig == nil {
			for _, name := range s.deps.Selector.FallbackChain() {
				sig, err = s.generateSignal(name, bar, series, snapshot)
				if err != nil {
					return err
				}
				if sig != nil {
					break
				}
			}
		}

		if sig != nil {
			if err := s.gateAndExecute(ctx, now, *sig, bar, series); err != nil {
				s.logger.Warn("signal gating/execution failed", zap.Error(err), zap.String("signal", sig.ID))
			}
		}
	}
	if s.shuttingDown() {
		return nil
	}

	// 9. Reconcile broker positions (also adopts unmanaged ones).
	if err := s.reconcileAndAdopt(ctx, now, snapshot); err != nil {
		return err
	}
	if s.shuttingDown() {
		return nil
	}

	// 10. Monitor positions in fixed order: profit scaler, dynamic stop
	// manager, exit coordinator.
	return s.monitorPositions(ctx, now, bar, series, snapshot)
}

// realizedPnL computes the booked profit or loss for volume units of p
// closed at closePrice (spec.md §4.7: "compute realized P&L from fill
// record").
func realizedPnL(p types.Position, closePrice, volume decimal.Decimal) decimal.Decimal {
	diff := closePrice.Sub(p.EntryPrice)
	if p.Side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(volume)
}

// recentBarDirections derives up/down/flat directions for the last n
// bar-over-bar closes in series, oldest first, for the profit scaler's
// strong-continuation-momentum deferral (spec.md §4.10).
func recentBarDirections(series *types.BarSeries, n int) []scaler.BarDirection {
	bars := series.All()
	if len(bars) < 2 {
		return nil
	}
	start := 1
	if len(bars) > n+1 {
		start = len(bars) - n
	}
	dirs := make([]scaler.BarDirection, 0, len(bars)-start)
	for i := start; i < len(bars); i++ {
		switch {
		case bars[i].Close.GreaterThan(bars[i-1].Close):
			dirs = append(dirs, scaler.DirUp)
		case bars[i].Close.LessThan(bars[i-1].Close):
			dirs = append(dirs, scaler.DirDown)
		default:
			dirs = append(dirs, scaler.DirFlat)
		}
	}
	return dirs
}

func (s *Scheduler) generateSignal(name string, bar types.Bar, series *types.BarSeries, snapshot indicator.Snapshot) (*types.Signal, error) {
	strat, ok := s.deps.Strategies.Create(name)
	if !ok {
		return nil, nil
	}
	sig, err := strat.OnBar(bar, series, snapshot)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return sig, nil
}

// gateAndExecute runs steps 5-8: advisor enhancement, confluence gating,
// risk approval/sizing, and order execution.
func (s *Scheduler) gateAndExecute(ctx context.Context, now time.Time, sig types.Signal, bar types.Bar, series *types.BarSeries) error {
	lvl, mom, tim, str := s.buildConfluenceContexts(bar, series)
	result := s.deps.Confluence.Score(sig, lvl, mom, tim, str)

	sizeMultiplier := decimal.NewFromInt(1)
	if s.deps.Advisor != nil {
		// Step 5: the advisor may only nudge confidence and size; it can
		// never touch Side, StopLoss or TakeProfit.
		confDelta, mult := s.deps.Advisor.Enhance(ctx, sig, result)
		sig.Confidence = sig.Confidence.Add(confDelta)
		if mult.IsPositive() {
			sizeMultiplier = mult
		}
	}

	// Step 6: admit, queue, or reject via the confluence gate.
	execute, queued := s.deps.Confluence.Admit(sig, result, result.OptimalEntry, series.Len())
	if queued {
		s.deps.Events.Emit(eventsink.SignalGenerated, now, sig.Symbol, "", map[string]any{"signal": sig.ID, "queued": true})
		return nil
	}
	if !execute {
		s.deps.Events.Emit(eventsink.SignalRejected, now, sig.Symbol, "", map[string]any{"signal": sig.ID, "quality": string(result.Quality)})
		return nil
	}

	return s.execute(ctx, now, sig, sizeMultiplier)
}

// buildConfluenceContexts derives the gate's four scoring contexts from the
// bar series directly, rather than from whichever strategy-specific
// indicator columns happen to be in the snapshot this iteration: recent
// closes and RSI for momentum, the last bar's range for timing, and
// fractal swing points for level/structure.
func (s *Scheduler) buildConfluenceContexts(bar types.Bar, series *types.BarSeries) (confluence.LevelContext, confluence.MomentumContext, confluence.TimingContext, confluence.StructureContext) {
	bars := series.All()
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}

	window := s.deps.Confluence.MomentumWindow()
	if window < 2 {
		window = 5
	}
	recent := closes
	if len(recent) > window+1 {
		recent = recent[len(recent)-(window+1):]
	}

	rsiSeries := indicator.RSI(closes, 14)
	rsi, rsiPrev := lastTwo(rsiSeries)

	mom := confluence.MomentumContext{
		RecentCloses: recent,
		RSI:          rsi,
		RSIRising:    rsi > rsiPrev,
	}

	tim := confluence.TimingContext{
		LastBarHigh: bar.High,
		LastBarLow:  bar.Low,
	}

	swingHighs, swingLows := swingPoints(bars, 60)
	if n := len(swingHighs); n > 0 {
		tim.RecentSwingHigh = decimal.NewFromFloat(swingHighs[n-1])
	}
	if n := len(swingLows); n > 0 {
		tim.RecentSwingLow = decimal.NewFromFloat(swingLows[n-1])
	}

	str := confluence.StructureContext{
		Highs: lastN(swingHighs, 3),
		Lows:  lastN(swingLows, 3),
	}

	ref := bar.Close.InexactFloat64()
	emaCur, _ := lastTwo(indicator.EMA(closes, 20))
	lvl := confluence.LevelContext{
		KeyEMA: decimal.NewFromFloat(emaCur),
	}
	if sup, ok := nearestBelow(swingLows, ref); ok {
		lvl.NearestSupport = decimal.NewFromFloat(sup)
	}
	if res, ok := nearestAbove(swingHighs, ref); ok {
		lvl.NearestResistance = decimal.NewFromFloat(res)
	}

	return lvl, mom, tim, str
}

// swingPoints returns fractal swing highs/lows (two confirming bars on each
// side) over the last lookback bars, oldest first.
func swingPoints(bars []types.Bar, lookback int) (highs, lows []float64) {
	if lookback > 0 && len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	for i := 2; i < len(bars)-2; i++ {
		h := bars[i].High.InexactFloat64()
		if h > bars[i-1].High.InexactFloat64() && h > bars[i-2].High.InexactFloat64() &&
			h > bars[i+1].High.InexactFloat64() && h > bars[i+2].High.InexactFloat64() {
			highs = append(highs, h)
		}
		l := bars[i].Low.InexactFloat64()
		if l < bars[i-1].Low.InexactFloat64() && l < bars[i-2].Low.InexactFloat64() &&
			l < bars[i+1].Low.InexactFloat64() && l < bars[i+2].Low.InexactFloat64() {
			lows = append(lows, l)
		}
	}
	return highs, lows
}

// nearestBelow returns the largest value strictly less than ref.
func nearestBelow(values []float64, ref float64) (float64, bool) {
	found := false
	var best float64
	for _, v := range values {
		if v < ref && (!found || v > best) {
			best, found = v, true
		}
	}
	return best, found
}

// nearestAbove returns the smallest value strictly greater than ref.
func nearestAbove(values []float64, ref float64) (float64, bool) {
	found := false
	var best float64
	for _, v := range values {
		if v > ref && (!found || v < best) {
			best, found = v, true
		}
	}
	return best, found
}

func lastN(v []float64, n int) []float64 {
	if len(v) <= n {
		return v
	}
	return v[len(v)-n:]
}

func lastTwo(v []float64) (cur, prev float64) {
	n := len(v)
	if n == 0 {
		return 0, 0
	}
	if n == 1 {
		return v[0], v[0]
	}
	return v[n-1], v[n-2]
}

// execute runs risk approval/sizing (step 7) and order placement (step 8)
// for a signal already cleared by the confluence gate.
func (s *Scheduler) execute(ctx context.Context, now time.Time, sig types.Signal, sizeMultiplier decimal.Decimal) error {
	timeout := s.timeout()
	account, err := s.deps.Broker.GetAccount(ctx, timeout)
	if err != nil {
		return s.handleBrokerErr(ctx, err)
	}
	info, err := s.deps.Broker.GetSymbolInfo(ctx, sig.Symbol, timeout)
	if err != nil {
		return s.handleBrokerErr(ctx, err)
	}
	spread, err := s.deps.Broker.Spread(ctx, sig.Symbol, timeout)
	if err != nil {
		return s.handleBrokerErr(ctx, err)
	}

	existing := symbolPositions(s.deps.Positions.Snapshot(), sig.Symbol)

	decision := s.deps.Risk.Evaluate(risk.Input{
		Signal:             sig,
		Account:            account,
		ExistingSameSymbol: existing,
		Spread:             spread,
		SymbolInfo:         info,
		ServerTime:         now,
	})
	if !decision.Approved {
		s.deps.Events.Emit(eventsink.SignalRejected, now, sig.Symbol, "", map[string]any{"signal": sig.ID, "reason": string(decision.Reason)})
		s.deps.Metrics.IncRiskRejection(string(decision.Reason))
		return nil
	}

	volume := decision.ApprovedVolume.Mul(sizeMultiplier)
	volume = clampVolume(volume, info)

	req := types.OrderRequest{
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Volume:     volume,
		Type:       types.OrderTypeMarket,
		StopLoss:   decision.EffectiveSL,
		TakeProfit: decision.EffectiveTP,
		Timeout:    timeout,
	}
	s.deps.Events.Emit(eventsink.OrderSent, now, sig.Symbol, "", map[string]any{"signal": sig.ID, "volume": volume.String()})

	result, err := s.deps.Broker.PlaceOrder(ctx, req)
	if err != nil {
		s.deps.Events.Emit(eventsink.OrderRejected, now, sig.Symbol, "", map[string]any{"signal": sig.ID, "error": err.Error()})
		s.deps.Metrics.IncOrder(string(sig.Side), "rejected")
		return s.handleBrokerErr(ctx, err)
	}

	s.deps.Metrics.IncSignal(sig.Strategy, string(sig.Side))
	if result.Status != types.OrderStatusFilled {
		s.deps.Metrics.IncOrder(string(sig.Side), string(result.Status))
		return nil
	}

	s.deps.Metrics.IncOrder(string(sig.Side), "filled")
	s.deps.Events.Emit(eventsink.OrderFilled, now, sig.Symbol, string(result.Ticket), map[string]any{"signal": sig.ID})

	s.deps.Positions.Insert(types.Position{
		Ticket:          result.Ticket,
		Symbol:          sig.Symbol,
		Side:            sig.Side,
		OpenVolume:      result.FilledVolume,
		RemainingVolume: result.FilledVolume,
		EntryPrice:      result.FillPrice,
		OpenedAt:        result.ServerTime,
		CurrentPrice:    result.FillPrice,
		StopLoss:        decision.EffectiveSL,
		TakeProfit:      decision.EffectiveTP,
		SignalID:        sig.ID,
		Strategy:        sig.Strategy,
		State:           types.PositionOpen,
		ExtremeFavorable: result.FillPrice,
	})
	s.deps.Events.Emit(eventsink.PositionOpened, now, sig.Symbol, string(result.Ticket), nil)
	return nil
}

// reconcileAndAdopt is step 9: pull the broker's authoritative position
// list, reconcile it against the tracker, and run the adoption policy over
// any previously-unmanaged positions it surfaces.
func (s *Scheduler) reconcileAndAdopt(ctx context.Context, now time.Time, snapshot indicator.Snapshot) error {
	brokerPositions, err := position.FetchBrokerPositions(ctx, s.deps.Broker, s.cfg.Symbol, s.timeout())
	if err != nil {
		return s.handleBrokerErr(ctx, err)
	}
	result := s.deps.Positions.Reconcile(brokerPositions, now)
	for _, closed := range result.Closed {
		// Reconciliation has no trade-history API to pull an exact fill price
		// from, so the position's last-synced CurrentPrice stands in for the
		// fill record.
		pnl := realizedPnL(closed, closed.CurrentPrice, closed.RemainingVolume)
		s.deps.Risk.RecordFill(now, pnl)
		s.deps.Events.Emit(eventsink.PositionClosed, now, closed.Symbol, string(closed.Ticket), map[string]any{"realizedPnl": pnl.String()})
	}

	if len(result.Adopted) == 0 {
		return nil
	}
	atr, _ := snapshot.Get("atr_14")
	atrBySymbol := map[string]float64{s.cfg.Symbol: atr}
	decisions := s.deps.Adoption.Apply(ctx, now, result.Adopted, atrBySymbol, s.timeout())
	for _, d := range decisions {
		if d.Accepted {
			s.deps.Events.Emit(eventsink.AdoptionAccepted, now, d.Position.Symbol, string(d.Position.Ticket), nil)
		} else {
			s.deps.Events.Emit(eventsink.AdoptionSkipped, now, d.Position.Symbol, string(d.Position.Ticket), map[string]any{"reason": string(d.Reason)})
		}
	}
	return nil
}

// monitorPositions is step 10: profit scaler, then dynamic stop manager,
// then exit coordinator, in that fixed order, over every open position.
// DynStop.Run scans every tracked position itself, so it runs once per
// iteration rather than once per position in the loop below.
func (s *Scheduler) monitorPositions(ctx context.Context, now time.Time, bar types.Bar, series *types.BarSeries, snapshot indicator.Snapshot) error {
	account, err := s.deps.Broker.GetAccount(ctx, s.timeout())
	if err != nil {
		return s.handleBrokerErr(ctx, err)
	}
	info, err := s.deps.Broker.GetSymbolInfo(ctx, s.cfg.Symbol, s.timeout())
	if err != nil {
		return s.handleBrokerErr(ctx, err)
	}
	atr, _ := snapshot.Get("atr_14")
	directions := recentBarDirections(series, s.deps.Scaler.ContinuationWindow())

	for _, p := range s.deps.Positions.Snapshot() {
		if p.State != types.PositionOpen && p.State != types.PositionPartiallyClosed {
			continue
		}

		if s.deps.Scaler.EmergencyLockTriggered(p.UnrealizedPnL, account.Balance) {
			if tier, ok := s.deps.Scaler.DeepestUntakenTier(p); ok {
				closeVol := p.RemainingVolume.Mul(decimal.NewFromFloat(tier.TakePercent))
				s.applyScalerTier(ctx, now, p, tier, closeVol)
				continue
			}
		}

		openedBars := s.barsSince(p.OpenedAt, now)
		if tier, closeVol, fire := s.deps.Scaler.Evaluate(p, openedBars, directions, p.UnrealizedPnL); fire {
			s.applyScalerTier(ctx, now, p, tier, closeVol)
		}

		if sig := s.deps.ExitCoord.Evaluate(exitcoord.EvalContext{Position: p, Bar: bar, Account: account, Now: now}); sig != nil {
			if err := s.applyExit(ctx, now, p, *sig); err != nil {
				s.logger.Warn("exit coordinator apply failed", zap.Error(err), zap.String("ticket", string(p.Ticket)))
			}
		}
	}

	drawdownFraction := 0.0
	if account.PeakBalance.IsPositive() {
		dd := account.PeakBalance.Sub(account.Equity).Div(account.PeakBalance)
		if dd.IsPositive() {
			drawdownFraction, _ = dd.Float64()
		}
	}
	s.deps.DynStop.Run(ctx, now, map[string]float64{s.cfg.Symbol: atr}, drawdownFraction, map[string]types.SymbolInfo{s.cfg.Symbol: info}, s.timeout())
	return nil
}

// applyScalerTier issues one tier's partial close and records its realized
// P&L against the daily risk counters.
func (s *Scheduler) applyScalerTier(ctx context.Context, now time.Time, p types.Position, tier scaler.Tier, closeVol decimal.Decimal) {
	result, applied, err := s.deps.Scaler.Apply(ctx, now, p, tier, closeVol, s.timeout())
	if err != nil {
		s.logger.Warn("profit scaler apply failed", zap.Error(err), zap.String("ticket", string(p.Ticket)))
		return
	}
	if !applied {
		return
	}
	pnl := realizedPnL(p, result.FillPrice, result.FilledVolume)
	s.deps.Risk.RecordFill(now, pnl)
	s.deps.Events.Emit(eventsink.PositionPartialClose, now, p.Symbol, string(p.Ticket), map[string]any{"tier": tier.Name, "realizedPnl": pnl.String()})
}

func (s *Scheduler) applyExit(ctx context.Context, now time.Time, p types.Position, sig types.ExitSignal) error {
	var volume *decimal.Decimal
	if sig.PartialVol.IsPositive() {
		volume = &sig.PartialVol
	}
	result, err := s.deps.Broker.ClosePosition(ctx, p.Ticket, volume, s.timeout())
	if err != nil {
		return s.handleBrokerErr(ctx, err)
	}
	pnl := realizedPnL(p, result.FillPrice, result.FilledVolume)
	s.deps.Risk.RecordFill(now, pnl)
	if volume != nil {
		_ = s.deps.Positions.ApplyPartialClose(p.Ticket, result.FilledVolume)
		s.deps.Events.Emit(eventsink.PositionPartialClose, now, p.Symbol, string(p.Ticket), map[string]any{"reason": sig.Reason, "realizedPnl": pnl.String()})
		return nil
	}
	if _, ok := s.deps.Positions.MarkClosed(p.Ticket); ok {
		s.deps.Metrics.IncExit(sig.Reason, string(p.Side))
		s.deps.Events.Emit(eventsink.PositionClosed, now, p.Symbol, string(p.Ticket), map[string]any{"reason": sig.Reason, "realizedPnl": pnl.String()})
	}
	return nil
}

// healthCheck is spec.md §4.12 step 11, run at the top of the iteration
// (see step): a cheap liveness check with a bounded, backoff-spaced
// reconnect attempt on disconnect. A missed-interval signal is never
// requeued — the next iteration simply generates fresh ones.
func (s *Scheduler) healthCheck(ctx context.Context) error {
	if s.deps.Broker.IsConnected() {
		s.disconnected = false
		s.reconnectTries = 0
		return nil
	}
	if !s.disconnected {
		s.disconnected = true
		s.deps.Events.Emit(eventsink.BrokerDisconnected, time.Now(), s.cfg.Symbol, "", nil)
	}
	if s.reconnectTries >= s.cfg.ReconnectMaxAttempts {
		return fmt.Errorf("%w: reconnect attempts exhausted", coreerr.ErrBrokerFatal)
	}
	s.reconnectTries++
	time.Sleep(s.cfg.ReconnectBackoff)
	if err := s.deps.Broker.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrBrokerTransient, err)
	}
	s.disconnected = false
	s.reconnectTries = 0
	s.deps.Events.Emit(eventsink.BrokerReconnected, time.Now(), s.cfg.Symbol, "", nil)
	// Force this same iteration's step 1 to pull a full fresh series
	// rather than trust anything cached from before the disconnect.
	s.deps.Bars.Reset(s.cfg.Symbol, s.cfg.Timeframe)
	return nil
}

func (s *Scheduler) handleBrokerErr(ctx context.Context, err error) error {
	return fmt.Errorf("%w: %v", coreerr.ErrBrokerTransient, err)
}

// emitMetrics is step 12: push account and regime gauges every
// metrics_interval iterations (spec.md §4.12, §9) rather than every
// iteration, to keep the scrape-facing series cheap to compute.
func (s *Scheduler) emitMetrics(ctx context.Context) {
	if account, err := s.deps.Broker.GetAccount(ctx, s.timeout()); err == nil {
		equity, _ := account.Equity.Float64()
		drawdown, _ := account.DrawdownPercent.Float64()
		s.deps.Metrics.SetEquity(equity)
		s.deps.Metrics.SetDrawdownPercent(drawdown)
	}
	state := s.deps.Regime.Current()
	s.deps.Metrics.SetRegime(string(state.Current), []string{
		string(regime.TrendingUp), string(regime.TrendingDown), string(regime.Ranging),
		string(regime.Volatile), string(regime.Consolidating),
	})

	stats := s.deps.Events.GetStats()
	s.logger.Debug("telemetry stats", zap.Int64("published", stats.Published), zap.Int64("dropped", stats.Dropped))
}

// drainCommands processes every command queued since the last iteration.
func (s *Scheduler) drainCommands(now time.Time) {
	accepted, rejected := s.deps.Commands.Drain(now)
	for _, r := range rejected {
		s.logger.Info("command rejected", zap.String("id", r.CommandID), zap.String("reason", string(r.Reason)))
	}
	for _, cmd := range accepted {
		s.handleCommand(now, cmd)
	}
}

func (s *Scheduler) handleCommand(now time.Time, cmd command.Command) {
	switch cmd.Kind {
	case command.KindPause:
		s.Pause()
	case command.KindResume:
		s.Resume()
	case command.KindShutdown:
		policy := s.cfg.ShutdownDrain
		switch cmd.ShutdownMode {
		case command.ShutdownDrain:
			policy = DrainCloseAll
		case command.ShutdownImmediate:
			policy = DrainLeaveOpen
		}
		s.Stop(policy)
	case command.KindManualClose:
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
		defer cancel()
		if _, err := s.deps.Broker.ClosePosition(ctx, cmd.Ticket, cmd.CloseVolume, s.timeout()); err != nil {
			s.logger.Warn("manual-close failed", zap.Error(err), zap.String("ticket", string(cmd.Ticket)))
		}
	case command.KindManualModify:
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
		defer cancel()
		if err := s.deps.Broker.ModifyPosition(ctx, cmd.Ticket, cmd.ModifySL, cmd.ModifyTP, s.timeout()); err != nil {
			s.logger.Warn("manual-modify failed", zap.Error(err), zap.String("ticket", string(cmd.Ticket)))
		}
	case command.KindManualOpen:
		sig := types.Signal{
			ID:             cmd.ID,
			Timestamp:      now,
			Symbol:         cmd.Symbol,
			Timeframe:      s.cfg.Timeframe,
			Side:           cmd.Side,
			ReferencePrice: decimal.Zero,
			StopLoss:       decimal.Zero,
			TakeProfit:     decimal.Zero,
			Confidence:     decimal.NewFromInt(1),
			Strategy:       "manual",
		}
		if cmd.SL != nil {
			sig.StopLoss = *cmd.SL
		}
		if cmd.TP != nil {
			sig.TakeProfit = *cmd.TP
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
		defer cancel()
		if err := s.execute(ctx, now, sig, decimal.NewFromInt(1)); err != nil {
			s.logger.Warn("manual-open failed", zap.Error(err))
		}
	case command.KindStatus:
		// status is answered by the embedding process reading Snapshot();
		// the loop itself has nothing further to do.
	}
}

// shutdown applies the configured drain policy and releases the broker
// session. It runs once, after Run's select loop exits.
func (s *Scheduler) shutdown(ctx context.Context) {
	policy := s.drainMode
	if policy == "" {
		policy = s.cfg.ShutdownDrain
	}

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownDrainBudget)
	defer cancel()

	if policy == DrainCloseAll || policy == DrainFlattenLongsOnly {
		for _, p := range s.deps.Positions.Snapshot() {
			if p.State == types.PositionClosed {
				continue
			}
			if policy == DrainFlattenLongsOnly && p.Side != types.SideLong {
				continue
			}
			if _, err := s.deps.Broker.ClosePosition(drainCtx, p.Ticket, nil, s.timeout()); err != nil {
				s.logger.Warn("shutdown drain close failed", zap.Error(err), zap.String("ticket", string(p.Ticket)))
				continue
			}
			s.deps.Positions.MarkClosed(p.Ticket)
		}
	}

	if err := s.deps.Broker.Shutdown(drainCtx); err != nil {
		s.logger.Warn("broker shutdown error", zap.Error(err))
	}
}

// barsSince approximates how many timeframe bars have elapsed since a
// position opened, since the tracker stores only wall-clock time.
func (s *Scheduler) barsSince(openedAt, now time.Time) int {
	period := timeframeDuration(s.cfg.Timeframe)
	if period <= 0 || now.Before(openedAt) {
		return 0
	}
	return int(now.Sub(openedAt) / period)
}

func timeframeDuration(tf types.Timeframe) time.Duration {
	switch tf {
	case types.TimeframeM1:
		return time.Minute
	case types.TimeframeM5:
		return 5 * time.Minute
	case types.TimeframeM15:
		return 15 * time.Minute
	case types.TimeframeH1:
		return time.Hour
	case types.TimeframeH4:
		return 4 * time.Hour
	case types.TimeframeD1:
		return 24 * time.Hour
	default:
		return 0
	}
}

func symbolPositions(all []types.Position, symbol string) []types.Position {
	var out []types.Position
	for _, p := range all {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

func clampVolume(vol decimal.Decimal, info types.SymbolInfo) decimal.Decimal {
	if info.VolumeMin.IsPositive() && vol.LessThan(info.VolumeMin) {
		vol = info.VolumeMin
	}
	if info.VolumeMax.IsPositive() && vol.GreaterThan(info.VolumeMax) {
		vol = info.VolumeMax
	}
	return vol
}
