// Package risk implements the Risk Evaluator (spec.md §4.6): given a gated
// Signal, the account snapshot, live positions and symbol info, it runs
// eleven fixed-order checks and returns a RiskDecision.
//
// The check/config/violation shape is grounded on the teacher's
// execution.RiskManager (daily counters, consecutive-loss tracking,
// config-as-struct, distinct rejection per rule) generalized to the
// spec's exact eleven-step ordering and its balance-tier stop-loss policy,
// which the teacher's RiskManager never implemented.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// SizingMethod selects the position-sizing formula (spec.md §4.6 rule 9).
type SizingMethod string

const (
	SizingFixed       SizingMethod = "fixed"
	SizingPercentRisk SizingMethod = "percent_risk"
	SizingATRVol      SizingMethod = "atr_volatility"
	SizingKelly       SizingMethod = "kelly"
)

// Config holds every threshold the eleven checks read.
type Config struct {
	MinBalance              decimal.Decimal
	MarginLevelThreshold    decimal.Decimal
	DrawdownHalt            decimal.Decimal // fraction, e.g. 0.25
	DrawdownSurvivalSoft    decimal.Decimal // fraction, below halt, triggers sizing reduction
	SurvivalSizeMultiplier  decimal.Decimal
	DailyLossLimit          decimal.Decimal
	DailyTradeLimit         int
	MaxSpreadPoints         decimal.Decimal
	MaxSpreadPct            decimal.Decimal
	MaxPositionsPerSymbol   int
	MaxExposurePerSymbolPct decimal.Decimal
	HedgingEnabled          bool
	MinRiskReward           decimal.Decimal
	MinConfidence           decimal.Decimal

	SizingMethod   SizingMethod
	FixedVolume    decimal.Decimal
	RiskPctOfBal   decimal.Decimal
	KellyFraction  decimal.Decimal // cap as a fraction of full-Kelly, e.g. 0.5
	ATRVolMultiple decimal.Decimal

	PerformanceAdjustEnabled bool
	PerformanceAdjustMin     decimal.Decimal // 0.75
	PerformanceAdjustMax     decimal.Decimal // 1.15
}

// DefaultConfig returns conservative spec-aligned defaults.
func DefaultConfig() Config {
	return Config{
		MinBalance:               decimal.NewFromInt(100),
		MarginLevelThreshold:     decimal.NewFromInt(150),
		DrawdownHalt:             decimal.NewFromFloat(0.25),
		DrawdownSurvivalSoft:     decimal.NewFromFloat(0.15),
		SurvivalSizeMultiplier:   decimal.NewFromFloat(0.5),
		DailyLossLimit:           decimal.NewFromInt(500),
		DailyTradeLimit:          20,
		MaxSpreadPoints:          decimal.NewFromInt(30),
		MaxSpreadPct:             decimal.NewFromFloat(0.002),
		MaxPositionsPerSymbol:    1,
		MaxExposurePerSymbolPct:  decimal.NewFromFloat(0.25),
		HedgingEnabled:           false,
		MinRiskReward:            decimal.NewFromFloat(1.5),
		MinConfidence:            decimal.NewFromFloat(0.4),
		SizingMethod:             SizingPercentRisk,
		FixedVolume:              decimal.NewFromFloat(0.01),
		RiskPctOfBal:             decimal.NewFromFloat(0.01),
		KellyFraction:            decimal.NewFromFloat(0.5),
		ATRVolMultiple:           decimal.NewFromFloat(1.0),
		PerformanceAdjustEnabled: true,
		PerformanceAdjustMin:     decimal.NewFromFloat(0.75),
		PerformanceAdjustMax:     decimal.NewFromFloat(1.15),
	}
}

// balanceTier is the spec's hard-coded stop-loss cap table (spec.md §4.6
// rule 10). The historical bug used 25% for the "large" tier; this table
// enforces the corrected values and a 15% hard cap regardless of what
// Config says.
type balanceTier struct {
	maxBalance decimal.Decimal // upper bound, zero means unbounded
	maxSLPct   decimal.Decimal
}

var tiers = []balanceTier{
	{maxBalance: decimal.NewFromInt(1000), maxSLPct: decimal.NewFromFloat(0.01)},
	{maxBalance: decimal.NewFromInt(5000), maxSLPct: decimal.NewFromFloat(0.02)},
	{maxBalance: decimal.NewFromInt(20000), maxSLPct: decimal.NewFromFloat(0.05)},
	{maxBalance: decimal.Zero, maxSLPct: decimal.NewFromFloat(0.05)}, // "large", unbounded
}

const hardStopCapPct = 0.15

// tierStopLossCapPct returns the maximum stop-loss percent allowed for the
// given balance, always clamped to the 15% hard cap.
func tierStopLossCapPct(balance decimal.Decimal, logger *zap.Logger) decimal.Decimal {
	cap := tiers[len(tiers)-1].maxSLPct
	for _, tier := range tiers {
		if tier.maxBalance.IsZero() {
			cap = tier.maxSLPct
			break
		}
		if balance.LessThanOrEqual(tier.maxBalance) {
			cap = tier.maxSLPct
			break
		}
	}
	hardCap := decimal.NewFromFloat(hardStopCapPct)
	if cap.GreaterThanOrEqual(hardCap) {
		if logger != nil {
			logger.Warn("configured stop-loss tier cap exceeds hard cap, clamping",
				zap.String("configured", cap.String()), zap.String("hardCap", hardCap.String()))
		}
		cap = hardCap
	}
	return cap
}

// DailyCounters tracks the per-UTC-day state the daily-limit check needs.
type DailyCounters struct {
	Day         time.Time // truncated to UTC midnight
	RealizedPnL decimal.Decimal
	TradeCount  int
}

// PerformanceInput supplies the recent-winrate figure for rule 11.
type PerformanceInput struct {
	RecentWinRate decimal.Decimal // 0-1
}

// Evaluator runs the fixed-order checks.
type Evaluator struct {
	logger *zap.Logger
	cfg    Config

	mu       sync.Mutex
	counters DailyCounters
}

// New constructs an Evaluator.
func New(logger *zap.Logger, cfg Config) *Evaluator {
	return &Evaluator{logger: logger.Named("risk"), cfg: cfg}
}

// RecordFill updates the daily counters after a fill/close, rolling the
// day over at UTC midnight.
func (e *Evaluator) RecordFill(serverTime time.Time, realizedPnL decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	day := serverTime.UTC().Truncate(24 * time.Hour)
	if !e.counters.Day.Equal(day) {
		e.counters = DailyCounters{Day: day}
	}
	e.counters.RealizedPnL = e.counters.RealizedPnL.Add(realizedPnL)
	e.counters.TradeCount++
}

// Input bundles everything the eleven checks read.
type Input struct {
	Signal         types.Signal
	Account        types.AccountSnapshot
	ExistingSameSymbol []types.Position
	Spread         types.Spread
	SymbolInfo     types.SymbolInfo
	Performance    PerformanceInput
	ServerTime     time.Time
}

// Evaluate runs the eleven fixed-order checks and returns the verdict.
func (e *Evaluator) Evaluate(in Input) types.RiskDecision {
	e.mu.Lock()
	counters := e.counters
	e.mu.Unlock()

	if reason, msg := e.checkAccountHealth(in.Account); reason != types.RejectNone {
		return reject(reason, msg)
	}
	if reason, msg := e.checkDrawdownHalt(in.Account); reason != types.RejectNone {
		return reject(reason, msg)
	}
	if reason, msg := e.checkDailyLimits(counters, in.ServerTime); reason != types.RejectNone {
		return reject(reason, msg)
	}
	if reason, msg := e.checkSpread(in.Spread); reason != types.RejectNone {
		return reject(reason, msg)
	}
	if reason, msg := e.checkSymbolLimits(in.ExistingSameSymbol, in.SymbolInfo); reason != types.RejectNone {
		return reject(reason, msg)
	}
	if reason, msg := e.checkOppositeDirection(in.Signal, in.ExistingSameSymbol); reason != types.RejectNone {
		return reject(reason, msg)
	}
	if reason, msg := e.checkRiskReward(in.Signal); reason != types.RejectNone {
		return reject(reason, msg)
	}
	if reason, msg := e.checkConfidence(in.Signal); reason != types.RejectNone {
		return reject(reason, msg)
	}

	sizeMultiplier := decimal.NewFromInt(1)
	if e.survivalModeActive(in.Account) {
		sizeMultiplier = e.cfg.SurvivalSizeMultiplier
	}

	effectiveSL, appliedTier := e.applyBalanceTierStopPolicy(in.Signal, in.Account)

	volume := e.size(in, effectiveSL, in.SymbolInfo)
	volume = volume.Mul(sizeMultiplier)

	if e.cfg.PerformanceAdjustEnabled {
		volume = volume.Mul(e.performanceMultiplier(in.Performance))
	}

	volume = clampVolume(volume, in.SymbolInfo)

	return types.RiskDecision{
		Approved:       true,
		ApprovedVolume: volume,
		EffectiveSL:    effectiveSL,
		EffectiveTP:    in.Signal.TakeProfit,
		AppliedTier:    appliedTier,
	}
}

func reject(reason types.RiskRejectionReason, msg string) types.RiskDecision {
	return types.RiskDecision{Approved: false, Reason: reason, Message: msg}
}

// 1. Account health.
func (e *Evaluator) checkAccountHealth(acc types.AccountSnapshot) (types.RiskRejectionReason, string) {
	if acc.Balance.LessThanOrEqual(decimal.Zero) {
		return types.RejectMinimumBalance, "balance is zero or negative"
	}
	if acc.Balance.LessThan(e.cfg.MinBalance) {
		return types.RejectMinimumBalance, "balance below configured minimum"
	}
	if acc.Equity.IsNegative() {
		return types.RejectNegativeEquity, "equity negative: emergency close-all required"
	}
	if !acc.MarginLevel.IsZero() && acc.MarginLevel.LessThan(e.cfg.MarginLevelThreshold) {
		return types.RejectMarginCall, "margin level below threshold"
	}
	return types.RejectNone, ""
}

// 2. Drawdown halt (hard) / survival mode (soft) — survival mode does not
// reject, it only reduces sizing, applied later in Evaluate.
func (e *Evaluator) checkDrawdownHalt(acc types.AccountSnapshot) (types.RiskRejectionReason, string) {
	if acc.PeakBalance.IsZero() {
		return types.RejectNone, ""
	}
	dd := acc.PeakBalance.Sub(acc.Balance).Div(acc.PeakBalance)
	if dd.GreaterThanOrEqual(e.cfg.DrawdownHalt) {
		return types.RejectDrawdownHalt, "drawdown at or beyond halt threshold"
	}
	return types.RejectNone, ""
}

func (e *Evaluator) survivalModeActive(acc types.AccountSnapshot) bool {
	if acc.PeakBalance.IsZero() {
		return false
	}
	dd := acc.PeakBalance.Sub(acc.Balance).Div(acc.PeakBalance)
	return dd.GreaterThanOrEqual(e.cfg.DrawdownSurvivalSoft) && dd.LessThan(e.cfg.DrawdownHalt)
}

// 3. Daily limits.
func (e *Evaluator) checkDailyLimits(counters DailyCounters, now time.Time) (types.RiskRejectionReason, string) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !counters.Day.Equal(day) {
		return types.RejectNone, "" // new day, counters will roll on next RecordFill
	}
	if counters.RealizedPnL.Neg().GreaterThanOrEqual(e.cfg.DailyLossLimit) {
		return types.RejectDailyLoss, "daily realized loss limit reached"
	}
	if counters.TradeCount >= e.cfg.DailyTradeLimit {
		return types.RejectDailyTrades, "daily trade count limit reached"
	}
	return types.RejectNone, ""
}

// 4. Spread guard.
func (e *Evaluator) checkSpread(sp types.Spread) (types.RiskRejectionReason, string) {
	if sp.Points.GreaterThan(e.cfg.MaxSpreadPoints) || sp.Percent.GreaterThan(e.cfg.MaxSpreadPct) {
		return types.RejectSpread, "spread exceeds configured guard"
	}
	return types.RejectNone, ""
}

// 5. Per-symbol limits.
func (e *Evaluator) checkSymbolLimits(existing []types.Position, info types.SymbolInfo) (types.RiskRejectionReason, string) {
	if e.cfg.MaxPositionsPerSymbol > 0 && len(existing) >= e.cfg.MaxPositionsPerSymbol {
		return types.RejectSymbolLimit, "max positions per symbol reached"
	}
	var notional decimal.Decimal
	for _, p := range existing {
		notional = notional.Add(p.RemainingVolume.Mul(p.CurrentPrice))
	}
	if !info.ContractSize.IsZero() {
		maxNotional := info.ContractSize.Mul(e.cfg.MaxExposurePerSymbolPct)
		if notional.GreaterThanOrEqual(maxNotional) {
			return types.RejectSymbolLimit, "max symbol exposure reached"
		}
	}
	return types.RejectNone, ""
}

// 6. Opposite-direction guard.
func (e *Evaluator) checkOppositeDirection(sig types.Signal, existing []types.Position) (types.RiskRejectionReason, string) {
	if e.cfg.HedgingEnabled {
		return types.RejectNone, ""
	}
	for _, p := range existing {
		if p.Side == sig.Side.Opposite() {
			return types.RejectOppositeSide, "existing opposite-side position on symbol"
		}
	}
	return types.RejectNone, ""
}

// 7. R:R guard.
func (e *Evaluator) checkRiskReward(sig types.Signal) (types.RiskRejectionReason, string) {
	risk := sig.ReferencePrice.Sub(sig.StopLoss).Abs()
	if risk.IsZero() {
		return types.RejectRiskReward, "zero-risk signal"
	}
	reward := sig.TakeProfit.Sub(sig.ReferencePrice).Abs()
	rr := reward.Div(risk)
	if rr.LessThan(e.cfg.MinRiskReward) {
		return types.RejectRiskReward, "risk:reward below minimum"
	}
	return types.RejectNone, ""
}

// 8. Confidence guard.
func (e *Evaluator) checkConfidence(sig types.Signal) (types.RiskRejectionReason, string) {
	if sig.Confidence.LessThan(e.cfg.MinConfidence) {
		return types.RejectConfidence, "signal confidence below minimum"
	}
	return types.RejectNone, ""
}

// 9. Sizing.
func (e *Evaluator) size(in Input, effectiveSL decimal.Decimal, info types.SymbolInfo) decimal.Decimal {
	var vol decimal.Decimal
	switch e.cfg.SizingMethod {
	case SizingFixed:
		vol = e.cfg.FixedVolume
	case SizingPercentRisk:
		riskDistance := in.Signal.ReferencePrice.Sub(effectiveSL).Abs()
		if riskDistance.IsZero() || info.ContractSize.IsZero() {
			vol = decimal.Zero
			break
		}
		riskAmount := in.Account.Balance.Mul(e.cfg.RiskPctOfBal)
		pointValue := info.ContractSize
		vol = riskAmount.Div(riskDistance.Mul(pointValue))
	case SizingATRVol:
		// volatility-scaled: smaller size when stop distance (proxy for ATR)
		// is wide, scaled by ATRVolMultiple.
		riskDistance := in.Signal.ReferencePrice.Sub(effectiveSL).Abs()
		if riskDistance.IsZero() {
			vol = decimal.Zero
			break
		}
		riskAmount := in.Account.Balance.Mul(e.cfg.RiskPctOfBal).Mul(e.cfg.ATRVolMultiple)
		vol = riskAmount.Div(riskDistance)
	case SizingKelly:
		wr := in.Performance.RecentWinRate
		payoff := in.Signal.RMultiple()
		if payoff.IsZero() {
			vol = decimal.Zero
			break
		}
		kelly := wr.Sub(decimal.NewFromInt(1).Sub(wr).Div(payoff))
		if kelly.IsNegative() {
			kelly = decimal.Zero
		}
		capped := decimal.Min(kelly, e.cfg.KellyFraction)
		vol = in.Account.Balance.Mul(capped).Div(in.Signal.ReferencePrice)
	}
	return roundToStep(vol, info.VolumeStep)
}

func roundToStep(vol, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() || vol.IsZero() {
		return vol
	}
	steps := vol.Div(step).Floor()
	return steps.Mul(step)
}

func clampVolume(vol decimal.Decimal, info types.SymbolInfo) decimal.Decimal {
	if !info.VolumeMin.IsZero() && vol.LessThan(info.VolumeMin) {
		vol = info.VolumeMin
	}
	if !info.VolumeMax.IsZero() && vol.GreaterThan(info.VolumeMax) {
		vol = info.VolumeMax
	}
	return vol
}

// 10. Balance-tier stop policy. Returns the effective SL (moved in to
// respect the tier cap if the signal's own SL implies a wider risk) and
// the applied tier name for telemetry.
func (e *Evaluator) applyBalanceTierStopPolicy(sig types.Signal, acc types.AccountSnapshot) (decimal.Decimal, string) {
	capPct := tierStopLossCapPct(acc.Balance, e.logger)
	maxDistance := sig.ReferencePrice.Mul(capPct)
	currentDistance := sig.ReferencePrice.Sub(sig.StopLoss).Abs()

	tierName := tierName(acc.Balance)
	if currentDistance.LessThanOrEqual(maxDistance) {
		return sig.StopLoss, tierName
	}

	e.logger.Warn("signal stop-loss distance exceeds balance-tier cap, tightening",
		zap.String("tier", tierName), zap.String("cap", capPct.String()))

	switch sig.Side {
	case types.SideLong:
		return sig.ReferencePrice.Sub(maxDistance), tierName
	default:
		return sig.ReferencePrice.Add(maxDistance), tierName
	}
}

func tierName(balance decimal.Decimal) string {
	switch {
	case balance.LessThanOrEqual(decimal.NewFromInt(1000)):
		return "tiny"
	case balance.LessThanOrEqual(decimal.NewFromInt(5000)):
		return "small"
	case balance.LessThanOrEqual(decimal.NewFromInt(20000)):
		return "medium"
	default:
		return "large"
	}
}

// 11. Performance adjustment.
func (e *Evaluator) performanceMultiplier(perf PerformanceInput) decimal.Decimal {
	// Linear map: winrate 0.5 -> 1.0x, 0.0 -> min, 1.0 -> max.
	wr := perf.RecentWinRate
	mid := decimal.NewFromFloat(0.5)
	var mult decimal.Decimal
	if wr.GreaterThanOrEqual(mid) {
		span := wr.Sub(mid).Div(mid) // 0..1
		mult = decimal.NewFromInt(1).Add(span.Mul(e.cfg.PerformanceAdjustMax.Sub(decimal.NewFromInt(1))))
	} else {
		span := mid.Sub(wr).Div(mid) // 0..1
		mult = decimal.NewFromInt(1).Sub(span.Mul(decimal.NewFromInt(1).Sub(e.cfg.PerformanceAdjustMin)))
	}
	if mult.LessThan(e.cfg.PerformanceAdjustMin) {
		mult = e.cfg.PerformanceAdjustMin
	}
	if mult.GreaterThan(e.cfg.PerformanceAdjustMax) {
		mult = e.cfg.PerformanceAdjustMax
	}
	return mult
}
