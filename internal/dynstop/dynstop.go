// Package dynstop implements the Dynamic Stop Manager (spec.md §4.9): a
// one-way, ATR-driven trailing stop recomputed once per iteration for
// every OPEN or PARTIALLY_CLOSED position.
//
// The trail-distance / min-step shape is grounded
// on the teacher corpus's MetaRPC-GoMT5 TrailingStopManager orchestrator
// (11_trailing_stop.go) — "never moves SL in unfavorable direction",
// "respects minimum step size" — generalized from its fixed-points
// trailing distance to the spec's ATR-scaled, drawdown-aware k-factor.
package dynstop

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Config tunes the trailing-stop behavior.
type Config struct {
	ATRMultiple        float64 // k in max(current_sl, extreme - k*ATR)
	MinShrinkFactor    float64 // floor of the drawdown-aware shrink, e.g. 0.5
	DrawdownForMinK    float64 // drawdown fraction at which shrink bottoms out, e.g. 0.25
	MinFractionOfPrice float64 // sanity clamp: new SL must not be within this fraction of price
	MinTickDelta       decimal.Decimal
}

// DefaultConfig returns the spec's recommended defaults.
func DefaultConfig() Config {
	return Config{
		ATRMultiple:        2.5,
		MinShrinkFactor:    0.5,
		DrawdownForMinK:    0.25,
		MinFractionOfPrice: 0.001,
		MinTickDelta:       decimal.NewFromFloat(0.0001),
	}
}

// Manager computes and applies trailing-stop updates.
type Manager struct {
	logger  *zap.Logger
	cfg     Config
	tracker *position.Tracker
	broker  broker.Adapter
}

// New constructs a Manager.
func New(logger *zap.Logger, cfg Config, tracker *position.Tracker, adapter broker.Adapter) *Manager {
	return &Manager{logger: logger.Named("dynstop"), cfg: cfg, tracker: tracker, broker: adapter}
}

// shrinkFactor scales k down as drawdown increases, floored at
// cfg.MinShrinkFactor (spec.md §4.9).
func (m *Manager) shrinkFactor(drawdownFraction float64) float64 {
	if m.cfg.DrawdownForMinK <= 0 {
		return 1
	}
	ratio := drawdownFraction / m.cfg.DrawdownForMinK
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio*(1-m.cfg.MinShrinkFactor)
}

// Candidate computes the new stop-loss candidate for one position, or
// returns ok=false if no update is warranted (delta below MinTickDelta, or
// the sanity clamp would be violated).
func (m *Manager) Candidate(p types.Position, atr float64, drawdownFraction float64, stopsLevelPoints, point decimal.Decimal) (decimal.Decimal, bool) {
	k := m.cfg.ATRMultiple * m.shrinkFactor(drawdownFraction)
	trail := decimal.NewFromFloat(k * atr)

	var candidate decimal.Decimal
	switch p.Side {
	case types.SideLong:
		candidate = p.ExtremeFavorable.Sub(trail)
		if candidate.LessThan(p.StopLoss) {
			candidate = p.StopLoss
		}
	case types.SideShort:
		candidate = p.ExtremeFavorable.Add(trail)
		if candidate.GreaterThan(p.StopLoss) {
			candidate = p.StopLoss
		}
	default:
		return decimal.Decimal{}, false
	}

	if candidate.Equal(p.StopLoss) {
		return decimal.Decimal{}, false
	}

	// broker stops_level_points: minimum distance to current price
	minDistance := stopsLevelPoints.Mul(point)
	distanceFromPrice := p.CurrentPrice.Sub(candidate).Abs()
	if !minDistance.IsZero() && distanceFromPrice.LessThan(minDistance) {
		return decimal.Decimal{}, false
	}

	// sanity clamp: must not sit within MinFractionOfPrice of current price
	minFraction := p.CurrentPrice.Mul(decimal.NewFromFloat(m.cfg.MinFractionOfPrice))
	if distanceFromPrice.LessThan(minFraction) {
		return decimal.Decimal{}, false
	}

	if candidate.Sub(p.StopLoss).Abs().LessThan(m.cfg.MinTickDelta) {
		return decimal.Decimal{}, false
	}

	return candidate, true
}

// Run evaluates every OPEN/PARTIALLY_CLOSED position once and issues a
// modify order for those whose candidate stop differs enough from the
// current one. It acquires each ticket's mutation lease; if the profit
// scaler already holds it, the position is skipped for this iteration
// (spec.md §4.9).
func (m *Manager) Run(ctx context.Context, now time.Time, atrBySymbol map[string]float64, drawdownFraction float64, symbolInfo map[string]types.SymbolInfo, timeout time.Duration) {
	for _, p := range m.tracker.Snapshot() {
		if p.State != types.PositionOpen && p.State != types.PositionPartiallyClosed {
			continue
		}
		atr, ok := atrBySymbol[p.Symbol]
		if !ok {
			continue
		}
		info := symbolInfo[p.Symbol]

		candidate, ok := m.Candidate(p, atr, drawdownFraction, info.StopsLevelPoints, info.Point)
		if !ok {
			continue
		}

		if !m.tracker.AcquireLease(p.Ticket, position.OwnerDynStop, now) {
			m.logger.Debug("deferring trailing-stop update, lease held", zap.String("ticket", string(p.Ticket)))
			continue
		}

		if err := m.broker.ModifyPosition(ctx, p.Ticket, &candidate, nil, timeout); err != nil {
			m.logger.Warn("trailing stop modify failed", zap.String("ticket", string(p.Ticket)), zap.Error(err))
			m.tracker.ReleaseLease(p.Ticket, position.OwnerDynStop)
			continue
		}
		_ = m.tracker.EndModify(p.Ticket, &candidate, nil)
		m.tracker.ReleaseLease(p.Ticket, position.OwnerDynStop)
	}
}
