// Package scaler implements the Profit Scaler (spec.md §4.10): a
// ladder of R-multiple tiers that takes partial profit off an open
// position as it moves favorably, once per tier, gated by minimum
// time-in-trade and minimum profit, and deferred while momentum still
// looks like strong continuation.
//
// Grounded on the teacher corpus's MetaRPC-GoMT5 PositionScaler
// orchestrator's "Scale Out" mode (12_position_scaler.go): gradual
// partial exits at predefined profit levels, generalized from a fixed
// point-distance ladder to the spec's R-multiple ladder, and from a
// single pass to the tier-consumed-once invariant tracked per position.
package scaler

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Tier is one rung of the profit-taking ladder: at RMultiple reached,
// TakePercent of the remaining volume is closed.
type Tier struct {
	Name        string
	RMultiple   float64
	TakePercent float64 // fraction of remaining volume, e.g. 0.20 = 20%
}

// Config tunes the scaler.
type Config struct {
	Tiers               []Tier
	MinBarsInTrade      int
	MinProfitAmount     decimal.Decimal
	ContinuationWindow  int // last N bars checked for strong-continuation deferral
	ContinuationMinHits int // of ContinuationWindow, bars in signal direction needed to defer

	// EmergencyLockThreshold is emergency_lock_threshold (spec.md §4.10): once
	// unrealized profit as a fraction of account balance crosses it, the
	// deepest untaken tier executes immediately regardless of momentum.
	EmergencyLockThreshold decimal.Decimal
}

// DefaultConfig returns the spec's recommended tier ladder and gates.
func DefaultConfig() Config {
	return Config{
		Tiers: []Tier{
			{Name: "tier1", RMultiple: 1.0, TakePercent: 0.20},
			{Name: "tier2", RMultiple: 1.5, TakePercent: 0.30},
			{Name: "tier3", RMultiple: 2.0, TakePercent: 0.40},
		},
		MinBarsInTrade:         3,
		MinProfitAmount:        decimal.NewFromInt(0),
		ContinuationWindow:     5,
		ContinuationMinHits:    3,
		EmergencyLockThreshold: decimal.NewFromFloat(0.2),
	}
}

func sortedTiers(tiers []Tier) []Tier {
	out := append([]Tier(nil), tiers...)
	sort.Slice(out, func(i, j int) bool { return out[i].RMultiple < out[j].RMultiple })
	return out
}

// BarDirection is the direction of one completed bar's move, used for
// the continuation-momentum deferral check.
type BarDirection int

const (
	DirFlat BarDirection = iota
	DirUp
	DirDown
)

// Manager evaluates and applies tiered partial closes.
type Manager struct {
	logger  *zap.Logger
	cfg     Config
	tracker *position.Tracker
	broker  broker.Adapter
}

// New constructs a Manager.
func New(logger *zap.Logger, cfg Config, tracker *position.Tracker, adapter broker.Adapter) *Manager {
	cfg.Tiers = sortedTiers(cfg.Tiers)
	return &Manager{logger: logger.Named("scaler"), cfg: cfg, tracker: tracker, broker: adapter}
}

// strongContinuation reports whether recent bar directions favor holding
// the full position rather than scaling out now (spec.md §4.10).
func strongContinuation(side types.OrderSide, recent []BarDirection, window, minHits int) bool {
	if len(recent) == 0 || window <= 0 {
		return false
	}
	start := 0
	if len(recent) > window {
		start = len(recent) - window
	}
	sample := recent[start:]
	want := DirUp
	if side == types.SideShort {
		want = DirDown
	}
	hits := 0
	for _, d := range sample {
		if d == want {
			hits++
		}
	}
	return hits >= minHits
}

// nextTier returns the lowest-RMultiple tier not yet consumed whose
// threshold the position has reached, or ok=false if none applies.
func (m *Manager) nextTier(p types.Position) (Tier, bool) {
	rmult := p.RMultiple().InexactFloat64()
	for _, tier := range m.cfg.Tiers {
		if p.TiersConsumed != nil && p.TiersConsumed[tier.Name] {
			continue
		}
		if rmult >= tier.RMultiple {
			return tier, true
		}
	}
	return Tier{}, false
}

// Evaluate decides whether p should have a tier-scale partial close
// applied right now. It returns the tier and the volume to close, or
// ok=false if no action should be taken this iteration.
func (m *Manager) Evaluate(p types.Position, openedBars int, recentDirections []BarDirection, profitAmount decimal.Decimal) (Tier, decimal.Decimal, bool) {
	if p.State != types.PositionOpen && p.State != types.PositionPartiallyClosed {
		return Tier{}, decimal.Decimal{}, false
	}
	if openedBars < m.cfg.MinBarsInTrade {
		return Tier{}, decimal.Decimal{}, false
	}
	if profitAmount.LessThan(m.cfg.MinProfitAmount) {
		return Tier{}, decimal.Decimal{}, false
	}

	tier, ok := m.nextTier(p)
	if !ok {
		return Tier{}, decimal.Decimal{}, false
	}

	if strongContinuation(p.Side, recentDirections, m.cfg.ContinuationWindow, m.cfg.ContinuationMinHits) {
		m.logger.Debug("deferring scale-out, strong continuation momentum", zap.String("ticket", string(p.Ticket)), zap.String("tier", tier.Name))
		return Tier{}, decimal.Decimal{}, false
	}

	closeVolume := p.RemainingVolume.Mul(decimal.NewFromFloat(tier.TakePercent))
	return tier, closeVolume, true
}

// Apply acquires the mutation lease, issues a partial close for the
// computed volume, marks the tier consumed, and releases the lease. It
// is a no-op (returns false) if the lease is already held by another
// subsystem (spec.md §4.10's mutual exclusion with the dynamic stop
// manager and the exit coordinator's multi-RRR exit).
func (m *Manager) Apply(ctx context.Context, now time.Time, p types.Position, tier Tier, closeVolume decimal.Decimal, timeout time.Duration) (types.OrderResult, bool, error) {
	if !m.tracker.AcquireLease(p.Ticket, position.OwnerScaler, now) {
		return types.OrderResult{}, false, nil
	}
	defer m.tracker.ReleaseLease(p.Ticket, position.OwnerScaler)

	result, err := m.broker.ClosePosition(ctx, p.Ticket, &closeVolume, timeout)
	if err != nil {
		return types.OrderResult{}, false, err
	}
	if err := m.tracker.ApplyPartialClose(p.Ticket, closeVolume); err != nil {
		return result, false, err
	}
	m.markTierConsumed(p.Ticket, tier.Name)
	return result, true, nil
}

// ContinuationWindow reports the configured lookback, so a caller building
// recent bar directions samples the same length the deferral check uses.
func (m *Manager) ContinuationWindow() int { return m.cfg.ContinuationWindow }

func (m *Manager) markTierConsumed(ticket types.Ticket, tierName string) {
	pos, ok := m.tracker.Get(ticket)
	if !ok {
		return
	}
	if pos.TiersConsumed == nil {
		pos.TiersConsumed = make(map[string]bool)
	}
	pos.TiersConsumed[tierName] = true
	m.tracker.Insert(pos)
}

// EmergencyLockTriggered reports whether unrealized profit, as a fraction
// of account balance, has crossed emergency_lock_threshold (spec.md
// §4.10), meaning the deepest untaken tier should execute immediately
// regardless of momentum gating.
func (m *Manager) EmergencyLockTriggered(unrealizedPnL, accountBalance decimal.Decimal) bool {
	if !accountBalance.IsPositive() || m.cfg.EmergencyLockThreshold.IsZero() {
		return false
	}
	return unrealizedPnL.Div(accountBalance).GreaterThanOrEqual(m.cfg.EmergencyLockThreshold)
}

// DeepestUntakenTier returns the highest-RMultiple tier not yet consumed,
// for the emergency lock to execute regardless of whether that tier's own
// RMultiple threshold has been reached.
func (m *Manager) DeepestUntakenTier(p types.Position) (Tier, bool) {
	for i := len(m.cfg.Tiers) - 1; i >= 0; i-- {
		tier := m.cfg.Tiers[i]
		if p.TiersConsumed == nil || !p.TiersConsumed[tier.Name] {
			return tier, true
		}
	}
	return Tier{}, false
}
