// Package adoption implements the Adoption Manager (spec.md §4.7, §4.11):
// deciding which broker-visible-but-untracked positions come under this
// core's management, and what default protective levels to attach to
// them. Adoption never opens new positions — it only annotates and
// starts managing ones that already exist on the broker.
package adoption

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Config is the adoption policy (spec.md §4.11's config table).
type Config struct {
	Enabled         bool
	Whitelist       []string // symbol prefixes; empty = allow all
	Blacklist       []string // symbol prefixes; checked before whitelist
	MaxAgeHours     float64
	ApplyDefaultSLTP bool
	DefaultSLATRMult float64 // entry - mult*ATR for long, entry + mult*ATR for short
	DefaultTPATRMult float64
}

// DefaultConfig returns the spec's documented defaults (entry ∓ 2·ATR
// stop, ∓ 4·ATR target, per the worked adoption scenario).
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MaxAgeHours:      24,
		ApplyDefaultSLTP: true,
		DefaultSLATRMult: 2,
		DefaultTPATRMult: 4,
	}
}

// SkipReason enumerates why a candidate position was not adopted.
type SkipReason string

const (
	SkipDisabled    SkipReason = "adoption-disabled"
	SkipBlacklisted SkipReason = "blacklisted"
	SkipNotWhitelisted SkipReason = "not-whitelisted"
	SkipTooOld      SkipReason = "exceeds-max-age"
)

// Decision is the outcome of evaluating one adoption candidate.
type Decision struct {
	Position types.Position
	Accepted bool
	Reason   SkipReason
}

// Manager evaluates and applies adoption decisions.
type Manager struct {
	logger  *zap.Logger
	cfg     Config
	tracker *position.Tracker
	broker  broker.Adapter
}

// New constructs a Manager.
func New(logger *zap.Logger, cfg Config, tracker *position.Tracker, adapter broker.Adapter) *Manager {
	return &Manager{logger: logger.Named("adoption"), cfg: cfg, tracker: tracker, broker: adapter}
}

func hasPrefix(symbol string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(symbol, p) {
			return true
		}
	}
	return false
}

// Evaluate applies the whitelist/blacklist/max-age policy to one
// candidate position (spec.md §4.7: "if the adoption policy allows the
// symbol... and the position's age ≤ max_age_hours, adopt it").
func (m *Manager) Evaluate(candidate types.Position, now time.Time) Decision {
	if !m.cfg.Enabled {
		return Decision{Position: candidate, Accepted: false, Reason: SkipDisabled}
	}
	if hasPrefix(candidate.Symbol, m.cfg.Blacklist) {
		return Decision{Position: candidate, Accepted: false, Reason: SkipBlacklisted}
	}
	if len(m.cfg.Whitelist) > 0 && !hasPrefix(candidate.Symbol, m.cfg.Whitelist) {
		return Decision{Position: candidate, Accepted: false, Reason: SkipNotWhitelisted}
	}
	if m.cfg.MaxAgeHours > 0 {
		age := now.Sub(candidate.OpenedAt).Hours()
		if age > m.cfg.MaxAgeHours {
			return Decision{Position: candidate, Accepted: false, Reason: SkipTooOld}
		}
	}
	return Decision{Position: candidate, Accepted: true}
}

// DefaultStops computes the ATR-derived default SL/TP for an adopted
// position (spec.md's worked scenario: entry ∓ 2·ATR stop, ∓ 4·ATR
// target).
func (m *Manager) DefaultStops(p types.Position, atr float64) (sl, tp decimal.Decimal) {
	slDist := decimal.NewFromFloat(m.cfg.DefaultSLATRMult * atr)
	tpDist := decimal.NewFromFloat(m.cfg.DefaultTPATRMult * atr)
	if p.Side == types.SideLong {
		return p.EntryPrice.Sub(slDist), p.EntryPrice.Add(tpDist)
	}
	return p.EntryPrice.Add(slDist), p.EntryPrice.Sub(tpDist)
}

// Apply evaluates every candidate (typically position.Tracker.Reconcile's
// ReconcileResult.Adopted), inserts accepted ones into the tracker with
// adopted=true and no originating signal, and — if ApplyDefaultSLTP —
// issues a modify to attach the computed default SL/TP.
func (m *Manager) Apply(ctx context.Context, now time.Time, candidates []types.Position, atrBySymbol map[string]float64, timeout time.Duration) []Decision {
	decisions := make([]Decision, 0, len(candidates))
	for _, candidate := range candidates {
		decision := m.Evaluate(candidate, now)
		if !decision.Accepted {
			m.logger.Info("adoption skipped", zap.String("symbol", candidate.Symbol), zap.String("ticket", string(candidate.Ticket)), zap.String("reason", string(decision.Reason)))
			decisions = append(decisions, decision)
			continue
		}

		p := candidate
		p.Adopted = true
		p.SignalID = ""
		p.State = types.PositionOpen
		m.tracker.Insert(p)

		if m.cfg.ApplyDefaultSLTP {
			atr, ok := atrBySymbol[p.Symbol]
			if ok && atr > 0 {
				sl, tp := m.DefaultStops(p, atr)
				if err := m.broker.ModifyPosition(ctx, p.Ticket, &sl, &tp, timeout); err != nil {
					m.logger.Warn("adoption default SL/TP modify failed", zap.String("ticket", string(p.Ticket)), zap.Error(err))
				} else {
					_ = m.tracker.EndModify(p.Ticket, &sl, &tp)
				}
			}
		}

		m.logger.Info("adoption accepted", zap.String("symbol", p.Symbol), zap.String("ticket", string(p.Ticket)))
		decisions = append(decisions, decision)
	}
	return decisions
}
