// Package exitcoord implements the Exit Coordinator (spec.md §4.8): a
// priority-ordered list of exit strategies with contextual priority
// reordering, mutual exclusion against the dynamic stop manager and
// profit scaler via mutation lease, and weekend/session exit policy.
package exitcoord

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Strategy evaluates whether a position should exit.
type Strategy interface {
	Name() string
	BasePriority() int
	ShouldExit(ctx EvalContext) *types.ExitSignal
}

// EvalContext bundles everything an exit strategy needs for one position.
type EvalContext struct {
	Position   types.Position
	Bar        types.Bar
	Indicators map[string]float64
	Account    types.AccountSnapshot
	Now        time.Time
}

// Coordinator owns the registered strategies and applies contextual
// priority reordering each iteration.
type Coordinator struct {
	logger         *zap.Logger
	strategies     []Strategy
	tracker        *position.Tracker
	cryptoPrefixes []string // symbol prefixes classified as 24/7, no weekend policy
}

// New constructs a Coordinator holding only the strategies passed in extra;
// NewDefault is the constructor that registers the five canonical ones.
func New(logger *zap.Logger, tracker *position.Tracker, cryptoPrefixes []string, extra ...Strategy) *Coordinator {
	c := &Coordinator{logger: logger.Named("exitcoord"), tracker: tracker, cryptoPrefixes: cryptoPrefixes}
	c.strategies = append(c.strategies, extra...)
	return c
}

// Register adds a strategy.
func (c *Coordinator) Register(s Strategy) { c.strategies = append(c.strategies, s) }

// NewDefault constructs a Coordinator pre-registered with the five
// canonical exit strategies at their spec-documented defaults.
func NewDefault(logger *zap.Logger, tracker *position.Tracker, cryptoPrefixes []string) *Coordinator {
	c := New(logger, tracker, cryptoPrefixes)
	c.Register(AdverseMovement{SigmaMult: 4, Window: 5 * time.Minute})
	c.Register(TrailingStop{ATRMult: 2.0, ActivationR: 0.5})
	c.Register(ProfitTarget{})
	c.Register(TimeBased{MaxAge: 72 * time.Hour, Is247: c.is247, WeekendProtectFrom: time.Hour})
	c.Register(HardStopLoss{})
	return c
}

// is247 classifies a symbol by its configured crypto-root prefix set;
// everything else is treated as a sessioned instrument (spec.md §4.8).
func (c *Coordinator) is247(symbol string) bool {
	for _, prefix := range c.cryptoPrefixes {
		if strings.HasPrefix(symbol, prefix) {
			return true
		}
	}
	return false
}

// Evaluate runs the coordinator for one position: it defers entirely if a
// modifier subsystem holds the mutation lease, otherwise evaluates
// strategies in (contextually reordered) priority order and returns the
// first non-nil ExitSignal.
func (c *Coordinator) Evaluate(ctx EvalContext) *types.ExitSignal {
	if holder, held := c.tracker.LeaseHolder(ctx.Position.Ticket, ctx.Now); held &&
		(holder == position.OwnerDynStop || holder == position.OwnerScaler) {
		return nil // defer one iteration, per spec.md §4.8
	}

	ordered := c.reorder(ctx)
	for _, s := range ordered {
		if sig := s.ShouldExit(ctx); sig != nil {
			sig.Ticket = ctx.Position.Ticket
			sig.Timestamp = ctx.Now
			return sig
		}
	}
	return nil
}

// reorder applies the spec's contextual boosts, then sorts by effective
// priority descending, tie-broken by strategy name ascending for
// determinism.
func (c *Coordinator) reorder(ctx EvalContext) []Strategy {
	type scored struct {
		s        Strategy
		priority int
	}
	scoredList := make([]scored, len(c.strategies))
	for i, s := range c.strategies {
		p := s.BasePriority()
		p += contextualBoost(s.Name(), ctx)
		scoredList[i] = scored{s: s, priority: p}
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].priority != scoredList[j].priority {
			return scoredList[i].priority > scoredList[j].priority
		}
		return scoredList[i].s.Name() < scoredList[j].s.Name()
	})
	out := make([]Strategy, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.s
	}
	return out
}

// contextualBoost implements the spec's three named boosts: volatility
// regime boosts trailing-stop, large unrealized profit boosts
// profit-target, advanced age boosts time-based.
func contextualBoost(name string, ctx EvalContext) int {
	boost := 0
	if name == "trailing_stop" {
		if atr, ok := ctx.Indicators["atr"]; ok && ctx.Bar.Close.InexactFloat64() > 0 {
			relATR := atr / ctx.Bar.Close.InexactFloat64()
			if relATR > 0.02 { // elevated volatility
				boost += 15
			}
		}
	}
	if name == "profit_target" {
		rmult := ctx.Position.RMultiple()
		if rmult.InexactFloat64() >= 2.0 {
			boost += 15
		}
	}
	if name == "time_based" {
		age := ctx.Now.Sub(ctx.Position.OpenedAt)
		if age >= 24*time.Hour {
			boost += 10
		}
	}
	return boost
}
