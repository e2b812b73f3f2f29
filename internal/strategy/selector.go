package strategy

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/regime"
)

// regimeAffinity is the per-strategy affinity table over the five regimes
// (spec.md §4.4), hand-tuned to each strategy's style: trend followers
// favor trending regimes, mean-reversion favors ranging/consolidating,
// scalping favors volatile chop.
var regimeAffinity = map[string]map[regime.Regime]float64{
	"sma_crossover":        {regime.TrendingUp: 0.8, regime.TrendingDown: 0.8, regime.Ranging: 0.3, regime.Volatile: 0.2, regime.Consolidating: 0.2},
	"ema_crossover":        {regime.TrendingUp: 0.85, regime.TrendingDown: 0.85, regime.Ranging: 0.35, regime.Volatile: 0.3, regime.Consolidating: 0.2},
	"momentum_breakout":    {regime.TrendingUp: 0.7, regime.TrendingDown: 0.7, regime.Ranging: 0.2, regime.Volatile: 0.6, regime.Consolidating: 0.1},
	"scalping_ema_rsi":     {regime.TrendingUp: 0.4, regime.TrendingDown: 0.4, regime.Ranging: 0.5, regime.Volatile: 0.75, regime.Consolidating: 0.3},
	"trend_following_adx":  {regime.TrendingUp: 0.9, regime.TrendingDown: 0.9, regime.Ranging: 0.1, regime.Volatile: 0.3, regime.Consolidating: 0.1},
	"mean_reversion_bbrsi": {regime.TrendingUp: 0.15, regime.TrendingDown: 0.15, regime.Ranging: 0.8, regime.Volatile: 0.3, regime.Consolidating: 0.85},
	"rsi_reversal":         {regime.TrendingUp: 0.3, regime.TrendingDown: 0.3, regime.Ranging: 0.6, regime.Volatile: 0.4, regime.Consolidating: 0.6},
}

// Weights are the score-blend coefficients w_perf, w_regime, w_conf
// (spec.md §4.4).
type Weights struct {
	Perf   float64
	Regime float64
	Conf   float64
}

// DefaultWeights returns the spec's recommended blend.
func DefaultWeights() Weights {
	return Weights{Perf: 0.5, Regime: 0.35, Conf: 0.15}
}

// PerformanceTracker supplies a rolling win-rate/profit-factor score per
// strategy, derived from the last N closed trades.
type PerformanceTracker interface {
	Score(strategyName string) float64
}

// Selector picks the active strategy every regime_check_interval seconds
// by weighted score, with an optional bounded fallback chain when the
// selected strategy produces no signal on the current bar.
type Selector struct {
	logger   *zap.Logger
	registry *Registry
	weights  Weights
	confBias map[string]float64

	checkInterval time.Duration
	fallbackK     int

	lastCheck time.Time
	active    string
	ranked    []string
}

// NewSelector constructs a Selector over registry's strategies.
func NewSelector(logger *zap.Logger, registry *Registry, weights Weights, checkInterval time.Duration, fallbackK int) *Selector {
	return &Selector{
		logger:        logger.Named("strategy.selector"),
		registry:      registry,
		weights:       weights,
		confBias:      make(map[string]float64),
		checkInterval: checkInterval,
		fallbackK:     fallbackK,
	}
}

// SetConfidenceBias overrides the configurable prior for a strategy name.
func (sel *Selector) SetConfidenceBias(name string, bias float64) {
	sel.confBias[name] = bias
}

// Reselect re-scores all registered strategies if checkInterval has
// elapsed since the last reselection, and returns the (possibly
// unchanged) active strategy name plus the fallback-ordered ranking.
func (sel *Selector) Reselect(now time.Time, perf PerformanceTracker, current regime.State) (string, []string) {
	if !sel.lastCheck.IsZero() && now.Sub(sel.lastCheck) < sel.checkInterval {
		return sel.active, sel.ranked
	}
	sel.lastCheck = now

	names := sel.registry.Names()
	scores := make(map[string]float64, len(names))
	for _, name := range names {
		perfScore := 0.0
		if perf != nil {
			perfScore = perf.Score(name)
		}
		regimeFit := regimeAffinity[name][current.Current]
		confBias := sel.confBias[name]
		scores[name] = sel.weights.Perf*perfScore + sel.weights.Regime*regimeFit + sel.weights.Conf*confBias
	}

	sort.Slice(names, func(i, j int) bool {
		if scores[names[i]] != scores[names[j]] {
			return scores[names[i]] > scores[names[j]]
		}
		return names[i] < names[j] // deterministic tie-break
	})

	sel.ranked = names
	if len(names) > 0 {
		sel.active = names[0]
	}
	return sel.active, sel.ranked
}

// FallbackChain returns up to K alternates (after the active strategy) to
// consult if the active strategy produces no signal this bar. Returns nil
// if the fallback chain is disabled (fallbackK <= 0).
func (sel *Selector) FallbackChain() []string {
	if sel.fallbackK <= 0 || len(sel.ranked) <= 1 {
		return nil
	}
	end := 1 + sel.fallbackK
	if end > len(sel.ranked) {
		end = len(sel.ranked)
	}
	return sel.ranked[1:end]
}
