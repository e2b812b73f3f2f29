// Package strategy implements the seven required trading strategies
// (spec.md §4.4) plus the dynamic strategy selector. Each strategy exposes
// OnBar(latest_bar, series, indicators) -> Option<Signal> and is stateless
// with respect to the loop: it may cache derived values internally but
// must not assume iteration contiguity, since a reconnect can skip bars.
//
// The Strategy interface, parameter-map shape, and registry pattern are
// generalized from the teacher's StrategyRegistry/BaseStrategy — kept
// almost verbatim in structure, adapted to the indicator-snapshot input
// and types.Signal output this system's pipeline uses instead of the
// teacher's own Signal/OHLCV types.
package strategy

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Strategy is the interface every strategy implementation satisfies.
type Strategy interface {
	Name() string
	Parameters() map[string]Parameter
	SetParameter(name string, value float64) error
	// Requirements returns the indicator requirements this strategy needs
	// computed before OnBar is called.
	Requirements() []indicator.Requirement
	OnBar(bar types.Bar, series *types.BarSeries, ind indicator.Snapshot) (*types.Signal, error)
	Reset()
}

// Parameter describes one tunable strategy parameter.
type Parameter struct {
	Name    string
	Default float64
	Min     float64
	Max     float64
	Current float64
}

// Base provides the parameter bookkeeping shared by every strategy.
type Base struct {
	logger *zap.Logger
	params map[string]Parameter
}

func newBase(logger *zap.Logger) Base {
	return Base{logger: logger, params: make(map[string]Parameter)}
}

func (b *Base) register(p Parameter) {
	b.params[p.Name] = p
}

func (b *Base) param(name string) float64 {
	return b.params[name].Current
}

// Parameters returns the strategy's parameter set.
func (b *Base) Parameters() map[string]Parameter {
	return b.params
}

// SetParameter updates one parameter's current value, clamped to its
// configured [Min, Max].
func (b *Base) SetParameter(name string, value float64) error {
	p, ok := b.params[name]
	if !ok {
		return fmt.Errorf("strategy: unknown parameter %q", name)
	}
	if value < p.Min || value > p.Max {
		return fmt.Errorf("strategy: parameter %q = %v out of range [%v, %v]", name, value, p.Min, p.Max)
	}
	p.Current = value
	b.params[name] = p
	return nil
}

func intParam(p Parameter) int { return int(p.Current) }

// Registry is a name-keyed factory of strategy instances.
type Registry struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	factories  map[string]func() Strategy
}

// NewRegistry constructs a Registry pre-populated with the seven required
// strategies.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger.Named("strategy"), factories: make(map[string]func() Strategy)}
	r.Register("sma_crossover", func() Strategy { return NewSMACrossover(logger) })
	r.Register("ema_crossover", func() Strategy { return NewEMACrossover(logger) })
	r.Register("momentum_breakout", func() Strategy { return NewMomentumBreakout(logger) })
	r.Register("scalping_ema_rsi", func() Strategy { return NewScalpingEMARSI(logger) })
	r.Register("trend_following_adx", func() Strategy { return NewTrendFollowingADX(logger) })
	r.Register("mean_reversion_bbrsi", func() Strategy { return NewMeanReversionBB(logger) })
	r.Register("rsi_reversal", func() Strategy { return NewRSIReversal(logger) })
	return r
}

// Register adds or replaces a named factory.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a strategy by name.
func (r *Registry) Create(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names returns every registered strategy name, for selector enumeration.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

func decFromFloat(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func newSignal(bar types.Bar, side types.OrderSide, ref, sl, tp decimal.Decimal, confidence float64, strategyName, reason string) *types.Signal {
	return &types.Signal{
		Timestamp:      bar.Timestamp,
		Symbol:         bar.Symbol,
		Timeframe:      bar.Timeframe,
		Side:           side,
		ReferencePrice: ref,
		StopLoss:       sl,
		TakeProfit:     tp,
		Confidence:     decimal.NewFromFloat(confidence),
		Strategy:       strategyName,
		Metadata:       map[string]any{"reason": reason},
	}
}
