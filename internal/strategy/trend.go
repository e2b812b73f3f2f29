package strategy

import (
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// SMACrossover signals when a fast SMA crosses a slow SMA.
type SMACrossover struct {
	Base
	prevFast, prevSlow float64
	havePrev           bool
}

// NewSMACrossover constructs the SMA-crossover strategy.
func NewSMACrossover(logger *zap.Logger) *SMACrossover {
	s := &SMACrossover{Base: newBase(logger.Named("sma_crossover"))}
	s.register(Parameter{Name: "fast_period", Default: 10, Min: 3, Max: 50, Current: 10})
	s.register(Parameter{Name: "slow_period", Default: 30, Min: 10, Max: 200, Current: 30})
	s.register(Parameter{Name: "sl_atr_mult", Default: 1.5, Min: 0.5, Max: 5, Current: 1.5})
	s.register(Parameter{Name: "tp_atr_mult", Default: 3.0, Min: 0.5, Max: 10, Current: 3.0})
	return s
}

func (s *SMACrossover) Name() string { return "sma_crossover" }

func (s *SMACrossover) Requirements() []indicator.Requirement {
	return []indicator.Requirement{
		{Name: "sma", Params: map[string]int{"period": intParam(s.params["fast_period"])}},
		{Name: "sma", Params: map[string]int{"period": intParam(s.params["slow_period"])}},
		{Name: "atr", Params: map[string]int{"period": 14}},
	}
}

func (s *SMACrossover) Reset() { s.havePrev = false }

func (s *SMACrossover) OnBar(bar types.Bar, series *types.BarSeries, ind indicator.Snapshot) (*types.Signal, error) {
	fastCol := indicator.Requirement{Name: "sma", Params: map[string]int{"period": intParam(s.params["fast_period"])}}.ColumnName()
	slowCol := indicator.Requirement{Name: "sma", Params: map[string]int{"period": intParam(s.params["slow_period"])}}.ColumnName()
	fast, ok1 := ind.Get(fastCol)
	slow, ok2 := ind.Get(slowCol)
	atr, ok3 := ind.Get("atr")
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	defer func() { s.prevFast, s.prevSlow, s.havePrev = fast, slow, true }()
	if !s.havePrev {
		return nil, nil
	}

	ref := bar.Close
	crossedUp := s.prevFast <= s.prevSlow && fast > slow
	crossedDown := s.prevFast >= s.prevSlow && fast < slow

	switch {
	case crossedUp:
		sl := ref.Sub(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Add(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideLong, ref, sl, tp, 0.6, s.Name(), "fast SMA crossed above slow SMA"), nil
	case crossedDown:
		sl := ref.Add(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Sub(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideShort, ref, sl, tp, 0.6, s.Name(), "fast SMA crossed below slow SMA"), nil
	}
	return nil, nil
}

// EMACrossover signals when a fast EMA crosses a slow EMA — more responsive
// than the SMA variant since EMA weights recent bars more heavily.
type EMACrossover struct {
	Base
	prevFast, prevSlow float64
	havePrev           bool
}

// NewEMACrossover constructs the EMA-crossover strategy.
func NewEMACrossover(logger *zap.Logger) *EMACrossover {
	s := &EMACrossover{Base: newBase(logger.Named("ema_crossover"))}
	s.register(Parameter{Name: "fast_period", Default: 8, Min: 2, Max: 50, Current: 8})
	s.register(Parameter{Name: "slow_period", Default: 21, Min: 5, Max: 200, Current: 21})
	s.register(Parameter{Name: "sl_atr_mult", Default: 1.5, Min: 0.5, Max: 5, Current: 1.5})
	s.register(Parameter{Name: "tp_atr_mult", Default: 2.5, Min: 0.5, Max: 10, Current: 2.5})
	return s
}

func (s *EMACrossover) Name() string { return "ema_crossover" }

func (s *EMACrossover) Requirements() []indicator.Requirement {
	return []indicator.Requirement{
		{Name: "ema", Params: map[string]int{"period": intParam(s.params["fast_period"])}},
		{Name: "ema", Params: map[string]int{"period": intParam(s.params["slow_period"])}},
		{Name: "atr", Params: map[string]int{"period": 14}},
	}
}

func (s *EMACrossover) Reset() { s.havePrev = false }

func (s *EMACrossover) OnBar(bar types.Bar, series *types.BarSeries, ind indicator.Snapshot) (*types.Signal, error) {
	fastCol := indicator.Requirement{Name: "ema", Params: map[string]int{"period": intParam(s.params["fast_period"])}}.ColumnName()
	slowCol := indicator.Requirement{Name: "ema", Params: map[string]int{"period": intParam(s.params["slow_period"])}}.ColumnName()
	fast, ok1 := ind.Get(fastCol)
	slow, ok2 := ind.Get(slowCol)
	atr, ok3 := ind.Get("atr")
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}
	defer func() { s.prevFast, s.prevSlow, s.havePrev = fast, slow, true }()
	if !s.havePrev {
		return nil, nil
	}

	ref := bar.Close
	crossedUp := s.prevFast <= s.prevSlow && fast > slow
	crossedDown := s.prevFast >= s.prevSlow && fast < slow

	switch {
	case crossedUp:
		sl := ref.Sub(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Add(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideLong, ref, sl, tp, 0.62, s.Name(), "fast EMA crossed above slow EMA"), nil
	case crossedDown:
		sl := ref.Add(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Sub(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideShort, ref, sl, tp, 0.62, s.Name(), "fast EMA crossed below slow EMA"), nil
	}
	return nil, nil
}

// TrendFollowingADX only trades in the direction of +DI/-DI dominance, and
// only once ADX confirms a trend is actually present.
type TrendFollowingADX struct {
	Base
}

// NewTrendFollowingADX constructs the ADX-gated trend-following strategy.
func NewTrendFollowingADX(logger *zap.Logger) *TrendFollowingADX {
	s := &TrendFollowingADX{Base: newBase(logger.Named("trend_following_adx"))}
	s.register(Parameter{Name: "adx_period", Default: 14, Min: 5, Max: 50, Current: 14})
	s.register(Parameter{Name: "adx_threshold", Default: 25, Min: 10, Max: 60, Current: 25})
	s.register(Parameter{Name: "sl_atr_mult", Default: 2.0, Min: 0.5, Max: 5, Current: 2.0})
	s.register(Parameter{Name: "tp_atr_mult", Default: 4.0, Min: 1, Max: 10, Current: 4.0})
	return s
}

func (s *TrendFollowingADX) Name() string { return "trend_following_adx" }

func (s *TrendFollowingADX) Requirements() []indicator.Requirement {
	period := intParam(s.params["adx_period"])
	return []indicator.Requirement{
		{Name: "adx", Params: map[string]int{"period": period}},
		{Name: "atr", Params: map[string]int{"period": 14}},
	}
}

func (s *TrendFollowingADX) Reset() {}

func (s *TrendFollowingADX) OnBar(bar types.Bar, series *types.BarSeries, ind indicator.Snapshot) (*types.Signal, error) {
	period := intParam(s.params["adx_period"])
	col := indicator.Requirement{Name: "adx", Params: map[string]int{"period": period}}.ColumnName()
	adx, ok1 := ind.Get(col)
	plusDI, ok2 := ind.Get(col + "_plusdi")
	minusDI, ok3 := ind.Get(col + "_minusdi")
	atr, ok4 := ind.Get("atr")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil
	}
	if adx < s.param("adx_threshold") {
		return nil, nil
	}

	ref := bar.Close
	confidence := clamp01((adx - s.param("adx_threshold")) / 50)
	switch {
	case plusDI > minusDI:
		sl := ref.Sub(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Add(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideLong, ref, sl, tp, confidence, s.Name(), "ADX confirms uptrend, +DI dominant"), nil
	case minusDI > plusDI:
		sl := ref.Add(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Sub(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideShort, ref, sl, tp, confidence, s.Name(), "ADX confirms downtrend, -DI dominant"), nil
	}
	return nil, nil
}
