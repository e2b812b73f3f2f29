package strategy

import (
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// MomentumBreakout signals when the close breaks the highest high / lowest
// low of the lookback window.
type MomentumBreakout struct {
	Base
}

// NewMomentumBreakout constructs the momentum-breakout strategy.
func NewMomentumBreakout(logger *zap.Logger) *MomentumBreakout {
	s := &MomentumBreakout{Base: newBase(logger.Named("momentum_breakout"))}
	s.register(Parameter{Name: "lookback", Default: 20, Min: 5, Max: 100, Current: 20})
	s.register(Parameter{Name: "sl_atr_mult", Default: 1.5, Min: 0.5, Max: 5, Current: 1.5})
	s.register(Parameter{Name: "tp_atr_mult", Default: 3.0, Min: 0.5, Max: 10, Current: 3.0})
	return s
}

func (s *MomentumBreakout) Name() string { return "momentum_breakout" }

func (s *MomentumBreakout) Requirements() []indicator.Requirement {
	return []indicator.Requirement{{Name: "atr", Params: map[string]int{"period": 14}}}
}

func (s *MomentumBreakout) Reset() {}

func (s *MomentumBreakout) OnBar(bar types.Bar, series *types.BarSeries, ind indicator.Snapshot) (*types.Signal, error) {
	lookback := intParam(s.params["lookback"])
	atr, ok := ind.Get("atr")
	if !ok || series.Len() <= lookback {
		return nil, nil
	}
	bars := series.All()
	window := bars[len(bars)-1-lookback : len(bars)-1]
	highest, lowest := window[0].High, window[0].Low
	for _, b := range window {
		if b.High.GreaterThan(highest) {
			highest = b.High
		}
		if b.Low.LessThan(lowest) {
			lowest = b.Low
		}
	}

	ref := bar.Close
	switch {
	case ref.GreaterThan(highest):
		sl := ref.Sub(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Add(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideLong, ref, sl, tp, 0.65, s.Name(), "close broke above lookback high"), nil
	case ref.LessThan(lowest):
		sl := ref.Add(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Sub(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideShort, ref, sl, tp, 0.65, s.Name(), "close broke below lookback low"), nil
	}
	return nil, nil
}

// ScalpingEMARSI trades fast pullback-into-trend entries on a tight
// timeframe: price above/below a fast EMA with RSI recovering from an
// extreme in the trend direction.
type ScalpingEMARSI struct {
	Base
}

// NewScalpingEMARSI constructs the scalping strategy.
func NewScalpingEMARSI(logger *zap.Logger) *ScalpingEMARSI {
	s := &ScalpingEMARSI{Base: newBase(logger.Named("scalping_ema_rsi"))}
	s.register(Parameter{Name: "ema_period", Default: 9, Min: 3, Max: 30, Current: 9})
	s.register(Parameter{Name: "rsi_period", Default: 7, Min: 3, Max: 30, Current: 7})
	s.register(Parameter{Name: "rsi_oversold", Default: 30, Min: 10, Max: 40, Current: 30})
	s.register(Parameter{Name: "rsi_overbought", Default: 70, Min: 60, Max: 90, Current: 70})
	s.register(Parameter{Name: "sl_atr_mult", Default: 1.0, Min: 0.25, Max: 3, Current: 1.0})
	s.register(Parameter{Name: "tp_atr_mult", Default: 1.5, Min: 0.25, Max: 5, Current: 1.5})
	return s
}

func (s *ScalpingEMARSI) Name() string { return "scalping_ema_rsi" }

func (s *ScalpingEMARSI) Requirements() []indicator.Requirement {
	return []indicator.Requirement{
		{Name: "ema", Params: map[string]int{"period": intParam(s.params["ema_period"])}},
		{Name: "rsi", Params: map[string]int{"period": intParam(s.params["rsi_period"])}},
		{Name: "atr", Params: map[string]int{"period": 14}},
	}
}

func (s *ScalpingEMARSI) Reset() {}

func (s *ScalpingEMARSI) OnBar(bar types.Bar, series *types.BarSeries, ind indicator.Snapshot) (*types.Signal, error) {
	emaCol := indicator.Requirement{Name: "ema", Params: map[string]int{"period": intParam(s.params["ema_period"])}}.ColumnName()
	ema, ok1 := ind.Get(emaCol)
	rsi, ok2 := ind.Get("rsi")
	atr, ok3 := ind.Get("atr")
	if !ok1 || !ok2 || !ok3 {
		return nil, nil
	}

	ref := bar.Close
	refF := ref.InexactFloat64()
	switch {
	case refF > ema && rsi < s.param("rsi_oversold"):
		sl := ref.Sub(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Add(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideLong, ref, sl, tp, 0.5, s.Name(), "above fast EMA with RSI oversold recovery"), nil
	case refF < ema && rsi > s.param("rsi_overbought"):
		sl := ref.Add(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Sub(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideShort, ref, sl, tp, 0.5, s.Name(), "below fast EMA with RSI overbought rollover"), nil
	}
	return nil, nil
}

// RSIReversal is a pure extreme-recovery strategy: it signals only on the
// bar RSI crosses back out of an extreme, independent of trend context.
type RSIReversal struct {
	Base
	prevRSI  float64
	havePrev bool
}

// NewRSIReversal constructs the RSI-reversal strategy.
func NewRSIReversal(logger *zap.Logger) *RSIReversal {
	s := &RSIReversal{Base: newBase(logger.Named("rsi_reversal"))}
	s.register(Parameter{Name: "rsi_period", Default: 14, Min: 5, Max: 30, Current: 14})
	s.register(Parameter{Name: "oversold", Default: 30, Min: 10, Max: 40, Current: 30})
	s.register(Parameter{Name: "overbought", Default: 70, Min: 60, Max: 90, Current: 70})
	s.register(Parameter{Name: "sl_atr_mult", Default: 1.5, Min: 0.5, Max: 5, Current: 1.5})
	s.register(Parameter{Name: "tp_atr_mult", Default: 2.0, Min: 0.5, Max: 6, Current: 2.0})
	return s
}

func (s *RSIReversal) Name() string { return "rsi_reversal" }

func (s *RSIReversal) Requirements() []indicator.Requirement {
	return []indicator.Requirement{
		{Name: "rsi", Params: map[string]int{"period": intParam(s.params["rsi_period"])}},
		{Name: "atr", Params: map[string]int{"period": 14}},
	}
}

func (s *RSIReversal) Reset() { s.havePrev = false }

func (s *RSIReversal) OnBar(bar types.Bar, series *types.BarSeries, ind indicator.Snapshot) (*types.Signal, error) {
	rsi, ok1 := ind.Get("rsi")
	atr, ok2 := ind.Get("atr")
	if !ok1 || !ok2 {
		return nil, nil
	}
	defer func() { s.prevRSI, s.havePrev = rsi, true }()
	if !s.havePrev {
		return nil, nil
	}

	ref := bar.Close
	switch {
	case s.prevRSI < s.param("oversold") && rsi >= s.param("oversold"):
		sl := ref.Sub(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Add(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideLong, ref, sl, tp, 0.55, s.Name(), "RSI crossed back out of oversold"), nil
	case s.prevRSI > s.param("overbought") && rsi <= s.param("overbought"):
		sl := ref.Add(decFromFloat(atr * s.param("sl_atr_mult")))
		tp := ref.Sub(decFromFloat(atr * s.param("tp_atr_mult")))
		return newSignal(bar, types.SideShort, ref, sl, tp, 0.55, s.Name(), "RSI crossed back out of overbought"), nil
	}
	return nil, nil
}
