package strategy

import (
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// MeanReversionBB signals at Bollinger Band extremes confirmed by RSI,
// targeting reversion to the middle band.
type MeanReversionBB struct {
	Base
}

// NewMeanReversionBB constructs the mean-reversion (Bollinger+RSI) strategy.
func NewMeanReversionBB(logger *zap.Logger) *MeanReversionBB {
	s := &MeanReversionBB{Base: newBase(logger.Named("mean_reversion_bbrsi"))}
	s.register(Parameter{Name: "bb_period", Default: 20, Min: 10, Max: 60, Current: 20})
	s.register(Parameter{Name: "bb_mult_x10", Default: 20, Min: 10, Max: 40, Current: 20})
	s.register(Parameter{Name: "rsi_period", Default: 14, Min: 5, Max: 30, Current: 14})
	s.register(Parameter{Name: "rsi_oversold", Default: 35, Min: 10, Max: 45, Current: 35})
	s.register(Parameter{Name: "rsi_overbought", Default: 65, Min: 55, Max: 90, Current: 65})
	return s
}

func (s *MeanReversionBB) Name() string { return "mean_reversion_bbrsi" }

func (s *MeanReversionBB) Requirements() []indicator.Requirement {
	return []indicator.Requirement{
		{
			Name:       "bbands",
			Params:     map[string]int{"period": intParam(s.params["bb_period"]), "mult_x10": intParam(s.params["bb_mult_x10"])},
			ParamOrder: []string{"period", "mult_x10"},
		},
		{Name: "rsi", Params: map[string]int{"period": intParam(s.params["rsi_period"])}},
	}
}

func (s *MeanReversionBB) Reset() {}

func (s *MeanReversionBB) OnBar(bar types.Bar, series *types.BarSeries, ind indicator.Snapshot) (*types.Signal, error) {
	bbReq := indicator.Requirement{
		Name:       "bbands",
		Params:     map[string]int{"period": intParam(s.params["bb_period"]), "mult_x10": intParam(s.params["bb_mult_x10"])},
		ParamOrder: []string{"period", "mult_x10"},
	}
	col := bbReq.ColumnName()
	upper, ok1 := ind.Get(col + "_upper")
	middle, ok2 := ind.Get(col + "_middle")
	lower, ok3 := ind.Get(col + "_lower")
	rsi, ok4 := ind.Get("rsi")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil
	}

	ref := bar.Close
	refF := ref.InexactFloat64()
	switch {
	case refF <= lower && rsi < s.param("rsi_oversold"):
		confidence := clamp01((s.param("rsi_oversold") - rsi) / s.param("rsi_oversold"))
		return newSignal(bar, types.SideLong, ref, ref.Sub(decFromFloat((middle-lower)*0.5)), decFromFloat(middle), confidence, s.Name(), "price at/below lower band with RSI confirmation"), nil
	case refF >= upper && rsi > s.param("rsi_overbought"):
		confidence := clamp01((rsi - s.param("rsi_overbought")) / (100 - s.param("rsi_overbought")))
		return newSignal(bar, types.SideShort, ref, ref.Add(decFromFloat((upper-middle)*0.5)), decFromFloat(middle), confidence, s.Name(), "price at/above upper band with RSI confirmation"), nil
	}
	return nil, nil
}
