package indicator

import (
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Snapshot is the newest-bar indicator tuple handed to strategies: every
// computed column by canonical name, plus the friendly aliases (spec.md
// §4.3). Lookups return (0, false) for a column that was never computed.
type Snapshot struct {
	values map[string]float64
}

// Get returns a column's latest value.
func (s Snapshot) Get(column string) (float64, bool) {
	v, ok := s.values[column]
	return v, ok
}

// MustGet returns a column's latest value or a neutral 0 if absent —
// for callers that already know the column was computed (Compute returned
// ready).
func (s Snapshot) MustGet(column string) float64 {
	return s.values[column]
}

// Engine computes a Resolver's requirement set against a BarSeries exactly
// once per iteration and exposes the newest-bar tuple as a Snapshot.
type Engine struct {
	logger *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("indicator")}
}

// Compute evaluates every requirement against series. If series does not
// hold enough history for a requirement, that column is skipped and ready
// is false — per spec.md §4.3 this aborts the signal stage for the
// iteration with a warning, it never panics or returns an error.
func (e *Engine) Compute(series *types.BarSeries, reqs []Requirement) (Snapshot, bool) {
	values := make(map[string]float64)
	ready := true

	closes, highs, lows, vols := columns(series)

	for _, req := range reqs {
		col := req.ColumnName()
		period := req.Params["period"]
		if len(closes) == 0 || (period > 0 && len(closes) < period) {
			e.logger.Warn("insufficient history for indicator, aborting signal stage",
				zap.String("column", col), zap.Int("have", len(closes)), zap.Int("need", period))
			ready = false
			continue
		}

		switch req.Name {
		case "sma":
			series := SMA(closes, period)
			values[col] = last(series)
		case "ema":
			series := EMA(closes, period)
			values[col] = last(series)
		case "rsi":
			series := RSI(closes, period)
			v := last(series)
			values[col] = v
			values["rsi"] = v
		case "atr":
			series := ATR(highs, lows, closes, period)
			v := last(series)
			values[col] = v
			values["atr"] = v
		case "adx":
			res := ADX(highs, lows, closes, period)
			values[col] = last(res.ADX)
			values["adx"] = last(res.ADX)
			values[col+"_plusdi"] = last(res.PlusDI)
			values[col+"_minusdi"] = last(res.MinusDI)
		case "macd":
			res := MACD(closes, req.Params["fast"], req.Params["slow"], req.Params["signal"])
			values[col] = last(res.MACD)
			values[col+"_signal"] = last(res.Signal)
			values[col+"_hist"] = last(res.Hist)
		case "bbands":
			res := BBands(closes, period, bbMult(req.Params))
			values[col+"_upper"] = last(res.Upper)
			values[col+"_middle"] = last(res.Middle)
			values[col+"_lower"] = last(res.Lower)
		case "stochastic":
			res := Stochastic(highs, lows, closes, period, req.Params["d"])
			values[col+"_k"] = last(res.K)
			values[col+"_d"] = last(res.D)
		case "supertrend":
			res := Supertrend(highs, lows, closes, period, stMult(req.Params))
			values[col] = last(res.Value)
			values[col+"_dir"] = float64(lastInt(res.Dir))
		case "vwap":
			series := VWAP(highs, lows, closes, vols, nil)
			values[col] = last(series)
		default:
			e.logger.Warn("unknown indicator requirement", zap.String("name", req.Name))
		}
	}

	return Snapshot{values: values}, ready
}

func bbMult(params map[string]int) float64 {
	if m, ok := params["mult_x10"]; ok {
		return float64(m) / 10
	}
	return 2.0
}

func stMult(params map[string]int) float64 {
	if m, ok := params["mult_x10"]; ok {
		return float64(m) / 10
	}
	return 3.0
}

func columns(series *types.BarSeries) (closes, highs, lows, vols []float64) {
	bars := series.All()
	closes = make([]float64, len(bars))
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	vols = make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
		highs[i] = b.High.InexactFloat64()
		lows[i] = b.Low.InexactFloat64()
		vols[i] = b.Volume.InexactFloat64()
	}
	return
}

func last(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}

func lastInt(v []int) int {
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}
