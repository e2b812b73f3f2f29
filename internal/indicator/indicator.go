// Package indicator implements the core's pure indicator functions: RSI,
// ATR, ADX/DI, MACD, Bollinger Bands, Stochastic, Supertrend, VWAP, SMA and
// EMA (spec.md §4.3). Every function depends only on bars at or before the
// index it reports for (causality), never lets a NaN escape, and guards
// divide-by-a-smoothed-denominator with epsilon.
//
// The style — plain float64 slices aligned to the input, NaN/zero-filled
// before the first full window — is lifted directly from
// chidi150c-coinbase/indicators.go's SMA/RSI/ZScore.
package indicator

import "math"

// epsilon floors any smoothed denominator before a division, matching
// spec.md §4.3's "max(denominator, ε=1e-12)" numeric rule.
const epsilon = 1e-12

func safeDiv(num, den float64) float64 {
	if math.Abs(den) < epsilon {
		den = epsilon
	}
	return num / den
}

// fillNaN replaces a leading run of NaN/garbage with a neutral reading so no
// NaN ever escapes to a caller (spec.md §4.3).
func fillNaN(v, neutral float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return neutral
	}
	return v
}

// SMA returns the n-period simple moving average of closes, aligned to
// closes. Indices before the first full window are NaN-free zeros.
func SMA(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		return out
	}
	var sum float64
	for i := range closes {
		sum += closes[i]
		if i >= n {
			sum -= closes[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// EMA returns the n-period exponential moving average of closes, seeded
// with the first value (so it is defined from index 0, unlike the SMA
// which needs a full window).
func EMA(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		return out
	}
	mult := 2.0 / float64(n+1)
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = (closes[i]-out[i-1])*mult + out[i-1]
	}
	return out
}

// RSI returns the n-period Wilder-smoothed Relative Strength Index, aligned
// to closes. Epsilon-protected against a zero average loss.
func RSI(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		if i <= n {
			avgGain += gain
			avgLoss += loss
			if i == n {
				avgGain /= float64(n)
				avgLoss /= float64(n)
				out[i] = 100 - 100/(1+safeDiv(avgGain, avgLoss))
			}
			continue
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
		out[i] = 100 - 100/(1+safeDiv(avgGain, avgLoss))
	}
	for i := range out {
		out[i] = fillNaN(out[i], 50)
	}
	return out
}

// ATR returns the n-period Wilder (EMA-variant) Average True Range of the
// high/low/close series. Not the SMA variant — spec.md §4.3 requires the
// smoothed form.
func ATR(high, low, close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 0 || len(close) == 0 {
		return out
	}
	tr := trueRange(high, low, close)
	var avg float64
	for i := range tr {
		if i == 0 {
			avg = tr[i]
			out[i] = avg
			continue
		}
		if i < n {
			avg = (avg*float64(i) + tr[i]) / float64(i+1)
		} else {
			avg = (avg*float64(n-1) + tr[i]) / float64(n)
		}
		out[i] = avg
	}
	return out
}

func trueRange(high, low, close []float64) []float64 {
	tr := make([]float64, len(close))
	for i := range close {
		if i == 0 {
			tr[i] = high[i] - low[i]
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// ADXResult holds the directional movement index and its +DI/-DI components.
type ADXResult struct {
	ADX    []float64
	PlusDI []float64
	MinusDI []float64
}

// ADX computes the n-period Average Directional Index with +DI/-DI.
func ADX(high, low, close []float64, n int) ADXResult {
	out := ADXResult{
		ADX:     make([]float64, len(close)),
		PlusDI:  make([]float64, len(close)),
		MinusDI: make([]float64, len(close)),
	}
	if n <= 0 || len(close) < 2 {
		return out
	}
	tr := trueRange(high, low, close)
	plusDM := make([]float64, len(close))
	minusDM := make([]float64, len(close))
	for i := 1; i < len(close); i++ {
		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothedTR := wilderSmooth(tr, n)
	smoothedPlusDM := wilderSmooth(plusDM, n)
	smoothedMinusDM := wilderSmooth(minusDM, n)

	dx := make([]float64, len(close))
	for i := range close {
		out.PlusDI[i] = 100 * safeDiv(smoothedPlusDM[i], smoothedTR[i])
		out.MinusDI[i] = 100 * safeDiv(smoothedMinusDM[i], smoothedTR[i])
		sum := out.PlusDI[i] + out.MinusDI[i]
		dx[i] = 100 * safeDiv(math.Abs(out.PlusDI[i]-out.MinusDI[i]), sum)
	}
	out.ADX = wilderSmooth(dx, n)
	return out
}

func wilderSmooth(series []float64, n int) []float64 {
	out := make([]float64, len(series))
	var avg float64
	for i, v := range series {
		if i == 0 {
			avg = v
		} else if i < n {
			avg = (avg*float64(i) + v) / float64(i+1)
		} else {
			avg = (avg*float64(n-1) + v) / float64(n)
		}
		out[i] = avg
	}
	return out
}

// MACDResult holds the MACD line, signal line, and histogram.
type MACDResult struct {
	MACD   []float64
	Signal []float64
	Hist   []float64
}

// MACD computes MACD(fast, slow) with a signal-period EMA of the MACD line.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(macd, signal)
	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = macd[i] - sig[i]
	}
	return MACDResult{MACD: macd, Signal: sig, Hist: hist}
}

// BBandsResult holds the Bollinger upper/middle/lower bands.
type BBandsResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BBands computes n-period Bollinger Bands at the given std-dev multiplier.
func BBands(closes []float64, n int, mult float64) BBandsResult {
	mid := SMA(closes, n)
	out := BBandsResult{
		Upper:  make([]float64, len(closes)),
		Middle: mid,
		Lower:  make([]float64, len(closes)),
	}
	for i := range closes {
		if i < n-1 {
			continue
		}
		window := closes[i-n+1 : i+1]
		std := stdDev(window, mid[i])
		out.Upper[i] = mid[i] + mult*std
		out.Lower[i] = mid[i] - mult*std
	}
	return out
}

func stdDev(window []float64, mean float64) float64 {
	var sumSq float64
	for _, v := range window {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(window)))
}

// StochasticResult holds %K and %D.
type StochasticResult struct {
	K []float64
	D []float64
}

// Stochastic computes the n-period stochastic oscillator, smoothed over d
// periods for %D.
func Stochastic(high, low, close []float64, n, d int) StochasticResult {
	k := make([]float64, len(close))
	for i := range close {
		if i < n-1 {
			k[i] = 50
			continue
		}
		hh, ll := high[i], low[i]
		for j := i - n + 1; j <= i; j++ {
			if high[j] > hh {
				hh = high[j]
			}
			if low[j] < ll {
				ll = low[j]
			}
		}
		k[i] = 100 * safeDiv(close[i]-ll, hh-ll)
	}
	return StochasticResult{K: k, D: SMA(k, d)}
}

// SupertrendResult holds the Supertrend line and its direction
// (1 = uptrend/support below price, -1 = downtrend/resistance above price).
type SupertrendResult struct {
	Value []float64
	Dir   []int
}

// Supertrend computes the ATR-driven Supertrend indicator.
func Supertrend(high, low, close []float64, atrPeriod int, mult float64) SupertrendResult {
	atr := ATR(high, low, close, atrPeriod)
	out := SupertrendResult{Value: make([]float64, len(close)), Dir: make([]int, len(close))}
	if len(close) == 0 {
		return out
	}
	upperBand := make([]float64, len(close))
	lowerBand := make([]float64, len(close))
	for i := range close {
		mid := (high[i] + low[i]) / 2
		upperBand[i] = mid + mult*atr[i]
		lowerBand[i] = mid - mult*atr[i]
	}
	dir := 1
	finalUpper := upperBand[0]
	finalLower := lowerBand[0]
	for i := range close {
		if i > 0 {
			if upperBand[i] < finalUpper || close[i-1] > finalUpper {
				finalUpper = upperBand[i]
			}
			if lowerBand[i] > finalLower || close[i-1] < finalLower {
				finalLower = lowerBand[i]
			}
			switch dir {
			case 1:
				if close[i] < finalLower {
					dir = -1
				}
			default:
				if close[i] > finalUpper {
					dir = 1
				}
			}
		}
		out.Dir[i] = dir
		if dir == 1 {
			out.Value[i] = finalLower
		} else {
			out.Value[i] = finalUpper
		}
	}
	return out
}

// VWAP computes the session-reset volume-weighted average price. newSession
// marks, per-index, whether a new session begins there (resetting the
// cumulative sums).
func VWAP(high, low, close, volume []float64, newSession []bool) []float64 {
	out := make([]float64, len(close))
	var cumPV, cumVol float64
	for i := range close {
		if i < len(newSession) && newSession[i] {
			cumPV, cumVol = 0, 0
		}
		typical := (high[i] + low[i] + close[i]) / 3
		cumPV += typical * volume[i]
		cumVol += volume[i]
		out[i] = safeDiv(cumPV, cumVol)
	}
	return out
}
