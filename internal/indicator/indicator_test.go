package indicator

import (
	"math"
	"testing"
)

func TestSMACausality(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7}
	full := SMA(closes, 3)
	prefix := SMA(closes[:5], 3)
	for i := range prefix {
		if full[i] != prefix[i] {
			t.Fatalf("SMA not causal at %d: full=%v prefix=%v", i, full[i], prefix[i])
		}
	}
}

func TestRSINoNaN(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10}
	out := RSI(closes, 14)
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("RSI produced non-finite value at %d: %v", i, v)
		}
	}
}

func TestRSIRange(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17}
	out := RSI(closes, 14)
	for i, v := range out {
		if v < 0 || v > 100 {
			t.Fatalf("RSI out of range at %d: %v", i, v)
		}
	}
}

func TestATRNonNegative(t *testing.T) {
	high := []float64{10, 11, 9, 12, 8, 13}
	low := []float64{8, 9, 7, 10, 6, 11}
	close := []float64{9, 10, 8, 11, 7, 12}
	out := ATR(high, low, close, 3)
	for i, v := range out {
		if v < 0 {
			t.Fatalf("ATR negative at %d: %v", i, v)
		}
	}
}

func TestSafeDivEpsilonGuard(t *testing.T) {
	got := safeDiv(1, 0)
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Fatalf("safeDiv(1,0) = %v, want finite", got)
	}
}

func TestBBandsOrdering(t *testing.T) {
	closes := []float64{10, 11, 10, 12, 9, 13, 10, 14, 8, 15}
	out := BBands(closes, 5, 2.0)
	for i := 4; i < len(closes); i++ {
		if out.Upper[i] < out.Middle[i] || out.Middle[i] < out.Lower[i] {
			t.Fatalf("bband ordering violated at %d: upper=%v mid=%v lower=%v", i, out.Upper[i], out.Middle[i], out.Lower[i])
		}
	}
}

func TestResolverColumnNameDeterministic(t *testing.T) {
	r := Requirement{
		Name:       "macd",
		Params:     map[string]int{"fast": 12, "slow": 26, "signal": 9},
		ParamOrder: []string{"fast", "slow", "signal"},
	}
	if got := r.ColumnName(); got != "macd_12_26_9" {
		t.Fatalf("ColumnName() = %q, want macd_12_26_9", got)
	}
}

func TestResolverDedup(t *testing.T) {
	res := NewResolver()
	res.Add(Requirement{Name: "rsi", Params: map[string]int{"period": 14}})
	res.Add(Requirement{Name: "rsi", Params: map[string]int{"period": 14}})
	res.Add(Requirement{Name: "atr", Params: map[string]int{"period": 14}})
	if got := len(res.Requirements()); got != 2 {
		t.Fatalf("Requirements() len = %d, want 2", got)
	}
}

func TestResolverConflictingParamsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on conflicting params for same column name")
		}
	}()
	res := NewResolver()
	res.Add(Requirement{Name: "rsi", Params: map[string]int{"period": 14}})
	res.Add(Requirement{Name: "rsi", Params: map[string]int{"length": 14}})
}
