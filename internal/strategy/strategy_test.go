package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

func bar(close float64, ts time.Time) types.Bar {
	c := decimal.NewFromFloat(close)
	return types.Bar{
		Symbol: "TEST", Timeframe: types.TimeframeM5, Timestamp: ts,
		Open: c, High: c.Add(decimal.NewFromFloat(0.5)), Low: c.Sub(decimal.NewFromFloat(0.5)), Close: c,
		Volume: decimal.NewFromInt(100),
	}
}

func TestSMACrossoverRequiresTwoBars(t *testing.T) {
	logger := zap.NewNop()
	s := NewSMACrossover(logger)
	series := types.NewBarSeries("TEST", types.TimeframeM5, 100)
	b := bar(100, time.Now())
	series.Append(b)
	snap := indicator.Snapshot{}
	sig, err := s.OnBar(b, series, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatal("expected no signal without two prior readings")
	}
}

func TestRegistryCreatesAllSevenStrategies(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	want := []string{
		"sma_crossover", "ema_crossover", "momentum_breakout", "scalping_ema_rsi",
		"trend_following_adx", "mean_reversion_bbrsi", "rsi_reversal",
	}
	for _, name := range want {
		if _, ok := r.Create(name); !ok {
			t.Fatalf("registry missing strategy %q", name)
		}
	}
}

type fakePerf struct{ scores map[string]float64 }

func (f fakePerf) Score(name string) float64 { return f.scores[name] }

func TestSelectorDeterministicTieBreak(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	sel := NewSelector(zap.NewNop(), r, Weights{Perf: 1, Regime: 0, Conf: 0}, time.Minute, 2)
	perf := fakePerf{scores: map[string]float64{}} // all zero, full tie
	active, ranked := sel.Reselect(time.Now(), perf, regime.State{Current: regime.Ranging})
	if len(ranked) != len(r.Names()) {
		t.Fatalf("ranked len = %d, want %d", len(ranked), len(r.Names()))
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i-1] > ranked[i] {
			t.Fatalf("tie-break not sorted: %v", ranked)
		}
	}
	if active != ranked[0] {
		t.Fatalf("active = %q, want ranked[0] = %q", active, ranked[0])
	}
}

func TestSelectorRespectsCheckInterval(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	sel := NewSelector(zap.NewNop(), r, DefaultWeights(), time.Hour, 0)
	now := time.Now()
	first, _ := sel.Reselect(now, nil, regime.State{Current: regime.TrendingUp})
	second, _ := sel.Reselect(now.Add(time.Second), nil, regime.State{Current: regime.Consolidating})
	if first != second {
		t.Fatalf("reselected before check interval elapsed: %q -> %q", first, second)
	}
}

func TestFallbackChainDisabledByDefaultZero(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	sel := NewSelector(zap.NewNop(), r, DefaultWeights(), time.Minute, 0)
	sel.Reselect(time.Now(), nil, regime.State{Current: regime.Ranging})
	if chain := sel.FallbackChain(); chain != nil {
		t.Fatalf("expected nil fallback chain when fallbackK=0, got %v", chain)
	}
}
