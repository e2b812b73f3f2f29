package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestHardCapOverridesLargeTierConfiguredAt25Percent(t *testing.T) {
	// Regression test for the historical bug: large tier must never reach
	// 25%; the hard cap of 15% always governs.
	cap := tierStopLossCapPct(decimal.NewFromInt(100000), zap.NewNop())
	if cap.GreaterThan(decimal.NewFromFloat(hardStopCapPct)) {
		t.Fatalf("tier cap %v exceeds hard cap %v", cap, hardStopCapPct)
	}
	if cap.Cmp(decimal.NewFromFloat(0.05)) != 0 {
		t.Fatalf("large tier cap = %v, want 0.05", cap)
	}
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		balance float64
		want    string
	}{
		{500, "tiny"}, {1000, "tiny"}, {1001, "small"}, {5000, "small"},
		{5001, "medium"}, {20000, "medium"}, {20001, "large"},
	}
	for _, c := range cases {
		if got := tierName(d(c.balance)); got != c.want {
			t.Errorf("tierName(%v) = %q, want %q", c.balance, got, c.want)
		}
	}
}

func TestAccountHealthRejectsNonPositiveBalance(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	reason, _ := e.checkAccountHealth(types.AccountSnapshot{Balance: decimal.Zero})
	if reason != types.RejectMinimumBalance {
		t.Fatalf("reason = %v, want RejectMinimumBalance", reason)
	}
}

func TestDrawdownHaltRejectsAtThreshold(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	acc := types.AccountSnapshot{PeakBalance: d(10000), Balance: d(7500)} // 25% dd
	reason, _ := e.checkDrawdownHalt(acc)
	if reason != types.RejectDrawdownHalt {
		t.Fatalf("reason = %v, want RejectDrawdownHalt", reason)
	}
}

func TestRiskRewardRejectsBelowMinimum(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	sig := types.Signal{Side: types.SideLong, ReferencePrice: d(100), StopLoss: d(99), TakeProfit: d(100.5)} // RR = 0.5
	reason, _ := e.checkRiskReward(sig)
	if reason != types.RejectRiskReward {
		t.Fatalf("reason = %v, want RejectRiskReward", reason)
	}
}

func TestOppositeDirectionRejectedWithoutHedging(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	existing := []types.Position{{Side: types.SideShort}}
	reason, _ := e.checkOppositeDirection(types.Signal{Side: types.SideLong}, existing)
	if reason != types.RejectOppositeSide {
		t.Fatalf("reason = %v, want RejectOppositeSide", reason)
	}
}

func TestFullEvaluateApprovesHealthySignal(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	in := Input{
		Signal: types.Signal{
			Side: types.SideLong, ReferencePrice: d(100), StopLoss: d(98), TakeProfit: d(105),
			Confidence: d(0.8),
		},
		Account:    types.AccountSnapshot{Balance: d(10000), Equity: d(10000), PeakBalance: d(10000), MarginLevel: d(500)},
		Spread:     types.Spread{Points: d(1), Percent: d(0.0001)},
		SymbolInfo: types.SymbolInfo{VolumeMin: d(0.01), VolumeMax: d(10), VolumeStep: d(0.01), ContractSize: d(100000)},
		Performance: PerformanceInput{RecentWinRate: d(0.5)},
		ServerTime:  time.Now(),
	}
	dec := e.Evaluate(in)
	if !dec.Approved {
		t.Fatalf("expected approval, got rejection: %v %v", dec.Reason, dec.Message)
	}
	if dec.ApprovedVolume.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("expected positive approved volume, got %v", dec.ApprovedVolume)
	}
}

func TestDailyLossLimitRejects(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	now := time.Now()
	e.RecordFill(now, d(-600)) // exceeds default 500 daily loss limit
	reason, _ := e.checkDailyLimits(e.counters, now)
	if reason != types.RejectDailyLoss {
		t.Fatalf("reason = %v, want RejectDailyLoss", reason)
	}
}
