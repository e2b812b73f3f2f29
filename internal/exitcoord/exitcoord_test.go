package exitcoord

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

func TestHardStopLossFiresOnHit(t *testing.T) {
	tr := position.New(zap.NewNop())
	c := NewDefault(zap.NewNop(), tr, []string{"BTC", "ETH"})
	pos := types.Position{
		Ticket: "T1", Symbol: "EURUSD", Side: types.SideLong,
		EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(95),
		ExtremeFavorable: decimal.NewFromInt(100), OpenedAt: time.Now(),
	}
	ctx := EvalContext{Position: pos, Bar: types.Bar{Close: decimal.NewFromInt(94)}, Now: time.Now()}
	sig := c.Evaluate(ctx)
	if sig == nil || sig.Type != types.ExitStopLoss {
		t.Fatalf("expected stop-loss exit, got %+v", sig)
	}
}

func TestLeaseDeferralSkipsEvaluation(t *testing.T) {
	tr := position.New(zap.NewNop())
	c := NewDefault(zap.NewNop(), tr, nil)
	now := time.Now()
	tr.AcquireLease("T1", position.OwnerDynStop, now)
	pos := types.Position{
		Ticket: "T1", Side: types.SideLong,
		EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(95),
		ExtremeFavorable: decimal.NewFromInt(100), OpenedAt: now,
	}
	ctx := EvalContext{Position: pos, Bar: types.Bar{Close: decimal.NewFromInt(90)}, Now: now}
	if sig := c.Evaluate(ctx); sig != nil {
		t.Fatalf("expected deferral while dyn-stop holds lease, got %+v", sig)
	}
}

func TestTimeBasedMaxAgeFires(t *testing.T) {
	tr := position.New(zap.NewNop())
	c := NewDefault(zap.NewNop(), tr, nil)
	opened := time.Now().Add(-100 * time.Hour)
	pos := types.Position{
		Ticket: "T1", Side: types.SideLong,
		EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(50),
		TakeProfit: decimal.NewFromInt(200), ExtremeFavorable: decimal.NewFromInt(100), OpenedAt: opened,
	}
	ctx := EvalContext{Position: pos, Bar: types.Bar{Close: decimal.NewFromInt(101)}, Now: time.Now()}
	sig := c.Evaluate(ctx)
	if sig == nil || sig.Type != types.ExitTimeBased {
		t.Fatalf("expected time-based exit due to max age, got %+v", sig)
	}
}

func TestStopLossFiresWhenItIsTheOnlyMatch(t *testing.T) {
	tr := position.New(zap.NewNop())
	c := NewDefault(zap.NewNop(), tr, nil)
	// stop-loss has the lowest base priority; with no ATR supplied and the
	// take profit far away, every higher-priority strategy abstains, so the
	// stop-loss exit is the one returned.
	pos := types.Position{
		Ticket: "T1", Side: types.SideLong,
		EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(95),
		TakeProfit: decimal.NewFromInt(200), ExtremeFavorable: decimal.NewFromInt(100), OpenedAt: time.Now(),
	}
	ctx := EvalContext{Position: pos, Bar: types.Bar{Close: decimal.NewFromInt(94)}, Now: time.Now()}
	sig := c.Evaluate(ctx)
	if sig == nil || sig.Type != types.ExitStopLoss {
		t.Fatalf("expected stop-loss exit, got %+v", sig)
	}
}
