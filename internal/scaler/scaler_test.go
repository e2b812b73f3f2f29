package scaler

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

func openPosition() types.Position {
	return types.Position{
		Ticket: "T1", Symbol: "EURUSD", Side: types.SideLong,
		OpenVolume: decimal.NewFromFloat(1), RemainingVolume: decimal.NewFromFloat(1),
		EntryPrice: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(102),
		StopLoss: decimal.NewFromInt(99), State: types.PositionOpen,
	}
}

func TestNextTierSkipsConsumed(t *testing.T) {
	tr := position.New(zap.NewNop())
	m := New(zap.NewNop(), DefaultConfig(), tr, nil)

	p := openPosition() // RMultiple = (102-100)/(100-99) = 2.0
	p.TiersConsumed = map[string]bool{"tier1": true}
	tier, ok := m.nextTier(p)
	if !ok || tier.Name != "tier2" {
		t.Fatalf("expected tier2 next, got %+v ok=%v", tier, ok)
	}
}

func TestEvaluateGatesOnMinBarsInTrade(t *testing.T) {
	tr := position.New(zap.NewNop())
	cfg := DefaultConfig()
	m := New(zap.NewNop(), cfg, tr, nil)

	p := openPosition()
	_, _, ok := m.Evaluate(p, cfg.MinBarsInTrade-1, nil, decimal.NewFromInt(100))
	if ok {
		t.Fatal("expected gate on insufficient bars in trade")
	}
}

func TestEvaluateDefersOnStrongContinuation(t *testing.T) {
	tr := position.New(zap.NewNop())
	cfg := DefaultConfig()
	m := New(zap.NewNop(), cfg, tr, nil)

	p := openPosition()
	recent := []BarDirection{DirUp, DirUp, DirUp, DirUp, DirDown}
	_, _, ok := m.Evaluate(p, cfg.MinBarsInTrade, recent, decimal.NewFromInt(100))
	if ok {
		t.Fatal("expected deferral under strong continuation momentum")
	}
}

func TestEvaluateFiresWhenGatesClear(t *testing.T) {
	tr := position.New(zap.NewNop())
	cfg := DefaultConfig()
	m := New(zap.NewNop(), cfg, tr, nil)

	p := openPosition()
	recent := []BarDirection{DirDown, DirDown, DirUp, DirDown, DirUp}
	tier, vol, ok := m.Evaluate(p, cfg.MinBarsInTrade, recent, decimal.NewFromInt(100))
	if !ok {
		t.Fatal("expected tier scale to fire")
	}
	if tier.Name != "tier1" { // RMultiple 2.0 reaches all three tiers; nothing is consumed, so the lowest (tier1) wins
		t.Fatalf("tier fired = %s, want tier1", tier.Name)
	}
	if vol.IsZero() {
		t.Fatal("expected non-zero close volume")
	}
}

func TestApplySkipsWhenLeaseHeldByDynStop(t *testing.T) {
	tr := position.New(zap.NewNop())
	tr.Insert(openPosition())
	now := time.Now()
	tr.AcquireLease("T1", position.OwnerDynStop, now)

	m := New(zap.NewNop(), DefaultConfig(), tr, nil)
	p, _ := tr.Get("T1")
	_, applied, err := m.Apply(nil, now, p, Tier{Name: "tier1", TakePercent: 0.2}, decimal.NewFromFloat(0.2), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected Apply to skip while dyn-stop holds the lease")
	}
}

func TestEmergencyLockTriggered(t *testing.T) {
	tr := position.New(zap.NewNop())
	cfg := DefaultConfig()
	cfg.EmergencyLockThreshold = decimal.NewFromFloat(0.1)
	m := New(zap.NewNop(), cfg, tr, nil)

	balance := decimal.NewFromInt(1000)
	if !m.EmergencyLockTriggered(decimal.NewFromInt(150), balance) {
		t.Fatal("expected emergency lock to trigger once unrealized profit exceeds the balance fraction")
	}
	if m.EmergencyLockTriggered(decimal.NewFromInt(50), balance) {
		t.Fatal("expected no trigger below the balance fraction threshold")
	}
}

func TestDeepestUntakenTierSkipsConsumed(t *testing.T) {
	tr := position.New(zap.NewNop())
	m := New(zap.NewNop(), DefaultConfig(), tr, nil)

	p := openPosition()
	p.TiersConsumed = map[string]bool{"tier3": true}
	tier, ok := m.DeepestUntakenTier(p)
	if !ok || tier.Name != "tier2" {
		t.Fatalf("expected tier2 as deepest untaken, got %+v ok=%v", tier, ok)
	}
}
