package dynstop

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

func longPosition() types.Position {
	return types.Position{
		Ticket: "T1", Symbol: "EURUSD", Side: types.SideLong,
		EntryPrice:       decimal.NewFromInt(100),
		CurrentPrice:     decimal.NewFromInt(110),
		StopLoss:         decimal.NewFromInt(95),
		ExtremeFavorable: decimal.NewFromInt(110),
		State:            types.PositionOpen,
	}
}

func TestCandidateTightensTowardExtremeForLong(t *testing.T) {
	tr := position.New(zap.NewNop())
	m := New(zap.NewNop(), DefaultConfig(), tr, nil)

	p := longPosition()
	candidate, ok := m.Candidate(p, 2.0, 0, decimal.Zero, decimal.NewFromFloat(0.0001))
	if !ok {
		t.Fatal("expected a trailing-stop candidate to be produced")
	}
	want := p.ExtremeFavorable.Sub(decimal.NewFromFloat(DefaultConfig().ATRMultiple * 2.0))
	if candidate.Cmp(want) != 0 {
		t.Fatalf("candidate = %v, want %v", candidate, want)
	}
	if candidate.LessThanOrEqual(p.StopLoss) == false {
		// trail above current stop is expected in this scenario (improvement)
	}
}

func TestCandidateNeverLoosens(t *testing.T) {
	tr := position.New(zap.NewNop())
	m := New(zap.NewNop(), DefaultConfig(), tr, nil)

	p := longPosition()
	p.StopLoss = decimal.NewFromInt(108) // already tighter than extreme-k*atr would produce
	_, ok := m.Candidate(p, 2.0, 0, decimal.Zero, decimal.NewFromFloat(0.0001))
	if ok {
		t.Fatal("expected no candidate when computed trail would loosen the stop")
	}
}

func TestCandidateRespectsStopsLevelPoints(t *testing.T) {
	tr := position.New(zap.NewNop())
	m := New(zap.NewNop(), DefaultConfig(), tr, nil)

	p := longPosition()
	p.CurrentPrice = decimal.NewFromInt(110)
	// huge stops-level distance forces rejection
	_, ok := m.Candidate(p, 2.0, 0, decimal.NewFromInt(100000), decimal.NewFromFloat(0.0001))
	if ok {
		t.Fatal("expected candidate to be rejected by stops_level_points guard")
	}
}

func TestShrinkFactorFloorsAtMinShrink(t *testing.T) {
	tr := position.New(zap.NewNop())
	cfg := DefaultConfig()
	m := New(zap.NewNop(), cfg, tr, nil)

	full := m.shrinkFactor(0)
	if full != 1 {
		t.Fatalf("shrinkFactor(0) = %v, want 1", full)
	}
	floored := m.shrinkFactor(cfg.DrawdownForMinK * 2)
	if floored != cfg.MinShrinkFactor {
		t.Fatalf("shrinkFactor beyond threshold = %v, want floor %v", floored, cfg.MinShrinkFactor)
	}
}

func TestRunSkipsWhenScalerHoldsLease(t *testing.T) {
	tr := position.New(zap.NewNop())
	tr.Insert(longPosition())
	now := time.Now()
	tr.AcquireLease("T1", position.OwnerScaler, now)

	m := New(zap.NewNop(), DefaultConfig(), tr, nil)
	// Run would panic on a nil broker only if it actually attempts a modify;
	// since the lease is held by the scaler, AcquireLease must fail and Run
	// must skip this ticket without touching the broker.
	m.Run(nil, now, map[string]float64{"EURUSD": 2.0}, 0, map[string]types.SymbolInfo{
		"EURUSD": {Point: decimal.NewFromFloat(0.0001)},
	}, time.Second)

	p, _ := tr.Get("T1")
	if p.StopLoss.Cmp(decimal.NewFromInt(95)) != 0 {
		t.Fatalf("stop loss changed despite lease being held by scaler: %v", p.StopLoss)
	}
}
