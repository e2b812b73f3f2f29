package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

func samplePosition(ticket types.Ticket) types.Position {
	return types.Position{
		Ticket: ticket, Symbol: "TEST", Side: types.SideLong,
		OpenVolume: decimal.NewFromFloat(1), RemainingVolume: decimal.NewFromFloat(1),
		EntryPrice: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(100),
		StopLoss: decimal.NewFromInt(95), State: types.PositionOpen,
	}
}

func TestInsertAndGet(t *testing.T) {
	tr := New(zap.NewNop())
	tr.Insert(samplePosition("T1"))
	p, ok := tr.Get("T1")
	if !ok {
		t.Fatal("expected to find inserted position")
	}
	if p.Symbol != "TEST" {
		t.Fatalf("symbol = %q, want TEST", p.Symbol)
	}
}

func TestLeaseAcquireOrSkip(t *testing.T) {
	tr := New(zap.NewNop())
	now := time.Now()
	if !tr.AcquireLease("T1", OwnerDynStop, now) {
		t.Fatal("expected first acquisition to succeed")
	}
	if tr.AcquireLease("T1", OwnerScaler, now) {
		t.Fatal("expected second owner to be refused while lease held")
	}
	tr.ReleaseLease("T1", OwnerDynStop)
	if !tr.AcquireLease("T1", OwnerScaler, now) {
		t.Fatal("expected acquisition to succeed after release")
	}
}

func TestLeaseExpiresOnDeadline(t *testing.T) {
	tr := New(zap.NewNop())
	now := time.Now()
	tr.AcquireLease("T1", OwnerDynStop, now)
	later := now.Add(defaultLeaseTTL + time.Second)
	if !tr.AcquireLease("T1", OwnerScaler, later) {
		t.Fatal("expected acquisition to succeed once prior lease expired")
	}
}

func TestReconcileClosesUntracked(t *testing.T) {
	tr := New(zap.NewNop())
	tr.Insert(samplePosition("T1"))
	result := tr.Reconcile(nil, time.Now())
	if len(result.Closed) != 1 || result.Closed[0].Ticket != "T1" {
		t.Fatalf("expected T1 closed, got %+v", result.Closed)
	}
	if _, ok := tr.Get("T1"); ok {
		t.Fatal("expected T1 removed from tracker after close reconciliation")
	}
}

func TestReconcileAdoptsUntracked(t *testing.T) {
	tr := New(zap.NewNop())
	broker := samplePosition("T2")
	result := tr.Reconcile([]types.Position{broker}, time.Now())
	if len(result.Adopted) != 1 || result.Adopted[0].Ticket != "T2" {
		t.Fatalf("expected T2 adopted, got %+v", result.Adopted)
	}
}

func TestReconcileServerSLWins(t *testing.T) {
	tr := New(zap.NewNop())
	tr.Insert(samplePosition("T1"))
	brokerView := samplePosition("T1")
	brokerView.StopLoss = decimal.NewFromInt(90)
	tr.Reconcile([]types.Position{brokerView}, time.Now())
	p, _ := tr.Get("T1")
	if p.StopLoss.Cmp(decimal.NewFromInt(90)) != 0 {
		t.Fatalf("stop loss = %v, want server value 90", p.StopLoss)
	}
}

func TestPartialCloseTransitionsState(t *testing.T) {
	tr := New(zap.NewNop())
	tr.Insert(samplePosition("T1"))
	if err := tr.ApplyPartialClose("T1", decimal.NewFromFloat(0.4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := tr.Get("T1")
	if p.State != types.PositionPartiallyClosed {
		t.Fatalf("state = %v, want PARTIALLY_CLOSED", p.State)
	}
	if p.RemainingVolume.Cmp(decimal.NewFromFloat(0.6)) != 0 {
		t.Fatalf("remaining volume = %v, want 0.6", p.RemainingVolume)
	}
}

func TestUnknownTicketTransitionErrors(t *testing.T) {
	tr := New(zap.NewNop())
	if err := tr.BeginModify("ghost"); err == nil {
		t.Fatal("expected error transitioning an unknown ticket")
	}
}
