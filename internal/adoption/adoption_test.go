package adoption

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

func candidate(symbol string, openedAt time.Time) types.Position {
	return types.Position{
		Ticket: "T9", Symbol: symbol, Side: types.SideLong,
		EntryPrice: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(101),
		OpenedAt: openedAt, OpenVolume: decimal.NewFromFloat(1), RemainingVolume: decimal.NewFromFloat(1),
	}
}

func TestEvaluateRejectsBlacklisted(t *testing.T) {
	tr := position.New(zap.NewNop())
	cfg := DefaultConfig()
	cfg.Blacklist = []string{"XAU"}
	m := New(zap.NewNop(), cfg, tr, nil)

	d := m.Evaluate(candidate("XAUUSD", time.Now()), time.Now())
	if d.Accepted || d.Reason != SkipBlacklisted {
		t.Fatalf("expected blacklist rejection, got %+v", d)
	}
}

func TestEvaluateRejectsNotWhitelisted(t *testing.T) {
	tr := position.New(zap.NewNop())
	cfg := DefaultConfig()
	cfg.Whitelist = []string{"EUR"}
	m := New(zap.NewNop(), cfg, tr, nil)

	d := m.Evaluate(candidate("GBPUSD", time.Now()), time.Now())
	if d.Accepted || d.Reason != SkipNotWhitelisted {
		t.Fatalf("expected whitelist rejection, got %+v", d)
	}
}

func TestEvaluateRejectsTooOld(t *testing.T) {
	tr := position.New(zap.NewNop())
	cfg := DefaultConfig()
	cfg.MaxAgeHours = 1
	m := New(zap.NewNop(), cfg, tr, nil)

	now := time.Now()
	d := m.Evaluate(candidate("EURUSD", now.Add(-2*time.Hour)), now)
	if d.Accepted || d.Reason != SkipTooOld {
		t.Fatalf("expected max-age rejection, got %+v", d)
	}
}

func TestEvaluateAcceptsWithinPolicy(t *testing.T) {
	tr := position.New(zap.NewNop())
	m := New(zap.NewNop(), DefaultConfig(), tr, nil)

	now := time.Now()
	d := m.Evaluate(candidate("EURUSD", now.Add(-time.Hour)), now)
	if !d.Accepted {
		t.Fatalf("expected acceptance, got %+v", d)
	}
}

func TestDefaultStopsLongIsEntryMinusTwoATRAndPlusFourATR(t *testing.T) {
	tr := position.New(zap.NewNop())
	m := New(zap.NewNop(), DefaultConfig(), tr, nil)

	p := candidate("EURUSD", time.Now())
	sl, tp := m.DefaultStops(p, 1.0)
	if sl.Cmp(decimal.NewFromInt(98)) != 0 {
		t.Fatalf("sl = %v, want entry-2*atr=98", sl)
	}
	if tp.Cmp(decimal.NewFromInt(104)) != 0 {
		t.Fatalf("tp = %v, want entry+4*atr=104", tp)
	}
}

func TestDefaultStopsShortIsSymmetric(t *testing.T) {
	tr := position.New(zap.NewNop())
	m := New(zap.NewNop(), DefaultConfig(), tr, nil)

	p := candidate("EURUSD", time.Now())
	p.Side = types.SideShort
	sl, tp := m.DefaultStops(p, 1.0)
	if sl.Cmp(decimal.NewFromInt(102)) != 0 {
		t.Fatalf("sl = %v, want entry+2*atr=102", sl)
	}
	if tp.Cmp(decimal.NewFromInt(96)) != 0 {
		t.Fatalf("tp = %v, want entry-4*atr=96", tp)
	}
}

func TestApplyInsertsAcceptedIntoTracker(t *testing.T) {
	tr := position.New(zap.NewNop())
	m := New(zap.NewNop(), DefaultConfig(), tr, nil)

	now := time.Now()
	decisions := m.Apply(nil, now, []types.Position{candidate("EURUSD", now.Add(-time.Hour))}, map[string]float64{}, time.Second)
	if len(decisions) != 1 || !decisions[0].Accepted {
		t.Fatalf("expected one accepted decision, got %+v", decisions)
	}
	p, ok := tr.Get("T9")
	if !ok {
		t.Fatal("expected adopted position to be inserted into tracker")
	}
	if !p.Adopted {
		t.Fatal("expected Adopted flag set")
	}
}
