package confluence

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		overall float64
		want    types.ConfluenceQuality
	}{
		{90, types.QualityPremium},
		{85, types.QualityPremium},
		{75, types.QualityGood},
		{70, types.QualityGood},
		{55, types.QualityMarginal},
		{50, types.QualityMarginal},
		{35, types.QualityPoor},
		{30, types.QualityPoor},
		{10, types.QualityReject},
	}
	for _, c := range cases {
		got, _ := classify(c.overall)
		if got != c.want {
			t.Errorf("classify(%v) = %v, want %v", c.overall, got, c.want)
		}
	}
}

func TestQueueBoundedDropsOldest(t *testing.T) {
	q := newPendingQueue(2)
	q.add(pendingEntry{signal: types.Signal{ID: "a"}, optimalEntry: decimal.NewFromInt(100)})
	q.add(pendingEntry{signal: types.Signal{ID: "b"}, optimalEntry: decimal.NewFromInt(100)})
	q.add(pendingEntry{signal: types.Signal{ID: "c"}, optimalEntry: decimal.NewFromInt(100)})
	if q.len() != 2 {
		t.Fatalf("len = %d, want 2", q.len())
	}
	if _, ok := q.entries["a"]; ok {
		t.Fatal("expected oldest entry 'a' to have been dropped")
	}
}

func TestQueueIdempotentReregistration(t *testing.T) {
	q := newPendingQueue(5)
	q.add(pendingEntry{signal: types.Signal{ID: "a"}, optimalEntry: decimal.NewFromInt(100)})
	q.add(pendingEntry{signal: types.Signal{ID: "a"}, optimalEntry: decimal.NewFromInt(105)})
	if q.len() != 1 {
		t.Fatalf("len = %d, want 1 after re-registering same id", q.len())
	}
	if q.entries["a"].optimalEntry.Cmp(decimal.NewFromInt(105)) != 0 {
		t.Fatal("expected re-registration to replace the stored entry")
	}
}

func TestQueueExpiresAfterMaxWaitBars(t *testing.T) {
	q := newPendingQueue(5)
	q.add(pendingEntry{signal: types.Signal{ID: "a"}, optimalEntry: decimal.NewFromInt(50), queuedAtBar: 0})
	ready := q.check(decimal.NewFromInt(999), 20, 10)
	if len(ready) != 0 {
		t.Fatal("expected no ready signals")
	}
	if q.len() != 0 {
		t.Fatal("expected expired entry to be dropped")
	}
}

func TestQueueTouchDetectionLong(t *testing.T) {
	q := newPendingQueue(5)
	sig := types.Signal{ID: "a", Side: types.SideLong}
	q.add(pendingEntry{signal: sig, optimalEntry: decimal.NewFromInt(100), queuedAtBar: 0})
	ready := q.check(decimal.NewFromInt(99), 1, 10)
	if len(ready) != 1 {
		t.Fatal("expected long signal ready once price touches/crosses below optimal entry")
	}
}

func TestGateAdmitStrictModeQueuesMarginal(t *testing.T) {
	g := New(zap.NewNop(), DefaultConfig())
	sig := types.Signal{ID: "s1"}
	res := types.EntryConfluenceResult{Quality: types.QualityMarginal}
	opt := decimal.NewFromInt(100)
	execute, queued := g.Admit(sig, res, &opt, 0)
	if execute {
		t.Fatal("MARGINAL must never execute immediately in strict mode")
	}
	if !queued {
		t.Fatal("expected MARGINAL with an optimal entry to queue")
	}
}

func TestGateAdmitRejectDiscards(t *testing.T) {
	g := New(zap.NewNop(), DefaultConfig())
	sig := types.Signal{ID: "s2"}
	res := types.EntryConfluenceResult{Quality: types.QualityReject}
	opt := decimal.NewFromInt(100)
	execute, queued := g.Admit(sig, res, &opt, 0)
	if execute || queued {
		t.Fatal("REJECT must always be discarded")
	}
}
