package eventsink

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestEmitDropsOldestOnOverflow(t *testing.T) {
	b := New(zap.NewNop(), Config{Capacity: 2})
	b.Emit(SignalGenerated, time.Now(), "EURUSD", "", nil)
	b.Emit(SignalGenerated, time.Now(), "EURUSD", "", nil)
	b.Emit(SignalGenerated, time.Now(), "EURUSD", "", nil) // should drop the first

	if len(b.buf) != 2 {
		t.Fatalf("buffer length = %d, want 2", len(b.buf))
	}
	if b.buf[0].Sequence != 2 {
		t.Fatalf("oldest surviving sequence = %d, want 2 (first dropped)", b.buf[0].Sequence)
	}
	if b.GetStats().Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", b.GetStats().Dropped)
	}
}

func TestRunDispatchesToAllSinks(t *testing.T) {
	var mu sync.Mutex
	var seen []Kind
	sink := func(rec Record) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, rec.Kind)
	}

	b := New(zap.NewNop(), DefaultConfig(), sink)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	b.Emit(OrderSent, time.Now(), "EURUSD", "T1", nil)
	b.Emit(OrderFilled, time.Now(), "EURUSD", "T1", nil)

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	b.Stop(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("dispatched %d records, want 2: %+v", len(seen), seen)
	}
}

func TestGetStatsReflectsPublishedAndProcessed(t *testing.T) {
	b := New(zap.NewNop(), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	b.Emit(RiskHalted, time.Now(), "", "", map[string]interface{}{"reason": "drawdown"})
	time.Sleep(10 * time.Millisecond)
	cancel()
	b.Stop(time.Second)

	stats := b.GetStats()
	if stats.Published != 1 {
		t.Fatalf("published = %d, want 1", stats.Published)
	}
	if stats.Processed != 1 {
		t.Fatalf("processed = %d, want 1", stats.Processed)
	}
}
