package command

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-core/internal/coreerr"
)

func TestSubmitRejectsWrongToken(t *testing.T) {
	q := New(Config{Token: "secret"})
	r := q.Submit(Command{ID: "1", Kind: KindPause}, "wrong", time.Now())
	if r.Accepted || r.Reason != coreerr.CommandUnauthorized {
		t.Fatalf("expected unauthorized rejection, got %+v", r)
	}
}

func TestSubmitRejectsInvalidManualOpen(t *testing.T) {
	q := New(Config{})
	r := q.Submit(Command{ID: "1", Kind: KindManualOpen}, "", time.Now())
	if r.Accepted || r.Reason != coreerr.CommandInvalid {
		t.Fatalf("expected invalid rejection for missing symbol/volume, got %+v", r)
	}
}

func TestSubmitAcceptsValidCommand(t *testing.T) {
	q := New(Config{})
	cmd := Command{ID: "1", Kind: KindManualOpen, Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.1)}
	r := q.Submit(cmd, "", time.Now())
	if !r.Accepted {
		t.Fatalf("expected acceptance, got %+v", r)
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	q := New(Config{Capacity: 1})
	cmd := func(id string) Command { return Command{ID: id, Kind: KindPause} }
	if r := q.Submit(cmd("1"), "", time.Now()); !r.Accepted {
		t.Fatalf("expected first command accepted: %+v", r)
	}
	r := q.Submit(cmd("2"), "", time.Now())
	if r.Accepted || r.Reason != coreerr.CommandBusy {
		t.Fatalf("expected busy rejection once capacity is exhausted, got %+v", r)
	}
}

func TestDrainDropsExpiredCommands(t *testing.T) {
	q := New(Config{})
	now := time.Now()
	q.Submit(Command{ID: "1", Kind: KindPause, Deadline: now.Add(-time.Second)}, "", now)
	q.Submit(Command{ID: "2", Kind: KindResume, Deadline: now.Add(time.Hour)}, "", now)

	accepted, rejected := q.Drain(now)
	if len(accepted) != 1 || accepted[0].ID != "2" {
		t.Fatalf("expected only command 2 to survive drain, got %+v", accepted)
	}
	if len(rejected) != 1 || rejected[0].Reason != coreerr.CommandDeadlineExceeded {
		t.Fatalf("expected command 1 rejected as deadline_exceeded, got %+v", rejected)
	}
}

func TestRateLimiterEnforcesFixedWindow(t *testing.T) {
	l := NewFixedWindowLimiter(2, time.Second)
	now := time.Now()
	if !l.Allow(now) || !l.Allow(now) {
		t.Fatal("expected first two calls within the window to succeed")
	}
	if l.Allow(now) {
		t.Fatal("expected third call within the same window to be rate-limited")
	}
	if !l.Allow(now.Add(2 * time.Second)) {
		t.Fatal("expected a call in the next window to succeed")
	}
}

func TestDrainClearsQueue(t *testing.T) {
	q := New(Config{})
	q.Submit(Command{ID: "1", Kind: KindStatus}, "", time.Now())
	q.Drain(time.Now())
	if q.Len() != 0 {
		t.Fatalf("queue length after drain = %d, want 0", q.Len())
	}
}
