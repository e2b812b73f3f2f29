// Package command implements the control-plane command queue
// (spec.md §5, §8): a bounded, deadline-aware queue serializing manual
// trade requests and control commands from external callers (an RPC
// server, a reconciliation callback) so they never interrupt a trading
// iteration in progress. Commands are drained once, at the start of
// the next iteration. Framing (HTTP, gRPC, whatever transport an
// embedding process chooses) is explicitly out of scope here — this
// package only owns the queue and its rejection semantics.
package command

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-core/internal/coreerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Kind enumerates the spec's fixed command vocabulary.
type Kind string

const (
	KindManualOpen   Kind = "manual-open"
	KindManualClose  Kind = "manual-close"
	KindManualModify Kind = "manual-modify"
	KindPause        Kind = "pause"
	KindResume       Kind = "resume"
	KindShutdown     Kind = "shutdown"
	KindStatus       Kind = "status"
)

// ShutdownMode is the drain policy for a shutdown command.
type ShutdownMode string

const (
	ShutdownGraceful ShutdownMode = "graceful"
	ShutdownDrain    ShutdownMode = "drain"
	ShutdownImmediate ShutdownMode = "immediate"
)

// Command is one request submitted to the queue.
type Command struct {
	ID       string
	Kind     Kind
	Deadline time.Time

	// manual-open
	Symbol string
	Side   types.OrderSide
	Volume decimal.Decimal
	SL     *decimal.Decimal
	TP     *decimal.Decimal
	Reason string

	// manual-close / manual-modify
	Ticket       types.Ticket
	CloseVolume  *decimal.Decimal
	ModifySL     *decimal.Decimal
	ModifyTP     *decimal.Decimal

	// shutdown
	ShutdownMode ShutdownMode
}

// Result is returned to the submitter once a command has been
// processed (or rejected without ever being processed).
type Result struct {
	CommandID string
	Accepted  bool
	Reason    coreerr.CommandRejectCode
	Err       error
}

// RateLimiter is the narrow rate-limiting surface Queue depends on.
type RateLimiter interface {
	Allow(now time.Time) bool
}

// fixedWindowLimiter is a simple fixed-window rate limiter, grounded on
// the teacher's own request-throttling convention (count resets per
// window rather than a leaky/token-bucket scheme) for the command
// channel's documented rate_limit config key.
type fixedWindowLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	windowEnd time.Time
	count     int
}

// NewFixedWindowLimiter constructs a RateLimiter allowing up to limit
// commands per window.
func NewFixedWindowLimiter(limit int, window time.Duration) RateLimiter {
	return &fixedWindowLimiter{limit: limit, window: window}
}

func (l *fixedWindowLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.After(l.windowEnd) {
		l.windowEnd = now.Add(l.window)
		l.count = 0
	}
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}

// Queue is the bounded, single-drain-per-iteration command queue.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []Command
	limiter  RateLimiter
	token    string
}

// Config tunes the queue.
type Config struct {
	Capacity  int
	RateLimit int // commands per second
	Token     string
}

// New constructs a Queue.
func New(cfg Config) *Queue {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 100
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}
	return &Queue{
		capacity: capacity,
		limiter:  NewFixedWindowLimiter(rateLimit, time.Second),
		token:    cfg.Token,
	}
}

// Submit enqueues a command after authenticating its bearer token and
// checking the rate limit. Returns a rejection Result without
// enqueuing on any policy failure; the queue itself never blocks.
func (q *Queue) Submit(cmd Command, bearerToken string, now time.Time) Result {
	if q.token != "" && bearerToken != q.token {
		return Result{CommandID: cmd.ID, Accepted: false, Reason: coreerr.CommandUnauthorized}
	}
	if !q.limiter.Allow(now) {
		return Result{CommandID: cmd.ID, Accepted: false, Reason: coreerr.CommandRateLimited}
	}
	if err := validate(cmd); err != nil {
		return Result{CommandID: cmd.ID, Accepted: false, Reason: coreerr.CommandInvalid, Err: err}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return Result{CommandID: cmd.ID, Accepted: false, Reason: coreerr.CommandBusy}
	}
	q.items = append(q.items, cmd)
	return Result{CommandID: cmd.ID, Accepted: true}
}

// Drain removes and returns every queued command, dropping (and
// reporting via the returned rejections) any whose deadline has
// already passed (spec.md §5: "commands carry a deadline; expired
// commands are dropped and the submitter is notified with a
// rejection").
func (q *Queue) Drain(now time.Time) (accepted []Command, rejected []Result) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, c := range items {
		if !c.Deadline.IsZero() && now.After(c.Deadline) {
			rejected = append(rejected, Result{CommandID: c.ID, Accepted: false, Reason: coreerr.CommandDeadlineExceeded})
			continue
		}
		accepted = append(accepted, c)
	}
	return accepted, rejected
}

// Len reports the number of currently queued (undrained) commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func validate(cmd Command) error {
	switch cmd.Kind {
	case KindManualOpen:
		if cmd.Symbol == "" || cmd.Volume.IsZero() {
			return errInvalid("manual-open requires symbol and non-zero volume")
		}
	case KindManualClose, KindManualModify:
		if cmd.Ticket == "" {
			return errInvalid("manual-close/manual-modify requires a ticket")
		}
	case KindPause, KindResume, KindStatus:
		// no additional fields required
	case KindShutdown:
		switch cmd.ShutdownMode {
		case ShutdownGraceful, ShutdownDrain, ShutdownImmediate:
		default:
			return errInvalid("shutdown requires a valid mode")
		}
	default:
		return errInvalid("unrecognized command kind")
	}
	return nil
}

type invalidCommandError struct{ msg string }

func (e invalidCommandError) Error() string { return e.msg }

func errInvalid(msg string) error { return invalidCommandError{msg: msg} }
