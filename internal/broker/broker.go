// Package broker defines the capability contract the trading core needs
// from a brokerage terminal (spec.md §4.1), and ships a deterministic
// Simulated implementation used by tests and paper trading. A live adapter
// (transport, authentication, wire protocol) is an external collaborator
// and out of scope for this module — only the contract lives here, mirroring
// the way the teacher's execution.ExchangeAdapter interface stood apart
// from any one exchange's concrete client.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Adapter is the capability set the core depends on. Any implementation —
// live, simulated, or replay — must satisfy it.
type Adapter interface {
	// Connect establishes (or re-establishes) the session. It is
	// idempotent and carries its own internal retry policy.
	Connect(ctx context.Context) error

	// IsConnected is a cheap, non-blocking liveness check.
	IsConnected() bool

	// GetAccount returns the current account snapshot.
	GetAccount(ctx context.Context, timeout time.Duration) (types.AccountSnapshot, error)

	// GetSymbolInfo returns broker-side trading constraints for a symbol.
	GetSymbolInfo(ctx context.Context, symbol string, timeout time.Duration) (types.SymbolInfo, error)

	// GetBars returns the latest count bars, newest last, for
	// (symbol, timeframe). It must complete within timeout or fail.
	GetBars(ctx context.Context, symbol string, tf types.Timeframe, count int, timeout time.Duration) ([]types.Bar, error)

	// GetPositions returns the broker's authoritative view of open
	// positions. An empty symbol returns positions across all symbols.
	GetPositions(ctx context.Context, symbol string, timeout time.Duration) ([]types.Position, error)

	// PlaceOrder submits an order and blocks for its terminal outcome or
	// timeout.
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)

	// ModifyPosition changes SL and/or TP on an open position. At least
	// one of newSL/newTP must be non-nil.
	ModifyPosition(ctx context.Context, ticket types.Ticket, newSL, newTP *decimal.Decimal, timeout time.Duration) error

	// ClosePosition closes volume of the position, or the full remaining
	// volume if volume is nil.
	ClosePosition(ctx context.Context, ticket types.Ticket, volume *decimal.Decimal, timeout time.Duration) (types.OrderResult, error)

	// Spread returns the current spread for a symbol.
	Spread(ctx context.Context, symbol string, timeout time.Duration) (types.Spread, error)

	// ServerTime returns the broker's clock.
	ServerTime(ctx context.Context) (time.Time, error)

	// Shutdown releases the session. Every Connect pairs with a
	// deterministic Shutdown on every exit path, including one driven by
	// the error-rate monitor.
	Shutdown(ctx context.Context) error
}

// DefaultTimeouts are the spec's required explicit per-call timeouts
// (spec.md §5).
type DefaultTimeouts struct {
	Bars      time.Duration
	OrderOps  time.Duration
	AccountOp time.Duration
}

// StandardTimeouts returns the spec's documented defaults.
func StandardTimeouts() DefaultTimeouts {
	return DefaultTimeouts{
		Bars:      30 * time.Second,
		OrderOps:  10 * time.Second,
		AccountOp: 5 * time.Second,
	}
}
