package position

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/coreerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// RetryPolicy bounds the retry-then-abandon/escalate semantics for modify
// and close requests (spec.md §4.7).
type RetryPolicy struct {
	ModifyRetries int
	CloseRetries  int
	BaseBackoff   time.Duration
}

// DefaultRetryPolicy returns the spec's documented defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{ModifyRetries: 3, CloseRetries: 5, BaseBackoff: 500 * time.Millisecond}
}

// Modify attempts a modify-SL/TP order against the broker, retrying up to
// policy.ModifyRetries times with exponential backoff. A failed modify
// never changes the tracked lifecycle state; it is abandoned (returns the
// last error) without altering Position.State.
func (t *Tracker) Modify(ctx context.Context, adapter broker.Adapter, policy RetryPolicy, ticket types.Ticket, newSL, newTP *decimal.Decimal, timeout time.Duration, logger *zap.Logger) error {
	if err := t.BeginModify(ticket); err != nil {
		return err
	}

	var lastErr error
	backoff := policy.BaseBackoff
	for attempt := 0; attempt <= policy.ModifyRetries; attempt++ {
		lastErr = adapter.ModifyPosition(ctx, ticket, newSL, newTP, timeout)
		if lastErr == nil {
			return t.EndModify(ticket, newSL, newTP)
		}
		logger.Warn("modify attempt failed", zap.String("ticket", string(ticket)), zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt < policy.ModifyRetries {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = policy.ModifyRetries
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	// abandoned: revert to resting state, the modify never applied
	_ = t.transition(ticket, func(p *types.Position) { p.State = restingState(*p) })
	logger.Error("modify abandoned after exhausting retries", zap.String("ticket", string(ticket)), zap.Error(lastErr))
	return lastErr
}

// Close attempts a close order (full or partial), retrying up to
// policy.CloseRetries times. After exhausting retries, the ticket
// remains CLOSING and the caller must raise an alert — it is not reverted,
// since a close may have partially succeeded broker-side; only the next
// reconciliation or manual intervention can resolve it definitively.
func (t *Tracker) Close(ctx context.Context, adapter broker.Adapter, policy RetryPolicy, ticket types.Ticket, volume *decimal.Decimal, timeout time.Duration, logger *zap.Logger) (types.OrderResult, error) {
	if err := t.BeginClose(ticket); err != nil {
		return types.OrderResult{}, err
	}

	var lastErr error
	var result types.OrderResult
	backoff := policy.BaseBackoff
	for attempt := 0; attempt <= policy.CloseRetries; attempt++ {
		result, lastErr = adapter.ClosePosition(ctx, ticket, volume, timeout)
		if lastErr == nil {
			return result, nil
		}
		logger.Warn("close attempt failed", zap.String("ticket", string(ticket)), zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt < policy.CloseRetries {
			select {
			case <-ctx.Done():
				return types.OrderResult{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	logger.Error("close escalated: retries exhausted, ticket remains CLOSING",
		zap.String("ticket", string(ticket)), zap.Error(lastErr))
	return types.OrderResult{}, wrapFatal(lastErr)
}

func wrapFatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("close escalated: %w: %v", coreerr.ErrBrokerFatal, err)
}
