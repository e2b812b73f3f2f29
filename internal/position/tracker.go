// Package position implements the Position Tracker and Lifecycle
// (spec.md §4.7): the authoritative in-memory ticket -> Position mapping,
// its per-ticket mutation lease, lifecycle transitions, and reconciliation
// against the broker's view.
//
// The arena-plus-index shape — the tracker owns the map, other subsystems
// hold a Ticket and acquire a Lease to mutate — generalizes the teacher's
// direct pointer-sharing map[string]*Position in its Portfolio type into
// an exclusive-access model, since this spec requires several concurrent
// modifier subsystems (dynamic stop, profit scaler, exit coordinator) to
// never race on the same position.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/internal/coreerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// LeaseOwner identifies who currently holds a ticket's mutation lease.
type LeaseOwner string

const (
	OwnerDynStop    LeaseOwner = "dyn-stop"
	OwnerScaler     LeaseOwner = "profit-scaler"
	OwnerExitCoord  LeaseOwner = "exit-coord"
	OwnerCommandQ   LeaseOwner = "command-queue"
)

const defaultLeaseTTL = 10 * time.Second

// Lease grants exclusive mutation rights over one ticket to one owner
// until Deadline.
type Lease struct {
	Ticket   types.Ticket
	Owner    LeaseOwner
	Deadline time.Time
}

// Tracker owns the authoritative ticket -> Position map.
type Tracker struct {
	logger *zap.Logger

	mu        sync.Mutex
	positions map[types.Ticket]*types.Position
	leases    map[types.Ticket]Lease
}

// New constructs an empty Tracker.
func New(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger:    logger.Named("position.tracker"),
		positions: make(map[types.Ticket]*types.Position),
		leases:    make(map[types.Ticket]Lease),
	}
}

// Insert adds a new position, e.g. after a confirmed fill or an adoption.
func (t *Tracker) Insert(p types.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := p
	t.positions[p.Ticket] = &cp
}

// Get returns a read-only copy of a tracked position.
func (t *Tracker) Get(ticket types.Ticket) (types.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[ticket]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// Snapshot returns a read-only copy of every tracked position, for
// external readers (RPC status queries, metrics) per spec.md §5.
func (t *Tracker) Snapshot() []types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// AcquireLease attempts to grant the ticket's mutation lease to owner.
// Acquire-or-skip: if another owner already holds an unexpired lease,
// this returns false immediately — callers must never wait (spec.md §5).
func (t *Tracker) AcquireLease(ticket types.Ticket, owner LeaseOwner, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.leases[ticket]; ok && existing.Owner != owner && now.Before(existing.Deadline) {
		return false
	}
	t.leases[ticket] = Lease{Ticket: ticket, Owner: owner, Deadline: now.Add(defaultLeaseTTL)}
	return true
}

// ReleaseLease frees the lease if owner currently holds it.
func (t *Tracker) ReleaseLease(ticket types.Ticket, owner LeaseOwner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.leases[ticket]; ok && existing.Owner == owner {
		delete(t.leases, ticket)
	}
}

// LeaseHolder reports the current lease holder, if any unexpired lease
// exists.
func (t *Tracker) LeaseHolder(ticket types.Ticket, now time.Time) (LeaseOwner, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[ticket]
	if !ok || !now.Before(l.Deadline) {
		return "", false
	}
	return l.Owner, true
}

// expireLeasesLocked drops any lease past its deadline. Caller must hold
// t.mu.
func (t *Tracker) expireLeasesLocked(now time.Time) {
	for ticket, l := range t.leases {
		if !now.Before(l.Deadline) {
			delete(t.leases, ticket)
		}
	}
}

// transition applies fn to the tracked position under the tracker's lock,
// and is the only way lifecycle state changes.
func (t *Tracker) transition(ticket types.Ticket, fn func(*types.Position)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[ticket]
	if !ok {
		return fmt.Errorf("position: unknown ticket %s: %w", ticket, coreerr.ErrInvariantViolation)
	}
	fn(p)
	return nil
}

// BeginModify marks a position MODIFYING, the state a broker-bound
// modify-SL/TP request occupies while in flight.
func (t *Tracker) BeginModify(ticket types.Ticket) error {
	return t.transition(ticket, func(p *types.Position) { p.State = types.PositionModifying })
}

// EndModify returns a position from MODIFYING back to its resting state
// (OPEN, or PARTIALLY_CLOSED if remaining_volume < open_volume).
func (t *Tracker) EndModify(ticket types.Ticket, newSL, newTP *decimal.Decimal) error {
	return t.transition(ticket, func(p *types.Position) {
		if newSL != nil {
			p.StopLoss = *newSL
		}
		if newTP != nil {
			p.TakeProfit = *newTP
		}
		p.State = restingState(*p)
	})
}

// ApplyPartialClose records a partial close's fill and transitions the
// position to PARTIALLY_CLOSED.
func (t *Tracker) ApplyPartialClose(ticket types.Ticket, closedVolume decimal.Decimal) error {
	return t.transition(ticket, func(p *types.Position) {
		p.RemainingVolume = p.RemainingVolume.Sub(closedVolume)
		if p.TiersConsumed == nil {
			p.TiersConsumed = make(map[string]bool)
		}
		p.State = restingState(*p)
	})
}

// BeginClose marks a position CLOSING, the state a full-close request
// occupies while in flight.
func (t *Tracker) BeginClose(ticket types.Ticket) error {
	return t.transition(ticket, func(p *types.Position) { p.State = types.PositionClosing })
}

// MarkClosed transitions a position to CLOSED once reconciliation
// confirms it is absent from the broker, and removes it from the tracker.
func (t *Tracker) MarkClosed(ticket types.Ticket) (types.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[ticket]
	if !ok {
		return types.Position{}, false
	}
	p.State = types.PositionClosed
	closed := *p
	delete(t.positions, ticket)
	delete(t.leases, ticket)
	return closed, true
}

func restingState(p types.Position) types.PositionState {
	if p.RemainingVolume.LessThan(p.OpenVolume) {
		return types.PositionPartiallyClosed
	}
	return types.PositionOpen
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Adopted []types.Position // broker positions not previously tracked
	Closed  []types.Position // tracked positions absent from the broker
}

// Reconcile compares the tracker's tickets against the broker's
// authoritative view (spec.md §4.7). Broker-but-not-tracked positions are
// returned for the Adoption Manager to decide on; tracked-but-not-broker
// positions transition to CLOSED; both-present positions have their
// current price, unrealized P&L and server-side SL/TP refreshed — server
// values always win over the tracker's desired values if they differ.
func (t *Tracker) Reconcile(brokerPositions []types.Position, now time.Time) ReconcileResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLeasesLocked(now)

	byTicket := make(map[types.Ticket]types.Position, len(brokerPositions))
	for _, bp := range brokerPositions {
		byTicket[bp.Ticket] = bp
	}

	var result ReconcileResult
	for ticket, tracked := range t.positions {
		bp, onBroker := byTicket[ticket]
		if !onBroker {
			tracked.State = types.PositionClosed
			result.Closed = append(result.Closed, *tracked)
			delete(t.positions, ticket)
			delete(t.leases, ticket)
			continue
		}
		tracked.CurrentPrice = bp.CurrentPrice
		tracked.UnrealizedPnL = bp.UnrealizedPnL
		tracked.StopLoss = bp.StopLoss // server always wins
		tracked.TakeProfit = bp.TakeProfit
		tracked.RemainingVolume = bp.RemainingVolume
		tracked.State = restingState(*tracked)
		delete(byTicket, ticket)
	}

	for _, bp := range byTicket {
		result.Adopted = append(result.Adopted, bp)
	}
	return result
}

// FetchBrokerPositions is a thin convenience wrapper so callers only
// import broker.Adapter in one place when building Reconcile's input.
func FetchBrokerPositions(ctx context.Context, adapter broker.Adapter, symbol string, timeout time.Duration) ([]types.Position, error) {
	return adapter.GetPositions(ctx, symbol, timeout)
}
