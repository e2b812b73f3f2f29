package confluence

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// pendingEntry is one signal waiting for its optimal_entry price to be
// touched (spec.md §4.5).
type pendingEntry struct {
	signal       types.Signal
	result       types.EntryConfluenceResult
	optimalEntry decimal.Decimal
	queuedAtBar  int
}

// pendingQueue is a bounded FIFO keyed by signal id, dropping the oldest
// entry on overflow and re-registering idempotently (re-adding the same
// signal id replaces rather than duplicates).
type pendingQueue struct {
	capacity int
	order    []string // signal IDs, oldest first
	entries  map[string]pendingEntry
}

func newPendingQueue(capacity int) *pendingQueue {
	return &pendingQueue{capacity: capacity, entries: make(map[string]pendingEntry)}
}

func (q *pendingQueue) add(e pendingEntry) {
	id := e.signal.ID
	if _, exists := q.entries[id]; exists {
		q.entries[id] = e
		return
	}
	if q.capacity > 0 && len(q.order) >= q.capacity {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.entries, oldest)
	}
	q.order = append(q.order, id)
	q.entries[id] = e
}

// check returns signals ready to execute (optimal_entry touched) and drops
// any entry whose wait has exceeded maxWaitBars.
func (q *pendingQueue) check(currentPrice decimal.Decimal, currentBar, maxWaitBars int) []types.Signal {
	var ready []types.Signal
	remaining := q.order[:0]
	for _, id := range q.order {
		e, ok := q.entries[id]
		if !ok {
			continue
		}
		if currentBar-e.queuedAtBar > maxWaitBars {
			delete(q.entries, id)
			continue
		}
		if touched(e.signal.Side, currentPrice, e.optimalEntry) {
			ready = append(ready, e.signal)
			delete(q.entries, id)
			continue
		}
		remaining = append(remaining, id)
	}
	q.order = remaining
	return ready
}

func touched(side types.OrderSide, current, optimal decimal.Decimal) bool {
	switch side {
	case types.SideLong:
		return current.LessThanOrEqual(optimal)
	case types.SideShort:
		return current.GreaterThanOrEqual(optimal)
	default:
		return false
	}
}

func (q *pendingQueue) len() int { return len(q.order) }
