// Package databar normalizes broker bars into canonical types.Bar and owns
// the per-(symbol, timeframe) BarSeries cache (spec.md §4.2). It is
// generalized from the teacher's internal/data/market_data.go streaming
// cache — the same owns-a-cache, validates-on-ingest shape, adapted from
// tick normalization to bar normalization with reconnect-triggered refill.
package databar

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/broker"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Cache owns one BarSeries per (symbol, timeframe) and refills it from a
// broker.Adapter.
type Cache struct {
	logger   *zap.Logger
	adapter  broker.Adapter
	lookback int

	series map[string]*types.BarSeries
}

// New creates a Cache backed by adapter, holding at least lookback bars per
// series.
func New(logger *zap.Logger, adapter broker.Adapter, lookback int) *Cache {
	return &Cache{
		logger:   logger.Named("databar"),
		adapter:  adapter,
		lookback: lookback,
		series:   make(map[string]*types.BarSeries),
	}
}

func seriesKey(symbol string, tf types.Timeframe) string {
	return fmt.Sprintf("%s|%s", symbol, tf)
}

// Fetch returns the cached series for (symbol, timeframe), augmented with
// any new bars from the broker. On first use, or after Reset, it performs a
// full refill of lookback bars.
func (c *Cache) Fetch(ctx context.Context, symbol string, tf types.Timeframe, timeout time.Duration) (*types.BarSeries, error) {
	k := seriesKey(symbol, tf)
	s, ok := c.series[k]
	if !ok {
		s = types.NewBarSeries(symbol, tf, c.lookback*4)
		c.series[k] = s
	}

	raw, err := c.adapter.GetBars(ctx, symbol, tf, c.lookback, timeout)
	if err != nil {
		return s, fmt.Errorf("databar: fetch %s: %w", k, err)
	}

	for _, rb := range raw {
		bar, ok := normalize(rb)
		if !ok {
			c.logger.Warn("dropped invalid bar", zap.String("symbol", symbol), zap.Time("ts", rb.Timestamp))
			continue
		}
		c.merge(s, bar)
	}

	if s.Len() < c.lookback && len(raw) >= c.lookback {
		c.logger.Warn("series shorter than lookback despite sufficient broker history",
			zap.String("symbol", symbol), zap.Int("have", s.Len()), zap.Int("want", c.lookback))
	}
	return s, nil
}

// Reset drops a series entirely, forcing the next Fetch to refill from
// scratch — used after a broker reconnect (spec.md §4.2).
func (c *Cache) Reset(symbol string, tf types.Timeframe) {
	if s, ok := c.series[seriesKey(symbol, tf)]; ok {
		s.Reset()
	}
}

// ResetAll drops every cached series.
func (c *Cache) ResetAll() {
	for _, s := range c.series {
		s.Reset()
	}
}

// merge appends bar if it is newer than the series' last bar, or replaces
// the last bar in place if it shares its timestamp (the forming-bar case).
func (c *Cache) merge(s *types.BarSeries, bar types.Bar) {
	if last, ok := s.At(-1); ok && last.Timestamp.Equal(bar.Timestamp) {
		_ = s.UpdateLast(bar)
		return
	}
	if !s.Append(bar) {
		c.logger.Warn("dropped non-monotonic bar", zap.String("symbol", bar.Symbol), zap.Time("ts", bar.Timestamp))
	}
}

// normalize validates a raw broker bar's numeric fields are finite and the
// OHLCV invariants hold, returning the canonical Bar with UTC timestamp.
func normalize(b types.Bar) (types.Bar, bool) {
	b.Timestamp = b.Timestamp.UTC()
	for _, f := range []float64{
		b.Open.InexactFloat64(), b.High.InexactFloat64(),
		b.Low.InexactFloat64(), b.Close.InexactFloat64(),
		b.Volume.InexactFloat64(),
	} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return types.Bar{}, false
		}
	}
	if !b.Valid() {
		return types.Bar{}, false
	}
	return b, true
}

