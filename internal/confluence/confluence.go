// Package confluence implements the Entry Confluence Gate (spec.md §4.5):
// a four-component weighted scorer that turns a raw Signal into a quality
// tier, plus the bounded pending-entry queue for MARGINAL/POOR signals
// awaiting a better touch price.
package confluence

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

const (
	weightLevel     = 0.40
	weightMomentum  = 0.25
	weightTiming    = 0.20
	weightStructure = 0.15
)

// Config tunes the gate's behavior.
type Config struct {
	StrictMode     bool // spec.md §4.5: production default true — MARGINAL/POOR never execute reduced-size
	MaxWaitBars    int
	QueueCapacity  int
	MomentumWindow int
}

// DefaultConfig returns the spec's recommended production defaults.
func DefaultConfig() Config {
	return Config{StrictMode: true, MaxWaitBars: 10, QueueCapacity: 50, MomentumWindow: 5}
}

// Gate scores signals and owns the pending-entry queue.
type Gate struct {
	logger *zap.Logger
	cfg    Config
	queue  *pendingQueue
}

// New constructs a Gate.
func New(logger *zap.Logger, cfg Config) *Gate {
	return &Gate{
		logger: logger.Named("confluence"),
		cfg:    cfg,
		queue:  newPendingQueue(cfg.QueueCapacity),
	}
}

// LevelContext carries the reference data the level-score component needs.
type LevelContext struct {
	NearestSupport    decimal.Decimal
	NearestResistance decimal.Decimal
	KeyEMA            decimal.Decimal
	PriorSessionHigh  decimal.Decimal
	PriorSessionLow   decimal.Decimal
}

// MomentumContext carries recent directional data.
type MomentumContext struct {
	RecentCloses []float64 // oldest first, length == Config.MomentumWindow recommended
	RSI          float64
	RSIRising    bool
}

// TimingContext carries the last bar's range for chase/extension scoring.
type TimingContext struct {
	LastBarHigh, LastBarLow decimal.Decimal
	RecentSwingHigh         decimal.Decimal
	RecentSwingLow          decimal.Decimal
}

// StructureContext carries swing-point sequences for HH/HL or LH/LL scoring.
type StructureContext struct {
	Highs []float64 // recent swing highs, oldest first
	Lows  []float64 // recent swing lows, oldest first
}

// Score computes the four component scores and the overall quality tier
// for a raw signal.
func (g *Gate) Score(sig types.Signal, lvl LevelContext, mom MomentumContext, tim TimingContext, str StructureContext) types.EntryConfluenceResult {
	levelScore := scoreLevel(sig, lvl)
	momentumScore := scoreMomentum(sig, mom)
	timingScore := scoreTiming(sig, tim)
	structureScore := scoreStructure(sig, str)

	overall := weightLevel*levelScore + weightMomentum*momentumScore + weightTiming*timingScore + weightStructure*structureScore
	overall100 := overall * 100

	quality, mult := classify(overall100)

	res := types.EntryConfluenceResult{
		Quality:        quality,
		Overall:        decimal.NewFromFloat(overall100),
		LevelScore:     decimal.NewFromFloat(levelScore),
		MomentumScore:  decimal.NewFromFloat(momentumScore),
		TimingScore:    decimal.NewFromFloat(timingScore),
		StructureScore: decimal.NewFromFloat(structureScore),
		SizeMultiplier: decimal.NewFromFloat(mult),
	}
	if quality == types.QualityMarginal || quality == types.QualityPoor {
		res.OptimalEntry = optimalEntry(sig, lvl)
	}
	if quality == types.QualityReject {
		res.RejectionReason = "overall confluence score below reject threshold"
	}
	return res
}

// optimalEntry picks the nearest favorable level (support for a long,
// resistance for a short) on the improving side of the signal's reference
// price, for the pending queue to wait on.
func optimalEntry(sig types.Signal, lvl LevelContext) *decimal.Decimal {
	ref := sig.ReferencePrice
	var candidate decimal.Decimal
	switch sig.Side {
	case types.SideLong:
		candidate = lvl.NearestSupport
		if candidate.IsZero() || !candidate.LessThan(ref) {
			return nil
		}
	case types.SideShort:
		candidate = lvl.NearestResistance
		if candidate.IsZero() || !candidate.GreaterThan(ref) {
			return nil
		}
	default:
		return nil
	}
	return &candidate
}

func classify(overall100 float64) (types.ConfluenceQuality, float64) {
	switch {
	case overall100 >= 85:
		return types.QualityPremium, 1.0
	case overall100 >= 70:
		return types.QualityGood, 0.85
	case overall100 >= 50:
		return types.QualityMarginal, 0.6
	case overall100 >= 30:
		return types.QualityPoor, 0.3
	default:
		return types.QualityReject, 0
	}
}

// Admit applies the gate's decision to one signal: PREMIUM/GOOD execute
// immediately; MARGINAL/POOR queue if an optimal_entry is available, and
// otherwise are discarded in strict mode or executed at their reduced size
// outside it; REJECT is always discarded.
//
// Returns (true, false) when the caller should execute sig immediately at
// res.SizeMultiplier, (false, true) when it was queued for later
// synthesis, or (false, false) when it was discarded.
func (g *Gate) Admit(sig types.Signal, res types.EntryConfluenceResult, optimalEntry *decimal.Decimal, nowBar int) (execute bool, queued bool) {
	switch res.Quality {
	case types.QualityPremium, types.QualityGood:
		return true, false
	case types.QualityMarginal, types.QualityPoor:
		if optimalEntry == nil {
			return !g.cfg.StrictMode, false
		}
		g.queue.add(pendingEntry{signal: sig, result: res, optimalEntry: *optimalEntry, queuedAtBar: nowBar})
		return false, true
	default: // REJECT
		return false, false
	}
}

// CheckPending scans the pending queue against the current bar, returning
// signals whose optimal_entry has been touched (ready to synthesize an
// execution at the original terms) and dropping those that have expired.
func (g *Gate) CheckPending(currentPrice decimal.Decimal, currentBar int) []types.Signal {
	return g.queue.check(currentPrice, currentBar, g.cfg.MaxWaitBars)
}

// PendingLen reports the current queue depth, for metrics.
func (g *Gate) PendingLen() int { return g.queue.len() }

// MomentumWindow reports the configured recent-closes window, so a caller
// building MomentumContext samples the same length the scorer expects.
func (g *Gate) MomentumWindow() int { return g.cfg.MomentumWindow }

func scoreLevel(sig types.Signal, lvl LevelContext) float64 {
	ref := sig.ReferencePrice.InexactFloat64()
	if ref == 0 {
		return 0
	}
	best := 0.0
	candidates := []decimal.Decimal{lvl.NearestSupport, lvl.NearestResistance, lvl.KeyEMA, lvl.PriorSessionHigh, lvl.PriorSessionLow}
	for _, c := range candidates {
		if c.IsZero() {
			continue
		}
		dist := math.Abs(ref-c.InexactFloat64()) / ref
		proximity := 1 - math.Min(dist/0.01, 1) // within 1% of price is full credit
		if proximity > best {
			best = proximity
		}
	}
	// round-number bonus: price within 0.05% of a round 0.00/0.50 level
	frac := math.Mod(ref, 0.5)
	roundDist := math.Min(frac, 0.5-frac)
	if roundDist/ref < 0.0005 {
		best = math.Min(1, best+0.15)
	}
	return clamp01(best)
}

func scoreMomentum(sig types.Signal, mom MomentumContext) float64 {
	if len(mom.RecentCloses) < 2 {
		return 0.5
	}
	aligned := 0
	for i := 1; i < len(mom.RecentCloses); i++ {
		up := mom.RecentCloses[i] > mom.RecentCloses[i-1]
		if (sig.Side == types.SideLong && up) || (sig.Side == types.SideShort && !up) {
			aligned++
		}
	}
	dirScore := float64(aligned) / float64(len(mom.RecentCloses)-1)

	rsiConfirm := 0.5
	switch sig.Side {
	case types.SideLong:
		if mom.RSI < 50 && mom.RSIRising {
			rsiConfirm = 1.0
		} else if !mom.RSIRising {
			rsiConfirm = 0.2
		}
	case types.SideShort:
		if mom.RSI > 50 && !mom.RSIRising {
			rsiConfirm = 1.0
		} else if mom.RSIRising {
			rsiConfirm = 0.2
		}
	}
	return clamp01(0.6*dirScore + 0.4*rsiConfirm)
}

func scoreTiming(sig types.Signal, tim TimingContext) float64 {
	ref := sig.ReferencePrice.InexactFloat64()
	barRange := tim.LastBarHigh.Sub(tim.LastBarLow).InexactFloat64()
	chase := 0.5
	if barRange > 0 {
		low := tim.LastBarLow.InexactFloat64()
		position := (ref - low) / barRange
		switch sig.Side {
		case types.SideLong:
			chase = 1 - position // buying near the low of the bar is better
		case types.SideShort:
			chase = position // selling near the high of the bar is better
		}
	}

	extension := 0.5
	swingHigh := tim.RecentSwingHigh.InexactFloat64()
	swingLow := tim.RecentSwingLow.InexactFloat64()
	if swingHigh > swingLow {
		span := swingHigh - swingLow
		switch sig.Side {
		case types.SideLong:
			extension = clamp01(1 - (ref-swingLow)/span)
		case types.SideShort:
			extension = clamp01((ref - swingLow) / span)
		}
	}
	return clamp01(0.5*chase + 0.5*extension)
}

func scoreStructure(sig types.Signal, str StructureContext) float64 {
	if len(str.Highs) < 2 || len(str.Lows) < 2 {
		return 0.5
	}
	higherHighs, higherLows := monotonic(str.Highs), monotonic(str.Lows)
	switch sig.Side {
	case types.SideLong:
		return boolScore(higherHighs) * 0.5 + boolScore(higherLows)*0.5
	case types.SideShort:
		return boolScore(!higherHighs)*0.5 + boolScore(!higherLows)*0.5
	}
	return 0.5
}

func monotonic(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] < v[i-1] {
			return false
		}
	}
	return true
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
