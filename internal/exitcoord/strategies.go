package exitcoord

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// AdverseMovement fires when the bar's close sits at least SigmaMult times
// the current ATR against the entry price. The move is measured from entry;
// Window is not consulted.
type AdverseMovement struct {
	SigmaMult float64
	Window    time.Duration
}

func (AdverseMovement) Name() string     { return "adverse_movement" }
func (AdverseMovement) BasePriority() int { return 90 }

func (s AdverseMovement) ShouldExit(ctx EvalContext) *types.ExitSignal {
	atr, ok := ctx.Indicators["atr"]
	if !ok || atr <= 0 {
		return nil
	}
	adverse := ctx.Position.EntryPrice.Sub(ctx.Bar.Close).InexactFloat64()
	if ctx.Position.Side == types.SideShort {
		adverse = ctx.Bar.Close.Sub(ctx.Position.EntryPrice).InexactFloat64()
	}
	if adverse >= s.SigmaMult*atr {
		return &types.ExitSignal{Type: types.ExitAdverseMove, Priority: AdverseMovement{}.BasePriority(), Reason: "rapid adverse move beyond sigma threshold"}
	}
	return nil
}

// TrailingStop fires once price retraces atrMult*ATR from the favorable
// extreme, after activationR has been reached.
type TrailingStop struct {
	ATRMult      float64
	ActivationR  float64
}

func (TrailingStop) Name() string     { return "trailing_stop" }
func (TrailingStop) BasePriority() int { return 80 }

func (s TrailingStop) ShouldExit(ctx EvalContext) *types.ExitSignal {
	if ctx.Position.RMultiple().InexactFloat64() < s.ActivationR {
		return nil
	}
	atr, ok := ctx.Indicators["atr"]
	if !ok {
		return nil
	}
	retrace := ctx.Position.ExtremeFavorable.Sub(ctx.Bar.Close).InexactFloat64()
	if ctx.Position.Side == types.SideShort {
		retrace = ctx.Bar.Close.Sub(ctx.Position.ExtremeFavorable).InexactFloat64()
	}
	if retrace >= s.ATRMult*atr {
		return &types.ExitSignal{Type: types.ExitTrailingStop, Priority: TrailingStop{}.BasePriority(), Reason: "retraced past ATR trailing distance from favorable extreme"}
	}
	return nil
}

// ProfitTarget fires when price reaches an absolute take-profit or an
// R-multiple target, whichever is configured.
type ProfitTarget struct {
	TargetR decimal.Decimal
}

func (ProfitTarget) Name() string     { return "profit_target" }
func (ProfitTarget) BasePriority() int { return 70 }

func (s ProfitTarget) ShouldExit(ctx EvalContext) *types.ExitSignal {
	p := ctx.Position
	reachedAbsolute := (p.Side == types.SideLong && ctx.Bar.Close.GreaterThanOrEqual(p.TakeProfit)) ||
		(p.Side == types.SideShort && ctx.Bar.Close.LessThanOrEqual(p.TakeProfit))
	reachedR := !s.TargetR.IsZero() && p.RMultiple().GreaterThanOrEqual(s.TargetR)
	if reachedAbsolute || reachedR {
		return &types.ExitSignal{Type: types.ExitProfitTarget, Priority: ProfitTarget{}.BasePriority(), Reason: "profit target reached"}
	}
	return nil
}

// TimeBased fires when a position exceeds MaxAge, or — for sessioned
// (non-24/7) instruments — ahead of a weekend/session close.
type TimeBased struct {
	MaxAge             time.Duration
	Is247              func(symbol string) bool
	WeekendProtectFrom time.Duration // duration before Friday close to start protecting
}

func (TimeBased) Name() string     { return "time_based" }
func (TimeBased) BasePriority() int { return 60 }

func (s TimeBased) ShouldExit(ctx EvalContext) *types.ExitSignal {
	age := ctx.Now.Sub(ctx.Position.OpenedAt)
	if s.MaxAge > 0 && age >= s.MaxAge {
		return &types.ExitSignal{Type: types.ExitTimeBased, Priority: TimeBased{}.BasePriority(), Reason: "position exceeded max age"}
	}
	if s.Is247 != nil && !s.Is247(ctx.Position.Symbol) && isApproachingWeekendClose(ctx.Now, s.WeekendProtectFrom) {
		return &types.ExitSignal{Type: types.ExitTimeBased, Priority: TimeBased{}.BasePriority(), Reason: "weekend/session protection window"}
	}
	return nil
}

func isApproachingWeekendClose(now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	weekday := now.UTC().Weekday()
	if weekday != time.Friday {
		return false
	}
	fridayClose := time.Date(now.Year(), now.Month(), now.Day(), 21, 0, 0, 0, time.UTC)
	return now.UTC().After(fridayClose.Add(-window)) && now.UTC().Before(fridayClose)
}

// HardStopLoss fires when price hits the position's current (server-side)
// stop loss. It is the floor of the priority list — any other strategy
// firing first pre-empts it.
type HardStopLoss struct{}

func (HardStopLoss) Name() string     { return "stop_loss" }
func (HardStopLoss) BasePriority() int { return 50 }

func (HardStopLoss) ShouldExit(ctx EvalContext) *types.ExitSignal {
	p := ctx.Position
	hit := (p.Side == types.SideLong && ctx.Bar.Close.LessThanOrEqual(p.StopLoss)) ||
		(p.Side == types.SideShort && ctx.Bar.Close.GreaterThanOrEqual(p.StopLoss))
	if hit {
		return &types.ExitSignal{Type: types.ExitStopLoss, Priority: HardStopLoss{}.BasePriority(), Reason: "price hit current stop loss"}
	}
	return nil
}
