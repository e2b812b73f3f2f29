// Package types provides the shared data model for the trading core:
// bars, signals, orders, positions, and account snapshots.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a signal, order, or position.
type OrderSide string

const (
	SideLong  OrderSide = "long"
	SideShort OrderSide = "short"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus is the terminal status of a placed order.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusTimeout  OrderStatus = "timeout"
	OrderStatusError    OrderStatus = "error"
)

// Timeframe identifies a canonical bar period.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

// Bar is a canonical OHLCV tuple tagged with symbol, timeframe and time.
// Invariant: Low <= Open,Close <= High and Volume >= 0.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Forming   bool            `json:"forming"`
}

// Valid reports whether the bar satisfies the OHLCV invariants.
func (b Bar) Valid() bool {
	if b.Volume.IsNegative() {
		return false
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) || b.Low.GreaterThan(b.High) {
		return false
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return false
	}
	return true
}

// Ticket is the broker-assigned unique identifier for a position.
type Ticket string

// Signal is produced by a strategy for a given bar.
type Signal struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Symbol         string          `json:"symbol"`
	Timeframe      Timeframe       `json:"timeframe"`
	Side           OrderSide       `json:"side"`
	ReferencePrice decimal.Decimal `json:"referencePrice"`
	StopLoss       decimal.Decimal `json:"stopLoss"`
	TakeProfit     decimal.Decimal `json:"takeProfit"`
	Confidence     decimal.Decimal `json:"confidence"`
	Strategy       string          `json:"strategy"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// ValidSLTP reports whether SL/TP sit on the correct side of the reference
// price for the signal's side.
func (s Signal) ValidSLTP() bool {
	switch s.Side {
	case SideLong:
		return s.StopLoss.LessThan(s.ReferencePrice) && s.ReferencePrice.LessThan(s.TakeProfit)
	case SideShort:
		return s.StopLoss.GreaterThan(s.ReferencePrice) && s.ReferencePrice.GreaterThan(s.TakeProfit)
	default:
		return false
	}
}

// RMultiple returns the signal's reward expressed in units of initial risk.
func (s Signal) RMultiple() decimal.Decimal {
	risk := s.ReferencePrice.Sub(s.StopLoss).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	reward := s.TakeProfit.Sub(s.ReferencePrice).Abs()
	return reward.Div(risk)
}

// ConfluenceQuality classifies an EntryConfluenceResult.
type ConfluenceQuality string

const (
	QualityPremium  ConfluenceQuality = "premium"
	QualityGood     ConfluenceQuality = "good"
	QualityMarginal ConfluenceQuality = "marginal"
	QualityPoor     ConfluenceQuality = "poor"
	QualityReject   ConfluenceQuality = "reject"
)

// EntryConfluenceResult is the gate's scoring output for a Signal.
type EntryConfluenceResult struct {
	Quality         ConfluenceQuality `json:"quality"`
	Overall         decimal.Decimal   `json:"overall"` // 0-100
	LevelScore      decimal.Decimal   `json:"levelScore"`
	MomentumScore   decimal.Decimal   `json:"momentumScore"`
	TimingScore     decimal.Decimal   `json:"timingScore"`
	StructureScore  decimal.Decimal   `json:"structureScore"`
	SizeMultiplier  decimal.Decimal   `json:"sizeMultiplier"`
	OptimalEntry    *decimal.Decimal  `json:"optimalEntry,omitempty"`
	RejectionReason string            `json:"rejectionReason,omitempty"`
}

// OrderRequest describes an order to place through the broker adapter.
type OrderRequest struct {
	SignalID   string          `json:"signalId"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	Type       OrderType       `json:"type"`
	Price      decimal.Decimal `json:"price,omitempty"` // limit/stop trigger
	StopLoss   decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit decimal.Decimal `json:"takeProfit,omitempty"`
	Timeout    time.Duration   `json:"timeout"`
}

// OrderResult is the terminal outcome of a placed order.
type OrderResult struct {
	Status        OrderStatus     `json:"status"`
	FilledVolume  decimal.Decimal `json:"filledVolume"`
	FillPrice     decimal.Decimal `json:"fillPrice"`
	Ticket        Ticket          `json:"ticket,omitempty"`
	ServerTime    time.Time       `json:"serverTime"`
	BrokerErrCode string          `json:"brokerErrCode,omitempty"`
	BrokerErrMsg  string          `json:"brokerErrMsg,omitempty"`
}

// PositionState is a Position's lifecycle state (spec.md §4.7).
type PositionState string

const (
	PositionNew             PositionState = "new"
	PositionOpen            PositionState = "open"
	PositionModifying       PositionState = "modifying"
	PositionPartiallyClosed PositionState = "partially_closed"
	PositionClosing         PositionState = "closing"
	PositionClosed          PositionState = "closed"
)

// Position is the Tracker's authoritative view of a broker position.
type Position struct {
	Ticket           Ticket          `json:"ticket"`
	Symbol           string          `json:"symbol"`
	Side             OrderSide       `json:"side"`
	OpenVolume       decimal.Decimal `json:"openVolume"`
	RemainingVolume  decimal.Decimal `json:"remainingVolume"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	OpenedAt         time.Time       `json:"openedAt"`
	CurrentPrice     decimal.Decimal `json:"currentPrice"`
	StopLoss         decimal.Decimal `json:"stopLoss"`
	TakeProfit       decimal.Decimal `json:"takeProfit"`
	UnrealizedPnL    decimal.Decimal `json:"unrealizedPnl"`
	Commission       decimal.Decimal `json:"commission"`
	Swap             decimal.Decimal `json:"swap"`
	SignalID         string          `json:"signalId,omitempty"`
	Strategy         string          `json:"strategy,omitempty"`
	Adopted          bool            `json:"adopted"`
	State            PositionState   `json:"state"`
	ExtremeFavorable decimal.Decimal `json:"extremeFavorable"` // best price seen, for trailing
	TiersConsumed    map[string]bool `json:"tiersConsumed,omitempty"`
}

// RMultiple returns unrealized profit expressed in units of initial risk.
func (p Position) RMultiple() decimal.Decimal {
	initialRisk := p.EntryPrice.Sub(p.StopLoss).Abs()
	if initialRisk.IsZero() {
		return decimal.Zero
	}
	sign := decimal.NewFromInt(1)
	if p.Side == SideShort {
		sign = decimal.NewFromInt(-1)
	}
	diff := p.CurrentPrice.Sub(p.EntryPrice).Mul(sign)
	return diff.Div(initialRisk)
}

// AccountSnapshot is a point-in-time view of the trading account.
type AccountSnapshot struct {
	Balance         decimal.Decimal `json:"balance"`
	Equity          decimal.Decimal `json:"equity"`
	UsedMargin      decimal.Decimal `json:"usedMargin"`
	FreeMargin      decimal.Decimal `json:"freeMargin"`
	MarginLevel     decimal.Decimal `json:"marginLevel"`
	Currency        string          `json:"currency"`
	PeakBalance     decimal.Decimal `json:"peakBalance"`
	DrawdownPercent decimal.Decimal `json:"drawdownPercent"`
}

// RiskRejectionReason enumerates distinct risk-evaluator rejection codes.
type RiskRejectionReason string

const (
	RejectNone            RiskRejectionReason = ""
	RejectMinimumBalance  RiskRejectionReason = "minimum-balance"
	RejectNegativeEquity  RiskRejectionReason = "negative-equity"
	RejectMarginCall      RiskRejectionReason = "margin-call"
	RejectDrawdownHalt    RiskRejectionReason = "drawdown-halt"
	RejectDailyLoss       RiskRejectionReason = "daily-loss-limit"
	RejectDailyTrades     RiskRejectionReason = "daily-trade-limit"
	RejectSpread          RiskRejectionReason = "spread-guard"
	RejectSymbolLimit     RiskRejectionReason = "symbol-limit"
	RejectOppositeSide    RiskRejectionReason = "opposite-direction"
	RejectRiskReward      RiskRejectionReason = "risk-reward"
	RejectConfidence      RiskRejectionReason = "confidence"
	RejectTradeNotAllowed RiskRejectionReason = "trade-not-allowed"
)

// RiskDecision is the Risk Evaluator's verdict on a Signal.
type RiskDecision struct {
	Approved       bool                `json:"approved"`
	Reason         RiskRejectionReason `json:"reason,omitempty"`
	Message        string              `json:"message,omitempty"`
	ApprovedVolume decimal.Decimal     `json:"approvedVolume"`
	EffectiveSL    decimal.Decimal     `json:"effectiveSl"`
	EffectiveTP    decimal.Decimal     `json:"effectiveTp"`
	AppliedTier    string              `json:"appliedTier,omitempty"`
}

// ExitType enumerates exit-coordinator strategy kinds.
type ExitType string

const (
	ExitAdverseMove  ExitType = "adverse_movement"
	ExitTrailingStop ExitType = "trailing_stop"
	ExitProfitTarget ExitType = "profit_target"
	ExitTimeBased    ExitType = "time_based"
	ExitStopLoss     ExitType = "stop_loss"
)

// ExitSignal is produced by an exit strategy when a position should close.
type ExitSignal struct {
	Ticket     Ticket          `json:"ticket"`
	Type       ExitType        `json:"type"`
	Priority   int             `json:"priority"`
	Reason     string          `json:"reason"`
	PartialVol decimal.Decimal `json:"partialVolume,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// SymbolInfo describes broker-side trading constraints for a symbol.
type SymbolInfo struct {
	Symbol           string          `json:"symbol"`
	Point            decimal.Decimal `json:"point"`
	VolumeMin        decimal.Decimal `json:"volumeMin"`
	VolumeMax        decimal.Decimal `json:"volumeMax"`
	VolumeStep       decimal.Decimal `json:"volumeStep"`
	StopsLevelPoints decimal.Decimal `json:"stopsLevelPoints"`
	Digits           int32           `json:"digits"`
	ContractSize     decimal.Decimal `json:"contractSize"`
	TradeAllowed     bool            `json:"tradeAllowed"`
}

// Spread is the current spread for a symbol.
type Spread struct {
	Points  decimal.Decimal `json:"points"`
	Percent decimal.Decimal `json:"percent"`
}
