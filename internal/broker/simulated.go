package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/coreerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// SlippageModel is a base-plus-volume-impact fill adjustment, grounded on
// the teacher's execution.SlippageCalculator (base slippage + a per-unit
// volume impact term), trimmed to the two terms a deterministic paper-fill
// needs — order-book/MEV/off-hours modeling has no meaning for a single
// simulated adapter with no order book.
type SlippageModel struct {
	BasePct            decimal.Decimal // e.g. 0.0005 = 5bps on every fill
	VolumeImpactFactor decimal.Decimal // additional pct per unit of order volume
}

// Simulated is a deterministic, in-memory Adapter used for paper trading
// and tests. It fills every order at the symbol's last known price (or the
// request's reference price when none is known), adjusted by an optional
// SlippageModel, and never
// rejects for liquidity reasons, matching the teacher's PaperTrading
// execution mode.
type Simulated struct {
	logger *zap.Logger

	mu          sync.Mutex
	connected   bool
	account     types.AccountSnapshot
	symbolInfo  map[string]types.SymbolInfo
	bars        map[string][]types.Bar // key: symbol|timeframe
	positions   map[types.Ticket]types.Position
	lastPrice   map[string]decimal.Decimal
	spread      types.Spread
	slippage    SlippageModel
	now         func() time.Time
	failNextN   int // force the next N order/position calls to fail transiently
}

// NewSimulated constructs a Simulated adapter seeded with an account and
// default symbol info.
func NewSimulated(logger *zap.Logger, account types.AccountSnapshot) *Simulated {
	return &Simulated{
		logger:     logger.Named("broker.simulated"),
		account:    account,
		symbolInfo: make(map[string]types.SymbolInfo),
		bars:       make(map[string][]types.Bar),
		positions:  make(map[types.Ticket]types.Position),
		lastPrice:  make(map[string]decimal.Decimal),
		spread:     types.Spread{Points: decimal.NewFromInt(1), Percent: decimal.NewFromFloat(0.001)},
		now:        time.Now,
	}
}

// SetSlippage overrides the fill-adjustment model. The zero value fills at
// the exact reference price, which is what every existing test relies on.
func (s *Simulated) SetSlippage(model SlippageModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slippage = model
}

// adverseFill nudges price against the side by the configured slippage
// model's base-plus-volume-impact percentage.
func (s *Simulated) adverseFill(price decimal.Decimal, side types.OrderSide, volume decimal.Decimal) decimal.Decimal {
	if s.slippage.BasePct.IsZero() && s.slippage.VolumeImpactFactor.IsZero() {
		return price
	}
	pct := s.slippage.BasePct.Add(s.slippage.VolumeImpactFactor.Mul(volume))
	adj := price.Mul(pct)
	if side == types.SideLong {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// SetSymbolInfo registers the trading constraints returned by GetSymbolInfo.
func (s *Simulated) SetSymbolInfo(info types.SymbolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbolInfo[info.Symbol] = info
}

// SeedBars preloads a bar series that GetBars will serve and subsequently
// extend via PushBar.
func (s *Simulated) SeedBars(symbol string, tf types.Timeframe, bars []types.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[key(symbol, tf)] = append([]types.Bar(nil), bars...)
	if n := len(bars); n > 0 {
		s.lastPrice[symbol] = bars[n-1].Close
	}
}

// PushBar appends one bar to a series, simulating new market data arriving.
func (s *Simulated) PushBar(symbol string, tf types.Timeframe, b types.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(symbol, tf)
	s.bars[k] = append(s.bars[k], b)
	s.lastPrice[symbol] = b.Close
	s.refreshPositionsLocked(symbol, b.Close)
}

// SetPrice moves the last price for a symbol without appending a bar,
// useful for exercising intrabar exit logic.
func (s *Simulated) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice[symbol] = price
	s.refreshPositionsLocked(symbol, price)
}

// FailNext forces the next n order/position-mutating calls to return a
// transient error, simulating a flaky broker connection.
func (s *Simulated) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextN = n
}

func (s *Simulated) consumeFailureLocked() bool {
	if s.failNextN > 0 {
		s.failNextN--
		return true
	}
	return false
}

func key(symbol string, tf types.Timeframe) string {
	return fmt.Sprintf("%s|%s", symbol, tf)
}

func (s *Simulated) refreshPositionsLocked(symbol string, price decimal.Decimal) {
	for ticket, pos := range s.positions {
		if pos.Symbol != symbol {
			continue
		}
		pos.CurrentPrice = price
		sign := decimal.NewFromInt(1)
		if pos.Side == types.SideShort {
			sign = decimal.NewFromInt(-1)
		}
		pos.UnrealizedPnL = price.Sub(pos.EntryPrice).Mul(sign).Mul(pos.RemainingVolume)
		if pos.Side == types.SideLong {
			if price.GreaterThan(pos.ExtremeFavorable) {
				pos.ExtremeFavorable = price
			}
		} else {
			if pos.ExtremeFavorable.IsZero() || price.LessThan(pos.ExtremeFavorable) {
				pos.ExtremeFavorable = price
			}
		}
		s.positions[ticket] = pos
	}
}

func (s *Simulated) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *Simulated) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulated) GetAccount(ctx context.Context, timeout time.Duration) (types.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return types.AccountSnapshot{}, fmt.Errorf("broker: not connected")
	}
	// equity reflects open unrealized P&L
	equity := s.account.Balance
	for _, p := range s.positions {
		equity = equity.Add(p.UnrealizedPnL)
	}
	s.account.Equity = equity
	return s.account, nil
}

// SetAccount overwrites the simulated account state (balance, peak, etc).
func (s *Simulated) SetAccount(a types.AccountSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = a
}

// ApplyRealizedPnL adjusts the simulated balance after a fill/close.
func (s *Simulated) ApplyRealizedPnL(pnl decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.Balance = s.account.Balance.Add(pnl)
	if s.account.Balance.GreaterThan(s.account.PeakBalance) {
		s.account.PeakBalance = s.account.Balance
	}
}

func (s *Simulated) GetSymbolInfo(ctx context.Context, symbol string, timeout time.Duration) (types.SymbolInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.symbolInfo[symbol]; ok {
		return info, nil
	}
	return types.SymbolInfo{}, fmt.Errorf("broker: unknown symbol %s", symbol)
}

func (s *Simulated) GetBars(ctx context.Context, symbol string, tf types.Timeframe, count int, timeout time.Duration) ([]types.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("broker: not connected: %w", coreerr.ErrBrokerTransient)
	}
	all := s.bars[key(symbol, tf)]
	if len(all) == 0 {
		return nil, nil
	}
	if count <= 0 || count >= len(all) {
		out := make([]types.Bar, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]types.Bar, count)
	copy(out, all[len(all)-count:])
	return out, nil
}

func (s *Simulated) GetPositions(ctx context.Context, symbol string, timeout time.Duration) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

// InjectPosition inserts a position directly, simulating one opened outside
// the core (for adoption-path tests).
func (s *Simulated) InjectPosition(p types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Ticket] = p
}

func (s *Simulated) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumeFailureLocked() {
		return types.OrderResult{}, fmt.Errorf("broker: order rejected transiently: %w", coreerr.ErrBrokerTransient)
	}
	price, ok := s.lastPrice[req.Symbol]
	if !ok {
		price = req.Price
	}
	price = s.adverseFill(price, req.Side, req.Volume)
	ticket := types.Ticket(uuid.NewString())
	s.positions[ticket] = types.Position{
		Ticket:           ticket,
		Symbol:           req.Symbol,
		Side:             req.Side,
		OpenVolume:       req.Volume,
		RemainingVolume:  req.Volume,
		EntryPrice:       price,
		OpenedAt:         s.now(),
		CurrentPrice:     price,
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
		ExtremeFavorable: price,
		State:            types.PositionOpen,
	}
	return types.OrderResult{
		Status:       types.OrderStatusFilled,
		FilledVolume: req.Volume,
		FillPrice:    price,
		Ticket:       ticket,
		ServerTime:   s.now(),
	}, nil
}

func (s *Simulated) ModifyPosition(ctx context.Context, ticket types.Ticket, newSL, newTP *decimal.Decimal, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumeFailureLocked() {
		return fmt.Errorf("broker: modify failed transiently: %w", coreerr.ErrBrokerTransient)
	}
	pos, ok := s.positions[ticket]
	if !ok {
		return fmt.Errorf("broker: unknown ticket %s", ticket)
	}
	if newSL != nil {
		pos.StopLoss = *newSL
	}
	if newTP != nil {
		pos.TakeProfit = *newTP
	}
	s.positions[ticket] = pos
	return nil
}

func (s *Simulated) ClosePosition(ctx context.Context, ticket types.Ticket, volume *decimal.Decimal, timeout time.Duration) (types.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumeFailureLocked() {
		return types.OrderResult{}, fmt.Errorf("broker: close failed transiently: %w", coreerr.ErrBrokerTransient)
	}
	pos, ok := s.positions[ticket]
	if !ok {
		return types.OrderResult{}, fmt.Errorf("broker: unknown ticket %s", ticket)
	}
	closeVol := pos.RemainingVolume
	if volume != nil && volume.LessThan(closeVol) {
		closeVol = *volume
	}
	pos.RemainingVolume = pos.RemainingVolume.Sub(closeVol)
	if pos.RemainingVolume.LessThanOrEqual(decimal.Zero) {
		delete(s.positions, ticket)
	} else {
		pos.State = types.PositionPartiallyClosed
		s.positions[ticket] = pos
	}
	// Closing a long is a sell and vice versa; slippage works against the
	// closing side the same way it works against an opening order.
	closingSide := types.SideShort
	if pos.Side == types.SideShort {
		closingSide = types.SideLong
	}
	fillPrice := s.adverseFill(pos.CurrentPrice, closingSide, closeVol)
	return types.OrderResult{
		Status:       types.OrderStatusFilled,
		FilledVolume: closeVol,
		FillPrice:    fillPrice,
		Ticket:       ticket,
		ServerTime:   s.now(),
	}, nil
}

func (s *Simulated) Spread(ctx context.Context, symbol string, timeout time.Duration) (types.Spread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spread, nil
}

// SetSpread overrides the simulated spread.
func (s *Simulated) SetSpread(sp types.Spread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spread = sp
}

func (s *Simulated) ServerTime(ctx context.Context) (time.Time, error) {
	return s.now(), nil
}

// SetClock overrides the time source, for deterministic tests.
func (s *Simulated) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Simulated) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}
