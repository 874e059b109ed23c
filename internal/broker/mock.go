package broker

import (
	"context"
	"sync"
	"time"

	"oracle-trader/pkg/types"
)

// Mock is an in-memory Connector used by tests and dry runs. Orders fill
// instantly at the last pushed price; there is no latency, partial fill, or
// rejection unless FailNextOrder is armed.
type Mock struct {
	mu        sync.Mutex
	connected bool
	account   types.AccountInfo
	positions map[string]types.Position
	symbols   map[string]types.SymbolInfo
	prices    map[string]float64
	spreads   map[string]float64
	history   map[string][]types.Candle
	deals     []Deal
	barCb     func(types.Candle)

	nextTicket    int64
	FailNextOrder bool
	OrderLog      []OrderRequest
}

// NewMock creates a mock with a funded account and no symbols.
func NewMock() *Mock {
	return &Mock{
		account: types.AccountInfo{
			Balance:    10000,
			Equity:     10000,
			FreeMargin: 10000,
			Currency:   "USD",
		},
		positions:  make(map[string]types.Position),
		symbols:    make(map[string]types.SymbolInfo),
		prices:     make(map[string]float64),
		spreads:    make(map[string]float64),
		history:    make(map[string][]types.Candle),
		nextTicket: 1000,
	}
}

// AddSymbol registers a symbol with quote state.
func (m *Mock) AddSymbol(info types.SymbolInfo, price, spreadPips float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols[info.Name] = info
	m.prices[info.Name] = price
	m.spreads[info.Name] = spreadPips
}

// SetAccount overrides the account snapshot.
func (m *Mock) SetAccount(a types.AccountInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = a
}

// SetHistory seeds the bars GetHistory returns for a symbol.
func (m *Mock) SetHistory(symbol string, bars []types.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[symbol] = bars
}

// SetPosition force-places a position (test setup).
func (m *Mock) SetPosition(p types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

// PushBar delivers a closed bar to the subscriber, as the live feed would.
func (m *Mock) PushBar(bar types.Candle) {
	m.mu.Lock()
	cb := m.barCb
	m.mu.Unlock()
	if cb != nil {
		cb(bar)
	}
}

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Mock) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Mock) GetHistory(ctx context.Context, symbol string, tf types.Timeframe, bars int) ([]types.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[symbol]
	if len(h) > bars {
		h = h[len(h)-bars:]
	}
	out := make([]types.Candle, len(h))
	copy(out, h)
	return out, nil
}

func (m *Mock) SubscribeBars(ctx context.Context, symbols []string, tf types.Timeframe, cb func(types.Candle)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barCb = cb
	return nil
}

func (m *Mock) UnsubscribeBars(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barCb = nil
	return nil
}

func (m *Mock) GetAccount() types.AccountInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account
}

func (m *Mock) GetPositions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

func (m *Mock) GetPosition(symbol string) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	return p, ok
}

func (m *Mock) GetDeals(ctx context.Context, since time.Time) ([]Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Deal, len(m.deals))
	copy(out, m.deals)
	return out, nil
}

func (m *Mock) OpenOrder(ctx context.Context, req OrderRequest) types.OrderResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.OrderLog = append(m.OrderLog, req)
	if m.FailNextOrder {
		m.FailNextOrder = false
		return types.OrderResult{Success: false, ErrorCode: "MOCK_REJECT", ErrorDesc: "order rejected"}
	}

	m.nextTicket++
	m.positions[req.Symbol] = types.Position{
		Ticket:       m.nextTicket,
		Symbol:       req.Symbol,
		Direction:    req.Direction,
		Volume:       req.Volume,
		OpenPrice:    m.prices[req.Symbol],
		CurrentPrice: m.prices[req.Symbol],
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		OpenTime:     time.Now().UTC(),
		Comment:      req.Comment,
	}
	return types.OrderResult{Success: true, Ticket: m.nextTicket}
}

func (m *Mock) ClosePosition(ctx context.Context, ticket int64, volume float64) types.OrderResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNextOrder {
		m.FailNextOrder = false
		return types.OrderResult{Success: false, ErrorCode: "MOCK_REJECT", ErrorDesc: "close rejected"}
	}
	for symbol, p := range m.positions {
		if p.Ticket == ticket {
			delete(m.positions, symbol)
			m.deals = append(m.deals, Deal{
				ID:         ticket,
				PositionID: ticket,
				Symbol:     symbol,
				Volume:     p.Volume,
				Direction:  -p.Direction,
				Price:      m.prices[symbol],
				Time:       time.Now().UTC(),
			})
			return types.OrderResult{Success: true, Ticket: ticket}
		}
	}
	return types.OrderResult{Success: false, ErrorCode: "NOT_FOUND", ErrorDesc: "no such position"}
}

func (m *Mock) AmendPositionSLTP(ctx context.Context, ticket int64, sl, tp float64) types.OrderResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	for symbol, p := range m.positions {
		if p.Ticket == ticket {
			p.StopLoss, p.TakeProfit = sl, tp
			m.positions[symbol] = p
			return types.OrderResult{Success: true, Ticket: ticket}
		}
	}
	return types.OrderResult{Success: false, ErrorCode: "NOT_FOUND", ErrorDesc: "no such position"}
}

func (m *Mock) SymbolInfo(symbol string) (types.SymbolInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.symbols[symbol]
	return info, ok
}

func (m *Mock) SpreadPips(symbol string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spreads[symbol]
	return s, ok
}

func (m *Mock) LastPrice(symbol string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[symbol]
	return p, ok
}
