package broker

import (
	"context"
	"time"

	"oracle-trader/pkg/types"
)

// OrderRequest describes a market order in domain units: volume in lots,
// stop and take as absolute prices (0 means none).
type OrderRequest struct {
	Symbol     string
	Direction  int // +1 long, -1 short
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

// Deal is one closed-deal history entry.
type Deal struct {
	ID         int64
	PositionID int64
	Symbol     string
	Volume     float64
	Direction  int
	Price      float64
	Time       time.Time
}

// Connector is the broker abstraction the rest of the runtime depends on.
// The production implementation speaks the Open API; the mock drives tests
// and dry runs.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool

	GetHistory(ctx context.Context, symbol string, tf types.Timeframe, bars int) ([]types.Candle, error)
	SubscribeBars(ctx context.Context, symbols []string, tf types.Timeframe, cb func(types.Candle)) error
	UnsubscribeBars(ctx context.Context, symbols []string) error

	GetAccount() types.AccountInfo
	GetPositions() []types.Position
	GetPosition(symbol string) (types.Position, bool)
	GetDeals(ctx context.Context, since time.Time) ([]Deal, error)

	OpenOrder(ctx context.Context, req OrderRequest) types.OrderResult
	ClosePosition(ctx context.Context, ticket int64, volume float64) types.OrderResult
	AmendPositionSLTP(ctx context.Context, ticket int64, sl, tp float64) types.OrderResult

	SymbolInfo(symbol string) (types.SymbolInfo, bool)
	SpreadPips(symbol string) (float64, bool)
	LastPrice(symbol string) (float64, bool)
}
