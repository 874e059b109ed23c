// Package paper runs a per-symbol shadow account under the exact cost
// assumptions the model was trained with. It never drives real orders; its
// job is to measure drift between live execution and the training
// assumption set.
package paper

import "oracle-trader/internal/predictor"

// Position is an open shadow position.
type Position struct {
	Symbol     string  `json:"symbol"`
	Direction  int     `json:"direction"`
	Intensity  int     `json:"intensity"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"entry_price"`
	EntryTime  int64   `json:"entry_time"`
	CurrentPnL float64 `json:"current_pnl"`
}

// Trade is a closed shadow trade.
type Trade struct {
	Symbol     string  `json:"symbol"`
	Direction  int     `json:"direction"`
	Intensity  int     `json:"intensity"`
	Volume     float64 `json:"volume"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	EntryTime  int64   `json:"entry_time"`
	ExitTime   int64   `json:"exit_time"`
	PnL        float64 `json:"pnl"`
	PnLPips    float64 `json:"pnl_pips"`
	Commission float64 `json:"commission"` // entry plus exit halves
	Regime     int     `json:"regime"`
}

// Account is one symbol's shadow account. Costs are frozen training
// parameters; fills are instant and never rejected.
type Account struct {
	InitialBalance float64
	Balance        float64
	Equity         float64

	spreadPoints     float64
	slippagePoints   float64
	commissionPerLot float64
	point            float64
	pipValue         float64
	lotSizes         []float64
	pointsPerPip     float64

	position        *Position
	closedTrades    []Trade
	totalCommission float64
}

// NewAccount builds a shadow account from the model's training config,
// applying the training defaults for absent fields.
func NewAccount(initialBalance float64, tc predictor.TrainingConfig) *Account {
	if tc.SpreadPoints == 0 {
		tc.SpreadPoints = 7.0
	}
	if tc.SlippagePoints == 0 {
		tc.SlippagePoints = 2.0
	}
	if tc.CommissionPerLot == 0 {
		tc.CommissionPerLot = 7.0
	}
	if tc.Point == 0 {
		tc.Point = 0.00001
	}
	if tc.PipValue == 0 {
		tc.PipValue = 10.0
	}
	if tc.Digits == 0 {
		tc.Digits = 5
	}
	if len(tc.LotSizes) == 0 {
		tc.LotSizes = []float64{0, 0.01, 0.03, 0.05}
	}
	ppp := 1.0
	if tc.Digits == 5 || tc.Digits == 3 {
		ppp = 10.0
	}
	return &Account{
		InitialBalance:   initialBalance,
		Balance:          initialBalance,
		Equity:           initialBalance,
		spreadPoints:     tc.SpreadPoints,
		slippagePoints:   tc.SlippagePoints,
		commissionPerLot: tc.CommissionPerLot,
		point:            tc.Point,
		pipValue:         tc.PipValue,
		lotSizes:         tc.LotSizes,
		pointsPerPip:     ppp,
	}
}

// Open opens a shadow position, paying spread plus slippage on entry and half
// the commission up front. Returns false if a position is already open or the
// intensity maps to a zero lot.
func (a *Account) Open(symbol string, direction, intensity int, price float64, timestamp int64) bool {
	if a.position != nil {
		return false
	}
	if intensity < 0 || intensity >= len(a.lotSizes) {
		return false
	}
	volume := a.lotSizes[intensity]
	if volume <= 0 {
		return false
	}

	spreadCost := a.spreadPoints * a.point
	slippage := a.slippagePoints * a.point
	entry := price + spreadCost + slippage
	if direction != 1 {
		entry = price - spreadCost - slippage
	}

	commission := (a.commissionPerLot * volume) / 2
	a.Balance -= commission
	a.totalCommission += commission

	a.position = &Position{
		Symbol:     symbol,
		Direction:  direction,
		Intensity:  intensity,
		Volume:     volume,
		EntryPrice: entry,
		EntryTime:  timestamp,
	}
	return true
}

// Close closes the open shadow position at the price less exit slippage,
// paying the second commission half. Returns nil when flat.
func (a *Account) Close(price float64, timestamp int64, regime int) *Trade {
	pos := a.position
	if pos == nil {
		return nil
	}

	slippage := a.slippagePoints * a.point
	exit := price - slippage
	if pos.Direction != 1 {
		exit = price + slippage
	}

	priceDiff := (exit - pos.EntryPrice) * float64(pos.Direction)
	pips := priceDiff / a.point / a.pointsPerPip
	pnl := pips * a.pipValue * pos.Volume

	commission := (a.commissionPerLot * pos.Volume) / 2
	pnl -= commission
	a.totalCommission += commission

	a.Balance += pnl
	a.Equity = a.Balance

	trade := Trade{
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Intensity:  pos.Intensity,
		Volume:     pos.Volume,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		EntryTime:  pos.EntryTime,
		ExitTime:   timestamp,
		PnL:        pnl,
		PnLPips:    pips,
		Commission: commission * 2,
		Regime:     regime,
	}
	a.closedTrades = append(a.closedTrades, trade)
	a.position = nil
	return &trade
}

// UpdateEquity refreshes floating PnL at the given price.
func (a *Account) UpdateEquity(price float64) {
	if a.position == nil {
		a.Equity = a.Balance
		return
	}
	pos := a.position
	priceDiff := (price - pos.EntryPrice) * float64(pos.Direction)
	pips := priceDiff / a.point / a.pointsPerPip
	pos.CurrentPnL = pips * a.pipValue * pos.Volume
	a.Equity = a.Balance + pos.CurrentPnL
}

// OpenPosition returns the open position, or nil.
func (a *Account) OpenPosition() *Position { return a.position }

// Trades returns the closed trades, oldest first.
func (a *Account) Trades() []Trade { return a.closedTrades }

// TotalCommission returns the commission paid so far.
func (a *Account) TotalCommission() float64 { return a.totalCommission }
