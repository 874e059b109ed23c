package paper

import (
	"log/slog"
	"sort"
	"sync"

	"oracle-trader/internal/predictor"
	"oracle-trader/pkg/types"
)

// Metrics is the consolidated shadow performance snapshot.
type Metrics struct {
	TotalTrades     int     `json:"total_trades"`
	TotalPnL        float64 `json:"total_pnl"`
	WinRate         float64 `json:"win_rate"`
	AvgBalance      float64 `json:"avg_balance"`
	TotalCommission float64 `json:"total_commission"`
}

// ExtendedMetrics adds the heavier figures computed for the 30-second
// telemetry tick.
type ExtendedMetrics struct {
	Metrics
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	ProfitFactor   float64   `json:"profit_factor"`
	Sharpe         float64   `json:"sharpe"`
	Expectancy     float64   `json:"expectancy"`
	AvgWin         float64   `json:"avg_win"`
	AvgLoss        float64   `json:"avg_loss"`
	EquityCurve    []float64 `json:"equity_curve"`
}

// DriftReport compares shadow results against real closed trades.
type DriftReport struct {
	PaperTrades  int     `json:"paper_trades"`
	RealTrades   int     `json:"real_trades"`
	PaperPnL     float64 `json:"paper_pnl"`
	RealPnL      float64 `json:"real_pnl"`
	PnLDrift     float64 `json:"pnl_drift"`
	PnLDriftPct  float64 `json:"pnl_drift_pct"`
	PaperWinRate float64 `json:"paper_win_rate"`
	RealWinRate  float64 `json:"real_win_rate"`
}

// equityCurvePoints is the downsample budget for telemetry payloads.
const equityCurvePoints = 50

// Trader runs one shadow account per symbol in parallel with the real
// executor.
type Trader struct {
	mu             sync.Mutex
	initialBalance float64
	accounts       map[string]*Account
	logger         *slog.Logger
}

// NewTrader creates an empty shadow trader.
func NewTrader(initialBalance float64, logger *slog.Logger) *Trader {
	if initialBalance <= 0 {
		initialBalance = 10000
	}
	return &Trader{
		initialBalance: initialBalance,
		accounts:       make(map[string]*Account),
		logger:         logger.With("component", "paper"),
	}
}

// LoadConfig creates the symbol's shadow account from its training config.
// Called after the model loads in the predictor.
func (t *Trader) LoadConfig(symbol string, tc predictor.TrainingConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accounts[symbol] = NewAccount(t.initialBalance, tc)
	t.logger.Info("shadow account ready",
		"symbol", symbol,
		"spread_points", tc.SpreadPoints,
		"lot_sizes", tc.LotSizes)
}

// UnloadConfig drops the symbol's shadow account.
func (t *Trader) UnloadConfig(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.accounts, symbol)
}

// ProcessSignal mirrors the signal into the shadow account at the bar's
// close. Returns the closed trade if a position closed, nil otherwise.
func (t *Trader) ProcessSignal(sig *types.Signal, bar types.Candle) *Trade {
	t.mu.Lock()
	defer t.mu.Unlock()

	account, ok := t.accounts[sig.Symbol]
	if !ok {
		return nil
	}
	price := bar.Close
	timestamp := bar.Time
	pos := account.OpenPosition()
	currentDir := 0
	if pos != nil {
		currentDir = pos.Direction
	}

	// Same direction: an intensity change closes and reopens, exactly as
	// the training environment does on any action change.
	if currentDir == sig.Direction {
		if pos != nil && pos.Intensity != sig.Intensity && sig.Direction != 0 {
			trade := account.Close(price, timestamp, sig.Regime)
			account.Open(sig.Symbol, sig.Direction, sig.Intensity, price, timestamp)
			return trade
		}
		account.UpdateEquity(price)
		return nil
	}

	var trade *Trade
	if currentDir != 0 {
		trade = account.Close(price, timestamp, sig.Regime)
	}
	if sig.Direction != 0 && sig.Intensity > 0 {
		account.Open(sig.Symbol, sig.Direction, sig.Intensity, price, timestamp)
	}
	account.UpdateEquity(price)
	return trade
}

// Trades returns closed shadow trades, for one symbol or all of them ordered
// by exit time.
func (t *Trader) Trades(symbol string) []Trade {
	t.mu.Lock()
	defer t.mu.Unlock()

	if symbol != "" {
		if account, ok := t.accounts[symbol]; ok {
			out := make([]Trade, len(account.Trades()))
			copy(out, account.Trades())
			return out
		}
		return nil
	}

	var all []Trade
	for _, account := range t.accounts {
		all = append(all, account.Trades()...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExitTime < all[j].ExitTime })
	return all
}

// Snapshot returns the consolidated base metrics.
func (t *Trader) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Trader) snapshotLocked() Metrics {
	var all []Trade
	totalBalance := 0.0
	totalCommission := 0.0
	for _, account := range t.accounts {
		all = append(all, account.Trades()...)
		totalBalance += account.Balance
		totalCommission += account.TotalCommission()
	}

	m := Metrics{AvgBalance: t.initialBalance}
	if len(t.accounts) > 0 {
		m.AvgBalance = totalBalance / float64(len(t.accounts))
	}
	if len(all) == 0 {
		return m
	}

	totalPnL := 0.0
	for _, tr := range all {
		totalPnL += tr.PnL
	}
	m.TotalTrades = len(all)
	m.TotalPnL = totalPnL
	m.WinRate = WinRate(all)
	m.TotalCommission = totalCommission
	return m
}

// ExtendedSnapshot computes the heavy metrics for the slow telemetry tick.
func (t *Trader) ExtendedSnapshot(barsPerYear int) ExtendedMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	var all []Trade
	for _, account := range t.accounts {
		all = append(all, account.Trades()...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExitTime < all[j].ExitTime })

	avgWin, avgLoss := AvgWinLoss(all)
	return ExtendedMetrics{
		Metrics:        t.snapshotLocked(),
		MaxDrawdownPct: MaxDrawdown(all, t.initialBalance),
		ProfitFactor:   ProfitFactor(all),
		Sharpe:         Sharpe(all, barsPerYear),
		Expectancy:     Expectancy(all),
		AvgWin:         avgWin,
		AvgLoss:        avgLoss,
		EquityCurve:    EquityCurve(all, t.initialBalance, equityCurvePoints),
	}
}

// CompareWithReal builds the drift report against a real closed-PnL series.
func (t *Trader) CompareWithReal(realPnLs []float64) DriftReport {
	paper := t.Trades("")

	paperPnL := 0.0
	paperWins := 0
	for _, tr := range paper {
		paperPnL += tr.PnL
		if tr.PnL > 0 {
			paperWins++
		}
	}
	realPnL := 0.0
	realWins := 0
	for _, pnl := range realPnLs {
		realPnL += pnl
		if pnl > 0 {
			realWins++
		}
	}

	report := DriftReport{
		PaperTrades: len(paper),
		RealTrades:  len(realPnLs),
		PaperPnL:    paperPnL,
		RealPnL:     realPnL,
		PnLDrift:    paperPnL - realPnL,
	}
	if paperPnL != 0 {
		report.PnLDriftPct = (paperPnL - realPnL) / abs(paperPnL) * 100
	}
	if len(paper) > 0 {
		report.PaperWinRate = float64(paperWins) / float64(len(paper)) * 100
	}
	if len(realPnLs) > 0 {
		report.RealWinRate = float64(realWins) / float64(len(realPnLs)) * 100
	}
	return report
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
