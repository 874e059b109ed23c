package executor

import (
	"log/slog"
	"sync"

	"oracle-trader/pkg/types"
)

// RiskGuard is the last gate before an order leaves the process. Checks run
// in a fixed order and the first failure wins: drawdown, margin, spread,
// circuit breaker.
type RiskGuard struct {
	mu       sync.Mutex
	settings RiskSettings
	spreads  map[string]float64
	losses   int
	logger   *slog.Logger
}

// NewRiskGuard creates a guard from the "_risk" settings.
func NewRiskGuard(settings RiskSettings, logger *slog.Logger) *RiskGuard {
	return &RiskGuard{
		settings: settings,
		spreads:  make(map[string]float64),
		logger:   logger.With("component", "risk-guard"),
	}
}

// UpdateSpread refreshes the cached spread for a symbol, in pips. The
// orchestrator polls these on a fixed interval.
func (g *RiskGuard) UpdateSpread(symbol string, pips float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spreads[symbol] = pips
}

// Check validates an intended open. It returns the skip reason of the first
// failed gate, or ok=true when every gate passes.
func (g *RiskGuard) Check(symbol string, volume float64, account types.AccountInfo, cfg SymbolConfig) (types.SkipReason, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Drawdown against the configured initial balance. Unset balance
	// disables the check.
	if g.settings.InitialBalance > 0 {
		dd := (g.settings.InitialBalance - account.Equity) / g.settings.InitialBalance * 100
		if dd >= g.settings.DDEmergencyPct {
			g.logger.Warn("risk blocked", "symbol", symbol, "gate", "drawdown",
				"dd_pct", dd, "emergency_pct", g.settings.DDEmergencyPct)
			return types.SkipEmergency, false
		}
		if dd >= g.settings.DDLimitPct {
			g.logger.Warn("risk blocked", "symbol", symbol, "gate", "drawdown",
				"dd_pct", dd, "limit_pct", g.settings.DDLimitPct)
			return types.SkipDDLimit, false
		}
	}

	// Conservative margin estimate of 1000 units of account currency per
	// lot of exposure.
	if required := volume * 1000; account.FreeMargin < required {
		g.logger.Warn("risk blocked", "symbol", symbol, "gate", "margin",
			"free", account.FreeMargin, "required", required)
		return types.SkipMargin, false
	}

	// Spread gate is fail-open: no cached spread means no block.
	if spread, ok := g.spreads[symbol]; ok {
		if spread > cfg.MaxSpreadPips {
			g.logger.Warn("risk blocked", "symbol", symbol, "gate", "spread",
				"spread_pips", spread, "max_pips", cfg.MaxSpreadPips)
			return types.SkipSpread, false
		}
	} else {
		g.logger.Debug("spread unknown, allowing", "symbol", symbol)
	}

	if g.losses >= g.settings.MaxConsecutiveLosses {
		g.logger.Warn("risk blocked", "symbol", symbol, "gate", "circuit-breaker",
			"consecutive_losses", g.losses, "max", g.settings.MaxConsecutiveLosses)
		return types.SkipCircuitBreaker, false
	}

	return "", true
}

// DrawdownPct computes the current drawdown percentage against the initial
// balance, 0 when the check is disabled.
func (g *RiskGuard) DrawdownPct(equity float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.settings.InitialBalance <= 0 {
		return 0
	}
	return (g.settings.InitialBalance - equity) / g.settings.InitialBalance * 100
}

// RecordTradeResult feeds the circuit breaker: a loss increments the streak,
// anything else resets it.
func (g *RiskGuard) RecordTradeResult(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pnl < 0 {
		g.losses++
		return
	}
	g.losses = 0
}

// ConsecutiveLosses returns the current loss streak.
func (g *RiskGuard) ConsecutiveLosses() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.losses
}

// ResetCircuitBreaker clears the loss streak (operator command).
func (g *RiskGuard) ResetCircuitBreaker() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.losses = 0
}

// Settings returns a copy of the active risk settings.
func (g *RiskGuard) Settings() RiskSettings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// SetSettings swaps the active risk settings (control channel write).
func (g *RiskGuard) SetSettings(settings RiskSettings) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings = settings
}
