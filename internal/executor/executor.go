package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"oracle-trader/internal/broker"
	"oracle-trader/pkg/types"
)

// Executor processes signals into orders. Signal processing and control
// mutations are serialized by a single mutex; critical sections are short and
// the blocking broker calls happen with the mutex held only on the signal
// path, which is serial per symbol anyway.
type Executor struct {
	connector broker.Connector
	converter *PriceConverter
	guard     *RiskGuard
	logger    *slog.Logger

	mu         sync.Mutex
	configPath string
	config     *ConfigFile
	syncStates map[string]*SyncState
	paused     bool

	// Budgets applied to auto-created symbol configs when set.
	defaultStopUSD float64
	defaultTakeUSD float64
	hasBudgets     bool
}

// SymbolState is the per-symbol slice of the executor's debug state.
type SymbolState struct {
	Enabled     bool      `json:"enabled"`
	Lots        []float64 `json:"lots"`
	StopUSD     float64   `json:"sl_usd"`
	TakeUSD     float64   `json:"tp_usd"`
	WaitingSync bool      `json:"waiting_sync"`
	FirstLive   bool      `json:"first_live"`
}

// State is the executor's full debug snapshot for the control channel.
type State struct {
	Paused             bool                   `json:"paused"`
	ConsecutiveLosses  int                    `json:"consecutive_losses"`
	Symbols            map[string]SymbolState `json:"symbols"`
}

// New loads the symbols file and builds a ready executor.
func New(connector broker.Connector, configPath string, logger *slog.Logger) (*Executor, error) {
	cf, err := LoadConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	logger = logger.With("component", "executor")
	e := &Executor{
		connector:  connector,
		converter:  NewPriceConverter(connector, logger),
		guard:      NewRiskGuard(cf.Risk, logger),
		logger:     logger,
		configPath: configPath,
		config:     cf,
		syncStates: make(map[string]*SyncState),
	}
	for symbol := range cf.Symbols {
		e.syncStates[symbol] = NewSyncState()
	}
	logger.Info("symbol config loaded",
		"path", configPath,
		"symbols", len(cf.Symbols),
		"dd_limit_pct", cf.Risk.DDLimitPct)
	return e, nil
}

// Guard exposes the risk gate for the spread-refresh loop and for recording
// deal outcomes.
func (e *Executor) Guard() *RiskGuard { return e.guard }

// ProcessSignal runs the full per-signal pipeline and returns an ack.
func (e *Executor) ProcessSignal(ctx context.Context, sig *types.Signal) types.ExecutionAck {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol := sig.Symbol
	cfg, ok := e.config.Symbols[symbol]
	if !ok {
		e.logger.Warn("skipping signal, no symbol config", "symbol", symbol)
		return skip(symbol, types.SkipNoConfig)
	}
	if !cfg.Enabled {
		return skip(symbol, types.SkipDisabled)
	}
	if e.paused {
		return skip(symbol, types.SkipPaused)
	}

	real, hasReal := e.connector.GetPosition(symbol)
	realDir := 0
	if hasReal {
		realDir = real.Direction
	}
	decision := Decide(realDir, sig.Direction)

	state, ok := e.syncStates[symbol]
	if !ok {
		state = NewSyncState()
		e.syncStates[symbol] = state
	}

	switch decision {
	case types.DecisionNoop:
		state.ShouldOpen(sig, decision)
		return types.ExecutionAck{Symbol: symbol, Status: types.AckNoop, Decision: decision}

	case types.DecisionClose:
		state.ShouldOpen(sig, decision)
		return e.closeReal(ctx, symbol, real, hasReal, decision)

	case types.DecisionOpen:
		if !state.ShouldOpen(sig, decision) {
			e.logger.Debug("open blocked by edge rule", "symbol", symbol)
			return skipDecision(symbol, types.SkipNoEdge, decision)
		}
		return e.openReal(ctx, sig, cfg, decision)

	case types.DecisionCloseAndOpen:
		closeAck := e.closeReal(ctx, symbol, real, hasReal, decision)
		if closeAck.Status == types.AckError {
			return closeAck
		}
		if !state.ShouldOpen(sig, decision) {
			return skipDecision(symbol, types.SkipNoEdge, decision)
		}
		return e.openReal(ctx, sig, cfg, decision)
	}

	return types.ExecutionAck{Symbol: symbol, Status: types.AckError, Decision: decision, Err: "unknown decision"}
}

func (e *Executor) openReal(ctx context.Context, sig *types.Signal, cfg SymbolConfig, decision types.Decision) types.ExecutionAck {
	symbol := sig.Symbol

	volume := cfg.Lot(sig.Intensity)
	if volume <= 0 {
		e.logger.Warn("skipping open, zero lot", "symbol", symbol, "intensity", sig.Intensity)
		return skipDecision(symbol, types.SkipZeroLot, decision)
	}

	account := e.connector.GetAccount()
	if reason, ok := e.guard.Check(symbol, volume, account, cfg); !ok {
		return skipDecision(symbol, reason, decision)
	}

	dd := e.guard.DrawdownPct(account.Equity)
	comment := BuildComment(sig.Regime, sig.Action, sig.Intensity, account.Balance, dd, sig.VirtualPnL)

	price := e.currentPrice(symbol)
	sl := e.converter.StopLossPrice(symbol, sig.Direction, cfg.StopUSD, volume, price)
	tp := e.converter.TakeProfitPrice(symbol, sig.Direction, cfg.TakeUSD, volume, price)

	e.logger.Info("opening position",
		"symbol", symbol,
		"direction", directionName(sig.Direction),
		"volume", volume,
		"sl", sl, "tp", tp, "price", price)

	result := e.connector.OpenOrder(ctx, broker.OrderRequest{
		Symbol:     symbol,
		Direction:  sig.Direction,
		Volume:     volume,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    comment,
	})
	if !result.Success {
		e.logger.Error("open failed", "symbol", symbol, "code", result.ErrorCode, "error", result.ErrorDesc)
		return types.ExecutionAck{
			Symbol: symbol, Status: types.AckError, Decision: decision,
			Volume: volume, Err: result.ErrorDesc,
		}
	}

	e.logger.Info("position opened", "symbol", symbol, "volume", volume, "ticket", result.Ticket)
	return types.ExecutionAck{
		Symbol: symbol, Status: types.AckOK, Decision: decision,
		Ticket: result.Ticket, Volume: volume,
	}
}

func (e *Executor) closeReal(ctx context.Context, symbol string, pos types.Position, hasPos bool, decision types.Decision) types.ExecutionAck {
	if !hasPos {
		return types.ExecutionAck{Symbol: symbol, Status: types.AckOK, Decision: decision}
	}

	result := e.connector.ClosePosition(ctx, pos.Ticket, pos.Volume)
	if !result.Success {
		e.logger.Error("close failed", "symbol", symbol, "ticket", pos.Ticket, "error", result.ErrorDesc)
		return types.ExecutionAck{
			Symbol: symbol, Status: types.AckError, Decision: decision,
			Ticket: pos.Ticket, Err: result.ErrorDesc,
		}
	}

	e.guard.RecordTradeResult(pos.PnL)
	e.logger.Info("position closed", "symbol", symbol, "ticket", pos.Ticket, "pnl", pos.PnL)
	return types.ExecutionAck{
		Symbol: symbol, Status: types.AckOK, Decision: decision, Ticket: pos.Ticket,
	}
}

// currentPrice resolves a price for stop/take conversion from the last quote,
// then any open position on the symbol.
func (e *Executor) currentPrice(symbol string) float64 {
	if price, ok := e.connector.LastPrice(symbol); ok {
		return price
	}
	if pos, ok := e.connector.GetPosition(symbol); ok && pos.CurrentPrice > 0 {
		return pos.CurrentPrice
	}
	e.logger.Warn("no current price for stop conversion", "symbol", symbol)
	return 0
}

// ————————————————————————————————————————————————————————————————————————
// Controls
// ————————————————————————————————————————————————————————————————————————

// Pause stops processing new signals. In-flight work is unaffected.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.logger.Info("executor paused")
}

// Resume re-enables signal processing.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.logger.Info("executor resumed")
}

// IsPaused reports the pause flag.
func (e *Executor) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// ClosePositionBySymbol closes the symbol's open position, if any.
func (e *Executor) ClosePositionBySymbol(ctx context.Context, symbol string) (bool, error) {
	pos, ok := e.connector.GetPosition(symbol)
	if !ok {
		return false, nil
	}
	result := e.connector.ClosePosition(ctx, pos.Ticket, pos.Volume)
	if !result.Success {
		return false, fmt.Errorf("close %s ticket %d: %s", symbol, pos.Ticket, result.ErrorDesc)
	}
	e.guard.RecordTradeResult(pos.PnL)
	return true, nil
}

// CloseAll closes every open position and returns how many closed.
func (e *Executor) CloseAll(ctx context.Context) int {
	positions := e.connector.GetPositions()
	closed := 0
	for _, pos := range positions {
		result := e.connector.ClosePosition(ctx, pos.Ticket, pos.Volume)
		if result.Success {
			e.guard.RecordTradeResult(pos.PnL)
			closed++
		} else {
			e.logger.Error("close_all: close failed",
				"symbol", pos.Symbol, "ticket", pos.Ticket, "error", result.ErrorDesc)
		}
	}
	e.logger.Info("close_all finished", "closed", closed, "total", len(positions))
	return closed
}

// EnsureSymbolConfig creates a default entry for the symbol if none exists.
// Returns true if a new entry was created and persisted.
func (e *Executor) EnsureSymbolConfig(symbol string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.config.Symbols[symbol]; ok {
		return false, nil
	}
	cfg := DefaultSymbolConfig()
	if e.hasBudgets {
		cfg.StopUSD = e.defaultStopUSD
		cfg.TakeUSD = e.defaultTakeUSD
	}
	e.config.Symbols[symbol] = cfg
	e.syncStates[symbol] = NewSyncState()
	if err := e.config.Save(e.configPath); err != nil {
		return true, err
	}
	e.logger.Info("auto-created symbol config", "symbol", symbol)
	return true, nil
}

// SetDefaultBudgets sets the stop and take budgets applied to auto-created
// symbol configs.
func (e *Executor) SetDefaultBudgets(slUSD, tpUSD float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaultStopUSD = slUSD
	e.defaultTakeUSD = tpUSD
	e.hasBudgets = true
}

// ApplyBudgetsToAll overwrites the stop/take budgets on every symbol config
// and persists the file. Nil pointers leave the respective field untouched.
func (e *Executor) ApplyBudgetsToAll(slUSD, tpUSD *float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, cfg := range e.config.Symbols {
		if slUSD != nil {
			cfg.StopUSD = *slUSD
		}
		if tpUSD != nil {
			cfg.TakeUSD = *tpUSD
		}
		e.config.Symbols[symbol] = cfg
	}
	return e.config.Save(e.configPath)
}

// SymbolConfigFor returns the symbol's config.
func (e *Executor) SymbolConfigFor(symbol string) (SymbolConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, ok := e.config.Symbols[symbol]
	return cfg, ok
}

// PatchSymbolConfig overlays the given JSON fields onto the symbol's config
// and persists the file. Unknown fields are rejected by the JSON layer.
func (e *Executor) PatchSymbolConfig(symbol string, fields map[string]any) (SymbolConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, ok := e.config.Symbols[symbol]
	if !ok {
		return SymbolConfig{}, fmt.Errorf("no config for symbol %s", symbol)
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return SymbolConfig{}, fmt.Errorf("marshal patch: %w", err)
	}
	if err := json.Unmarshal(patch, &cfg); err != nil {
		return SymbolConfig{}, fmt.Errorf("apply patch: %w", err)
	}
	e.config.Symbols[symbol] = cfg
	if err := e.config.Save(e.configPath); err != nil {
		return cfg, err
	}
	e.logger.Info("symbol config updated", "symbol", symbol)
	return cfg, nil
}

// ResetSync re-arms the symbol's edge-rule state.
func (e *Executor) ResetSync(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.syncStates[symbol]; ok {
		s.Reset()
	}
}

// Snapshot returns the executor's debug state.
func (e *Executor) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbols := make(map[string]SymbolState, len(e.config.Symbols))
	for symbol, cfg := range e.config.Symbols {
		state := e.syncStates[symbol]
		if state == nil {
			state = NewSyncState()
		}
		symbols[symbol] = SymbolState{
			Enabled:     cfg.Enabled,
			Lots:        []float64{cfg.LotWeak, cfg.LotModerate, cfg.LotStrong},
			StopUSD:     cfg.StopUSD,
			TakeUSD:     cfg.TakeUSD,
			WaitingSync: state.WaitingSync,
			FirstLive:   state.FirstLive,
		}
	}
	return State{
		Paused:            e.paused,
		ConsecutiveLosses: e.guard.ConsecutiveLosses(),
		Symbols:           symbols,
	}
}

func skip(symbol string, reason types.SkipReason) types.ExecutionAck {
	return types.ExecutionAck{Symbol: symbol, Status: types.AckSkip, Reason: reason}
}

func skipDecision(symbol string, reason types.SkipReason, decision types.Decision) types.ExecutionAck {
	return types.ExecutionAck{Symbol: symbol, Status: types.AckSkip, Reason: reason, Decision: decision}
}

func directionName(dir int) string {
	switch dir {
	case 1:
		return "LONG"
	case -1:
		return "SHORT"
	}
	return "FLAT"
}
