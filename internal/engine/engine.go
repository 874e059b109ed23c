// Package engine is the central orchestrator of the trading runtime.
//
// It wires together all subsystems:
//
//  1. Predictor loads model bundles and turns closed bars into signals.
//  2. Executor mirrors each signal into real orders behind the risk gate.
//  3. Paper trader shadows every signal at frozen training costs.
//  4. Store persists sessions and trades to Supabase with a retry queue.
//  5. Hub streams telemetry out and accepts control commands in.
//
// Bootstrap order matters: persistence, predictor, connector, executor,
// paper, hub, reconcile, warmup, session, then the background loops.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"

	"oracle-trader/internal/broker"
	"oracle-trader/internal/config"
	"oracle-trader/internal/executor"
	"oracle-trader/internal/health"
	"oracle-trader/internal/hub"
	"oracle-trader/internal/paper"
	"oracle-trader/internal/predictor"
	"oracle-trader/internal/store"
	"oracle-trader/pkg/types"
)

const (
	barQueueSize         = 64
	healthInterval       = 30 * time.Second
	spreadInterval       = 30 * time.Second
	retryInterval        = 300 * time.Second
	hubReconnectInterval = 15 * time.Second
	analyticsInterval    = 30 * time.Second
)

// Engine orchestrates all components. It owns every background goroutine and
// the session lifecycle.
type Engine struct {
	cfg     *config.Config
	cfgPath string

	connector broker.Connector
	predictor *predictor.Predictor
	executor  *executor.Executor
	paper     *paper.Trader
	db        *store.Supabase
	storage   *store.LocalStorage
	monitor   *health.Monitor
	hub       *hub.Client
	logger    *slog.Logger

	// session and tradeLog are replaced on day change; sessionMu guards them.
	sessionMu sync.Mutex
	session   *store.SessionManager
	tradeLog  *store.TradeLogger

	running atomic.Bool
	paused  atomic.Bool
	barCh   chan types.Candle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the engine over an already-constructed connector. The connector
// is injected so the dry-run path can substitute the mock.
func New(cfg *config.Config, cfgPath string, connector broker.Connector, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		cfgPath:   cfgPath,
		connector: connector,
		logger:    logger.With("component", "engine"),
		barCh:     make(chan types.Candle, barQueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the full bootstrap sequence and launches the background loops.
// It returns once the system is live; errors abort the bootstrap.
func (e *Engine) Start() error {
	logger := e.logger

	// 1-2. Persistence first so every later step can log events.
	supaURL, supaKey := e.cfg.SupabaseURL, e.cfg.SupabaseKey
	if !e.cfg.Persistence.Enabled {
		supaURL, supaKey = "", ""
	}
	e.db = store.NewSupabase(supaURL, supaKey, e.logger)
	e.storage = store.NewLocalStorage(".")
	if pending, err := e.storage.LoadPending(); err == nil && len(pending) > 0 {
		e.db.RestorePending(pending)
		logger.Info("restored pending uploads", "count", len(pending))
	}

	// 3. Models.
	e.predictor = predictor.New(e.cfg.Predictor.MinBars, e.logger)
	if _, err := os.Stat(e.cfg.Predictor.ModelsDir); err == nil {
		loaded, err := e.predictor.LoadDir(e.cfg.Predictor.ModelsDir)
		if err != nil {
			return fmt.Errorf("load models: %w", err)
		}
		logger.Info("models loaded", "count", len(loaded), "symbols", loaded)
	} else {
		logger.Warn("models dir missing", "dir", e.cfg.Predictor.ModelsDir)
	}

	// 4. Broker.
	if err := e.connector.Connect(e.ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	// 5. Executor, with configs auto-created for every loaded model.
	ex, err := executor.New(e.connector, e.cfg.Executor.ConfigFile, e.logger)
	if err != nil {
		return fmt.Errorf("init executor: %w", err)
	}
	ex.SetDefaultBudgets(e.cfg.Executor.DefaultSLUSD, e.cfg.Executor.DefaultTPUSD)
	e.executor = ex
	for _, symbol := range e.predictor.Symbols() {
		if _, err := ex.EnsureSymbolConfig(symbol); err != nil {
			logger.Warn("symbol config not persisted", "symbol", symbol, "error", err)
		}
	}

	// 6. Paper shadow.
	e.paper = paper.NewTrader(e.cfg.InitialBalance, e.logger)
	for _, symbol := range e.predictor.Symbols() {
		if tc, ok := e.predictor.Training(symbol); ok {
			e.paper.LoadConfig(symbol, tc)
		}
	}

	// 7. Hub uplink (optional, non-fatal).
	if e.cfg.Hub.Enabled {
		e.hub = hub.New(e.cfg.Hub.URL, e.cfg.Hub.Token, e.cfg.Hub.InstanceID, e.handleCommand, e.logger)
		if err := e.hub.Connect(e.ctx); err != nil {
			logger.Warn("hub connect failed, will retry", "error", err)
		}
	}

	// 8. Reconcile existing broker positions against loaded models.
	e.reconcilePositions()

	// 9. Warmup.
	for _, symbol := range e.predictor.Symbols() {
		if err := e.warmupSymbol(symbol); err != nil {
			logger.Error("warmup failed", "symbol", symbol, "error", err)
		}
	}

	// 10. Session.
	e.session = store.NewSessionManager(e.db, e.storage, e.logger)
	sessionID, err := e.session.Start(e.ctx, e.cfg.InitialBalance, e.predictor.Symbols())
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	e.tradeLog = store.NewTradeLogger(e.db, sessionID)

	// 11. Health probes and background loops.
	e.monitor = health.NewMonitor()
	e.monitor.Connected = e.connector.IsConnected
	e.monitor.PendingCount = e.db.PendingCount

	e.running.Store(true)
	if err := e.subscribeAll(); err != nil {
		return fmt.Errorf("subscribe bars: %w", err)
	}
	e.startLoops()

	logger.Info("system ready",
		"session_id", sessionID,
		"symbols", e.predictor.Symbols(),
		"dry_run", e.cfg.Broker.Type == "mock")
	return nil
}

// Stop shuts the system down: optionally flattens positions, closes the
// session, persists the retry queue, and disconnects everything.
func (e *Engine) Stop(reason store.EndReason) {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.logger.Info("shutting down", "reason", reason)
	e.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.cfg.CloseOnExit && e.executor != nil {
		closed := e.executor.CloseAll(shutdownCtx)
		e.logger.Info("positions flattened on exit", "closed", closed)
	}

	e.sessionMu.Lock()
	if e.session != nil {
		e.session.End(shutdownCtx, e.sessionStats(), reason)
	}
	e.sessionMu.Unlock()

	if e.db != nil && e.storage != nil {
		if ops := e.db.PendingOps(); len(ops) > 0 {
			if err := e.storage.SavePending(ops); err != nil {
				e.logger.Warn("pending uploads not saved", "error", err)
			}
		}
	}

	e.connector.Disconnect()
	if e.hub != nil {
		e.hub.Disconnect()
	}

	e.wg.Wait()
	e.logger.Info("shutdown complete")
}

// Running reports whether the engine is live.
func (e *Engine) Running() bool { return e.running.Load() }

// ————————————————————————————————————————————————————————————————————————
// Bootstrap helpers
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) reconcilePositions() {
	for _, pos := range e.connector.GetPositions() {
		if e.predictor.HasModel(pos.Symbol) {
			e.logger.Info("existing position",
				"symbol", pos.Symbol,
				"direction", pos.Direction,
				"volume", pos.Volume,
				"open_price", pos.OpenPrice)
		} else {
			e.logger.Warn("orphan position, no model loaded", "symbol", pos.Symbol, "ticket", pos.Ticket)
		}
	}
}

// warmupSymbol fetches history and feeds it silently. On a fetch failure the
// cached bars from the previous run are used instead.
func (e *Engine) warmupSymbol(symbol string) error {
	tf := e.symbolTimeframe(symbol)
	bars, err := e.connector.GetHistory(e.ctx, symbol, tf, e.cfg.Predictor.WarmupBars)
	if err != nil || len(bars) == 0 {
		cached, cacheErr := e.storage.LoadCachedBars(symbol)
		if cacheErr != nil || len(cached) == 0 {
			if err == nil {
				err = fmt.Errorf("no history returned")
			}
			return err
		}
		e.logger.Warn("history fetch failed, warming from cache",
			"symbol", symbol, "cached_bars", len(cached), "error", err)
		bars = cached
	} else if cacheErr := e.storage.CacheBars(symbol, bars); cacheErr != nil {
		e.logger.Debug("bar cache not written", "symbol", symbol, "error", cacheErr)
	}

	predictions, err := e.predictor.Warmup(symbol, bars)
	if err != nil {
		return err
	}
	e.logger.Info("warmup done", "symbol", symbol, "bars", len(bars), "predictions", predictions)
	return nil
}

func (e *Engine) symbolTimeframe(symbol string) types.Timeframe {
	if tf, ok := e.predictor.Timeframe(symbol); ok {
		return tf
	}
	return types.Timeframe(e.cfg.Timeframe)
}

// subscribeAll groups loaded symbols by timeframe and subscribes each group.
// The callback only queues; the pipeline loop does the work.
func (e *Engine) subscribeAll() error {
	groups := make(map[types.Timeframe][]string)
	for _, symbol := range e.predictor.Symbols() {
		tf := e.symbolTimeframe(symbol)
		groups[tf] = append(groups[tf], symbol)
	}
	for tf, symbols := range groups {
		sort.Strings(symbols)
		if err := e.connector.SubscribeBars(e.ctx, symbols, tf, e.enqueueBar); err != nil {
			return err
		}
		e.logger.Info("subscribed", "timeframe", tf, "symbols", symbols)
	}
	return nil
}

func (e *Engine) enqueueBar(bar types.Candle) {
	if !e.running.Load() {
		return
	}
	select {
	case e.barCh <- bar:
	default:
		e.logger.Warn("bar queue full, dropping", "symbol", bar.Symbol, "time", bar.Time)
	}
}

func (e *Engine) startLoops() {
	loops := []func(){
		e.pipelineLoop,
		e.heartbeatLoop,
		e.healthLoop,
		e.retryLoop,
		e.spreadLoop,
	}
	if e.hub != nil {
		loops = append(loops, e.hubReconnectLoop)
	}
	for _, loop := range loops {
		e.wg.Add(1)
		go func(run func()) {
			defer e.wg.Done()
			run()
		}(loop)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Bar pipeline
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) pipelineLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case bar := <-e.barCh:
			e.processBar(bar)
		}
	}
}

// processBar runs one closed bar through predictor, executor, and shadow.
func (e *Engine) processBar(bar types.Candle) {
	if e.paused.Load() {
		return
	}
	sig := e.predictor.ProcessBar(bar)
	if sig == nil {
		return
	}

	ack := e.executor.ProcessSignal(e.ctx, sig)
	trade := e.paper.ProcessSignal(sig, bar)
	if trade != nil {
		e.sessionMu.Lock()
		tl := e.tradeLog
		e.sessionMu.Unlock()
		if tl != nil {
			tl.LogPaperTrade(e.ctx, trade)
		}
	}

	attrs := []any{
		"symbol", sig.Symbol,
		"action", types.ActionName(sig.Action),
		"regime", sig.Regime,
		"virtual_pnl", fmt.Sprintf("%.2f", sig.VirtualPnL),
		"exec", ack.Status,
	}
	if ack.Reason != "" {
		attrs = append(attrs, "reason", ack.Reason)
	}
	if ack.Ticket != 0 {
		attrs = append(attrs, "ticket", ack.Ticket)
	}
	e.logger.Info("bar processed", attrs...)

	e.monitor.Update(sig.Symbol)

	if e.hub != nil && e.hub.IsConnected() {
		e.hub.SendSignal(map[string]any{
			"symbol":      sig.Symbol,
			"action":      types.ActionName(sig.Action),
			"direction":   sig.Direction,
			"intensity":   sig.Intensity,
			"hmm_state":   sig.Regime,
			"virtual_pnl": round2(sig.VirtualPnL),
			"exec_status": string(ack.Status),
			"exec_reason": string(ack.Reason),
			"timestamp":   sig.Timestamp.Unix(),
		})
	}
}

// ————————————————————————————————————————————————————————————————————————
// Background loops
// ————————————————————————————————————————————————————————————————————————

// heartbeatLoop runs the hybrid telemetry cadence: every second while
// positions are open, every five seconds flat, with the heavy analytics block
// attached every thirty seconds.
func (e *Engine) heartbeatLoop() {
	lastAnalytics := time.Time{}
	for {
		positions := e.connector.GetPositions()
		interval := 5 * time.Second
		if len(positions) > 0 {
			interval = time.Second
		}

		account := e.connector.GetAccount()
		e.sessionMu.Lock()
		e.session.UpdateHeartbeat(account.Balance)
		dayChanged := e.session.CheckDayBoundary()
		e.sessionMu.Unlock()
		if dayChanged {
			e.logger.Info("UTC day boundary crossed")
			e.handleDayChange()
		}

		if e.hub != nil && e.hub.IsConnected() {
			includeAnalytics := time.Since(lastAnalytics) >= analyticsInterval
			e.hub.SendTelemetry(e.buildTelemetry(positions, includeAnalytics))
			if includeAnalytics {
				lastAnalytics = time.Now()
			}
		}

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (e *Engine) healthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			report := e.monitor.Check()
			if !report.Healthy {
				e.logger.Warn("health check", "issues", report.Issues, "memory_mb", report.MemoryMB)
			}
		}
	}
}

func (e *Engine) retryLoop() {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.db.RetryPending(e.ctx)
		}
	}
}

// spreadLoop refreshes the live spread snapshot the risk gate checks.
func (e *Engine) spreadLoop() {
	ticker := time.NewTicker(spreadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range e.predictor.Symbols() {
				if pips, ok := e.connector.SpreadPips(symbol); ok {
					e.executor.Guard().UpdateSpread(symbol, pips)
				}
			}
		}
	}
}

func (e *Engine) hubReconnectLoop() {
	ticker := time.NewTicker(hubReconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if !e.hub.IsConnected() {
				e.logger.Info("reconnecting to hub")
				if err := e.hub.Connect(e.ctx); err != nil {
					e.logger.Warn("hub reconnect failed", "error", err)
				}
			}
		}
	}
}

// handleDayChange flattens and rolls the session when configured to.
func (e *Engine) handleDayChange() {
	if !e.cfg.CloseOnDayChange {
		return
	}
	e.executor.CloseAll(e.ctx)

	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	e.session.End(e.ctx, e.sessionStats(), store.EndDayChange)

	account := e.connector.GetAccount()
	sessionID, err := e.session.Start(e.ctx, account.Balance, e.predictor.Symbols())
	if err != nil {
		e.logger.Error("day-change session restart failed", "error", err)
		return
	}
	e.tradeLog = store.NewTradeLogger(e.db, sessionID)
	e.logger.Info("new trading day session", "session_id", sessionID)
}

// sessionStats is called with sessionMu held or during single-threaded
// shutdown.
func (e *Engine) sessionStats() store.SessionStats {
	stats := store.SessionStats{}
	stats.Balance = e.connector.GetAccount().Balance
	if e.paper != nil {
		m := e.paper.Snapshot()
		stats.TotalTrades = m.TotalTrades
		stats.TotalPnL = m.TotalPnL
	}
	return stats
}

func (e *Engine) buildTelemetry(positions []types.Position, includeAnalytics bool) map[string]any {
	account := e.connector.GetAccount()

	floating := 0.0
	open := make([]map[string]any, 0, len(positions))
	for _, p := range positions {
		floating += p.PnL
		open = append(open, map[string]any{
			"symbol":        p.Symbol,
			"direction":     p.Direction,
			"volume":        p.Volume,
			"pnl":           round2(p.PnL),
			"open_price":    p.OpenPrice,
			"current_price": p.CurrentPrice,
		})
	}

	status := "RUNNING"
	if e.paused.Load() {
		status = "PAUSED"
	}
	telemetry := map[string]any{
		"balance":        round2(account.Balance),
		"equity":         round2(account.Equity),
		"floating_pnl":   round2(floating),
		"status":         status,
		"open_positions": open,
		"timestamp":      time.Now().Unix(),
	}

	metrics := e.paper.Snapshot()
	telemetry["net_profit"] = round2(metrics.TotalPnL)
	telemetry["win_rate"] = metrics.WinRate
	telemetry["total_trades"] = metrics.TotalTrades

	if includeAnalytics && metrics.TotalTrades > 0 {
		ext := e.paper.ExtendedSnapshot(types.TimeframeBarsPerYear[types.Timeframe(e.cfg.Timeframe)])
		telemetry["max_drawdown"] = -ext.MaxDrawdownPct
		telemetry["profit_factor"] = ext.ProfitFactor
		telemetry["sharpe_ratio"] = ext.Sharpe
		telemetry["expectancy"] = ext.Expectancy
		telemetry["avg_win"] = ext.AvgWin
		telemetry["avg_loss"] = ext.AvgLoss
		telemetry["equity_curve"] = ext.EquityCurve
	}
	return telemetry
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ————————————————————————————————————————————————————————————————————————
// Control commands
// ————————————————————————————————————————————————————————————————————————

// handleCommand dispatches one control command from the hub.
func (e *Engine) handleCommand(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	switch action {
	case "pause":
		e.paused.Store(true)
		e.executor.Pause()
		return map[string]any{"message": "paused"}, nil

	case "resume":
		e.paused.Store(false)
		e.executor.Resume()
		return map[string]any{"message": "resumed"}, nil

	case "close_all":
		closed := e.executor.CloseAll(ctx)
		return map[string]any{"closed": closed}, nil

	case "close_position":
		symbol, _ := params["symbol"].(string)
		if symbol == "" {
			return nil, fmt.Errorf("symbol required")
		}
		closed, err := e.executor.ClosePositionBySymbol(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return map[string]any{"symbol": symbol, "closed": closed}, nil

	case "status":
		report := e.monitor.Check()
		return map[string]any{
			"healthy":   report.Healthy,
			"issues":    report.Issues,
			"memory_mb": report.MemoryMB,
			"uptime_s":  report.UptimeS,
		}, nil

	case "get_state":
		state := e.buildTelemetry(e.connector.GetPositions(), true)
		state["running"] = e.running.Load() && !e.paused.Load()
		state["models"] = e.predictor.ListModels()
		state["executor"] = e.executor.Snapshot()
		return state, nil

	case "list_models":
		return map[string]any{"models": e.predictor.ListModels()}, nil

	case "get_available_models":
		return map[string]any{"available": e.availableModels()}, nil

	case "load_model":
		path, _ := params["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("path required")
		}
		return e.cmdLoadModel(ctx, path)

	case "unload_model":
		symbol, _ := params["symbol"].(string)
		if symbol == "" {
			return nil, fmt.Errorf("symbol required")
		}
		return e.cmdUnloadModel(ctx, symbol)

	case "get_symbol_config":
		symbol, _ := params["symbol"].(string)
		return e.cmdGetSymbolConfig(symbol)

	case "set_symbol_config":
		symbol, _ := params["symbol"].(string)
		fields, _ := params["config"].(map[string]any)
		return e.cmdSetSymbolConfig(symbol, fields)

	case "get_general_config":
		return e.cmdGetGeneralConfig(), nil

	case "set_general_config":
		return e.cmdSetGeneralConfig(params)
	}
	return nil, fmt.Errorf("unknown action %q", action)
}

func (e *Engine) availableModels() []string {
	entries, err := os.ReadDir(e.cfg.Predictor.ModelsDir)
	if err != nil {
		return []string{}
	}
	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".zip") {
			names = append(names, entry.Name())
		}
	}
	return names
}

// cmdLoadModel loads a bundle at runtime and runs the full per-symbol setup:
// executor config, shadow account, warmup, subscription, heartbeat.
func (e *Engine) cmdLoadModel(ctx context.Context, path string) (map[string]any, error) {
	symbol, err := e.predictor.LoadModel(path)
	if err != nil {
		return nil, err
	}

	if _, err := e.executor.EnsureSymbolConfig(symbol); err != nil {
		e.logger.Warn("symbol config not persisted", "symbol", symbol, "error", err)
	}
	if tc, ok := e.predictor.Training(symbol); ok {
		e.paper.LoadConfig(symbol, tc)
	}
	if err := e.warmupSymbol(symbol); err != nil {
		e.logger.Error("warmup failed", "symbol", symbol, "error", err)
	}

	tf := e.symbolTimeframe(symbol)
	if err := e.connector.SubscribeBars(ctx, []string{symbol}, tf, e.enqueueBar); err != nil {
		return nil, fmt.Errorf("model loaded but subscribe failed: %w", err)
	}
	e.monitor.Update(symbol)

	return map[string]any{"success": true, "symbol": symbol}, nil
}

func (e *Engine) cmdUnloadModel(ctx context.Context, symbol string) (map[string]any, error) {
	if err := e.predictor.UnloadModel(symbol); err != nil {
		return nil, err
	}
	if err := e.connector.UnsubscribeBars(ctx, []string{symbol}); err != nil {
		e.logger.Warn("unsubscribe failed", "symbol", symbol, "error", err)
	}
	e.paper.UnloadConfig(symbol)
	e.monitor.ResetSymbol(symbol)
	return map[string]any{"success": true, "symbol": symbol}, nil
}

func (e *Engine) cmdGetSymbolConfig(symbol string) (map[string]any, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	cfg, ok := e.executor.SymbolConfigFor(symbol)
	if !ok {
		// Auto-create when a model is loaded but the config entry is missing.
		if !e.predictor.HasModel(symbol) {
			return nil, fmt.Errorf("config not found: %s", symbol)
		}
		if _, err := e.executor.EnsureSymbolConfig(symbol); err != nil {
			return nil, err
		}
		cfg, _ = e.executor.SymbolConfigFor(symbol)
	}
	return map[string]any{"symbol": symbol, "config": cfg}, nil
}

func (e *Engine) cmdSetSymbolConfig(symbol string, fields map[string]any) (map[string]any, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if _, ok := e.executor.SymbolConfigFor(symbol); !ok {
		if !e.predictor.HasModel(symbol) {
			return nil, fmt.Errorf("symbol not found: %s", symbol)
		}
		if _, err := e.executor.EnsureSymbolConfig(symbol); err != nil {
			return nil, err
		}
	}
	cfg, err := e.executor.PatchSymbolConfig(symbol, fields)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "symbol": symbol, "config": cfg}, nil
}

func (e *Engine) cmdGetGeneralConfig() map[string]any {
	return map[string]any{
		"broker_type":         e.cfg.Broker.Type,
		"broker_env":          e.cfg.Broker.Environment,
		"timeframe":           e.cfg.Timeframe,
		"initial_balance":     e.cfg.InitialBalance,
		"warmup_bars":         e.cfg.Predictor.WarmupBars,
		"models_dir":          e.cfg.Predictor.ModelsDir,
		"persistence_enabled": e.cfg.Persistence.Enabled,
		"hub_connected":       e.hub != nil && e.hub.IsConnected(),
		"close_on_exit":       e.cfg.CloseOnExit,
		"close_on_day_change": e.cfg.CloseOnDayChange,
		"default_sl_usd":      e.cfg.Executor.DefaultSLUSD,
		"default_tp_usd":      e.cfg.Executor.DefaultTPUSD,
	}
}

// cmdSetGeneralConfig accepts the mutable subset of the YAML config, applies
// it live, and persists both the YAML and the executor JSON.
func (e *Engine) cmdSetGeneralConfig(params map[string]any) (map[string]any, error) {
	updated := map[string]any{}

	if v, ok := params["close_on_exit"].(bool); ok {
		e.cfg.CloseOnExit = v
		updated["close_on_exit"] = v
	}
	if v, ok := params["close_on_day_change"].(bool); ok {
		e.cfg.CloseOnDayChange = v
		updated["close_on_day_change"] = v
	}

	var slPtr, tpPtr *float64
	if v, ok := asFloat(params["default_sl_usd"]); ok {
		e.cfg.Executor.DefaultSLUSD = v
		updated["default_sl_usd"] = v
		slPtr = &v
	}
	if v, ok := asFloat(params["default_tp_usd"]); ok {
		e.cfg.Executor.DefaultTPUSD = v
		updated["default_tp_usd"] = v
		tpPtr = &v
	}
	if slPtr != nil || tpPtr != nil {
		e.executor.SetDefaultBudgets(e.cfg.Executor.DefaultSLUSD, e.cfg.Executor.DefaultTPUSD)
		if err := e.executor.ApplyBudgetsToAll(slPtr, tpPtr); err != nil {
			return nil, err
		}
	}

	if len(updated) > 0 {
		if err := e.saveGeneralConfig(); err != nil {
			e.logger.Error("general config not persisted", "error", err)
		}
	}
	return map[string]any{"success": true, "updated": updated}, nil
}

// saveGeneralConfig rewrites the YAML config file from the live struct.
func (e *Engine) saveGeneralConfig() error {
	if e.cfgPath == "" {
		return nil
	}
	v := viper.New()
	v.Set("broker", map[string]any{
		"type":          e.cfg.Broker.Type,
		"environment":   e.cfg.Broker.Environment,
		"client_id":     e.cfg.Broker.ClientID,
		"client_secret": e.cfg.Broker.ClientSecret,
		"access_token":  e.cfg.Broker.AccessToken,
		"account_id":    e.cfg.Broker.AccountID,
	})
	v.Set("timeframe", e.cfg.Timeframe)
	v.Set("initial_balance", e.cfg.InitialBalance)
	v.Set("close_on_exit", e.cfg.CloseOnExit)
	v.Set("close_on_day_change", e.cfg.CloseOnDayChange)
	v.Set("preditor", map[string]any{
		"models_dir":  e.cfg.Predictor.ModelsDir,
		"warmup_bars": e.cfg.Predictor.WarmupBars,
		"min_bars":    e.cfg.Predictor.MinBars,
	})
	v.Set("executor", map[string]any{
		"config_file":    e.cfg.Executor.ConfigFile,
		"default_sl_usd": e.cfg.Executor.DefaultSLUSD,
		"default_tp_usd": e.cfg.Executor.DefaultTPUSD,
	})
	v.Set("hub", map[string]any{
		"enabled":     e.cfg.Hub.Enabled,
		"url":         e.cfg.Hub.URL,
		"token":       e.cfg.Hub.Token,
		"instance_id": e.cfg.Hub.InstanceID,
	})
	v.Set("persistence", map[string]any{"enabled": e.cfg.Persistence.Enabled})
	v.Set("supabase_url", e.cfg.SupabaseURL)
	v.Set("supabase_key", e.cfg.SupabaseKey)
	v.Set("logging", map[string]any{
		"level":    e.cfg.Logging.Level,
		"log_file": e.cfg.Logging.LogFile,
	})

	if err := os.MkdirAll(filepath.Dir(e.cfgPath), 0o755); err != nil {
		return err
	}
	return v.WriteConfigAs(e.cfgPath)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
