package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"oracle-trader/internal/broker"
	"oracle-trader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeSymbolConfig(t *testing.T, entries map[string]any) string {
	t.Helper()
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "symbols.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newTestExecutor(t *testing.T, entries map[string]any) (*Executor, *broker.Mock) {
	t.Helper()
	mock := broker.NewMock()
	mock.AddSymbol(types.SymbolInfo{
		Name: "EURUSD", ID: 1, Digits: 5, Point: 0.00001,
		LotSize: 100000, MinVolume: 0.01, MaxVolume: 100, StepVolume: 0.01,
	}, 1.10000, 1.0)

	e, err := New(mock, writeSymbolConfig(t, entries), testLogger())
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return e, mock
}

func defaultEntries() map[string]any {
	return map[string]any{
		"EURUSD": map[string]any{
			"enabled": true, "lot_weak": 0.01, "lot_moderate": 0.03,
			"lot_strong": 0.05, "sl_usd": 10.0, "tp_usd": 20.0,
			"max_spread_pips": 2.0,
		},
	}
}

func liveSignal(dir, intensity int) *types.Signal {
	return &types.Signal{
		Symbol: "EURUSD", Direction: dir, Intensity: intensity,
		Regime: 1, Action: 2, VirtualPnL: -0.27,
	}
}

func TestProcessSignalNoConfig(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, map[string]any{})
	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Status != types.AckSkip || ack.Reason != types.SkipNoConfig {
		t.Fatalf("ack = %+v, want SKIP NO_CONFIG", ack)
	}
}

func TestProcessSignalDisabled(t *testing.T) {
	t.Parallel()
	entries := defaultEntries()
	entries["EURUSD"].(map[string]any)["enabled"] = false
	e, _ := newTestExecutor(t, entries)
	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Status != types.AckSkip || ack.Reason != types.SkipDisabled {
		t.Fatalf("ack = %+v, want SKIP DISABLED", ack)
	}
}

func TestProcessSignalPaused(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, defaultEntries())
	e.Pause()
	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Status != types.AckSkip || ack.Reason != types.SkipPaused {
		t.Fatalf("ack = %+v, want SKIP PAUSED", ack)
	}
	e.Resume()
	if ack := e.ProcessSignal(context.Background(), liveSignal(1, 2)); ack.Status != types.AckOK {
		t.Fatalf("ack after resume = %+v, want OK", ack)
	}
}

func TestProcessSignalFirstOpen(t *testing.T) {
	t.Parallel()
	e, mock := newTestExecutor(t, defaultEntries())

	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Status != types.AckOK || ack.Decision != types.DecisionOpen {
		t.Fatalf("ack = %+v, want OK OPEN", ack)
	}
	if ack.Ticket == 0 || ack.Volume != 0.03 {
		t.Fatalf("ticket=%d volume=%v", ack.Ticket, ack.Volume)
	}

	req := mock.OrderLog[0]
	// $10 stop on 0.03 lots at $10/pip is 33.33 pips below 1.10000.
	wantSL := 1.09667
	if req.StopLoss != wantSL {
		t.Fatalf("stop = %v, want %v", req.StopLoss, wantSL)
	}
	// $20 take doubles the distance on the other side.
	wantTP := 1.10667
	if req.TakeProfit != wantTP {
		t.Fatalf("take = %v, want %v", req.TakeProfit, wantTP)
	}
	if _, ok := ParseComment(req.Comment); !ok {
		t.Fatalf("order comment not parseable: %q", req.Comment)
	}
}

func TestProcessSignalAlignedIsNoop(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, defaultEntries())
	e.ProcessSignal(context.Background(), liveSignal(1, 2))

	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Status != types.AckNoop || ack.Decision != types.DecisionNoop {
		t.Fatalf("ack = %+v, want NOOP", ack)
	}
}

func TestProcessSignalWaitCloses(t *testing.T) {
	t.Parallel()
	e, mock := newTestExecutor(t, defaultEntries())
	e.ProcessSignal(context.Background(), liveSignal(1, 2))

	ack := e.ProcessSignal(context.Background(), liveSignal(0, 0))
	if ack.Status != types.AckOK || ack.Decision != types.DecisionClose {
		t.Fatalf("ack = %+v, want OK CLOSE", ack)
	}
	if _, ok := mock.GetPosition("EURUSD"); ok {
		t.Fatal("position still open after CLOSE")
	}
}

func TestProcessSignalReverse(t *testing.T) {
	t.Parallel()
	e, mock := newTestExecutor(t, defaultEntries())
	first := e.ProcessSignal(context.Background(), liveSignal(1, 2))

	ack := e.ProcessSignal(context.Background(), liveSignal(-1, 1))
	if ack.Status != types.AckOK || ack.Decision != types.DecisionCloseAndOpen {
		t.Fatalf("ack = %+v, want OK CLOSE_AND_OPEN", ack)
	}
	if ack.Ticket == first.Ticket {
		t.Fatal("reverse should produce a fresh ticket")
	}
	pos, ok := mock.GetPosition("EURUSD")
	if !ok || pos.Direction != -1 || pos.Volume != 0.01 {
		t.Fatalf("position after reverse = %+v", pos)
	}
}

func TestProcessSignalEdgeBlocksRepeat(t *testing.T) {
	t.Parallel()
	e, mock := newTestExecutor(t, defaultEntries())

	// First open consumes first-live but the broker rejects it, so the
	// repeat of the same signal finds no position and no transition.
	mock.FailNextOrder = true
	if ack := e.ProcessSignal(context.Background(), liveSignal(1, 2)); ack.Status != types.AckError {
		t.Fatalf("ack = %+v, want ERROR from rejected order", ack)
	}

	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Status != types.AckSkip || ack.Reason != types.SkipNoEdge {
		t.Fatalf("ack = %+v, want SKIP NO_EDGE", ack)
	}

	// A different intensity is a transition and goes through.
	ack = e.ProcessSignal(context.Background(), liveSignal(1, 3))
	if ack.Status != types.AckOK || ack.Volume != 0.05 {
		t.Fatalf("ack = %+v, want OK with strong lot", ack)
	}
}

func TestProcessSignalZeroLot(t *testing.T) {
	t.Parallel()
	entries := defaultEntries()
	entries["EURUSD"].(map[string]any)["lot_weak"] = 0.0
	e, _ := newTestExecutor(t, entries)

	ack := e.ProcessSignal(context.Background(), liveSignal(1, 1))
	if ack.Status != types.AckSkip || ack.Reason != types.SkipZeroLot {
		t.Fatalf("ack = %+v, want SKIP ZERO_LOT", ack)
	}
}

func TestRiskGateDrawdown(t *testing.T) {
	t.Parallel()
	entries := defaultEntries()
	entries["_risk"] = map[string]any{
		"initial_balance": 10000.0, "dd_limit_pct": 5.0,
		"dd_emergency_pct": 10.0, "max_consecutive_losses": 5,
	}
	e, mock := newTestExecutor(t, entries)

	mock.SetAccount(types.AccountInfo{Balance: 9400, Equity: 9400, FreeMargin: 9400})
	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Reason != types.SkipDDLimit {
		t.Fatalf("ack = %+v, want SKIP DD_LIMIT at 6%% drawdown", ack)
	}

	mock.SetAccount(types.AccountInfo{Balance: 8900, Equity: 8900, FreeMargin: 8900})
	ack = e.ProcessSignal(context.Background(), liveSignal(1, 3))
	if ack.Reason != types.SkipEmergency {
		t.Fatalf("ack = %+v, want SKIP EMERGENCY at 11%% drawdown", ack)
	}
}

func TestRiskGateMargin(t *testing.T) {
	t.Parallel()
	e, mock := newTestExecutor(t, defaultEntries())
	mock.SetAccount(types.AccountInfo{Balance: 10000, Equity: 10000, FreeMargin: 10})

	// 0.03 lots needs ~30 of free margin.
	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Reason != types.SkipMargin {
		t.Fatalf("ack = %+v, want SKIP MARGIN", ack)
	}
}

func TestRiskGateSpread(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, defaultEntries())
	e.Guard().UpdateSpread("EURUSD", 3.5) // max is 2.0

	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Reason != types.SkipSpread {
		t.Fatalf("ack = %+v, want SKIP SPREAD", ack)
	}

	// Unknown spread fails open.
	e2, _ := newTestExecutor(t, defaultEntries())
	if ack := e2.ProcessSignal(context.Background(), liveSignal(1, 2)); ack.Status != types.AckOK {
		t.Fatalf("ack = %+v, want OK with unknown spread", ack)
	}
}

func TestRiskGateCircuitBreaker(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, defaultEntries())
	for i := 0; i < 5; i++ {
		e.Guard().RecordTradeResult(-1)
	}

	ack := e.ProcessSignal(context.Background(), liveSignal(1, 2))
	if ack.Reason != types.SkipCircuitBreaker {
		t.Fatalf("ack = %+v, want SKIP CIRCUIT_BREAKER", ack)
	}

	// A win resets the streak.
	e.Guard().RecordTradeResult(5)
	if ack := e.ProcessSignal(context.Background(), liveSignal(1, 2)); ack.Status != types.AckOK {
		t.Fatalf("ack = %+v, want OK after winning trade", ack)
	}
}

func TestCloseAll(t *testing.T) {
	t.Parallel()
	e, mock := newTestExecutor(t, defaultEntries())
	mock.SetPosition(types.Position{Ticket: 7, Symbol: "EURUSD", Direction: 1, Volume: 0.01, PnL: 3})
	mock.SetPosition(types.Position{Ticket: 8, Symbol: "GBPUSD", Direction: -1, Volume: 0.02, PnL: -2})

	if closed := e.CloseAll(context.Background()); closed != 2 {
		t.Fatalf("closed = %d, want 2", closed)
	}
	if len(mock.GetPositions()) != 0 {
		t.Fatal("positions remain after close_all")
	}
}

func TestEnsureAndPatchSymbolConfig(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, defaultEntries())

	created, err := e.EnsureSymbolConfig("GBPUSD")
	if err != nil || !created {
		t.Fatalf("ensure: created=%v err=%v", created, err)
	}
	if created, _ := e.EnsureSymbolConfig("GBPUSD"); created {
		t.Fatal("second ensure should be a no-op")
	}

	cfg, err := e.PatchSymbolConfig("GBPUSD", map[string]any{"sl_usd": 25.0, "enabled": false})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if cfg.StopUSD != 25.0 || cfg.Enabled {
		t.Fatalf("patched config = %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.LotWeak != 0.01 {
		t.Fatalf("lot_weak = %v after patch", cfg.LotWeak)
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.json")

	cf := &ConfigFile{
		Symbols:  map[string]SymbolConfig{"EURUSD": DefaultSymbolConfig()},
		Risk:     RiskSettings{InitialBalance: 10000, DDLimitPct: 4, DDEmergencyPct: 8, MaxConsecutiveLosses: 3},
		reserved: map[string]json.RawMessage{"_comment": json.RawMessage(`"hands off"`)},
	}
	if err := cf.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Risk.DDLimitPct != 4 || got.Risk.MaxConsecutiveLosses != 3 {
		t.Fatalf("risk = %+v", got.Risk)
	}
	if _, ok := got.Symbols["EURUSD"]; !ok {
		t.Fatal("symbol entry lost")
	}
	if string(got.reserved["_comment"]) != `"hands off"` {
		t.Fatalf("reserved key lost: %v", got.reserved)
	}
}

func TestCommentRoundTrip(t *testing.T) {
	t.Parallel()
	c := BuildComment(3, 5, 2, 10234.7, 1.26, -0.2712)
	fields, ok := ParseComment(c)
	if !ok {
		t.Fatalf("unparseable comment %q", c)
	}
	if fields.Version != CommentVersion || fields.Regime != 3 || fields.Action != 5 || fields.Intensity != 2 {
		t.Fatalf("fields = %+v", fields)
	}
	if fields.Balance != 10234 || fields.DrawdownPct != 1.3 || fields.VirtualPnL != -0.27 {
		t.Fatalf("numeric fields = %+v", fields)
	}
	if len(c) > 100 {
		t.Fatalf("comment too long: %d", len(c))
	}

	if _, ok := ParseComment("manual order"); ok {
		t.Fatal("free-text comment should not parse")
	}
	if _, ok := ParseComment("O|2.0|x"); ok {
		t.Fatal("short comment should not parse")
	}
}

func TestPriceConverterZeroBudgetMeansNoStop(t *testing.T) {
	t.Parallel()
	mock := broker.NewMock()
	mock.AddSymbol(types.SymbolInfo{Name: "EURUSD", Digits: 5, Point: 0.00001}, 1.1, 1.0)
	c := NewPriceConverter(mock, testLogger())

	if sl := c.StopLossPrice("EURUSD", 1, 0, 0.01, 1.1); sl != 0 {
		t.Fatalf("sl = %v, want 0 for zero budget", sl)
	}
	if tp := c.TakeProfitPrice("EURUSD", 1, 0, 0.01, 1.1); tp != 0 {
		t.Fatalf("tp = %v, want 0 for zero budget", tp)
	}
}

func TestPriceConverterSanity(t *testing.T) {
	t.Parallel()
	mock := broker.NewMock()
	mock.AddSymbol(types.SymbolInfo{Name: "EURUSD", Digits: 5, Point: 0.00001}, 1.1, 1.0)
	c := NewPriceConverter(mock, testLogger())

	// $10 on 0.01 lots at $10/pip is 100 pips, 0.01000 of price.
	sl := c.StopLossPrice("EURUSD", 1, 10, 0.01, 1.10000)
	if sl != 1.09 {
		t.Fatalf("long sl = %v, want 1.09", sl)
	}
	if sl := c.StopLossPrice("EURUSD", -1, 10, 0.01, 1.10000); sl != 1.11 {
		t.Fatalf("short sl = %v, want 1.11", sl)
	}

	// Unknown USD-quote pair estimates $10/pip.
	sl = c.StopLossPrice("XAGUSD", 1, 10, 0.01, 25.0)
	if sl == 0 {
		t.Fatal("estimation fallback should still produce a stop")
	}
}
