package store

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"oracle-trader/internal/paper"
)

// TradeRecord is one closed trade, real or shadow, bound to a session.
type TradeRecord struct {
	Symbol     string
	Direction  int
	Intensity  int
	Action     string
	Volume     float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	PnLPips    float64
	Commission float64
	Regime     int
	Comment    string
	IsPaper    bool
}

// TradeLogger stamps trades with the session id and ships them to the
// trades table.
type TradeLogger struct {
	db        *Supabase
	sessionID string
}

// NewTradeLogger binds a logger to one session.
func NewTradeLogger(db *Supabase, sessionID string) *TradeLogger {
	return &TradeLogger{db: db, sessionID: sessionID}
}

// LogTrade uploads one trade record; failures land in the retry queue.
func (l *TradeLogger) LogTrade(ctx context.Context, t TradeRecord) {
	l.db.Insert(ctx, "trades", map[string]any{
		"trade_id":    uuid.NewString()[:8],
		"session_id":  l.sessionID,
		"symbol":      t.Symbol,
		"direction":   t.Direction,
		"intensity":   t.Intensity,
		"action":      t.Action,
		"volume":      t.Volume,
		"entry_price": t.EntryPrice,
		"exit_price":  t.ExitPrice,
		"pnl":         round2(t.PnL),
		"pnl_pips":    round1(t.PnLPips),
		"commission":  t.Commission,
		"hmm_state":   t.Regime,
		"comment":     t.Comment,
		"is_paper":    t.IsPaper,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// LogPaperTrade records a closed shadow trade.
func (l *TradeLogger) LogPaperTrade(ctx context.Context, t *paper.Trade) {
	l.LogTrade(ctx, TradeRecord{
		Symbol:     t.Symbol,
		Direction:  t.Direction,
		Intensity:  t.Intensity,
		Action:     "CLOSE",
		Volume:     t.Volume,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		PnL:        t.PnL,
		PnLPips:    t.PnLPips,
		Commission: t.Commission,
		Regime:     t.Regime,
		IsPaper:    true,
	})
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
