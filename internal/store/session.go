package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EndReason classifies why a session ended.
type EndReason string

const (
	EndNormal    EndReason = "NORMAL"
	EndEmergency EndReason = "EMERGENCY"
	EndDayChange EndReason = "DAY_CHANGE"
	EndRecovered EndReason = "RECOVERED"
	EndManual    EndReason = "MANUAL"
)

// SessionStats is the summary written when a session closes.
type SessionStats struct {
	Balance     float64 `json:"balance"`
	TotalTrades int     `json:"total_trades"`
	TotalPnL    float64 `json:"total_pnl"`
}

// SessionManager owns the session lifecycle: start or crash-recover, local
// heartbeat snapshots, UTC day-boundary detection, and the closing record.
type SessionManager struct {
	db      *Supabase
	storage *LocalStorage
	logger  *slog.Logger

	sessionID string
	startTime time.Time
	recovered bool
	dayStart  time.Time
	running   bool

	now func() time.Time
}

// NewSessionManager wires the manager over the Supabase client and local
// storage.
func NewSessionManager(db *Supabase, storage *LocalStorage, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		db:      db,
		storage: storage,
		logger:  logger.With("component", "session"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start begins a new session, or adopts the previous one when the state file
// still says RUNNING (crash recovery). Returns the active session id.
func (m *SessionManager) Start(ctx context.Context, initialBalance float64, symbols []string) (string, error) {
	prev, found, err := m.storage.LoadSessionState()
	if err != nil {
		m.logger.Warn("unreadable session state, starting fresh", "error", err)
	}
	if found && prev.Status == "RUNNING" && prev.SessionID != "" {
		m.sessionID = prev.SessionID
		m.recovered = true
		m.startTime = m.now()
		m.dayStart = dayStart(m.startTime)
		m.running = true
		m.db.LogEvent(ctx, "SESSION_RECOVERED",
			map[string]any{"old_session_id": m.sessionID}, m.sessionID)
		m.logger.Info("session recovered", "session_id", m.sessionID)
		return m.sessionID, nil
	}

	m.sessionID = uuid.NewString()[:8]
	m.startTime = m.now()
	m.dayStart = dayStart(m.startTime)
	m.recovered = false
	m.running = true

	state := SessionState{
		SessionID:      m.sessionID,
		StartTime:      m.startTime.Format(time.RFC3339),
		InitialBalance: initialBalance,
		Symbols:        symbols,
		Status:         "RUNNING",
	}
	if err := m.storage.SaveSessionState(state); err != nil {
		m.logger.Warn("session state not persisted", "error", err)
	}
	m.db.Insert(ctx, "sessions", map[string]any{
		"session_id":      m.sessionID,
		"start_time":      state.StartTime,
		"initial_balance": initialBalance,
		"symbols":         symbols,
		"status":          "RUNNING",
	})

	m.logger.Info("session started", "session_id", m.sessionID, "symbols", symbols)
	return m.sessionID, nil
}

// End closes the session with stats and removes the recovery snapshot.
func (m *SessionManager) End(ctx context.Context, stats SessionStats, reason EndReason) {
	if !m.running {
		return
	}
	m.running = false

	m.db.Update(ctx, "sessions", map[string]any{
		"end_time":      m.now().Format(time.RFC3339),
		"final_balance": stats.Balance,
		"total_trades":  stats.TotalTrades,
		"total_pnl":     stats.TotalPnL,
		"end_reason":    string(reason),
		"status":        "STOPPED",
	}, "session_id", m.sessionID)

	if err := m.storage.ClearSessionState(); err != nil {
		m.logger.Warn("session state not cleared", "error", err)
	}
	m.logger.Info("session ended", "session_id", m.sessionID, "reason", reason)
}

// UpdateHeartbeat refreshes the local RUNNING snapshot.
func (m *SessionManager) UpdateHeartbeat(balance float64) {
	if !m.running {
		return
	}
	state, _, err := m.storage.LoadSessionState()
	if err != nil {
		return
	}
	state.SessionID = m.sessionID
	state.Status = "RUNNING"
	state.LastHeartbeat = m.now().Format(time.RFC3339)
	state.CurrentBalance = balance
	if err := m.storage.SaveSessionState(state); err != nil {
		m.logger.Debug("heartbeat not persisted", "error", err)
	}
}

// CheckDayBoundary reports whether the UTC day has rolled over since the
// last check, advancing the tracked day when it has.
func (m *SessionManager) CheckDayBoundary() bool {
	current := dayStart(m.now())
	if m.dayStart.IsZero() {
		m.dayStart = current
		return false
	}
	if current.After(m.dayStart) {
		m.dayStart = current
		return true
	}
	return false
}

// SessionID returns the active session id.
func (m *SessionManager) SessionID() string { return m.sessionID }

// Recovered reports whether this session was adopted from a crash.
func (m *SessionManager) Recovered() bool { return m.recovered }

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
