package store

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"oracle-trader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLocalStorageRoundTrips(t *testing.T) {
	t.Parallel()
	s := NewLocalStorage(t.TempDir())

	if _, found, err := s.LoadSessionState(); err != nil || found {
		t.Fatalf("fresh dir: found=%v err=%v", found, err)
	}

	state := SessionState{SessionID: "abcd1234", Status: "RUNNING", InitialBalance: 10000}
	if err := s.SaveSessionState(state); err != nil {
		t.Fatalf("save state: %v", err)
	}
	got, found, err := s.LoadSessionState()
	if err != nil || !found || got.SessionID != "abcd1234" {
		t.Fatalf("load state: %+v found=%v err=%v", got, found, err)
	}
	if err := s.ClearSessionState(); err != nil {
		t.Fatalf("clear state: %v", err)
	}
	if _, found, _ := s.LoadSessionState(); found {
		t.Fatal("state survives clear")
	}

	bars := []types.Candle{{Symbol: "EURUSD", Time: 900, Close: 1.1}}
	if err := s.CacheBars("EURUSD", bars); err != nil {
		t.Fatalf("cache bars: %v", err)
	}
	cached, err := s.LoadCachedBars("EURUSD")
	if err != nil || len(cached) != 1 || cached[0].Close != 1.1 {
		t.Fatalf("cached bars = %v err=%v", cached, err)
	}

	ops := []PendingOp{{Table: "trades", Operation: "insert", Data: map[string]any{"pnl": 1.0}}}
	if err := s.SavePending(ops); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	loaded, err := s.LoadPending()
	if err != nil || len(loaded) != 1 || loaded[0].Table != "trades" {
		t.Fatalf("load pending = %v err=%v", loaded, err)
	}
}

func TestSupabaseDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := NewSupabase("", "", testLogger())
	if s.Enabled() {
		t.Fatal("client without credentials should be disabled")
	}
	if err := s.Insert(context.Background(), "trades", map[string]any{"x": 1}); err != nil {
		t.Fatalf("disabled insert errored: %v", err)
	}
	if s.PendingCount() != 0 {
		t.Fatal("disabled client queued an op")
	}
}

func TestSupabaseQueuesOnFailureAndRetries(t *testing.T) {
	t.Parallel()
	var healthy atomic.Bool
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		received.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL, "test-key", testLogger())
	s.http.SetRetryCount(0)

	if err := s.Insert(context.Background(), "trades", map[string]any{"pnl": 1.0}); err == nil {
		t.Fatal("insert against a 503 should error")
	}
	if s.PendingCount() != 1 {
		t.Fatalf("queue depth = %d, want 1", s.PendingCount())
	}

	healthy.Store(true)
	if done := s.RetryPending(context.Background()); done != 1 {
		t.Fatalf("retried = %d, want 1", done)
	}
	if s.PendingCount() != 0 || received.Load() != 1 {
		t.Fatalf("queue=%d received=%d after retry", s.PendingCount(), received.Load())
	}
}

func TestSupabaseQueueIsBounded(t *testing.T) {
	t.Parallel()
	s := NewSupabase("http://127.0.0.1:1", "key", testLogger())
	for i := 0; i < maxRetryQueue+50; i++ {
		s.enqueue(PendingOp{Table: "events", Operation: "insert"})
	}
	if s.PendingCount() != maxRetryQueue {
		t.Fatalf("queue depth = %d, want cap %d", s.PendingCount(), maxRetryQueue)
	}
}

func TestSupabaseRestorePending(t *testing.T) {
	t.Parallel()
	s := NewSupabase("http://127.0.0.1:1", "key", testLogger())
	s.RestorePending([]PendingOp{{Table: "trades", Operation: "insert"}})
	if s.PendingCount() != 1 {
		t.Fatalf("queue depth = %d after restore", s.PendingCount())
	}
	ops := s.PendingOps()
	if len(ops) != 1 || ops[0].Table != "trades" {
		t.Fatalf("snapshot = %v", ops)
	}
}

func newTestSession(t *testing.T) (*SessionManager, *LocalStorage) {
	t.Helper()
	storage := NewLocalStorage(t.TempDir())
	db := NewSupabase("", "", testLogger())
	return NewSessionManager(db, storage, testLogger()), storage
}

func TestSessionStartFresh(t *testing.T) {
	t.Parallel()
	m, storage := newTestSession(t)

	id, err := m.Start(context.Background(), 10000, []string{"EURUSD"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(id) != 8 || m.Recovered() {
		t.Fatalf("id=%q recovered=%v", id, m.Recovered())
	}

	state, found, _ := storage.LoadSessionState()
	if !found || state.SessionID != id || state.Status != "RUNNING" {
		t.Fatalf("state = %+v found=%v", state, found)
	}

	m.End(context.Background(), SessionStats{Balance: 10100, TotalTrades: 3}, EndNormal)
	if _, found, _ := storage.LoadSessionState(); found {
		t.Fatal("state file survives a clean end")
	}
}

func TestSessionRecoversRunningState(t *testing.T) {
	t.Parallel()
	m, storage := newTestSession(t)
	storage.SaveSessionState(SessionState{SessionID: "dead1234", Status: "RUNNING"})

	id, err := m.Start(context.Background(), 10000, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "dead1234" || !m.Recovered() {
		t.Fatalf("id=%q recovered=%v, want recovery", id, m.Recovered())
	}
}

func TestSessionIgnoresStoppedState(t *testing.T) {
	t.Parallel()
	m, storage := newTestSession(t)
	storage.SaveSessionState(SessionState{SessionID: "done5678", Status: "STOPPED"})

	id, _ := m.Start(context.Background(), 10000, nil)
	if id == "done5678" {
		t.Fatal("stopped session must not be recovered")
	}
}

func TestSessionHeartbeatUpdatesSnapshot(t *testing.T) {
	t.Parallel()
	m, storage := newTestSession(t)
	m.Start(context.Background(), 10000, nil)

	m.UpdateHeartbeat(10250)
	state, _, _ := storage.LoadSessionState()
	if state.CurrentBalance != 10250 || state.LastHeartbeat == "" {
		t.Fatalf("heartbeat state = %+v", state)
	}
}

func TestSessionDayBoundary(t *testing.T) {
	t.Parallel()
	m, _ := newTestSession(t)
	current := time.Date(2026, 8, 25, 23, 50, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.Start(context.Background(), 10000, nil)
	if m.CheckDayBoundary() {
		t.Fatal("same day flagged as boundary")
	}

	current = time.Date(2026, 8, 26, 0, 5, 0, 0, time.UTC)
	if !m.CheckDayBoundary() {
		t.Fatal("midnight rollover not detected")
	}
	// Boundary fires once per day.
	if m.CheckDayBoundary() {
		t.Fatal("boundary fired twice for one rollover")
	}
}
