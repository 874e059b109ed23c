package executor

import (
	"testing"

	"oracle-trader/pkg/types"
)

func TestDecideTable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		real, signal int
		want         types.Decision
	}{
		{0, 0, types.DecisionNoop},
		{0, 1, types.DecisionOpen},
		{0, -1, types.DecisionOpen},
		{1, 0, types.DecisionClose},
		{1, 1, types.DecisionNoop},
		{1, -1, types.DecisionCloseAndOpen},
		{-1, 0, types.DecisionClose},
		{-1, 1, types.DecisionCloseAndOpen},
		{-1, -1, types.DecisionNoop},
	}
	for _, tc := range cases {
		if got := Decide(tc.real, tc.signal); got != tc.want {
			t.Errorf("Decide(%d, %d) = %s, want %s", tc.real, tc.signal, got, tc.want)
		}
	}
}

func sig(dir, intensity int) *types.Signal {
	return &types.Signal{Symbol: "EURUSD", Direction: dir, Intensity: intensity}
}

func TestSyncFirstLivePassesUnconditionally(t *testing.T) {
	t.Parallel()
	s := NewSyncState()
	if !s.ShouldOpen(sig(1, 2), types.DecisionOpen) {
		t.Fatal("first live open should pass")
	}
	if s.FirstLive {
		t.Fatal("first-live flag should be consumed")
	}
}

func TestSyncRepeatedSignalBlocked(t *testing.T) {
	t.Parallel()
	s := NewSyncState()
	s.FirstLive = false
	s.LastDirection, s.LastIntensity = 1, 2

	if s.ShouldOpen(sig(1, 2), types.DecisionOpen) {
		t.Fatal("repeat of the same signal should be blocked")
	}
	if !s.WaitingSync {
		t.Fatal("blocked open should mark waiting_sync")
	}
}

func TestSyncTransitionPasses(t *testing.T) {
	t.Parallel()
	s := NewSyncState()
	s.FirstLive = false
	s.LastDirection, s.LastIntensity = 1, 2

	// Intensity change alone is a transition.
	if !s.ShouldOpen(sig(1, 3), types.DecisionOpen) {
		t.Fatal("intensity transition should pass")
	}
	// Direction change is a transition.
	if !s.ShouldOpen(sig(-1, 3), types.DecisionCloseAndOpen) {
		t.Fatal("direction transition should pass")
	}
}

func TestSyncNoopAndCloseRecordAndDisarm(t *testing.T) {
	t.Parallel()
	s := NewSyncState()

	if s.ShouldOpen(sig(0, 0), types.DecisionNoop) {
		t.Fatal("NOOP should never open")
	}
	if s.FirstLive {
		t.Fatal("NOOP should disarm first-live")
	}
	if s.LastDirection != 0 || s.LastIntensity != 0 {
		t.Fatal("NOOP should record the signal")
	}

	// After the WAIT, a fresh LONG is a transition and passes even though
	// first-live is gone.
	if !s.ShouldOpen(sig(1, 1), types.DecisionOpen) {
		t.Fatal("transition after WAIT should pass")
	}
}

func TestSyncReset(t *testing.T) {
	t.Parallel()
	s := NewSyncState()
	s.ShouldOpen(sig(1, 2), types.DecisionOpen)
	s.Reset()
	if !s.FirstLive || s.LastDirection != 0 || s.LastIntensity != 0 || s.WaitingSync {
		t.Fatalf("reset left state %+v", s)
	}
}
