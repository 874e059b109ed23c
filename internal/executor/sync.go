package executor

import "oracle-trader/pkg/types"

// Decide compares the real position direction with the signal direction and
// picks the executor action.
//
//	real \ signal   WAIT    LONG            SHORT
//	flat            NOOP    OPEN            OPEN
//	long            CLOSE   NOOP            CLOSE_AND_OPEN
//	short           CLOSE   CLOSE_AND_OPEN  NOOP
func Decide(realDir, signalDir int) types.Decision {
	switch {
	case realDir == 0 && signalDir == 0:
		return types.DecisionNoop
	case realDir == 0:
		return types.DecisionOpen
	case realDir == signalDir:
		return types.DecisionNoop
	case signalDir == 0:
		return types.DecisionClose
	}
	return types.DecisionCloseAndOpen
}

// SyncState tracks the per-symbol edge rule. An open is honored only on a
// signal transition (direction or intensity changed since the last signal),
// so the runtime does not jump into the middle of a move it started
// observing late. The one exception is the first live signal after warmup:
// warmup already converged the model, so the first live bar is itself the
// offline-to-live transition and passes unconditionally.
type SyncState struct {
	LastDirection int
	LastIntensity int
	WaitingSync   bool
	FirstLive     bool
}

// NewSyncState starts with the first-live exception armed.
func NewSyncState() *SyncState {
	return &SyncState{FirstLive: true}
}

// ShouldOpen records the signal and reports whether an OPEN (or the OPEN half
// of CLOSE_AND_OPEN) may proceed. NOOP and CLOSE decisions always record the
// signal, disarm the first-live exception, and return false.
func (s *SyncState) ShouldOpen(sig *types.Signal, decision types.Decision) bool {
	if decision == types.DecisionNoop || decision == types.DecisionClose {
		s.FirstLive = false
		s.record(sig, false)
		return false
	}

	if s.FirstLive && sig.Direction != 0 {
		s.FirstLive = false
		s.record(sig, false)
		return true
	}

	transition := sig.Direction != s.LastDirection || sig.Intensity != s.LastIntensity
	if transition && sig.Direction != 0 {
		s.record(sig, false)
		return true
	}

	// Same signal repeated with no transition: mid-trade, hold off.
	s.record(sig, true)
	return false
}

func (s *SyncState) record(sig *types.Signal, waiting bool) {
	s.LastDirection = sig.Direction
	s.LastIntensity = sig.Intensity
	s.WaitingSync = waiting
}

// Reset re-arms the state, including the first-live exception.
func (s *SyncState) Reset() {
	*s = SyncState{FirstLive: true}
}
