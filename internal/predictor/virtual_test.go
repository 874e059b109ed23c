package predictor

import (
	"math"
	"testing"
)

func newTestTwin() *VirtualPosition {
	return NewVirtualPosition(TrainingConfig{})
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestVirtualOpenLong(t *testing.T) {
	t.Parallel()
	vp := newTestTwin()

	// Action 2 = LONG moderate (lot 0.03). Entry pays spread (7 points)
	// plus slippage (2 points) above the close.
	realized := vp.Update(2, 1.10000)
	if realized != 0 {
		t.Fatalf("opening from flat realized %v, want 0", realized)
	}
	if vp.Direction != 1 || vp.Intensity != 2 {
		t.Fatalf("got direction=%d intensity=%d, want 1/2", vp.Direction, vp.Intensity)
	}
	if !approxEqual(vp.EntryPrice, 1.10009) {
		t.Fatalf("entry price = %v, want 1.10009", vp.EntryPrice)
	}
	// Floating PnL at the open bar: -0.9 pips x 10 USD x 0.03 lots.
	if !approxEqual(vp.CurrentPnL, -0.27) {
		t.Fatalf("floating pnl = %v, want -0.27", vp.CurrentPnL)
	}
}

func TestVirtualHoldRefreshesFloating(t *testing.T) {
	t.Parallel()
	vp := newTestTwin()
	vp.Update(2, 1.10000)

	realized := vp.Update(2, 1.10109)
	if realized != 0 {
		t.Fatalf("hold realized %v, want 0", realized)
	}
	// (1.10109 - 1.10009) = 10 pips, x 10 x 0.03 = 3.0.
	if !approxEqual(vp.CurrentPnL, 3.0) {
		t.Fatalf("floating pnl = %v, want 3.0", vp.CurrentPnL)
	}
	if !approxEqual(vp.EntryPrice, 1.10009) {
		t.Fatalf("entry moved to %v on hold", vp.EntryPrice)
	}
}

func TestVirtualReverseClosesThenOpens(t *testing.T) {
	t.Parallel()
	vp := newTestTwin()
	vp.Update(2, 1.10000)

	// Action 4 = SHORT weak. The long exits at close minus slippage,
	// paying the second commission half; then the short opens.
	realized := vp.Update(4, 1.10000)
	want := -1.1*10*0.03 - 7.0*0.03/2
	if !approxEqual(realized, want) {
		t.Fatalf("realized = %v, want %v", realized, want)
	}
	if vp.Direction != -1 || vp.Intensity != 1 {
		t.Fatalf("got direction=%d intensity=%d, want -1/1", vp.Direction, vp.Intensity)
	}
	if !approxEqual(vp.EntryPrice, 1.09991) {
		t.Fatalf("short entry = %v, want 1.09991", vp.EntryPrice)
	}
	if !approxEqual(vp.TotalRealizedPnL, want) {
		t.Fatalf("total realized = %v, want %v", vp.TotalRealizedPnL, want)
	}
}

func TestVirtualWaitClosesToFlat(t *testing.T) {
	t.Parallel()
	vp := newTestTwin()
	vp.Update(1, 1.10000)

	vp.Update(0, 1.10050)
	if vp.Direction != 0 || vp.Intensity != 0 || vp.EntryPrice != 0 || vp.CurrentPnL != 0 {
		t.Fatalf("twin not reset after WAIT: %+v", vp)
	}

	// WAIT while already flat is a no-op.
	if realized := vp.Update(0, 1.10100); realized != 0 {
		t.Fatalf("flat WAIT realized %v", realized)
	}
}

func TestVirtualIntensityChangeIsCloseAndReopen(t *testing.T) {
	t.Parallel()
	vp := newTestTwin()
	vp.Update(1, 1.10000)
	entryWeak := vp.EntryPrice

	realized := vp.Update(3, 1.10000)
	if realized == 0 {
		t.Fatal("intensity change should realize the closed position")
	}
	if vp.Direction != 1 || vp.Intensity != 3 {
		t.Fatalf("got direction=%d intensity=%d, want 1/3", vp.Direction, vp.Intensity)
	}
	if !approxEqual(vp.EntryPrice, entryWeak) {
		t.Fatalf("reopen at same close should reproduce entry, got %v want %v", vp.EntryPrice, entryWeak)
	}
}

func TestVirtualPointsPerPip(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		digits int
		want   float64
	}{
		{5, 10}, {3, 10}, {2, 1}, {4, 1},
	} {
		vp := NewVirtualPosition(TrainingConfig{Digits: tc.digits})
		if got := vp.PointsPerPip(); got != tc.want {
			t.Errorf("digits %d: points per pip = %v, want %v", tc.digits, got, tc.want)
		}
	}
}

func TestVirtualTrainingDefaults(t *testing.T) {
	t.Parallel()
	vp := newTestTwin()
	if vp.SpreadPoints != 7.0 || vp.SlippagePoints != 2.0 || vp.CommissionPerLot != 7.0 {
		t.Fatalf("cost defaults wrong: %+v", vp)
	}
	if vp.Point != 0.00001 || vp.PipValue != 10.0 || vp.Digits != 5 {
		t.Fatalf("price defaults wrong: %+v", vp)
	}
	if len(vp.LotSizes) != 4 || vp.LotSizes[1] != 0.01 {
		t.Fatalf("lot size defaults wrong: %v", vp.LotSizes)
	}
}
