package predictor

// VirtualPosition is the digital twin of the position the policy believes it
// holds. Its arithmetic mirrors the training environment operation for
// operation; any numeric deviation invalidates the trained policy, so the
// formulas below must not be reordered or "simplified". All math is IEEE-754
// double precision.
//
// Invariant: Direction == 0 iff Intensity == 0 iff EntryPrice == 0.
type VirtualPosition struct {
	Direction  int
	Intensity  int
	EntryPrice float64
	CurrentPnL float64

	// Frozen training cost parameters from the model bundle.
	SpreadPoints     float64
	SlippagePoints   float64
	CommissionPerLot float64
	Point            float64
	PipValue         float64
	Digits           int
	LotSizes         []float64

	TotalRealizedPnL float64
}

// TrainingConfig carries the bundle's frozen cost parameters.
type TrainingConfig struct {
	SpreadPoints     float64   `json:"spread_points"`
	SlippagePoints   float64   `json:"slippage_points"`
	CommissionPerLot float64   `json:"commission_per_lot"`
	Point            float64   `json:"point"`
	PipValue         float64   `json:"pip_value"`
	Digits           int       `json:"digits"`
	LotSizes         []float64 `json:"lot_sizes"`
}

// NewVirtualPosition creates a flat twin from a training config, applying
// the training defaults for absent fields.
func NewVirtualPosition(tc TrainingConfig) *VirtualPosition {
	vp := &VirtualPosition{
		SpreadPoints:     tc.SpreadPoints,
		SlippagePoints:   tc.SlippagePoints,
		CommissionPerLot: tc.CommissionPerLot,
		Point:            tc.Point,
		PipValue:         tc.PipValue,
		Digits:           tc.Digits,
		LotSizes:         tc.LotSizes,
	}
	if vp.SpreadPoints == 0 {
		vp.SpreadPoints = 7.0
	}
	if vp.SlippagePoints == 0 {
		vp.SlippagePoints = 2.0
	}
	if vp.CommissionPerLot == 0 {
		vp.CommissionPerLot = 7.0
	}
	if vp.Point == 0 {
		vp.Point = 0.00001
	}
	if vp.PipValue == 0 {
		vp.PipValue = 10.0
	}
	if vp.Digits == 0 {
		vp.Digits = 5
	}
	if len(vp.LotSizes) == 0 {
		vp.LotSizes = []float64{0, 0.01, 0.03, 0.05}
	}
	return vp
}

// IsOpen reports whether the twin holds a position.
func (vp *VirtualPosition) IsOpen() bool { return vp.Direction != 0 }

// PointsPerPip is 10 on 5-digit and 3-digit pricing, 1 otherwise.
func (vp *VirtualPosition) PointsPerPip() float64 {
	if vp.Digits == 5 || vp.Digits == 3 {
		return 10
	}
	return 1
}

// Size returns the training lot for the current intensity.
func (vp *VirtualPosition) Size() float64 {
	if vp.Intensity >= 0 && vp.Intensity < len(vp.LotSizes) {
		return vp.LotSizes[vp.Intensity]
	}
	return 0
}

// Update applies one policy action at the bar's close price and returns the
// realized PnL if a position closed, 0 otherwise.
//
// Same (direction, intensity) only refreshes floating PnL. Any change closes
// the open position (exit slippage plus half the commission) and, when the
// target direction is non-zero, opens the new one (spread plus slippage on
// entry, half the commission up front).
func (vp *VirtualPosition) Update(action int, closePrice float64) float64 {
	targetDir, targetIntensity := decodeAction(action)

	if targetDir == vp.Direction && targetIntensity == vp.Intensity {
		vp.updateFloatingPnL(closePrice)
		return 0
	}

	realized := 0.0
	if vp.Direction != 0 {
		realized = vp.close(closePrice)
		vp.TotalRealizedPnL += realized
	}
	if targetDir != 0 {
		vp.open(targetDir, targetIntensity, closePrice)
		vp.updateFloatingPnL(closePrice)
	}
	return realized
}

func (vp *VirtualPosition) open(direction, intensity int, price float64) {
	spreadCost := vp.SpreadPoints * vp.Point
	slippage := vp.SlippagePoints * vp.Point

	if direction == 1 {
		vp.EntryPrice = price + spreadCost + slippage
	} else {
		vp.EntryPrice = price - spreadCost - slippage
	}
	vp.Direction = direction
	vp.Intensity = intensity
	vp.CurrentPnL = 0

	lot := vp.LotSizes[intensity]
	vp.CurrentPnL -= (vp.CommissionPerLot * lot) / 2
}

func (vp *VirtualPosition) close(price float64) float64 {
	if vp.Direction == 0 {
		return 0
	}

	slippage := vp.SlippagePoints * vp.Point
	var exitPrice float64
	if vp.Direction == 1 {
		exitPrice = price - slippage
	} else {
		exitPrice = price + slippage
	}

	priceDiff := (exitPrice - vp.EntryPrice) * float64(vp.Direction)
	pips := priceDiff / vp.Point / vp.PointsPerPip()
	lot := vp.LotSizes[vp.Intensity]
	pnl := pips * vp.PipValue * lot
	pnl -= (vp.CommissionPerLot * lot) / 2

	vp.Direction = 0
	vp.Intensity = 0
	vp.EntryPrice = 0
	vp.CurrentPnL = 0
	return pnl
}

func (vp *VirtualPosition) updateFloatingPnL(currentPrice float64) {
	if vp.Direction == 0 {
		vp.CurrentPnL = 0
		return
	}
	priceDiff := (currentPrice - vp.EntryPrice) * float64(vp.Direction)
	pips := priceDiff / vp.Point / vp.PointsPerPip()
	vp.CurrentPnL = pips * vp.PipValue * vp.LotSizes[vp.Intensity]
}

// DirectionName renders the direction for logs.
func (vp *VirtualPosition) DirectionName() string {
	switch vp.Direction {
	case 1:
		return "LONG"
	case -1:
		return "SHORT"
	}
	return "FLAT"
}
