package paper

import "math"

// Sharpe annualizes the per-trade return distribution over barsPerYear.
// Fewer than two trades, or zero variance, yields 0.
func Sharpe(trades []Trade, barsPerYear int) float64 {
	if len(trades) < 2 {
		return 0
	}
	mean := 0.0
	for _, t := range trades {
		mean += t.PnL
	}
	mean /= float64(len(trades))

	variance := 0.0
	for _, t := range trades {
		d := t.PnL - mean
		variance += d * d
	}
	variance /= float64(len(trades))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(barsPerYear))
}

// MaxDrawdown walks the trade-by-trade equity curve and returns the deepest
// peak-to-trough drop as a percentage of the peak.
func MaxDrawdown(trades []Trade, initialBalance float64) float64 {
	if len(trades) == 0 {
		return 0
	}
	equity := initialBalance
	peak := initialBalance
	maxDD := 0.0
	for _, t := range trades {
		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100
}

// ProfitFactor is gross wins over gross losses. All-winning histories return
// +Inf, empty or all-flat histories 0.
func ProfitFactor(trades []Trade) float64 {
	wins, losses := 0.0, 0.0
	for _, t := range trades {
		if t.PnL > 0 {
			wins += t.PnL
		} else if t.PnL < 0 {
			losses += -t.PnL
		}
	}
	if losses == 0 {
		if wins > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return wins / losses
}

// Expectancy is the average PnL per trade.
func Expectancy(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range trades {
		sum += t.PnL
	}
	return sum / float64(len(trades))
}

// WinRate returns the winning-trade percentage.
func WinRate(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades)) * 100
}

// AvgWinLoss returns the average winning and average losing PnL.
func AvgWinLoss(trades []Trade) (avgWin, avgLoss float64) {
	winSum, lossSum := 0.0, 0.0
	winN, lossN := 0, 0
	for _, t := range trades {
		if t.PnL > 0 {
			winSum += t.PnL
			winN++
		} else if t.PnL < 0 {
			lossSum += t.PnL
			lossN++
		}
	}
	if winN > 0 {
		avgWin = winSum / float64(winN)
	}
	if lossN > 0 {
		avgLoss = lossSum / float64(lossN)
	}
	return avgWin, avgLoss
}

// EquityCurve builds the cumulative equity series and downsamples it to at
// most maxPoints by uniform striding, always keeping the final point.
func EquityCurve(trades []Trade, initialBalance float64, maxPoints int) []float64 {
	curve := make([]float64, 0, len(trades)+1)
	equity := initialBalance
	curve = append(curve, equity)
	for _, t := range trades {
		equity += t.PnL
		curve = append(curve, equity)
	}
	if maxPoints <= 0 || len(curve) <= maxPoints {
		return curve
	}

	stride := float64(len(curve)-1) / float64(maxPoints-1)
	out := make([]float64, 0, maxPoints)
	for i := 0; i < maxPoints-1; i++ {
		out = append(out, curve[int(float64(i)*stride)])
	}
	return append(out, curve[len(curve)-1])
}
