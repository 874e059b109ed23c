package predictor

import (
	"math"
	"time"

	"oracle-trader/pkg/types"
)

// FeatureConfig parameterizes the feature computations. Values come from the
// model bundle's regime and policy configs merged together, with the
// training defaults for absent fields.
type FeatureConfig struct {
	MomentumPeriod    int `json:"momentum_period"`
	ConsistencyPeriod int `json:"consistency_period"`
	RangePeriod       int `json:"range_period"`

	ROCPeriod      int `json:"roc_period"`
	ATRPeriod      int `json:"atr_period"`
	EMAPeriod      int `json:"ema_period"`
	VolumeMAPeriod int `json:"volume_ma_period"`

	NStates int `json:"n_states"`
}

// Calculator computes the regime and policy feature vectors.
//
// These formulas are a frozen contract with the training environment. They
// reproduce the training pipeline step for step, including its handling of
// incomplete windows (a value that cannot be computed yet contributes 0).
// Do not reorder or refactor the arithmetic.
type Calculator struct {
	cfg FeatureConfig
}

// NewCalculator applies training defaults and returns a calculator.
func NewCalculator(cfg FeatureConfig) *Calculator {
	if cfg.MomentumPeriod == 0 {
		cfg.MomentumPeriod = 12
	}
	if cfg.ConsistencyPeriod == 0 {
		cfg.ConsistencyPeriod = 12
	}
	if cfg.RangePeriod == 0 {
		cfg.RangePeriod = 20
	}
	if cfg.ROCPeriod == 0 {
		cfg.ROCPeriod = 10
	}
	if cfg.ATRPeriod == 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.EMAPeriod == 0 {
		cfg.EMAPeriod = 200
	}
	if cfg.VolumeMAPeriod == 0 {
		cfg.VolumeMAPeriod = 20
	}
	if cfg.NStates == 0 {
		cfg.NStates = 5
	}
	return &Calculator{cfg: cfg}
}

// NStates returns the regime state count used for one-hot encoding.
func (c *Calculator) NStates() int { return c.cfg.NStates }

// RegimeFeatures computes [momentum, consistency, range_position] over the
// buffered bars.
func (c *Calculator) RegimeFeatures(bars []types.Candle) []float64 {
	n := len(bars)
	out := []float64{0, 0, 0}
	if n == 0 {
		return out
	}

	// Momentum: rolling sum of the last N single-bar returns, x100,
	// clipped to [-5, 5]. Needs N returns, i.e. N+1 closes.
	mp := c.cfg.MomentumPeriod
	if n >= mp+1 {
		sum := 0.0
		for i := n - mp; i < n; i++ {
			sum += bars[i].Close/bars[i-1].Close - 1
		}
		m := sum * 100
		if m > 5 {
			m = 5
		}
		if m < -5 {
			m = -5
		}
		out[0] = m
	}

	// Consistency: how one-sided the last N returns are, signed by the
	// dominant side.
	cp := c.cfg.ConsistencyPeriod
	if n >= cp+1 {
		up, down := 0.0, 0.0
		for i := n - cp; i < n; i++ {
			r := bars[i].Close/bars[i-1].Close - 1
			if r > 0 {
				up++
			} else if r < 0 {
				down++
			}
		}
		out[1] = (math.Max(up, down)/float64(cp)*2 - 1) * sign(up-down)
	}

	// Range position: where the close sits inside the rolling high-low
	// range, mapped to [-1, 1]. Zero range contributes 0.
	out[2] = c.rangePosition(bars)

	return out
}

// PolicyFeatures computes the policy input: six market features, the one-hot
// regime state, and the twin's [direction, size*10, tanh(pnl/100)].
func (c *Calculator) PolicyFeatures(bars []types.Candle, regimeState int, vp *VirtualPosition) []float64 {
	n := len(bars)
	base := []float64{0, 0, 0, 0, 0, 0}

	if n > 0 {
		last := bars[n-1]

		// 1. Momentum (rate of change).
		if p := c.cfg.ROCPeriod; n >= p+1 {
			prev := bars[n-1-p].Close
			base[0] = math.Tanh((last.Close - prev) / prev * 20)
		}

		// 2. Volatility (ATR normalized by price).
		if p := c.cfg.ATRPeriod; n >= p {
			sum := 0.0
			for i := n - p; i < n; i++ {
				sum += trueRange(bars, i)
			}
			base[1] = math.Tanh(sum / float64(p) / last.Close * 50)
		}

		// 3. Trend vs EMA (span-form smoothing, seeded at the first close).
		alpha := 2 / (float64(c.cfg.EMAPeriod) + 1)
		ema := bars[0].Close
		for i := 1; i < n; i++ {
			ema = alpha*bars[i].Close + (1-alpha)*ema
		}
		base[2] = math.Tanh((last.Close - ema) / ema * 20)

		// 4. Range position.
		base[3] = c.rangePosition(bars)

		// 5. Relative volume.
		if p := c.cfg.VolumeMAPeriod; n >= p {
			sum := 0.0
			for i := n - p; i < n; i++ {
				sum += bars[i].Volume
			}
			volMA := sum / float64(p)
			if volMA == 0 {
				volMA = 1
			}
			base[4] = math.Tanh((last.Volume/volMA - 1) * 2)
		}

		// 6. Session hour encoded on the day cycle.
		hour := time.Unix(last.Time, 0).UTC().Hour()
		base[5] = math.Sin(2 * math.Pi * float64(hour) / 24)
	}

	features := make([]float64, 0, 6+c.cfg.NStates+3)
	features = append(features, base...)
	for i := 0; i < c.cfg.NStates; i++ {
		if i == regimeState {
			features = append(features, 1)
		} else {
			features = append(features, 0)
		}
	}
	features = append(features,
		float64(vp.Direction),
		vp.Size()*10,
		math.Tanh(vp.CurrentPnL/100),
	)
	return features
}

func (c *Calculator) rangePosition(bars []types.Candle) float64 {
	n := len(bars)
	p := c.cfg.RangePeriod
	if n < p {
		return 0
	}
	highest, lowest := bars[n-p].High, bars[n-p].Low
	for i := n - p + 1; i < n; i++ {
		if bars[i].High > highest {
			highest = bars[i].High
		}
		if bars[i].Low < lowest {
			lowest = bars[i].Low
		}
	}
	rng := highest - lowest
	if rng == 0 {
		return 0
	}
	return (bars[n-1].Close-lowest)/rng*2 - 1
}

// trueRange at index i; the first bar has no previous close so its range is
// simply high minus low.
func trueRange(bars []types.Candle, i int) float64 {
	hl := bars[i].High - bars[i].Low
	if i == 0 {
		return hl
	}
	prev := bars[i-1].Close
	hc := math.Abs(bars[i].High - prev)
	lc := math.Abs(bars[i].Low - prev)
	return math.Max(hl, math.Max(hc, lc))
}

func sign(x float64) float64 {
	if x > 0 {
		return 1
	}
	if x < 0 {
		return -1
	}
	return 0
}
