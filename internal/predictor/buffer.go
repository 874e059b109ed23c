// Package predictor is the inference side of the runtime: per-symbol candle
// buffers, feature computation, the regime classifier and policy, and the
// virtual-position twin that keeps the policy's assumed position consistent
// with what it saw in training.
package predictor

import "oracle-trader/pkg/types"

// DefaultMinBars is the ring capacity and minimum history required before
// the pipeline produces predictions.
const DefaultMinBars = 350

// BarBuffer is a fixed-capacity FIFO of candles. Appending past capacity
// evicts the oldest bar.
type BarBuffer struct {
	maxLen int
	bars   []types.Candle
}

// NewBarBuffer creates a buffer holding at most maxLen bars.
func NewBarBuffer(maxLen int) *BarBuffer {
	if maxLen <= 0 {
		maxLen = DefaultMinBars
	}
	return &BarBuffer{maxLen: maxLen, bars: make([]types.Candle, 0, maxLen)}
}

// Append adds one bar, evicting the oldest when full.
func (b *BarBuffer) Append(bar types.Candle) {
	if len(b.bars) == b.maxLen {
		copy(b.bars, b.bars[1:])
		b.bars[len(b.bars)-1] = bar
		return
	}
	b.bars = append(b.bars, bar)
}

// Extend appends multiple bars in order.
func (b *BarBuffer) Extend(bars []types.Candle) {
	for _, bar := range bars {
		b.Append(bar)
	}
}

// Ready reports whether the buffer holds enough bars for prediction.
func (b *BarBuffer) Ready() bool { return len(b.bars) >= b.maxLen }

// Len returns the current bar count.
func (b *BarBuffer) Len() int { return len(b.bars) }

// MaxLen returns the buffer capacity.
func (b *BarBuffer) MaxLen() int { return b.maxLen }

// Bars returns the buffered bars oldest-first. The slice is shared; callers
// on the bar pipeline must not mutate it.
func (b *BarBuffer) Bars() []types.Candle { return b.bars }

// Last returns the most recent bar, or false if empty.
func (b *BarBuffer) Last() (types.Candle, bool) {
	if len(b.bars) == 0 {
		return types.Candle{}, false
	}
	return b.bars[len(b.bars)-1], true
}

// Clear drops all buffered bars.
func (b *BarBuffer) Clear() { b.bars = b.bars[:0] }
