// Package market turns tick streams into closed fixed-period candles.
//
// Closure is tick-driven: a pending bar finalizes only when a tick lands in
// a later period. If a symbol stops ticking its last bar never closes; the
// health monitor flags protracted silence instead of forcing closure here.
package market

import (
	"sync"

	"oracle-trader/pkg/types"
)

// BarCallback receives each finalized candle.
type BarCallback func(types.Candle)

// synthState is the per-symbol accumulator. lastBarStart is -1 until the
// first tick arrives.
type synthState struct {
	lastBarStart int64
	pending      types.Candle
	hasPending   bool
	callback     BarCallback
	tfSeconds    int64
}

// Synthesizer aggregates ticks into candles for any number of symbols.
// Register before feeding ticks; unregistered symbols are ignored.
type Synthesizer struct {
	mu      sync.Mutex
	symbols map[string]*synthState
}

// NewSynthesizer creates an empty synthesizer.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{symbols: make(map[string]*synthState)}
}

// Register binds a symbol to a timeframe and a closed-bar callback,
// resetting any prior state for that symbol.
func (s *Synthesizer) Register(symbol string, tf types.Timeframe, cb BarCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[symbol] = &synthState{
		lastBarStart: -1,
		callback:     cb,
		tfSeconds:    tf.Seconds(),
	}
}

// Unregister drops a symbol. Its pending bar is discarded.
func (s *Synthesizer) Unregister(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.symbols, symbol)
}

// Registered reports whether a symbol is currently tracked.
func (s *Synthesizer) Registered(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.symbols[symbol]
	return ok
}

// OnTick feeds one quote. Returns the finalized candle when the tick opens a
// new period, or nil.
//
// The first tick ever only initializes the pending bar. A tick in the same
// period extends high/low/close and accumulates volume. A tick in a later
// period finalizes the pending bar, invokes the callback, and starts a fresh
// bar at the new boundary with the tick's mid price.
func (s *Synthesizer) OnTick(symbol string, tickTime int64, bid, ask, volume float64) *types.Candle {
	s.mu.Lock()
	st, ok := s.symbols[symbol]
	if !ok || st.tfSeconds <= 0 {
		s.mu.Unlock()
		return nil
	}

	mid := (bid + ask) / 2
	barStart := (tickTime / st.tfSeconds) * st.tfSeconds

	if st.lastBarStart == -1 {
		st.pending = types.Candle{
			Symbol: symbol,
			Time:   barStart,
			Open:   mid,
			High:   mid,
			Low:    mid,
			Close:  mid,
			Volume: volume,
		}
		st.hasPending = true
		st.lastBarStart = barStart
		s.mu.Unlock()
		return nil
	}

	if barStart > st.lastBarStart {
		done := st.pending
		cb := st.callback
		st.pending = types.Candle{
			Symbol: symbol,
			Time:   barStart,
			Open:   mid,
			High:   mid,
			Low:    mid,
			Close:  mid,
			Volume: volume,
		}
		st.hasPending = true
		st.lastBarStart = barStart
		s.mu.Unlock()

		if cb != nil {
			cb(done)
		}
		return &done
	}

	if mid > st.pending.High {
		st.pending.High = mid
	}
	if mid < st.pending.Low {
		st.pending.Low = mid
	}
	st.pending.Close = mid
	st.pending.Volume += volume
	s.mu.Unlock()
	return nil
}
