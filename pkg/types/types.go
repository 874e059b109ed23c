// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the runtime: ticks, candles,
// positions, account state, signals, and the symbol metadata needed to decode
// broker prices. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Timeframes
// ————————————————————————————————————————————————————————————————————————

// Timeframe is a fixed candle period label such as "M15" or "H1".
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// TimeframeSeconds maps a timeframe to its width in seconds.
var TimeframeSeconds = map[Timeframe]int64{
	M1:  60,
	M5:  300,
	M15: 900,
	M30: 1800,
	H1:  3600,
	H4:  14400,
	D1:  86400,
}

// TimeframeBarsPerYear gives the approximate number of bars per trading year
// for each timeframe, used to annualize Sharpe ratios.
var TimeframeBarsPerYear = map[Timeframe]int{
	M1:  302400,
	M5:  60480,
	M15: 20160,
	M30: 10080,
	H1:  5040,
	H4:  1260,
	D1:  252,
}

// Seconds returns the timeframe width in seconds, or 0 if unknown.
func (tf Timeframe) Seconds() int64 {
	return TimeframeSeconds[tf]
}

// Valid reports whether the timeframe label is one the runtime supports.
func (tf Timeframe) Valid() bool {
	_, ok := TimeframeSeconds[tf]
	return ok
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Tick is a single bid/ask quote update. Both prices are positive; ask >= bid
// is expected but not enforced.
type Tick struct {
	Symbol string
	Time   int64 // epoch seconds
	Bid    float64
	Ask    float64
}

// Mid returns the midpoint of bid and ask.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Candle is an immutable OHLCV aggregate over one timeframe period.
// Time is epoch seconds aligned to the timeframe boundary.
type Candle struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// ————————————————————————————————————————————————————————————————————————
// Symbols
// ————————————————————————————————————————————————————————————————————————

// SymbolInfo describes one tradable instrument as reported by the broker.
// Immutable after the boot-sequence fetch. Point is 10^(-Digits) and is the
// smallest representable price increment; one pip is ten points on 5-digit
// and 3-digit pricing.
type SymbolInfo struct {
	Name        string
	ID          int64
	Digits      int
	PipPosition int
	Point       float64 // 10^(-Digits)
	LotSize     float64 // contract units per lot, commonly 100 000
	MinVolume   float64 // lots
	MaxVolume   float64 // lots
	StepVolume  float64 // lots
	PipValue    float64 // USD per pip per lot, 0 if the broker does not expose it
}

// ————————————————————————————————————————————————————————————————————————
// Account and positions
// ————————————————————————————————————————————————————————————————————————

// AccountInfo is the cached account snapshot. Equity is Balance plus the sum
// of floating PnL across open positions and is recomputed on every spot event.
type AccountInfo struct {
	Balance    float64
	Equity     float64
	Margin     float64
	FreeMargin float64
	Currency   string
}

// Position is an actually-open position at the broker. Created on reconcile
// or execution event, price-updated by spot events, removed by the close
// execution event.
type Position struct {
	Ticket       int64
	Symbol       string
	Direction    int // +1 long, -1 short
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	PnL          float64
	StopLoss     float64
	TakeProfit   float64
	OpenTime     time.Time
	Comment      string
}

// OrderResult is the wire-level outcome of an order submission. Success means
// the broker did not reject the request; the execution event stream remains
// the ground truth for position state.
type OrderResult struct {
	Success   bool
	Ticket    int64
	ErrorCode string
	ErrorDesc string
}

// ————————————————————————————————————————————————————————————————————————
// Signals and actions
// ————————————————————————————————————————————————————————————————————————

// Signal is emitted by the predictor once per closed bar after warmup.
// Direction 0 implies Intensity 0; otherwise Intensity is 1..3.
type Signal struct {
	Symbol     string
	Direction  int // -1, 0, +1
	Intensity  int // 0..3
	Regime     int // classifier state
	Action     int // raw policy action index 0..6
	VirtualPnL float64
	BarTime    int64
	Timestamp  time.Time
}

// ActionDirection and ActionIntensity decode the fixed 7-entry action table:
// 0 WAIT, 1-3 LONG weak/moderate/strong, 4-6 SHORT weak/moderate/strong.
var (
	ActionDirection = [7]int{0, 1, 1, 1, -1, -1, -1}
	ActionIntensity = [7]int{0, 1, 2, 3, 1, 2, 3}
)

// DecodeAction maps a policy action index to (direction, intensity).
// Out-of-range indexes decode to WAIT.
func DecodeAction(action int) (direction, intensity int) {
	if action < 0 || action >= len(ActionDirection) {
		return 0, 0
	}
	return ActionDirection[action], ActionIntensity[action]
}

var actionNames = [7]string{
	"WAIT",
	"LONG_WEAK", "LONG_MODERATE", "LONG_STRONG",
	"SHORT_WEAK", "SHORT_MODERATE", "SHORT_STRONG",
}

// ActionName returns the human-readable label for a policy action index.
func ActionName(action int) string {
	if action < 0 || action >= len(actionNames) {
		return "WAIT"
	}
	return actionNames[action]
}

// ————————————————————————————————————————————————————————————————————————
// Execution outcomes
// ————————————————————————————————————————————————————————————————————————

// AckStatus classifies the outcome of processing one signal.
type AckStatus string

const (
	AckOK    AckStatus = "OK"
	AckNoop  AckStatus = "NOOP"
	AckSkip  AckStatus = "SKIP"
	AckError AckStatus = "ERROR"
)

// SkipReason is the machine-readable cause attached to a SKIP ack.
type SkipReason string

const (
	SkipNoConfig       SkipReason = "NO_CONFIG"
	SkipDisabled       SkipReason = "DISABLED"
	SkipPaused         SkipReason = "PAUSED"
	SkipNoEdge         SkipReason = "NO_EDGE"
	SkipZeroLot        SkipReason = "ZERO_LOT"
	SkipDDLimit        SkipReason = "DD_LIMIT"
	SkipEmergency      SkipReason = "EMERGENCY"
	SkipMargin         SkipReason = "MARGIN"
	SkipSpread         SkipReason = "SPREAD"
	SkipCircuitBreaker SkipReason = "CIRCUIT_BREAKER"
)

// Decision is the executor's verdict from comparing the real position
// direction with the signal direction.
type Decision string

const (
	DecisionNoop         Decision = "NOOP"
	DecisionOpen         Decision = "OPEN"
	DecisionClose        Decision = "CLOSE"
	DecisionCloseAndOpen Decision = "CLOSE_AND_OPEN"
)

// ExecutionAck is returned by the executor for every processed signal.
type ExecutionAck struct {
	Symbol   string
	Status   AckStatus
	Decision Decision
	Reason   SkipReason
	Ticket   int64
	Volume   float64
	Err      string
}
