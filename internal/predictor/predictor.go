package predictor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"oracle-trader/pkg/types"
)

func decodeAction(action int) (direction, intensity int) {
	return types.DecodeAction(action)
}

// ModelInfo is the externally visible summary of one loaded model.
type ModelInfo struct {
	Symbol    string          `json:"symbol"`
	Timeframe types.Timeframe `json:"timeframe"`
	Path      string          `json:"path"`
	NStates   int             `json:"n_states"`
	Bars      int             `json:"bars"`
	Ready     bool            `json:"ready"`
}

type instrument struct {
	bundle *Bundle
	buffer *BarBuffer
	calc   *Calculator
	vp     *VirtualPosition
}

// Predictor runs the two-stage inference pipeline for every loaded symbol.
// All entry points are safe for concurrent use; bar processing for a single
// symbol is expected to arrive from one goroutine (the tick pipeline).
type Predictor struct {
	mu          sync.RWMutex
	instruments map[string]*instrument
	minBars     int
	logger      *slog.Logger
}

// New creates an empty predictor. minBars <= 0 selects the default ring size.
func New(minBars int, logger *slog.Logger) *Predictor {
	if minBars <= 0 {
		minBars = DefaultMinBars
	}
	return &Predictor{
		instruments: make(map[string]*instrument),
		minBars:     minBars,
		logger:      logger.With("component", "predictor"),
	}
}

// LoadModel loads one bundle file and registers its symbol. Loading a symbol
// that is already registered fails without touching the existing state.
func (p *Predictor) LoadModel(path string) (string, error) {
	bundle, err := LoadBundle(path)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.instruments[bundle.Symbol]; ok {
		return "", fmt.Errorf("model for %s already loaded", bundle.Symbol)
	}
	p.instruments[bundle.Symbol] = &instrument{
		bundle: bundle,
		buffer: NewBarBuffer(p.minBars),
		calc:   NewCalculator(bundle.Features),
		vp:     NewVirtualPosition(bundle.Training),
	}
	p.logger.Info("model loaded",
		"symbol", bundle.Symbol,
		"timeframe", bundle.Timeframe,
		"n_states", bundle.Regime.NStates,
		"path", path)
	return bundle.Symbol, nil
}

// LoadDir scans a directory for bundle files and loads each one. Individual
// load failures are logged and skipped; the returned slice holds the symbols
// that loaded.
func (p *Predictor) LoadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan models dir %s: %w", dir, err)
	}
	var loaded []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		symbol, err := p.LoadModel(filepath.Join(dir, e.Name()))
		if err != nil {
			p.logger.Warn("skipping bundle", "file", e.Name(), "error", err)
			continue
		}
		loaded = append(loaded, symbol)
	}
	return loaded, nil
}

// UnloadModel removes a symbol's model, buffer, and twin.
func (p *Predictor) UnloadModel(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.instruments[symbol]; !ok {
		return fmt.Errorf("no model loaded for %s", symbol)
	}
	delete(p.instruments, symbol)
	p.logger.Info("model unloaded", "symbol", symbol)
	return nil
}

// HasModel reports whether a model is loaded for the symbol.
func (p *Predictor) HasModel(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.instruments[symbol]
	return ok
}

// Symbols returns the loaded symbol names.
func (p *Predictor) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.instruments))
	for s := range p.instruments {
		out = append(out, s)
	}
	return out
}

// ListModels summarizes every loaded model.
func (p *Predictor) ListModels() []ModelInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ModelInfo, 0, len(p.instruments))
	for symbol, inst := range p.instruments {
		out = append(out, ModelInfo{
			Symbol:    symbol,
			Timeframe: inst.bundle.Timeframe,
			Path:      inst.bundle.Path,
			NStates:   inst.bundle.Regime.NStates,
			Bars:      inst.buffer.Len(),
			Ready:     inst.buffer.Ready(),
		})
	}
	return out
}

// Timeframe returns the timeframe the symbol's model was trained on.
func (p *Predictor) Timeframe(symbol string) (types.Timeframe, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instruments[symbol]
	if !ok {
		return "", false
	}
	return inst.bundle.Timeframe, true
}

// Training returns the symbol's frozen training cost parameters.
func (p *Predictor) Training(symbol string) (TrainingConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instruments[symbol]
	if !ok {
		return TrainingConfig{}, false
	}
	return inst.bundle.Training, true
}

// VirtualPosition returns the symbol's twin. The twin is mutated only by the
// bar pipeline; other readers see the state as of the last processed bar.
func (p *Predictor) VirtualPosition(symbol string) (*VirtualPosition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instruments[symbol]
	if !ok {
		return nil, false
	}
	return inst.vp, true
}

// Warmup feeds historical bars. Bars fill the ring first; once it is full,
// every further bar runs the full pipeline silently so the twin ends warmup
// holding what the model would have held. Returns the number of silent
// predictions run.
func (p *Predictor) Warmup(symbol string, bars []types.Candle) (int, error) {
	p.mu.Lock()
	inst, ok := p.instruments[symbol]
	p.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no model loaded for %s", symbol)
	}

	predictions := 0
	for _, bar := range bars {
		inst.buffer.Append(bar)
		if inst.buffer.Ready() {
			p.infer(inst, bar)
			predictions++
		}
	}
	p.logger.Info("warmup complete",
		"symbol", symbol,
		"bars", len(bars),
		"predictions", predictions,
		"twin", inst.vp.DirectionName(),
		"twin_pnl", inst.vp.CurrentPnL)
	return predictions, nil
}

// ProcessBar appends one closed bar and, once enough history has accumulated,
// runs inference and returns the resulting signal. Returns nil while the ring
// is still filling or when no model is loaded for the bar's symbol.
func (p *Predictor) ProcessBar(bar types.Candle) *types.Signal {
	p.mu.RLock()
	inst, ok := p.instruments[bar.Symbol]
	p.mu.RUnlock()
	if !ok {
		return nil
	}

	inst.buffer.Append(bar)
	if !inst.buffer.Ready() {
		p.logger.Debug("buffering",
			"symbol", bar.Symbol,
			"bars", inst.buffer.Len(),
			"need", inst.buffer.MaxLen())
		return nil
	}

	action, state := p.infer(inst, bar)
	direction, intensity := decodeAction(action)
	return &types.Signal{
		Symbol:     bar.Symbol,
		Direction:  direction,
		Intensity:  intensity,
		Regime:     state,
		Action:     action,
		VirtualPnL: inst.vp.CurrentPnL,
		BarTime:    bar.Time,
		Timestamp:  time.Now().UTC(),
	}
}

// infer runs classifier, policy, and twin update for the bar at the head of
// the buffer. The policy sees the twin as it stood before this bar's action,
// exactly as during training rollouts.
func (p *Predictor) infer(inst *instrument, bar types.Candle) (action, state int) {
	bars := inst.buffer.Bars()
	state = inst.bundle.Regime.Classify(inst.calc.RegimeFeatures(bars))
	action = inst.bundle.Policy.Act(inst.calc.PolicyFeatures(bars, state, inst.vp))
	inst.vp.Update(action, bar.Close)
	return action, state
}
