package predictor

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"oracle-trader/pkg/types"
)

// FormatVersion is the only bundle format this runtime loads.
const FormatVersion = "2.0"

// Bundle is one loaded model: the regime classifier, the action policy, and
// the frozen training parameters they were fitted against.
//
// Bundle files are ZIP containers named {SYMBOL}_{TIMEFRAME}.zip. The archive
// comment carries the JSON metadata header; the archive itself holds the two
// model blobs {SYMBOL}_{TIMEFRAME}_regime.json and
// {SYMBOL}_{TIMEFRAME}_policy.json.
type Bundle struct {
	Symbol    string
	Timeframe types.Timeframe
	Path      string

	Training TrainingConfig
	Features FeatureConfig
	Actions  []string

	Regime *RegimeModel
	Policy *PolicyModel
}

type bundleMetadata struct {
	FormatVersion string `json:"format_version"`
	Symbol        struct {
		Name      string `json:"name"`
		Timeframe string `json:"timeframe"`
	} `json:"symbol"`
	TrainingConfig *TrainingConfig `json:"training_config"`
	RegimeConfig   *regimeConfig   `json:"regime_config"`
	PolicyConfig   *policyConfig   `json:"policy_config"`
	Actions        []string        `json:"actions"`
}

type regimeConfig struct {
	NStates           int `json:"n_states"`
	MomentumPeriod    int `json:"momentum_period"`
	ConsistencyPeriod int `json:"consistency_period"`
	RangePeriod       int `json:"range_period"`
}

type policyConfig struct {
	ROCPeriod      int `json:"roc_period"`
	ATRPeriod      int `json:"atr_period"`
	EMAPeriod      int `json:"ema_period"`
	RangePeriod    int `json:"range_period"`
	VolumeMAPeriod int `json:"volume_ma_period"`
}

// RegimeModel is a per-state diagonal-Gaussian classifier. Classification is
// the argmax of the state log-likelihoods plus log-weights.
type RegimeModel struct {
	NStates    int         `json:"n_states"`
	Means      [][]float64 `json:"means"`
	Variances  [][]float64 `json:"variances"`
	LogWeights []float64   `json:"log_weights"`
}

// Classify returns the most likely state for the feature vector.
func (m *RegimeModel) Classify(features []float64) int {
	best, bestScore := 0, math.Inf(-1)
	for s := 0; s < m.NStates; s++ {
		score := 0.0
		if s < len(m.LogWeights) {
			score = m.LogWeights[s]
		}
		for i, x := range features {
			mu, v := m.Means[s][i], m.Variances[s][i]
			if v <= 0 {
				v = 1e-9
			}
			d := x - mu
			score += -0.5*math.Log(2*math.Pi*v) - d*d/(2*v)
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return best
}

func (m *RegimeModel) validate() error {
	if m.NStates <= 0 {
		return fmt.Errorf("regime model: n_states must be positive, got %d", m.NStates)
	}
	if len(m.Means) != m.NStates || len(m.Variances) != m.NStates {
		return fmt.Errorf("regime model: expected %d mean/variance rows, got %d/%d",
			m.NStates, len(m.Means), len(m.Variances))
	}
	for s := range m.Means {
		if len(m.Means[s]) != len(m.Variances[s]) {
			return fmt.Errorf("regime model: state %d mean/variance length mismatch", s)
		}
	}
	return nil
}

// PolicyModel is a feed-forward network evaluated deterministically. The
// action is the argmax over the final layer's outputs.
type PolicyModel struct {
	Layers []policyLayer `json:"layers"`
}

type policyLayer struct {
	Weights    [][]float64 `json:"weights"` // [out][in]
	Biases     []float64   `json:"biases"`
	Activation string      `json:"activation"` // "tanh" or "linear"
}

// Act returns the greedy action for the feature vector.
func (m *PolicyModel) Act(features []float64) int {
	x := features
	for _, layer := range m.Layers {
		out := make([]float64, len(layer.Weights))
		for i, row := range layer.Weights {
			sum := layer.Biases[i]
			for j, w := range row {
				sum += w * x[j]
			}
			if layer.Activation == "tanh" {
				sum = math.Tanh(sum)
			}
			out[i] = sum
		}
		x = out
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

func (m *PolicyModel) validate() error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("policy model: no layers")
	}
	for i, layer := range m.Layers {
		if len(layer.Weights) == 0 {
			return fmt.Errorf("policy model: layer %d has no weights", i)
		}
		if len(layer.Biases) != len(layer.Weights) {
			return fmt.Errorf("policy model: layer %d bias/weight row mismatch", i)
		}
	}
	return nil
}

// LoadBundle opens, validates, and parses one model bundle. On any error the
// returned bundle is nil and no state has been mutated.
func LoadBundle(path string) (*Bundle, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", path, err)
	}
	defer rc.Close()

	if strings.TrimSpace(rc.Comment) == "" {
		return nil, fmt.Errorf("bundle %s: missing metadata header", path)
	}

	// Presence check on the raw keys first so a missing key reports by name
	// instead of surfacing as a zero value downstream.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rc.Comment), &raw); err != nil {
		return nil, fmt.Errorf("bundle %s: invalid metadata: %w", path, err)
	}
	for _, key := range []string{"format_version", "symbol", "training_config", "regime_config", "policy_config", "actions"} {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("bundle %s: metadata missing required key %q", path, key)
		}
	}

	var meta bundleMetadata
	if err := json.Unmarshal([]byte(rc.Comment), &meta); err != nil {
		return nil, fmt.Errorf("bundle %s: invalid metadata: %w", path, err)
	}
	if meta.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("bundle %s: unsupported format_version %q (want %q)",
			path, meta.FormatVersion, FormatVersion)
	}
	if meta.Symbol.Name == "" {
		return nil, fmt.Errorf("bundle %s: metadata missing symbol.name", path)
	}
	tf := types.Timeframe(meta.Symbol.Timeframe)
	if !tf.Valid() {
		return nil, fmt.Errorf("bundle %s: unknown timeframe %q", path, meta.Symbol.Timeframe)
	}
	if len(meta.Actions) == 0 {
		return nil, fmt.Errorf("bundle %s: empty action table", path)
	}
	if meta.RegimeConfig == nil || meta.PolicyConfig == nil {
		return nil, fmt.Errorf("bundle %s: null regime_config or policy_config", path)
	}

	regime, err := readBlob[RegimeModel](&rc.Reader, "_regime.json")
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", path, err)
	}
	if err := regime.validate(); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", path, err)
	}
	policy, err := readBlob[PolicyModel](&rc.Reader, "_policy.json")
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", path, err)
	}
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", path, err)
	}

	fc := FeatureConfig{NStates: meta.RegimeConfig.NStates}
	fc.MomentumPeriod = meta.RegimeConfig.MomentumPeriod
	fc.ConsistencyPeriod = meta.RegimeConfig.ConsistencyPeriod
	fc.RangePeriod = meta.RegimeConfig.RangePeriod
	fc.ROCPeriod = meta.PolicyConfig.ROCPeriod
	fc.ATRPeriod = meta.PolicyConfig.ATRPeriod
	fc.EMAPeriod = meta.PolicyConfig.EMAPeriod
	fc.VolumeMAPeriod = meta.PolicyConfig.VolumeMAPeriod
	if meta.PolicyConfig.RangePeriod != 0 {
		fc.RangePeriod = meta.PolicyConfig.RangePeriod
	}
	if regime.NStates == 0 {
		regime.NStates = fc.NStates
	}

	var tc TrainingConfig
	if meta.TrainingConfig != nil {
		tc = *meta.TrainingConfig
	}

	return &Bundle{
		Symbol:    meta.Symbol.Name,
		Timeframe: tf,
		Path:      path,
		Training:  tc,
		Features:  fc,
		Actions:   meta.Actions,
		Regime:    regime,
		Policy:    policy,
	}, nil
}

func readBlob[T any](zr *zip.Reader, suffix string) (*T, error) {
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, suffix) {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open blob %s: %w", f.Name, err)
		}
		defer r.Close()
		var v T
		if err := json.NewDecoder(r).Decode(&v); err != nil {
			return nil, fmt.Errorf("decode blob %s: %w", f.Name, err)
		}
		return &v, nil
	}
	return nil, fmt.Errorf("no blob matching *%s in archive", suffix)
}
