// Package executor turns predictor signals into real orders. Each signal runs
// through a fixed pipeline: symbol config, decision table against the real
// position, edge-triggered open gate, lot mapping, risk gate, monetary
// stop/take conversion, order submission.
package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SymbolConfig is the per-symbol execution policy, stored as one entry in the
// symbols JSON file.
type SymbolConfig struct {
	Enabled       bool    `json:"enabled"`
	LotWeak       float64 `json:"lot_weak"`
	LotModerate   float64 `json:"lot_moderate"`
	LotStrong     float64 `json:"lot_strong"`
	StopUSD       float64 `json:"sl_usd"`
	TakeUSD       float64 `json:"tp_usd"`
	MaxSpreadPips float64 `json:"max_spread_pips"`
}

// DefaultSymbolConfig is applied to newly discovered symbols that have no
// entry yet.
func DefaultSymbolConfig() SymbolConfig {
	return SymbolConfig{
		Enabled:       true,
		LotWeak:       0.01,
		LotModerate:   0.03,
		LotStrong:     0.05,
		StopUSD:       10.0,
		TakeUSD:       0.0,
		MaxSpreadPips: 2.0,
	}
}

// Lot maps signal intensity to the configured lot size. Intensity 0 and
// anything out of range map to zero.
func (c SymbolConfig) Lot(intensity int) float64 {
	switch intensity {
	case 1:
		return c.LotWeak
	case 2:
		return c.LotModerate
	case 3:
		return c.LotStrong
	}
	return 0
}

// RiskSettings lives under the reserved "_risk" key of the symbols file.
type RiskSettings struct {
	InitialBalance       float64 `json:"initial_balance"`
	DDLimitPct           float64 `json:"dd_limit_pct"`
	DDEmergencyPct       float64 `json:"dd_emergency_pct"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
}

// DefaultRiskSettings returns the risk defaults used when the file carries no
// "_risk" entry.
func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		DDLimitPct:           5.0,
		DDEmergencyPct:       10.0,
		MaxConsecutiveLosses: 5,
	}
}

// ConfigFile is the parsed symbols JSON file. Keys starting with "_" are
// reserved; "_risk" carries the risk settings, other reserved keys round-trip
// untouched.
type ConfigFile struct {
	Symbols  map[string]SymbolConfig
	Risk     RiskSettings
	reserved map[string]json.RawMessage
}

// LoadConfigFile reads and parses the symbols file. A missing file yields an
// empty config with default risk settings.
func LoadConfigFile(path string) (*ConfigFile, error) {
	cf := &ConfigFile{
		Symbols:  make(map[string]SymbolConfig),
		Risk:     DefaultRiskSettings(),
		reserved: make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cf, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read symbol config %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse symbol config %s: %w", path, err)
	}
	for key, val := range raw {
		if strings.HasPrefix(key, "_") {
			if key == "_risk" {
				if err := json.Unmarshal(val, &cf.Risk); err != nil {
					return nil, fmt.Errorf("parse _risk: %w", err)
				}
			}
			cf.reserved[key] = val
			continue
		}
		sc := DefaultSymbolConfig()
		if err := json.Unmarshal(val, &sc); err != nil {
			return nil, fmt.Errorf("parse symbol %s: %w", key, err)
		}
		cf.Symbols[key] = sc
	}
	return cf, nil
}

// Save writes the config back atomically (temp file then rename), preserving
// reserved keys and serializing the current risk settings under "_risk".
func (cf *ConfigFile) Save(path string) error {
	out := make(map[string]any, len(cf.Symbols)+len(cf.reserved))
	for key, val := range cf.reserved {
		out[key] = val
	}
	out["_risk"] = cf.Risk
	for symbol, sc := range cf.Symbols {
		out[symbol] = sc
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal symbol config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".symbols-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace symbol config: %w", err)
	}
	return nil
}
