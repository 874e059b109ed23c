// Package config defines all configuration for the trading runtime.
// Config is loaded from a YAML file with ${VAR} / ${VAR:default} expansion,
// and sensitive fields overridable via CTRADER_* / SUPABASE_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"oracle-trader/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Broker           BrokerConfig      `mapstructure:"broker"`
	Timeframe        string            `mapstructure:"timeframe"`
	InitialBalance   float64           `mapstructure:"initial_balance"`
	CloseOnExit      bool              `mapstructure:"close_on_exit"`
	CloseOnDayChange bool              `mapstructure:"close_on_day_change"`
	Predictor        PredictorConfig   `mapstructure:"preditor"`
	Executor         ExecutorConfig    `mapstructure:"executor"`
	Hub              HubConfig         `mapstructure:"hub"`
	Persistence      PersistenceConfig `mapstructure:"persistence"`
	SupabaseURL      string            `mapstructure:"supabase_url"`
	SupabaseKey      string            `mapstructure:"supabase_key"`
	Logging          LoggingConfig     `mapstructure:"logging"`
}

// BrokerConfig selects and authenticates the broker connection.
// Type is "ctrader" or "mock"; Environment is "demo" or "live".
type BrokerConfig struct {
	Type         string `mapstructure:"type"`
	Environment  string `mapstructure:"environment"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	AccountID    int64  `mapstructure:"account_id"`
}

// PredictorConfig controls model loading and warmup. The "preditor" key is
// kept for compatibility with existing deployment configs.
type PredictorConfig struct {
	ModelsDir  string `mapstructure:"models_dir"`
	WarmupBars int    `mapstructure:"warmup_bars"`
	MinBars    int    `mapstructure:"min_bars"`
}

// ExecutorConfig points at the per-symbol config file and sets the default
// USD risk budgets for new symbols.
type ExecutorConfig struct {
	ConfigFile   string  `mapstructure:"config_file"`
	DefaultSLUSD float64 `mapstructure:"default_sl_usd"`
	DefaultTPUSD float64 `mapstructure:"default_tp_usd"`
}

// HubConfig wires the telemetry/control uplink.
type HubConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Token      string `mapstructure:"token"`
	InstanceID string `mapstructure:"instance_id"`
}

type PersistenceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	LogFile string `mapstructure:"log_file"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv substitutes ${VAR} and ${VAR:default} in the raw YAML text.
// Unset variables without a default are left untouched.
func expandEnv(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		inner := match[2 : len(match)-1]
		name, def, hasDefault := strings.Cut(inner, ":")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// Load reads config from a YAML file with env expansion and env var
// overrides for credentials: CTRADER_CLIENT_ID, CTRADER_CLIENT_SECRET,
// CTRADER_ACCESS_TOKEN, CTRADER_REFRESH_TOKEN, CTRADER_ACCOUNT_ID,
// CTRADER_ENVIRONMENT, SUPABASE_URL, SUPABASE_KEY.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(expandEnv(string(raw)))); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Broker:         BrokerConfig{Type: "mock", Environment: "demo"},
		Timeframe:      "M15",
		InitialBalance: 10000,
		Predictor:      PredictorConfig{ModelsDir: "./models", WarmupBars: 500, MinBars: 350},
		Executor:       ExecutorConfig{ConfigFile: "configs/executor.json", DefaultSLUSD: 10, DefaultTPUSD: 0},
		Hub:            HubConfig{InstanceID: "bot-v2"},
		Logging:        LoggingConfig{Level: "info"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CTRADER_CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv("CTRADER_CLIENT_SECRET"); v != "" {
		cfg.Broker.ClientSecret = v
	}
	if v := os.Getenv("CTRADER_ACCESS_TOKEN"); v != "" {
		cfg.Broker.AccessToken = v
	}
	if v := os.Getenv("CTRADER_REFRESH_TOKEN"); v != "" {
		cfg.Broker.RefreshToken = v
	}
	if v := os.Getenv("CTRADER_ENVIRONMENT"); v != "" {
		cfg.Broker.Environment = v
	}
	if v := os.Getenv("CTRADER_ACCOUNT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Broker.AccountID = id
		}
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		cfg.SupabaseKey = v
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Broker.Type {
	case "ctrader", "mock":
	default:
		return fmt.Errorf("broker.type must be ctrader or mock, got %q", c.Broker.Type)
	}
	if c.Broker.Type == "ctrader" {
		if c.Broker.ClientID == "" || c.Broker.ClientSecret == "" {
			return fmt.Errorf("broker.client_id and broker.client_secret are required (set CTRADER_CLIENT_ID / CTRADER_CLIENT_SECRET)")
		}
		if c.Broker.AccountID == 0 {
			return fmt.Errorf("broker.account_id is required (set CTRADER_ACCOUNT_ID)")
		}
		switch c.Broker.Environment {
		case "demo", "live":
		default:
			return fmt.Errorf("broker.environment must be demo or live, got %q", c.Broker.Environment)
		}
	}
	if !types.Timeframe(c.Timeframe).Valid() {
		return fmt.Errorf("timeframe %q is not supported", c.Timeframe)
	}
	if c.InitialBalance < 0 {
		return fmt.Errorf("initial_balance must be >= 0")
	}
	if c.Predictor.MinBars <= 0 {
		return fmt.Errorf("preditor.min_bars must be > 0")
	}
	if c.Predictor.WarmupBars < c.Predictor.MinBars {
		return fmt.Errorf("preditor.warmup_bars (%d) must cover min_bars (%d)",
			c.Predictor.WarmupBars, c.Predictor.MinBars)
	}
	if c.Hub.Enabled && c.Hub.URL == "" {
		return fmt.Errorf("hub.url is required when hub.enabled")
	}
	if c.Persistence.Enabled && (c.SupabaseURL == "" || c.SupabaseKey == "") {
		return fmt.Errorf("supabase_url and supabase_key are required when persistence.enabled (set SUPABASE_URL / SUPABASE_KEY)")
	}
	return nil
}
