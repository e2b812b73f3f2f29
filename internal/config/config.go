// Package config loads and validates the core's runtime configuration
// (spec.md §8's key table) via viper, with strict unknown-key rejection
// and a mindset preset overlay (conservative/balanced/aggressive/
// ultra_aggressive) applied before explicit options, which always win.
//
// The teacher's go.mod already carries viper and mapstructure but never
// actually uses them (its own config is a handful of plain structs
// populated by flags) — this package is the load-bearing place that
// dependency was always meant to go, generalized to SPEC_FULL.md's
// mindset-overlay and strict-validation requirements.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/trading-core/internal/coreerr"
)

// Mindset is a named preset overlay (spec.md §8).
type Mindset string

const (
	MindsetConservative  Mindset = "conservative"
	MindsetBalanced      Mindset = "balanced"
	MindsetAggressive    Mindset = "aggressive"
	MindsetUltraAggressive Mindset = "ultra_aggressive"
)

// StrategyConfig configures strategy selection.
type StrategyConfig struct {
	Type    string `mapstructure:"type"` // "dynamic" or a single strategy name
	Dynamic struct {
		WeightPerf       float64 `mapstructure:"weight_perf"`
		WeightRegime     float64 `mapstructure:"weight_regime"`
		WeightConfidence float64 `mapstructure:"weight_confidence"`
		CheckIntervalBars int    `mapstructure:"check_interval_bars"`
		FallbackDepth    int     `mapstructure:"fallback_depth"`
	} `mapstructure:"dynamic"`
}

// RiskConfig mirrors internal/risk.Config's tunables at the config layer.
type RiskConfig struct {
	SizingMethod          string  `mapstructure:"sizing_method"`
	MaxPositionSizePct    float64 `mapstructure:"max_position_size_pct"`
	MaxTotalExposurePct   float64 `mapstructure:"max_total_exposure_pct"`
	MaxDailyLossPct       float64 `mapstructure:"max_daily_loss_pct"`
	MaxPositionsPerSymbol int     `mapstructure:"max_positions_per_symbol"`
	MaxTotalPositions     int     `mapstructure:"max_total_positions"`
	MinRiskRewardRatio    float64 `mapstructure:"min_risk_reward_ratio"`
	MinConfidence         float64 `mapstructure:"min_confidence"`
	SLBalanceTiers        []struct {
		MaxBalance float64 `mapstructure:"max_balance"`
		MaxSLPct   float64 `mapstructure:"max_sl_pct"`
	} `mapstructure:"sl_balance_tiers"`
	SLHardCapPct float64 `mapstructure:"sl_hard_cap_pct"`
}

// ConfluenceConfig configures the entry confluence gate.
type ConfluenceConfig struct {
	WeightLevel    float64 `mapstructure:"weight_level"`
	WeightMomentum float64 `mapstructure:"weight_momentum"`
	WeightTiming   float64 `mapstructure:"weight_timing"`
	WeightStructure float64 `mapstructure:"weight_structure"`
	MaxWaitBars    int     `mapstructure:"max_wait_bars"`
	StrictMode     bool    `mapstructure:"strict_mode"`
	QueueCapacity  int     `mapstructure:"queue_capacity"`
}

// DynamicStopConfig configures internal/dynstop.
type DynamicStopConfig struct {
	ATRMultiple        float64 `mapstructure:"atr_multiple"`
	MinShrinkFactor    float64 `mapstructure:"min_shrink_factor"`
	DrawdownForMinK    float64 `mapstructure:"drawdown_for_min_k"`
	MinFractionOfPrice float64 `mapstructure:"min_fraction_of_price"`
}

// ProfitScalerConfig configures internal/scaler.
type ProfitScalerConfig struct {
	Tiers []struct {
		Name        string  `mapstructure:"name"`
		RMultiple   float64 `mapstructure:"r_multiple"`
		TakePercent float64 `mapstructure:"take_percent"`
	} `mapstructure:"tiers"`
	MinBarsInTrade        int     `mapstructure:"min_bars_in_trade"`
	MinProfitAmount       float64 `mapstructure:"min_profit_amount"`
	EmergencyLockThreshold float64 `mapstructure:"emergency_lock_threshold"`
}

// AdoptionConfig configures internal/adoption.
type AdoptionConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	Whitelist        []string `mapstructure:"whitelist"`
	Blacklist        []string `mapstructure:"blacklist"`
	MaxAgeHours      float64  `mapstructure:"max_age_hours"`
	ApplyDefaultSLTP bool     `mapstructure:"apply_default_sltp"`
}

// BrokerConfig configures adapter timeouts/retries.
type BrokerConfig struct {
	TimeoutSeconds        int `mapstructure:"timeout_seconds"`
	Retries               int `mapstructure:"retries"`
	ReconnectBackoffSeconds int `mapstructure:"reconnect_backoff_seconds"`
}

// TelemetryConfig configures the event sink and metrics emission cadence.
type TelemetryConfig struct {
	MetricsIntervalSeconds int `mapstructure:"metrics_interval_seconds"`
	EventBufferSize        int `mapstructure:"event_buffer_size"`
}

// CommandChannelConfig configures the control-plane command queue.
type CommandChannelConfig struct {
	TokenEnv  string `mapstructure:"token_env"`
	RateLimit int    `mapstructure:"rate_limit"`
}

// Config is the top-level runtime configuration (spec.md §8).
type Config struct {
	Symbol       string  `mapstructure:"symbol"`
	Timeframe    string  `mapstructure:"timeframe"`
	PollInterval int     `mapstructure:"poll_interval"`
	LookbackBars int     `mapstructure:"lookback_bars"`
	Mindset      Mindset `mapstructure:"mindset"`

	Strategy        StrategyConfig       `mapstructure:"strategy"`
	Risk            RiskConfig           `mapstructure:"risk"`
	EntryConfluence ConfluenceConfig     `mapstructure:"entry_confluence"`
	DynamicSLTP     DynamicStopConfig    `mapstructure:"dynamic_sltp"`
	ProfitScaler    ProfitScalerConfig   `mapstructure:"profit_scaler"`
	Adoption        AdoptionConfig       `mapstructure:"adoption"`
	Broker          BrokerConfig         `mapstructure:"broker"`
	Telemetry       TelemetryConfig      `mapstructure:"telemetry"`
	CommandChannel  CommandChannelConfig `mapstructure:"command_channel"`
}

// Defaults returns the spec's documented defaults for every field a
// mindset preset does not override.
func Defaults() Config {
	var c Config
	c.Symbol = ""
	c.Timeframe = "M15"
	c.PollInterval = 15
	c.LookbackBars = 250
	c.Mindset = MindsetBalanced
	c.Strategy.Type = "dynamic"
	c.Strategy.Dynamic.WeightPerf = 0.5
	c.Strategy.Dynamic.WeightRegime = 0.35
	c.Strategy.Dynamic.WeightConfidence = 0.15
	c.Strategy.Dynamic.CheckIntervalBars = 20
	c.Risk.SizingMethod = "percent_risk"
	c.Risk.MaxPositionSizePct = 2
	c.Risk.MaxTotalExposurePct = 10
	c.Risk.MaxDailyLossPct = 5
	c.Risk.MaxPositionsPerSymbol = 1
	c.Risk.MaxTotalPositions = 1
	c.Risk.MinRiskRewardRatio = 1.5
	c.Risk.MinConfidence = 0.5
	c.Risk.SLHardCapPct = 15
	c.EntryConfluence.WeightLevel = 0.40
	c.EntryConfluence.WeightMomentum = 0.25
	c.EntryConfluence.WeightTiming = 0.20
	c.EntryConfluence.WeightStructure = 0.15
	c.EntryConfluence.MaxWaitBars = 10
	c.EntryConfluence.StrictMode = true
	c.EntryConfluence.QueueCapacity = 50
	c.DynamicSLTP.ATRMultiple = 2.5
	c.DynamicSLTP.MinShrinkFactor = 0.5
	c.DynamicSLTP.DrawdownForMinK = 0.25
	c.DynamicSLTP.MinFractionOfPrice = 0.001
	c.ProfitScaler.MinBarsInTrade = 3
	c.ProfitScaler.EmergencyLockThreshold = 0.2
	c.Adoption.Enabled = true
	c.Adoption.MaxAgeHours = 24
	c.Adoption.ApplyDefaultSLTP = true
	c.Broker.TimeoutSeconds = 10
	c.Broker.Retries = 3
	c.Broker.ReconnectBackoffSeconds = 5
	c.Telemetry.MetricsIntervalSeconds = 30
	c.Telemetry.EventBufferSize = 10000
	c.CommandChannel.RateLimit = 10
	return c
}

// mindsetOverlay returns the fields a mindset preset pushes over the
// defaults. Explicit user options (loaded after the overlay) still win.
func mindsetOverlay(m Mindset) map[string]interface{} {
	switch m {
	case MindsetConservative:
		return map[string]interface{}{
			"risk.max_position_size_pct": 1.0,
			"risk.max_daily_loss_pct":    2.0,
			"risk.min_confidence":        0.65,
			"entry_confluence.strict_mode": true,
		}
	case MindsetAggressive:
		return map[string]interface{}{
			"risk.max_position_size_pct": 3.0,
			"risk.max_daily_loss_pct":    7.0,
			"risk.min_confidence":        0.45,
		}
	case MindsetUltraAggressive:
		return map[string]interface{}{
			"risk.max_position_size_pct":   5.0,
			"risk.max_daily_loss_pct":      10.0,
			"risk.min_confidence":          0.35,
			"entry_confluence.strict_mode": false,
		}
	default: // balanced: defaults already express it
		return nil
	}
}

// Load reads configuration from explicit defaults, path (if non-empty),
// and environment variables (prefixed CORE_), in that ascending
// priority order, applies the selected mindset's overlay beneath
// explicit options, and rejects any key not recognized by Config
// (spec.md §8: "unknown options are rejected at startup").
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix("CORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w: %v", path, coreerr.ErrConfiguration, err)
		}
	}

	// The overlay replaces the plain defaults for its keys; values from the
	// file or the environment still take precedence over any default.
	mindset := Mindset(v.GetString("mindset"))
	for k, val := range mindsetOverlay(mindset) {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) { dc.ErrorUnused = true }); err != nil {
		return Config{}, fmt.Errorf("config: decoding: %w: %v", coreerr.ErrConfiguration, err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w: %v", coreerr.ErrConfiguration, err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("symbol", d.Symbol)
	v.SetDefault("timeframe", d.Timeframe)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("lookback_bars", d.LookbackBars)
	v.SetDefault("mindset", string(d.Mindset))
	v.SetDefault("strategy.type", d.Strategy.Type)
	v.SetDefault("strategy.dynamic.weight_perf", d.Strategy.Dynamic.WeightPerf)
	v.SetDefault("strategy.dynamic.weight_regime", d.Strategy.Dynamic.WeightRegime)
	v.SetDefault("strategy.dynamic.weight_confidence", d.Strategy.Dynamic.WeightConfidence)
	v.SetDefault("strategy.dynamic.check_interval_bars", d.Strategy.Dynamic.CheckIntervalBars)
	v.SetDefault("risk.sizing_method", d.Risk.SizingMethod)
	v.SetDefault("risk.max_position_size_pct", d.Risk.MaxPositionSizePct)
	v.SetDefault("risk.max_total_exposure_pct", d.Risk.MaxTotalExposurePct)
	v.SetDefault("risk.max_daily_loss_pct", d.Risk.MaxDailyLossPct)
	v.SetDefault("risk.max_positions_per_symbol", d.Risk.MaxPositionsPerSymbol)
	v.SetDefault("risk.max_total_positions", d.Risk.MaxTotalPositions)
	v.SetDefault("risk.min_risk_reward_ratio", d.Risk.MinRiskRewardRatio)
	v.SetDefault("risk.min_confidence", d.Risk.MinConfidence)
	v.SetDefault("risk.sl_hard_cap_pct", d.Risk.SLHardCapPct)
	v.SetDefault("entry_confluence.weight_level", d.EntryConfluence.WeightLevel)
	v.SetDefault("entry_confluence.weight_momentum", d.EntryConfluence.WeightMomentum)
	v.SetDefault("entry_confluence.weight_timing", d.EntryConfluence.WeightTiming)
	v.SetDefault("entry_confluence.weight_structure", d.EntryConfluence.WeightStructure)
	v.SetDefault("entry_confluence.max_wait_bars", d.EntryConfluence.MaxWaitBars)
	v.SetDefault("entry_confluence.strict_mode", d.EntryConfluence.StrictMode)
	v.SetDefault("entry_confluence.queue_capacity", d.EntryConfluence.QueueCapacity)
	v.SetDefault("dynamic_sltp.atr_multiple", d.DynamicSLTP.ATRMultiple)
	v.SetDefault("dynamic_sltp.min_shrink_factor", d.DynamicSLTP.MinShrinkFactor)
	v.SetDefault("dynamic_sltp.drawdown_for_min_k", d.DynamicSLTP.DrawdownForMinK)
	v.SetDefault("dynamic_sltp.min_fraction_of_price", d.DynamicSLTP.MinFractionOfPrice)
	v.SetDefault("profit_scaler.min_bars_in_trade", d.ProfitScaler.MinBarsInTrade)
	v.SetDefault("profit_scaler.emergency_lock_threshold", d.ProfitScaler.EmergencyLockThreshold)
	v.SetDefault("adoption.enabled", d.Adoption.Enabled)
	v.SetDefault("adoption.max_age_hours", d.Adoption.MaxAgeHours)
	v.SetDefault("adoption.apply_default_sltp", d.Adoption.ApplyDefaultSLTP)
	v.SetDefault("broker.timeout_seconds", d.Broker.TimeoutSeconds)
	v.SetDefault("broker.retries", d.Broker.Retries)
	v.SetDefault("broker.reconnect_backoff_seconds", d.Broker.ReconnectBackoffSeconds)
	v.SetDefault("telemetry.metrics_interval_seconds", d.Telemetry.MetricsIntervalSeconds)
	v.SetDefault("telemetry.event_buffer_size", d.Telemetry.EventBufferSize)
	v.SetDefault("command_channel.rate_limit", d.CommandChannel.RateLimit)
}

func validate(c Config) error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.PollInterval < 5 {
		return fmt.Errorf("poll_interval must be >= 5 seconds, got %d", c.PollInterval)
	}
	if c.Risk.SLHardCapPct > 15 {
		return fmt.Errorf("risk.sl_hard_cap_pct must not exceed 15, got %v", c.Risk.SLHardCapPct)
	}
	switch c.Mindset {
	case MindsetConservative, MindsetBalanced, MindsetAggressive, MindsetUltraAggressive:
	default:
		return fmt.Errorf("unrecognized mindset %q", c.Mindset)
	}
	sum := c.EntryConfluence.WeightLevel + c.EntryConfluence.WeightMomentum +
		c.EntryConfluence.WeightTiming + c.EntryConfluence.WeightStructure
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("entry_confluence weights must sum to 1.0, got %v", sum)
	}
	return nil
}
