// Package config handles configuration management with validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete set of §6 enumerated, environment-driven
// settings the orchestrator composition root needs to wire every gate,
// budget, and deadline.
type Config struct {
	Remediation RemediationConfig `yaml:"remediation"`
	Budget      BudgetConfig      `yaml:"budget"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
	Safety      SafetyConfig      `yaml:"safety"`
	FillProb    FillProbConfig    `yaml:"fill_prob"`
	HTTP        HTTPConfig        `yaml:"http"`
	Feed        FeedConfig        `yaml:"feed"`
	FSM         FSMConfig         `yaml:"fsm"`
}

// RemediationConfig controls the remediation gate's mode and allowlists.
type RemediationConfig struct {
	Mode              string   `yaml:"mode" validate:"required,oneof=detect_only plan_only blocked execute_cancel_all execute_flatten"`
	StrategyAllowlist []string `yaml:"strategy_allowlist"`
	SymbolAllowlist   []string `yaml:"symbol_allowlist"`
}

// BudgetConfig bounds remediation call/notional volume per day and per run.
type BudgetConfig struct {
	MaxCallsPerDay            int64           `yaml:"max_calls_per_day" validate:"min=0"`
	MaxNotionalPerDay         decimal.Decimal `yaml:"max_notional_per_day"`
	MaxCallsPerRun            int64           `yaml:"max_calls_per_run" validate:"min=0"`
	MaxNotionalPerRun         decimal.Decimal `yaml:"max_notional_per_run"`
	FlattenMaxNotionalPerCall decimal.Decimal `yaml:"flatten_max_notional_per_call"`
	StatePath                 string          `yaml:"state_path"`
}

// ArtifactsConfig controls the per-run artifact directory lifecycle.
type ArtifactsConfig struct {
	Dir     string `yaml:"dir"`
	TTLDays int    `yaml:"ttl_days" validate:"min=0"`
}

// SafetyConfig gates whether remediation may place real mainnet orders at
// all, independent of the mode/budget gates.
type SafetyConfig struct {
	AllowMainnetTrade bool `yaml:"allow_mainnet_trade"`
	Armed             bool `yaml:"armed"`
	AllowTestnetTrade bool `yaml:"allow_testnet_trade"`
}

// FillProbConfig configures the fill-probability risk gate.
type FillProbConfig struct {
	MinBps              int64 `yaml:"min_bps" validate:"min=0"`
	Enforce             bool  `yaml:"enforce"`
	EvalMaxAgeHours     int   `yaml:"eval_max_age_hours" validate:"min=0"`
}

// HTTPConfig carries per-op deadline overrides, keyed by the httpx.Op
// string (upper-cased in the env var, lower_snake here).
type HTTPConfig struct {
	DeadlinesMs map[string]int64 `yaml:"deadlines_ms"`
}

// FeedConfig configures feed-staleness detection.
type FeedConfig struct {
	StaleMs int64 `yaml:"stale_ms" validate:"min=0"`
}

// FSMConfig overrides the lifecycle FSM's default thresholds (zero value
// means "use fsm.DefaultConfig()'s value").
type FSMConfig struct {
	CooldownMs                   int64   `yaml:"cooldown_ms"`
	FeedStaleThresholdMs         int64   `yaml:"feed_stale_threshold_ms"`
	SpreadSpikeThresholdBps      int64   `yaml:"spread_spike_threshold_bps"`
	ToxicityHighThresholdBps     int64   `yaml:"toxicity_high_threshold_bps"`
	DrawdownThresholdPct         float64 `yaml:"drawdown_threshold_pct"`
	PositionNotionalThresholdUsd float64 `yaml:"position_notional_threshold_usd"`
}

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

var validRemediationModes = []string{"detect_only", "plan_only", "blocked", "execute_cancel_all", "execute_flatten"}

// LoadConfig loads configuration from a YAML file with ${VAR}
// environment-variable expansion, the teacher's read → expand → unmarshal
// → validate pipeline.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv builds a Config directly from the §6 enumerated environment
// variables, for the purely environment-driven deployment path (no config
// file on disk). Unset numeric/decimal vars default to zero; unset
// REMEDIATION_MODE defaults to the safest mode, detect_only.
func LoadFromEnv() (*Config, error) {
	cfg := Config{
		Remediation: RemediationConfig{
			Mode:              envOr("REMEDIATION_MODE", "detect_only"),
			StrategyAllowlist: splitCSV(os.Getenv("REMEDIATION_STRATEGY_ALLOWLIST")),
			SymbolAllowlist:   splitCSV(os.Getenv("REMEDIATION_SYMBOL_ALLOWLIST")),
		},
		Budget: BudgetConfig{
			MaxCallsPerDay:            envInt("MAX_CALLS_PER_DAY"),
			MaxNotionalPerDay:         envDecimal("MAX_NOTIONAL_PER_DAY"),
			MaxCallsPerRun:            envInt("MAX_CALLS_PER_RUN"),
			MaxNotionalPerRun:         envDecimal("MAX_NOTIONAL_PER_RUN"),
			FlattenMaxNotionalPerCall: envDecimal("FLATTEN_MAX_NOTIONAL_PER_CALL"),
			StatePath:                 os.Getenv("BUDGET_STATE_PATH"),
		},
		Artifacts: ArtifactsConfig{
			Dir:     envOr("ARTIFACTS_DIR", "./artifacts"),
			TTLDays: int(envInt("ARTIFACT_TTL_DAYS")),
		},
		Safety: SafetyConfig{
			// Exact string "1" required, per §6; anything else is "not granted".
			AllowMainnetTrade: os.Getenv("ALLOW_MAINNET_TRADE") == "1",
			Armed:             os.Getenv("ARMED") == "1",
			AllowTestnetTrade: os.Getenv("ALLOW_TESTNET_TRADE") == "1",
		},
		FillProb: FillProbConfig{
			MinBps:          envInt("FILL_PROB_MIN_BPS"),
			Enforce:         os.Getenv("FILL_MODEL_ENFORCE") == "1",
			EvalMaxAgeHours: int(envInt("FILL_PROB_EVAL_MAX_AGE_HOURS")),
		},
		HTTP: HTTPConfig{DeadlinesMs: httpDeadlineOverridesFromEnv()},
		Feed: FeedConfig{StaleMs: envInt("FEED_STALE_MS")},
		FSM: FSMConfig{
			CooldownMs:                   envInt("FSM_COOLDOWN_MS"),
			FeedStaleThresholdMs:         envInt("FSM_FEED_STALE_THRESHOLD_MS"),
			SpreadSpikeThresholdBps:      envInt("FSM_SPREAD_SPIKE_THRESHOLD_BPS"),
			ToxicityHighThresholdBps:     envInt("FSM_TOXICITY_HIGH_THRESHOLD_BPS"),
			DrawdownThresholdPct:         envFloat("FSM_DRAWDOWN_THRESHOLD_PCT"),
			PositionNotionalThresholdUsd: envFloat("FSM_POSITION_NOTIONAL_THRESHOLD_USD"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if !contains(validRemediationModes, c.Remediation.Mode) {
		errs = append(errs, ValidationError{
			Field: "remediation.mode", Value: c.Remediation.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validRemediationModes, ", ")),
		}.Error())
	}

	executeMode := c.Remediation.Mode == "execute_cancel_all" || c.Remediation.Mode == "execute_flatten"
	if executeMode && !c.Safety.AllowMainnetTrade && !c.Safety.AllowTestnetTrade {
		errs = append(errs, ValidationError{
			Field: "safety.allow_mainnet_trade", Value: c.Safety.AllowMainnetTrade,
			Message: "an execute_* remediation mode requires ALLOW_MAINNET_TRADE=1 or ALLOW_TESTNET_TRADE=1",
		}.Error())
	}
	if executeMode && !c.Safety.Armed {
		errs = append(errs, ValidationError{
			Field: "safety.armed", Value: c.Safety.Armed,
			Message: "an execute_* remediation mode requires ARMED=1",
		}.Error())
	}

	if c.Budget.MaxCallsPerDay < 0 || c.Budget.MaxCallsPerRun < 0 {
		errs = append(errs, ValidationError{Field: "budget", Message: "call budgets must be non-negative"}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// String returns a string representation of the configuration; there is
// currently nothing secret in §6's enumerated vars, but the method is
// kept so callers have one stable place to log configuration from.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// DefaultConfig returns the safest configuration for tests: detect-only,
// no execution, zero budgets (unlimited).
func DefaultConfig() *Config {
	return &Config{
		Remediation: RemediationConfig{Mode: "detect_only"},
		Budget:      BudgetConfig{MaxNotionalPerDay: decimal.Zero, MaxNotionalPerRun: decimal.Zero, FlattenMaxNotionalPerCall: decimal.Zero},
		Artifacts:   ArtifactsConfig{Dir: "./artifacts", TTLDays: 30},
		Feed:        FeedConfig{StaleMs: 5000},
	}
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func envFloat(key string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return 0
	}
	return v
}

func envDecimal(key string) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// httpDeadlineOverridesFromEnv scans for HTTP_DEADLINE_{OP}_MS vars
// against the known op allowlist (lower-cased, matching httpx.Op values).
func httpDeadlineOverridesFromEnv() map[string]int64 {
	knownOps := []string{
		"place_order", "cancel_order", "amend_order",
		"get_open_orders", "get_positions", "get_account_snapshot", "get_exchange_info",
	}
	out := map[string]int64{}
	for _, op := range knownOps {
		envKey := "HTTP_DEADLINE_" + strings.ToUpper(op) + "_MS"
		if v := envInt(envKey); v > 0 {
			out[op] = v
		}
	}
	return out
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
