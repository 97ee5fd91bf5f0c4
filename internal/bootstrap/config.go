package bootstrap

import (
	"fmt"

	"gridcore/internal/config"
)

// Config is an alias for the project's main configuration struct.
type Config = config.Config

// LoadConfig delegates to the project's config loader: a YAML file path
// when given, or pure environment-variable configuration when empty.
// Either way, §6 pre-flight checks beyond schema validation run after.
func LoadConfig(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadConfig(path)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks the schema validator can't
// express as struct tags: the mainnet/armed interlock required before
// any execute_* remediation mode is allowed to run unattended, and
// artifact directory sanity.
func checkPreFlight(cfg *Config) error {
	executeMode := cfg.Remediation.Mode == "execute_cancel_all" || cfg.Remediation.Mode == "execute_flatten"
	if executeMode && !cfg.Safety.Armed {
		return fmt.Errorf("remediation.mode=%s requires ARMED=1", cfg.Remediation.Mode)
	}
	if executeMode && !cfg.Safety.AllowMainnetTrade && !cfg.Safety.AllowTestnetTrade {
		return fmt.Errorf("remediation.mode=%s requires ALLOW_MAINNET_TRADE=1 or ALLOW_TESTNET_TRADE=1", cfg.Remediation.Mode)
	}
	if cfg.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir must not be empty")
	}
	return nil
}
