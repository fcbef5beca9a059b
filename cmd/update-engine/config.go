package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// config mirrors spec.md sec.6's recognized configuration keys, loaded
// the way LanternOps-breeze's agent config loader loads its own: viper
// reading a named config file plus BREEZE_-style environment overrides,
// unmarshaled into a plain struct.
type config struct {
	StateDir          string `mapstructure:"state_dir"`
	CertBundlePath    string `mapstructure:"cert_bundle_path"`
	InstallPlanPath   string `mapstructure:"install_plan_path"`
	ListenAddress     string `mapstructure:"listen_address"`
	CheckIntervalSecs int    `mapstructure:"check_interval_seconds"`
	ScatterFactorSecs int    `mapstructure:"scatter_factor_seconds"`
	EnterpriseManaged bool   `mapstructure:"enterprise_managed"`
	Disk              string `mapstructure:"disk"`
	Partitions        map[string][2]uint `mapstructure:"partitions"`

	// PolicyFilePath names the enterprise device-policy file
	// (MinimumVersion/DisallowedIntervals/RollbackAllowedByPolicy
	// overrides). Left empty, no file is read and no watcher starts.
	PolicyFilePath string `mapstructure:"policy_file_path"`
	// EvaluationTimeoutMs is the wall budget for a single policy
	// evaluation.
	EvaluationTimeoutMs int `mapstructure:"evaluation_timeout_ms"`
	// ExpirationTimeoutMs bounds how long a deferred (AskMeAgainLater)
	// decision stays worth re-checking when PolicyFilePath changes;
	// past it the deferral is dropped and only the next regular tick
	// re-evaluates.
	ExpirationTimeoutMs int `mapstructure:"expiration_timeout_ms"`
}

func defaultConfig() *config {
	return &config{
		StateDir:            filepath.Join(configDir(), "state"),
		ListenAddress:       "127.0.0.1:8532",
		CheckIntervalSecs:   3600,
		ScatterFactorSecs:   0,
		EvaluationTimeoutMs: 5000,
		ExpirationTimeoutMs: 3600000,
	}
}

func loadConfig(cfgFile string) (*config, error) {
	cfg := defaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("update-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("ABUPDATE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("update-engine: reading config: %w", err)
		}
	}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("update-engine: parsing config: %w", err)
	}
	return cfg, nil
}

func configDir() string {
	switch runtime.GOOS {
	case "darwin":
		return "/Library/Application Support/abupdate"
	default:
		if dir := os.Getenv("ABUPDATE_CONFIG_DIR"); dir != "" {
			return dir
		}
		return "/etc/abupdate"
	}
}
