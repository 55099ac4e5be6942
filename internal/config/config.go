// Package config loads Recorder, Emulator and Test Runner configuration
// from a YAML file plus VTSR_-prefixed environment variables, the same
// viper-based shape the teacher's proxy config used with its ABB_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RecorderConfig is the Recorder binary's configuration (§6).
type RecorderConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	GenesisSeed string        `mapstructure:"genesis_seed"`
	AuditPath   string        `mapstructure:"audit_path"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// EmulatorConfig is the Emulator binary's configuration (§6).
type EmulatorConfig struct {
	Host   string `mapstructure:"host"`
	LogDir string `mapstructure:"log_dir"`
}

// RunnerConfig is the Test Runner binary's configuration (§6, §4.I).
type RunnerConfig struct {
	NumScans int `mapstructure:"num_scans"`
}

// Validate rejects a RecorderConfig with an empty genesis seed, mirroring
// the teacher's ServerConfig.GenesisSeed validation.
func (c *RecorderConfig) Validate() error {
	if c.GenesisSeed == "" {
		return fmt.Errorf("config: recorder.genesis_seed cannot be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: recorder.listen_addr cannot be empty")
	}
	return nil
}

// LoadRecorder reads Recorder configuration from config.yaml (optional) and
// VTSR_-prefixed environment variables, e.g. VTSR_RECORDER_LISTEN_ADDR.
func LoadRecorder() (*RecorderConfig, error) {
	v := newViper()
	v.SetDefault("recorder.listen_addr", ":10101")
	v.SetDefault("recorder.genesis_seed", "vts-replay-default-seed")
	v.SetDefault("recorder.audit_path", "./logs/recorder_audit.jsonl")
	v.SetDefault("recorder.idle_timeout", 0)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var wrapper struct {
		Recorder RecorderConfig `mapstructure:"recorder"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return nil, fmt.Errorf("config: unmarshal recorder: %w", err)
	}
	cfg := wrapper.Recorder
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEmulator reads Emulator configuration.
func LoadEmulator() (*EmulatorConfig, error) {
	v := newViper()
	v.SetDefault("emulator.host", "localhost")
	v.SetDefault("emulator.log_dir", "./logs/emulator")

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var wrapper struct {
		Emulator EmulatorConfig `mapstructure:"emulator"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return nil, fmt.Errorf("config: unmarshal emulator: %w", err)
	}
	return &wrapper.Emulator, nil
}

// LoadRunner reads Test Runner configuration.
func LoadRunner() (*RunnerConfig, error) {
	v := newViper()
	v.SetDefault("runner.num_scans", 1)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var wrapper struct {
		Runner RunnerConfig `mapstructure:"runner"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return nil, fmt.Errorf("config: unmarshal runner: %w", err)
	}
	return &wrapper.Runner, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vts-replay")
	v.SetEnvPrefix("VTSR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: read config file: %w", err)
		}
	}
	return nil
}
