// Package config loads the bridge host configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/woxQAQ/platform-bridge/internal/crash"
	"github.com/woxQAQ/platform-bridge/internal/wasm"
)

// EnvPrefix prefixes environment overrides, e.g. BRIDGE_WASM_MEMORY_PAGES.
const EnvPrefix = "BRIDGE"

type Config struct {
	LogLevel string       `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	CoreDir  string       `mapstructure:"core_dir" validate:"required"`
	Wasm     WasmConfig   `mapstructure:"wasm"`
	Bridge   BridgeConfig `mapstructure:"bridge"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit for the core (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages" validate:"min=1,max=65536"`
	// Keep debug info for guest stack traces.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Entry point execution timeout (seconds). 0 disables it.
	ExecutionTimeout int `mapstructure:"execution_timeout" validate:"gte=0"`
}

// BridgeConfig controls the marshaling layer and panic handling.
type BridgeConfig struct {
	// exit terminates the process on a core panic, return hands the
	// failure back to the host loop.
	PanicMode string `mapstructure:"panic_mode" validate:"oneof=exit return"`
	// Process exit status after a core panic.
	ExitCode int `mapstructure:"exit_code" validate:"gte=0,lte=255"`
	// Validate buffer descriptors before each call.
	ValidateDescriptors bool `mapstructure:"validate_descriptors"`
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("core_dir", "./core")

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.execution_timeout", 30)

	// Bridge defaults
	v.SetDefault("bridge.panic_mode", string(crash.ModeExit))
	v.SetDefault("bridge.exit_code", 0)
	v.SetDefault("bridge.validate_descriptors", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate caches struct metadata across calls; it is safe for concurrent use.
var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RuntimeConfig converts the wasm section for the runtime.
func (c *Config) RuntimeConfig() *wasm.RuntimeConfig {
	return &wasm.RuntimeConfig{
		MemoryPages:      c.Wasm.MemoryPages,
		DebugEnabled:     c.Wasm.Debug,
		CacheDir:         c.Wasm.CacheDir,
		ExecutionTimeout: time.Duration(c.Wasm.ExecutionTimeout) * time.Second,
	}
}

// PanicMode returns the configured crash mode.
func (c *Config) PanicMode() crash.Mode {
	// Validate already restricted the value.
	mode, _ := crash.ParseMode(c.Bridge.PanicMode)
	return mode
}
