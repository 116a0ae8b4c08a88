package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woxQAQ/platform-bridge/internal/crash"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./core", cfg.CoreDir)
	assert.Equal(t, uint32(256), cfg.Wasm.MemoryPages)
	assert.False(t, cfg.Wasm.Debug)
	assert.Empty(t, cfg.Wasm.CacheDir)
	assert.Equal(t, 30, cfg.Wasm.ExecutionTimeout)
	assert.Equal(t, "exit", cfg.Bridge.PanicMode)
	assert.Equal(t, 0, cfg.Bridge.ExitCode)
	assert.True(t, cfg.Bridge.ValidateDescriptors)
	assert.Equal(t, crash.ModeExit, cfg.PanicMode())
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", `
log_level: debug
core_dir: /srv/core
wasm:
  memory_pages: 64
  execution_timeout: 5
bridge:
  panic_mode: return
  exit_code: 3
  validate_descriptors: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/srv/core", cfg.CoreDir)
	assert.Equal(t, uint32(64), cfg.Wasm.MemoryPages)
	assert.Equal(t, crash.ModeReturn, cfg.PanicMode())
	assert.Equal(t, 3, cfg.Bridge.ExitCode)
	assert.False(t, cfg.Bridge.ValidateDescriptors)
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, "bridge.toml", `
core_dir = "./cores"

[wasm]
debug = true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "./cores", cfg.CoreDir)
	assert.True(t, cfg.Wasm.Debug)
	assert.Equal(t, uint32(256), cfg.Wasm.MemoryPages)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BRIDGE_LOG_LEVEL", "warn")
	t.Setenv("BRIDGE_WASM_MEMORY_PAGES", "32")
	t.Setenv("BRIDGE_BRIDGE_PANIC_MODE", "return")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, uint32(32), cfg.Wasm.MemoryPages)
	assert.Equal(t, crash.ModeReturn, cfg.PanicMode())
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown log level", content: "log_level: loud\n"},
		{name: "unknown panic mode", content: "bridge:\n  panic_mode: ignore\n"},
		{name: "zero memory pages", content: "wasm:\n  memory_pages: 0\n"},
		{name: "negative timeout", content: "wasm:\n  execution_timeout: -1\n"},
		{name: "exit code out of range", content: "bridge:\n  exit_code: 300\n"},
		{name: "empty core dir", content: "core_dir: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "bridge.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidateConcurrent(t *testing.T) {
	good := &Config{
		LogLevel: "info",
		CoreDir:  "./core",
		Wasm:     WasmConfig{MemoryPages: 16},
		Bridge:   BridgeConfig{PanicMode: "return"},
	}
	bad := *good
	bad.LogLevel = "loud"

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, good.Validate())
			assert.Error(t, bad.Validate())
		}()
	}
	wg.Wait()
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRuntimeConfig(t *testing.T) {
	cfg := &Config{Wasm: WasmConfig{
		MemoryPages:      128,
		Debug:            true,
		CacheDir:         "/tmp/cache",
		ExecutionTimeout: 2,
	}}

	rc := cfg.RuntimeConfig()
	assert.Equal(t, uint32(128), rc.MemoryPages)
	assert.True(t, rc.DebugEnabled)
	assert.Equal(t, "/tmp/cache", rc.CacheDir)
	assert.Equal(t, 2*time.Second, rc.ExecutionTimeout)
}
