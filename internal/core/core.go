// Package core describes and loads the compiled application core a host
// embeds: a manifest.yaml next to the core's .wasm file.
package core

import (
	"time"

	contract "github.com/woxQAQ/platform-bridge/api/wasm"
	"github.com/woxQAQ/platform-bridge/internal/wasm"
)

// Core is a loaded application core with its manifest and compiled module.
type Core struct {
	// Manifest is the parsed core metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the core was loaded
	LoadedAt time.Time
}

// Name returns the core name.
func (c *Core) Name() string {
	return c.Manifest.Name
}

// Version returns the core version.
func (c *Core) Version() string {
	return c.Manifest.Version
}

// Entry returns the entry point export, falling back to the standard name.
func (c *Core) Entry() string {
	if c.Manifest.Entry != "" {
		return c.Manifest.Entry
	}
	return contract.DefaultEntry
}

// ImportModule returns the module name the core imports host functions from.
func (c *Core) ImportModule() string {
	if c.Manifest.ImportModule != "" {
		return c.Manifest.ImportModule
	}
	return contract.DefaultImportModule
}

// InstanceConfig returns the configuration to instantiate this core.
func (c *Core) InstanceConfig() *wasm.InstanceConfig {
	return &wasm.InstanceConfig{
		ModuleName:   c.Compiled.Name,
		ImportModule: c.ImportModule(),
		Entry:        c.Entry(),
	}
}
