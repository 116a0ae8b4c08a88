package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/platform-bridge/internal/wasm"
)

// Loader handles loading cores from disk.
type Loader struct {
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new core loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "core-loader")),
	}
}

// Load loads the core described by dir/manifest.yaml and compiles its module.
func (l *Loader) Load(ctx context.Context, dir string) (*Core, error) {
	l.logger.Debug("Loading core", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading core",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("wasm", manifest.Wasm.File),
	)

	// Compile Wasm module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, manifest.WasmPath())
	if err != nil {
		return nil, &LoadError{
			CoreName: manifest.Name,
			Err:      err,
		}
	}

	c := &Core{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Core loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
		zap.String("digest", compiled.Digest),
	)

	return c, nil
}

// Find loads the core in dir. When dir has no manifest of its own, its
// subdirectories are tried in name order and the first valid core wins.
func (l *Loader) Find(ctx context.Context, dir string) (*Core, error) {
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err == nil {
		return l.Load(ctx, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Warn("Core directory does not exist", zap.String("dir", dir))
			return nil, &NoCoreFoundError{Dir: dir}
		}
		return nil, fmt.Errorf("failed to read directory '%s': %w", dir, err)
	}

	// os.ReadDir returns entries sorted by file name.
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		coreDir := filepath.Join(dir, entry.Name())

		c, err := l.Load(ctx, coreDir)
		if err != nil {
			l.logger.Error("Failed to load core",
				zap.String("dir", coreDir),
				zap.Error(err),
			)
			continue
		}
		return c, nil
	}

	return nil, &NoCoreFoundError{Dir: dir}
}
