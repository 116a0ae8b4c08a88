package wasm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	contract "github.com/woxQAQ/platform-bridge/api/wasm"
	"github.com/woxQAQ/platform-bridge/internal/alloc"
	"github.com/woxQAQ/platform-bridge/internal/crash"
)

const wasiModuleName = "wasi_snapshot_preview1"

// InstanceManager creates and manages core instances.
type InstanceManager struct {
	runtime  *Runtime
	reporter *crash.Reporter
	logger   *zap.Logger
}

// NewInstanceManager creates a new instance manager. reporter receives
// every panic raised by the cores it instantiates.
func NewInstanceManager(runtime *Runtime, reporter *crash.Reporter, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:  runtime,
		reporter: reporter,
		logger:   logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, generates one).
	InstanceID string

	// Module the core imports host functions from. Defaults to "env".
	ImportModule string

	// Entry point export. Defaults to the standard entry name.
	Entry string
}

// Instance is an instantiated application core.
type Instance struct {
	runtime *Runtime
	module  api.Module
	host    api.Module
	funcs   *HostFunctions
	entry   api.Function
	heap    *alloc.Allocator

	timeout time.Duration
	logger  *zap.Logger

	ID        string
	Name      string
	EntryName string
	CreatedAt int64
}

// Instantiate creates a new core instance from a compiled module, wiring
// the host functions it imports.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateInstanceID()
	}
	importModule := config.ImportModule
	if importModule == "" {
		importModule = contract.DefaultImportModule
	}
	entryName := config.Entry
	if entryName == "" {
		entryName = contract.DefaultEntry
	}

	m.logger.Info("Instantiating core",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
		zap.String("import_module", importModule),
		zap.String("entry", entryName),
	)

	funcs := NewHostFunctions(m.logger, m.reporter, m.runtime.config.MemoryPages)

	needsWASI, err := checkImports(compiled, importModule, funcs.Names())
	if err != nil {
		return nil, err
	}
	if err := checkEntry(compiled, entryName); err != nil {
		return nil, err
	}
	if needsWASI {
		if err := m.runtime.ensureWASI(ctx); err != nil {
			return nil, err
		}
	}

	host, err := funcs.Export(m.runtime.runtime.NewHostModuleBuilder(importModule)).Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate host module '%s': %w", importModule, err)
	}

	// Reactor-style cores initialise through _initialize; wazero skips
	// start functions the module does not export.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions("_initialize")

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if fatal := funcs.TakeFatal(); fatal != nil {
		// The core panicked in its start function.
		if module != nil {
			_ = module.Close(ctx)
		}
		_ = host.Close(ctx)
		return nil, fatal
	}
	if err != nil {
		_ = host.Close(ctx)
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	if coreMemory(module) == nil {
		_ = module.Close(ctx)
		_ = host.Close(ctx)
		return nil, &MemoryAccessError{Operation: "resolve memory", Err: errNoMemory}
	}

	instance := &Instance{
		runtime:   m.runtime,
		module:    module,
		host:      host,
		funcs:     funcs,
		entry:     module.ExportedFunction(entryName),
		heap:      funcs.Heap(module),
		timeout:   m.runtime.config.ExecutionTimeout,
		logger:    m.logger.With(zap.String("instance_id", instanceID)),
		ID:        instanceID,
		Name:      config.ModuleName,
		EntryName: entryName,
		CreatedAt: time.Now().Unix(),
	}

	m.runtime.StoreInstance(instance)

	st := instance.heap.Stats()
	m.logger.Info("Core instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Uint32("heap_base", st.HeapBase),
		zap.Uint32("memory_size", st.MemorySize),
	)

	return instance, nil
}

// Invoke calls the core's entry point with an output record at outPtr and
// an input record at inPtr. A panic raised by the core during the call is
// returned as *crash.FatalError. After a panic or a timeout the instance is
// dropped and later calls fail with ErrInstanceClosed.
func (i *Instance) Invoke(ctx context.Context, outPtr, inPtr uint32) error {
	if _, live := i.runtime.GetInstance(i.ID); !live {
		return ErrInstanceClosed
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	_, err := i.entry.Call(ctx, uint64(outPtr), uint64(inPtr))
	if fatal := i.funcs.TakeFatal(); fatal != nil {
		i.drop(ctx, "panic")
		return fatal
	}
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		i.logger.Error("Core execution timed out", zap.Duration("timeout", i.timeout))
		i.drop(context.WithoutCancel(ctx), "timeout")
		return &TimeoutError{Duration: i.timeout}
	}
	return err
}

// Heap returns the allocator managing the core's linear memory.
func (i *Instance) Heap() *alloc.Allocator {
	return i.heap
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.runtime.DeleteInstance(i.ID)

	err := i.module.Close(ctx)
	if hostErr := i.host.Close(ctx); hostErr != nil && err == nil {
		err = hostErr
	}
	return err
}

// drop closes an instance whose module wazero already shut down.
func (i *Instance) drop(ctx context.Context, reason string) {
	if err := i.Close(ctx); err != nil {
		i.logger.Warn("Failed to drop instance", zap.String("reason", reason), zap.Error(err))
		return
	}
	i.logger.Info("Instance dropped", zap.String("reason", reason))
}

// checkImports rejects cores importing host functions the bridge does not
// provide. It reports whether the core also needs WASI.
func checkImports(compiled *CompiledModule, importModule string, provided []string) (bool, error) {
	needsWASI := false
	for _, def := range compiled.Module.ImportedFunctions() {
		modName, name, _ := def.Import()
		switch {
		case modName == wasiModuleName:
			needsWASI = true
		case modName == importModule && slices.Contains(provided, name):
		default:
			return false, &UnknownImportError{
				ModuleName:   compiled.Name,
				ImportModule: modName,
				ImportName:   name,
			}
		}
	}
	return needsWASI, nil
}

// checkEntry verifies the entry point exists as entry(i32, i32).
func checkEntry(compiled *CompiledModule, entryName string) error {
	def, ok := compiled.Module.ExportedFunctions()[entryName]
	if !ok {
		return &FunctionNotFoundError{ModuleName: compiled.Name, FunctionName: entryName}
	}

	params, results := def.ParamTypes(), def.ResultTypes()
	want := []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	if !slices.Equal(params, want) || len(results) != 0 {
		return &SignatureError{
			ModuleName:   compiled.Name,
			FunctionName: entryName,
			Want:         "(i32, i32) -> ()",
			Got:          signature(params, results),
		}
	}
	return nil
}

func signature(params, results []api.ValueType) string {
	names := func(ts []api.ValueType) string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = api.ValueTypeName(t)
		}
		return strings.Join(out, ", ")
	}
	return fmt.Sprintf("(%s) -> (%s)", names(params), names(results))
}

// generateInstanceID generates a unique instance ID.
func generateInstanceID() string {
	return fmt.Sprintf("core-%d", time.Now().UnixNano())
}
