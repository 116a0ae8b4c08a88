package wasm

import (
	"context"
	"errors"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	contract "github.com/woxQAQ/platform-bridge/api/wasm"
	"github.com/woxQAQ/platform-bridge/internal/alloc"
	"github.com/woxQAQ/platform-bridge/internal/crash"
)

var errNoMemory = errors.New("core exports no linear memory")

// HostFunctions implements the host functions one core instance imports:
// the memory primitives, the panic hook and logging.
type HostFunctions struct {
	logger   *zap.Logger
	reporter *crash.Reporter
	maxPages uint32

	mu    sync.Mutex
	heap  *alloc.Allocator
	fatal *crash.FatalError
}

// NewHostFunctions creates the host functions for one core instance.
// maxPages caps heap growth; zero leaves it to the runtime's memory limit.
func NewHostFunctions(logger *zap.Logger, reporter *crash.Reporter, maxPages uint32) *HostFunctions {
	return &HostFunctions{
		logger:   logger.With(zap.String("component", "wasm-host")),
		reporter: reporter,
		maxPages: maxPages,
	}
}

// Names lists every host function exported to the core.
func (h *HostFunctions) Names() []string {
	return []string{
		contract.ImportAlloc,
		contract.ImportRealloc,
		contract.ImportDealloc,
		contract.ImportMemcpy,
		contract.ImportMemset,
		contract.ImportPanic,
		contract.ImportLog,
	}
}

// Export registers the host functions on builder.
func (h *HostFunctions) Export(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	return builder.
		NewFunctionBuilder().
		WithFunc(h.rocAlloc).
		WithParameterNames("size", "alignment").
		Export(contract.ImportAlloc).
		NewFunctionBuilder().
		WithFunc(h.rocRealloc).
		WithParameterNames("ptr", "new_size", "old_size", "alignment").
		Export(contract.ImportRealloc).
		NewFunctionBuilder().
		WithFunc(h.rocDealloc).
		WithParameterNames("ptr", "alignment").
		Export(contract.ImportDealloc).
		NewFunctionBuilder().
		WithFunc(h.rocMemcpy).
		WithParameterNames("dst", "src", "count").
		Export(contract.ImportMemcpy).
		NewFunctionBuilder().
		WithFunc(h.rocMemset).
		WithParameterNames("dst", "value", "count").
		Export(contract.ImportMemset).
		NewFunctionBuilder().
		WithFunc(h.rocPanic).
		WithParameterNames("msg_ptr", "tag_id").
		Export(contract.ImportPanic).
		NewFunctionBuilder().
		WithFunc(h.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export(contract.ImportLog)
}

// Heap returns the allocator bound to mod's memory, creating it on first
// use. The core may allocate from its start function, before the instance
// manager sees the module.
func (h *HostFunctions) Heap(mod api.Module) *alloc.Allocator {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.heap != nil {
		return h.heap
	}

	mem := coreMemory(mod)
	if mem == nil {
		panic(&HostFunctionError{FunctionName: "heap", Err: errNoMemory})
	}

	var base uint32
	if g := mod.ExportedGlobal(contract.ExportHeapBase); g != nil {
		base = uint32(g.Get())
	}
	h.heap = alloc.New(mem, alloc.Options{HeapBase: base, MaxPages: h.maxPages}, h.logger)
	return h.heap
}

// TakeFatal returns and clears the panic recorded during the last call.
func (h *HostFunctions) TakeFatal() *crash.FatalError {
	h.mu.Lock()
	defer h.mu.Unlock()

	f := h.fatal
	h.fatal = nil
	return f
}

func (h *HostFunctions) rocAlloc(ctx context.Context, mod api.Module, size, alignment uint32) uint32 {
	return h.Heap(mod).Allocate(size, alignment)
}

func (h *HostFunctions) rocRealloc(ctx context.Context, mod api.Module, ptr, newSize, oldSize, alignment uint32) uint32 {
	return h.Heap(mod).Reallocate(ptr, newSize, oldSize, alignment)
}

func (h *HostFunctions) rocDealloc(ctx context.Context, mod api.Module, ptr, alignment uint32) {
	h.Heap(mod).Deallocate(ptr, alignment)
}

// rocMemcpy traps the core on out-of-bounds access.
func (h *HostFunctions) rocMemcpy(ctx context.Context, mod api.Module, dst, src, count uint32) {
	if err := h.Heap(mod).Copy(dst, src, count); err != nil {
		panic(&HostFunctionError{FunctionName: contract.ImportMemcpy, Err: err})
	}
}

func (h *HostFunctions) rocMemset(ctx context.Context, mod api.Module, dst, value, count uint32) {
	if err := h.Heap(mod).Set(dst, byte(value), count); err != nil {
		panic(&HostFunctionError{FunctionName: contract.ImportMemset, Err: err})
	}
}

// rocPanic reports the core's panic and stops the core. With the reporter
// in exit mode the process ends inside Report.
func (h *HostFunctions) rocPanic(ctx context.Context, mod api.Module, msgPtr, tagID uint32) {
	msg, err := NewMemory(mod).ReadText(msgPtr)
	if err != nil {
		h.logger.Error("Failed to read panic message from Wasm memory",
			zap.Uint32("msg_ptr", msgPtr),
			zap.Error(err),
		)
		msg = "<unreadable panic message>"
	}

	fatal := h.reporter.Report(msg, tagID)

	h.mu.Lock()
	h.fatal = fatal
	h.mu.Unlock()

	// Nothing may run in the core after a panic.
	exitCode := uint32(fatal.ExitCode)
	_ = mod.CloseWithExitCode(ctx, exitCode)
	panic(sys.NewExitError(exitCode))
}

// logMessage is called by the core to log messages.
// level: 0 = debug, 1 = info, 2 = warn, 3 = error
func (h *HostFunctions) logMessage(ctx context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	mem := coreMemory(mod)
	if mem == nil {
		h.logger.Error("Core logged without a linear memory",
			zap.Uint32("level", level),
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return
	}

	msg, ok := mem.Read(ptr, length)
	if !ok {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return
	}

	switch level {
	case 0:
		h.logger.Debug(string(msg))
	case 1:
		h.logger.Info(string(msg))
	case 2:
		h.logger.Warn(string(msg))
	case 3:
		h.logger.Error(string(msg))
	default:
		h.logger.Info(string(msg))
	}
}
