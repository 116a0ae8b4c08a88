// Package bridge marshals host calls into the application core's single
// entry point. It builds the input record, invokes the core, unpacks the
// output record and threads the platform state through a Session.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/platform-bridge/internal/abi"
	"github.com/woxQAQ/platform-bridge/internal/alloc"
	"github.com/woxQAQ/platform-bridge/internal/crash"
	"github.com/woxQAQ/platform-bridge/internal/state"
)

// Core is the application core's entry point. It reads the input record at
// inPtr and writes the output record at outPtr.
type Core interface {
	Invoke(ctx context.Context, outPtr, inPtr uint32) error
}

// Heap is where the bridge stages payloads and records for one call.
type Heap interface {
	Allocate(size, alignment uint32) uint32
	Deallocate(ptr, alignment uint32)
	Memory() alloc.Memory
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithDescriptorValidation toggles checks on the payload descriptors the
// bridge builds. A descriptor built from a Heap that honours its contract is
// always valid, so the check only catches a Heap handing out blocks outside
// guest memory. Descriptors read back from the core are validated regardless.
func WithDescriptorValidation(enabled bool) Option {
	return func(b *Bridge) { b.validate = enabled }
}

// Bridge exposes the init and dispatch entry points to the host.
type Bridge struct {
	// mu serialises core invocations; the core is single-threaded.
	mu sync.Mutex

	core     Core
	heap     Heap
	validate bool
	logger   *zap.Logger
}

// New creates a bridge over core, staging data in heap.
func New(core Core, heap Heap, logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		core:     core,
		heap:     heap,
		validate: true,
		logger:   logger.With(zap.String("component", "bridge")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init runs the core's init path with payload and returns a new session
// holding the resulting platform state.
func (b *Bridge) Init(ctx context.Context, payload []byte) (*state.Session, error) {
	s := state.NewSession()
	if err := b.InitSession(ctx, s, payload); err != nil {
		return nil, err
	}
	return s, nil
}

// InitSession runs the init path against an existing session. The returned
// state replaces whatever the session held.
func (b *Bridge) InitSession(ctx context.Context, s *state.Session, payload []byte) error {
	s.Acquire()
	defer s.Release()

	prior := s.Read()
	out, err := b.invoke(ctx, "init", payload, func(d abi.BufferDescriptor) abi.InputRecord {
		return abi.InputRecord{
			PriorState:  uint32(prior),
			InitPayload: d,
			IsInit:      true,
		}
	})
	if err != nil {
		return err
	}

	s.Write(state.Handle(out.NewState))
	s.MarkInitialized()

	b.logger.Debug("Core initialized",
		zap.Stringer("prior_state", prior),
		zap.Stringer("new_state", state.Handle(out.NewState)),
		zap.Int("payload_bytes", len(payload)),
	)
	return nil
}

// Dispatch delivers an event payload to handlerID and returns the packed
// preventDefault/stopPropagation result.
//
// Dispatching on a session that was never initialised passes the null state
// to the core; what the core does with it is up to the core.
func (b *Bridge) Dispatch(ctx context.Context, s *state.Session, payload []byte, handlerID uint32) (abi.ResultCode, error) {
	s.Acquire()
	defer s.Release()

	if !s.Initialized() {
		b.logger.Warn("Dispatch before init, passing null state",
			zap.Uint32("handler_id", handlerID),
		)
	}

	prior := s.Read()
	out, err := b.invoke(ctx, "dispatch", payload, func(d abi.BufferDescriptor) abi.InputRecord {
		return abi.InputRecord{
			HandlerID:    handlerID,
			EventPayload: d,
			PriorState:   uint32(prior),
		}
	})
	if err != nil {
		return 0, err
	}

	s.Write(state.Handle(out.NewState))
	code := out.Result()

	b.logger.Debug("Event dispatched",
		zap.Uint32("handler_id", handlerID),
		zap.Stringer("prior_state", prior),
		zap.Stringer("new_state", state.Handle(out.NewState)),
		zap.Stringer("result", code),
	)
	return code, nil
}

// staging tracks guest allocations made for one call.
type staging []stagedBlock

type stagedBlock struct {
	ptr   uint32
	align uint32
}

func (st staging) release(h Heap) {
	for _, blk := range st {
		h.Deallocate(blk.ptr, blk.align)
	}
}

func (b *Bridge) invoke(
	ctx context.Context,
	op string,
	payload []byte,
	build func(abi.BufferDescriptor) abi.InputRecord,
) (abi.OutputRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var st staging
	defer func() { st.release(b.heap) }()

	desc, err := b.stagePayload(op, &st, payload)
	if err != nil {
		return abi.OutputRecord{}, err
	}

	rec := build(desc)
	inPtr, err := b.stage(op, &st, "input record", rec.Encode())
	if err != nil {
		return abi.OutputRecord{}, err
	}
	outPtr, err := b.stage(op, &st, "output record", make([]byte, abi.OutputSize))
	if err != nil {
		return abi.OutputRecord{}, err
	}

	if err := b.core.Invoke(ctx, outPtr, inPtr); err != nil {
		var fatal *crash.FatalError
		if errors.As(err, &fatal) {
			return abi.OutputRecord{}, fatal
		}
		return abi.OutputRecord{}, &InvocationError{Op: op, Err: err}
	}

	raw, ok := b.heap.Memory().Read(outPtr, abi.OutputSize)
	if !ok {
		return abi.OutputRecord{}, &InvocationError{
			Op:  op,
			Err: fmt.Errorf("output record at %d unreadable", outPtr),
		}
	}
	return abi.DecodeOutput(raw)
}

// stagePayload copies payload into guest memory and describes it.
func (b *Bridge) stagePayload(op string, st *staging, payload []byte) (abi.BufferDescriptor, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return abi.BufferDescriptor{}, &DescriptorError{
			Op:    op,
			Field: "payload",
			Err:   fmt.Errorf("length %d exceeds the 32-bit address space", len(payload)),
		}
	}
	if len(payload) == 0 {
		return abi.BufferDescriptor{}, nil
	}

	n := uint32(len(payload))
	ptr := b.heap.Allocate(n, 1)
	if ptr == 0 {
		return abi.BufferDescriptor{}, &StagingError{Op: op, What: "payload", Size: n, Err: alloc.ErrOutOfMemory}
	}
	*st = append(*st, stagedBlock{ptr: ptr, align: 1})

	desc := abi.BufferDescriptor{Pointer: ptr, Length: n, Capacity: n}
	mem := b.heap.Memory()
	if b.validate {
		if err := desc.Validate(mem.Size()); err != nil {
			return abi.BufferDescriptor{}, &DescriptorError{Op: op, Field: "payload", Err: err}
		}
	}
	if !mem.Write(ptr, payload) {
		return abi.BufferDescriptor{}, &StagingError{
			Op:   op,
			What: "payload",
			Size: n,
			Err:  &alloc.BoundsError{Op: "write", Addr: ptr, Length: n, Size: mem.Size()},
		}
	}
	return desc, nil
}

// stage allocates a record-aligned block holding data.
func (b *Bridge) stage(op string, st *staging, what string, data []byte) (uint32, error) {
	n := uint32(len(data))
	ptr := b.heap.Allocate(n, abi.RecordAlignment)
	if ptr == 0 {
		return 0, &StagingError{Op: op, What: what, Size: n, Err: alloc.ErrOutOfMemory}
	}
	*st = append(*st, stagedBlock{ptr: ptr, align: abi.RecordAlignment})

	mem := b.heap.Memory()
	if !mem.Write(ptr, data) {
		return 0, &StagingError{
			Op:   op,
			What: what,
			Size: n,
			Err:  &alloc.BoundsError{Op: "write", Addr: ptr, Length: n, Size: mem.Size()},
		}
	}
	return ptr, nil
}
