// Package host assembles a running bridge: the Wasm runtime, the loaded
// core, the crash reporter and the marshaling layer, plus the line loop
// that feeds events to it.
package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/woxQAQ/platform-bridge/internal/abi"
	"github.com/woxQAQ/platform-bridge/internal/bridge"
	"github.com/woxQAQ/platform-bridge/internal/config"
	"github.com/woxQAQ/platform-bridge/internal/core"
	"github.com/woxQAQ/platform-bridge/internal/crash"
	"github.com/woxQAQ/platform-bridge/internal/state"
	"github.com/woxQAQ/platform-bridge/internal/wasm"
	"github.com/woxQAQ/platform-bridge/pkg/protocol"
)

// maxLineBytes bounds one event line.
const maxLineBytes = 16 << 20

type Host struct {
	cfg    *config.Config
	logger *zap.Logger

	wasmRuntime *wasm.Runtime
	core        *core.Core
	instance    *wasm.Instance
	reporter    *crash.Reporter
	bridge      *bridge.Bridge

	session *state.Session
}

// Option configures a Host.
type Option func(*options)

type options struct {
	crash []crash.Option
}

// WithCrashOptions appends reporter options after the configured ones.
func WithCrashOptions(opts ...crash.Option) Option {
	return func(o *options) { o.crash = append(o.crash, opts...) }
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Host, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Initialize Wasm runtime.
	wasmRuntime, err := wasm.NewRuntime(ctx, logger, cfg.RuntimeConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	h, err := build(ctx, cfg, logger, wasmRuntime, o)
	if err != nil {
		_ = wasmRuntime.Close(ctx)
		return nil, err
	}

	logger.Info("Bridge host initialized",
		zap.String("core", h.core.Name()),
		zap.String("core_version", h.core.Version()),
		zap.String("panic_mode", string(h.reporter.Mode())),
		zap.Bool("validate_descriptors", cfg.Bridge.ValidateDescriptors),
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
	)

	return h, nil
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, wasmRuntime *wasm.Runtime, o options) (*Host, error) {
	c, err := core.NewLoader(wasmRuntime, logger).Find(ctx, cfg.CoreDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load core: %w", err)
	}

	crashOpts := append([]crash.Option{
		crash.WithMode(cfg.PanicMode()),
		crash.WithExitCode(cfg.Bridge.ExitCode),
	}, o.crash...)
	reporter := crash.NewReporter(logger, crashOpts...)

	instance, err := wasm.NewInstanceManager(wasmRuntime, reporter, logger).Instantiate(ctx, c.InstanceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate core '%s': %w", c.Name(), err)
	}

	b := bridge.New(instance, instance.Heap(), logger,
		bridge.WithDescriptorValidation(cfg.Bridge.ValidateDescriptors),
	)

	return &Host{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "host")),
		wasmRuntime: wasmRuntime,
		core:        c,
		instance:    instance,
		reporter:    reporter,
		bridge:      b,
	}, nil
}

// Bridge returns the marshaling layer bound to the core.
func (h *Host) Bridge() *bridge.Bridge {
	return h.bridge
}

// Core returns the loaded core.
func (h *Host) Core() *core.Core {
	return h.core
}

// Instance returns the running core instance.
func (h *Host) Instance() *wasm.Instance {
	return h.instance
}

// Session returns the host's session, nil before the first call.
func (h *Host) Session() *state.Session {
	return h.session
}

// Init runs the core's init path. Calling it again re-initialises the
// same session.
func (h *Host) Init(ctx context.Context, payload []byte) error {
	if h.session == nil {
		s, err := h.bridge.Init(ctx, payload)
		if err != nil {
			return err
		}
		h.session = s
		return nil
	}
	return h.bridge.InitSession(ctx, h.session, payload)
}

// Dispatch delivers payload to handlerID. Without a prior Init the core
// receives the null state.
func (h *Host) Dispatch(ctx context.Context, payload []byte, handlerID uint32) (abi.ResultCode, error) {
	if h.session == nil {
		h.session = state.NewSession()
	}
	return h.bridge.Dispatch(ctx, h.session, payload, handlerID)
}

// Serve reads event lines from r and writes one result line per event to
// w. It stops at end of input, on a write error, or when the core panics;
// the panic is returned as *crash.FatalError.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := protocol.ParseEvent(scanner.Bytes())
		if err != nil {
			if protocol.IsEmpty(err) {
				continue
			}
			h.logger.Warn("Rejected event line", zap.Error(err))
			if err := enc.Encode(protocol.ErrorResult(err)); err != nil {
				return err
			}
			continue
		}

		res, err := h.handle(ctx, ev)
		if err != nil {
			var fatal *crash.FatalError
			if errors.As(err, &fatal) {
				return err
			}
			h.logger.Error("Event failed",
				zap.Uint32("handler_id", ev.Handler),
				zap.Bool("init", ev.Init),
				zap.Error(err),
			)
			res = protocol.ErrorResult(err)
		}

		if err := enc.Encode(res); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// ServeStdio serves events from stdin to stdout.
func (h *Host) ServeStdio(ctx context.Context) error {
	return h.Serve(ctx, os.Stdin, os.Stdout)
}

func (h *Host) handle(ctx context.Context, ev protocol.Event) (protocol.Result, error) {
	if ev.Init {
		if err := h.Init(ctx, ev.Payload); err != nil {
			return protocol.Result{}, err
		}
		return protocol.NewResult(0, uint32(h.session.Read())), nil
	}

	code, err := h.Dispatch(ctx, ev.Payload, ev.Handler)
	if err != nil {
		return protocol.Result{}, err
	}
	return protocol.NewResult(uint8(code), uint32(h.session.Read())), nil
}

// Close gracefully shuts down the host.
func (h *Host) Close(ctx context.Context) error {
	if h.wasmRuntime.IsClosed() {
		return nil
	}
	h.logger.Info("Shutting down bridge host")

	// Shutdown Wasm runtime; it closes the core instance too.
	if err := h.wasmRuntime.Close(ctx); err != nil {
		h.logger.Error("Failed to shutdown Wasm runtime", zap.Error(err))
		return err
	}

	h.logger.Info("Bridge host shutdown complete")
	return nil
}
