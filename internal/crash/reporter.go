// Package crash turns an unrecoverable failure signalled by the application
// core into a diagnostic and an orderly shutdown.
package crash

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Template is the diagnostic written to the error stream.
const Template = "Application crashed with message\n\n    %s\n\nShutting down\n"

// Mode selects what happens after the diagnostic is written.
type Mode string

const (
	// ModeExit terminates the process.
	ModeExit Mode = "exit"
	// ModeReturn hands a FatalError back to the caller of the core.
	ModeReturn Mode = "return"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeExit, ModeReturn:
		return Mode(s), nil
	case "":
		return ModeExit, nil
	}
	return "", fmt.Errorf("unknown panic mode %q (must be one of: exit, return)", s)
}

// FatalError is the tagged fatal result of a core panic.
type FatalError struct {
	Message  string
	TagID    uint32
	ExitCode int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("application crashed: %s", e.Message)
}

// Reporter writes crash diagnostics and ends the process.
type Reporter struct {
	mu sync.Mutex

	out      io.Writer
	mode     Mode
	exitCode int
	exit     func(int)
	logger   *zap.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithOutput sets the error stream. Defaults to os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(r *Reporter) { r.out = w }
}

// WithMode sets the behaviour after the diagnostic. Defaults to ModeExit.
func WithMode(m Mode) Option {
	return func(r *Reporter) { r.mode = m }
}

// WithExitCode sets the process exit status. Defaults to 0.
func WithExitCode(code int) Option {
	return func(r *Reporter) { r.exitCode = code }
}

// WithExit replaces os.Exit.
func WithExit(fn func(int)) Option {
	return func(r *Reporter) { r.exit = fn }
}

// NewReporter creates a reporter.
func NewReporter(logger *zap.Logger, opts ...Option) *Reporter {
	r := &Reporter{
		out:    os.Stderr,
		mode:   ModeExit,
		exit:   os.Exit,
		logger: logger.With(zap.String("component", "crash-reporter")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode returns the configured mode.
func (r *Reporter) Mode() Mode {
	return r.mode
}

// Report writes the diagnostic for message. In ModeExit it does not return.
// tagID is recorded but does not affect the diagnostic.
func (r *Reporter) Report(message string, tagID uint32) *FatalError {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, Template, message)

	r.logger.Error("Application core panicked",
		zap.String("message", message),
		zap.Uint32("tag_id", tagID),
		zap.String("mode", string(r.mode)),
	)

	if r.mode == ModeExit {
		_ = r.logger.Sync()
		r.exit(r.exitCode)
	}

	return &FatalError{
		Message:  message,
		TagID:    tagID,
		ExitCode: r.exitCode,
	}
}
