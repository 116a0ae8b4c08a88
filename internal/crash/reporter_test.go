package crash

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestReportWritesDiagnostic(t *testing.T) {
	var out bytes.Buffer
	exited := -1

	r := NewReporter(zaptest.NewLogger(t),
		WithOutput(&out),
		WithExit(func(code int) { exited = code }),
	)

	r.Report("boom", 7)

	assert.Equal(t, "Application crashed with message\n\n    boom\n\nShutting down\n", out.String())
	assert.Equal(t, 0, exited, "process exit should be requested with status 0")
}

func TestReportReturnMode(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(zaptest.NewLogger(t),
		WithOutput(&out),
		WithMode(ModeReturn),
		WithExitCode(3),
		WithExit(func(int) { t.Fatal("exit must not be called in return mode") }),
	)

	fatal := r.Report("boom", 7)
	require.NotNil(t, fatal)
	assert.Equal(t, "boom", fatal.Message)
	assert.Equal(t, uint32(7), fatal.TagID)
	assert.Equal(t, 3, fatal.ExitCode)
	assert.Contains(t, out.String(), "boom")

	var err error = fatal
	var target *FatalError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "application crashed: boom", err.Error())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("return")
	require.NoError(t, err)
	assert.Equal(t, ModeReturn, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeExit, m)

	_, err = ParseMode("ignore")
	assert.Error(t, err)
}

// TestReportTerminatesProcess re-runs the test binary so the real os.Exit
// path can be observed.
func TestReportTerminatesProcess(t *testing.T) {
	if os.Getenv("CRASH_REPORTER_CHILD") == "1" {
		NewReporter(zap.NewNop()).Report("boom", 7)
		os.Stdout.WriteString("still running\n")
		os.Exit(42)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestReportTerminatesProcess$")
	cmd.Env = append(os.Environ(), "CRASH_REPORTER_CHILD=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	require.NoError(t, err, "child should exit with status 0; stderr=%s", stderr.String())
	assert.Contains(t, stderr.String(), "    boom\n")
	assert.NotContains(t, stdout.String(), "still running")
}
