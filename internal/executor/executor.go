// Package executor shells out to the platform tools the pipeline cannot do
// without: codesign and xattr on macOS, PowerShell for the Windows unblock
// path. Output capture is bounded and cancellation kills the whole process
// group.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/breeze-rmm/reseed/internal/logging"
)

var log = logging.L("executor")

// MaxOutputSize bounds the stdout/stderr capture per invocation.
const MaxOutputSize = 1024 * 1024 // 1MB

// Result captures the outcome of one external tool invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Failed reports whether the tool completed with a non-zero status.
func (r Result) Failed() bool { return r.ExitCode != 0 }

// Err converts a failed result into a descriptive error carrying the tail
// of stderr, which is where codesign and friends put their diagnostics.
func (r Result) Err(tool string) error {
	if !r.Failed() {
		return nil
	}
	detail := strings.TrimSpace(r.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(r.Stdout)
	}
	if len(detail) > 512 {
		detail = detail[len(detail)-512:]
	}
	if detail == "" {
		return fmt.Errorf("%s exited with status %d", tool, r.ExitCode)
	}
	return fmt.Errorf("%s exited with status %d: %s", tool, r.ExitCode, detail)
}

// Runner abstracts external tool execution so signing and unblock flows can
// be driven by a fake in tests.
type Runner interface {
	// Run executes the named tool and waits for it. A non-zero exit status
	// is reported through Result, not the error; the error is reserved for
	// spawn failures and context cancellation.
	Run(ctx context.Context, name string, args ...string) (Result, error)

	// LookPath resolves the tool on PATH.
	LookPath(name string) (string, error)
}

// ToolRunner runs real processes with bounded output capture. No implicit
// timeout is applied; callers bound long-running tools through ctx.
type ToolRunner struct{}

func NewToolRunner() *ToolRunner {
	return &ToolRunner{}
}

// LookPath resolves name against PATH.
func (r *ToolRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes the tool and captures up to MaxOutputSize of each stream.
func (r *ToolRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &capWriter{dst: &stdout, limit: MaxOutputSize}
	cmd.Stderr = &capWriter{dst: &stderr, limit: MaxOutputSize}

	// A private process group keeps cancellation from leaving orphaned
	// children behind.
	newProcessGroup(cmd)

	log.Debug("running tool", "tool", name, "args", strings.Join(args, " "))
	started := time.Now()
	runErr := cmd.Run()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	if runErr != nil {
		if ctx.Err() != nil {
			if err := killProcessTree(cmd); err != nil {
				log.Warn("process tree not killed", "tool", name, logging.KeyError, err)
			}
			res.ExitCode = -1
			return res, fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}

		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			res.ExitCode = -1
			return res, fmt.Errorf("start %s: %w", name, runErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	log.Debug("tool completed", "tool", name, "exitCode", res.ExitCode,
		logging.KeyDurationMs, res.Duration.Milliseconds())
	return res, nil
}

// capWriter fills dst up to limit bytes and silently discards the rest. It
// always reports the full length so the child never sees a short write.
type capWriter struct {
	dst   *bytes.Buffer
	limit int
}

func (w *capWriter) Write(p []byte) (int, error) {
	if room := w.limit - w.dst.Len(); room > 0 {
		if len(p) > room {
			w.dst.Write(p[:room])
		} else {
			w.dst.Write(p)
		}
	}
	return len(p), nil
}
