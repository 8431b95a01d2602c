package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Runner executes a media tool binary with the given arguments.
type Runner interface {
	Run(ctx context.Context, binary string, args ...string) (RunResult, error)
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	logger *slog.Logger
}

// NewRunner creates a SubprocessRunner.
func NewRunner(logger *slog.Logger) *SubprocessRunner {
	return &SubprocessRunner{logger: logger}
}

// Run executes binary and captures stdout plus a bounded tail of stderr. A
// non-zero exit is reported in the result, not as an error; the error is set
// only when the process could not be started or was cancelled.
func (r *SubprocessRunner) Run(ctx context.Context, binary string, args ...string) (RunResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, binary, args...)

	var stdout bytes.Buffer
	var stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	r.logger.Debug("executing media command", "binary", binary, "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		} else {
			exitCode = -1
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}

	result := RunResult{
		ExitCode:   exitCode,
		Stdout:     stdout.Bytes(),
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
	}

	if exitCode != 0 {
		r.logger.Warn("media command failed",
			"binary", binary,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
	} else {
		r.logger.Debug("media command succeeded",
			"binary", binary,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return result, err
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
