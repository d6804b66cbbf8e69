package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// defaultWaitDelay bounds how long Run waits for output pipes to close after
// the process has been killed.
const defaultWaitDelay = 5 * time.Second

// Runner executes one external media tool invocation.
type Runner interface {
	// Run starts the tool with args passed as a literal vector, waits for it to
	// exit and returns its captured stdout and stderr. A non-zero exit status
	// yields a *ToolError. purpose is a short description used in errors and logs.
	Run(ctx context.Context, purpose string, args []string) (stdout, stderr []byte, err error)
}

// ExecRunner implements Runner with os/exec. It never goes through a shell.
type ExecRunner struct {
	// path is the binary to execute, e.g. "ffmpeg" (found via PATH).
	path      string
	logger    *slog.Logger
	waitDelay time.Duration
}

// NewExecRunner creates a runner for the binary at path.
// If logger is nil, slog.Default() is used.
func NewExecRunner(path string, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		path:      path,
		logger:    logger,
		waitDelay: defaultWaitDelay,
	}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, purpose string, args []string) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s cancelled: %w", purpose, err)
	}

	// #nosec G204 - path is set by the application and args are never shell-interpreted
	cmd := exec.CommandContext(ctx, r.path, args...)
	configureProcess(cmd)
	cmd.WaitDelay = r.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running media tool",
		slog.String("tool", r.path),
		slog.String("purpose", purpose),
		slog.Any("args", args),
	)

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		exited := errors.As(err, &exitErr) && exitErr.Exited()
		if exited {
			exitCode = exitErr.ExitCode()
		}

		// A tool that exited on its own keeps its ToolError even if ctx was
		// cancelled afterwards; only a killed tool counts as cancelled.
		if !exited && ctx.Err() != nil {
			return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s cancelled: %w", purpose, ctx.Err())
		}

		toolErr := &ToolError{
			Purpose:  purpose,
			Tool:     r.path,
			Args:     args,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
		r.logger.Error("media tool failed",
			slog.String("tool", r.path),
			slog.String("purpose", purpose),
			slog.Int("exit_code", exitCode),
			slog.String("stderr_tail", toolErr.StderrTail(3)),
		)
		return stdout.Bytes(), stderr.Bytes(), toolErr
	}

	r.logger.Debug("media tool finished",
		slog.String("tool", r.path),
		slog.String("purpose", purpose),
		slog.Duration("duration", time.Since(start)),
	)
	return stdout.Bytes(), stderr.Bytes(), nil
}

// Verify interface implementation at compile time.
var _ Runner = (*ExecRunner)(nil)
