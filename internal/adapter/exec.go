package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner runs an external enumeration utility and returns its stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, each under its own timeout
type ExecRunner struct {
	Timeout time.Duration
}

// Run executes name with args. Every failure comes back as a *ToolError.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}

	switch {
	case errors.Is(err, exec.ErrNotFound):
		return nil, toolError(name, ErrToolMissing)
	case ctx.Err() != nil:
		return nil, toolError(name, fmt.Errorf("timed out: %w", ctx.Err()))
	}

	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return nil, toolError(name, fmt.Errorf("%w: %s", err, firstLine(msg)))
	}
	return nil, toolError(name, err)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
