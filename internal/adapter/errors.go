package adapter

import (
	"errors"
	"fmt"
)

var (
	// ErrAllTiersFailed is returned when every socket enumeration tier failed.
	// The tier errors are joined onto it.
	ErrAllTiersFailed = errors.New("all socket enumeration tiers failed")

	// ErrNotConnected is returned when a runtime or API handle is unavailable
	ErrNotConnected = errors.New("not connected")

	// ErrToolMissing is returned when an external binary is not on PATH
	ErrToolMissing = errors.New("executable not found")

	// ErrTooFewEntries marks a tier whose output was too thin to trust
	ErrTooFewEntries = errors.New("too few entries")

	// ErrUnsupported is returned for probes that cannot run on this OS
	ErrUnsupported = errors.New("not supported on this platform")
)

// ToolError is an external tool failure: nonzero exit, timeout, missing
// binary, or unusable output. It advances the fallback chain.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func toolError(tool string, err error) error {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) && te.Tool == tool {
		return err
	}
	return &ToolError{Tool: tool, Err: err}
}
