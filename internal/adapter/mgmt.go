package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"portscope/internal/config"
)

// MgmtClient calls methods on the hypervisor management API
type MgmtClient interface {
	Connect(ctx context.Context) error
	Call(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	Close() error
}

// connector is implemented by runners that hold a session
type connector interface {
	Connect(ctx context.Context) error
	Close() error
}

// MidcltClient drives the middleware CLI, either locally or through a
// remote runner
type MidcltClient struct {
	Runner CommandRunner
	Binary string
}

// NewMgmtClient builds the management client for the configured transport
func NewMgmtClient(cfg *config.Config, local CommandRunner) MgmtClient {
	binary := cfg.Probes.Midclt.BinaryPath
	if cfg.Hypervisor.Transport == config.TransportSSH {
		return &MidcltClient{Runner: NewSSHRunner(cfg.Hypervisor.SSH, cfg.Hypervisor.SystemInfoTimeout.Duration()), Binary: binary}
	}
	return &MidcltClient{Runner: local, Binary: binary}
}

// Connect opens the transport and checks that the middleware answers
func (c *MidcltClient) Connect(ctx context.Context) error {
	if conn, ok := c.Runner.(connector); ok {
		if err := conn.Connect(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
	}
	if _, err := c.Runner.Run(ctx, c.Binary, "ping"); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Call runs `midclt call <method> [args...]` and returns the JSON reply
func (c *MidcltClient) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	argv := []string{"call", method}
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode %s argument: %w", method, err)
		}
		argv = append(argv, string(b))
	}

	out, err := c.Runner.Run(ctx, c.Binary, argv...)
	if err != nil {
		return nil, err
	}
	out = bytes.TrimSpace(out)
	if !json.Valid(out) {
		return nil, fmt.Errorf("%s: reply is not JSON: %.60q", method, out)
	}
	return json.RawMessage(out), nil
}

// Close releases the transport session, if any
func (c *MidcltClient) Close() error {
	if conn, ok := c.Runner.(connector); ok {
		return conn.Close()
	}
	return nil
}
