package adapter

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"golang.org/x/sync/singleflight"

	"portscope/internal/config"
)

// DockerAPI is the subset of the docker client the adapters use
type DockerAPI interface {
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerTop(ctx context.Context, containerID string, arguments []string) (container.ContainerTopOKBody, error)
	Info(ctx context.Context) (types.Info, error)
	ServerVersion(ctx context.Context) (types.Version, error)
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// DockerDialer opens a new runtime handle
type DockerDialer func(ctx context.Context) (DockerAPI, error)

// DockerConn owns one lazily created runtime handle. Concurrent callers
// that find no handle share a single connect attempt.
type DockerConn struct {
	dial  DockerDialer
	group singleflight.Group

	mu  sync.Mutex
	api DockerAPI
}

// NewDockerConn creates a connection holder around dial
func NewDockerConn(dial DockerDialer) *DockerConn {
	return &DockerConn{dial: dial}
}

// DialDocker returns a dialer for the configured daemon. The handle is
// pinged before it is handed out.
func DialDocker(cfg config.DockerConfig) DockerDialer {
	return func(ctx context.Context) (DockerAPI, error) {
		opts := []client.Opt{client.FromEnv}
		switch {
		case cfg.Host != "":
			opts = append(opts, client.WithHost(cfg.Host))
		case cfg.SocketPath != "" && runtime.GOOS != "windows":
			opts = append(opts, client.WithHost("unix://"+cfg.SocketPath))
		}
		if cfg.APIVersion != "" {
			opts = append(opts, client.WithVersion(cfg.APIVersion))
		} else {
			opts = append(opts, client.WithAPIVersionNegotiation())
		}
		if cfg.Timeout.Duration() > 0 {
			opts = append(opts, client.WithTimeout(cfg.Timeout.Duration()))
		}

		cli, err := client.NewClientWithOpts(opts...)
		if err != nil {
			return nil, fmt.Errorf("create docker client: %w", err)
		}
		if _, err := cli.Ping(ctx); err != nil {
			cli.Close()
			return nil, fmt.Errorf("ping docker daemon: %w", err)
		}
		return cli, nil
	}
}

// Get returns the handle, connecting on first use
func (c *DockerConn) Get(ctx context.Context) (DockerAPI, error) {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api != nil {
		return api, nil
	}

	return shared(ctx, &c.group, "connect", func(ctx context.Context) (DockerAPI, error) {
		c.mu.Lock()
		if c.api != nil {
			defer c.mu.Unlock()
			return c.api, nil
		}
		c.mu.Unlock()

		api, err := c.dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}

		c.mu.Lock()
		c.api = api
		c.mu.Unlock()
		log.Printf("Docker: connected")
		return api, nil
	})
}

// Ping checks the daemon through the shared handle
func (c *DockerConn) Ping(ctx context.Context) error {
	api, err := c.Get(ctx)
	if err != nil {
		return err
	}
	_, err = api.Ping(ctx)
	return err
}

// Close drops the handle. A later Get reconnects.
func (c *DockerConn) Close() error {
	c.mu.Lock()
	api := c.api
	c.api = nil
	c.mu.Unlock()
	if api == nil {
		return nil
	}
	return api.Close()
}
