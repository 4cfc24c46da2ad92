package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/singleflight"

	"portscope/internal/config"
)

// SSHRunner runs commands on a remote host over one shared SSH connection
type SSHRunner struct {
	cfg     config.SSHConfig
	timeout time.Duration

	group singleflight.Group
	mu    sync.Mutex
	conn  *ssh.Client
}

// NewSSHRunner creates a runner for the given host settings
func NewSSHRunner(cfg config.SSHConfig, timeout time.Duration) *SSHRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SSHRunner{cfg: cfg, timeout: timeout}
}

// Connect dials the host unless a connection is already open. Concurrent
// callers share one dial.
func (r *SSHRunner) Connect(ctx context.Context) error {
	r.mu.Lock()
	open := r.conn != nil
	r.mu.Unlock()
	if open {
		return nil
	}

	_, err := shared(ctx, &r.group, "dial", func(ctx context.Context) (struct{}, error) {
		client, err := r.dial(ctx)
		if err != nil {
			return struct{}{}, err
		}
		r.mu.Lock()
		r.conn = client
		r.mu.Unlock()
		log.Printf("SSH: connected to %s", r.addr())
		return struct{}{}, nil
	})
	return err
}

func (r *SSHRunner) addr() string {
	return net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
}

func (r *SSHRunner) dial(ctx context.Context) (*ssh.Client, error) {
	config, err := r.clientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build SSH config: %w", err)
	}

	addr := r.addr()
	dialer := &net.Dialer{Timeout: r.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (r *SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	if r.cfg.User == "" {
		return nil, errors.New("ssh user not configured")
	}

	signer, err := loadSigner(r.cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	hostKey, err := r.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         r.timeout,
	}, nil
}

func (r *SSHRunner) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if r.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := r.cfg.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

// loadSigner reads the private key at path, or the first default key found
// under ~/.ssh
func loadSigner(path string) (ssh.Signer, error) {
	candidates := []string{path}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate ssh keys: %w", err)
		}
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}

	var lastErr error
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", p, err)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("no usable private key: %w", lastErr)
}

// Run executes name with args on the remote host. A non-zero exit is an
// error; stderr's first line is attached to it.
func (r *SSHRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := r.Connect(ctx); err != nil {
		return nil, toolError(name, err)
	}
	r.mu.Lock()
	client := r.conn
	r.mu.Unlock()

	session, err := client.NewSession()
	if err != nil {
		r.drop(client)
		return nil, toolError(name, fmt.Errorf("failed to create session: %w", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(shellCommand(name, args))
	}()

	select {
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				if msg := strings.TrimSpace(stderr.String()); msg != "" {
					return nil, toolError(name, fmt.Errorf("%w: %s", err, firstLine(msg)))
				}
			}
			return nil, toolError(name, err)
		}
		return stdout.Bytes(), nil
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return nil, toolError(name, fmt.Errorf("timed out: %w", ctx.Err()))
	}
}

// drop forgets a broken connection so the next call redials
func (r *SSHRunner) drop(client *ssh.Client) {
	r.mu.Lock()
	if r.conn == client {
		r.conn = nil
	}
	r.mu.Unlock()
	client.Close()
}

// Close closes the shared connection
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	client := r.conn
	r.conn = nil
	r.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// shellCommand joins name and args into a single POSIX shell command line
func shellCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '-' || r == '_' || r == '.' || r == '/' || r == ':' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
