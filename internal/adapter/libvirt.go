package adapter

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"

	"portscope/internal/domain"
)

// DefaultLibvirtSocket is the system libvirtd socket
const DefaultLibvirtSocket = "/var/run/libvirt/libvirt-sock"

// libvirtAPI is the subset of *libvirt.Libvirt the VM reader calls
type libvirtAPI interface {
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	DomainGetInfo(Dom libvirt.Domain) (uint8, uint64, uint64, uint16, uint64, error)
	DomainGetAutostart(Dom libvirt.Domain) (int32, error)
	Disconnect() error
}

// Libvirt lists domains from a local libvirtd. The connection is opened on
// first use and kept.
type Libvirt struct {
	Socket   string
	Platform string
	Timeout  time.Duration

	mu   sync.Mutex
	conn libvirtAPI
	dial func(ctx context.Context) (libvirtAPI, error)
}

// NewLibvirt creates a reader for the socket at path
func NewLibvirt(path, platform string, timeout time.Duration) *Libvirt {
	l := &Libvirt{Socket: path, Platform: platform, Timeout: timeout}
	l.dial = l.connect
	return l
}

// Available reports whether the libvirtd socket exists
func (l *Libvirt) Available() bool {
	_, err := os.Stat(l.Socket)
	return err == nil
}

func (l *Libvirt) connect(ctx context.Context) (libvirtAPI, error) {
	opts := []dialers.LocalOption{dialers.WithSocket(l.Socket)}
	if l.Timeout > 0 {
		opts = append(opts, dialers.WithLocalTimeout(l.Timeout))
	}
	conn := libvirt.NewWithDialer(dialers.NewLocal(opts...))
	if err := conn.ConnectToURI(libvirt.QEMUSystem); err != nil {
		return nil, fmt.Errorf("libvirt connect %s: %w", l.Socket, err)
	}
	log.Printf("Libvirt: connected to %s", l.Socket)
	return conn, nil
}

func (l *Libvirt) handle(ctx context.Context) (libvirtAPI, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn, nil
	}
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	l.conn = conn
	return conn, nil
}

// VMs lists active and inactive domains
func (l *Libvirt) VMs(ctx context.Context) ([]domain.VM, error) {
	conn, err := l.handle(ctx)
	if err != nil {
		return nil, err
	}

	doms, _, err := conn.ConnectListAllDomains(1, libvirt.ConnectListDomainsActive|libvirt.ConnectListDomainsInactive)
	if err != nil {
		l.reset()
		return nil, fmt.Errorf("list domains: %w", err)
	}

	vms := make([]domain.VM, 0, len(doms))
	for _, d := range doms {
		if ctx.Err() != nil {
			return vms, ctx.Err()
		}
		vm := domain.VM{
			Type:     "vm",
			ID:       formatUUID(d.UUID),
			Name:     d.Name,
			Status:   "unknown",
			Platform: l.Platform,
			PlatformData: map[string]any{
				"source":    "libvirt",
				"domain_id": d.ID,
			},
		}
		if state, _, mem, vcpus, _, err := conn.DomainGetInfo(d); err == nil {
			vm.Status = libvirtStatus(libvirt.DomainState(state))
			vm.VCPUs = int(vcpus)
			vm.MemoryBytes = int64(mem) * 1024
		}
		if auto, err := conn.DomainGetAutostart(d); err == nil {
			vm.Autostart = auto == 1
		}
		vms = append(vms, vm)
	}
	return vms, nil
}

func (l *Libvirt) reset() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

// Close disconnects from libvirtd
func (l *Libvirt) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Disconnect()
}

func libvirtStatus(s libvirt.DomainState) string {
	switch s {
	case libvirt.DomainRunning, libvirt.DomainBlocked:
		return "running"
	case libvirt.DomainPaused, libvirt.DomainPmsuspended:
		return "paused"
	case libvirt.DomainShutdown, libvirt.DomainShutoff:
		return "stopped"
	case libvirt.DomainCrashed:
		return "error"
	default:
		return "unknown"
	}
}

func formatUUID(u libvirt.UUID) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}
