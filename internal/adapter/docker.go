package adapter

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"portscope/internal/cache"
	"portscope/internal/config"
	"portscope/internal/domain"
	"portscope/internal/service"
)

// Docker is the container-runtime adapter. Ports merge the runtime's
// bindings with the host socket table.
type Docker struct {
	base

	conn       *DockerConn
	containers *Containers
	sockets    *OSSockets
	procs      ProcessLookup
	reconciler *service.Reconciler
	fsys       HostFS

	snapGroup singleflight.Group
}

// NewDocker creates the docker adapter
func NewDocker(cfg *config.Config, runner CommandRunner, procs ProcessLookup) *Docker {
	return newDocker(newBase(cfg, "docker", "Docker", KindContainerRuntime), NewDockerConn(DialDocker(cfg.Docker)), runner, procs)
}

func newDocker(b base, conn *DockerConn, runner CommandRunner, procs ProcessLookup) *Docker {
	d := &Docker{
		base:       b,
		conn:       conn,
		containers: NewContainers(conn),
		sockets:    NewOSSockets(b.cfg, runner, procs),
		procs:      procs,
		fsys:       OSFS{},
	}
	d.containers.Debug = b.debug
	d.reconciler = d.base.reconciler()
	return d
}

func (d *Docker) IsCompatible(ctx context.Context) domain.CompatibilityScore {
	return Scorer{
		Platform:   d.platform,
		Signals:    ContainerRuntimeSignals(d.fsys, d.cfg.Docker.SocketPath, d.conn.Ping),
		FirstMatch: true,
	}.Score(ctx)
}

func (d *Docker) SystemInfo(ctx context.Context) (*domain.SystemInfo, error) {
	return cache.GetOrSet(ctx, d.cache, "systemInfo", d.cfg.Cache.SystemInfoTTL.Duration(), d.containers.SystemInfo)
}

// snapshot reads the runtime once per TTL window. Concurrent facets share
// one read.
func (d *Docker) snapshot(ctx context.Context) (*Snapshot, error) {
	return cache.GetOrSet(ctx, d.cache, "snapshot", d.cfg.Cache.DockerPortsTTL.Duration(), func(ctx context.Context) (*Snapshot, error) {
		return shared(ctx, &d.snapGroup, "snapshot", d.containers.Snapshot)
	})
}

func (d *Docker) Applications(ctx context.Context) ([]domain.Application, error) {
	snap, err := d.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Applications(d.platform), nil
}

// Ports reconciles runtime bindings with OS sockets. When only one side is
// available its records are still returned, together with the error of
// the failed side.
func (d *Docker) Ports(ctx context.Context) ([]domain.PortRecord, error) {
	return cache.GetOrSet(ctx, d.cache, "ports", d.cfg.Cache.DockerPortsTTL.Duration(), d.ports)
}

func (d *Docker) ports(ctx context.Context) ([]domain.PortRecord, error) {
	snap, snapErr := d.snapshot(ctx)
	osPorts, osErr := d.sockets.Ports(ctx)
	if snapErr != nil && osErr != nil {
		return nil, fmt.Errorf("container runtime: %w; os sockets: %w", snapErr, osErr)
	}

	in := service.Inputs{OS: osPorts}
	if snap != nil {
		in.Container = snap.Ports
		in.Workloads = snap.Workloads
		in.ByPID = snap.ByPID
		in.ResolvePID = pidResolver{
			procRoot:   d.cfg.OS.ProcRoot,
			snap:       snap,
			containers: d.containers,
			procs:      d.procs,
		}.Resolve
	}
	ports := d.reconciler.Reconcile(ctx, in)

	switch {
	case snapErr != nil:
		return ports, fmt.Errorf("container runtime: %w", snapErr)
	case osErr != nil:
		return ports, fmt.Errorf("os sockets: %w", osErr)
	}
	return ports, nil
}

// VMs is always empty for a plain container runtime
func (d *Docker) VMs(context.Context) ([]domain.VM, error) {
	return []domain.VM{}, nil
}

func (d *Docker) Close() error {
	return d.conn.Close()
}
