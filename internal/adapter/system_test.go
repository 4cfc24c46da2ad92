package adapter

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"portscope/internal/domain"
)

func newTestSystem(t *testing.T, runner CommandRunner, procs ProcessLookup) *System {
	t.Helper()
	cfg := testConfig(t)
	cfg.Probes.Libvirt.Disabled = true
	s := NewSystem(cfg, runner, procs)
	s.goos = "linux"
	s.sockets.GOOS = "linux"
	return s
}

func TestSystemPorts(t *testing.T) {
	runner := newFakeRunner(map[string]fakeResult{"ss -tulpn": {out: ssDockerHost}})
	s := newTestSystem(t, runner, fakeProcs{})

	ports, err := s.Ports(context.Background())
	if err != nil {
		t.Fatalf("Ports() error = %v", err)
	}

	want := []int{22, 5000, 8080}
	if len(ports) != len(want) {
		t.Fatalf("len(Ports()) = %d, want %d: %+v", len(ports), len(want), ports)
	}
	for i, p := range ports {
		if p.HostPort != want[i] {
			t.Errorf("Ports()[%d] = %d, want %d", i, p.HostPort, want[i])
		}
		if p.Source != domain.SourceOS || p.ContainerID != "" {
			t.Errorf("%d = %s/%s, want an unattributed os record", p.HostPort, p.Source, p.ContainerID)
		}
	}

	if _, err := s.Ports(context.Background()); err != nil {
		t.Fatalf("Ports() error = %v", err)
	}
	if n := runner.count("ss -tulpn"); n != 1 {
		t.Errorf("ss calls = %d, want 1 (cached)", n)
	}
}

func TestSystemPortsWindowsKey(t *testing.T) {
	runner := newFakeRunner(map[string]fakeResult{"netstat -ano": {out: windowsNetstatOutput}})
	s := newTestSystem(t, runner, fakeProcs{})
	s.goos = "windows"
	s.sockets.GOOS = "windows"

	if _, err := s.Ports(context.Background()); err != nil {
		t.Fatalf("Ports() error = %v", err)
	}
	entries := s.CacheEntries()
	if len(entries) != 1 || !strings.HasPrefix(entries[0], "system:windowsPorts ") {
		t.Errorf("CacheEntries() = %v, want system:windowsPorts", entries)
	}
}

func TestSystemPortsFailure(t *testing.T) {
	s := newTestSystem(t, newFakeRunner(nil), fakeProcs{})

	ports, err := s.Ports(context.Background())
	if !errors.Is(err, ErrAllTiersFailed) {
		t.Fatalf("Ports() error = %v, want ErrAllTiersFailed", err)
	}
	if ports != nil {
		t.Errorf("Ports() = %v, want nil", ports)
	}
	if got := s.CacheEntries(); len(got) != 0 {
		t.Errorf("CacheEntries() = %v, want the failure uncached", got)
	}
}

func TestSystemApplications(t *testing.T) {
	procs := fakeProcs{apps: []domain.Application{
		{Type: "process", ID: "1", Name: "systemd"},
		{Type: "process", ID: "812", Name: "sshd"},
		{Type: "process", ID: "900", Name: "dockerd"},
	}}
	s := newTestSystem(t, newFakeRunner(nil), procs)
	s.cfg.OS.ProcessLimit = 2

	apps, err := s.Applications(context.Background())
	if err != nil {
		t.Fatalf("Applications() error = %v", err)
	}
	if len(apps) != 2 {
		t.Errorf("len(Applications()) = %d, want 2", len(apps))
	}
}

func TestSystemVMs(t *testing.T) {
	s := newTestSystem(t, newFakeRunner(nil), fakeProcs{})

	vms, err := s.VMs(context.Background())
	if err != nil {
		t.Fatalf("VMs() error = %v", err)
	}
	if vms == nil || len(vms) != 0 {
		t.Errorf("VMs() = %v, want empty non-nil", vms)
	}

	s.virt = NewLibvirt(filepath.Join(t.TempDir(), "libvirt-sock"), s.platform, 0)
	if vms, err := s.VMs(context.Background()); err != nil || len(vms) != 0 {
		t.Errorf("VMs() without libvirtd = %v, %v, want empty", vms, err)
	}
}

func TestSystemIsCompatible(t *testing.T) {
	s := newTestSystem(t, newFakeRunner(nil), fakeProcs{})
	if got := s.IsCompatible(context.Background()).Score; got != 10 {
		t.Errorf("IsCompatible() = %d, want 10", got)
	}
}
