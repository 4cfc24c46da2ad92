package adapter

import (
	"context"
	"fmt"
	"runtime"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"portscope/internal/cache"
	"portscope/internal/config"
	"portscope/internal/domain"
	"portscope/internal/service"
)

// System is the plain-host adapter: OS sockets, host processes and, when
// libvirtd is present, its domains
type System struct {
	base

	sockets    *OSSockets
	procs      ProcessLookup
	reconciler *service.Reconciler
	virt       *Libvirt
	goos       string
}

// NewSystem creates the OS adapter
func NewSystem(cfg *config.Config, runner CommandRunner, procs ProcessLookup) *System {
	s := &System{
		base:    newBase(cfg, "system", "Generic System", KindOS),
		sockets: NewOSSockets(cfg, runner, procs),
		procs:   procs,
		goos:    runtime.GOOS,
	}
	s.reconciler = s.base.reconciler()
	if !cfg.Probes.Libvirt.Disabled {
		s.virt = NewLibvirt(DefaultLibvirtSocket, s.platform, cfg.OS.CommandTimeout.Duration())
	}
	return s
}

func (s *System) IsCompatible(ctx context.Context) domain.CompatibilityScore {
	return Scorer{Platform: s.platform, Signals: OSSignals()}.Score(ctx)
}

// SystemInfo reads host identity, memory and cpu through gopsutil and the
// product identity through ghw
func (s *System) SystemInfo(ctx context.Context) (*domain.SystemInfo, error) {
	return cache.GetOrSet(ctx, s.cache, "systemInfo", s.cfg.Cache.SystemInfoTTL.Duration(), s.systemInfo)
}

func (s *System) systemInfo(ctx context.Context) (*domain.SystemInfo, error) {
	h, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}

	info := &domain.SystemInfo{
		Type:            "system",
		Hostname:        h.Hostname,
		Version:         h.PlatformVersion,
		Platform:        s.platform,
		KernelVersion:   h.KernelVersion,
		OperatingSystem: h.Platform,
		OSType:          h.OS,
		Architecture:    h.KernelArch,
		NCPU:            runtime.NumCPU(),
		UptimeSeconds:   h.Uptime,
		PlatformData: map[string]any{
			"description":     fmt.Sprintf("%s %s", h.Platform, h.PlatformVersion),
			"platform_family": h.PlatformFamily,
			"virtualization":  h.VirtualizationSystem,
			"source":          "host",
		},
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryFree = vm.Available
		info.MemoryUsage = int(vm.UsedPercent + 0.5)
	} else {
		s.logf("System: memory stats unavailable: %v", err)
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.NCPU = n
	}

	if p, err := ghw.Product(); err == nil {
		info.ProductVendor = p.Vendor
		info.ProductName = p.Name
	} else {
		s.logf("System: product info unavailable: %v", err)
	}

	return info, nil
}

// Applications lists host processes
func (s *System) Applications(ctx context.Context) ([]domain.Application, error) {
	apps, err := s.procs.List(ctx, s.cfg.OS.ProcessLimit)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return apps, nil
}

// Ports enumerates OS sockets and runs them through the reconciler with no
// container input
func (s *System) Ports(ctx context.Context) ([]domain.PortRecord, error) {
	key, ttl := "ports", s.cfg.Cache.PortsTTL.Duration()
	if s.goos == "windows" {
		key, ttl = "windowsPorts", s.cfg.Cache.WindowsPortsTTL.Duration()
	}
	return cache.GetOrSet(ctx, s.cache, key, ttl, func(ctx context.Context) ([]domain.PortRecord, error) {
		osPorts, err := s.sockets.Ports(ctx)
		if err != nil {
			return nil, err
		}
		return s.reconciler.Reconcile(ctx, service.Inputs{OS: osPorts}), nil
	})
}

// VMs lists libvirt domains when libvirtd runs on this host
func (s *System) VMs(ctx context.Context) ([]domain.VM, error) {
	if s.virt == nil || !s.virt.Available() {
		return []domain.VM{}, nil
	}
	return s.virt.VMs(ctx)
}

func (s *System) Close() error {
	if s.virt != nil {
		return s.virt.Close()
	}
	return nil
}
