package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"portscope/internal/cache"
	"portscope/internal/config"
	"portscope/internal/domain"
)

// Management API methods queried by the enhanced facet
const (
	methodSystemInfo    = "system.info"
	methodAppQuery      = "app.query"
	methodVMQuery       = "vm.query"
	methodInstanceQuery = "virt.instance.query"
)

// FeatureManagementAPI is the degraded-map key for the enhanced facet as a
// whole
const FeatureManagementAPI = "management_api"

// Hypervisor is the TrueNAS adapter. The core facets come from the docker
// daemon and the host socket table; apps, VMs and detailed system info come
// from the management API when an API key is configured.
type Hypervisor struct {
	*Docker

	mgmt   MgmtClient
	runner CommandRunner
	hyp    config.HypervisorConfig
}

// NewHypervisor creates the hypervisor adapter
func NewHypervisor(cfg *config.Config, runner CommandRunner, procs ProcessLookup) *Hypervisor {
	b := newBase(cfg, "truenas", "TrueNAS", KindHypervisor)
	return &Hypervisor{
		Docker: newDocker(b, NewDockerConn(DialDocker(cfg.Docker)), runner, procs),
		mgmt:   NewMgmtClient(cfg, runner),
		runner: runner,
		hyp:    cfg.Hypervisor,
	}
}

func (h *Hypervisor) IsCompatible(ctx context.Context) domain.CompatibilityScore {
	return Scorer{
		Platform: h.platform,
		Signals:  HypervisorSignals(h.fsys, h.runner, h.hyp.APIKey),
	}.Score(ctx)
}

// SystemInfo reports docker daemon facts relabeled for the platform. When
// the daemon is unreachable a fallback record is returned instead of an
// error.
func (h *Hypervisor) SystemInfo(ctx context.Context) (*domain.SystemInfo, error) {
	return cache.GetOrSet(ctx, h.cache, "systemInfo", h.cfg.Cache.SystemInfoTTL.Duration(), h.systemInfo)
}

func (h *Hypervisor) systemInfo(ctx context.Context) (*domain.SystemInfo, error) {
	info, err := h.containers.SystemInfo(ctx)
	if err != nil {
		log.Printf("Hypervisor: docker info failed, using fallback system info: %v", err)
		return fallbackSystemInfo(h.platform), nil
	}

	version := "unknown"
	if data, err := h.fsys.ReadFile("/etc/version"); err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			version = v
		}
	}

	info.Platform = h.platform
	info.Version = version
	info.OperatingSystem = "TrueNAS SCALE " + version
	info.PlatformData["description"] = "TrueNAS SCALE " + version
	info.PlatformData["source"] = "docker"
	info.PlatformData["container_runtime"] = "docker"
	return info, nil
}

func fallbackSystemInfo(platform string) *domain.SystemInfo {
	return &domain.SystemInfo{
		Type:            "system",
		Hostname:        "truenas-system",
		Version:         "unknown",
		Platform:        platform,
		KernelVersion:   "unknown",
		OperatingSystem: "unknown",
		OSType:          "Linux",
		Architecture:    "unknown",
		ProductName:     "TrueNAS SCALE",
		PlatformData: map[string]any{
			"description":           "TrueNAS SCALE (fallback data)",
			"container_runtime":     "docker",
			"source":                "fallback",
			"api_key_required_for": []string{"vms", "native_apps", "detailed_system_info"},
		},
	}
}

// Enhance queries the management API. The whole facet is raced against
// the hypervisor timeout and each call against its own; every failure is
// recorded as degraded.
func (h *Hypervisor) Enhance(ctx context.Context) Enhancement {
	if strings.TrimSpace(h.hyp.APIKey) == "" {
		log.Printf("Hypervisor: no API key provided, enhanced features disabled")
		return Enhancement{Degraded: map[string]string{FeatureManagementAPI: "no API key configured"}}
	}

	timeout := h.hyp.Timeout.Duration()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Enhancement, 1)
	go func() {
		done <- h.enhance(ctx)
	}()

	select {
	case enh := <-done:
		return enh
	case <-ctx.Done():
		log.Printf("Hypervisor: enhanced features timed out after %s", timeout)
		logTroubleshooting()
		h.mgmt.Close()
		return Enhancement{
			Enabled:  true,
			Degraded: map[string]string{FeatureManagementAPI: fmt.Sprintf("timed out after %s", timeout)},
		}
	}
}

type callResult struct {
	method string
	data   json.RawMessage
	err    error
}

func (h *Hypervisor) enhance(ctx context.Context) Enhancement {
	enh := Enhancement{Enabled: true, Degraded: map[string]string{}}

	if err := h.mgmt.Connect(ctx); err != nil {
		log.Printf("Hypervisor: management API unavailable: %v", err)
		h.mgmt.Close()
		enh.Degraded[FeatureManagementAPI] = err.Error()
		return enh
	}

	calls := []struct {
		method  string
		timeout time.Duration
	}{
		{methodSystemInfo, h.hyp.SystemInfoTimeout.Duration()},
		{methodAppQuery, h.hyp.AppQueryTimeout.Duration()},
		{methodVMQuery, h.hyp.VMQueryTimeout.Duration()},
		{methodInstanceQuery, h.hyp.ContainerQueryTimeout.Duration()},
	}

	results := make([]callResult, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, method string, timeout time.Duration) {
			defer wg.Done()
			data, err := h.call(ctx, method, timeout)
			results[i] = callResult{method: method, data: data, err: err}
		}(i, c.method, c.timeout)
	}
	wg.Wait()

	var failures []string
	for _, r := range results {
		if r.err == nil {
			r.err = h.apply(&enh, r.method, r.data)
		}
		if r.err != nil {
			failures = append(failures, r.method)
			enh.Degraded[r.method] = r.err.Error()
		}
	}

	switch {
	case len(failures) == 0:
		log.Printf("Hypervisor: enhanced features collected: %d apps, %d VMs (%d/%d calls)",
			len(enh.Applications), len(enh.VMs), len(calls), len(calls))
	case len(failures) == len(calls):
		log.Printf("Hypervisor: enhanced features failed: all %d calls failed (%s)", len(calls), strings.Join(failures, ", "))
		h.mgmt.Close()
	default:
		log.Printf("Hypervisor: partial enhanced features: %d apps, %d VMs from %d/%d calls (failed: %s)",
			len(enh.Applications), len(enh.VMs), len(calls)-len(failures), len(calls), strings.Join(failures, ", "))
	}
	return enh
}

// call runs one management method under its own timeout and warns when it
// comes close to expiring
func (h *Hypervisor) call(ctx context.Context, method string, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	type reply struct {
		data json.RawMessage
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		data, err := h.mgmt.Call(ctx, method)
		ch <- reply{data, err}
	}()

	select {
	case r := <-ch:
		elapsed := time.Since(start)
		if r.err != nil {
			log.Printf("Hypervisor: %s failed after %s: %v", method, elapsed.Round(time.Millisecond), r.err)
			return nil, r.err
		}
		h.logf("Hypervisor: %s completed in %s", method, elapsed.Round(time.Millisecond))
		if ratio := h.hyp.SlowCallRatio; ratio > 0 && elapsed > time.Duration(float64(timeout)*ratio) {
			log.Printf("Hypervisor: %s took %s (%.0f%% of %s timeout), consider raising it",
				method, elapsed.Round(100*time.Millisecond), ratio*100, timeout)
		}
		return r.data, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s timeout after %s", method, timeout)
		}
		log.Printf("Hypervisor: %v", err)
		return nil, err
	}
}

func (h *Hypervisor) apply(enh *Enhancement, method string, data json.RawMessage) error {
	switch method {
	case methodSystemInfo:
		var raw mgmtSystemInfo
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		enh.SystemInfo = raw.toDomain(h.platform)
	case methodAppQuery:
		var apps []mgmtApp
		if err := json.Unmarshal(data, &apps); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		for _, a := range apps {
			app := a.toDomain(h.platform)
			enh.Applications = append(enh.Applications, app)
			enh.Ports = append(enh.Ports, appPortRecords(app)...)
		}
	case methodVMQuery:
		var vms []mgmtVM
		if err := json.Unmarshal(data, &vms); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		for _, v := range vms {
			enh.VMs = append(enh.VMs, v.toDomain(h.platform))
		}
	case methodInstanceQuery:
		var instances []mgmtInstance
		if err := json.Unmarshal(data, &instances); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		for _, in := range instances {
			enh.VMs = append(enh.VMs, in.toDomain(h.platform))
		}
	}
	return nil
}

func (h *Hypervisor) Close() error {
	return errors.Join(h.mgmt.Close(), h.Docker.Close())
}

func logTroubleshooting() {
	for _, line := range []string{
		"Hypervisor: the middleware may be slow or under load. Troubleshooting steps:",
		"Hypervisor:   1. check system resources: CPU, RAM, disk I/O",
		"Hypervisor:   2. restart the middleware: systemctl restart middlewared",
		"Hypervisor:   3. raise the overall timeout: TRUENAS_TIMEOUT_MS=120000",
		"Hypervisor:   4. or raise per-call timeouts: TRUENAS_SYSTEM_INFO_TIMEOUT_MS, TRUENAS_APP_QUERY_TIMEOUT_MS, TRUENAS_VM_QUERY_TIMEOUT_MS, TRUENAS_CONTAINER_QUERY_TIMEOUT_MS",
		"Hypervisor:   5. check middleware logs: journalctl -u middlewared -n 100",
	} {
		log.Print(line)
	}
}
