package collector

import (
	"portscope/internal/adapter"
	"portscope/internal/domain"
	"portscope/internal/service"
)

// merge folds the enhanced facet into a finished core pass. Enhanced
// system info overrides field by field; apps and VMs are appended; ports
// only fill keys the core pass did not report.
func merge(res *domain.CollectionResult, enh adapter.Enhancement) {
	res.EnhancedFeatures = enh.Enabled
	if len(enh.Degraded) > 0 {
		res.Degraded = make(map[string]string, len(enh.Degraded))
		for k, v := range enh.Degraded {
			res.Degraded[k] = v
		}
	}
	if !enh.Enabled {
		return
	}

	if enh.SystemInfo != nil {
		res.SystemInfo = overlaySystemInfo(res.SystemInfo, enh.SystemInfo)
	}
	res.Applications = append(res.Applications, enh.Applications...)
	res.VMs = append(res.VMs, enh.VMs...)
	if len(enh.Ports) > 0 {
		res.Ports = service.MergeSupplemental(res.Ports, enh.Ports)
	}
}

func overlaySystemInfo(base, extra *domain.SystemInfo) *domain.SystemInfo {
	if base == nil {
		out := *extra
		out.Enhanced = true
		return &out
	}

	out := *base
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	str(&out.Hostname, extra.Hostname)
	str(&out.Version, extra.Version)
	str(&out.KernelVersion, extra.KernelVersion)
	str(&out.OperatingSystem, extra.OperatingSystem)
	str(&out.OSType, extra.OSType)
	str(&out.Architecture, extra.Architecture)
	str(&out.CPUModel, extra.CPUModel)
	str(&out.ProductVendor, extra.ProductVendor)
	str(&out.ProductName, extra.ProductName)
	if extra.NCPU > 0 {
		out.NCPU = extra.NCPU
	}
	if extra.MemoryTotal > 0 {
		out.MemoryTotal = extra.MemoryTotal
	}
	if extra.MemoryFree > 0 {
		out.MemoryFree = extra.MemoryFree
	}
	if extra.MemoryUsage > 0 {
		out.MemoryUsage = extra.MemoryUsage
	}
	if extra.UptimeSeconds > 0 {
		out.UptimeSeconds = extra.UptimeSeconds
	}

	out.PlatformData = make(map[string]any, len(base.PlatformData)+len(extra.PlatformData))
	for k, v := range base.PlatformData {
		out.PlatformData[k] = v
	}
	for k, v := range extra.PlatformData {
		out.PlatformData[k] = v
	}
	out.Enhanced = true
	return &out
}
