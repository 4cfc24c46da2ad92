package domain

import "time"

// Facet names one of the four independent data categories of a collection pass
type Facet string

const (
	FacetSystemInfo   Facet = "systemInfo"
	FacetApplications Facet = "applications"
	FacetPorts        Facet = "ports"
	FacetVMs          Facet = "vms"
)

// Facets lists every facet in collection order
var Facets = []Facet{FacetSystemInfo, FacetApplications, FacetPorts, FacetVMs}

// SystemInfo describes the host the active adapter is running against
type SystemInfo struct {
	Type            string         `json:"type"`
	Hostname        string         `json:"hostname"`
	Version         string         `json:"version"`
	Platform        string         `json:"platform"`
	KernelVersion   string         `json:"kernel_version,omitempty"`
	OperatingSystem string         `json:"operating_system,omitempty"`
	OSType          string         `json:"os_type,omitempty"`
	Architecture    string         `json:"architecture,omitempty"`
	CPUModel        string         `json:"cpu_model,omitempty"`
	NCPU            int            `json:"ncpu"`
	MemoryTotal     uint64         `json:"memory"`
	MemoryFree      uint64         `json:"memory_free,omitempty"`
	MemoryUsage     int            `json:"memory_usage,omitempty"`
	UptimeSeconds   uint64         `json:"uptime_seconds,omitempty"`
	ProductVendor   string         `json:"product_vendor,omitempty"`
	ProductName     string         `json:"product_name,omitempty"`
	Enhanced        bool           `json:"enhanced"`
	PlatformData    map[string]any `json:"platform_data,omitempty"`
}

// AppPort is a port mapping declared by an application
type AppPort struct {
	HostIP        string   `json:"host_ip"`
	HostPort      int      `json:"host_port"`
	ContainerPort int      `json:"container_port,omitempty"`
	Protocol      Protocol `json:"protocol"`
	Internal      bool     `json:"internal,omitempty"`
}

// Application is a workload surfaced by the active platform: a container, a
// management-API app, or a host process
type Application struct {
	Type         string         `json:"type"`
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	Version      string         `json:"version,omitempty"`
	Image        string         `json:"image,omitempty"`
	Command      string         `json:"command,omitempty"`
	Created      *time.Time     `json:"created,omitempty"`
	Platform     string         `json:"platform"`
	Ports        []AppPort      `json:"ports,omitempty"`
	PlatformData map[string]any `json:"platform_data,omitempty"`
}

// VM is a virtual machine or system container managed by a hypervisor
type VM struct {
	Type         string         `json:"type"`
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	VCPUs        int            `json:"vcpus,omitempty"`
	MemoryBytes  int64          `json:"memory,omitempty"`
	Autostart    bool           `json:"autostart"`
	Platform     string         `json:"platform"`
	PlatformData map[string]any `json:"platform_data,omitempty"`
}

// FacetErrors carries one error string per facet; nil means the facet succeeded
type FacetErrors struct {
	SystemInfo   *string `json:"systemInfo"`
	Applications *string `json:"applications"`
	Ports        *string `json:"ports"`
	VMs          *string `json:"vms"`
}

// Set records err against facet f. A nil error clears the facet.
func (e *FacetErrors) Set(f Facet, err error) {
	var msg *string
	if err != nil {
		s := err.Error()
		msg = &s
	}
	switch f {
	case FacetSystemInfo:
		e.SystemInfo = msg
	case FacetApplications:
		e.Applications = msg
	case FacetPorts:
		e.Ports = msg
	case FacetVMs:
		e.VMs = msg
	}
}

// Get returns the error string for facet f, or "" when it succeeded
func (e FacetErrors) Get(f Facet) string {
	var msg *string
	switch f {
	case FacetSystemInfo:
		msg = e.SystemInfo
	case FacetApplications:
		msg = e.Applications
	case FacetPorts:
		msg = e.Ports
	case FacetVMs:
		msg = e.VMs
	}
	if msg == nil {
		return ""
	}
	return *msg
}

// Any reports whether at least one facet failed
func (e FacetErrors) Any() bool {
	return e.SystemInfo != nil || e.Applications != nil || e.Ports != nil || e.VMs != nil
}

// CollectionResult is the output of one full collection pass
type CollectionResult struct {
	Platform         string            `json:"platform"`
	PlatformName     string            `json:"platformName"`
	SystemInfo       *SystemInfo       `json:"systemInfo"`
	Applications     []Application     `json:"applications"`
	Ports            []PortRecord      `json:"ports"`
	VMs              []VM              `json:"vms"`
	Timestamp        time.Time         `json:"timestamp"`
	Errors           FacetErrors       `json:"errors"`
	Degraded         map[string]string `json:"degraded,omitempty"`
	EnhancedFeatures bool              `json:"enhancedFeaturesEnabled"`
}

// NewCollectionResult creates an empty result with non-nil collections
func NewCollectionResult(platform, platformName string) *CollectionResult {
	return &CollectionResult{
		Platform:     platform,
		PlatformName: platformName,
		Applications: []Application{},
		Ports:        []PortRecord{},
		VMs:          []VM{},
		Timestamp:    time.Now(),
	}
}
