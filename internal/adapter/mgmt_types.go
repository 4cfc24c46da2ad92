package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"portscope/internal/domain"
)

// flexInt decodes a JSON number or numeric string; anything else is 0
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// flexString decodes a JSON string or number as text
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	*f = flexString(s)
	return nil
}

type mgmtSystemInfo struct {
	Hostname           string  `json:"hostname"`
	Version            string  `json:"version"`
	SystemProduct      string  `json:"system_product"`
	SystemManufacturer string  `json:"system_manufacturer"`
	Model              string  `json:"model"`
	Cores              flexInt `json:"cores"`
	PhysMem            flexInt `json:"physmem"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	Timezone           string  `json:"timezone"`
}

func (m mgmtSystemInfo) toDomain(platform string) *domain.SystemInfo {
	return &domain.SystemInfo{
		Type:            "system",
		Hostname:        m.Hostname,
		Version:         m.Version,
		Platform:        platform,
		OperatingSystem: m.Version,
		CPUModel:        m.Model,
		NCPU:            int(m.Cores),
		MemoryTotal:     uint64(m.PhysMem),
		UptimeSeconds:   uint64(m.UptimeSeconds),
		ProductVendor:   m.SystemManufacturer,
		ProductName:     m.SystemProduct,
		Enhanced:        true,
		PlatformData: map[string]any{
			"source":   "management-api",
			"timezone": m.Timezone,
		},
	}
}

type mgmtPortMapping struct {
	HostIP        string  `json:"host_ip"`
	HostPort      flexInt `json:"host_port"`
	ContainerPort flexInt `json:"container_port"`
	Protocol      string  `json:"protocol"`
}

type mgmtUsedPort struct {
	ContainerPort flexInt `json:"container_port"`
	Protocol      string  `json:"protocol"`
	HostPorts     []struct {
		HostPort flexInt `json:"host_port"`
		HostIP   string  `json:"host_ip"`
	} `json:"host_ports"`
}

type mgmtApp struct {
	ID           flexString        `json:"id"`
	Name         string            `json:"name"`
	State        string            `json:"state"`
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	HumanVersion string            `json:"human_version"`
	Image        string            `json:"image"`
	Started      string            `json:"started"`
	Catalog      string            `json:"catalog"`
	PortMappings []mgmtPortMapping `json:"port_mappings"`
	Config       struct {
		PortMappings []mgmtPortMapping `json:"port_mappings"`
	} `json:"config"`
	ActiveWorkloads struct {
		UsedPorts []mgmtUsedPort `json:"used_ports"`
	} `json:"active_workloads"`
}

func (a mgmtApp) toDomain(platform string) domain.Application {
	id := string(a.ID)
	if id == "" {
		id = a.Name
	}
	status := a.State
	if status == "" {
		status = a.Status
	}
	version := a.HumanVersion
	if version == "" {
		version = a.Version
	}
	if version == "" {
		version = "N/A"
	}
	image := a.Image
	if image == "" {
		image = "N/A"
	}
	catalog := a.Catalog
	if catalog == "" {
		catalog = "unknown"
	}

	app := domain.Application{
		Type:     "application",
		ID:       id,
		Name:     a.Name,
		Status:   AppStatus(status),
		Version:  version,
		Image:    image,
		Command:  "N/A",
		Platform: platform,
		Ports:    a.ports(),
		PlatformData: map[string]any{
			"type":     "truenas_app",
			"app_type": catalog,
			"catalog":  a.Catalog,
		},
	}
	if t, err := time.Parse(time.RFC3339, a.Started); err == nil {
		app.Created = &t
	}
	return app
}

// ports collects mappings from port_mappings, config.port_mappings and the
// active workload's used ports
func (a mgmtApp) ports() []domain.AppPort {
	var out []domain.AppPort
	add := func(ip string, host, container flexInt, proto string) {
		if ip == "" {
			ip = "*"
		}
		if proto == "" {
			proto = "tcp"
		}
		out = append(out, domain.AppPort{
			HostIP:        domain.CanonicalHostIP(ip),
			HostPort:      int(host),
			ContainerPort: int(container),
			Protocol:      domain.Protocol(strings.ToLower(proto)),
		})
	}
	for _, m := range a.PortMappings {
		add(m.HostIP, m.HostPort, m.ContainerPort, m.Protocol)
	}
	for _, m := range a.Config.PortMappings {
		add(m.HostIP, m.HostPort, m.ContainerPort, m.Protocol)
	}
	for _, u := range a.ActiveWorkloads.UsedPorts {
		for _, hp := range u.HostPorts {
			add(hp.HostIP, hp.HostPort, u.ContainerPort, u.Protocol)
		}
	}
	return out
}

// appPortRecords turns an app's declared mappings into supplemental port
// records. Mappings without a valid host port are dropped.
func appPortRecords(app domain.Application) []domain.PortRecord {
	var out []domain.PortRecord
	for _, p := range app.Ports {
		target := ""
		if p.ContainerPort > 0 {
			target = fmt.Sprintf("%s:%d", app.ID, p.ContainerPort)
		}
		rec, err := domain.Normalize(domain.RawPort{
			Source:   domain.SourceHypervisor,
			Owner:    app.Name,
			Protocol: string(p.Protocol),
			HostIP:   p.HostIP,
			HostPort: strconv.Itoa(p.HostPort),
			Target:   target,
			AppID:    app.ID,
			Created:  app.Created,
		})
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

type mgmtVM struct {
	ID          flexString      `json:"id"`
	Name        string          `json:"name"`
	Status      json.RawMessage `json:"status"`
	VCPUs       flexInt         `json:"vcpus"`
	Cores       flexInt         `json:"cores"`
	Threads     flexInt         `json:"threads"`
	Memory      flexInt         `json:"memory"`
	Autostart   bool            `json:"autostart"`
	VNCEnabled  bool            `json:"vnc_enabled"`
	VNCPort     flexInt         `json:"vnc_port"`
	Devices     []any           `json:"devices"`
	Description string          `json:"description"`
}

func (v mgmtVM) toDomain(platform string) domain.VM {
	vcpus := int(v.VCPUs)
	if c, t := int(v.Cores), int(v.Threads); vcpus > 0 && c > 0 && t > 0 {
		vcpus *= c * t
	}
	devices := v.Devices
	if devices == nil {
		devices = []any{}
	}
	return domain.VM{
		Type:        "vm",
		ID:          string(v.ID),
		Name:        v.Name,
		Status:      VMStatus(vmState(v.Status)),
		VCPUs:       vcpus,
		MemoryBytes: mebibytes(v.Memory),
		Autostart:   v.Autostart,
		Platform:    platform,
		PlatformData: map[string]any{
			"vnc_enabled": v.VNCEnabled,
			"vnc_port":    int(v.VNCPort),
			"devices":     devices,
			"description": v.Description,
		},
	}
}

// vmState reads the status either as a bare string or as {"state": ...}
func vmState(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.State
	}
	return ""
}

type mgmtInstance struct {
	ID          flexString `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	CPU         flexInt    `json:"cpu"`
	Memory      flexInt    `json:"memory"`
	Autostart   bool       `json:"autostart"`
	Aliases     []any      `json:"aliases"`
	StoragePool string     `json:"storage_pool"`
	VNCEnabled  bool       `json:"vnc_enabled"`
	Image       struct {
		OS      string `json:"os"`
		Release string `json:"release"`
	} `json:"image"`
}

func (in mgmtInstance) toDomain(platform string) domain.VM {
	osName := in.Image.OS
	if osName == "" {
		osName = "unknown"
	}
	return domain.VM{
		Type:        "vm",
		ID:          string(in.ID),
		Name:        in.Name,
		Status:      VMStatus(in.Status),
		VCPUs:       int(in.CPU),
		MemoryBytes: mebibytes(in.Memory),
		Autostart:   in.Autostart,
		Platform:    platform,
		PlatformData: map[string]any{
			"container_type": "lxc",
			"aliases":        in.Aliases,
			"image":          in.Image,
			"os":             osName,
			"vnc_enabled":    in.VNCEnabled,
			"storage_pool":   in.StoragePool,
		},
	}
}

func mebibytes(n flexInt) int64 {
	if n <= 0 {
		return 0
	}
	return int64(n) * 1024 * 1024
}

// AppStatus maps a management-API app state onto the shared status words
func AppStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running", "active":
		return "running"
	case "stopped", "stopping":
		return "stopped"
	case "crashed", "error", "failed":
		return "error"
	case "":
		return "unknown"
	default:
		return strings.ToLower(s)
	}
}

// VMStatus maps a VM or instance state onto the shared status words
func VMStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RUNNING":
		return "running"
	case "STOPPED":
		return "stopped"
	case "PAUSED":
		return "paused"
	case "":
		return "unknown"
	default:
		return strings.ToLower(s)
	}
}
