package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source identifies which layer observed a port
type Source string

const (
	SourceContainer  Source = "container"
	SourceOS         Source = "os"
	SourceHypervisor Source = "hypervisor"
)

// Protocol is the transport protocol of a listening socket
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Provenance records how a port's owner was determined
type Provenance string

const (
	ProvenanceObserved           Provenance = "observed"
	ProvenanceReclassifiedPID    Provenance = "reclassified-pid"
	ProvenanceReclassifiedCgroup Provenance = "reclassified-cgroup"
	ProvenanceHeuristic          Provenance = "heuristic"
	ProvenanceWellKnownPort      Provenance = "well-known-port"
)

const (
	// WildcardIP is the canonical form of every "any address" bind
	WildcardIP = "0.0.0.0"
	// LoopbackIP is the IPv4 loopback address
	LoopbackIP = "127.0.0.1"
	// UnknownOwner is used when no owner could be recovered
	UnknownOwner = "unknown"

	minPort = 1
	maxPort = 65535
)

// ErrInvalidPort is returned when a raw record has no usable host port
var ErrInvalidPort = errors.New("host port out of range")

// PortRecord is one discovered listening endpoint
type PortRecord struct {
	Source         Source     `json:"source"`
	Owner          string     `json:"owner"`
	Protocol       Protocol   `json:"protocol"`
	HostIP         string     `json:"host_ip"`
	HostPort       int        `json:"host_port"`
	PID            int        `json:"pid,omitempty"`
	PIDs           []int      `json:"pids"`
	Target         string     `json:"target,omitempty"`
	ContainerID    string     `json:"container_id,omitempty"`
	VMID           string     `json:"vm_id,omitempty"`
	AppID          string     `json:"app_id,omitempty"`
	ComposeProject string     `json:"compose_project,omitempty"`
	ComposeService string     `json:"compose_service,omitempty"`
	Created        *time.Time `json:"created,omitempty"`
	Internal       bool       `json:"internal"`
	Provenance     Provenance `json:"attribution_provenance"`
}

// RawPort is unvalidated parser or API output. Numeric fields are kept as
// text so that every producer goes through the same coercion rules.
type RawPort struct {
	Source         Source
	Owner          string
	Protocol       string
	HostIP         string
	HostPort       string
	PID            string
	PIDs           []string
	Target         string
	ContainerID    string
	VMID           string
	AppID          string
	ComposeProject string
	ComposeService string
	Created        *time.Time
	Internal       bool
	Provenance     Provenance
}

// Normalize validates a raw record and returns its canonical form
func Normalize(raw RawPort) (PortRecord, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw.HostPort))
	if err != nil {
		return PortRecord{}, fmt.Errorf("%w: %q", ErrInvalidPort, raw.HostPort)
	}

	var pids []int
	for _, s := range raw.PIDs {
		if pid := parsePID(s); pid > 0 {
			pids = append(pids, pid)
		}
	}

	rec := PortRecord{
		Source:         raw.Source,
		Owner:          raw.Owner,
		Protocol:       Protocol(raw.Protocol),
		HostIP:         raw.HostIP,
		HostPort:       port,
		PID:            parsePID(raw.PID),
		PIDs:           pids,
		Target:         raw.Target,
		ContainerID:    raw.ContainerID,
		VMID:           raw.VMID,
		AppID:          raw.AppID,
		ComposeProject: raw.ComposeProject,
		ComposeService: raw.ComposeService,
		Created:        raw.Created,
		Internal:       raw.Internal,
		Provenance:     raw.Provenance,
	}
	return rec.Normalize()
}

// Normalize returns the canonical form of the record. Normalizing an already
// normalized record returns an identical record.
func (p PortRecord) Normalize() (PortRecord, error) {
	if p.HostPort < minPort || p.HostPort > maxPort {
		return PortRecord{}, fmt.Errorf("%w: %d", ErrInvalidPort, p.HostPort)
	}

	p.HostIP = CanonicalHostIP(p.HostIP)
	p.Protocol = canonicalProtocol(string(p.Protocol))

	p.Owner = strings.TrimSpace(p.Owner)
	if p.Owner == "" {
		p.Owner = UnknownOwner
	}
	if p.Source == "" {
		p.Source = SourceOS
	}
	if p.Provenance == "" {
		p.Provenance = ProvenanceObserved
	}

	if p.PID < 0 {
		p.PID = 0
	}
	pids := make([]int, 0, len(p.PIDs)+1)
	seen := make(map[int]bool, len(p.PIDs)+1)
	if p.PID > 0 {
		pids = append(pids, p.PID)
		seen[p.PID] = true
	}
	for _, pid := range p.PIDs {
		if pid > 0 && !seen[pid] {
			pids = append(pids, pid)
			seen[pid] = true
		}
	}
	p.PIDs = pids
	if p.PID == 0 && len(pids) > 0 {
		p.PID = pids[0]
	}

	return p, nil
}

// Key returns the dedup key. Published records key on address, port and
// protocol; internal records key on the owning container so they never
// collide with a published binding of the same port.
func (p PortRecord) Key() string {
	if p.Internal {
		return fmt.Sprintf("%s|%d|internal", p.ContainerID, p.HostPort)
	}
	return fmt.Sprintf("%s|%d|%s", p.HostIP, p.HostPort, p.Protocol)
}

// HasPID reports whether pid is the primary pid or one of the record's pids
func (p PortRecord) HasPID(pid int) bool {
	if pid <= 0 {
		return false
	}
	if p.PID == pid {
		return true
	}
	for _, candidate := range p.PIDs {
		if candidate == pid {
			return true
		}
	}
	return false
}

// AllPIDs returns the primary pid followed by the remaining pids
func (p PortRecord) AllPIDs() []int {
	out := make([]int, 0, len(p.PIDs)+1)
	if p.PID > 0 {
		out = append(out, p.PID)
	}
	for _, pid := range p.PIDs {
		if pid > 0 && pid != p.PID {
			out = append(out, pid)
		}
	}
	return out
}

// AttributeTo moves the record onto a container workload
func (p *PortRecord) AttributeTo(w Workload, provenance Provenance) {
	p.Source = SourceContainer
	p.Owner = w.Name
	p.ContainerID = w.ID
	p.AppID = w.ID
	if w.ComposeProject != "" {
		p.ComposeProject = w.ComposeProject
	}
	if w.ComposeService != "" {
		p.ComposeService = w.ComposeService
	}
	if p.Target == "" {
		p.Target = fmt.Sprintf("%s:%d", w.ShortID(), p.HostPort)
	}
	if w.Created != nil {
		p.Created = w.Created
	}
	p.Provenance = provenance
}

// CanonicalHostIP maps every wildcard spelling to 0.0.0.0 and strips IPv6
// brackets from concrete addresses
func CanonicalHostIP(ip string) string {
	ip = strings.TrimSpace(ip)
	switch ip {
	case "", "*", "::", "[::]", WildcardIP:
		return WildcardIP
	}
	if strings.HasPrefix(ip, "[") && strings.HasSuffix(ip, "]") {
		inner := ip[1 : len(ip)-1]
		if inner == "::" || inner == "" {
			return WildcardIP
		}
		return inner
	}
	return ip
}

// IsWildcard reports whether ip binds every address
func IsWildcard(ip string) bool {
	return CanonicalHostIP(ip) == WildcardIP
}

// IsLoopback reports whether ip is a loopback bind
func IsLoopback(ip string) bool {
	switch CanonicalHostIP(ip) {
	case LoopbackIP, "::1", "localhost":
		return true
	}
	return false
}

func canonicalProtocol(proto string) Protocol {
	proto = strings.ToLower(strings.TrimSpace(proto))
	if strings.HasPrefix(proto, "udp") {
		return ProtocolUDP
	}
	return ProtocolTCP
}

func parsePID(s string) int {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// PIDStrings converts pids to the textual form accepted by RawPort
func PIDStrings(pids []int) []string {
	out := make([]string, 0, len(pids))
	for _, pid := range pids {
		out = append(out, strconv.Itoa(pid))
	}
	return out
}
