package config

import (
	"os/exec"
)

// ProbeType distinguishes in-process probes from ones that shell out
type ProbeType string

const (
	ProbeTypeBuiltin  ProbeType = "builtin"  // Compiled in, always available
	ProbeTypeExternal ProbeType = "external" // Needs a binary on PATH
)

// ProbeConfig defines settings for a single probe
type ProbeConfig struct {
	Disabled   bool   `yaml:"disabled"`
	BinaryPath string `yaml:"binary_path,omitempty"`
}

// ProbesConfig holds per-probe settings. Every probe is on unless disabled.
type ProbesConfig struct {
	Nsenter ProbeConfig `yaml:"nsenter"`
	SS      ProbeConfig `yaml:"ss"`
	Procfs  ProbeConfig `yaml:"procfs"`
	Netstat ProbeConfig `yaml:"netstat"`
	Midclt  ProbeConfig `yaml:"midclt"`
	Libvirt ProbeConfig `yaml:"libvirt"`
	Nmap    ProbeConfig `yaml:"nmap"`
}

func (p *ProbesConfig) applyDefaults() {
	defaultBinary(&p.Nsenter, "nsenter")
	defaultBinary(&p.SS, "ss")
	defaultBinary(&p.Netstat, "netstat")
	defaultBinary(&p.Midclt, "midclt")
	defaultBinary(&p.Nmap, "nmap")
}

func defaultBinary(p *ProbeConfig, name string) {
	if p.BinaryPath == "" {
		p.BinaryPath = name
	}
}

// ProbeInfo provides runtime info about a probe
type ProbeInfo struct {
	Name        string    `json:"name"`
	Type        ProbeType `json:"type"`
	Enabled     bool      `json:"enabled"`
	Available   bool      `json:"available"` // binary found
	Binary      string    `json:"binary,omitempty"`
	Description string    `json:"description"`
}

// lookPath is swapped in tests
var lookPath = exec.LookPath

// ListProbes returns info about all probes
func (p *ProbesConfig) ListProbes() []ProbeInfo {
	return []ProbeInfo{
		external("nsenter", p.Nsenter, "Host network namespace socket table (containerized only)"),
		external("ss", p.SS, "Namespace-local socket table"),
		{
			Name:        "procfs",
			Type:        ProbeTypeBuiltin,
			Enabled:     !p.Procfs.Disabled,
			Available:   true,
			Description: "/proc/net socket tables with inode to pid mapping",
		},
		external("netstat", p.Netstat, "Legacy socket enumeration"),
		external("midclt", p.Midclt, "Local management API client"),
		{
			Name:        "libvirt",
			Type:        ProbeTypeBuiltin,
			Enabled:     !p.Libvirt.Disabled,
			Available:   true,
			Description: "libvirt domain listing over the local socket",
		},
		external("nmap", p.Nmap, "TCP connect verification of discovered listeners"),
	}
}

func external(name string, cfg ProbeConfig, description string) ProbeInfo {
	_, err := lookPath(cfg.BinaryPath)
	return ProbeInfo{
		Name:        name,
		Type:        ProbeTypeExternal,
		Enabled:     !cfg.Disabled,
		Available:   err == nil,
		Binary:      cfg.BinaryPath,
		Description: description,
	}
}

// Enabled returns the probes that are both enabled and available
func (p *ProbesConfig) Enabled() []ProbeInfo {
	var out []ProbeInfo
	for _, info := range p.ListProbes() {
		if info.Enabled && info.Available {
			out = append(out, info)
		}
	}
	return out
}

// IsEnabled checks if a probe is enabled and available
func (p *ProbesConfig) IsEnabled(name string) bool {
	for _, info := range p.ListProbes() {
		if info.Name == name {
			return info.Enabled && info.Available
		}
	}
	return false
}
