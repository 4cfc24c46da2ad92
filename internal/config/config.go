// Package config provides configuration management for portscope.
//
// Settings come from three layers, later ones winning:
//  1. built-in defaults
//  2. the YAML config file
//  3. environment variables (optionally loaded from .env files)
//
// Config file locations (priority order):
//  1. $PORTSCOPE_CONFIG
//  2. ./portscope.yaml
//  3. $XDG_CONFIG_HOME/portscope/config.yaml
//  4. ~/.config/portscope/config.yaml
//  5. /etc/portscope/config.yaml
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names for the management API client
const (
	TransportLocal = "local"
	TransportSSH   = "ssh"
)

// Load finds and loads the config file, or returns defaults if none found.
// Environment overrides are applied in both cases.
func Load() (*Config, string, error) {
	LoadEnvFiles()

	path := FindConfigPath()

	if path == "" {
		cfg := DefaultConfig()
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	cfg, path, err := LoadFromPath(path)
	if err != nil {
		return nil, path, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes YAML config data and fills in defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// DefaultConfig returns the settings used when no config file exists
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}

	defaultDuration(&c.Collector.Interval, 30*time.Second)

	defaultDuration(&c.Cache.DefaultTTL, 30*time.Second)
	defaultDuration(&c.Cache.SystemInfoTTL, 15*time.Second)
	defaultDuration(&c.Cache.PortsTTL, 5*time.Second)
	defaultDuration(&c.Cache.DockerPortsTTL, 4*time.Second)
	defaultDuration(&c.Cache.WindowsPortsTTL, 5*time.Second)

	defaultDuration(&c.OS.CommandTimeout, 10*time.Second)
	if c.OS.ProcRoot == "" {
		c.OS.ProcRoot = "/proc"
	}
	if c.OS.ProcMinEntries <= 0 {
		c.OS.ProcMinEntries = 3
	}
	if c.OS.NsenterMinBytes <= 0 {
		c.OS.NsenterMinBytes = 100
	}
	if c.OS.ProcessLimit <= 0 {
		c.OS.ProcessLimit = 50
	}

	if c.Docker.SocketPath == "" {
		c.Docker.SocketPath = "/var/run/docker.sock"
	}
	defaultDuration(&c.Docker.Timeout, 5*time.Second)

	if c.Hypervisor.Transport == "" {
		c.Hypervisor.Transport = TransportLocal
	}
	if c.Hypervisor.SSH.Port == 0 {
		c.Hypervisor.SSH.Port = 22
	}
	defaultDuration(&c.Hypervisor.Timeout, 90*time.Second)
	defaultDuration(&c.Hypervisor.SystemInfoTimeout, 30*time.Second)
	defaultDuration(&c.Hypervisor.AppQueryTimeout, 20*time.Second)
	defaultDuration(&c.Hypervisor.VMQueryTimeout, 15*time.Second)
	defaultDuration(&c.Hypervisor.ContainerQueryTimeout, 15*time.Second)
	if c.Hypervisor.SlowCallRatio <= 0 || c.Hypervisor.SlowCallRatio > 1 {
		c.Hypervisor.SlowCallRatio = 0.7
	}

	if c.Self.Port == 0 {
		c.Self.Port = 4999
	}
	if c.Self.Name == "" {
		c.Self.Name = "portscope"
	}
	if len(c.Self.GenericOwners) == 0 {
		c.Self.GenericOwners = []string{"node", "system", "portscope", "unknown"}
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9750"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Verify.Target == "" {
		c.Verify.Target = "127.0.0.1"
	}
	defaultDuration(&c.Verify.Timeout, 2*time.Minute)

	c.Probes.applyDefaults()
}

func defaultDuration(d *Duration, def time.Duration) {
	if *d <= 0 {
		*d = Duration(def)
	}
}

// Validate checks values that have no sensible fallback
func (c *Config) Validate() error {
	switch c.Platform {
	case "", "system", "docker", "truenas":
	default:
		return fmt.Errorf("invalid platform %q: want system, docker or truenas", c.Platform)
	}
	switch c.Hypervisor.Transport {
	case TransportLocal:
	case TransportSSH:
		if c.Hypervisor.SSH.Host == "" {
			return fmt.Errorf("hypervisor.ssh.host is required for the ssh transport")
		}
	default:
		return fmt.Errorf("invalid hypervisor transport %q", c.Hypervisor.Transport)
	}
	if c.Self.Port < 1 || c.Self.Port > 65535 {
		return fmt.Errorf("self.port %d out of range", c.Self.Port)
	}
	return nil
}

// Containerized reports whether portscope runs inside a container. An
// explicit os.containerized setting wins over detection.
func (c *Config) Containerized() bool {
	if c.OS.Containerized != nil {
		return *c.OS.Containerized
	}
	return DetectEnvironment().Containerized()
}

// HasAPIKey reports whether a management API credential is configured
func (c *Config) HasAPIKey() bool {
	return strings.TrimSpace(c.Hypervisor.APIKey) != ""
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	platform := c.Platform
	if platform == "" {
		platform = "auto"
	}

	summary := fmt.Sprintf("Platform: %s, Self: %s:%d, UDP: %v\n",
		platform, c.Self.Name, c.Self.Port, c.Collector.IncludeUDP)
	if c.Cache.Disabled {
		summary += "Cache: disabled\n"
	} else {
		summary += fmt.Sprintf("Cache: default %s, ports %s, docker ports %s\n",
			c.Cache.DefaultTTL.Duration(), c.Cache.PortsTTL.Duration(), c.Cache.DockerPortsTTL.Duration())
	}
	summary += fmt.Sprintf("Hypervisor: transport %s, api key %v, timeout %s\n",
		c.Hypervisor.Transport, c.HasAPIKey(), c.Hypervisor.Timeout.Duration())

	probes := c.Probes.Enabled()
	summary += fmt.Sprintf("Enabled probes (%d):", len(probes))
	for _, p := range probes {
		summary += fmt.Sprintf(" %s", p.Name)
	}

	return summary
}
