package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Platform   string           `yaml:"platform,omitempty"` // force an adapter instead of scoring
	Debug      bool             `yaml:"debug"`
	Collector  CollectorConfig  `yaml:"collector"`
	Cache      CacheConfig      `yaml:"cache"`
	OS         OSConfig         `yaml:"os"`
	Docker     DockerConfig     `yaml:"docker"`
	Hypervisor HypervisorConfig `yaml:"hypervisor"`
	Self       SelfConfig       `yaml:"self"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Verify     VerifyConfig     `yaml:"verify"`
	Probes     ProbesConfig     `yaml:"probes"`
}

// CollectorConfig holds orchestrator settings
type CollectorConfig struct {
	Interval   Duration `yaml:"interval"` // watch mode poll interval
	IncludeUDP bool     `yaml:"include_udp"`
}

// CacheConfig holds per-operation TTLs. Unset TTLs take the defaults; set
// Disabled to bypass caching entirely.
type CacheConfig struct {
	Disabled        bool     `yaml:"disabled"`
	DefaultTTL      Duration `yaml:"default_ttl"`
	SystemInfoTTL   Duration `yaml:"system_info_ttl"`
	PortsTTL        Duration `yaml:"ports_ttl"`
	DockerPortsTTL  Duration `yaml:"docker_ports_ttl"`
	WindowsPortsTTL Duration `yaml:"windows_ports_ttl"`
}

// OSConfig tunes the OS socket tiers
type OSConfig struct {
	CommandTimeout  Duration `yaml:"command_timeout"`
	ProcRoot        string   `yaml:"proc_root"`
	ProcMinEntries  int      `yaml:"proc_min_entries"`
	NsenterMinBytes int      `yaml:"nsenter_min_bytes"`
	ProcessLimit    int      `yaml:"process_limit"`
	Containerized   *bool    `yaml:"containerized,omitempty"` // nil = detect
}

// DockerConfig holds container runtime connection settings
type DockerConfig struct {
	Host       string   `yaml:"host,omitempty"` // empty = DOCKER_HOST / default socket
	APIVersion string   `yaml:"api_version,omitempty"`
	SocketPath string   `yaml:"socket_path"`
	Timeout    Duration `yaml:"timeout"`
}

// HypervisorConfig holds management API settings
type HypervisorConfig struct {
	APIKey                string    `yaml:"api_key,omitempty"`
	Transport             string    `yaml:"transport"` // local or ssh
	SSH                   SSHConfig `yaml:"ssh"`
	Timeout               Duration  `yaml:"timeout"`
	SystemInfoTimeout     Duration  `yaml:"system_info_timeout"`
	AppQueryTimeout       Duration  `yaml:"app_query_timeout"`
	VMQueryTimeout        Duration  `yaml:"vm_query_timeout"`
	ContainerQueryTimeout Duration  `yaml:"container_query_timeout"`
	SlowCallRatio         float64   `yaml:"slow_call_ratio"`
}

// SSHConfig is used by the ssh management transport
type SSHConfig struct {
	Host                  string `yaml:"host,omitempty"`
	Port                  int    `yaml:"port"`
	User                  string `yaml:"user,omitempty"`
	KeyPath               string `yaml:"key_path,omitempty"`
	KnownHostsPath        string `yaml:"known_hosts_path,omitempty"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`
}

// SelfConfig identifies this service for the self-exception pass
type SelfConfig struct {
	Port          int      `yaml:"port"`
	Name          string   `yaml:"name"`
	GenericOwners []string `yaml:"generic_owners,omitempty"`
}

// MetricsConfig holds the Prometheus listener settings used by watch mode
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// VerifyConfig holds nmap verification settings
type VerifyConfig struct {
	Target  string   `yaml:"target"`
	Timeout Duration `yaml:"timeout"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
