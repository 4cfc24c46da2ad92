package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables recognised by ApplyEnv
const (
	EnvPlatform              = "PORTSCOPE_PLATFORM"
	EnvSelfPort              = "PORT"
	EnvIncludeUDP            = "INCLUDE_UDP"
	EnvDisableCache          = "DISABLE_CACHE"
	EnvDebug                 = "DEBUG"
	EnvDefaultTTL            = "COLLECTOR_CACHE_TTL_MS"
	EnvSystemInfoTTL         = "SYSTEM_CACHE_SYSTEMINFO_TTL_MS"
	EnvPortsTTL              = "SYSTEM_CACHE_PORTS_TTL_MS"
	EnvDockerPortsTTL        = "DOCKER_CACHE_PORTS_TTL_MS"
	EnvWindowsPortsTTL       = "PORT_CACHE_TTL_MS"
	EnvAPIKey                = "TRUENAS_API_KEY"
	EnvMgmtTimeout           = "TRUENAS_TIMEOUT_MS"
	EnvSystemInfoTimeout     = "TRUENAS_SYSTEM_INFO_TIMEOUT_MS"
	EnvAppQueryTimeout       = "TRUENAS_APP_QUERY_TIMEOUT_MS"
	EnvVMQueryTimeout        = "TRUENAS_VM_QUERY_TIMEOUT_MS"
	EnvContainerQueryTimeout = "TRUENAS_CONTAINER_QUERY_TIMEOUT_MS"
)

// LoadEnvFiles loads dotenv files into the process environment. Missing
// files are ignored.
func LoadEnvFiles() {
	for _, path := range EnvFilePaths() {
		if !fileExists(path) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Printf("Config: failed to load %s: %v", path, err)
		}
	}
}

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides config values from environment variables
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvPlatform); ok {
		c.Platform = strings.ToLower(v)
	}
	if v, ok := get(EnvAPIKey); ok {
		c.Hypervisor.APIKey = v
	}

	if v, ok := get(EnvSelfPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%s: invalid port %q", EnvSelfPort, v)
		}
		c.Self.Port = port
	}

	bools := []struct {
		key    string
		target *bool
	}{
		{EnvIncludeUDP, &c.Collector.IncludeUDP},
		{EnvDisableCache, &c.Cache.Disabled},
		{EnvDebug, &c.Debug},
	}
	for _, b := range bools {
		v, ok := get(b.key)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
		*b.target = parsed
	}

	millis := []struct {
		key    string
		target *Duration
	}{
		{EnvDefaultTTL, &c.Cache.DefaultTTL},
		{EnvSystemInfoTTL, &c.Cache.SystemInfoTTL},
		{EnvPortsTTL, &c.Cache.PortsTTL},
		{EnvDockerPortsTTL, &c.Cache.DockerPortsTTL},
		{EnvWindowsPortsTTL, &c.Cache.WindowsPortsTTL},
		{EnvMgmtTimeout, &c.Hypervisor.Timeout},
		{EnvSystemInfoTimeout, &c.Hypervisor.SystemInfoTimeout},
		{EnvAppQueryTimeout, &c.Hypervisor.AppQueryTimeout},
		{EnvVMQueryTimeout, &c.Hypervisor.VMQueryTimeout},
		{EnvContainerQueryTimeout, &c.Hypervisor.ContainerQueryTimeout},
	}
	for _, m := range millis {
		v, ok := get(m.key)
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", m.key, err)
		}
		*m.target = Duration(time.Duration(ms) * time.Millisecond)
	}

	return c.Validate()
}
