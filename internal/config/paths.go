package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "PORTSCOPE_CONFIG"
	// ConfigFileName is the default config file name
	ConfigFileName = "portscope.yaml"
	// ConfigDirName is the config directory name under XDG
	ConfigDirName = "portscope"
	// EnvFileName is the dotenv file read from the config directory
	EnvFileName = "portscope.env"
)

// configCandidates lists config file locations in priority order
func configCandidates() []string {
	var paths []string

	if path := os.Getenv(EnvConfigPath); path != "" {
		paths = append(paths, path)
	}
	paths = append(paths, ConfigFileName)
	if dir := userConfigDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, "config.yaml"))
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", ConfigDirName, "config.yaml"))
	}
	paths = append(paths, filepath.Join("/etc", ConfigDirName, "config.yaml"))

	return paths
}

// FindConfigPath searches for config file in priority order:
// 1. $PORTSCOPE_CONFIG (explicit path)
// 2. ./portscope.yaml (working directory)
// 3. $XDG_CONFIG_HOME/portscope/config.yaml
// 4. ~/.config/portscope/config.yaml
// 5. /etc/portscope/config.yaml
//
// Returns empty string if no config file found
func FindConfigPath() string {
	for _, path := range configCandidates() {
		if !fileExists(path) {
			continue
		}
		if path == ConfigFileName {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
		}
		return path
	}
	return ""
}

// EnvFilePaths returns the dotenv files to load, local first. Variables
// already set in the process environment are never overwritten.
func EnvFilePaths() []string {
	paths := []string{".env"}
	if dir := userConfigDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, EnvFileName))
	}
	return paths
}

// DefaultConfigPath returns the preferred location for a new config file
func DefaultConfigPath() string {
	if dir := userConfigDir(); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return ConfigFileName
}

// userConfigDir is $XDG_CONFIG_HOME/portscope, falling back to ~/.config/portscope
func userConfigDir() string {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, ConfigDirName)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", ConfigDirName)
	}
	return ""
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
