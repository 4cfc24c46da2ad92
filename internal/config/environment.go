package config

import (
	"os"
	"runtime"
	"strings"
)

// EnvironmentType represents the broad category of deployment environment
type EnvironmentType string

const (
	EnvTypeBareMetal     EnvironmentType = "bare_metal"
	EnvTypeVM            EnvironmentType = "vm"
	EnvTypeContainerized EnvironmentType = "containerized"
)

// ContainerRuntime represents specific container runtime implementations
type ContainerRuntime string

const (
	RuntimeNone       ContainerRuntime = "none"
	RuntimeDocker     ContainerRuntime = "docker"
	RuntimeKubernetes ContainerRuntime = "kubernetes"
	RuntimePodman     ContainerRuntime = "podman"
	RuntimeContainerd ContainerRuntime = "containerd"
	RuntimeCRIO       ContainerRuntime = "cri-o"
	RuntimeLXC        ContainerRuntime = "lxc"
)

// RuntimeSignature defines detection criteria for a container runtime
type RuntimeSignature struct {
	Runtime       ContainerRuntime
	Confidence    float64 // Base confidence when matched
	Description   string
	FileExists    []string // Files that indicate this runtime
	EnvVars       []string // Environment variables to check
	CGroupMarkers []string // Patterns in /proc/1/cgroup
	MountMarkers  []string // Patterns in /proc/mounts
}

// RuntimeSignatures is the heuristic map of known container runtimes,
// most specific first
var RuntimeSignatures = []RuntimeSignature{
	{
		Runtime:     RuntimeKubernetes,
		Confidence:  0.95,
		Description: "Kubernetes pod with service account",
		FileExists: []string{
			"/var/run/secrets/kubernetes.io/serviceaccount/token",
		},
		EnvVars: []string{"KUBERNETES_SERVICE_HOST"},
	},
	{
		Runtime:       RuntimeCRIO,
		Confidence:    0.90,
		Description:   "CRI-O container runtime",
		CGroupMarkers: []string{"crio-", "/crio/"},
	},
	{
		Runtime:       RuntimeContainerd,
		Confidence:    0.90,
		Description:   "containerd container runtime",
		CGroupMarkers: []string{"containerd-", "/containerd/"},
	},
	{
		Runtime:       RuntimePodman,
		Confidence:    0.90,
		Description:   "Podman container",
		FileExists:    []string{"/run/.containerenv"},
		CGroupMarkers: []string{"libpod-", "/libpod/"},
	},
	{
		Runtime:       RuntimeDocker,
		Confidence:    0.85,
		Description:   "Docker container",
		FileExists:    []string{"/.dockerenv"},
		CGroupMarkers: []string{"docker-", "/docker/"},
		MountMarkers:  []string{"/docker/containers/"},
	},
	{
		Runtime:       RuntimeLXC,
		Confidence:    0.80,
		Description:   "LXC/LXD container",
		CGroupMarkers: []string{"/lxc/", "lxc.payload"},
	},
}

// HostProbe reads the facts environment detection is based on
type HostProbe interface {
	Exists(path string) bool
	ReadFile(path string) string
	Getenv(key string) string
}

type osProbe struct{}

func (osProbe) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osProbe) ReadFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func (osProbe) Getenv(key string) string { return os.Getenv(key) }

// DetectionResult holds the result of environment detection
type DetectionResult struct {
	Type       EnvironmentType  `json:"type"`
	Runtime    ContainerRuntime `json:"runtime"`
	Confidence float64          `json:"confidence"`
	Reasons    []string         `json:"reasons"`
}

// Containerized reports whether detection placed us inside a container
func (d DetectionResult) Containerized() bool {
	return d.Type == EnvTypeContainerized
}

// DetectEnvironment inspects the running host
func DetectEnvironment() DetectionResult {
	return DetectEnvironmentWith(osProbe{})
}

// DetectEnvironmentWith analyzes the runtime environment using heuristic signatures
func DetectEnvironmentWith(p HostProbe) DetectionResult {
	result := DetectionResult{
		Type:       EnvTypeBareMetal,
		Runtime:    RuntimeNone,
		Confidence: 0.7,
		Reasons:    []string{},
	}

	cgroup := p.ReadFile("/proc/1/cgroup")
	mounts := p.ReadFile("/proc/self/mountinfo")

	for _, sig := range RuntimeSignatures {
		if reasons := checkSignature(p, sig, cgroup, mounts); len(reasons) > 0 {
			result.Type = EnvTypeContainerized
			result.Runtime = sig.Runtime
			result.Confidence = sig.Confidence
			result.Reasons = append(result.Reasons, reasons...)
			break
		}
	}

	if result.Type == EnvTypeBareMetal && detectVM(p) {
		result.Type = EnvTypeVM
		result.Confidence = 0.75
		result.Reasons = append(result.Reasons, "VM hypervisor detected")
	}

	result.Reasons = append(result.Reasons, "Architecture: "+runtime.GOARCH)
	return result
}

func checkSignature(p HostProbe, sig RuntimeSignature, cgroup, mounts string) []string {
	var reasons []string

	for _, path := range sig.FileExists {
		if p.Exists(path) {
			reasons = append(reasons, "Found "+path)
		}
	}
	for _, key := range sig.EnvVars {
		if p.Getenv(key) != "" {
			reasons = append(reasons, "Env "+key+" set")
		}
	}
	for _, marker := range sig.CGroupMarkers {
		if strings.Contains(cgroup, marker) {
			reasons = append(reasons, "CGroup marker: "+marker)
		}
	}
	for _, marker := range sig.MountMarkers {
		if strings.Contains(mounts, marker) {
			reasons = append(reasons, "Mount marker: "+marker)
		}
	}

	return reasons
}

var vmIndicators = []string{
	"virtualbox", "vmware", "qemu", "kvm",
	"hyper-v", "xen", "parallels", "bochs",
}

func detectVM(p HostProbe) bool {
	if dmi := strings.ToLower(p.ReadFile("/sys/class/dmi/id/product_name")); dmi != "" {
		for _, indicator := range vmIndicators {
			if strings.Contains(dmi, indicator) {
				return true
			}
		}
	}
	return strings.Contains(p.ReadFile("/proc/cpuinfo"), "hypervisor")
}
