package adapter

import (
	"context"

	"portscope/internal/domain"
)

// Kind tags the adapter variant. Variants are chosen by score, and the kind
// only matters for breaking ties.
type Kind string

const (
	// KindHypervisor - hypervisor platform that composes container and OS facets
	KindHypervisor Kind = "hypervisor"
	// KindContainerRuntime - container runtime with OS sockets as a supplement
	KindContainerRuntime Kind = "container-runtime"
	// KindOS - plain host, OS sockets only
	KindOS Kind = "os"
)

// Priority returns the tie-break rank (higher wins)
func (k Kind) Priority() int {
	switch k {
	case KindHypervisor:
		return 3
	case KindContainerRuntime:
		return 2
	case KindOS:
		return 1
	default:
		return 0
	}
}

// Adapter collects the four facets for one platform
type Adapter interface {
	// Platform returns the short platform id used for cache namespacing
	Platform() string

	// PlatformName returns a human-readable platform name
	PlatformName() string

	// Kind returns the adapter variant
	Kind() Kind

	// IsCompatible scores how well this adapter fits the current host.
	// It never fails; failed checks contribute nothing.
	IsCompatible(ctx context.Context) domain.CompatibilityScore

	SystemInfo(ctx context.Context) (*domain.SystemInfo, error)
	Applications(ctx context.Context) ([]domain.Application, error)
	Ports(ctx context.Context) ([]domain.PortRecord, error)
	VMs(ctx context.Context) ([]domain.VM, error)

	// Close releases connection handles
	Close() error
}

// Enhancement is the output of an optional facet that runs alongside the
// four core facets and is merged into the result afterwards
type Enhancement struct {
	// Enabled reports whether enhanced collection was attempted at all
	Enabled bool
	// SystemInfo fields override the core system info when set
	SystemInfo   *domain.SystemInfo
	Applications []domain.Application
	VMs          []domain.VM
	// Ports are supplemental records; they never replace an existing key
	Ports []domain.PortRecord
	// Degraded maps a feature name to the reason it was skipped
	Degraded map[string]string
}

// Enhancer is implemented by adapters with an optional facet that degrades
// instead of failing
type Enhancer interface {
	Adapter

	// Enhance runs the optional facet. It never returns an error; failures
	// land in Enhancement.Degraded.
	Enhance(ctx context.Context) Enhancement
}

// CacheInspector is implemented by adapters that own a probe cache
type CacheInspector interface {
	CacheEntries() []string
	ClearCache()
}
