package adapter

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"portscope/internal/domain"
)

// Signal is one weighted piece of evidence that an adapter fits the host
type Signal struct {
	Name   string
	Weight int
	Check  func(ctx context.Context) (bool, error)
}

// Scorer sums the weights of matched signals into a clamped score
type Scorer struct {
	Platform string
	Signals  []Signal
	// FirstMatch stops at the first matching signal instead of summing
	FirstMatch bool
}

// Score evaluates every signal. A failing or panicking check contributes 0
// and is logged.
func (s Scorer) Score(ctx context.Context) domain.CompatibilityScore {
	total := 0
	var reasons []string

	for _, sig := range s.Signals {
		matched, err := runCheck(ctx, sig)
		if err != nil {
			log.Printf("Compat %s: signal %q failed: %v", s.Platform, sig.Name, err)
			continue
		}
		if !matched {
			continue
		}
		total += sig.Weight
		reasons = append(reasons, fmt.Sprintf("%s (+%d)", sig.Name, sig.Weight))
		if s.FirstMatch {
			break
		}
	}

	score := domain.NewCompatibilityScore(total, reasons)
	log.Printf("Compat %s: score %d/100 %v", s.Platform, score.Score, reasons)
	return score
}

func runCheck(ctx context.Context, sig Signal) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sig.Check(ctx)
}

// HostFS is the read-only view of the host used by compatibility signals
type HostFS interface {
	ReadFile(path string) ([]byte, error)
	Exists(path string) bool
	IsSocket(path string) (bool, error)
}

// OSFS reads the real filesystem
type OSFS struct{}

func (OSFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (OSFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFS) IsSocket(path string) (bool, error) { return socketUsable(path) }

var (
	middlewareSockets = []string{
		"/var/run/middlewared.sock",
		"/run/middlewared.sock",
		"/run/middleware/middlewared.sock",
	}
	hypervisorMarkerDirs = []string{
		"/usr/local/etc/ix",
		"/etc/netcli",
		"/data/truenas-config",
	}
)

// HypervisorSignals returns the TrueNAS-flavored signal set
func HypervisorSignals(fsys HostFS, runner CommandRunner, apiKey string) []Signal {
	return []Signal{
		{
			Name:   "kernel identifies truenas",
			Weight: 60,
			Check: func(ctx context.Context) (bool, error) {
				out, err := runner.Run(ctx, "uname", "-a")
				if err != nil {
					return false, err
				}
				return containsFold(string(out), "truenas"), nil
			},
		},
		{
			Name:   "os-release identifies truenas",
			Weight: 40,
			Check: func(ctx context.Context) (bool, error) {
				data, err := fsys.ReadFile("/etc/os-release")
				if err != nil {
					if os.IsNotExist(err) {
						return false, nil
					}
					return false, err
				}
				return containsFold(string(data), "truenas"), nil
			},
		},
		{
			Name:   "middleware socket present",
			Weight: 10,
			Check:  anyExists(fsys, middlewareSockets),
		},
		{
			Name:   "marker directory present",
			Weight: 10,
			Check:  anyExists(fsys, hypervisorMarkerDirs),
		},
		{
			Name:   "api key configured",
			Weight: 20,
			Check: func(context.Context) (bool, error) {
				return strings.TrimSpace(apiKey) != "", nil
			},
		},
	}
}

// ContainerRuntimeSignals returns the docker signal set. Only the first
// match counts: a control socket scores 50, otherwise a reachable API
// scores 40 (50 over a Windows named pipe).
func ContainerRuntimeSignals(fsys HostFS, socketPath string, ping func(ctx context.Context) error) []Signal {
	apiWeight := 40
	if runtime.GOOS == "windows" {
		apiWeight = 50
	}
	return []Signal{
		{
			Name:   "docker socket " + socketPath,
			Weight: 50,
			Check: func(context.Context) (bool, error) {
				if !fsys.Exists(socketPath) {
					return false, nil
				}
				return fsys.IsSocket(socketPath)
			},
		},
		{
			Name:   "docker api reachable",
			Weight: apiWeight,
			Check: func(ctx context.Context) (bool, error) {
				if err := ping(ctx); err != nil {
					return false, err
				}
				return true, nil
			},
		},
	}
}

// OSSignals returns the constant baseline every host matches
func OSSignals() []Signal {
	return []Signal{
		{
			Name:   "generic host",
			Weight: 10,
			Check:  func(context.Context) (bool, error) { return true, nil },
		},
	}
}

func anyExists(fsys HostFS, paths []string) func(context.Context) (bool, error) {
	return func(context.Context) (bool, error) {
		for _, p := range paths {
			if fsys.Exists(p) {
				return true, nil
			}
		}
		return false, nil
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
