package preflight

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"portscope/internal/adapter"
	"portscope/internal/config"
)

// Report is the outcome of a preflight run
type Report struct {
	Evidence []Evidence                `json:"evidence"`
	Summary  map[string]map[string]any `json:"summary"`
	Warnings []string                  `json:"warnings,omitempty"`
}

// Host is what the checks read. Tests substitute every field.
type Host struct {
	FS          adapter.HostFS
	ReadDir     func(path string) ([]os.DirEntry, error)
	Geteuid     func() int
	Environment func() config.DetectionResult
}

// OSHost reads the real machine
func OSHost() Host {
	return Host{
		FS:          adapter.OSFS{},
		ReadDir:     os.ReadDir,
		Geteuid:     os.Geteuid,
		Environment: config.DetectEnvironment,
	}
}

// Run gathers evidence for cfg and derives warnings about reduced attribution
func Run(cfg *config.Config, h Host) *Report {
	var es EvidenceSet

	euid := h.Geteuid()
	es.Add(
		NewEvidence(CategoryIdentity, "effective_uid", euid, 1.0, "syscall", "os.Geteuid()"),
		NewEvidence(CategoryIdentity, "is_root", euid == 0, 1.0, "syscall", "os.Geteuid() == 0"),
	)

	es.Add(checkRead(h, CategoryAccess, "can_read_procfs", filepath.Join(cfg.OS.ProcRoot, "1", "cmdline")))
	es.Add(checkRead(h, CategoryAccess, "can_read_net_tcp", filepath.Join(cfg.OS.ProcRoot, "net", "tcp")))
	es.Add(checkFDs(h, filepath.Join(cfg.OS.ProcRoot, "1", "fd")))
	es.Add(checkSocket(h, "docker_socket", cfg.Docker.SocketPath))
	es.Add(checkSocket(h, "libvirt_socket", adapter.DefaultLibvirtSocket))

	for _, p := range cfg.Probes.ListProbes() {
		if p.Type != config.ProbeTypeExternal {
			continue
		}
		es.Add(NewEvidence(CategoryTooling, p.Name, p.Enabled && p.Available, 0.99, "path", "lookup "+p.Binary).
			WithRaw(map[string]any{"binary": p.Binary, "enabled": p.Enabled, "available": p.Available}))
	}

	env := h.Environment()
	containerized := env.Containerized()
	if cfg.OS.Containerized != nil {
		containerized = *cfg.OS.Containerized
	}
	es.Add(
		NewEvidence(CategoryEnvironment, "type", string(env.Type), env.Confidence, "heuristic", "runtime signatures").
			WithRaw(map[string]any{"reasons": env.Reasons}),
		NewEvidence(CategoryEnvironment, "containerized", containerized, env.Confidence, "config", "os.containerized or detection"),
	)
	if env.Runtime != config.RuntimeNone {
		es.Add(NewEvidence(CategoryEnvironment, "runtime", string(env.Runtime), env.Confidence, "heuristic", "runtime signatures"))
	}

	report := &Report{
		Evidence: es.All(),
		Summary:  es.Summary(),
		Warnings: warnings(&es, containerized),
	}
	for _, w := range report.Warnings {
		log.Printf("Preflight: %s", w)
	}
	return report
}

func checkRead(h Host, cat Category, prop, path string) Evidence {
	if _, err := h.FS.ReadFile(path); err != nil {
		return NewEvidence(cat, prop, false, 0.9, "procfs", fmt.Sprintf("read %s failed: %v", path, err))
	}
	return NewEvidence(cat, prop, true, 0.95, "procfs", "read "+path)
}

// checkFDs tests whether socket inodes of other users' processes can be
// mapped back to pids
func checkFDs(h Host, dir string) Evidence {
	entries, err := h.ReadDir(dir)
	if err != nil {
		return NewEvidence(CategoryAccess, "can_map_socket_owners", false, 0.9, "procfs",
			fmt.Sprintf("list %s failed: %v", dir, err))
	}
	return NewEvidence(CategoryAccess, "can_map_socket_owners", true, 0.95, "procfs",
		fmt.Sprintf("listed %d entries in %s", len(entries), dir))
}

func checkSocket(h Host, prop, path string) Evidence {
	ok, err := h.FS.IsSocket(path)
	method := "access " + path
	if err != nil {
		method = fmt.Sprintf("access %s failed: %v", path, err)
	}
	return NewEvidence(CategoryAccess, prop, ok, 0.95, "syscall", method)
}

func warnings(es *EvidenceSet, containerized bool) []string {
	var out []string
	if root, _ := es.Bool(CategoryIdentity, "is_root"); !root {
		if fds, _ := es.Bool(CategoryAccess, "can_map_socket_owners"); !fds {
			out = append(out, "not root: listeners owned by other users will have no pid")
		}
	}
	if ok, _ := es.Bool(CategoryAccess, "can_read_net_tcp"); !ok {
		if ss, _ := es.Bool(CategoryTooling, "ss"); !ss {
			out = append(out, "neither procfs socket tables nor ss are usable on this host")
		}
	}
	if containerized {
		if nsenter, _ := es.Bool(CategoryTooling, "nsenter"); !nsenter {
			out = append(out, "containerized without nsenter: only this container's sockets are visible")
		}
	}
	if docker, _ := es.Bool(CategoryAccess, "docker_socket"); !docker {
		out = append(out, "docker socket not usable: container attribution is off")
	}
	return out
}
