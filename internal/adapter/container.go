package adapter

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"
	"golang.org/x/sync/errgroup"

	"portscope/internal/domain"
)

const (
	labelComposeProject = "com.docker.compose.project"
	labelComposeService = "com.docker.compose.service"

	inspectConcurrency = 8
)

var cgroupContainerID = regexp.MustCompile(`(?:docker|containerd)[/-]([a-f0-9]{64})`)

// Snapshot is one consistent read of the container runtime
type Snapshot struct {
	Workloads []domain.Workload
	// Ports holds published bindings followed by internal exposed ports
	Ports []domain.PortRecord
	// ByPID maps every known container process to its workload
	ByPID map[int]domain.Workload
}

// Workload returns the workload with the given id or id prefix
func (s *Snapshot) Workload(id string) (domain.Workload, bool) {
	if s == nil || id == "" {
		return domain.Workload{}, false
	}
	for _, w := range s.Workloads {
		if w.ID == id || strings.HasPrefix(w.ID, id) {
			return w, true
		}
	}
	return domain.Workload{}, false
}

// Containers reads workloads and their ports from a docker daemon
type Containers struct {
	Conn  *DockerConn
	Debug bool
}

// NewContainers creates a container reader over conn
func NewContainers(conn *DockerConn) *Containers {
	return &Containers{Conn: conn}
}

// Snapshot lists running containers and inspects each one concurrently.
// A container whose inspect fails is logged and left out.
func (c *Containers) Snapshot(ctx context.Context) (*Snapshot, error) {
	api, err := c.Conn.Get(ctx)
	if err != nil {
		return nil, err
	}

	list, err := api.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	type inspected struct {
		workload domain.Workload
		ports    []domain.PortRecord
		ok       bool
	}
	results := make([]inspected, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inspectConcurrency)
	for i, summary := range list {
		g.Go(func() error {
			w := workloadFromSummary(summary)

			var (
				info    types.ContainerJSON
				infoErr error
				pids    []int
				wg      sync.WaitGroup
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				info, infoErr = api.ContainerInspect(gctx, summary.ID)
			}()
			go func() {
				defer wg.Done()
				pids = containerPIDs(gctx, api, summary.ID)
			}()
			wg.Wait()

			if infoErr != nil {
				log.Printf("Docker: inspect %s (%s) failed: %v", w.ShortID(), w.Name, infoErr)
				return nil
			}

			applyInspect(&w, info, pids)
			results[i] = inspected{
				workload: w,
				ports:    containerPorts(w, info),
				ok:       true,
			}
			return nil
		})
	}
	_ = g.Wait()

	snap := &Snapshot{ByPID: make(map[int]domain.Workload)}
	var internal []domain.PortRecord
	for _, r := range results {
		if !r.ok {
			continue
		}
		snap.Workloads = append(snap.Workloads, r.workload)
		for _, pid := range r.workload.PIDs {
			snap.ByPID[pid] = r.workload
		}
		for _, p := range r.ports {
			if p.Internal {
				internal = append(internal, p)
			} else {
				snap.Ports = append(snap.Ports, p)
			}
		}
	}
	snap.Ports = append(snap.Ports, internal...)

	c.logf("Docker: snapshot has %d containers, %d ports, %d pids", len(snap.Workloads), len(snap.Ports), len(snap.ByPID))
	return snap, nil
}

// ContainerByID inspects a single container by full or short id
func (c *Containers) ContainerByID(ctx context.Context, id string) (domain.Workload, error) {
	api, err := c.Conn.Get(ctx)
	if err != nil {
		return domain.Workload{}, err
	}
	info, err := api.ContainerInspect(ctx, id)
	if err != nil {
		return domain.Workload{}, fmt.Errorf("inspect %s: %w", id, err)
	}

	w := domain.Workload{ID: info.ID}
	if info.ContainerJSONBase != nil {
		w.Name = strings.TrimPrefix(info.Name, "/")
		if info.State != nil {
			w.Status = ContainerStatus(info.State.Status)
		}
		if t, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
			w.Created = &t
		}
	}
	if info.Config != nil {
		w.Image = info.Config.Image
		w.ComposeProject = info.Config.Labels[labelComposeProject]
		w.ComposeService = info.Config.Labels[labelComposeService]
	}
	applyInspect(&w, info, nil)
	return w, nil
}

// SystemInfo reads daemon facts and the server version concurrently
func (c *Containers) SystemInfo(ctx context.Context) (*domain.SystemInfo, error) {
	api, err := c.Conn.Get(ctx)
	if err != nil {
		return nil, err
	}

	var (
		info    types.Info
		version types.Version
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info, err = api.Info(gctx)
		return err
	})
	g.Go(func() (err error) {
		version, err = api.ServerVersion(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("docker info: %w", err)
	}

	hostname := info.Name
	if hostname == "" {
		hostname = "docker-host"
	}
	swarm := string(info.Swarm.LocalNodeState)
	if swarm == "" {
		swarm = "inactive"
	}
	v := version.Version
	if v == "" {
		v = "unknown"
	}

	return &domain.SystemInfo{
		Type:            "system",
		Hostname:        hostname,
		Version:         v,
		Platform:        "docker",
		KernelVersion:   info.KernelVersion,
		OperatingSystem: info.OperatingSystem,
		OSType:          info.OSType,
		Architecture:    info.Architecture,
		NCPU:            info.NCPU,
		MemoryTotal:     uint64(info.MemTotal),
		PlatformData: map[string]any{
			"description":        "Docker " + v,
			"docker_version":     v,
			"containers_running": info.ContainersRunning,
			"containers_total":   info.Containers,
			"images":             info.Images,
			"storage_driver":     info.Driver,
			"logging_driver":     info.LoggingDriver,
			"cgroup_driver":      info.CgroupDriver,
			"swarm_status":       swarm,
		},
	}, nil
}

// Applications renders a snapshot's workloads for the applications facet
func (s *Snapshot) Applications(platform string) []domain.Application {
	if s == nil {
		return []domain.Application{}
	}
	byContainer := make(map[string][]domain.AppPort)
	for _, p := range s.Ports {
		byContainer[p.ContainerID] = append(byContainer[p.ContainerID], domain.AppPort{
			HostIP:        p.HostIP,
			HostPort:      p.HostPort,
			ContainerPort: targetPort(p.Target),
			Protocol:      p.Protocol,
			Internal:      p.Internal,
		})
	}

	apps := make([]domain.Application, 0, len(s.Workloads))
	for _, w := range s.Workloads {
		data := map[string]any{
			"type":         "container",
			"host_network": w.HostNetwork,
		}
		if w.ComposeProject != "" {
			data["compose_project"] = w.ComposeProject
		}
		if w.ComposeService != "" {
			data["compose_service"] = w.ComposeService
		}
		apps = append(apps, domain.Application{
			Type:         "application",
			ID:           w.ID,
			Name:         w.Name,
			Status:       w.Status,
			Version:      "N/A",
			Image:        w.Image,
			Command:      w.Command,
			Created:      w.Created,
			Platform:     platform,
			Ports:        byContainer[w.ID],
			PlatformData: data,
		})
	}
	return apps
}

// CgroupContainerID extracts a 64-hex container id from /proc/<pid>/cgroup
func CgroupContainerID(cgroup string) string {
	if m := cgroupContainerID.FindStringSubmatch(cgroup); m != nil {
		return m[1]
	}
	return ""
}

// ContainerStatus maps a docker state to the reported status vocabulary
func ContainerStatus(state string) string {
	switch strings.ToLower(state) {
	case "running":
		return "running"
	case "exited", "dead", "removing":
		return "stopped"
	case "restarting":
		return "restarting"
	case "created":
		return "created"
	case "paused":
		return "paused"
	default:
		return "unknown"
	}
}

func workloadFromSummary(s types.Container) domain.Workload {
	w := domain.Workload{
		ID:             s.ID,
		Image:          s.Image,
		Status:         ContainerStatus(s.State),
		Command:        s.Command,
		ComposeProject: s.Labels[labelComposeProject],
		ComposeService: s.Labels[labelComposeService],
	}
	if len(s.Names) > 0 {
		w.Name = strings.TrimPrefix(s.Names[0], "/")
	}
	if s.Created > 0 {
		t := time.Unix(s.Created, 0)
		w.Created = &t
	}
	return w
}

func applyInspect(w *domain.Workload, info types.ContainerJSON, topPIDs []int) {
	seen := make(map[int]bool)
	add := func(pid int) {
		if pid > 0 && !seen[pid] {
			seen[pid] = true
			w.PIDs = append(w.PIDs, pid)
		}
	}

	if info.ContainerJSONBase != nil {
		if info.State != nil {
			w.MainPID = info.State.Pid
			add(info.State.Pid)
		}
		if info.HostConfig != nil {
			w.HostNetwork = info.HostConfig.NetworkMode.IsHost()
		}
	}
	for _, pid := range topPIDs {
		add(pid)
	}
}

// containerPIDs returns the host pids of a container's processes. Failure
// leaves the container with only its main pid.
func containerPIDs(ctx context.Context, api DockerAPI, id string) []int {
	top, err := api.ContainerTop(ctx, id, nil)
	if err != nil {
		log.Printf("Docker: top %s failed: %v", shortID(id), err)
		return nil
	}
	col := -1
	for i, title := range top.Titles {
		if strings.EqualFold(title, "PID") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil
	}

	var pids []int
	for _, row := range top.Processes {
		if col >= len(row) {
			continue
		}
		if pid, err := strconv.Atoi(row[col]); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

// containerPorts derives published bindings and internal exposed ports
func containerPorts(w domain.Workload, info types.ContainerJSON) []domain.PortRecord {
	var out []domain.PortRecord
	published := make(map[nat.Port]bool)

	if info.NetworkSettings != nil {
		for port, bindings := range info.NetworkSettings.Ports {
			for _, b := range bindings {
				if strings.HasSuffix(b.HostIP, ".255") {
					continue
				}
				hostIP := b.HostIP
				if hostIP == "" {
					hostIP = domain.WildcardIP
				}
				rec, err := domain.Normalize(domain.RawPort{
					Source:         domain.SourceContainer,
					Owner:          w.Name,
					Protocol:       port.Proto(),
					HostIP:         hostIP,
					HostPort:       b.HostPort,
					Target:         fmt.Sprintf("%s:%s", w.ID, port.Port()),
					ContainerID:    w.ID,
					AppID:          w.ID,
					ComposeProject: w.ComposeProject,
					ComposeService: w.ComposeService,
					Created:        w.Created,
				})
				if err != nil {
					continue
				}
				published[port] = true
				out = append(out, rec)
			}
		}
	}

	if info.Config != nil {
		for port := range info.Config.ExposedPorts {
			if published[port] {
				continue
			}
			rec, err := domain.Normalize(domain.RawPort{
				Source:         domain.SourceContainer,
				Owner:          w.Name,
				Protocol:       port.Proto(),
				HostIP:         domain.WildcardIP,
				HostPort:       port.Port(),
				Target:         fmt.Sprintf("%s:%s(internal)", w.ShortID(), port.Port()),
				ContainerID:    w.ID,
				AppID:          w.ID,
				ComposeProject: w.ComposeProject,
				ComposeService: w.ComposeService,
				Created:        w.Created,
				Internal:       true,
			})
			if err != nil {
				continue
			}
			out = append(out, rec)
		}
	}
	return out
}

// targetPort pulls the container port out of "id:port" or "id:port(internal)"
func targetPort(target string) int {
	i := strings.LastIndexByte(target, ':')
	if i < 0 {
		return 0
	}
	s := strings.TrimSuffix(target[i+1:], "(internal)")
	n, _ := strconv.Atoi(s)
	return n
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (c *Containers) logf(format string, args ...any) {
	if c.Debug {
		log.Printf(format, args...)
	}
}
