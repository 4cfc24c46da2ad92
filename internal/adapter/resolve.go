package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"portscope/internal/domain"
)

// maxAncestors bounds the parent walk of pidResolver
const maxAncestors = 8

// pidResolver finds the container of a host pid the snapshot's pid map
// missed, first through the pid's cgroup and then through its ancestors
type pidResolver struct {
	procRoot   string
	snap       *Snapshot
	containers *Containers
	procs      ProcessLookup
}

func (r pidResolver) Resolve(ctx context.Context, pid int) (domain.Workload, bool) {
	if w, ok := r.byCgroup(ctx, pid); ok {
		return w, true
	}
	return r.byAncestor(ctx, pid)
}

func (r pidResolver) byCgroup(ctx context.Context, pid int) (domain.Workload, bool) {
	root := r.procRoot
	if root == "" {
		root = "/proc"
	}
	data, err := os.ReadFile(filepath.Join(root, strconv.Itoa(pid), "cgroup"))
	if err != nil {
		return domain.Workload{}, false
	}
	id := CgroupContainerID(string(data))
	if id == "" {
		return domain.Workload{}, false
	}
	if w, ok := r.snap.Workload(id); ok {
		return w, true
	}
	if r.containers == nil {
		return domain.Workload{}, false
	}
	w, err := r.containers.ContainerByID(ctx, id)
	if err != nil {
		return domain.Workload{}, false
	}
	return w, true
}

// byAncestor covers processes forked after the snapshot was taken
func (r pidResolver) byAncestor(ctx context.Context, pid int) (domain.Workload, bool) {
	if r.procs == nil || r.snap == nil {
		return domain.Workload{}, false
	}
	cur := pid
	for i := 0; i < maxAncestors; i++ {
		ppid, err := r.procs.Parent(ctx, cur)
		if err != nil || ppid <= 1 || ppid == cur {
			return domain.Workload{}, false
		}
		if w, ok := r.snap.ByPID[ppid]; ok {
			return w, true
		}
		cur = ppid
	}
	return domain.Workload{}, false
}
