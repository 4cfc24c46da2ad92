package adapter

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"portscope/internal/domain"
)

// ProcessLookup answers per-pid questions about host processes
type ProcessLookup interface {
	StartTime(ctx context.Context, pid int) (time.Time, error)
	Parent(ctx context.Context, pid int) (int, error)
	List(ctx context.Context, limit int) ([]domain.Application, error)
}

// HostProcesses implements ProcessLookup with gopsutil
type HostProcesses struct{}

func (HostProcesses) StartTime(ctx context.Context, pid int) (time.Time, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return time.Time{}, err
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (HostProcesses) Parent(ctx context.Context, pid int) (int, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0, err
	}
	ppid, err := p.PpidWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return int(ppid), nil
}

// List returns up to limit processes ordered by pid as applications
func (HostProcesses) List(ctx context.Context, limit int) ([]domain.Application, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Pid < procs[j].Pid })
	if limit > 0 && len(procs) > limit {
		procs = procs[:limit]
	}

	apps := make([]domain.Application, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		app := domain.Application{
			Type:     "process",
			ID:       strconv.Itoa(int(p.Pid)),
			Name:     name,
			Status:   "running",
			Platform: "system",
			PlatformData: map[string]any{
				"type": "process",
				"pid":  p.Pid,
			},
		}
		if cmd, err := p.CmdlineWithContext(ctx); err == nil {
			app.Command = strings.TrimSpace(cmd)
		}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			t := time.UnixMilli(ms)
			app.Created = &t
		}
		if status, err := p.StatusWithContext(ctx); err == nil && len(status) > 0 {
			app.Status = processStatus(status[0])
		}
		apps = append(apps, app)
	}
	return apps, nil
}

func processStatus(s string) string {
	switch s {
	case process.Running, process.Sleep, process.Idle, process.Wait:
		return "running"
	case process.Stop:
		return "stopped"
	case process.Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// stampStartTimes fills Created from the owning process for records that
// have a pid but no creation time
func stampStartTimes(ctx context.Context, procs ProcessLookup, records []domain.PortRecord) {
	if procs == nil {
		return
	}
	seen := make(map[int]*time.Time)
	for i := range records {
		r := &records[i]
		if r.Created != nil || r.PID <= 0 {
			continue
		}
		t, ok := seen[r.PID]
		if !ok {
			if st, err := procs.StartTime(ctx, r.PID); err == nil {
				t = &st
			}
			seen[r.PID] = t
		}
		r.Created = t
	}
}
