package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"portscope/internal/domain"
)

type fakeResult struct {
	out   string
	err   error
	delay time.Duration
}

// fakeRunner answers commands from a table keyed by the full command line
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]fakeResult
	calls   []string
}

func newFakeRunner(results map[string]fakeResult) *fakeRunner {
	return &fakeRunner{results: results}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.mu.Lock()
	f.calls = append(f.calls, line)
	r, ok := f.results[line]
	f.mu.Unlock()

	if !ok {
		return nil, toolError(name, ErrToolMissing)
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, toolError(name, ctx.Err())
		}
	}
	if r.err != nil {
		return nil, toolError(name, r.err)
	}
	return []byte(r.out), nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRunner) count(line string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == line {
			n++
		}
	}
	return n
}

// fakeProcs is a canned ProcessLookup
type fakeProcs struct {
	start   time.Time
	parents map[int]int
	apps    []domain.Application
}

func (f fakeProcs) StartTime(_ context.Context, pid int) (time.Time, error) {
	if f.start.IsZero() {
		return time.Time{}, errors.New("no such process")
	}
	return f.start, nil
}

func (f fakeProcs) Parent(_ context.Context, pid int) (int, error) {
	if ppid, ok := f.parents[pid]; ok {
		return ppid, nil
	}
	return 0, fmt.Errorf("pid %d not found", pid)
}

func (f fakeProcs) List(_ context.Context, limit int) ([]domain.Application, error) {
	if limit > 0 && len(f.apps) > limit {
		return f.apps[:limit], nil
	}
	return f.apps, nil
}

// fakeDocker serves canned containers
type fakeDocker struct {
	mu         sync.Mutex
	list       []types.Container
	inspect    map[string]types.ContainerJSON
	top        map[string]container.ContainerTopOKBody
	info       types.Info
	version    types.Version
	listErr    error
	pingErr    error
	listCalls  int
	closeCalls int
}

func (f *fakeDocker) ContainerList(context.Context, types.ContainerListOptions) ([]types.Container, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	return f.list, f.listErr
}

func (f *fakeDocker) ContainerInspect(_ context.Context, id string) (types.ContainerJSON, error) {
	if info, ok := f.inspect[id]; ok {
		return info, nil
	}
	for full, info := range f.inspect {
		if strings.HasPrefix(full, id) {
			return info, nil
		}
	}
	return types.ContainerJSON{}, fmt.Errorf("no such container: %s", id)
}

func (f *fakeDocker) ContainerTop(_ context.Context, id string, _ []string) (container.ContainerTopOKBody, error) {
	if top, ok := f.top[id]; ok {
		return top, nil
	}
	return container.ContainerTopOKBody{}, errors.New("container not running")
}

func (f *fakeDocker) Info(context.Context) (types.Info, error)             { return f.info, nil }
func (f *fakeDocker) ServerVersion(context.Context) (types.Version, error) { return f.version, nil }
func (f *fakeDocker) Ping(context.Context) (types.Ping, error)            { return types.Ping{}, f.pingErr }

func (f *fakeDocker) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) dialer() DockerDialer {
	return func(context.Context) (DockerAPI, error) { return f, nil }
}

// fakeMgmt answers management calls from a table
type fakeMgmt struct {
	mu         sync.Mutex
	connectErr error
	replies    map[string]string
	errs       map[string]error
	delays     map[string]time.Duration
	closed     int
}

func (f *fakeMgmt) Connect(context.Context) error { return f.connectErr }

func (f *fakeMgmt) Call(ctx context.Context, method string, _ ...any) (json.RawMessage, error) {
	if d := f.delays[method]; d > 0 {
		time.Sleep(d)
	}
	if err := f.errs[method]; err != nil {
		return nil, err
	}
	reply, ok := f.replies[method]
	if !ok {
		return nil, fmt.Errorf("method %s not found", method)
	}
	return json.RawMessage(reply), nil
}

func (f *fakeMgmt) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeMgmt) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFS is an in-memory HostFS
type fakeFS struct {
	files   map[string]string
	sockets map[string]bool
}

func (f fakeFS) ReadFile(path string) ([]byte, error) {
	if s, ok := f.files[path]; ok {
		return []byte(s), nil
	}
	return nil, os.ErrNotExist
}

func (f fakeFS) Exists(path string) bool {
	_, file := f.files[path]
	return file || f.sockets[path]
}

func (f fakeFS) IsSocket(path string) (bool, error) {
	return f.sockets[path], nil
}
