package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"portscope/internal/config"
)

func testProbes() config.ProbesConfig {
	return config.ProbesConfig{
		Nsenter: config.ProbeConfig{BinaryPath: "nsenter"},
		SS:      config.ProbeConfig{BinaryPath: "ss"},
		Netstat: config.ProbeConfig{BinaryPath: "netstat"},
	}
}

func TestOSSocketsTierFallback(t *testing.T) {
	tests := []struct {
		name          string
		containerized bool
		results       map[string]fakeResult
		procRoot      func(t *testing.T) string
		wantCalls     []string
		wantPorts     int
	}{
		{
			name:          "nsenter output too short falls through to ss",
			containerized: true,
			results: map[string]fakeResult{
				"nsenter -t 1 -n ss -tulpn": {out: "Netid State\n"},
				"ss -tulpn":                 {out: ssOutput},
			},
			wantCalls: []string{"nsenter -t 1 -n ss -tulpn", "ss -tulpn"},
			wantPorts: 6,
		},
		{
			name:          "nsenter used when output is rich",
			containerized: true,
			results: map[string]fakeResult{
				"nsenter -t 1 -n ss -tulpn": {out: ssOutput},
			},
			wantCalls: []string{"nsenter -t 1 -n ss -tulpn"},
			wantPorts: 6,
		},
		{
			name: "ss missing uses procfs",
			results: map[string]fakeResult{
				"ss -tulpn": {err: errors.New("exit status 127")},
			},
			procRoot:  procFixture,
			wantCalls: []string{"ss -tulpn"},
			wantPorts: 5,
		},
		{
			name:    "empty ss and thin procfs reach netstat",
			results: map[string]fakeResult{"ss -tulpn": {out: "Netid State\n"}, "netstat -tulpn": {out: netstatOutput}},
			procRoot: func(t *testing.T) string {
				root := t.TempDir()
				writeFile(t, root+"/net/tcp", procTCP)
				return root
			},
			wantCalls: []string{"ss -tulpn", "netstat -tulpn"},
			wantPorts: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner(tt.results)
			root := t.TempDir()
			if tt.procRoot != nil {
				root = tt.procRoot(t)
			}
			s := &OSSockets{
				Runner:          runner,
				Procfs:          ProcNet{Root: root},
				Probes:          testProbes(),
				Containerized:   tt.containerized,
				MinProcEntries:  3,
				NsenterMinBytes: 100,
				GOOS:            "linux",
			}

			ports, err := s.Ports(context.Background())
			if err != nil {
				t.Fatalf("Ports() error = %v", err)
			}
			if len(ports) != tt.wantPorts {
				t.Errorf("len(Ports()) = %d, want %d", len(ports), tt.wantPorts)
			}
			if got := runner.Calls(); strings.Join(got, ",") != strings.Join(tt.wantCalls, ",") {
				t.Errorf("calls = %v, want %v", got, tt.wantCalls)
			}
		})
	}
}

func TestOSSocketsAllTiersFail(t *testing.T) {
	runner := newFakeRunner(map[string]fakeResult{
		"ss -tulpn": {err: errors.New("exit status 1")},
	})
	s := &OSSockets{
		Runner:         runner,
		Procfs:         ProcNet{Root: t.TempDir()},
		Probes:         testProbes(),
		MinProcEntries: 3,
		GOOS:           "linux",
	}

	ports, err := s.Ports(context.Background())
	if ports != nil {
		t.Errorf("Ports() = %v, want nil", ports)
	}
	if !errors.Is(err, ErrAllTiersFailed) {
		t.Fatalf("Ports() error = %v, want ErrAllTiersFailed", err)
	}
	if !errors.Is(err, ErrToolMissing) {
		t.Errorf("Ports() error = %v, want netstat's ErrToolMissing joined in", err)
	}
	var te *ToolError
	if !errors.As(err, &te) {
		t.Errorf("Ports() error = %v, want a *ToolError in the chain", err)
	}
	for _, tier := range []string{MethodLocal, MethodProcfs, MethodNetstat} {
		if !strings.Contains(err.Error(), tier+":") {
			t.Errorf("Ports() error %q does not name tier %s", err, tier)
		}
	}
}

func TestOSSocketsNoTiers(t *testing.T) {
	probes := testProbes()
	probes.SS.Disabled = true
	probes.Procfs.Disabled = true
	probes.Netstat.Disabled = true
	s := &OSSockets{Runner: newFakeRunner(nil), Probes: probes, GOOS: "linux"}

	if _, err := s.Ports(context.Background()); !errors.Is(err, ErrAllTiersFailed) {
		t.Errorf("Ports() error = %v, want ErrAllTiersFailed", err)
	}
}

func TestOSSocketsWindows(t *testing.T) {
	noPID := "\r\nActive Connections\r\n\r\n  Proto  Local Address          Foreign Address        State\r\n" +
		"  TCP    0.0.0.0:135            0.0.0.0:0              LISTENING\r\n" +
		"  TCP    0.0.0.0:445            0.0.0.0:0              LISTENING\r\n"
	runner := newFakeRunner(map[string]fakeResult{
		"netstat -ano": {err: errors.New("access denied")},
		"netstat -an":  {out: noPID},
	})
	s := &OSSockets{Runner: runner, Probes: testProbes(), GOOS: "windows"}

	ports, err := s.Ports(context.Background())
	if err != nil {
		t.Fatalf("Ports() error = %v", err)
	}
	if len(ports) != 2 {
		t.Fatalf("len(Ports()) = %d, want 2", len(ports))
	}
	if ports[1].Owner != "smbd" {
		t.Errorf("445 Owner = %s, want smbd", ports[1].Owner)
	}
	if ports[0].PID != 0 {
		t.Errorf("135 PID = %d, want 0", ports[0].PID)
	}
}

func TestOSSocketsStampsStartTimes(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &OSSockets{
		Runner: newFakeRunner(map[string]fakeResult{"ss -tulpn": {out: ssOutput}}),
		Procs:  fakeProcs{start: start},
		Probes: testProbes(),
		GOOS:   "linux",
	}

	ports, err := s.Ports(context.Background())
	if err != nil {
		t.Fatalf("Ports() error = %v", err)
	}
	for _, p := range ports {
		switch {
		case p.PID > 0 && (p.Created == nil || !p.Created.Equal(start)):
			t.Errorf("%d/%s Created = %v, want %v", p.HostPort, p.Protocol, p.Created, start)
		case p.PID == 0 && p.Created != nil:
			t.Errorf("%d/%s Created = %v, want nil", p.HostPort, p.Protocol, p.Created)
		}
	}
}

func TestOSSocketsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &OSSockets{Runner: newFakeRunner(nil), Probes: testProbes(), GOOS: "linux"}

	if _, err := s.Ports(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Ports() error = %v, want context.Canceled", err)
	}
}
