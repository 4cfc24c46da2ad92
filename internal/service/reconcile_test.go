package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"

	"portscope/internal/domain"
)

func workload(name, image string) domain.Workload {
	id := fmt.Sprintf("%x", sha256.Sum256([]byte(name)))
	return domain.Workload{ID: id, Name: name, Image: image, Status: "running"}
}

func osPort(owner, proto, ip string, port, pid int) domain.PortRecord {
	p, err := domain.PortRecord{
		Source:   domain.SourceOS,
		Owner:    owner,
		Protocol: domain.Protocol(proto),
		HostIP:   ip,
		HostPort: port,
		PID:      pid,
	}.Normalize()
	if err != nil {
		panic(err)
	}
	return p
}

func published(w domain.Workload, proto string, port int) domain.PortRecord {
	p, err := domain.PortRecord{
		Source:      domain.SourceContainer,
		Owner:       w.Name,
		Protocol:    domain.Protocol(proto),
		HostIP:      "0.0.0.0",
		HostPort:    port,
		ContainerID: w.ID,
		AppID:       w.ID,
	}.Normalize()
	if err != nil {
		panic(err)
	}
	return p
}

func newReconciler() *Reconciler {
	return &Reconciler{
		SelfPort:      4999,
		SelfName:      "portscope",
		GenericOwners: []string{"node", "system", "portscope", "unknown"},
	}
}

func findPort(ports []domain.PortRecord, port int, proto domain.Protocol) *domain.PortRecord {
	for i := range ports {
		if ports[i].HostPort == port && ports[i].Protocol == proto {
			return &ports[i]
		}
	}
	return nil
}

func TestReconcilePublishedPortAbsorbsProxy(t *testing.T) {
	web := workload("web", "nginx:alpine")
	in := Inputs{
		Container: []domain.PortRecord{published(web, "tcp", 8080)},
		OS: []domain.PortRecord{
			osPort("docker-proxy", "tcp", "0.0.0.0", 8080, 2000),
			osPort("docker-proxy", "tcp", "[::]", 8080, 2001),
		},
		Workloads: []domain.Workload{web},
	}

	got := newReconciler().Reconcile(context.Background(), in)
	if len(got) != 1 {
		t.Fatalf("len(ports) = %d, want 1: %+v", len(got), got)
	}
	p := got[0]
	if p.Source != domain.SourceContainer {
		t.Errorf("Source = %v, want container", p.Source)
	}
	if p.Owner != "web" {
		t.Errorf("Owner = %q, want web", p.Owner)
	}
	if p.PID != 2000 {
		t.Errorf("PID = %d, want 2000", p.PID)
	}
}

func TestReconcileImportantUDPPort(t *testing.T) {
	wg := workload("wg-easy", "ghcr.io/wg-easy/wg-easy")
	other := workload("nginx", "nginx")

	rec := osPort("wireguard", "udp", "0.0.0.0", 51820, 0)
	rec.Provenance = domain.ProvenanceWellKnownPort

	in := Inputs{
		OS:        []domain.PortRecord{rec},
		Workloads: []domain.Workload{other, wg},
	}
	got := newReconciler().Reconcile(context.Background(), in)

	p := findPort(got, 51820, domain.ProtocolUDP)
	if p == nil {
		t.Fatalf("51820/udp missing from %+v", got)
	}
	if p.Source != domain.SourceContainer {
		t.Errorf("Source = %v, want container", p.Source)
	}
	if p.Owner != "wg-easy" {
		t.Errorf("Owner = %q, want wg-easy", p.Owner)
	}
	if p.ContainerID != wg.ID {
		t.Errorf("ContainerID = %q, want %q", p.ContainerID, wg.ID)
	}
	if p.Provenance != domain.ProvenanceWellKnownPort {
		t.Errorf("Provenance = %v, want %v", p.Provenance, domain.ProvenanceWellKnownPort)
	}
}

func TestReconcileImportantPortPrefersExactName(t *testing.T) {
	a := workload("wg-monitor", "example/monitor")
	b := workload("wireguard", "linuxserver/wireguard")
	rec := osPort("wireguard", "udp", "0.0.0.0", 51820, 0)
	rec.Provenance = domain.ProvenanceWellKnownPort

	got := newReconciler().Reconcile(context.Background(), Inputs{
		OS:        []domain.PortRecord{rec},
		Workloads: []domain.Workload{a, b},
	})
	p := findPort(got, 51820, domain.ProtocolUDP)
	if p == nil || p.Owner != "wireguard" {
		t.Errorf("port = %+v, want owner wireguard", p)
	}
}

func TestReconcileAttribution(t *testing.T) {
	hostNet := workload("homeassistant", "ghcr.io/home-assistant/home-assistant")
	hostNet.HostNetwork = true
	plex := workload("plex", "plexinc/pms-docker")
	grafana := workload("grafana", "grafana/grafana")

	resolve := func(_ context.Context, pid int) (domain.Workload, bool) {
		if pid == 77 {
			return plex, true
		}
		return domain.Workload{}, false
	}

	tests := []struct {
		name       string
		rec        domain.PortRecord
		wantOwner  string
		wantSource domain.Source
		wantProv   domain.Provenance
		wantTarget string
	}{
		{
			name:       "pid map",
			rec:        osPort("python3", "tcp", "0.0.0.0", 8123, 42),
			wantOwner:  "homeassistant",
			wantSource: domain.SourceContainer,
			wantProv:   domain.ProvenanceReclassifiedPID,
			wantTarget: hostNet.ShortID() + ":internal(host-net)",
		},
		{
			name:       "pid resolver",
			rec:        osPort("Plex Media Serv", "tcp", "0.0.0.0", 32400, 77),
			wantOwner:  "plex",
			wantSource: domain.SourceContainer,
			wantProv:   domain.ProvenanceReclassifiedCgroup,
			wantTarget: plex.ShortID() + ":internal",
		},
		{
			name:       "owner name",
			rec:        osPort("grafana", "tcp", "0.0.0.0", 3000, 500),
			wantOwner:  "grafana",
			wantSource: domain.SourceContainer,
			wantProv:   domain.ProvenanceHeuristic,
			wantTarget: grafana.ShortID() + ":3000",
		},
		{
			name:       "unmatched stays on host",
			rec:        osPort("sshd", "tcp", "0.0.0.0", 22, 1),
			wantOwner:  "sshd",
			wantSource: domain.SourceOS,
			wantProv:   domain.ProvenanceObserved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Inputs{
				OS:         []domain.PortRecord{tt.rec},
				Workloads:  []domain.Workload{hostNet, plex, grafana},
				ByPID:      map[int]domain.Workload{42: hostNet},
				ResolvePID: resolve,
			}
			got := newReconciler().Reconcile(context.Background(), in)
			if len(got) != 1 {
				t.Fatalf("len(ports) = %d, want 1", len(got))
			}
			p := got[0]
			if p.Owner != tt.wantOwner {
				t.Errorf("Owner = %q, want %q", p.Owner, tt.wantOwner)
			}
			if p.Source != tt.wantSource {
				t.Errorf("Source = %v, want %v", p.Source, tt.wantSource)
			}
			if p.Provenance != tt.wantProv {
				t.Errorf("Provenance = %v, want %v", p.Provenance, tt.wantProv)
			}
			if p.Target != tt.wantTarget {
				t.Errorf("Target = %q, want %q", p.Target, tt.wantTarget)
			}
		})
	}
}

func TestMatchOwner(t *testing.T) {
	tests := []struct {
		name      string
		owner     string
		workloads []domain.Workload
		want      string
	}{
		{"single name match", "grafana", []domain.Workload{workload("grafana", "grafana/grafana"), workload("loki", "grafana/loki")}, "grafana"},
		{"image match", "pms", []domain.Workload{workload("media", "plexinc/pms-docker")}, "media"},
		{"owner contains compact name", "qbittorrent-nox", []domain.Workload{workload("qBittorrent", "linuxserver/qbittorrent")}, "qBittorrent"},
		{"ambiguous", "redis", []domain.Workload{workload("redis-cache", "redis"), workload("redis-queue", "redis")}, ""},
		{"ambiguous with exact name", "redis", []domain.Workload{workload("redis", "redis"), workload("redis-queue", "redis")}, "redis"},
		{"unknown owner", "unknown", []domain.Workload{workload("unknown-app", "x")}, ""},
		{"no match", "sshd", []domain.Workload{workload("web", "nginx")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := MatchOwner(tt.owner, tt.workloads)
			got := ""
			if ok {
				got = w.Name
			}
			if got != tt.want {
				t.Errorf("MatchOwner(%q) = %q, want %q", tt.owner, got, tt.want)
			}
		})
	}
}

func TestReconcileSelfPort(t *testing.T) {
	self := workload("portscope", "ghcr.io/example/portscope:latest")

	t.Run("generic owner is moved to own container", func(t *testing.T) {
		got := newReconciler().Reconcile(context.Background(), Inputs{
			OS:        []domain.PortRecord{osPort("node", "tcp", "0.0.0.0", 4999, 10)},
			Workloads: []domain.Workload{workload("nodered", "nodered/node-red"), self},
		})
		p := findPort(got, 4999, domain.ProtocolTCP)
		if p == nil {
			t.Fatal("4999/tcp missing")
		}
		if p.Owner != "portscope" || p.Source != domain.SourceContainer {
			t.Errorf("port = %s/%s, want portscope/container", p.Owner, p.Source)
		}
	})

	t.Run("hostname prefix", func(t *testing.T) {
		r := newReconciler()
		r.SelfName = "nomatch"
		r.Hostname = self.ShortID()
		got := r.Reconcile(context.Background(), Inputs{
			OS:        []domain.PortRecord{osPort("system", "tcp", "0.0.0.0", 4999, 0)},
			Workloads: []domain.Workload{self},
		})
		if p := findPort(got, 4999, domain.ProtocolTCP); p == nil || p.ContainerID != self.ID {
			t.Errorf("port = %+v, want container %s", p, self.ID)
		}
	})

	t.Run("specific owner is left alone", func(t *testing.T) {
		got := newReconciler().Reconcile(context.Background(), Inputs{
			OS:        []domain.PortRecord{osPort("java", "tcp", "0.0.0.0", 4999, 10)},
			Workloads: []domain.Workload{self},
		})
		if p := findPort(got, 4999, domain.ProtocolTCP); p == nil || p.Source != domain.SourceOS {
			t.Errorf("port = %+v, want host record", p)
		}
	})
	t.Run("logs only in debug mode", func(t *testing.T) {
		var buf bytes.Buffer
		log.SetOutput(&buf)
		defer log.SetOutput(os.Stderr)

		in := Inputs{
			OS:        []domain.PortRecord{osPort("node", "tcp", "0.0.0.0", 4999, 10)},
			Workloads: []domain.Workload{self},
		}
		newReconciler().Reconcile(context.Background(), in)
		if buf.Len() != 0 {
			t.Errorf("quiet pass logged %q", buf.String())
		}

		r := newReconciler()
		r.Debug = true
		r.Reconcile(context.Background(), in)
		if !strings.Contains(buf.String(), "own port 4999") {
			t.Errorf("debug pass log = %q, want own port line", buf.String())
		}
	})
}

func TestReconcileUDPFilter(t *testing.T) {
	in := Inputs{
		OS: []domain.PortRecord{
			osPort("avahi-daemon", "udp", "0.0.0.0", 5353, 300),
			osPort("dnsmasq", "udp", "0.0.0.0", 53, 301),
			osPort("sshd", "tcp", "0.0.0.0", 22, 1),
		},
	}

	tests := []struct {
		name       string
		includeUDP bool
		wantMDNS   bool
	}{
		{"default drops unimportant udp", false, false},
		{"include udp keeps all", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReconciler()
			r.IncludeUDP = tt.includeUDP
			got := r.Reconcile(context.Background(), in)

			if present := findPort(got, 5353, domain.ProtocolUDP) != nil; present != tt.wantMDNS {
				t.Errorf("5353/udp present = %v, want %v", present, tt.wantMDNS)
			}
			if findPort(got, 53, domain.ProtocolUDP) == nil {
				t.Error("53/udp should always be kept")
			}
			if findPort(got, 22, domain.ProtocolTCP) == nil {
				t.Error("22/tcp should always be kept")
			}
		})
	}
}

func TestReconcileCollapsesHostBinds(t *testing.T) {
	got := newReconciler().Reconcile(context.Background(), Inputs{
		OS: []domain.PortRecord{
			osPort("sshd", "tcp", "127.0.0.1", 22, 1),
			osPort("sshd", "tcp", "0.0.0.0", 22, 1),
			osPort("sshd", "tcp", "10.0.0.5", 22, 1),
		},
	})
	if len(got) != 1 {
		t.Fatalf("len(ports) = %d, want 1: %+v", len(got), got)
	}
	if got[0].HostIP != domain.WildcardIP {
		t.Errorf("HostIP = %q, want %q", got[0].HostIP, domain.WildcardIP)
	}
}

func TestReconcileKeepsPIDAttributedBind(t *testing.T) {
	edge := workload("edge-proxy", "nginx:1.27")
	edge.HostNetwork = true
	in := Inputs{
		OS: []domain.PortRecord{
			osPort("nginx", "tcp", "127.0.0.1", 80, 100),
			osPort("nginx", "tcp", "10.0.0.5", 80, 200),
		},
		Workloads: []domain.Workload{edge},
		ByPID:     map[int]domain.Workload{200: edge},
	}

	got := newReconciler().Reconcile(context.Background(), in)
	if len(got) != 2 {
		t.Fatalf("len(ports) = %d, want 2: %+v", len(got), got)
	}
	var bind *domain.PortRecord
	for i := range got {
		if got[i].HostIP == "10.0.0.5" {
			bind = &got[i]
		}
	}
	if bind == nil {
		t.Fatalf("10.0.0.5:80 missing: %+v", got)
	}
	if bind.PID != 200 || bind.Source != domain.SourceContainer || bind.ContainerID != edge.ID {
		t.Errorf("10.0.0.5:80 = pid %d %s/%s, want pid 200 container %s", bind.PID, bind.Source, bind.ContainerID, edge.ID)
	}
	if bind.Provenance != domain.ProvenanceReclassifiedPID {
		t.Errorf("Provenance = %v, want %v", bind.Provenance, domain.ProvenanceReclassifiedPID)
	}
}

func TestReconcileCollapsesIntoPublishedBinding(t *testing.T) {
	web := workload("web", "nginx:alpine")
	in := Inputs{
		Container: []domain.PortRecord{published(web, "tcp", 8080)},
		OS: []domain.PortRecord{
			osPort("docker-proxy", "tcp", "127.0.0.1", 8080, 2000),
			osPort("docker-proxy", "tcp", "0.0.0.0", 8080, 2000),
		},
		Workloads: []domain.Workload{web},
	}

	got := newReconciler().Reconcile(context.Background(), in)
	if len(got) != 1 {
		t.Fatalf("len(ports) = %d, want 1: %+v", len(got), got)
	}
	if got[0].Source != domain.SourceContainer || got[0].PID != 2000 {
		t.Errorf("port = %s pid %d, want container pid 2000", got[0].Source, got[0].PID)
	}
}

func TestReconcileInvariants(t *testing.T) {
	web := workload("web", "nginx")
	db := workload("db", "postgres:16")

	in := Inputs{
		Container: []domain.PortRecord{
			published(web, "tcp", 8080),
			published(web, "tcp", 8443),
			published(db, "tcp", 5432),
		},
		OS: []domain.PortRecord{
			osPort("docker-proxy", "tcp", "0.0.0.0", 8080, 900),
			osPort("postgres", "tcp", "0.0.0.0", 5432, 901),
			osPort("sshd", "tcp", "0.0.0.0", 22, 1),
			osPort("cupsd", "tcp", "127.0.0.1", 631, 55),
		},
		Workloads: []domain.Workload{web, db},
	}
	got := newReconciler().Reconcile(context.Background(), in)

	t.Run("unique keys", func(t *testing.T) {
		seen := make(map[string]bool)
		for _, p := range got {
			if seen[p.Key()] {
				t.Errorf("duplicate key %s", p.Key())
			}
			seen[p.Key()] = true
		}
	})

	t.Run("container records stay container", func(t *testing.T) {
		for _, c := range in.Container {
			p := findPort(got, c.HostPort, c.Protocol)
			if p == nil {
				t.Errorf("port %d missing", c.HostPort)
				continue
			}
			if p.Source != domain.SourceContainer || p.ContainerID != c.ContainerID {
				t.Errorf("port %d = %s/%s, want container %s", c.HostPort, p.Source, p.ContainerID, c.ContainerID)
			}
		}
	})

	t.Run("sorted by port", func(t *testing.T) {
		for i := 1; i < len(got); i++ {
			if got[i-1].HostPort > got[i].HostPort {
				t.Errorf("ports out of order: %d before %d", got[i-1].HostPort, got[i].HostPort)
			}
		}
	})

	t.Run("output is normalized", func(t *testing.T) {
		for _, p := range got {
			n, err := p.Normalize()
			if err != nil {
				t.Fatalf("Normalize(%d) error: %v", p.HostPort, err)
			}
			if n.Key() != p.Key() || n.Owner != p.Owner || n.PID != p.PID {
				t.Errorf("record %d changed on renormalize", p.HostPort)
			}
		}
	})
}

func TestMergeSupplemental(t *testing.T) {
	base := []domain.PortRecord{osPort("sshd", "tcp", "0.0.0.0", 22, 1)}
	extra := []domain.PortRecord{
		{Source: domain.SourceHypervisor, Owner: "nextcloud", Protocol: domain.ProtocolTCP, HostIP: "0.0.0.0", HostPort: 22},
		{Source: domain.SourceHypervisor, Owner: "nextcloud", Protocol: domain.ProtocolTCP, HostIP: "0.0.0.0", HostPort: 9001},
		{Source: domain.SourceHypervisor, Owner: "broken", HostPort: 0},
	}

	got := MergeSupplemental(base, extra)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Owner != "sshd" {
		t.Errorf("existing key replaced: owner = %q", got[0].Owner)
	}
	if got[1].HostPort != 9001 || got[1].Source != domain.SourceHypervisor {
		t.Errorf("supplemental = %+v, want 9001 from hypervisor", got[1])
	}
}

func TestDiffPorts(t *testing.T) {
	web := workload("web", "nginx")
	prev := []domain.PortRecord{
		osPort("sshd", "tcp", "0.0.0.0", 22, 1),
		osPort("python3", "tcp", "0.0.0.0", 8000, 10),
	}
	moved := osPort("python3", "tcp", "0.0.0.0", 8000, 10)
	moved.AttributeTo(web, domain.ProvenanceReclassifiedPID)
	next := []domain.PortRecord{
		moved,
		osPort("nginx", "tcp", "0.0.0.0", 443, 20),
	}

	counts := make(map[EventType]int)
	for _, e := range DiffPorts(prev, next) {
		counts[e.Type]++
	}
	want := map[EventType]int{
		EventPortOpened:       1,
		EventPortClosed:       1,
		EventPortReattributed: 1,
	}
	for typ, n := range want {
		if counts[typ] != n {
			t.Errorf("%s events = %d, want %d", typ, counts[typ], n)
		}
	}
}
