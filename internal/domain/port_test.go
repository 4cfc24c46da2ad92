package domain

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		raw       RawPort
		wantIP    string
		wantPort  int
		wantPID   int
		wantPIDs  []int
		wantProto Protocol
		wantOwner string
	}{
		{
			name:      "defaults applied",
			raw:       RawPort{HostPort: "8080"},
			wantIP:    WildcardIP,
			wantPort:  8080,
			wantPIDs:  []int{},
			wantProto: ProtocolTCP,
			wantOwner: UnknownOwner,
		},
		{
			name:      "explicit pid becomes primary",
			raw:       RawPort{HostIP: "127.0.0.1", HostPort: "5432", PID: "44", PIDs: []string{"12"}, Protocol: "tcp", Owner: "postgres"},
			wantIP:    "127.0.0.1",
			wantPort:  5432,
			wantPID:   44,
			wantPIDs:  []int{44, 12},
			wantProto: ProtocolTCP,
			wantOwner: "postgres",
		},
		{
			name:      "invalid pids dropped and first valid promoted",
			raw:       RawPort{HostIP: "::", HostPort: "53", PID: "abc", PIDs: []string{"-3", "x", "12", "0", "12"}, Protocol: "UDP"},
			wantIP:    WildcardIP,
			wantPort:  53,
			wantPID:   12,
			wantPIDs:  []int{12},
			wantProto: ProtocolUDP,
			wantOwner: UnknownOwner,
		},
		{
			name:      "tcp6 folds to tcp",
			raw:       RawPort{HostIP: "[::]", HostPort: " 443 ", Protocol: "tcp6"},
			wantIP:    WildcardIP,
			wantPort:  443,
			wantPIDs:  []int{},
			wantProto: ProtocolTCP,
			wantOwner: UnknownOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got.HostIP != tt.wantIP {
				t.Errorf("HostIP = %q, want %q", got.HostIP, tt.wantIP)
			}
			if got.HostPort != tt.wantPort {
				t.Errorf("HostPort = %d, want %d", got.HostPort, tt.wantPort)
			}
			if got.PID != tt.wantPID {
				t.Errorf("PID = %d, want %d", got.PID, tt.wantPID)
			}
			if !reflect.DeepEqual(got.PIDs, tt.wantPIDs) {
				t.Errorf("PIDs = %v, want %v", got.PIDs, tt.wantPIDs)
			}
			if got.Protocol != tt.wantProto {
				t.Errorf("Protocol = %s, want %s", got.Protocol, tt.wantProto)
			}
			if got.Owner != tt.wantOwner {
				t.Errorf("Owner = %q, want %q", got.Owner, tt.wantOwner)
			}
			if got.Provenance != ProvenanceObserved {
				t.Errorf("Provenance = %s, want %s", got.Provenance, ProvenanceObserved)
			}
		})
	}
}

func TestNormalizeRejectsInvalidPorts(t *testing.T) {
	for _, port := range []string{"", "0", "-1", "65536", "70000", "http", "12ab"} {
		t.Run(port, func(t *testing.T) {
			_, err := Normalize(RawPort{HostPort: port})
			if !errors.Is(err, ErrInvalidPort) {
				t.Errorf("Normalize(%q) error = %v, want ErrInvalidPort", port, err)
			}
		})
	}

	t.Run("record method enforces range", func(t *testing.T) {
		if _, err := (PortRecord{HostPort: 0}).Normalize(); !errors.Is(err, ErrInvalidPort) {
			t.Errorf("Normalize() error = %v, want ErrInvalidPort", err)
		}
	})

	t.Run("boundaries accepted", func(t *testing.T) {
		for _, port := range []string{"1", "65535"} {
			if _, err := Normalize(RawPort{HostPort: port}); err != nil {
				t.Errorf("Normalize(%q) error = %v", port, err)
			}
		}
	})
}

func TestNormalizeIdempotent(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	inputs := []RawPort{
		{HostPort: "22", Owner: "sshd", PID: "812"},
		{HostIP: "*", HostPort: "51820", Protocol: "udp", PIDs: []string{"9", "3"}},
		{HostIP: "[::1]", HostPort: "6379", Source: SourceContainer, ContainerID: "abc", Created: &created, Internal: true},
		{HostIP: "10.0.0.5", HostPort: "8443", Provenance: ProvenanceHeuristic},
	}

	for _, raw := range inputs {
		first, err := Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%+v) error = %v", raw, err)
		}
		second, err := first.Normalize()
		if err != nil {
			t.Fatalf("second Normalize() error = %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("Normalize not idempotent:\n first  %+v\n second %+v", first, second)
		}
	}
}

func TestCanonicalHostIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"::", WildcardIP},
		{"[::]", WildcardIP},
		{"*", WildcardIP},
		{"", WildcardIP},
		{"0.0.0.0", WildcardIP},
		{"[::1]", "::1"},
		{"192.168.1.10", "192.168.1.10"},
		{"fe80::1", "fe80::1"},
	}

	for _, tt := range tests {
		if got := CanonicalHostIP(tt.in); got != tt.want {
			t.Errorf("CanonicalHostIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPortRecordKey(t *testing.T) {
	published := PortRecord{HostIP: WildcardIP, HostPort: 8080, Protocol: ProtocolTCP, ContainerID: "abc"}
	internal := PortRecord{HostIP: WildcardIP, HostPort: 8080, Protocol: ProtocolTCP, ContainerID: "abc", Internal: true}
	otherInternal := PortRecord{HostIP: WildcardIP, HostPort: 8080, Protocol: ProtocolTCP, ContainerID: "def", Internal: true}
	udp := PortRecord{HostIP: WildcardIP, HostPort: 8080, Protocol: ProtocolUDP}

	if published.Key() == internal.Key() {
		t.Error("internal record must not share a key with a published binding")
	}
	if internal.Key() == otherInternal.Key() {
		t.Error("internal records of different containers must not collide")
	}
	if published.Key() == udp.Key() {
		t.Error("tcp and udp bindings must not collide")
	}
	if got := (PortRecord{HostIP: WildcardIP, HostPort: 8080, Protocol: ProtocolTCP}).Key(); got != published.Key() {
		t.Errorf("published key should ignore container id, got %q want %q", got, published.Key())
	}
}

func TestAttributeTo(t *testing.T) {
	created := time.Now()
	rec := PortRecord{Source: SourceOS, Owner: "node", HostIP: WildcardIP, HostPort: 3000, Protocol: ProtocolTCP}
	w := Workload{ID: "0123456789abcdef", Name: "web", ComposeProject: "stack", Created: &created}

	rec.AttributeTo(w, ProvenanceReclassifiedPID)

	if rec.Source != SourceContainer {
		t.Errorf("Source = %s, want %s", rec.Source, SourceContainer)
	}
	if rec.Owner != "web" || rec.ContainerID != w.ID || rec.AppID != w.ID {
		t.Errorf("identity not copied: %+v", rec)
	}
	if rec.Target != "0123456789ab:3000" {
		t.Errorf("Target = %q, want %q", rec.Target, "0123456789ab:3000")
	}
	if rec.ComposeProject != "stack" {
		t.Errorf("ComposeProject = %q, want stack", rec.ComposeProject)
	}
	if rec.Created != &created {
		t.Error("Created should come from the workload")
	}
	if rec.Provenance != ProvenanceReclassifiedPID {
		t.Errorf("Provenance = %s, want %s", rec.Provenance, ProvenanceReclassifiedPID)
	}
}

func TestHasPID(t *testing.T) {
	rec := PortRecord{PID: 10, PIDs: []int{10, 20}}
	if !rec.HasPID(10) || !rec.HasPID(20) {
		t.Error("expected pids 10 and 20 to match")
	}
	if rec.HasPID(30) || rec.HasPID(0) {
		t.Error("unexpected pid match")
	}
}
