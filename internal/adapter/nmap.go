package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"portscope/internal/domain"
)

// scanFunc runs one nmap invocation. Swapped in tests.
type scanFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error)

// NmapVerifier confirms reconciled TCP listeners from the outside with a
// connect scan against a single target address
type NmapVerifier struct {
	target           string
	binaryPath       string
	timeout          time.Duration
	serviceDetection bool
	scan             scanFunc
}

// Verification is the scan outcome for one host port
type Verification struct {
	Port      int           `json:"port"`
	Owner     string        `json:"owner"`
	Source    domain.Source `json:"source"`
	Confirmed bool          `json:"confirmed"`
	State     string        `json:"state"`
	Service   string        `json:"service,omitempty"`
	Product   string        `json:"product,omitempty"`
}

// VerifyReport summarizes one verification run
type VerifyReport struct {
	Target      string         `json:"target"`
	Results     []Verification `json:"results"`
	Confirmed   int            `json:"confirmed"`
	Unconfirmed int            `json:"unconfirmed"`
	Skipped     int            `json:"skipped"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// NewNmapVerifier creates a verifier. The defaults scan 127.0.0.1 with a
// two minute budget and no service detection.
func NewNmapVerifier(opts ...VerifierOption) *NmapVerifier {
	v := &NmapVerifier{
		target:     "127.0.0.1",
		binaryPath: "nmap",
		timeout:    2 * time.Minute,
		scan:       runNmap,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func runNmap(ctx context.Context, opts ...nmap.Option) (*nmap.Run, []string, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	result, warnings, err := scanner.Run()
	var w []string
	if warnings != nil {
		w = *warnings
	}
	return result, w, err
}

// Verify scans every TCP listener that the target address can reach and
// reports which ones answered. UDP records and binds on other addresses are
// counted as skipped.
func (v *NmapVerifier) Verify(ctx context.Context, ports []domain.PortRecord) (*VerifyReport, error) {
	report := &VerifyReport{Target: v.target}

	owners := make(map[int]domain.PortRecord)
	for _, p := range ports {
		if p.Protocol != domain.ProtocolTCP || !reachable(p.HostIP, v.target) {
			report.Skipped++
			continue
		}
		if _, seen := owners[p.HostPort]; !seen {
			owners[p.HostPort] = p
		}
	}
	if len(owners) == 0 {
		return report, nil
	}

	numbers := make([]int, 0, len(owners))
	for port := range owners {
		numbers = append(numbers, port)
	}
	sort.Ints(numbers)
	portList := make([]string, len(numbers))
	for i, n := range numbers {
		portList[i] = strconv.Itoa(n)
	}
	spec, err := parsePorts(strings.Join(portList, ","))
	if err != nil {
		return nil, err
	}

	opts := []nmap.Option{
		nmap.WithBinaryPath(v.binaryPath),
		nmap.WithTargets(v.target),
		nmap.WithPorts(spec),
		nmap.WithConnectScan(),
		nmap.WithSkipHostDiscovery(),
	}
	if v.serviceDetection {
		opts = append(opts, nmap.WithServiceInfo())
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	log.Printf("Nmap: verifying %d TCP listeners on %s", len(numbers), v.target)
	result, warnings, err := v.scan(ctx, opts...)
	if err != nil {
		if errors.Is(err, nmap.ErrNmapNotInstalled) {
			err = fmt.Errorf("%w: %v", ErrToolMissing, err)
		}
		return nil, toolError("nmap", err)
	}
	if len(warnings) > 0 {
		log.Printf("Nmap: warnings for %s: %v", v.target, warnings)
	}
	report.Warnings = warnings

	scanned := scannedPorts(result)
	for _, n := range numbers {
		rec := owners[n]
		out := Verification{Port: n, Owner: rec.Owner, Source: rec.Source, State: "unknown"}
		if sp, ok := scanned[n]; ok {
			out.State = sp.State.State
			out.Confirmed = sp.State.State == "open"
			out.Service = sp.Service.Name
			out.Product = sp.Service.Product
		}
		if out.Confirmed {
			report.Confirmed++
		} else {
			report.Unconfirmed++
		}
		report.Results = append(report.Results, out)
	}

	log.Printf("Nmap: %d confirmed, %d unconfirmed, %d skipped",
		report.Confirmed, report.Unconfirmed, report.Skipped)
	return report, nil
}

// scannedPorts flattens the TCP ports of every host that was up
func scannedPorts(result *nmap.Run) map[int]nmap.Port {
	out := make(map[int]nmap.Port)
	if result == nil {
		return out
	}
	for _, host := range result.Hosts {
		if host.Status.State != "" && host.Status.State != "up" {
			continue
		}
		for _, p := range host.Ports {
			if p.Protocol != "tcp" {
				continue
			}
			out[int(p.ID)] = p
		}
	}
	return out
}

// reachable reports whether a listener bound to hostIP answers on target
func reachable(hostIP, target string) bool {
	if domain.IsWildcard(hostIP) {
		return true
	}
	bound := net.ParseIP(strings.Trim(hostIP, "[]"))
	dest := net.ParseIP(target)
	if bound == nil || dest == nil {
		return hostIP == target
	}
	if bound.Equal(dest) {
		return true
	}
	return bound.IsLoopback() && dest.IsLoopback()
}

// parsePorts validates an nmap port list
// Supported: "80,443,8080" or "1-1000" or "22,80-443,8080"
func parsePorts(portRange string) (string, error) {
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, isRange := strings.Cut(part, "-"); isRange {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil || start < 1 || start > 65535 {
				return "", fmt.Errorf("invalid port number: %s", lo)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || end < 1 || end > 65535 || end < start {
				return "", fmt.Errorf("invalid port number: %s", hi)
			}
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return "", fmt.Errorf("invalid port number: %s", part)
		}
	}
	return portRange, nil
}
