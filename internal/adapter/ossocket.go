package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"

	"portscope/internal/config"
	"portscope/internal/domain"
)

// OSSockets enumerates listening sockets through an ordered chain of tiers.
// The first tier that yields usable output wins.
type OSSockets struct {
	Runner CommandRunner
	Procfs ProcNet
	Procs  ProcessLookup
	Probes config.ProbesConfig

	// Containerized enables the nsenter tier
	Containerized bool
	// MinProcEntries is the smallest procfs result accepted
	MinProcEntries int
	// NsenterMinBytes is the smallest nsenter output accepted
	NsenterMinBytes int
	// GOOS selects the tier chain; empty means runtime.GOOS
	GOOS  string
	Debug bool
}

type socketTier struct {
	name string
	run  func(ctx context.Context) ([]domain.PortRecord, error)
}

// NewOSSockets builds the socket enumerator from config
func NewOSSockets(cfg *config.Config, runner CommandRunner, procs ProcessLookup) *OSSockets {
	return &OSSockets{
		Runner:          runner,
		Procfs:          ProcNet{Root: cfg.OS.ProcRoot},
		Procs:           procs,
		Probes:          cfg.Probes,
		Containerized:   cfg.Containerized(),
		MinProcEntries:  cfg.OS.ProcMinEntries,
		NsenterMinBytes: cfg.OS.NsenterMinBytes,
		Debug:           cfg.Debug,
	}
}

// Ports runs the tier chain. A tier that errors, times out, or returns too
// little is logged and the next one is tried. When every tier fails the
// returned error wraps ErrAllTiersFailed and each tier's error.
func (s *OSSockets) Ports(ctx context.Context) ([]domain.PortRecord, error) {
	tiers := s.tiers()
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers enabled", ErrAllTiersFailed)
	}

	var errs []error
	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ports, err := t.run(ctx)
		if err != nil {
			log.Printf("OS sockets: tier %s failed: %v", t.name, err)
			if t.name == MethodNsenterHost && permissionDenied(err) {
				log.Printf("OS sockets: nsenter needs pid: host and cap_add: [SYS_ADMIN] to reach the host network namespace")
			}
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		s.logf("OS sockets: tier %s found %d ports", t.name, len(ports))
		stampStartTimes(ctx, s.Procs, ports)
		return ports, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrAllTiersFailed, errors.Join(errs...))
}

func (s *OSSockets) tiers() []socketTier {
	goos := s.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos == "windows" {
		return s.windowsTiers()
	}
	return s.linuxTiers()
}

func (s *OSSockets) linuxTiers() []socketTier {
	var tiers []socketTier

	if s.Containerized && !s.Probes.Nsenter.Disabled && !s.Probes.SS.Disabled {
		tiers = append(tiers, socketTier{MethodNsenterHost, func(ctx context.Context) ([]domain.PortRecord, error) {
			out, err := s.Runner.Run(ctx, s.Probes.Nsenter.BinaryPath, "-t", "1", "-n", s.Probes.SS.BinaryPath, "-tulpn")
			if err != nil {
				return nil, err
			}
			if n := len(strings.TrimSpace(string(out))); n < s.NsenterMinBytes {
				return nil, fmt.Errorf("%w: %d bytes of output", ErrTooFewEntries, n)
			}
			return ParseSS(string(out), MethodNsenterHost), nil
		}})
	}

	if !s.Probes.SS.Disabled {
		method := MethodLocal
		if s.Containerized {
			method = MethodContainer
		}
		tiers = append(tiers, socketTier{method, func(ctx context.Context) ([]domain.PortRecord, error) {
			out, err := s.Runner.Run(ctx, s.Probes.SS.BinaryPath, "-tulpn")
			if err != nil {
				return nil, err
			}
			return nonEmpty(ParseSS(string(out), method))
		}})
	}

	if !s.Probes.Procfs.Disabled {
		tiers = append(tiers, socketTier{MethodProcfs, func(context.Context) ([]domain.PortRecord, error) {
			ports, err := s.Procfs.Listeners()
			if err != nil {
				return nil, err
			}
			if len(ports) < s.MinProcEntries {
				return nil, fmt.Errorf("%w: %d entries, need %d", ErrTooFewEntries, len(ports), s.MinProcEntries)
			}
			return ports, nil
		}})
	}

	if !s.Probes.Netstat.Disabled {
		tiers = append(tiers, socketTier{MethodNetstat, func(ctx context.Context) ([]domain.PortRecord, error) {
			out, err := s.Runner.Run(ctx, s.Probes.Netstat.BinaryPath, "-tulpn")
			if err != nil {
				return nil, err
			}
			return nonEmpty(ParseNetstat(string(out), MethodNetstat))
		}})
	}

	return tiers
}

func (s *OSSockets) windowsTiers() []socketTier {
	if s.Probes.Netstat.Disabled {
		return nil
	}
	run := func(args ...string) func(ctx context.Context) ([]domain.PortRecord, error) {
		return func(ctx context.Context) ([]domain.PortRecord, error) {
			out, err := s.Runner.Run(ctx, s.Probes.Netstat.BinaryPath, args...)
			if err != nil {
				return nil, err
			}
			return nonEmpty(ParseWindowsNetstat(string(out)))
		}
	}
	return []socketTier{
		{MethodWindows, run("-ano")},
		{MethodWindows + "-nopid", run("-an")},
	}
}

func nonEmpty(ports []domain.PortRecord) ([]domain.PortRecord, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: no listening sockets parsed", ErrTooFewEntries)
	}
	return ports, nil
}

func permissionDenied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "operation not permitted")
}

func (s *OSSockets) logf(format string, args ...any) {
	if s.Debug {
		log.Printf(format, args...)
	}
}
