package adapter

import (
	"regexp"
	"strconv"
	"strings"

	"portscope/internal/domain"
)

var (
	bracketedAddr = regexp.MustCompile(`^\[(.+)\]:(\d+)$`)
	ssUserTuple   = regexp.MustCompile(`"([^"]+)",pid=(\d+)`)
	netstatOwner  = regexp.MustCompile(`^(\d+)/(.+)$`)
)

// dockerDaemon is the process name that owns published ports when the
// userland proxy is disabled
const dockerDaemon = "dockerd"

// socketEntry is one listening row before normalization
type socketEntry struct {
	proto string
	addr  string
	owner string
	pids  []string
}

// ParseSS parses `ss -tulpn` output. Rows that are not listening sockets or
// whose address does not parse are skipped.
func ParseSS(output, method string) []domain.PortRecord {
	var entries []socketEntry
	for _, line := range dataLines(output, 1) {
		cols := strings.Fields(line)
		if len(cols) < 5 {
			continue
		}
		proto := strings.ToLower(cols[0])
		if !listening(proto, cols[1], "LISTEN", "UNCONN") {
			continue
		}

		e := socketEntry{proto: proto, addr: cols[4]}
		if len(cols) > 6 && cols[6] != "-" {
			for i, m := range ssUserTuple.FindAllStringSubmatch(strings.Join(cols[6:], " "), -1) {
				if i == 0 {
					e.owner = m[1]
				}
				e.pids = append(e.pids, m[2])
			}
		}
		entries = append(entries, e)
	}
	return buildRecords(entries, method)
}

// ParseNetstat parses `netstat -tulpn` output. UDP rows carry no state
// column, so the owner is looked up from the first PID/Program token.
func ParseNetstat(output, method string) []domain.PortRecord {
	var entries []socketEntry
	for _, line := range dataLines(output, 2) {
		cols := strings.Fields(line)
		if len(cols) < 4 {
			continue
		}
		proto := strings.ToLower(cols[0])
		state := ""
		if len(cols) > 5 {
			state = cols[5]
		}
		if strings.HasPrefix(proto, "tcp") && state != "LISTEN" {
			continue
		}
		if !strings.HasPrefix(proto, "tcp") && !strings.HasPrefix(proto, "udp") {
			continue
		}

		e := socketEntry{proto: proto, addr: cols[3]}
		for _, c := range cols[4:] {
			if m := netstatOwner.FindStringSubmatch(c); m != nil {
				e.owner = strings.TrimSuffix(m[2], ":")
				e.pids = []string{m[1]}
				break
			}
		}
		entries = append(entries, e)
	}
	return buildRecords(entries, method)
}

// ParseWindowsNetstat parses `netstat -ano` output from Windows. Only rows
// in the LISTENING state are kept, so UDP never appears.
func ParseWindowsNetstat(output string) []domain.PortRecord {
	var entries []socketEntry
	for _, line := range dataLines(output, 4) {
		if !strings.Contains(line, "LISTENING") {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) < 4 {
			continue
		}

		e := socketEntry{proto: strings.ToLower(cols[0]), addr: cols[1]}
		pid := cols[len(cols)-1]
		if n, err := strconv.Atoi(pid); err == nil && n > 0 {
			e.owner = "Process (pid " + pid + ")"
			e.pids = []string{pid}
		}
		entries = append(entries, e)
	}
	return buildRecords(entries, MethodWindows)
}

func buildRecords(entries []socketEntry, method string) []domain.PortRecord {
	out := make([]domain.PortRecord, 0, len(entries))
	for _, e := range entries {
		host, port, ok := SplitHostPort(e.addr)
		if !ok {
			continue
		}

		raw := domain.RawPort{
			Source:   domain.SourceOS,
			Owner:    e.owner,
			Protocol: e.proto,
			HostIP:   host,
			HostPort: port,
			PIDs:     e.pids,
		}
		if len(e.pids) > 0 {
			raw.PID = e.pids[0]
		}

		if e.owner == dockerDaemon {
			raw.Source = domain.SourceContainer
			raw.Owner = domain.UnknownOwner
		}

		rec, err := domain.Normalize(raw)
		if err != nil {
			continue
		}
		if rec.Owner == domain.UnknownOwner && rec.Source == domain.SourceOS {
			rec.Owner = InferOwner(rec.HostPort, rec.Protocol, method)
			rec.Provenance = domain.ProvenanceWellKnownPort
		}
		out = append(out, rec)
	}
	return out
}

// SplitHostPort splits a socket-table local address. It accepts
// "[addr]:port", "addr:port" split on the last colon, and drops an
// interface zone such as "%lo".
func SplitHostPort(addr string) (host, port string, ok bool) {
	if m := bracketedAddr.FindStringSubmatch(addr); m != nil {
		host, port = m[1], m[2]
	} else {
		i := strings.LastIndex(addr, ":")
		if i < 0 {
			return "", "", false
		}
		host, port = addr[:i], addr[i+1:]
	}

	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	if host == "*" {
		host = domain.WildcardIP
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", "", false
	}
	return host, port, true
}

func listening(proto, state, tcpState, udpState string) bool {
	switch {
	case strings.HasPrefix(proto, "tcp"):
		return state == tcpState
	case strings.HasPrefix(proto, "udp"):
		return state == udpState
	}
	return false
}

func dataLines(output string, skip int) []string {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if len(lines) <= skip {
		return nil
	}
	out := make([]string, 0, len(lines)-skip)
	for _, l := range lines[skip:] {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
