package adapter

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"portscope/internal/domain"
)

const (
	procStateListen   = "0A"
	procStateUnconned = "07"
)

// ProcNet reads listening sockets straight from a procfs mount and maps
// each socket inode back to the process holding it
type ProcNet struct {
	Root string
}

type procSocket struct {
	proto string
	addr  string
}

// Listeners returns every listening socket. It fails only when none of the
// socket tables could be read.
func (p ProcNet) Listeners() ([]domain.PortRecord, error) {
	root := p.Root
	if root == "" {
		root = "/proc"
	}

	sockets := make(map[string]procSocket)
	var readable int
	for _, table := range []struct {
		file  string
		proto string
		v6    bool
	}{
		{"tcp", "tcp", false},
		{"tcp6", "tcp6", true},
		{"udp", "udp", false},
		{"udp6", "udp6", true},
	} {
		if err := readSocketTable(filepath.Join(root, "net", table.file), table.proto, table.v6, sockets); err != nil {
			continue
		}
		readable++
	}
	if readable == 0 {
		return nil, fmt.Errorf("no socket tables readable under %s/net", root)
	}

	owners := inodeOwners(root, sockets)

	entries := make([]socketEntry, 0, len(sockets))
	for inode, s := range sockets {
		e := socketEntry{proto: s.proto, addr: s.addr}
		if o, ok := owners[inode]; ok {
			e.owner = o.name
			e.pids = []string{strconv.Itoa(o.pid)}
		}
		entries = append(entries, e)
	}
	return buildRecords(entries, MethodProcfs), nil
}

func readSocketTable(path, proto string, v6 bool, into map[string]procSocket) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	udp := strings.HasPrefix(proto, "udp")
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		state := fields[3]
		if (udp && state != procStateUnconned) || (!udp && state != procStateListen) {
			continue
		}
		ip, port, ok := decodeProcAddr(fields[1], v6)
		if !ok {
			continue
		}
		inode := fields[9]
		if inode == "0" {
			continue
		}
		into[inode] = procSocket{
			proto: proto,
			addr:  net.JoinHostPort(ip, strconv.Itoa(port)),
		}
	}
	return scanner.Err()
}

// decodeProcAddr decodes "0100007F:1F90" style addresses. The kernel writes
// each 32-bit word in host (little-endian) order.
func decodeProcAddr(raw string, v6 bool) (string, int, bool) {
	ipHex, portHex, found := strings.Cut(raw, ":")
	if !found {
		return "", 0, false
	}
	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return "", 0, false
	}
	b, err := hex.DecodeString(ipHex)
	if err != nil {
		return "", 0, false
	}

	want := net.IPv4len
	if v6 {
		want = net.IPv6len
	}
	if len(b) != want {
		return "", 0, false
	}

	ip := make(net.IP, len(b))
	for word := 0; word < len(b)/4; word++ {
		for i := 0; i < 4; i++ {
			ip[word*4+i] = b[word*4+3-i]
		}
	}
	if ip.IsUnspecified() {
		return domain.WildcardIP, int(port), true
	}
	return ip.String(), int(port), true
}

type procOwner struct {
	pid  int
	name string
}

// inodeOwners walks <root>/<pid>/fd and resolves socket:[inode] links. The
// lowest pid wins when several processes share a socket.
func inodeOwners(root string, sockets map[string]procSocket) map[string]procOwner {
	owners := make(map[string]procOwner)

	dirs, err := os.ReadDir(root)
	if err != nil {
		return owners
	}
	for _, d := range dirs {
		pid, err := strconv.Atoi(d.Name())
		if err != nil || pid <= 0 {
			continue
		}
		fdDir := filepath.Join(root, d.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}

		var name string
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil || !strings.HasPrefix(link, "socket:[") {
				continue
			}
			inode := strings.TrimSuffix(strings.TrimPrefix(link, "socket:["), "]")
			if _, ok := sockets[inode]; !ok {
				continue
			}
			if cur, ok := owners[inode]; ok && cur.pid < pid {
				continue
			}
			if name == "" {
				name = processComm(root, pid)
			}
			owners[inode] = procOwner{pid: pid, name: name}
		}
	}
	return owners
}

func processComm(root string, pid int) string {
	data, err := os.ReadFile(filepath.Join(root, strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
