package adapter

import "portscope/internal/domain"

// Detection methods reported by the socket tiers
const (
	MethodNsenterHost = "nsenter-host"
	MethodLocal       = "local"
	MethodContainer   = "container"
	MethodProcfs      = "procfs"
	MethodNetstat     = "netstat"
	MethodWindows     = "netstat-windows"
)

// wellKnownOwners maps ports to the daemon that usually owns them. It is
// consulted only when the socket table gave no process name.
var wellKnownOwners = map[int]string{
	22:    "sshd",
	23:    "telnetd",
	25:    "postfix",
	67:    "dnsmasq",
	68:    "dhclient",
	80:    "nginx",
	110:   "dovecot",
	123:   "chronyd",
	137:   "nmbd",
	138:   "nmbd",
	139:   "smbd",
	143:   "dovecot",
	161:   "snmpd",
	162:   "snmpd",
	389:   "slapd",
	443:   "nginx",
	445:   "smbd",
	500:   "strongswan",
	514:   "rsyslogd",
	587:   "postfix",
	636:   "slapd",
	993:   "dovecot",
	995:   "dovecot",
	1194:  "openvpn",
	1433:  "sqlservr",
	3306:  "mysqld",
	4500:  "strongswan",
	5432:  "postgres",
	6379:  "redis-server",
	8080:  "nginx",
	8443:  "nginx",
	51820: "wireguard",
	51821: "wg-easy",
	51822: "wireguard",
}

// InferOwner guesses the owner of an anonymous socket from its port, falling
// back to a generic bucket named after where the socket was seen.
func InferOwner(port int, proto domain.Protocol, method string) string {
	if port == 53 {
		if proto == domain.ProtocolUDP {
			return "dnsmasq"
		}
		return "named"
	}
	if name, ok := wellKnownOwners[port]; ok {
		return name
	}

	switch {
	case method == MethodNsenterHost && port >= 8000 && port <= 9000:
		return "docker-proxy"
	case port < 1024:
		return "system-service"
	case method == MethodContainer:
		return "container-service"
	default:
		return "host-service"
	}
}
