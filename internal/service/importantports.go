package service

import (
	"strings"

	"portscope/internal/domain"
)

// ImportantPort is a service port that is always reported and that gets a
// second attribution attempt by searching container names and images
type ImportantPort struct {
	Service  string
	Protocol domain.Protocol
	// NameTokens are searched in container names, ImageTokens in images
	NameTokens  []string
	ImageTokens []string
	// Preferred names win when several containers match
	Preferred []string
}

var (
	wireguard = ImportantPort{
		Service:     "WireGuard",
		Protocol:    domain.ProtocolUDP,
		NameTokens:  []string{"wireguard", "wg-", "wg_"},
		ImageTokens: []string{"wireguard", "wg-easy"},
		Preferred:   []string{"wg-easy", "wireguard"},
	}
	ipsec = ImportantPort{
		Protocol:    domain.ProtocolUDP,
		NameTokens:  []string{"strongswan", "ipsec"},
		ImageTokens: []string{"strongswan", "ipsec"},
		Preferred:   []string{"strongswan", "ipsec"},
	}
	openvpn = ImportantPort{
		Service:     "OpenVPN",
		Protocol:    domain.ProtocolUDP,
		NameTokens:  []string{"openvpn", "ovpn"},
		ImageTokens: []string{"openvpn"},
		Preferred:   []string{"openvpn"},
	}
	dns = ImportantPort{
		Service:     "DNS",
		Protocol:    domain.ProtocolUDP,
		NameTokens:  []string{"pihole", "pi-hole", "adguard", "dnsmasq", "unbound", "coredns", "bind"},
		ImageTokens: []string{"pihole", "pi-hole", "adguard", "dnsmasq", "unbound", "coredns", "bind9"},
		Preferred:   []string{"pihole", "pi-hole", "adguardhome", "adguard"},
	}
	dhcp = ImportantPort{
		Service:     "DHCP",
		Protocol:    domain.ProtocolUDP,
		NameTokens:  []string{"kea", "dhcp", "dnsmasq", "pihole"},
		ImageTokens: []string{"kea", "dhcp", "dnsmasq", "pihole"},
		Preferred:   []string{"kea", "dhcpd"},
	}
)

var importantPorts = map[int]ImportantPort{
	51820: wireguard,
	51821: withService(withProtocol(wireguard, domain.ProtocolTCP), "WireGuard-UI"),
	51822: wireguard,
	500:   withService(ipsec, "IPsec IKE"),
	4500:  withService(ipsec, "IPsec NAT-T"),
	1194:  openvpn,
	1198:  openvpn,
	53:    dns,
	67:    dhcp,
	68:    dhcp,
}

func withProtocol(p ImportantPort, proto domain.Protocol) ImportantPort {
	p.Protocol = proto
	return p
}

func withService(p ImportantPort, name string) ImportantPort {
	p.Service = name
	return p
}

// LookupImportant returns the table entry for port when its protocol matches
func LookupImportant(port int, proto domain.Protocol) (ImportantPort, bool) {
	p, ok := importantPorts[port]
	if !ok || p.Protocol != proto {
		return ImportantPort{}, false
	}
	return p, true
}

// Candidates returns the workloads whose name or image carries a service token
func (p ImportantPort) Candidates(workloads []domain.Workload) []domain.Workload {
	var out []domain.Workload
	for _, w := range workloads {
		name := w.CanonicalName()
		image := strings.ToLower(w.Image)
		if containsAny(name, p.NameTokens) || containsAny(image, p.ImageTokens) {
			out = append(out, w)
		}
	}
	return out
}

// Pick chooses one workload from candidates: the only one, else the first
// with a preferred name, else the first
func (p ImportantPort) Pick(candidates []domain.Workload) (domain.Workload, bool) {
	switch len(candidates) {
	case 0:
		return domain.Workload{}, false
	case 1:
		return candidates[0], true
	}
	for _, pref := range p.Preferred {
		for _, w := range candidates {
			if w.CanonicalName() == pref {
				return w, true
			}
		}
	}
	return candidates[0], true
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
