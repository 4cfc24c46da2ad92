package service

import (
	"context"
	"log"
	"sort"
	"strconv"
	"strings"

	"portscope/internal/domain"
)

// Inputs is everything one reconciliation pass works from
type Inputs struct {
	// Container holds records reported by the container runtime
	Container []domain.PortRecord
	// OS holds records from the host socket table
	OS []domain.PortRecord

	Workloads []domain.Workload
	// ByPID maps container process ids to their workload
	ByPID map[int]domain.Workload
	// ResolvePID locates the container of a pid the map does not know,
	// for example through its cgroup. Optional.
	ResolvePID func(ctx context.Context, pid int) (domain.Workload, bool)
}

// Reconciler merges container and OS observations into one attributed,
// deduplicated port list
type Reconciler struct {
	SelfPort      int
	SelfName      string
	GenericOwners []string
	IncludeUDP    bool
	// Hostname is matched against container id prefixes to find our own
	// container
	Hostname string
	Debug    bool
}

// Reconcile runs the attribution pipeline. Records move from OS to
// container attribution only; nothing is ever moved back.
func (r *Reconciler) Reconcile(ctx context.Context, in Inputs) []domain.PortRecord {
	set := newPortSet()

	for _, p := range in.Container {
		set.add(p)
	}

	candidates := make([]candidate, 0, len(in.OS))
	for _, p := range in.OS {
		if existing := set.get(p.Key()); existing != nil {
			if existing.PID == 0 && p.PID > 0 {
				existing.PID = p.PID
				existing.PIDs = p.PIDs
			}
			candidates = append(candidates, candidate{rec: p, absorbed: true})
			continue
		}
		if p.Source == domain.SourceOS {
			r.attribute(ctx, &p, in)
		}
		candidates = append(candidates, candidate{rec: p})
	}
	for _, p := range collapseOS(candidates) {
		set.add(p)
	}

	r.attributeSelf(set, in.Workloads)

	out := make([]domain.PortRecord, 0, len(set.order))
	for _, p := range set.records() {
		if !r.keep(p) {
			continue
		}
		n, err := p.Normalize()
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	SortPorts(out)

	r.logf("Reconcile: %d container + %d OS records -> %d ports", len(in.Container), len(in.OS), len(out))
	return out
}

// attribute tries each rule in order and stops at the first hit
func (r *Reconciler) attribute(ctx context.Context, p *domain.PortRecord, in Inputs) {
	for _, pid := range p.AllPIDs() {
		if w, ok := in.ByPID[pid]; ok {
			if w.HostNetwork {
				p.Target = w.ShortID() + ":internal(host-net)"
			}
			p.AttributeTo(w, domain.ProvenanceReclassifiedPID)
			r.logf("Reconcile: port %d -> %s via pid %d", p.HostPort, w.Name, pid)
			return
		}
	}

	if in.ResolvePID != nil {
		for _, pid := range p.AllPIDs() {
			if w, ok := in.ResolvePID(ctx, pid); ok {
				p.Target = w.ShortID() + ":internal"
				p.AttributeTo(w, domain.ProvenanceReclassifiedCgroup)
				r.logf("Reconcile: port %d -> %s via cgroup of pid %d", p.HostPort, w.Name, pid)
				return
			}
		}
	}

	if p.Provenance != domain.ProvenanceWellKnownPort && !r.leaveForSelf(*p) {
		if w, ok := MatchOwner(p.Owner, in.Workloads); ok {
			p.AttributeTo(w, domain.ProvenanceHeuristic)
			r.logf("Reconcile: port %d -> %s by owner name %q", p.HostPort, w.Name, p.Owner)
			return
		}
	}

	if svc, ok := LookupImportant(p.HostPort, p.Protocol); ok {
		if w, ok := svc.Pick(svc.Candidates(in.Workloads)); ok {
			p.AttributeTo(w, domain.ProvenanceWellKnownPort)
			r.logf("Reconcile: %s port %d -> %s", svc.Service, p.HostPort, w.Name)
		}
	}
}

// MatchOwner finds the single workload whose name or image relates to a
// process name. Several matches fall back to an exact name; otherwise no
// match is returned.
func MatchOwner(owner string, workloads []domain.Workload) (domain.Workload, bool) {
	o := strings.ToLower(strings.TrimSpace(owner))
	if o == "" || o == domain.UnknownOwner {
		return domain.Workload{}, false
	}

	var matches []domain.Workload
	for _, w := range workloads {
		name := w.CanonicalName()
		compact := w.CompactName()
		if strings.Contains(name, o) ||
			strings.Contains(strings.ToLower(w.Image), o) ||
			(compact != "" && strings.Contains(o, compact)) {
			matches = append(matches, w)
		}
	}

	switch len(matches) {
	case 0:
		return domain.Workload{}, false
	case 1:
		return matches[0], true
	}
	for _, w := range matches {
		if w.CanonicalName() == o {
			return w, true
		}
	}
	return domain.Workload{}, false
}

// attributeSelf moves our own listener onto our container when it shows
// up under a generic process name
func (r *Reconciler) attributeSelf(set *portSet, workloads []domain.Workload) {
	if r.SelfPort == 0 {
		return
	}
	var self *domain.Workload
	for _, p := range set.records() {
		if !r.leaveForSelf(*p) {
			continue
		}
		if self == nil {
			w, ok := r.findSelf(workloads)
			if !ok {
				return
			}
			self = &w
		}
		p.AttributeTo(*self, domain.ProvenanceHeuristic)
		r.logf("Reconcile: own port %d attributed to %s", p.HostPort, self.Name)
	}
}

func (r *Reconciler) leaveForSelf(p domain.PortRecord) bool {
	return p.Source == domain.SourceOS && p.HostPort == r.SelfPort && r.isGeneric(p.Owner)
}

func (r *Reconciler) findSelf(workloads []domain.Workload) (domain.Workload, bool) {
	name := strings.ToLower(r.SelfName)
	for _, w := range workloads {
		if name != "" && (strings.Contains(w.CanonicalName(), name) || strings.Contains(strings.ToLower(w.Image), name)) {
			return w, true
		}
	}
	if r.Hostname != "" {
		for _, w := range workloads {
			if strings.HasPrefix(w.ID, r.Hostname) {
				return w, true
			}
		}
	}
	return domain.Workload{}, false
}

func (r *Reconciler) isGeneric(owner string) bool {
	owner = strings.ToLower(owner)
	for _, g := range r.GenericOwners {
		if owner == strings.ToLower(g) {
			return true
		}
	}
	return false
}

// keep applies the output filter: every TCP and container record, and UDP
// from the host only for important services or when UDP is requested
func (r *Reconciler) keep(p *domain.PortRecord) bool {
	if p.Source != domain.SourceOS || p.Protocol != domain.ProtocolUDP {
		return true
	}
	if _, ok := LookupImportant(p.HostPort, p.Protocol); ok {
		return true
	}
	return r.IncludeUDP
}

func (r *Reconciler) logf(format string, args ...any) {
	if r.Debug {
		log.Printf(format, args...)
	}
}

// candidate is one host record after attribution. An absorbed record
// filled in a container binding with the same key and is not emitted.
type candidate struct {
	rec      domain.PortRecord
	absorbed bool
}

// collapseOS merges host records that are still unattributed and describe
// the same listener bound to several addresses. A wildcard bind beats
// loopback, which beats anything else; among equals the first seen stays.
// Attributed records pass through untouched. Absorbed records take part in
// the ranking but are dropped from the result.
func collapseOS(candidates []candidate) []domain.PortRecord {
	index := make(map[string]int)
	var kept []candidate
	for _, c := range candidates {
		id := logicalKey(c.rec)
		if id == "" {
			kept = append(kept, c)
			continue
		}
		i, ok := index[id]
		if !ok {
			index[id] = len(kept)
			kept = append(kept, c)
			continue
		}
		if bindRank(c.rec.HostIP) > bindRank(kept[i].rec.HostIP) {
			kept[i] = c
		}
	}
	out := make([]domain.PortRecord, 0, len(kept))
	for _, c := range kept {
		if !c.absorbed {
			out = append(out, c.rec)
		}
	}
	return out
}

func logicalKey(p domain.PortRecord) string {
	if p.Source != domain.SourceOS {
		return ""
	}
	if p.Owner != "" && p.Owner != domain.UnknownOwner {
		return "owner:" + p.Owner + "|" + portProto(p)
	}
	if p.PID > 0 {
		return "pid:" + strconv.Itoa(p.PID) + "|" + portProto(p)
	}
	return ""
}

func portProto(p domain.PortRecord) string {
	return strconv.Itoa(p.HostPort) + "|" + string(p.Protocol)
}

func bindRank(ip string) int {
	switch {
	case domain.IsWildcard(ip):
		return 3
	case domain.IsLoopback(ip):
		return 2
	default:
		return 1
	}
}

// SortPorts orders records by port, protocol, address, then container
func SortPorts(ports []domain.PortRecord) {
	sort.SliceStable(ports, func(i, j int) bool {
		a, b := ports[i], ports[j]
		if a.HostPort != b.HostPort {
			return a.HostPort < b.HostPort
		}
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.HostIP != b.HostIP {
			return a.HostIP < b.HostIP
		}
		return a.ContainerID < b.ContainerID
	})
}

// MergeSupplemental adds records whose key is not already present and
// returns the sorted union
func MergeSupplemental(ports, extra []domain.PortRecord) []domain.PortRecord {
	seen := make(map[string]bool, len(ports))
	for _, p := range ports {
		seen[p.Key()] = true
	}
	out := append([]domain.PortRecord(nil), ports...)
	for _, p := range extra {
		n, err := p.Normalize()
		if err != nil || seen[n.Key()] {
			continue
		}
		seen[n.Key()] = true
		out = append(out, n)
	}
	SortPorts(out)
	return out
}

// portSet keeps records by key in insertion order; the first record for a
// key wins
type portSet struct {
	byKey map[string]*domain.PortRecord
	order []string
}

func newPortSet() *portSet {
	return &portSet{byKey: make(map[string]*domain.PortRecord)}
}

func (s *portSet) add(p domain.PortRecord) bool {
	k := p.Key()
	if _, ok := s.byKey[k]; ok {
		return false
	}
	rec := p
	s.byKey[k] = &rec
	s.order = append(s.order, k)
	return true
}

func (s *portSet) get(key string) *domain.PortRecord {
	return s.byKey[key]
}

func (s *portSet) records() []*domain.PortRecord {
	out := make([]*domain.PortRecord, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}
