// Package preflight reports what this process can observe on the host:
// identity, procfs and socket access, probe binaries and the runtime
// environment. Each fact is a piece of Evidence with a confidence.
package preflight

import (
	"sort"
	"time"
)

// Category classifies evidence
type Category string

const (
	CategoryIdentity    Category = "identity"
	CategoryAccess      Category = "access"
	CategoryTooling     Category = "tooling"
	CategoryEnvironment Category = "environment"
)

// Evidence is a single observed fact
type Evidence struct {
	Category   Category       `json:"category"`
	Property   string         `json:"property"`
	Value      any            `json:"value"`
	Confidence float64        `json:"confidence"` // 0.0-1.0
	Source     string         `json:"source"`     // e.g. "procfs", "syscall", "path"
	Method     string         `json:"method"`     // e.g. "read /proc/1/fd"
	Timestamp  time.Time      `json:"timestamp"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// NewEvidence creates evidence stamped with the current time
func NewEvidence(cat Category, prop string, value any, conf float64, source, method string) Evidence {
	return Evidence{
		Category:   cat,
		Property:   prop,
		Value:      value,
		Confidence: conf,
		Source:     source,
		Method:     method,
		Timestamp:  time.Now(),
	}
}

// WithRaw adds raw data to evidence and returns it (for chaining)
func (e Evidence) WithRaw(raw map[string]any) Evidence {
	e.Raw = raw
	return e
}

// EvidenceSet aggregates evidence
type EvidenceSet struct {
	items []Evidence
}

// Add appends evidence
func (es *EvidenceSet) Add(items ...Evidence) {
	es.items = append(es.items, items...)
}

// All returns all evidence
func (es *EvidenceSet) All() []Evidence {
	return es.items
}

// ByCategory returns evidence filtered by category
func (es *EvidenceSet) ByCategory(cat Category) []Evidence {
	var result []Evidence
	for _, e := range es.items {
		if e.Category == cat {
			result = append(result, e)
		}
	}
	return result
}

// Bool returns the highest-confidence boolean value recorded for prop
func (es *EvidenceSet) Bool(cat Category, prop string) (value, ok bool) {
	best := -1.0
	for _, e := range es.items {
		if e.Category != cat || e.Property != prop {
			continue
		}
		b, isBool := e.Value.(bool)
		if isBool && e.Confidence > best {
			best, value, ok = e.Confidence, b, true
		}
	}
	return value, ok
}

// Summary maps category to property to value, keeping the most confident
// value per property
func (es *EvidenceSet) Summary() map[string]map[string]any {
	sorted := make([]Evidence, len(es.items))
	copy(sorted, es.items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence < sorted[j].Confidence })

	out := make(map[string]map[string]any)
	for _, e := range sorted {
		cat := string(e.Category)
		if out[cat] == nil {
			out[cat] = make(map[string]any)
		}
		out[cat][e.Property] = e.Value
	}
	return out
}
