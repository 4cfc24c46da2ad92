package domain

import (
	"regexp"
	"strings"
	"time"
)

// Workload is a running container as seen by the container runtime
type Workload struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Image          string     `json:"image"`
	Status         string     `json:"status"`
	Command        string     `json:"command,omitempty"`
	Created        *time.Time `json:"created,omitempty"`
	ComposeProject string     `json:"compose_project,omitempty"`
	ComposeService string     `json:"compose_service,omitempty"`
	MainPID        int        `json:"main_pid,omitempty"`
	PIDs           []int      `json:"pids,omitempty"`
	HostNetwork    bool       `json:"host_network"`
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// ShortID returns the 12 character container id prefix
func (w Workload) ShortID() string {
	if len(w.ID) > 12 {
		return w.ID[:12]
	}
	return w.ID
}

// CanonicalName returns the lowercase name with a leading slash removed
func (w Workload) CanonicalName() string {
	return strings.ToLower(strings.TrimPrefix(w.Name, "/"))
}

// CompactName returns the canonical name with every non-alphanumeric rune removed
func (w Workload) CompactName() string {
	return nonAlnum.ReplaceAllString(w.CanonicalName(), "")
}
