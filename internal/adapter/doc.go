// Package adapter implements the platform adapters that collect the four
// facets of a host: system info, applications, listening ports and VMs.
//
// # Variants
//
// System is the plain host adapter. Its ports come from the OS socket table
// through a tiered fallback chain (nsenter, ss, procfs, netstat on Linux;
// netstat -ano, then -an on Windows), and its VMs from libvirt.
//
// Docker reads containers from the runtime API and reconciles their
// published bindings against the OS socket table, so every listener is
// attributed to exactly one owner.
//
// Hypervisor composes the Docker and System behavior and adds an optional
// enhanced facet backed by the appliance management API (midclt, locally or
// over SSH). The enhanced facet degrades instead of failing.
//
// # Detection
//
// Registry scores every registered adapter with IsCompatible and selects
// the highest score, breaking ties by Kind. A configured platform skips
// scoring.
//
// # Verification
//
// NmapVerifier runs a TCP connect scan against the reconciled listeners and
// reports which of them answer from the outside.
package adapter
