// Package domain defines the core types of the portscope port inventory.
//
// # Core Types
//
// PortRecord is one listening endpoint on the host. Records come from three
// sources: a container runtime (declared bindings and exposed ports), the OS
// socket table, or a hypervisor management API. Normalize turns raw parser
// output into a canonical record and rejects out-of-range ports.
//
// Workload describes a container known to the runtime: identity, compose
// labels and the process IDs running inside it. The reconciler uses workloads
// to attribute orphaned OS sockets.
//
// CollectionResult is the structured output of one collection pass: system
// info, applications, ports and VMs, plus per-facet errors and degradation
// notes.
//
// CompatibilityScore is a clamped 0-100 score with the reasons that produced
// it, used to pick the active platform adapter.
//
// # Design Principles
//
//   - No external dependencies
//   - Value types that are safe to copy
//   - Canonicalization happens in one place (Normalize)
package domain
