// Package service implements the attribution logic that turns raw port
// observations into the reported port list.
//
// # Reconciliation
//
// Reconciler merges records from the container runtime with records read
// from the host socket table. Container records are seeded first and win
// every key collision. Each remaining host record is then attributed by,
// in order:
//
//   - the pid to container map built from the runtime snapshot
//   - a pid resolver (cgroup lookup, then parent walk)
//   - a case-insensitive match between the process name and container
//     names and images
//   - the important-ports table, which searches container names and
//     images for service tokens such as wireguard or pihole
//
// Our own listener is special-cased afterwards, then host UDP is filtered
// down to important services unless UDP reporting is enabled.
//
// # Event System
//
// DiffPorts compares consecutive passes and EventBus fans the resulting
// events out to subscribers such as the watch log and the event stream.
package service
