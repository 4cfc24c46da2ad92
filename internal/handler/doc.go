// Package handler implements the read-only HTTP API served in watch mode.
//
// # Endpoints
//
//	GET  /api/result            latest collection pass (runs one if none yet)
//	GET  /api/ports             reconciled ports, filterable by protocol, source and owner
//	GET  /api/detection         adapter scores from the last detection
//	POST /api/collect           run a pass now and return it
//	GET  /api/export/{format}   latest pass as json, yaml or table
//	GET  /healthz               liveness
//
// Errors are returned as JSON with {error, details}.
package handler
