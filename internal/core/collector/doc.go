// Package collector runs collection passes against the active adapter.
//
// A pass queries the four core facets concurrently. Each facet is isolated:
// an error or panic is recorded in CollectionResult.Errors and the facet
// keeps its default (nil system info, empty lists). Adapters that implement
// adapter.Enhancer run their optional facet alongside; its output is merged
// afterwards and its failures only ever show up in Degraded.
//
// Concurrent CollectAll calls are collapsed with singleflight, so a slow
// pass is never duplicated by callers that arrive while it runs.
package collector
