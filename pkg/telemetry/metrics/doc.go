// Package metrics exposes Prometheus metrics for the metering engine.
//
// One Collector owns every instrument so components share a single
// registry handle. The exposition endpoint comes from Handler, backed by
// promhttp against the same registry.
package metrics
