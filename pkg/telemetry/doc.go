// Package telemetry groups the observability surfaces of the metering
// engine: structured logging (telemetry/logging) and Prometheus metrics
// (telemetry/metrics).
package telemetry
