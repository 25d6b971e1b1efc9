// Package sinks provides progress.Sink implementations for structured logs,
// Prometheus run metrics and the run history repository.
package sinks
