// Package progress carries ingestion run and item-stage events from the
// pipeline to pluggable sinks. The Hub batches events on a background
// goroutine so the pipeline never blocks on logging, metrics or the run log.
package progress
