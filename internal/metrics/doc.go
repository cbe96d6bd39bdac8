// Package metrics provides lock-free counters and a latency histogram for
// the auth engine.
//
// Counters live in cache-line-padded uint64 slots incremented with
// sync/atomic. The histogram uses 8 fixed buckets (<=5ms ... +Inf). Both are
// allocation-free on the write path. Export to Prometheus or OpenTelemetry
// lives in metrics/export and reads Snapshot values.
package metrics
