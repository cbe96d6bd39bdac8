// Package internal holds helpers private to schoolauth.
//
// # Sub-packages
//
//   - audit: operation log records, sanitization and async dispatch
//   - flows: login, refresh, validate and logout orchestration
//   - metrics: lock-free counters and latency histograms
//   - rate: Redis-backed login throttling
package internal
