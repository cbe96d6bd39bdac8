// Package audit records one append-only entry per completed request.
//
// # Components
//
//   - [Record]: who did what, to which resource, with which outcome and latency.
//   - [Sink]: persistence target (channel, JSON lines, database, bolt file).
//   - [Dispatcher]: buffered async relay; sink failures are logged and counted.
//   - [Sanitize]: redacts credential-like parameters before they are stored.
//
// Records are never updated or deleted by this package. Deciding which
// requests are audited belongs to the HTTP interceptor.
package audit
