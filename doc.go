// Package schoolauth is the authorization and session integrity layer of
// the school-management backend.
//
// On every request it validates a bearer token against the revocation list
// and a live session, resolves and caches the caller's effective
// permissions, applies the role-scoped data access policy and records an
// audit entry. Identity mutations invalidate the permission cache through
// the coordinator.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Failure policy
//
// Blacklist and signature checks fail closed: an unreachable session store
// rejects the request. Identity store failures deny with
// [ErrIdentityUnavailable]; no fallback identity is ever substituted.
// Session touch, self-healing, audit persistence and cache invalidation are
// best-effort and never fail the request.
package schoolauth
