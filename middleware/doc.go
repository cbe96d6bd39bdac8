// Package middleware adapts the schoolauth Engine to net/http.
//
// # Chain
//
//   - Guard validates the bearer token and attaches the Identity. Store
//     outages reject the request.
//   - Audit records one operation log entry per request, rejected ones
//     included. It runs before Guard, which reports the identity back.
//   - Authorize, RequirePermission, RequireRole and RequireChildAccess
//     enforce the role policy and the permission cache.
//
// Every rejection is written through WriteError as
// {"success":false,"message":...,"code":...}. No header or query
// parameter bypasses any check.
package middleware
