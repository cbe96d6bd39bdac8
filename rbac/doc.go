// Package rbac decides whether an authenticated subject may issue a request
// and which data scope applies.
//
// The role table is static: admin, principal, teacher and parent, each with
// a permission level, allowed operations and a per-category scope. Evaluate
// checks, in order, role validity, request type, destructive phrases,
// category scope and finally the addressed records. Admin short-circuits to
// allow.
//
// Callers should set Request.Type explicitly. Keyword classification of
// Request.Text (English and Chinese) only runs when Type is empty and misses
// unseen phrasing.
package rbac
