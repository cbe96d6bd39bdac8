// Package flows contains the login, refresh, validate and logout algorithms
// behind the Engine.
//
// Each Run function takes a typed dependency struct and returns a result or
// error; it holds no state between calls. The Engine builds the dependency
// structs once and owns every store, token manager and background goroutine.
//
// # What this package must NOT do
//
//   - Import schoolauth (the root package imports flows).
//   - Fall back to a default identity when a store fails.
//   - Treat a failed blacklist read as "not listed".
package flows
