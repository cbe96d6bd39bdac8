// Package session is the Redis-backed session store: live sessions keyed by
// user id and token hash, a per-user index, and the token blacklist.
//
// Session records use a compact binary encoding with the timestamps at fixed
// offsets so activity updates run as a single Lua script without a decode
// round trip.
//
// The store never interprets tokens or makes authorization decisions.
package session
