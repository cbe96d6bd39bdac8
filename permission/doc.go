// Package permission caches each user's resolved roles and permission codes
// and invalidates them when the identity graph changes.
//
// # Read path
//
// [Cache.Get] returns the stored [Entry] when present and unexpired. On a miss
// it resolves roles and role permissions from a [Source] and fills the
// [Store]. Misses for the same user are coalesced with singleflight.
//
// # Invalidation
//
// Every invalidation bumps a generation counter (per user, or global for a
// full clear). A fill carries the generation observed by the load that
// missed; the store drops it when the counter moved. Entries are replaced
// whole and never patched, so a reader sees either a complete entry or a miss.
//
// [Coordinator] applies mutation events ([KindUser], [KindRole], ...) on a
// worker goroutine after the mutation commits. A full queue degrades to a
// synchronous full clear.
//
// # Backends
//
//   - [MemoryStore]: single-process, RWMutex guarded.
//   - [RedisStore]: shared across instances, Lua compare-and-set fills.
package permission
