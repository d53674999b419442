// Package cache memoizes auth contexts per (auth context id, identity) key.
//
// Entries are tagged with the registry epoch they were built under. A lookup
// snapshots the epoch once and only returns an entry built under that epoch;
// stale entries are rebuilt, never mutated. Concurrent misses for the same key
// share a single factory call.
package cache
