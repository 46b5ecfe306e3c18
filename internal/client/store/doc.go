// Package store holds the in-memory, process-wide caches the view layer
// reads from: the ordered feed, the two notification sequences and the
// per-post comment lists.
//
// # Single writer
//
// Every mutation goes through a store method. Methods are atomic with
// respect to each other; read-modify-write of a cached entity is done with
// Modify/ModifyAll, which run the callback under the store lock on a private
// copy and swap it in. Slices returned to callers are snapshots and must be
// treated as immutable.
//
// # Freshness
//
// ReplaceAll stamps the freshness timestamp; IsStale reports whether the
// elapsed time exceeds the configured threshold (five minutes by default).
// A store that was never filled is stale.
//
// # Listeners
//
// OnChange registers a callback invoked after each mutation, outside the
// lock, with a Change describing what happened.
package store
