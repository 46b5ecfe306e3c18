// Package backend is the contract between the feed client and the remote
// data store it synchronizes with.
//
// # Overview
//
// The store is addressed by entity kind (posts, likes, comments, ...) and
// exchanges loosely typed Records. Typed decoding happens in the models
// package; this package only moves records and change events.
//
// Implementations:
//
//   - memory.Backend: in-process store with subscriptions, used by tests
//     and the CLI demo mode
//   - postgres.Backend: Postgres over pgx with LISTEN/NOTIFY change events
//
// # Error Handling
//
// Implementations map driver failures to the sentinels in internal/common:
// ErrTransient for connectivity problems and timeouts, ErrConflict for
// unique-key violations and deletes of missing rows, ErrNotFound for point
// lookups that match nothing, ErrUnauthorized when no viewer is known.
//
// # Concurrency
//
// Implementations are safe for concurrent use. Handlers are never invoked
// while an implementation lock is held, so they may call back into the
// Backend. They must not block for long.
package backend
