// Package cli provides the interactive feed client.
//
// It wires configuration, the backend (Postgres or the in-memory demo
// backend), the caches, the change feed and the mutation coordinator, and
// runs a REPL over them. Typical flow: resolve the session from the access
// token, restore the warm-start snapshot, open the feed view and execute
// user commands until exit.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See NewApp and runREPL for details.
package cli
