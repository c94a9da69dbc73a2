// Package storage provides the minimal key/value persistence layer behind
// the dashboard caches.
//
// Values are opaque byte slices with whole-value overwrite semantics
// (last writer wins). Drivers:
//   - memory: process-local map (tests, ephemeral runs)
//   - file:   one file per key, written via temp file + rename
//   - sqlite: single kv table in a SQLite database file
package storage
