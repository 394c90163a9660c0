// Package store defines the persistence contract of the authhero engine and the
// entities it operates on.
//
// # Backends
//
//   - store/memory  : single-process, mutex-serialized; used by tests and demos.
//   - store/postgres: pgx pool, row locks via SELECT ... FOR UPDATE.
//   - store/sqlite  : modernc.org/sqlite, immediate transactions.
//
// # Conditional writes
//
// Rotation, token consumption and backup-code removal are "update only if the
// current value still matches" operations. Backends report a lost race with
// [ErrStale] so callers can map it to a domain failure instead of overwriting.
//
// # What this package must NOT do
//
//   - Hash, generate, or compare secrets. Callers pass digests only.
//   - Import the engine or any flow package.
package store
