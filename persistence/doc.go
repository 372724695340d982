// Package persistence writes finished turns to a core.MessageStore.
//
// Writes are idempotent upserts keyed by message id, only land in
// conversations that already exist, and are skipped entirely for aborted
// turns. Failures are reported as *core.PersistenceSoftFailure and never
// abort a response that is already streaming. Memory records are written
// only after the message row is durable.
//
// Two stores are provided: InMemoryStore for tests and single-process demos,
// and SQLStore for SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq).
package persistence
