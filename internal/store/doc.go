// Package store defines the canonical fact-store data model for the
// circular-flow warehouse and the FactStore interface every
// reconciliation stage reads and writes through.
//
// The central entity is FactRecord, a single numeric observation keyed
// by the composite natural key (period date, component, source,
// measurement, series). Upserts on that key are the only mutation:
// values and quality flags are revised in place and records are never
// physically deleted, so stale observations persist as history.
//
// Two implementations ship with the engine: MemoryStore, an in-memory
// transactional store used by tests and dry runs, and the MySQL-backed
// store in the mysql subpackage used in production.
package store
