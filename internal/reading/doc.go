// Package reading persists ingested sensor messages append-only.
//
// Every message that reaches the pipeline produces one reading row,
// even when no field could be parsed; the row is the audit trail of
// what arrived. Queries are device-scoped and newest-first, with
// optional time bounds and a clamped limit. Retention is handled by
// Prune, driven from the maintenance sweep.
package reading
