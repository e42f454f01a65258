// Package store persists ingested notifications in SQLite.
//
// It owns the durable log of the triage pipeline: rows are inserted on
// ingest, updated exactly once with the scoring outcome, and queried for
// listings, aggregate stats and text digests. Retention is out of scope;
// this layer never deletes rows.
package store
