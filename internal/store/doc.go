// Package store provides an append-only, file-backed event store for
// signal and emission envelopes with deterministic replay.
//
// Records live under <workspace>/store in four fixed directories:
//
//	signals/     YYYY-MM-DD.jsonl   one canonical JSON record per line
//	emissions/   YYYY-MM-DD.jsonl
//	snapshots/   <name>__<token>.json, digest__<day>.json, calibration__<day>.json
//	checkpoints/ <name>.json
//
// # Critical Patterns
//
// Idempotent ingestion
//   - Once a (signal_id, partition-file) binding is written it is immutable.
//   - A later write with the same id maps to the original partition (or is
//     rejected, per policy); it never creates a second physical entry.
//
// Deterministic ordering
//   - Partition files are enumerated chronologically (the date naming makes
//     lexicographic order chronological); within a file, records are read in
//     append order.
//   - Ranked reads tie-break on (timestamp, id) so repeated queries over the
//     same state return byte-identical sequences.
//
// Checkpointed resumption
//   - A ReplayCheckpoint is (last_timestamp, ids seen at that instant).
//   - Resuming skips exactly the ids already processed at the inclusive
//     boundary and misses nothing after it.
//
// # Concurrency Model
//
// Single-threaded, single-writer. One Store instance is owned by one worker
// at a time. Each append opens, writes, and closes one partition file; a
// scan holds one file handle at a time. The in-memory dedup index is a lazy
// memoization of the durable files and is never persisted.
package store
