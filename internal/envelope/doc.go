// Package envelope defines the two record classes the store persists:
// signals (observed inputs) and emissions (downstream results).
//
// The store treats envelopes as opaque beyond their observable attributes
// (id, timestamp, source/type classifier, payload, entity refs, schema
// version). Envelopes are value-like: the store never mutates a record it
// receives, and records are immutable once appended.
//
// # Wire Form
//
// One envelope per line in a partition file, serialized as RFC 8785
// canonical JSON (sorted keys, compact separators, deterministic number
// formatting) so byte layout is deterministic given the record. Timestamps
// serialize as ISO-8601 UTC with a trailing Z.
package envelope
