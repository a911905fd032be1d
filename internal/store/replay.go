package store

import (
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/timeutil"
)

// checkpointSchemaVersion is the serialized checkpoint document version.
const checkpointSchemaVersion = "0.1"

// ReplayCheckpoint is a resume token: the maximum timestamp a consumer has
// processed and the ids it observed at exactly that instant. Applying it on
// a later read gives at-most-once delivery across the inclusive boundary
// without losing records.
type ReplayCheckpoint struct {
	LastTimestamp      time.Time
	SeenIDsAtTimestamp []string
	SchemaVersion      string
}

// NewReplayCheckpoint builds a checkpoint with the timestamp UTC-normalized
// and the id list deduplicated preserving first-seen order.
func NewReplayCheckpoint(last time.Time, seenIDs []string) ReplayCheckpoint {
	unique := make([]string, 0, len(seenIDs))
	present := make(map[string]struct{}, len(seenIDs))
	for _, id := range seenIDs {
		if _, ok := present[id]; ok {
			continue
		}
		present[id] = struct{}{}
		unique = append(unique, id)
	}

	return ReplayCheckpoint{
		LastTimestamp:      timeutil.EnsureUTC(last),
		SeenIDsAtTimestamp: unique,
		SchemaVersion:      checkpointSchemaVersion,
	}
}

// BuildSignalCheckpoint derives a resume checkpoint from an
// already-processed, ordered signal stream.
//
// Timestamps must be non-decreasing; a later timestamp smaller than a prior
// one is a validation error. The id list tracks only the records at the
// maximum timestamp and resets whenever a strictly greater timestamp
// appears. An empty stream yields nil.
func BuildSignalCheckpoint(processed []envelope.SignalEnvelope) (*ReplayCheckpoint, error) {
	var lastTS time.Time
	var idsAtLast []string
	started := false

	for _, sig := range processed {
		ts := timeutil.EnsureUTC(sig.Timestamp)
		if !started || ts.After(lastTS) {
			started = true
			lastTS = ts
			idsAtLast = []string{sig.SignalID}
			continue
		}
		if ts.Before(lastTS) {
			return nil, invalidInput("processed signals must be in non-decreasing timestamp order")
		}
		if !containsString(idsAtLast, sig.SignalID) {
			idsAtLast = append(idsAtLast, sig.SignalID)
		}
	}

	if !started {
		return nil, nil
	}

	cp := NewReplayCheckpoint(lastTS, idsAtLast)
	return &cp, nil
}

// ReplayQuery parameterizes a checkpoint-aware signal replay. Zero Start
// means the Unix epoch; End is required.
type ReplayQuery struct {
	Start      time.Time
	End        time.Time
	Checkpoint *ReplayCheckpoint
	EntityRef  *envelope.EntityRef
	Sources    []string
}

// IterSignalsFromCheckpoint replays signals from the checkpoint boundary
// without re-yielding already-processed records.
//
// The effective start is the later of the provided start (or epoch) and the
// checkpoint timestamp. Records at exactly the checkpoint timestamp whose id
// the checkpoint already carries are dropped; everything after the boundary
// is yielded, so nothing is missed.
func (s *Store) IterSignalsFromCheckpoint(q ReplayQuery) (*SignalIterator, error) {
	effectiveStart := q.Start
	if effectiveStart.IsZero() {
		effectiveStart = timeutil.UnixEpoch()
	}
	effectiveStart = timeutil.EnsureUTC(effectiveStart)

	var cpTime time.Time
	var cpSeen map[string]struct{}
	if q.Checkpoint != nil {
		cpTime = timeutil.EnsureUTC(q.Checkpoint.LastTimestamp)
		if cpTime.After(effectiveStart) {
			effectiveStart = cpTime
		}
		cpSeen = toSet(q.Checkpoint.SeenIDsAtTimestamp)
	}

	it, err := s.IterSignals(effectiveStart, q.End, SignalFilter{EntityRef: q.EntityRef, Sources: q.Sources})
	if err != nil {
		return nil, err
	}
	it.cpTime = cpTime
	it.cpSeen = cpSeen
	return it, nil
}

// wireCheckpoint is the on-disk form of a ReplayCheckpoint.
type wireCheckpoint struct {
	LastTimestamp      string   `json:"last_timestamp"`
	SeenIDsAtTimestamp []string `json:"seen_ids_at_timestamp"`
	SchemaVersion      string   `json:"schema_version"`
}

// WriteCheckpoint persists a named checkpoint, replacing any prior document.
// The timestamp serializes as ISO-8601 with a trailing Z.
func (s *Store) WriteCheckpoint(name string, cp ReplayCheckpoint) (string, error) {
	doc := wireCheckpoint{
		LastTimestamp:      timeutil.FormatTimestamp(cp.LastTimestamp),
		SeenIDsAtTimestamp: cp.SeenIDsAtTimestamp,
		SchemaVersion:      cp.SchemaVersion,
	}
	if doc.SeenIDsAtTimestamp == nil {
		doc.SeenIDsAtTimestamp = []string{}
	}
	if doc.SchemaVersion == "" {
		doc.SchemaVersion = checkpointSchemaVersion
	}

	destination := filepath.Join(s.checkpointsDir, name+".json")
	if err := writeDocument(destination, doc); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"checkpoint": name, "last_timestamp": doc.LastTimestamp}).Debug("wrote checkpoint")
	return destination, nil
}

// ReadCheckpoint loads a named checkpoint. A missing file returns nil with
// no error.
func (s *Store) ReadCheckpoint(name string) (*ReplayCheckpoint, error) {
	source := filepath.Join(s.checkpointsDir, name+".json")

	var doc wireCheckpoint
	found, err := readDocument(source, &doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	ts, ok := timeutil.ParseTimestamp(doc.LastTimestamp)
	if !ok {
		return nil, invalidInput("checkpoint %s: bad last_timestamp %q", name, doc.LastTimestamp)
	}

	cp := NewReplayCheckpoint(ts, doc.SeenIDsAtTimestamp)
	if doc.SchemaVersion != "" {
		cp.SchemaVersion = doc.SchemaVersion
	}
	return &cp, nil
}

// containsString reports membership in a small ordered id list.
func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
