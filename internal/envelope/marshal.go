package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/metaspn/store/internal/timeutil"
)

// wireSignal is the on-disk mapping form of a SignalEnvelope.
type wireSignal struct {
	SignalID      string         `json:"signal_id"`
	Timestamp     string         `json:"timestamp"`
	Source        string         `json:"source"`
	PayloadType   string         `json:"payload_type"`
	Payload       map[string]any `json:"payload"`
	EntityRefs    []EntityRef    `json:"entity_refs"`
	SchemaVersion string         `json:"schema_version"`
}

// wireEmission is the on-disk mapping form of an EmissionEnvelope.
type wireEmission struct {
	EmissionID    string         `json:"emission_id"`
	Timestamp     string         `json:"timestamp"`
	EmissionType  string         `json:"emission_type"`
	Payload       map[string]any `json:"payload"`
	CausedBy      string         `json:"caused_by"`
	EntityRefs    []EntityRef    `json:"entity_refs"`
	SchemaVersion string         `json:"schema_version"`
}

// MarshalWire serializes the signal to RFC 8785 canonical JSON without a
// trailing newline. Empty payloads and entity ref sequences serialize as
// {} and [] rather than null. The receiver is never mutated.
func (s SignalEnvelope) MarshalWire() ([]byte, error) {
	doc := wireSignal{
		SignalID:      s.SignalID,
		Timestamp:     timeutil.FormatTimestamp(s.Timestamp),
		Source:        s.Source,
		PayloadType:   s.PayloadType,
		Payload:       s.Payload,
		EntityRefs:    s.EntityRefs,
		SchemaVersion: s.SchemaVersion,
	}
	if doc.Payload == nil {
		doc.Payload = map[string]any{}
	}
	if doc.EntityRefs == nil {
		doc.EntityRefs = []EntityRef{}
	}
	return canonicalize(doc)
}

// UnmarshalWireSignal parses one partition line back into a SignalEnvelope.
// The timestamp is UTC-normalized; Z suffixes, numeric offsets, and naive
// (zone-less) forms are accepted.
func UnmarshalWireSignal(data []byte) (SignalEnvelope, error) {
	var doc wireSignal
	if err := json.Unmarshal(data, &doc); err != nil {
		return SignalEnvelope{}, fmt.Errorf("decode signal: %w", err)
	}

	ts, ok := timeutil.ParseTimestamp(doc.Timestamp)
	if !ok {
		return SignalEnvelope{}, fmt.Errorf("decode signal %q: bad timestamp %q", doc.SignalID, doc.Timestamp)
	}

	return SignalEnvelope{
		SignalID:      doc.SignalID,
		Timestamp:     ts,
		Source:        doc.Source,
		PayloadType:   doc.PayloadType,
		Payload:       doc.Payload,
		EntityRefs:    doc.EntityRefs,
		SchemaVersion: doc.SchemaVersion,
	}, nil
}

// MarshalWire serializes the emission to RFC 8785 canonical JSON without a
// trailing newline. The receiver is never mutated.
func (e EmissionEnvelope) MarshalWire() ([]byte, error) {
	doc := wireEmission{
		EmissionID:    e.EmissionID,
		Timestamp:     timeutil.FormatTimestamp(e.Timestamp),
		EmissionType:  e.EmissionType,
		Payload:       e.Payload,
		CausedBy:      e.CausedBy,
		EntityRefs:    e.EntityRefs,
		SchemaVersion: e.SchemaVersion,
	}
	if doc.Payload == nil {
		doc.Payload = map[string]any{}
	}
	if doc.EntityRefs == nil {
		doc.EntityRefs = []EntityRef{}
	}
	return canonicalize(doc)
}

// UnmarshalWireEmission parses one partition line back into an
// EmissionEnvelope.
func UnmarshalWireEmission(data []byte) (EmissionEnvelope, error) {
	var doc wireEmission
	if err := json.Unmarshal(data, &doc); err != nil {
		return EmissionEnvelope{}, fmt.Errorf("decode emission: %w", err)
	}

	ts, ok := timeutil.ParseTimestamp(doc.Timestamp)
	if !ok {
		return EmissionEnvelope{}, fmt.Errorf("decode emission %q: bad timestamp %q", doc.EmissionID, doc.Timestamp)
	}

	return EmissionEnvelope{
		EmissionID:    doc.EmissionID,
		Timestamp:     ts,
		EmissionType:  doc.EmissionType,
		Payload:       doc.Payload,
		CausedBy:      doc.CausedBy,
		EntityRefs:    doc.EntityRefs,
		SchemaVersion: doc.SchemaVersion,
	}, nil
}

// canonicalize marshals v with encoding/json and then rewrites the bytes to
// RFC 8785 canonical form (sorted keys, compact separators, ES6 number
// formatting).
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return canonical, nil
}

// CanonicalJSON exposes the canonical serialization for non-envelope
// documents the store writes (snapshots, checkpoints).
func CanonicalJSON(v any) ([]byte, error) {
	return canonicalize(v)
}
