// Package testutil provides deterministic fixtures for store tests.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/metaspn/store/internal/envelope"
)

// SchemaVersion is the envelope schema version every builder stamps.
const SchemaVersion = "0.1"

// TS builds a UTC instant on 2026-02-<day> at <hour>:<minute>, matching the
// window most fixtures live in.
func TS(day, hour, minute int) time.Time {
	return time.Date(2026, time.February, day, hour, minute, 0, 0, time.UTC)
}

// SignalOption mutates a signal fixture before it is returned.
type SignalOption func(*envelope.SignalEnvelope)

// WithSignalPayload replaces the fixture payload. Use float64 for numeric
// values so round-trips through JSON compare equal.
func WithSignalPayload(payload map[string]any) SignalOption {
	return func(s *envelope.SignalEnvelope) {
		s.Payload = payload
	}
}

// WithSignalRefs replaces the fixture entity refs.
func WithSignalRefs(refs ...envelope.EntityRef) SignalOption {
	return func(s *envelope.SignalEnvelope) {
		s.EntityRefs = refs
	}
}

// WithPayloadType replaces the fixture payload type.
func WithPayloadType(payloadType string) SignalOption {
	return func(s *envelope.SignalEnvelope) {
		s.PayloadType = payloadType
	}
}

// Signal builds a signal fixture with stable defaults: a random id, the
// given timestamp and source, payload type "NoteCaptured", an empty payload
// and schema version 0.1.
func Signal(ts time.Time, source string, opts ...SignalOption) envelope.SignalEnvelope {
	sig := envelope.SignalEnvelope{
		SignalID:      uuid.NewString(),
		Timestamp:     ts,
		Source:        source,
		PayloadType:   "NoteCaptured",
		Payload:       map[string]any{},
		SchemaVersion: SchemaVersion,
	}
	for _, opt := range opts {
		opt(&sig)
	}
	return sig
}

// SignalWithID builds a signal fixture with an explicit id.
func SignalWithID(id string, ts time.Time, source string, opts ...SignalOption) envelope.SignalEnvelope {
	sig := Signal(ts, source, opts...)
	sig.SignalID = id
	return sig
}

// EmissionOption mutates an emission fixture before it is returned.
type EmissionOption func(*envelope.EmissionEnvelope)

// WithEmissionPayload replaces the fixture payload.
func WithEmissionPayload(payload map[string]any) EmissionOption {
	return func(e *envelope.EmissionEnvelope) {
		e.Payload = payload
	}
}

// WithCausedBy links the emission to the signal that produced it.
func WithCausedBy(signalID string) EmissionOption {
	return func(e *envelope.EmissionEnvelope) {
		e.CausedBy = signalID
	}
}

// WithEmissionRefs replaces the fixture entity refs.
func WithEmissionRefs(refs ...envelope.EntityRef) EmissionOption {
	return func(e *envelope.EmissionEnvelope) {
		e.EntityRefs = refs
	}
}

// Emission builds an emission fixture with stable defaults: a random id, the
// given timestamp and type, an empty payload and schema version 0.1.
func Emission(ts time.Time, emissionType string, opts ...EmissionOption) envelope.EmissionEnvelope {
	em := envelope.EmissionEnvelope{
		EmissionID:    uuid.NewString(),
		Timestamp:     ts,
		EmissionType:  emissionType,
		Payload:       map[string]any{},
		SchemaVersion: SchemaVersion,
	}
	for _, opt := range opts {
		opt(&em)
	}
	return em
}

// EmissionWithID builds an emission fixture with an explicit id.
func EmissionWithID(id string, ts time.Time, emissionType string, opts ...EmissionOption) envelope.EmissionEnvelope {
	em := Emission(ts, emissionType, opts...)
	em.EmissionID = id
	return em
}

// PersonRef builds the entity ref shape most fixtures use.
func PersonRef(platform, value string) envelope.EntityRef {
	return envelope.EntityRef{RefType: "person", Platform: platform, Value: value}
}
