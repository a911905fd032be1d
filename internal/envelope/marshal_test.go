package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalMarshalWireCanonical(t *testing.T) {
	sig := SignalEnvelope{
		SignalID:    "s-1",
		Timestamp:   time.Date(2026, time.February, 5, 10, 0, 0, 0, time.UTC),
		Source:      "route.worker",
		PayloadType: "NoteCaptured",
		Payload:     map[string]any{"attempt": float64(1)},
		EntityRefs: []EntityRef{
			{RefType: "person", Platform: "mastodon", Value: "@ada"},
		},
		SchemaVersion: "0.1",
	}

	line, err := sig.MarshalWire()
	require.NoError(t, err)
	assert.Equal(t,
		`{"entity_refs":[{"platform":"mastodon","ref_type":"person","value":"@ada"}],"payload":{"attempt":1},"payload_type":"NoteCaptured","schema_version":"0.1","signal_id":"s-1","source":"route.worker","timestamp":"2026-02-05T10:00:00Z"}`,
		string(line))
}

func TestSignalMarshalWireEmptyCollections(t *testing.T) {
	sig := SignalEnvelope{
		SignalID:      "s-empty",
		Timestamp:     time.Date(2026, time.February, 5, 10, 0, 0, 0, time.UTC),
		Source:        "route",
		PayloadType:   "NoteCaptured",
		SchemaVersion: "0.1",
	}

	line, err := sig.MarshalWire()
	require.NoError(t, err)
	assert.Contains(t, string(line), `"payload":{}`)
	assert.Contains(t, string(line), `"entity_refs":[]`)
	// The envelope itself keeps its nil fields.
	assert.Nil(t, sig.Payload)
	assert.Nil(t, sig.EntityRefs)
}

func TestSignalMarshalNonUTCTimestamp(t *testing.T) {
	zone := time.FixedZone("CET", 3600)
	sig := SignalEnvelope{
		SignalID:      "s-zone",
		Timestamp:     time.Date(2026, time.February, 5, 11, 0, 0, 0, zone),
		Source:        "route",
		PayloadType:   "NoteCaptured",
		SchemaVersion: "0.1",
	}

	line, err := sig.MarshalWire()
	require.NoError(t, err)
	assert.Contains(t, string(line), `"timestamp":"2026-02-05T10:00:00Z"`)
}

func TestSignalWireRoundTrip(t *testing.T) {
	sig := SignalEnvelope{
		SignalID:    "s-rt",
		Timestamp:   time.Date(2026, time.February, 5, 10, 30, 15, 0, time.UTC),
		Source:      "ingestor.a",
		PayloadType: "NoteCaptured",
		Payload:     map[string]any{"text": "hello", "attempt": float64(2)},
		EntityRefs: []EntityRef{
			{RefType: "person", Platform: "mastodon", Value: "@ada"},
			{RefType: "topic", Value: "golang"},
		},
		SchemaVersion: "0.1",
	}

	line, err := sig.MarshalWire()
	require.NoError(t, err)
	got, err := UnmarshalWireSignal(line)
	require.NoError(t, err)

	assert.Equal(t, sig.SignalID, got.SignalID)
	assert.True(t, got.Timestamp.Equal(sig.Timestamp))
	assert.Equal(t, sig.Source, got.Source)
	assert.Equal(t, sig.Payload, got.Payload)
	assert.Equal(t, sig.EntityRefs, got.EntityRefs)
}

func TestUnmarshalWireSignalNaiveTimestamp(t *testing.T) {
	line := []byte(`{"signal_id":"s-naive","timestamp":"2026-02-05T10:00:00","source":"a","payload_type":"NoteCaptured","payload":{},"entity_refs":[],"schema_version":"0.1"}`)

	got, err := UnmarshalWireSignal(line)
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(time.Date(2026, time.February, 5, 10, 0, 0, 0, time.UTC)))
}

func TestUnmarshalWireSignalBadTimestamp(t *testing.T) {
	line := []byte(`{"signal_id":"s-bad","timestamp":"whenever","source":"a","payload_type":"NoteCaptured","payload":{},"entity_refs":[],"schema_version":"0.1"}`)

	_, err := UnmarshalWireSignal(line)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad timestamp")
	assert.Contains(t, err.Error(), "s-bad")
}

func TestEmissionWireRoundTrip(t *testing.T) {
	em := EmissionEnvelope{
		EmissionID:    "e-rt",
		Timestamp:     time.Date(2026, time.February, 5, 11, 0, 0, 0, time.UTC),
		EmissionType:  "DraftQueued",
		Payload:       map[string]any{"draft_id": "d-1"},
		CausedBy:      "s-rt",
		SchemaVersion: "0.1",
	}

	line, err := em.MarshalWire()
	require.NoError(t, err)
	got, err := UnmarshalWireEmission(line)
	require.NoError(t, err)

	assert.Equal(t, em.EmissionID, got.EmissionID)
	assert.Equal(t, em.CausedBy, got.CausedBy)
	assert.Equal(t, em.EmissionType, got.EmissionType)
	assert.True(t, got.Timestamp.Equal(em.Timestamp))
}

func TestEntityRefKey(t *testing.T) {
	ref := EntityRef{RefType: "person", Platform: "mastodon", Value: "@ada"}
	assert.Equal(t, "person:mastodon:@ada", ref.Key())

	// Platform is optional but still occupies its slot in the key.
	bare := EntityRef{RefType: "topic", Value: "golang"}
	assert.Equal(t, "topic::golang", bare.Key())
}

func TestEntityRefContainedIn(t *testing.T) {
	ada := EntityRef{RefType: "person", Platform: "mastodon", Value: "@ada"}
	grace := EntityRef{RefType: "person", Platform: "mastodon", Value: "@grace"}

	assert.True(t, ada.ContainedIn([]EntityRef{grace, ada}))
	assert.False(t, ada.ContainedIn([]EntityRef{grace}))
	assert.False(t, ada.ContainedIn(nil))
}
