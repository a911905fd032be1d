package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/testutil"
)

func signalIDs(signals []envelope.SignalEnvelope) []string {
	ids := make([]string, 0, len(signals))
	for _, sig := range signals {
		ids = append(ids, sig.SignalID)
	}
	return ids
}

func TestBuildSignalCheckpoint(t *testing.T) {
	processed := []envelope.SignalEnvelope{
		testutil.SignalWithID("s-c1", testutil.TS(5, 10, 0), "ingestor.a"),
		testutil.SignalWithID("s-c2", testutil.TS(5, 10, 0), "ingestor.a"),
		testutil.SignalWithID("s-c3", testutil.TS(5, 10, 1), "ingestor.a"),
	}

	cp, err := BuildSignalCheckpoint(processed)
	require.NoError(t, err)
	require.NotNil(t, cp)

	// Only the ids at the maximum timestamp survive.
	assert.True(t, cp.LastTimestamp.Equal(testutil.TS(5, 10, 1)))
	assert.Equal(t, []string{"s-c3"}, cp.SeenIDsAtTimestamp)
	assert.Equal(t, "0.1", cp.SchemaVersion)
}

func TestBuildSignalCheckpointEmpty(t *testing.T) {
	cp, err := BuildSignalCheckpoint(nil)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestBuildSignalCheckpointRejectsOutOfOrder(t *testing.T) {
	processed := []envelope.SignalEnvelope{
		testutil.SignalWithID("s-late", testutil.TS(5, 11, 0), "ingestor.a"),
		testutil.SignalWithID("s-early", testutil.TS(5, 10, 0), "ingestor.a"),
	}

	_, err := BuildSignalCheckpoint(processed)
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
	assert.Contains(t, err.Error(), "non-decreasing")
}

func TestBuildSignalCheckpointDedupesBoundaryIDs(t *testing.T) {
	ts := testutil.TS(5, 10, 0)
	processed := []envelope.SignalEnvelope{
		testutil.SignalWithID("s-a", ts, "ingestor.a"),
		testutil.SignalWithID("s-b", ts, "ingestor.a"),
		testutil.SignalWithID("s-a", ts, "ingestor.a"),
	}

	cp, err := BuildSignalCheckpoint(processed)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, []string{"s-a", "s-b"}, cp.SeenIDsAtTimestamp)
}

func TestCheckpointedResume(t *testing.T) {
	s := openTestStore(t)

	stream := []envelope.SignalEnvelope{
		testutil.SignalWithID("s-c1", testutil.TS(5, 10, 0), "ingestor.a"),
		testutil.SignalWithID("s-c2", testutil.TS(5, 10, 0), "ingestor.a"),
		testutil.SignalWithID("s-c3", testutil.TS(5, 10, 1), "ingestor.a"),
		testutil.SignalWithID("s-c4", testutil.TS(5, 10, 2), "ingestor.a"),
	}
	_, err := s.WriteSignals(stream, DuplicateRaise)
	require.NoError(t, err)

	// First pass processes the two records at 10:00 and checkpoints there.
	cp, err := BuildSignalCheckpoint(stream[:2])
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.LastTimestamp.Equal(testutil.TS(5, 10, 0)))
	assert.Equal(t, []string{"s-c1", "s-c2"}, cp.SeenIDsAtTimestamp)

	it, err := s.IterSignalsFromCheckpoint(ReplayQuery{
		End:        testutil.TS(5, 23, 0),
		Checkpoint: cp,
	})
	require.NoError(t, err)
	resumed, err := collectSignals(it)
	require.NoError(t, err)

	assert.Equal(t, []string{"s-c3", "s-c4"}, signalIDs(resumed))
}

func TestCheckpointedResumeKeepsBoundarySiblings(t *testing.T) {
	s := openTestStore(t)

	stream := []envelope.SignalEnvelope{
		testutil.SignalWithID("s-done", testutil.TS(5, 10, 0), "ingestor.a"),
		testutil.SignalWithID("s-sibling", testutil.TS(5, 10, 0), "ingestor.a"),
	}
	_, err := s.WriteSignals(stream, DuplicateRaise)
	require.NoError(t, err)

	// The checkpoint knows only one of the two records at the boundary
	// instant; the other must still be delivered.
	cp := NewReplayCheckpoint(testutil.TS(5, 10, 0), []string{"s-done"})

	it, err := s.IterSignalsFromCheckpoint(ReplayQuery{
		End:        testutil.TS(5, 23, 0),
		Checkpoint: &cp,
	})
	require.NoError(t, err)
	resumed, err := collectSignals(it)
	require.NoError(t, err)

	assert.Equal(t, []string{"s-sibling"}, signalIDs(resumed))
}

func TestCheckpointedResumeWithoutCheckpoint(t *testing.T) {
	s := openTestStore(t)

	_, err := s.WriteSignal(testutil.SignalWithID("s-1", testutil.TS(5, 10, 0), "ingestor.a"), DuplicateRaise)
	require.NoError(t, err)

	// Nil checkpoint and zero start: the scan covers everything up to end.
	it, err := s.IterSignalsFromCheckpoint(ReplayQuery{End: testutil.TS(5, 23, 0)})
	require.NoError(t, err)
	resumed, err := collectSignals(it)
	require.NoError(t, err)

	assert.Equal(t, []string{"s-1"}, signalIDs(resumed))
}

func TestCheckpointStartLaterThanCheckpointWins(t *testing.T) {
	s := openTestStore(t)

	stream := []envelope.SignalEnvelope{
		testutil.SignalWithID("s-old", testutil.TS(5, 10, 0), "ingestor.a"),
		testutil.SignalWithID("s-new", testutil.TS(5, 12, 0), "ingestor.a"),
	}
	_, err := s.WriteSignals(stream, DuplicateRaise)
	require.NoError(t, err)

	cp := NewReplayCheckpoint(testutil.TS(5, 9, 0), nil)
	it, err := s.IterSignalsFromCheckpoint(ReplayQuery{
		Start:      testutil.TS(5, 11, 0),
		End:        testutil.TS(5, 23, 0),
		Checkpoint: &cp,
	})
	require.NoError(t, err)
	resumed, err := collectSignals(it)
	require.NoError(t, err)

	assert.Equal(t, []string{"s-new"}, signalIDs(resumed))
}

func TestReplayIsDeterministic(t *testing.T) {
	s := openTestStore(t)

	stream := []envelope.SignalEnvelope{
		testutil.SignalWithID("s-1", testutil.TS(5, 10, 0), "ingestor.a"),
		testutil.SignalWithID("s-2", testutil.TS(5, 10, 30), "ingestor.b"),
		testutil.SignalWithID("s-3", testutil.TS(6, 9, 0), "ingestor.a"),
	}
	_, err := s.WriteSignals(stream, DuplicateRaise)
	require.NoError(t, err)

	var passes [][]string
	for i := 0; i < 3; i++ {
		it, err := s.IterSignals(testutil.TS(5, 0, 0), testutil.TS(7, 0, 0), SignalFilter{})
		require.NoError(t, err)
		signals, err := collectSignals(it)
		require.NoError(t, err)
		passes = append(passes, signalIDs(signals))
	}

	assert.Equal(t, passes[0], passes[1])
	assert.Equal(t, passes[1], passes[2])
	assert.Equal(t, []string{"s-1", "s-2", "s-3"}, passes[0])
}

func TestWriteAndReadCheckpoint(t *testing.T) {
	s := openTestStore(t)

	cp := NewReplayCheckpoint(testutil.TS(5, 10, 1), []string{"s-c1", "s-c2", "s-c1"})
	assert.Equal(t, []string{"s-c1", "s-c2"}, cp.SeenIDsAtTimestamp)

	path, err := s.WriteCheckpoint("router", cp)
	require.NoError(t, err)
	assert.Contains(t, path, "router.json")

	loaded, err := s.ReadCheckpoint("router")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.LastTimestamp.Equal(cp.LastTimestamp))
	assert.Equal(t, cp.SeenIDsAtTimestamp, loaded.SeenIDsAtTimestamp)
	assert.Equal(t, "0.1", loaded.SchemaVersion)
}

func TestReadCheckpointMissing(t *testing.T) {
	s := openTestStore(t)

	cp, err := s.ReadCheckpoint("nope")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestCheckpointNaiveTimestampsTreatedAsUTC(t *testing.T) {
	zone := time.FixedZone("CET", 3600)
	local := time.Date(2026, time.February, 5, 11, 0, 0, 0, zone)

	cp := NewReplayCheckpoint(local, nil)
	assert.Equal(t, time.UTC, cp.LastTimestamp.Location())
	assert.True(t, cp.LastTimestamp.Equal(testutil.TS(5, 10, 0)))
}
