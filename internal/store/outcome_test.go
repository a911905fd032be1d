package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/testutil"
)

func seedOutcomeWindow(t *testing.T, s *Store) {
	t.Helper()

	expiresEarly := testutil.TS(5, 11, 0).Format(time.RFC3339)
	expiresLate := testutil.TS(5, 20, 0).Format(time.RFC3339)

	signals := []envelope.SignalEnvelope{
		testutil.SignalWithID("o1", testutil.TS(5, 9, 0), "evaluate",
			testutil.WithPayloadType("OutcomePending"),
			testutil.WithSignalPayload(map[string]any{"expires_at": expiresEarly})),
		testutil.SignalWithID("o2", testutil.TS(5, 9, 30), "evaluate",
			testutil.WithPayloadType("OutcomePending"),
			testutil.WithSignalPayload(map[string]any{"expires_at": expiresLate})),
		testutil.SignalWithID("o3", testutil.TS(5, 10, 0), "evaluate",
			testutil.WithPayloadType("OutcomePending"),
			testutil.WithSignalPayload(map[string]any{"expires_at": expiresLate})),
		testutil.SignalWithID("o4", testutil.TS(5, 10, 30), "evaluate",
			testutil.WithPayloadType("OutcomePending"),
			testutil.WithSignalPayload(map[string]any{"expires_at": expiresLate})),
	}
	_, err := s.WriteSignals(signals, DuplicateRaise)
	require.NoError(t, err)

	emissions := []envelope.EmissionEnvelope{
		testutil.EmissionWithID("e-o1", testutil.TS(5, 11, 0), "OutcomeSuccess", testutil.WithCausedBy("o3")),
		testutil.EmissionWithID("e-o2", testutil.TS(5, 11, 30), "OutcomeFailure", testutil.WithCausedBy("o4")),
	}
	_, err = s.WriteEmissions(emissions, DuplicateRaise)
	require.NoError(t, err)
}

func TestOutcomeWindowBuckets(t *testing.T) {
	s := openTestStore(t)
	seedOutcomeWindow(t, s)

	now := testutil.TS(5, 12, 0)
	buckets, err := s.OutcomeWindowBuckets(now, OutcomeQuery{
		Start: testutil.TS(5, 0, 0),
		End:   testutil.TS(5, 23, 0),
	})
	require.NoError(t, err)

	// o3 and o4 are resolved by emissions; o1 expired before now; o2 waits.
	assert.Equal(t, []string{"o2"}, signalIDs(buckets.Pending))
	assert.Equal(t, []string{"o1"}, signalIDs(buckets.Expired))
	require.Len(t, buckets.Success, 1)
	assert.Equal(t, "e-o1", buckets.Success[0].EmissionID)
	require.Len(t, buckets.Failure, 1)
	assert.Equal(t, "e-o2", buckets.Failure[0].EmissionID)
}

func TestUnresolvedOutcomeSignals(t *testing.T) {
	s := openTestStore(t)
	seedOutcomeWindow(t, s)

	unresolved, err := s.UnresolvedOutcomeSignals(OutcomeQuery{
		Start: testutil.TS(5, 0, 0),
		End:   testutil.TS(5, 23, 0),
	})
	require.NoError(t, err)

	// Resolution ignores expiry: o1 and o2 have no terminal emission.
	assert.Equal(t, []string{"o1", "o2"}, signalIDs(unresolved))
}

func TestExpiredOutcomeSignals(t *testing.T) {
	s := openTestStore(t)
	seedOutcomeWindow(t, s)

	expired, err := s.ExpiredOutcomeSignals(testutil.TS(5, 12, 0), OutcomeQuery{
		Start: testutil.TS(5, 0, 0),
		End:   testutil.TS(5, 23, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, signalIDs(expired))

	// An expiry exactly at now is not yet expired.
	expired, err = s.ExpiredOutcomeSignals(testutil.TS(5, 11, 0), OutcomeQuery{
		Start: testutil.TS(5, 0, 0),
		End:   testutil.TS(5, 23, 0),
	})
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestOutcomeSignalsWithoutExpiryNeverExpire(t *testing.T) {
	s := openTestStore(t)

	sig := testutil.SignalWithID("o-open", testutil.TS(5, 9, 0), "evaluate",
		testutil.WithPayloadType("OutcomePending"))
	_, err := s.WriteSignal(sig, DuplicateRaise)
	require.NoError(t, err)

	buckets, err := s.OutcomeWindowBuckets(testutil.TS(9, 0, 0), OutcomeQuery{
		Start: testutil.TS(5, 0, 0),
		End:   testutil.TS(9, 0, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"o-open"}, signalIDs(buckets.Pending))
	assert.Empty(t, buckets.Expired)
}

func TestOutcomeTypeSetOverrides(t *testing.T) {
	s := openTestStore(t)

	sig := testutil.SignalWithID("o-custom", testutil.TS(5, 9, 0), "evaluate",
		testutil.WithPayloadType("CustomPending"))
	_, err := s.WriteSignal(sig, DuplicateRaise)
	require.NoError(t, err)

	// The default pending set does not know the custom type.
	unresolved, err := s.UnresolvedOutcomeSignals(OutcomeQuery{
		Start: testutil.TS(5, 0, 0),
		End:   testutil.TS(5, 23, 0),
	})
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	unresolved, err = s.UnresolvedOutcomeSignals(OutcomeQuery{
		Start: testutil.TS(5, 0, 0),
		End:   testutil.TS(5, 23, 0),
		Types: &OutcomeTypeSets{Pending: []string{"CustomPending"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"o-custom"}, signalIDs(unresolved))
}

func TestLoadOutcomeTypeSets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outcomes.yaml")
	config := "pending:\n  - CustomPending\nsuccess:\n  - CustomSuccess\n"
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))

	sets, err := LoadOutcomeTypeSets(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"CustomPending"}, sets.Pending)
	assert.Equal(t, []string{"CustomSuccess"}, sets.Success)
	// Buckets absent from the file keep the defaults.
	assert.Equal(t, DefaultFailureEmissionTypes, sets.Failure)
}

func TestLoadOutcomeTypeSetsMissingFile(t *testing.T) {
	_, err := LoadOutcomeTypeSets(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
