package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/timeutil"
)

// Default outcome classification sets. A deployment can replace any bucket
// through WithOutcomeTypeSets or a YAML config loaded with
// LoadOutcomeTypeSets.
var (
	DefaultPendingOutcomePayloadTypes = []string{"OutcomePending", "EvaluationRequested", "RecommendationAttempted"}
	DefaultSuccessEmissionTypes       = []string{"OutcomeSuccess", "DraftApproved"}
	DefaultFailureEmissionTypes       = []string{"OutcomeFailure", "DraftRejected"}
)

// OutcomeTypeSets holds the payload and emission type names that drive
// outcome bucket classification.
type OutcomeTypeSets struct {
	Pending []string `yaml:"pending"`
	Success []string `yaml:"success"`
	Failure []string `yaml:"failure"`
}

// withDefaults fills empty buckets from the package defaults.
func (o OutcomeTypeSets) withDefaults() OutcomeTypeSets {
	if len(o.Pending) == 0 {
		o.Pending = DefaultPendingOutcomePayloadTypes
	}
	if len(o.Success) == 0 {
		o.Success = DefaultSuccessEmissionTypes
	}
	if len(o.Failure) == 0 {
		o.Failure = DefaultFailureEmissionTypes
	}
	return o
}

// LoadOutcomeTypeSets reads outcome bucket type sets from a YAML file.
// Buckets absent from the file keep the package defaults.
func LoadOutcomeTypeSets(path string) (OutcomeTypeSets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return OutcomeTypeSets{}, fmt.Errorf("read outcome config: %w", err)
	}

	var sets OutcomeTypeSets
	if err := yaml.Unmarshal(data, &sets); err != nil {
		return OutcomeTypeSets{}, fmt.Errorf("parse outcome config %s: %w", path, err)
	}
	return sets.withDefaults(), nil
}

// OutcomeQuery parameterizes the outcome tracking reads. Types overrides the
// store-wide buckets for a single call; ExpiresAtField defaults to
// "expires_at".
type OutcomeQuery struct {
	Start          time.Time
	End            time.Time
	EntityRef      *envelope.EntityRef
	Sources        []string
	Types          *OutcomeTypeSets
	ExpiresAtField string
}

// OutcomeBuckets partitions a window's outcome activity. Pending and Expired
// are disjoint; Success and Failure carry the resolving emissions.
type OutcomeBuckets struct {
	Pending []envelope.SignalEnvelope
	Expired []envelope.SignalEnvelope
	Success []envelope.EmissionEnvelope
	Failure []envelope.EmissionEnvelope
}

// UnresolvedOutcomeSignals returns pending-type signals not yet linked by a
// success or failure emission's caused_by, in ascending (timestamp, id)
// order.
func (s *Store) UnresolvedOutcomeSignals(q OutcomeQuery) ([]envelope.SignalEnvelope, error) {
	types := s.outcomeTypeSets(q)

	resolved, err := s.resolvedSignalIDs(q, types)
	if err != nil {
		return nil, err
	}

	pending, err := s.pendingOutcomeSignals(q, types)
	if err != nil {
		return nil, err
	}

	unresolved := []envelope.SignalEnvelope{}
	for _, sig := range pending {
		if _, done := resolved[sig.SignalID]; done {
			continue
		}
		unresolved = append(unresolved, sig)
	}
	sortSignalsAsc(unresolved)
	return unresolved, nil
}

// ExpiredOutcomeSignals returns unresolved pending signals whose payload
// expiry instant is strictly before now, in ascending (timestamp, id) order.
func (s *Store) ExpiredOutcomeSignals(now time.Time, q OutcomeQuery) ([]envelope.SignalEnvelope, error) {
	unresolved, err := s.UnresolvedOutcomeSignals(q)
	if err != nil {
		return nil, err
	}

	nowUTC := timeutil.EnsureUTC(now)
	field := q.expiresAtField()

	expired := []envelope.SignalEnvelope{}
	for _, sig := range unresolved {
		expiry, ok := signalExpiry(sig, field)
		if !ok {
			continue
		}
		if expiry.Before(nowUTC) {
			expired = append(expired, sig)
		}
	}
	return expired, nil
}

// OutcomeWindowBuckets classifies a window into pending, expired, success
// and failure buckets. Every pending-type signal in the window lands in
// exactly one signal bucket or is resolved by an emission.
func (s *Store) OutcomeWindowBuckets(now time.Time, q OutcomeQuery) (OutcomeBuckets, error) {
	types := s.outcomeTypeSets(q)
	nowUTC := timeutil.EnsureUTC(now)
	field := q.expiresAtField()

	success, err := s.outcomeEmissions(q, types.Success)
	if err != nil {
		return OutcomeBuckets{}, err
	}
	failure, err := s.outcomeEmissions(q, types.Failure)
	if err != nil {
		return OutcomeBuckets{}, err
	}

	resolved := make(map[string]struct{})
	for _, em := range success {
		if em.CausedBy != "" {
			resolved[em.CausedBy] = struct{}{}
		}
	}
	for _, em := range failure {
		if em.CausedBy != "" {
			resolved[em.CausedBy] = struct{}{}
		}
	}

	pendingAll, err := s.pendingOutcomeSignals(q, types)
	if err != nil {
		return OutcomeBuckets{}, err
	}

	buckets := OutcomeBuckets{
		Pending: []envelope.SignalEnvelope{},
		Expired: []envelope.SignalEnvelope{},
		Success: success,
		Failure: failure,
	}
	for _, sig := range pendingAll {
		if _, done := resolved[sig.SignalID]; done {
			continue
		}
		if expiry, ok := signalExpiry(sig, field); ok && expiry.Before(nowUTC) {
			buckets.Expired = append(buckets.Expired, sig)
			continue
		}
		buckets.Pending = append(buckets.Pending, sig)
	}

	sortSignalsAsc(buckets.Pending)
	sortSignalsAsc(buckets.Expired)
	sortEmissionsAsc(buckets.Success)
	sortEmissionsAsc(buckets.Failure)
	return buckets, nil
}

// outcomeTypeSets resolves the effective type sets for one query.
func (s *Store) outcomeTypeSets(q OutcomeQuery) OutcomeTypeSets {
	if q.Types != nil {
		return q.Types.withDefaults()
	}
	return s.outcomeTypes
}

func (q OutcomeQuery) expiresAtField() string {
	if q.ExpiresAtField != "" {
		return q.ExpiresAtField
	}
	return "expires_at"
}

// pendingOutcomeSignals collects the window's pending-type signals.
func (s *Store) pendingOutcomeSignals(q OutcomeQuery, types OutcomeTypeSets) ([]envelope.SignalEnvelope, error) {
	start, end := windowDefaults(q.Start, q.End)

	it, err := s.IterSignals(start, end, SignalFilter{EntityRef: q.EntityRef, Sources: q.Sources})
	if err != nil {
		return nil, err
	}

	pendingTypes := toSet(types.Pending)
	it.keep = func(sig envelope.SignalEnvelope) bool {
		_, ok := pendingTypes[sig.PayloadType]
		return ok
	}
	return collectSignals(it)
}

// outcomeEmissions collects the window's emissions of the given types.
func (s *Store) outcomeEmissions(q OutcomeQuery, emissionTypes []string) ([]envelope.EmissionEnvelope, error) {
	start, end := windowDefaults(q.Start, q.End)

	it, err := s.IterEmissions(start, end, EmissionFilter{EntityRef: q.EntityRef, EmissionTypes: emissionTypes})
	if err != nil {
		return nil, err
	}
	return collectEmissions(it)
}

// resolvedSignalIDs gathers the caused_by ids of the window's success and
// failure emissions.
func (s *Store) resolvedSignalIDs(q OutcomeQuery, types OutcomeTypeSets) (map[string]struct{}, error) {
	terminal := append(append([]string{}, types.Success...), types.Failure...)

	emissions, err := s.outcomeEmissions(q, terminal)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]struct{}, len(emissions))
	for _, em := range emissions {
		if em.CausedBy != "" {
			resolved[em.CausedBy] = struct{}{}
		}
	}
	return resolved, nil
}

// signalExpiry extracts the expiry instant from a signal payload, reporting
// ok=false when the field is absent or unparseable.
func signalExpiry(sig envelope.SignalEnvelope, field string) (time.Time, bool) {
	if sig.Payload == nil {
		return time.Time{}, false
	}
	raw, present := sig.Payload[field]
	if !present {
		return time.Time{}, false
	}
	return timeutil.ParseTimestamp(raw)
}
