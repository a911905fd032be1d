package store

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/timeutil"
)

// ResolvedEntityPayloadTypes is the closed set of payload types that mark a
// signal as entity-resolved even when it carries no entity refs.
var ResolvedEntityPayloadTypes = []string{"EntityResolved", "EntityMerged", "EntityAliasAdded"}

var resolvedEntityPayloadTypeSet = toSet(ResolvedEntityPayloadTypes)

// RecentByEntityQuery parameterizes RecentSignalsByEntity. Zero Start means
// the Unix epoch; zero End means now.
type RecentByEntityQuery struct {
	EntityRef envelope.EntityRef
	Limit     int
	Start     time.Time
	End       time.Time
	Sources   []string
}

// RecentSignalsByEntity returns the last N signals for an entity in
// deterministic reverse chronological order, tie-broken by id descending.
// A non-positive limit returns an empty result.
func (s *Store) RecentSignalsByEntity(q RecentByEntityQuery) ([]envelope.SignalEnvelope, error) {
	if q.Limit <= 0 {
		return []envelope.SignalEnvelope{}, nil
	}
	start, end := windowDefaults(q.Start, q.End)

	it, err := s.IterSignals(start, end, SignalFilter{EntityRef: &q.EntityRef, Sources: q.Sources})
	if err != nil {
		return nil, err
	}
	signals, err := collectSignals(it)
	if err != nil {
		return nil, err
	}

	sortSignalsDesc(signals)
	return capSignals(signals, q.Limit), nil
}

// RecentBySourceQuery parameterizes RecentSignalsBySource.
type RecentBySourceQuery struct {
	Source    string
	Limit     int
	Start     time.Time
	End       time.Time
	EntityRef *envelope.EntityRef
}

// RecentSignalsBySource returns the last N signals for a source in
// deterministic reverse chronological order, tie-broken by id descending.
func (s *Store) RecentSignalsBySource(q RecentBySourceQuery) ([]envelope.SignalEnvelope, error) {
	if q.Limit <= 0 {
		return []envelope.SignalEnvelope{}, nil
	}
	start, end := windowDefaults(q.Start, q.End)

	it, err := s.IterSignals(start, end, SignalFilter{EntityRef: q.EntityRef, Sources: []string{q.Source}})
	if err != nil {
		return nil, err
	}
	signals, err := collectSignals(it)
	if err != nil {
		return nil, err
	}

	sortSignalsDesc(signals)
	return capSignals(signals, q.Limit), nil
}

// CandidateQuery parameterizes IterEntityCandidateSignals. Resolved is a
// tri-state filter: true yields only resolved signals, false only
// unresolved, nil all.
type CandidateQuery struct {
	Start    time.Time
	End      time.Time
	Resolved *bool
	Sources  []string
}

// IterEntityCandidateSignals streams candidate resolver signals. A signal
// counts as resolved iff it carries entity refs or its payload type is in
// ResolvedEntityPayloadTypes.
func (s *Store) IterEntityCandidateSignals(q CandidateQuery) (*SignalIterator, error) {
	start, end := windowDefaults(q.Start, q.End)
	it, err := s.IterSignals(start, end, SignalFilter{Sources: q.Sources})
	if err != nil {
		return nil, err
	}

	if q.Resolved != nil {
		want := *q.Resolved
		it.keep = func(sig envelope.SignalEnvelope) bool {
			return isEntityResolved(sig) == want
		}
	}
	return it, nil
}

// isEntityResolved classifies a signal for the candidate resolver stream.
func isEntityResolved(sig envelope.SignalEnvelope) bool {
	if len(sig.EntityRefs) > 0 {
		return true
	}
	_, ok := resolvedEntityPayloadTypeSet[sig.PayloadType]
	return ok
}

// StageWindowQuery parameterizes IterStageWindowSignals.
type StageWindowQuery struct {
	Stage        string
	Start        time.Time
	End          time.Time
	Checkpoint   *ReplayCheckpoint
	EntityRef    *envelope.EntityRef
	Sources      []string
	PayloadTypes []string
}

// IterStageWindowSignals replays a stage window for chained workers.
//
// Signals come from checkpoint-aware replay, then pass through:
//   - the explicit Sources filter when provided, otherwise the stage prefix
//     rule (source equals Stage or starts with "Stage.")
//   - the optional PayloadTypes allow-list
func (s *Store) IterStageWindowSignals(q StageWindowQuery) (*SignalIterator, error) {
	it, err := s.IterSignalsFromCheckpoint(ReplayQuery{
		Start:      q.Start,
		End:        q.End,
		Checkpoint: q.Checkpoint,
		EntityRef:  q.EntityRef,
		Sources:    q.Sources,
	})
	if err != nil {
		return nil, err
	}

	explicitSources := len(q.Sources) > 0
	payloadTypes := toSet(q.PayloadTypes)
	stagePrefix := q.Stage + "."

	it.keep = func(sig envelope.SignalEnvelope) bool {
		if !explicitSources && sig.Source != q.Stage && !strings.HasPrefix(sig.Source, stagePrefix) {
			return false
		}
		if payloadTypes != nil {
			if _, ok := payloadTypes[sig.PayloadType]; !ok {
				return false
			}
		}
		return true
	}
	return it, nil
}

// ReplayFilterQuery parameterizes the recommendation and learning replay
// streams: checkpoint-aware iteration plus an optional payload-type
// allow-list.
type ReplayFilterQuery struct {
	Start        time.Time
	End          time.Time
	Checkpoint   *ReplayCheckpoint
	EntityRef    *envelope.EntityRef
	Sources      []string
	PayloadTypes []string
}

// IterRecommendationSignals replays recommendation-scoped signals with
// optional checkpoint and filters.
func (s *Store) IterRecommendationSignals(q ReplayFilterQuery) (*SignalIterator, error) {
	return s.iterFilteredReplay(q)
}

// IterLearningSignals replays learning-loop signal records with optional
// checkpoint and filters.
func (s *Store) IterLearningSignals(q ReplayFilterQuery) (*SignalIterator, error) {
	return s.iterFilteredReplay(q)
}

func (s *Store) iterFilteredReplay(q ReplayFilterQuery) (*SignalIterator, error) {
	it, err := s.IterSignalsFromCheckpoint(ReplayQuery{
		Start:      q.Start,
		End:        q.End,
		Checkpoint: q.Checkpoint,
		EntityRef:  q.EntityRef,
		Sources:    q.Sources,
	})
	if err != nil {
		return nil, err
	}

	if payloadTypes := toSet(q.PayloadTypes); payloadTypes != nil {
		it.keep = func(sig envelope.SignalEnvelope) bool {
			_, ok := payloadTypes[sig.PayloadType]
			return ok
		}
	}
	return it, nil
}

// IterLearningEmissions replays learning-loop emissions with deterministic
// duplicate-safe behavior.
func (s *Store) IterLearningEmissions(start, end time.Time, filter EmissionFilter) (*EmissionIterator, error) {
	return s.IterEmissions(start, end, filter)
}

// TopCandidatesQuery parameterizes TopRecommendationCandidates. ScoreField
// defaults to "score". By default one signal is kept per entity (keyed on
// the first entity ref); set AllowRepeatedEntities to rank every signal
// independently.
type TopCandidatesQuery struct {
	Start                 time.Time
	End                   time.Time
	Limit                 int
	EntityRef             *envelope.EntityRef
	Sources               []string
	PayloadTypes          []string
	ScoreField            string
	AllowRepeatedEntities bool
}

// TopRecommendationCandidates returns the top ranked recommendation
// candidates for a window, ordered by (score desc, timestamp desc, id desc).
//
// Signals without a payload mapping, without a numeric score, or with a NaN
// score are skipped.
func (s *Store) TopRecommendationCandidates(q TopCandidatesQuery) ([]envelope.SignalEnvelope, error) {
	if q.Limit <= 0 {
		return []envelope.SignalEnvelope{}, nil
	}
	scoreField := q.ScoreField
	if scoreField == "" {
		scoreField = "score"
	}
	payloadTypes := toSet(q.PayloadTypes)
	start, end := windowDefaults(q.Start, q.End)

	it, err := s.IterSignals(start, end, SignalFilter{EntityRef: q.EntityRef, Sources: q.Sources})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	type candidate struct {
		score  float64
		signal envelope.SignalEnvelope
	}
	candidates := []candidate{}
	for it.Next() {
		sig := it.Signal()
		if payloadTypes != nil {
			if _, ok := payloadTypes[sig.PayloadType]; !ok {
				continue
			}
		}
		if sig.Payload == nil {
			continue
		}

		raw, present := sig.Payload[scoreField]
		score := 0.0
		if present {
			var ok bool
			score, ok = numericScore(raw)
			if !ok {
				continue
			}
		}
		if math.IsNaN(score) {
			continue
		}
		candidates = append(candidates, candidate{score: score, signal: sig})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		ti, tj := candidates[i].signal.Timestamp, candidates[j].signal.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return candidates[i].signal.SignalID > candidates[j].signal.SignalID
	})

	if q.AllowRepeatedEntities {
		selected := []envelope.SignalEnvelope{}
		for _, c := range candidates {
			if len(selected) >= q.Limit {
				break
			}
			selected = append(selected, c.signal)
		}
		return selected, nil
	}

	selected := []envelope.SignalEnvelope{}
	seenEntities := make(map[string]struct{})
	for _, c := range candidates {
		key := entityKey(c.signal)
		if _, dup := seenEntities[key]; dup {
			continue
		}
		seenEntities[key] = struct{}{}
		selected = append(selected, c.signal)
		if len(selected) >= q.Limit {
			break
		}
	}
	return selected, nil
}

// entityKey derives the uniqueness key for entity-level candidate dedup:
// the first entity ref, or the signal id when the signal carries none.
func entityKey(sig envelope.SignalEnvelope) string {
	if len(sig.EntityRefs) > 0 {
		return sig.EntityRefs[0].Key()
	}
	return "signal:" + sig.SignalID
}

// numericScore coerces a payload score value to float64. Non-numeric values
// report ok=false.
func numericScore(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// LatestDraftsQuery parameterizes LatestDraftSignals.
type LatestDraftsQuery struct {
	Limit        int
	Start        time.Time
	End          time.Time
	EntityRef    *envelope.EntityRef
	Sources      []string
	PayloadTypes []string
}

// LatestDraftSignals returns the latest draft-related signals in
// deterministic descending (timestamp, id) order.
func (s *Store) LatestDraftSignals(q LatestDraftsQuery) ([]envelope.SignalEnvelope, error) {
	if q.Limit <= 0 {
		return []envelope.SignalEnvelope{}, nil
	}
	start, end := windowDefaults(q.Start, q.End)

	it, err := s.IterSignals(start, end, SignalFilter{EntityRef: q.EntityRef, Sources: q.Sources})
	if err != nil {
		return nil, err
	}
	signals, err := collectSignals(it)
	if err != nil {
		return nil, err
	}

	if payloadTypes := toSet(q.PayloadTypes); payloadTypes != nil {
		filtered := signals[:0]
		for _, sig := range signals {
			if _, ok := payloadTypes[sig.PayloadType]; ok {
				filtered = append(filtered, sig)
			}
		}
		signals = filtered
	}

	sortSignalsDesc(signals)
	return capSignals(signals, q.Limit), nil
}

// LatestApprovalsQuery parameterizes LatestApprovalOutcomes.
type LatestApprovalsQuery struct {
	Limit         int
	Start         time.Time
	End           time.Time
	EntityRef     *envelope.EntityRef
	EmissionTypes []string
}

// LatestApprovalOutcomes returns the latest approval-related emissions in
// deterministic descending (timestamp, id) order.
func (s *Store) LatestApprovalOutcomes(q LatestApprovalsQuery) ([]envelope.EmissionEnvelope, error) {
	if q.Limit <= 0 {
		return []envelope.EmissionEnvelope{}, nil
	}
	start, end := windowDefaults(q.Start, q.End)

	it, err := s.IterEmissions(start, end, EmissionFilter{EntityRef: q.EntityRef, EmissionTypes: q.EmissionTypes})
	if err != nil {
		return nil, err
	}
	emissions, err := collectEmissions(it)
	if err != nil {
		return nil, err
	}

	sortEmissionsDesc(emissions)
	if len(emissions) > q.Limit {
		emissions = emissions[:q.Limit]
	}
	return emissions, nil
}

// windowDefaults substitutes the Unix epoch for a zero start and now for a
// zero end.
func windowDefaults(start, end time.Time) (time.Time, time.Time) {
	if start.IsZero() {
		start = timeutil.UnixEpoch()
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return timeutil.EnsureUTC(start), timeutil.EnsureUTC(end)
}

func capSignals(signals []envelope.SignalEnvelope, limit int) []envelope.SignalEnvelope {
	if len(signals) > limit {
		return signals[:limit]
	}
	return signals
}

// sortSignalsAsc orders by (timestamp, id) ascending.
func sortSignalsAsc(signals []envelope.SignalEnvelope) {
	sort.Slice(signals, func(i, j int) bool {
		if !signals[i].Timestamp.Equal(signals[j].Timestamp) {
			return signals[i].Timestamp.Before(signals[j].Timestamp)
		}
		return signals[i].SignalID < signals[j].SignalID
	})
}

// sortSignalsDesc orders by (timestamp, id) descending.
func sortSignalsDesc(signals []envelope.SignalEnvelope) {
	sort.Slice(signals, func(i, j int) bool {
		if !signals[i].Timestamp.Equal(signals[j].Timestamp) {
			return signals[i].Timestamp.After(signals[j].Timestamp)
		}
		return signals[i].SignalID > signals[j].SignalID
	})
}

// sortEmissionsAsc orders by (timestamp, id) ascending.
func sortEmissionsAsc(emissions []envelope.EmissionEnvelope) {
	sort.Slice(emissions, func(i, j int) bool {
		if !emissions[i].Timestamp.Equal(emissions[j].Timestamp) {
			return emissions[i].Timestamp.Before(emissions[j].Timestamp)
		}
		return emissions[i].EmissionID < emissions[j].EmissionID
	})
}

// sortEmissionsDesc orders by (timestamp, id) descending.
func sortEmissionsDesc(emissions []envelope.EmissionEnvelope) {
	sort.Slice(emissions, func(i, j int) bool {
		if !emissions[i].Timestamp.Equal(emissions[j].Timestamp) {
			return emissions[i].Timestamp.After(emissions[j].Timestamp)
		}
		return emissions[i].EmissionID > emissions[j].EmissionID
	})
}
