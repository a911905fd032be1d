package store

import (
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metaspn/store/internal/timeutil"
)

// snapshotSchemaVersion is the serialized snapshot document version.
const snapshotSchemaVersion = "0.1"

// WriteSnapshot persists an arbitrary state document under
// <name>__<timestamp>.json, timestamped per instant so successive snapshots
// never collide. A zero at means now.
func (s *Store) WriteSnapshot(name string, state any, at time.Time) (string, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	destination := filepath.Join(s.snapshotsDir, name+"__"+timeutil.SnapshotToken(at)+".json")
	if err := writeDocument(destination, state); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"snapshot": filepath.Base(destination)}).Debug("wrote snapshot")
	return destination, nil
}

// wireDigest is the on-disk form of a daily digest snapshot.
type wireDigest struct {
	Day           string         `json:"day"`
	Digest        map[string]any `json:"digest"`
	SchemaVersion string         `json:"schema_version"`
}

// WriteDailyDigestSnapshot persists the digest for one day under
// digest__<day>.json. Rewriting the same digest is byte-idempotent. day is a
// time.Time or an ISO date string.
func (s *Store) WriteDailyDigestSnapshot(day any, digest map[string]any) (string, error) {
	dayToken, err := normalizeDay(day)
	if err != nil {
		return "", err
	}
	if digest == nil {
		digest = map[string]any{}
	}

	destination := filepath.Join(s.snapshotsDir, "digest__"+dayToken+".json")
	doc := wireDigest{Day: dayToken, Digest: digest, SchemaVersion: snapshotSchemaVersion}
	if err := writeDocument(destination, doc); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"day": dayToken}).Debug("wrote daily digest")
	return destination, nil
}

// ReadDailyDigestSnapshot loads the digest for one day. A missing snapshot
// returns nil with no error.
func (s *Store) ReadDailyDigestSnapshot(day any) (map[string]any, error) {
	dayToken, err := normalizeDay(day)
	if err != nil {
		return nil, err
	}

	source := filepath.Join(s.snapshotsDir, "digest__"+dayToken+".json")
	var doc wireDigest
	found, err := readDocument(source, &doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return doc.Digest, nil
}

// wireCalibration is the on-disk form of a calibration report snapshot.
type wireCalibration struct {
	Day           string         `json:"day"`
	Report        map[string]any `json:"report"`
	SchemaVersion string         `json:"schema_version"`
}

// WriteCalibrationReportSnapshot persists a per-day calibration report under
// calibration__<day>.json with the same idempotence contract as the daily
// digest.
func (s *Store) WriteCalibrationReportSnapshot(day any, report map[string]any) (string, error) {
	dayToken, err := normalizeDay(day)
	if err != nil {
		return "", err
	}
	if report == nil {
		report = map[string]any{}
	}

	destination := filepath.Join(s.snapshotsDir, "calibration__"+dayToken+".json")
	doc := wireCalibration{Day: dayToken, Report: report, SchemaVersion: snapshotSchemaVersion}
	if err := writeDocument(destination, doc); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"day": dayToken}).Debug("wrote calibration report")
	return destination, nil
}

// ReadCalibrationReportSnapshot loads a per-day calibration report. A
// missing snapshot returns nil with no error.
func (s *Store) ReadCalibrationReportSnapshot(day any) (map[string]any, error) {
	dayToken, err := normalizeDay(day)
	if err != nil {
		return nil, err
	}

	source := filepath.Join(s.snapshotsDir, "calibration__"+dayToken+".json")
	var doc wireCalibration
	found, err := readDocument(source, &doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return doc.Report, nil
}

// DailyDigest computes the record counts for one day's partitions. The shape
// matches what WriteDailyDigestSnapshot persists.
func (s *Store) DailyDigest(day any) (map[string]any, error) {
	dayToken, err := normalizeDay(day)
	if err != nil {
		return nil, err
	}
	dayStart, parseErr := time.ParseInLocation(timeutil.DayLayout, dayToken, time.UTC)
	if parseErr != nil {
		return nil, invalidInput("bad day %q", dayToken)
	}
	dayEnd := dayStart.Add(24*time.Hour - time.Nanosecond)

	sigIt, err := s.IterSignals(dayStart, dayEnd, SignalFilter{})
	if err != nil {
		return nil, err
	}
	signals, err := collectSignals(sigIt)
	if err != nil {
		return nil, err
	}

	emIt, err := s.IterEmissions(dayStart, dayEnd, EmissionFilter{})
	if err != nil {
		return nil, err
	}
	emissions, err := collectEmissions(emIt)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"signals":   len(signals),
		"emissions": len(emissions),
	}, nil
}

// normalizeDay accepts a time.Time or an ISO date string and returns the
// partition day token.
func normalizeDay(day any) (string, error) {
	switch d := day.(type) {
	case time.Time:
		return timeutil.PartitionDay(d), nil
	case string:
		return d, nil
	default:
		return "", invalidInput("day must be a time or an ISO date string, got %T", day)
	}
}
