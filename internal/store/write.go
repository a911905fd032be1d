package store

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/timeutil"
)

// DuplicatePolicy selects what a write does when the record id already has a
// partition binding.
type DuplicatePolicy string

const (
	// DuplicateIgnore returns the existing partition path without writing.
	DuplicateIgnore DuplicatePolicy = "ignore"

	// DuplicateReturnExisting returns the existing partition path without
	// writing. Alias of DuplicateIgnore kept for caller intent.
	DuplicateReturnExisting DuplicatePolicy = "return_existing"

	// DuplicateRaise returns a DuplicateEventError carrying the id and the
	// existing partition path.
	DuplicateRaise DuplicatePolicy = "raise"
)

// WriteSignal appends a signal and returns the partition path it was written
// to, or the existing partition path for duplicates (per policy).
//
// The envelope must carry a non-empty signal_id and schema_version. A later
// arrival with a known id routes to the original partition regardless of its
// timestamp; the scanner never observes a second copy.
func (s *Store) WriteSignal(sig envelope.SignalEnvelope, onDuplicate DuplicatePolicy) (string, error) {
	if err := sig.Validate(); err != nil {
		return "", invalidInput("%v", err)
	}

	index, err := s.getSignalIndex()
	if err != nil {
		return "", err
	}

	if existing, ok := index[sig.SignalID]; ok {
		return resolveDuplicate(existing, onDuplicate, "signal_id", sig.SignalID)
	}

	destination := filepath.Join(s.signalsDir, timeutil.PartitionDay(sig.Timestamp)+".jsonl")
	line, err := sig.MarshalWire()
	if err != nil {
		return "", fmt.Errorf("write signal %s: %w", sig.SignalID, err)
	}
	if err := appendLine(destination, line); err != nil {
		return "", fmt.Errorf("write signal %s: %w", sig.SignalID, err)
	}

	index[sig.SignalID] = destination
	s.log.WithFields(logrus.Fields{"signal_id": sig.SignalID, "partition": destination}).Debug("appended signal")
	return destination, nil
}

// WriteSignals appends a batch of signals with the same duplicate policy
// applied per element, returning the ordered list of partition paths.
func (s *Store) WriteSignals(sigs []envelope.SignalEnvelope, onDuplicate DuplicatePolicy) ([]string, error) {
	paths := make([]string, 0, len(sigs))
	for _, sig := range sigs {
		path, err := s.WriteSignal(sig, onDuplicate)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteEmission appends an emission and returns the partition path it was
// written to, or the existing partition path for duplicates (per policy).
func (s *Store) WriteEmission(em envelope.EmissionEnvelope, onDuplicate DuplicatePolicy) (string, error) {
	if err := em.Validate(); err != nil {
		return "", invalidInput("%v", err)
	}

	index, err := s.getEmissionIndex()
	if err != nil {
		return "", err
	}

	if existing, ok := index[em.EmissionID]; ok {
		return resolveDuplicate(existing, onDuplicate, "emission_id", em.EmissionID)
	}

	destination := filepath.Join(s.emissionsDir, timeutil.PartitionDay(em.Timestamp)+".jsonl")
	line, err := em.MarshalWire()
	if err != nil {
		return "", fmt.Errorf("write emission %s: %w", em.EmissionID, err)
	}
	if err := appendLine(destination, line); err != nil {
		return "", fmt.Errorf("write emission %s: %w", em.EmissionID, err)
	}

	index[em.EmissionID] = destination
	s.log.WithFields(logrus.Fields{"emission_id": em.EmissionID, "partition": destination}).Debug("appended emission")
	return destination, nil
}

// WriteEmissions appends a batch of emissions with the same duplicate policy
// applied per element, returning the ordered list of partition paths.
func (s *Store) WriteEmissions(ems []envelope.EmissionEnvelope, onDuplicate DuplicatePolicy) ([]string, error) {
	paths := make([]string, 0, len(ems))
	for _, em := range ems {
		path, err := s.WriteEmission(em, onDuplicate)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// resolveDuplicate applies the duplicate policy for an id that already has a
// partition binding. No partition file is touched on any branch.
func resolveDuplicate(existingPath string, policy DuplicatePolicy, idField, id string) (string, error) {
	switch policy {
	case DuplicateIgnore, DuplicateReturnExisting:
		return existingPath, nil
	case DuplicateRaise:
		return "", &DuplicateEventError{IDField: idField, ID: id, Path: existingPath}
	default:
		return "", invalidInput("unsupported duplicate policy %q", string(policy))
	}
}
