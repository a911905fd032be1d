package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// getSignalIndex returns the signal dedup index, building it from disk on
// first use.
func (s *Store) getSignalIndex() (map[string]string, error) {
	if s.signalIndex == nil {
		index, err := buildIndex(s.signalsDir, "signal_id")
		if err != nil {
			return nil, fmt.Errorf("build signal index: %w", err)
		}
		s.signalIndex = index
		s.log.WithFields(logrus.Fields{"dir": s.signalsDir, "ids": len(index)}).Debug("built signal index")
	}
	return s.signalIndex, nil
}

// getEmissionIndex returns the emission dedup index, building it from disk
// on first use.
func (s *Store) getEmissionIndex() (map[string]string, error) {
	if s.emissionIndex == nil {
		index, err := buildIndex(s.emissionsDir, "emission_id")
		if err != nil {
			return nil, fmt.Errorf("build emission index: %w", err)
		}
		s.emissionIndex = index
		s.log.WithFields(logrus.Fields{"dir": s.emissionsDir, "ids": len(index)}).Debug("built emission index")
	}
	return s.emissionIndex, nil
}

// buildIndex scans every partition file in baseDir and maps each record id
// to the partition that holds it. Partitions are enumerated in lexicographic
// order, which the date naming makes chronological, so the first-seen
// tiebreak is stable across restarts. Records whose id is missing or not a
// string are not indexable and are skipped.
func buildIndex(baseDir, idField string) (map[string]string, error) {
	partitions, err := filepath.Glob(filepath.Join(baseDir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("enumerate partitions: %w", err)
	}
	sort.Strings(partitions)

	index := make(map[string]string)
	for _, partition := range partitions {
		if err := indexPartition(index, partition, idField); err != nil {
			return nil, err
		}
	}
	return index, nil
}

// indexPartition inserts id -> partition for every record in one file,
// first-seen wins. Blank lines are ignored; malformed JSON is structural
// corruption and surfaces to the caller.
func indexPartition(index map[string]string, partition, idField string) error {
	f, err := os.Open(partition)
	if err != nil {
		return fmt.Errorf("open %s: %w", partition, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("%s:%d: decode record: %w", partition, lineNo, err)
		}

		id, ok := record[idField].(string)
		if !ok || id == "" {
			continue
		}
		if _, exists := index[id]; !exists {
			index[id] = partition
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", partition, err)
	}
	return nil
}
