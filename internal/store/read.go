package store

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metaspn/store/internal/envelope"
	"github.com/metaspn/store/internal/timeutil"
)

// SignalFilter narrows a signal scan. Zero value means no filtering beyond
// the time range.
type SignalFilter struct {
	EntityRef *envelope.EntityRef
	Sources   []string
}

// EmissionFilter narrows an emission scan. Zero value means no filtering
// beyond the time range.
type EmissionFilter struct {
	EntityRef     *envelope.EntityRef
	EmissionTypes []string
}

// IterSignals streams signals whose canonical timestamp lies in
// [start, end] inclusive, in chronological partition order and append order
// within a partition, deduplicated by signal_id on the fly.
//
// The iterator follows the sql.Rows protocol: Next / Signal / Err / Close.
// It is single-pass and holds at most one partition file handle.
func (s *Store) IterSignals(start, end time.Time, filter SignalFilter) (*SignalIterator, error) {
	startUTC := timeutil.EnsureUTC(start)
	endUTC := timeutil.EnsureUTC(end)
	if endUTC.Before(startUTC) {
		return nil, invalidInput("end must be greater than or equal to start")
	}

	return &SignalIterator{
		dir:       s.signalsDir,
		start:     startUTC,
		end:       endUTC,
		entityRef: filter.EntityRef,
		sources:   toSet(filter.Sources),
		days:      timeutil.Days(startUTC, endUTC),
		seen:      make(map[string]struct{}),
	}, nil
}

// IterEmissions streams emissions whose canonical timestamp lies in
// [start, end] inclusive, with the same ordering and dedup contract as
// IterSignals.
func (s *Store) IterEmissions(start, end time.Time, filter EmissionFilter) (*EmissionIterator, error) {
	startUTC := timeutil.EnsureUTC(start)
	endUTC := timeutil.EnsureUTC(end)
	if endUTC.Before(startUTC) {
		return nil, invalidInput("end must be greater than or equal to start")
	}

	return &EmissionIterator{
		dir:           s.emissionsDir,
		start:         startUTC,
		end:           endUTC,
		entityRef:     filter.EntityRef,
		emissionTypes: toSet(filter.EmissionTypes),
		days:          timeutil.Days(startUTC, endUTC),
		seen:          make(map[string]struct{}),
	}, nil
}

// SignalIterator streams signals from a closed time interval across
// partition files. Not restartable; create a new iterator for a fresh pass.
type SignalIterator struct {
	dir       string
	start     time.Time
	end       time.Time
	entityRef *envelope.EntityRef
	sources   map[string]struct{}

	// keep is an optional post-filter applied after dedup, so filtered-out
	// records still count as seen.
	keep func(envelope.SignalEnvelope) bool

	// Checkpoint boundary: records at exactly cpTime whose id is in cpSeen
	// were already processed by the consumer and are dropped.
	cpTime time.Time
	cpSeen map[string]struct{}

	days      []string
	dayIdx    int
	file      *os.File
	scanner   *bufio.Scanner
	partition string
	lineNo    int
	seen      map[string]struct{}
	cur       envelope.SignalEnvelope
	err       error
	done      bool
}

// Next advances to the next matching signal. It returns false at the end of
// the interval or on error; check Err afterwards.
func (it *SignalIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	for {
		if it.scanner == nil {
			if !it.openNextPartition() {
				return false
			}
		}

		if !it.scanner.Scan() {
			if err := it.scanner.Err(); err != nil {
				it.fail(fmt.Errorf("read %s: %w", it.partition, err))
				return false
			}
			it.closeFile()
			continue
		}
		it.lineNo++

		line := bytes.TrimSpace(it.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		sig, err := envelope.UnmarshalWireSignal(line)
		if err != nil {
			it.fail(fmt.Errorf("%s:%d: %w", it.partition, it.lineNo, err))
			return false
		}

		ts := timeutil.EnsureUTC(sig.Timestamp)
		if ts.Before(it.start) || ts.After(it.end) {
			continue
		}
		if _, dup := it.seen[sig.SignalID]; dup {
			continue
		}
		if it.sources != nil {
			if _, ok := it.sources[sig.Source]; !ok {
				continue
			}
		}
		if it.entityRef != nil && !it.entityRef.ContainedIn(sig.EntityRefs) {
			continue
		}

		// The record is admitted to the scan; boundary and post filters drop
		// it from the yield without un-seeing it.
		it.seen[sig.SignalID] = struct{}{}

		if !it.cpTime.IsZero() && ts.Equal(it.cpTime) {
			if _, processed := it.cpSeen[sig.SignalID]; processed {
				continue
			}
		}
		if it.keep != nil && !it.keep(sig) {
			continue
		}

		it.cur = sig
		return true
	}
}

// Signal returns the current record. Valid only after Next returned true.
func (it *SignalIterator) Signal() envelope.SignalEnvelope {
	return it.cur
}

// Err returns the first error encountered during iteration, if any.
func (it *SignalIterator) Err() error {
	return it.err
}

// Close releases the current partition file handle. Safe to call more than
// once; an exhausted iterator has already released it.
func (it *SignalIterator) Close() error {
	it.done = true
	return it.closeFile()
}

func (it *SignalIterator) openNextPartition() bool {
	for it.dayIdx < len(it.days) {
		path := filepath.Join(it.dir, it.days[it.dayIdx]+".jsonl")
		it.dayIdx++

		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			it.fail(fmt.Errorf("open %s: %w", path, err))
			return false
		}

		it.file = f
		it.partition = path
		it.lineNo = 0
		it.scanner = bufio.NewScanner(f)
		it.scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		return true
	}

	it.done = true
	return false
}

func (it *SignalIterator) closeFile() error {
	it.scanner = nil
	if it.file == nil {
		return nil
	}
	err := it.file.Close()
	it.file = nil
	return err
}

func (it *SignalIterator) fail(err error) {
	it.err = err
	it.closeFile()
	it.done = true
}

// EmissionIterator streams emissions from a closed time interval across
// partition files. Not restartable.
type EmissionIterator struct {
	dir           string
	start         time.Time
	end           time.Time
	entityRef     *envelope.EntityRef
	emissionTypes map[string]struct{}

	days      []string
	dayIdx    int
	file      *os.File
	scanner   *bufio.Scanner
	partition string
	lineNo    int
	seen      map[string]struct{}
	cur       envelope.EmissionEnvelope
	err       error
	done      bool
}

// Next advances to the next matching emission. It returns false at the end
// of the interval or on error; check Err afterwards.
func (it *EmissionIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	for {
		if it.scanner == nil {
			if !it.openNextPartition() {
				return false
			}
		}

		if !it.scanner.Scan() {
			if err := it.scanner.Err(); err != nil {
				it.fail(fmt.Errorf("read %s: %w", it.partition, err))
				return false
			}
			it.closeFile()
			continue
		}
		it.lineNo++

		line := bytes.TrimSpace(it.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		em, err := envelope.UnmarshalWireEmission(line)
		if err != nil {
			it.fail(fmt.Errorf("%s:%d: %w", it.partition, it.lineNo, err))
			return false
		}

		ts := timeutil.EnsureUTC(em.Timestamp)
		if ts.Before(it.start) || ts.After(it.end) {
			continue
		}
		if _, dup := it.seen[em.EmissionID]; dup {
			continue
		}
		if it.emissionTypes != nil {
			if _, ok := it.emissionTypes[em.EmissionType]; !ok {
				continue
			}
		}
		if it.entityRef != nil && !it.entityRef.ContainedIn(em.EntityRefs) {
			continue
		}

		it.seen[em.EmissionID] = struct{}{}
		it.cur = em
		return true
	}
}

// Emission returns the current record. Valid only after Next returned true.
func (it *EmissionIterator) Emission() envelope.EmissionEnvelope {
	return it.cur
}

// Err returns the first error encountered during iteration, if any.
func (it *EmissionIterator) Err() error {
	return it.err
}

// Close releases the current partition file handle.
func (it *EmissionIterator) Close() error {
	it.done = true
	return it.closeFile()
}

func (it *EmissionIterator) openNextPartition() bool {
	for it.dayIdx < len(it.days) {
		path := filepath.Join(it.dir, it.days[it.dayIdx]+".jsonl")
		it.dayIdx++

		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			it.fail(fmt.Errorf("open %s: %w", path, err))
			return false
		}

		it.file = f
		it.partition = path
		it.lineNo = 0
		it.scanner = bufio.NewScanner(f)
		it.scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		return true
	}

	it.done = true
	return false
}

func (it *EmissionIterator) closeFile() error {
	it.scanner = nil
	if it.file == nil {
		return nil
	}
	err := it.file.Close()
	it.file = nil
	return err
}

func (it *EmissionIterator) fail(err error) {
	it.err = err
	it.closeFile()
	it.done = true
}

// collectSignals drains an iterator into a slice, surfacing any scan error.
func collectSignals(it *SignalIterator) ([]envelope.SignalEnvelope, error) {
	defer it.Close()

	signals := []envelope.SignalEnvelope{}
	for it.Next() {
		signals = append(signals, it.Signal())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return signals, nil
}

// collectEmissions drains an iterator into a slice, surfacing any scan
// error.
func collectEmissions(it *EmissionIterator) ([]envelope.EmissionEnvelope, error) {
	defer it.Close()

	emissions := []envelope.EmissionEnvelope{}
	for it.Next() {
		emissions = append(emissions, it.Emission())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return emissions, nil
}

// toSet converts a filter list to a membership set; nil when the list is
// empty so callers can distinguish "no filter" from "filter nothing".
func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
