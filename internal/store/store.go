package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Store is an append-only filesystem store for SignalEnvelope and
// EmissionEnvelope records.
//
// A Store is pure over its workspace path: no environment, no network. It is
// not safe for concurrent use; one worker owns one instance at a time.
type Store struct {
	workspace      string
	storeRoot      string
	signalsDir     string
	emissionsDir   string
	snapshotsDir   string
	checkpointsDir string

	// Lazy dedup indexes: id -> partition path. nil until first needed.
	signalIndex   map[string]string
	emissionIndex map[string]string

	outcomeTypes OutcomeTypeSets
	log          *logrus.Entry
}

// Option configures a Store at construction.
type Option func(*Store)

// WithLogger replaces the default structured logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithOutcomeTypeSets overrides the store-wide outcome bucket type sets.
// Empty buckets fall back to the package defaults.
func WithOutcomeTypeSets(sets OutcomeTypeSets) Option {
	return func(s *Store) {
		s.outcomeTypes = sets.withDefaults()
	}
}

// Open creates or opens the store rooted at <workspace>/store.
//
// All four partition directories are created eagerly; creation is
// idempotent, so Open is safe to call repeatedly on the same workspace.
func Open(workspace string, opts ...Option) (*Store, error) {
	root := filepath.Join(workspace, "store")
	s := &Store{
		workspace:      workspace,
		storeRoot:      root,
		signalsDir:     filepath.Join(root, "signals"),
		emissionsDir:   filepath.Join(root, "emissions"),
		snapshotsDir:   filepath.Join(root, "snapshots"),
		checkpointsDir: filepath.Join(root, "checkpoints"),
		outcomeTypes:   OutcomeTypeSets{}.withDefaults(),
		log:            logrus.WithField("component", "store"),
	}

	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{s.signalsDir, s.emissionsDir, s.snapshotsDir, s.checkpointsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}

	return s, nil
}

// Workspace returns the workspace path the store was opened with.
func (s *Store) Workspace() string {
	return s.workspace
}

// SignalsDir returns the signal partition directory.
func (s *Store) SignalsDir() string {
	return s.signalsDir
}

// EmissionsDir returns the emission partition directory.
func (s *Store) EmissionsDir() string {
	return s.emissionsDir
}

// SnapshotsDir returns the snapshot directory.
func (s *Store) SnapshotsDir() string {
	return s.snapshotsDir
}

// CheckpointsDir returns the checkpoint directory.
func (s *Store) CheckpointsDir() string {
	return s.checkpointsDir
}
