package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	// DatabaseFile is the bbolt file inside the state directory
	DatabaseFile = "bootstrap.db"

	// DefaultLockTimeout bounds the wait for another bootstrap's file lock
	DefaultLockTimeout = time.Second

	// DefaultRetention is how many runs are kept
	DefaultRetention = 20
)

var (
	// Bucket names
	bucketRuns     = []byte("runs")
	bucketRunIndex = []byte("run_index")
)

// BoltStore implements Store using bbolt. The open database doubles as the
// single-instance lock of the node.
type BoltStore struct {
	db        *bolt.DB
	retention int
}

// Open opens or creates the state database in dataDir. If another process
// holds it past lockTimeout, ErrLocked is returned. A zero lockTimeout uses
// DefaultLockTimeout.
func Open(dataDir string, lockTimeout time.Duration) (*BoltStore, error) {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%s: %w", dbPath, ErrLocked)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketRunIndex} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, retention: DefaultRetention}, nil
}

// OpenReadOnly opens an existing state database for queries. It shares
// the lock with other readers but not with a running bootstrap.
func OpenReadOnly(dataDir string, lockTimeout time.Duration) (*BoltStore, error) {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoRuns
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: lockTimeout, ReadOnly: true})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%s: %w", dbPath, ErrLocked)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &BoltStore{db: db, retention: DefaultRetention}, nil
}

// WithRetention sets how many runs are kept, oldest pruned first
func (s *BoltStore) WithRetention(n int) *BoltStore {
	if n > 0 {
		s.retention = n
	}
	return s
}

// Close closes the database and releases the lock
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// BeginRun records a new running bootstrap
func (s *BoltStore) BeginRun(hostname string) (*types.Run, error) {
	run := &types.Run{
		ID:        uuid.New().String(),
		Hostname:  hostname,
		Status:    types.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Steps:     []types.StepRecord{},
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketRunIndex)
		seq, err := index.NextSequence()
		if err != nil {
			return err
		}
		if err := index.Put(itob(seq), []byte(run.ID)); err != nil {
			return err
		}
		if err := putRun(tx, run); err != nil {
			return err
		}
		return s.prune(tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

// SetRole records the detected role of a run
func (s *BoltStore) SetRole(runID string, role types.NodeRole) error {
	return s.update(runID, func(run *types.Run) {
		run.Role = role
	})
}

// RecordStep appends a state transition to a run
func (s *BoltStore) RecordStep(runID string, step types.StepRecord) error {
	return s.update(runID, func(run *types.Run) {
		run.Steps = append(run.Steps, step)
	})
}

// FinishRun marks a run done
func (s *BoltStore) FinishRun(runID string, status types.RunStatus, exitCode int, runErr error) error {
	return s.update(runID, func(run *types.Run) {
		run.Status = status
		run.ExitCode = exitCode
		run.FinishedAt = time.Now().UTC()
		if runErr != nil {
			run.Error = runErr.Error()
		}
	})
}

func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var run *types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		run, err = getRun(tx, id)
		return err
	})
	return run, err
}

// LastRun returns the most recently started run
func (s *BoltStore) LastRun() (*types.Run, error) {
	var run *types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		_, id := tx.Bucket(bucketRunIndex).Cursor().Last()
		if id == nil {
			return ErrNoRuns
		}
		var err error
		run, err = getRun(tx, string(id))
		return err
	})
	return run, err
}

// ListRuns returns the kept runs, oldest first
func (s *BoltStore) ListRuns() ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRunIndex).ForEach(func(_, id []byte) error {
			run, err := getRun(tx, string(id))
			if err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	return runs, err
}

func (s *BoltStore) update(id string, fn func(*types.Run)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		run, err := getRun(tx, id)
		if err != nil {
			return err
		}
		fn(run)
		return putRun(tx, run)
	})
}

// prune drops the oldest runs beyond the retention limit
func (s *BoltStore) prune(tx *bolt.Tx) error {
	index := tx.Bucket(bucketRunIndex)
	runs := tx.Bucket(bucketRuns)

	var keys [][]byte
	c := index.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}

	excess := len(keys) - s.retention
	for i := 0; i < excess; i++ {
		id := append([]byte(nil), index.Get(keys[i])...)
		if err := runs.Delete(id); err != nil {
			return err
		}
		if err := index.Delete(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

func getRun(tx *bolt.Tx, id string) (*types.Run, error) {
	data := tx.Bucket(bucketRuns).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func putRun(tx *bolt.Tx, run *types.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRuns).Put([]byte(run.ID), data)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
