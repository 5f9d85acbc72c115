package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cuemby/pilot/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketRuns         = []byte("runs")
	bucketPlaceholders = []byte("placeholders")
)

var _ Store = (*BoltStore)(nil)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "pilot.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketPlaceholders} {
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

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Run operations
func (s *BoltStore) SaveRun(run *types.RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

func (s *BoltStore) GetRun(id string) (*types.RunRecord, error) {
	var run types.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns every run, oldest first
func (s *BoltStore) ListRuns() ([]*types.RunRecord, error) {
	var runs []*types.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var run types.RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, err
}

// DeleteRun removes a run and its placeholders
func (s *BoltStore) DeleteRun(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		phs := tx.Bucket(bucketPlaceholders)
		if phs.Bucket([]byte(id)) != nil {
			return phs.DeleteBucket([]byte(id))
		}
		return nil
	})
}

// Placeholder operations

// SavePlaceholders replaces the placeholders stored for a run. Each run gets
// its own nested bucket keyed by position.
func (s *BoltStore) SavePlaceholders(runID string, placeholders []*types.PlaceholderJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketPlaceholders)
		if parent.Bucket([]byte(runID)) != nil {
			if err := parent.DeleteBucket([]byte(runID)); err != nil {
				return err
			}
		}
		b, err := parent.CreateBucket([]byte(runID))
		if err != nil {
			return fmt.Errorf("failed to create bucket for run %s: %w", runID, err)
		}
		for i, ph := range placeholders {
			data, err := json.Marshal(ph)
			if err != nil {
				return err
			}
			if err := b.Put(itob(uint64(i)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListPlaceholders(runID string) ([]*types.PlaceholderJob, error) {
	var placeholders []*types.PlaceholderJob
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlaceholders).Bucket([]byte(runID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var ph types.PlaceholderJob
			if err := json.Unmarshal(v, &ph); err != nil {
				return err
			}
			placeholders = append(placeholders, &ph)
			return nil
		})
	})
	return placeholders, err
}

// itob encodes a position so that byte order matches numeric order
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
