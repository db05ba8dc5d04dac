package handoff

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cuemby/initd/pkg/types"
)

// checkpointBucket is the single bbolt bucket checkpoint metadata is
// kept in, keyed by CheckpointRecord.ID. Using the teacher's embedded
// store for this (rather than a flat file per dump) means listing and
// removing checkpoints, and surviving an initd restart with that
// bookkeeping intact, comes for free from bbolt's own durability.
var checkpointBucket = []byte("checkpoints")

// Store persists CheckpointRecord metadata across initd restarts.
// The actual memory/filesystem dump images live on disk at
// CheckpointRecord.DumpPath; only the bookkeeping lives here.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if necessary) the bbolt database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put persists or overwrites a checkpoint record.
func (s *Store) Put(rec types.CheckpointRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal checkpoint record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(checkpointBucket).Put([]byte(rec.ID), data)
	})
}

// Get retrieves a single checkpoint record by ID.
func (s *Store) Get(id string) (types.CheckpointRecord, bool, error) {
	var rec types.CheckpointRecord
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(checkpointBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// List returns every persisted checkpoint record for a component, most
// recent first, for the control surface's checkpoint-list operation.
func (s *Store) List(component string) ([]types.CheckpointRecord, error) {
	var out []types.CheckpointRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(checkpointBucket).ForEach(func(_, data []byte) error {
			var rec types.CheckpointRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if component == "" || rec.Component == component {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Remove deletes a checkpoint record (its dump image is the caller's
// responsibility to clean up), for the control surface's
// checkpoint-rm operation.
func (s *Store) Remove(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(checkpointBucket).Delete([]byte(id))
	})
}
