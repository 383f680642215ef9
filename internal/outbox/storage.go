package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrFinished is returned when committing or aborting an intent that is no
// longer pending
var ErrFinished = errors.New("intent already finished")

var (
	bucketIntents = []byte("intents")
	bucketPending = []byte("pending")
	bucketDone    = []byte("done")
)

// BoltStore persists dispatch intents in BoltDB. Pending and finished intents
// are indexed by time so stale and expired entries are found with a prefix
// scan instead of a full bucket walk.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the outbox at path
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create outbox directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketIntents, bucketPending, bucketDone} {
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

// Put records a new pending intent
func (s *BoltStore) Put(ctx context.Context, in *Intent) error {
	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	in.State = StatePending

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal intent: %w", err)
		}
		if err := tx.Bucket(bucketIntents).Put([]byte(in.ID), data); err != nil {
			return fmt.Errorf("failed to store intent: %w", err)
		}
		if err := tx.Bucket(bucketPending).Put(makeIndexKey(in.CreatedAt, in.ID), []byte(in.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}
		return nil
	})
}

// Commit marks an intent as fully dispatched
func (s *BoltStore) Commit(ctx context.Context, id string) error {
	return s.finish(id, StateCommitted, "")
}

// Abort marks an intent as failed with reason
func (s *BoltStore) Abort(ctx context.Context, id, reason string) error {
	return s.finish(id, StateAborted, reason)
}

func (s *BoltStore) finish(id string, state State, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		intents := tx.Bucket(bucketIntents)
		data := intents.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("intent %s not found", id)
		}

		var in Intent
		if err := json.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("failed to unmarshal intent: %w", err)
		}
		if in.State != StatePending {
			return fmt.Errorf("intent %s is %s: %w", id, in.State, ErrFinished)
		}

		in.State = state
		in.Error = reason
		in.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&in)
		if err != nil {
			return fmt.Errorf("failed to marshal intent: %w", err)
		}
		if err := intents.Put([]byte(id), updated); err != nil {
			return fmt.Errorf("failed to update intent: %w", err)
		}
		if err := tx.Bucket(bucketPending).Delete(makeIndexKey(in.CreatedAt, in.ID)); err != nil {
			return fmt.Errorf("failed to remove from pending index: %w", err)
		}
		return tx.Bucket(bucketDone).Put(makeIndexKey(in.UpdatedAt, in.ID), []byte(in.ID))
	})
}

// Get retrieves an intent by ID, nil when absent
func (s *BoltStore) Get(ctx context.Context, id string) (*Intent, error) {
	var in *Intent

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIntents).Get([]byte(id))
		if data == nil {
			return nil
		}
		in = &Intent{}
		return json.Unmarshal(data, in)
	})

	return in, err
}

// Stale returns pending intents created before cutoff, oldest first
func (s *BoltStore) Stale(ctx context.Context, cutoff time.Time) ([]*Intent, error) {
	var result []*Intent

	err := s.db.View(func(tx *bolt.Tx) error {
		intents := tx.Bucket(bucketIntents)
		c := tx.Bucket(bucketPending).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !parseTimestampFromKey(k).Before(cutoff) {
				break
			}
			data := intents.Get(v)
			if data == nil {
				continue
			}
			var in Intent
			if err := json.Unmarshal(data, &in); err != nil {
				continue
			}
			result = append(result, &in)
		}
		return nil
	})

	return result, err
}

// Stats counts intents by state
func (s *BoltStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).ForEach(func(k, v []byte) error {
			var in Intent
			if err := json.Unmarshal(v, &in); err != nil {
				return nil
			}
			switch in.State {
			case StatePending:
				stats.Pending++
			case StateCommitted:
				stats.Committed++
			case StateAborted:
				stats.Aborted++
			}
			return nil
		})
	})

	return stats, err
}

// Purge deletes finished intents last updated before cutoff
func (s *BoltStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int

	err := s.db.Update(func(tx *bolt.Tx) error {
		intents := tx.Bucket(bucketIntents)
		done := tx.Bucket(bucketDone)

		var keys, ids [][]byte
		c := done.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !parseTimestampFromKey(k).Before(cutoff) {
				break
			}
			keys = append(keys, append([]byte(nil), k...))
			ids = append(ids, append([]byte(nil), v...))
		}

		for i := range keys {
			if err := intents.Delete(ids[i]); err != nil {
				return err
			}
			if err := done.Delete(keys[i]); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

// Close closes the underlying database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexTimeFormat) + "|" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	if len(s) < len(indexTimeFormat) {
		return time.Time{}
	}
	ts, _ := time.Parse(indexTimeFormat, s[:len(indexTimeFormat)])
	return ts
}

// indexTimeFormat is fixed width so keys sort in time order
const indexTimeFormat = "2006-01-02T15:04:05.000000000Z"
