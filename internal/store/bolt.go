package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var updatesBucket = []byte("processed_updates")

// ProcessedUpdate is what is remembered about a handled webhook update.
type ProcessedUpdate struct {
	UpdateID    int64     `json:"update_id"`
	ChatID      int64     `json:"chat_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Ledger remembers which Telegram updates were already dispatched so a
// redelivered update is not answered twice.
type Ledger interface {
	// MarkProcessed records the update and reports whether it was new.
	MarkProcessed(updateID, chatID int64) (bool, error)
	Prune(maxAge time.Duration) (int, error)
	Close() error
}

type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(updatesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating updates bucket: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func updateKey(updateID int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(updateID))
	return k
}

func (s *BoltStore) MarkProcessed(updateID, chatID int64) (bool, error) {
	fresh := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(updatesBucket)
		key := updateKey(updateID)
		if b.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(ProcessedUpdate{
			UpdateID:    updateID,
			ChatID:      chatID,
			ProcessedAt: s.now().UTC(),
		})
		if err != nil {
			return err
		}
		fresh = true
		return b.Put(key, data)
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

// get returns nil when the update was never recorded.
func (s *BoltStore) get(updateID int64) (*ProcessedUpdate, error) {
	var u *ProcessedUpdate
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(updatesBucket).Get(updateKey(updateID))
		if v == nil {
			return nil
		}
		u = &ProcessedUpdate{}
		return json.Unmarshal(v, u)
	})
	return u, err
}

// Prune deletes records older than maxAge and returns how many were removed.
// Records that cannot be decoded are removed as well.
func (s *BoltStore) Prune(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(updatesBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var u ProcessedUpdate
			if err := json.Unmarshal(v, &u); err != nil || u.ProcessedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
