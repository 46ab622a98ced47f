package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "tgrelay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkProcessedOnlyOnce(t *testing.T) {
	s := openTestStore(t)

	fresh, err := s.MarkProcessed(100, 7)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.MarkProcessed(100, 7)
	require.NoError(t, err)
	assert.False(t, fresh, "redelivered update must be reported as seen")

	fresh, err = s.MarkProcessed(101, 7)
	require.NoError(t, err)
	assert.True(t, fresh)

	u, err := s.get(100)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, int64(7), u.ChatID)

	u, err = s.get(999)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	_, err := s.MarkProcessed(1, 1)
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(20 * time.Hour) }
	_, err = s.MarkProcessed(2, 1)
	require.NoError(t, err)

	// A record that cannot be decoded is treated as stale.
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(updatesBucket).Put(updateKey(3), []byte("garbage"))
	}))

	s.now = func() time.Time { return base.Add(25 * time.Hour) }
	removed, err := s.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	u, err := s.get(2)
	require.NoError(t, err)
	assert.NotNil(t, u)

	fresh, err := s.MarkProcessed(1, 1)
	require.NoError(t, err)
	assert.True(t, fresh, "pruned ids are forgotten")
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tgrelay.db")
	s, err := NewBoltStore(path)
	require.NoError(t, err)
	_, err = s.MarkProcessed(5, 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()
	fresh, err := s.MarkProcessed(5, 1)
	require.NoError(t, err)
	assert.False(t, fresh)
}
