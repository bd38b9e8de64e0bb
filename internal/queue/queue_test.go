package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}

func TestEnqueue_UpsertByPath(t *testing.T) {
	s, _ := openTestStore(t)

	first, err := s.Enqueue("/repo/a.py", "created")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, 1, first.Occurrences)

	// Re-enqueueing the same path refreshes the existing item
	second, err := s.Enqueue("/repo/a.py", "modified")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Occurrences)
	assert.Equal(t, "modified", second.EventKind)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestEnqueue_TerminalItemGetsFreshRow(t *testing.T) {
	s, _ := openTestStore(t)

	first, err := s.Enqueue("/repo/a.py", "created")
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(first.ID))

	second, err := s.Enqueue("/repo/a.py", "modified")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, second.Occurrences)
}

func TestDequeueBatch_AtomicClaim(t *testing.T) {
	s, _ := openTestStore(t)

	for _, p := range []string{"/repo/a.py", "/repo/b.py", "/repo/c.py"} {
		_, err := s.Enqueue(p, "created")
		require.NoError(t, err)
	}

	batch, err := s.DequeueBatch(2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for _, item := range batch {
		assert.Equal(t, StatusProcessing, item.Status)
		assert.Equal(t, 1, item.Attempts)
	}

	// Claimed items are not claimable again
	rest, err := s.DequeueBatch(10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "/repo/c.py", rest[0].Path)

	empty, err := s.DequeueBatch(10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDequeueBatch_OldestFirst(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.Enqueue("/repo/first.py", "created")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.Enqueue("/repo/second.py", "created")
	require.NoError(t, err)

	batch, err := s.DequeueBatch(1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "/repo/first.py", batch[0].Path)
}

func TestStatusTransitions(t *testing.T) {
	s, _ := openTestStore(t)

	item, err := s.Enqueue("/repo/a.py", "created")
	require.NoError(t, err)

	t.Run("mark failed records error", func(t *testing.T) {
		require.NoError(t, s.MarkFailed(item.ID, "secret scanner: password on line 3"))
		got, err := s.Get(item.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Contains(t, got.Error, "secret scanner")
	})

	t.Run("requeue failed back to pending", func(t *testing.T) {
		require.NoError(t, s.Requeue(item.ID))
		got, err := s.Get(item.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status)
		assert.Empty(t, got.Error)
	})

	t.Run("requeue of non-failed item errors", func(t *testing.T) {
		assert.Error(t, s.Requeue(item.ID))
	})

	t.Run("mark quarantined", func(t *testing.T) {
		require.NoError(t, s.MarkQuarantined(item.ID, "forbidden pattern"))
		got, err := s.Get(item.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusQuarantined, got.Status)
	})
}

func TestDurability_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	for _, p := range []string{"/repo/a.py", "/repo/b.py", "/repo/c.py"} {
		_, err := s.Enqueue(p, "created")
		require.NoError(t, err)
	}
	// One item mid-flight at "crash" time
	claimed, err := s.DequeueBatch(1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, s.Close())

	// Restart: reopen and recover
	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	recovered, err := s2.RecoverStale()
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	stats, err := s2.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending, "all non-terminal items must survive restart as pending")
	assert.Zero(t, stats.Processing)
}

func TestCleanup_RemovesOldTerminalItems(t *testing.T) {
	s, _ := openTestStore(t)

	done, err := s.Enqueue("/repo/done.py", "created")
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(done.ID))

	pending, err := s.Enqueue("/repo/pending.py", "created")
	require.NoError(t, err)

	// Zero retention: any terminal item older than "now" goes
	time.Sleep(5 * time.Millisecond)
	n, err := s.Cleanup(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(pending.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "pending items are never cleaned up")

	gone, err := s.Get(done.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestGetByPath(t *testing.T) {
	s, _ := openTestStore(t)

	item, err := s.Enqueue("/repo/a.py", "created")
	require.NoError(t, err)

	got, err := s.GetByPath("/repo/a.py")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.ID, got.ID)

	require.NoError(t, s.MarkDone(item.ID))
	got, err = s.GetByPath("/repo/a.py")
	require.NoError(t, err)
	assert.Nil(t, got, "terminal items are not returned by path lookup")
}
