package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSessionExistsAtOpen(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	var sessions int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, DefaultSessionID).Scan(&sessions))
	require.Equal(t, 1, sessions)

	count, sum, err := s.RecallStats(DefaultSessionID)
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, 0, sum)
}

func TestCoreDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir() + "/mem.db"
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CoreSet("persona", "a careful assistant"))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.CoreGet("persona")
	require.NoError(t, err)
	require.Equal(t, "a careful assistant", got)
}

func TestCoreAppendCreatesIfAbsent(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CoreAppend("scratch", "note one "))
	require.NoError(t, s.CoreAppend("scratch", "note two"))
	got, err := s.CoreGet("scratch")
	require.NoError(t, err)
	require.Equal(t, "note one note two", got)
}

func TestCoreDumpFormat(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CoreSet("persona", "p"))
	dump, err := s.CoreDump()
	require.NoError(t, err)
	require.Contains(t, dump, "persona:\np\n---\n")
}

func TestArchivalUpsertSemantics(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.ArchivalStore("fact1", "v1", "general", 0.5))
	rows, err := s.ArchivalSearch("v1", 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	createdAt := rows[0].CreatedAt

	require.NoError(t, s.ArchivalStore("fact1", "v2", "general", 0.9))
	rows, err = s.ArchivalSearch("v2", 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "v2", rows[0].Value)
	require.WithinDuration(t, createdAt, rows[0].CreatedAt, 0)

	// v1 should no longer match.
	rows, err = s.ArchivalSearch("v1", 5)
	require.NoError(t, err)
	require.Len(t, rows, 0)
}

func TestArchivalRecallIncrementsAccessCount(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.ArchivalStore("k", "v", "", 0))
	val, err := s.ArchivalRecall("k")
	require.NoError(t, err)
	require.Equal(t, "v", val)

	rows, err := s.ArchivalSearch("v", 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].AccessCount)

	_, err = s.ArchivalRecall("k")
	require.NoError(t, err)
	rows, err = s.ArchivalSearch("v", 5)
	require.NoError(t, err)
	require.Equal(t, 2, rows[0].AccessCount)
}

func TestRecallAddAndFTSConsistency(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	id, err := s.RecallAdd(DefaultSessionID, "user", "what is the capital of France", 10)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	rows, err := s.RecallSearch("capital", 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = s.RecallSearch("nonexistent_xyz", 5)
	require.NoError(t, err)
	require.Len(t, rows, 0)
}

func TestRecallGCBoundsByMaxMessages(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		_, err := s.RecallAdd(DefaultSessionID, "user", "message", 1)
		require.NoError(t, err)
	}
	deleted, err := s.RecallGC(DefaultSessionID, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 3, deleted)

	count, _, err := s.RecallStats(DefaultSessionID)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestSessionCreateAllocatesNewID(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	id, err := s.SessionCreate()
	require.NoError(t, err)
	require.NotEqual(t, DefaultSessionID, id)
}
