package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWALStorageAppendAndRead(t *testing.T) {
	s, err := NewWALStorage(t.TempDir(), true)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AppendLogEntry(1, 1, 1, []byte("a")))
	require.NoError(t, s.AppendLogEntry(1, 2, 1, []byte("b")))
	require.NoError(t, s.AppendLogEntry(1, 3, 2, []byte("c")))

	idx, err := s.GetLastLogIndex(1)
	require.NoError(t, err)
	require.EqualValues(t, 3, idx)

	term, err := s.GetLastLogTerm(1)
	require.NoError(t, err)
	require.EqualValues(t, 2, term)

	e, ok, err := s.GetLogEntry(1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, e.Index)
	require.EqualValues(t, 1, e.Term)
	require.Equal(t, "b", string(e.Payload))

	has, err := s.HasLogEntry(1, 3, 2)
	require.NoError(t, err)
	require.True(t, has)

	has, err = s.HasLogEntry(1, 3, 1)
	require.NoError(t, err)
	require.False(t, has)

	has, err = s.HasLogEntry(1, 0, 0)
	require.NoError(t, err)
	require.True(t, has)
}

func TestWALStorageRejectsOutOfOrderAppend(t *testing.T) {
	s, err := NewWALStorage(t.TempDir(), true)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AppendLogEntry(1, 1, 1, []byte("a")))
	err = s.AppendLogEntry(1, 3, 1, []byte("skip"))
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestWALStorageDeleteTruncatesConflictingSuffix(t *testing.T) {
	s, err := NewWALStorage(t.TempDir(), true)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AppendLogEntry(1, 1, 1, []byte("a")))
	require.NoError(t, s.AppendLogEntry(1, 2, 1, []byte("b")))
	require.NoError(t, s.AppendLogEntry(1, 3, 1, []byte("c")))

	require.NoError(t, s.Delete(1, 2))

	idx, err := s.GetLastLogIndex(1)
	require.NoError(t, err)
	require.EqualValues(t, 1, idx)

	require.NoError(t, s.AppendLogEntry(1, 2, 2, []byte("b2")))

	e, ok, err := s.GetLogEntry(1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, e.Term)
	require.Equal(t, "b2", string(e.Payload))

	_, ok, err = s.GetLogEntry(1, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWALStorageVoteAndMaxGapPersist(t *testing.T) {
	dir := t.TempDir()

	s, err := NewWALStorage(dir, true)
	require.NoError(t, err)

	require.NoError(t, s.SaveVote(7, 4, 2))
	require.NoError(t, s.SetMaxGap(7, 12))
	require.NoError(t, s.Close())

	s2, err := NewWALStorage(dir, true)
	require.NoError(t, err)
	defer s2.Close()

	term, votedFor, err := s2.LoadVote(7)
	require.NoError(t, err)
	require.EqualValues(t, 4, term)
	require.EqualValues(t, 2, votedFor)

	gap, err := s2.GetMaxGap(7)
	require.NoError(t, err)
	require.EqualValues(t, 12, gap)
}

func TestWALStorageReplaysAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewWALStorage(dir, true)
	require.NoError(t, err)
	require.NoError(t, s.AppendLogEntry(3, 1, 1, []byte("x")))
	require.NoError(t, s.AppendLogEntry(3, 2, 1, []byte("y")))
	require.NoError(t, s.Close())

	s2, err := NewWALStorage(dir, true)
	require.NoError(t, err)
	defer s2.Close()

	idx, err := s2.GetLastLogIndex(3)
	require.NoError(t, err)
	require.EqualValues(t, 2, idx)

	e, ok, err := s2.GetLogEntry(3, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", string(e.Payload))
}

func TestWALStorageUnknownMemberHasEmptyLog(t *testing.T) {
	s, err := NewWALStorage(t.TempDir(), true)
	require.NoError(t, err)
	defer s.Close()

	idx, err := s.GetLastLogIndex(99)
	require.NoError(t, err)
	require.EqualValues(t, 0, idx)

	term, votedFor, err := s.LoadVote(99)
	require.NoError(t, err)
	require.EqualValues(t, 0, term)
	require.EqualValues(t, -1, votedFor)
}

var _ Storage = (*WALStorage)(nil)
