package raft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCommittedEntryRejectsIndexZero(t *testing.T) {
	members, cleanup := newTestCluster(t, 1)
	defer cleanup()

	_, err := members[0].CommittedEntry(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidIndex)
}

func TestCommittedEntryReturnsSubmittedBytesOnAnyMember(t *testing.T) {
	members, cleanup := newTestCluster(t, 3)
	defer cleanup()

	leader := awaitLeader(t, members)
	index, term, err := leader.Propose([]byte("payload"))
	require.NoError(t, err)

	for _, m := range members {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		entry, err := m.CommittedEntry(ctx, index)
		cancel()
		require.NoError(t, err, "member %d", m.id)
		require.Equal(t, term, entry.Term)
		require.Equal(t, []byte("payload"), entry.Payload)
	}
}

func TestCommittedEntryTimesOutBelowCommitIndex(t *testing.T) {
	members, cleanup := newTestCluster(t, 3)
	defer cleanup()
	awaitLeader(t, members)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := members[0].CommittedEntry(ctx, ^uint64(0))
	require.ErrorIs(t, err, ErrTimeout)
}
