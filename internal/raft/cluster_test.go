package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gondola/internal/clock"
	"gondola/internal/metrics"
	"gondola/internal/network"
	"gondola/internal/storage"
)

// testConfig returns a Config with short enough timers that a System
// clock converges a small cluster within a couple hundred milliseconds,
// without being so tight that CI jitter causes spurious elections.
func testConfig() Config {
	return Config{
		HeartbeatPeriod:                10 * time.Millisecond,
		ElectionTimeout:                60 * time.Millisecond,
		LeaderTimeout:                  200 * time.Millisecond,
		RequestVotePeriod:              60 * time.Millisecond,
		SlaveInactivityTime:            500 * time.Millisecond,
		CommandMaxSize:                 1 << 20,
		WriteEmptyCommandAfterElection: true,
		IncomingQueueSize:              256,
	}
}

// newTestCluster builds n members sharing a Loopback network, each backed
// by its own in-process WAL directory, and starts them all.
func newTestCluster(t *testing.T, n int) ([]*CoreMember, func()) {
	t.Helper()
	net := network.NewLoopback()
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}

	members := make([]*CoreMember, n)
	for i, id := range ids {
		store, err := storage.NewWALStorage(t.TempDir(), true)
		require.NoError(t, err)
		logger := testLogger(t)
		m := NewCoreMember(1, id, ids, store, store, net, clock.NewSystem(), metrics.NoopSink{}, logger, testConfig())
		members[i] = m
	}

	for _, m := range members {
		require.NoError(t, m.Start())
	}

	cleanup := func() {
		for _, m := range members {
			m.Stop()
		}
		_ = net.Close()
	}
	return members, cleanup
}

func awaitLeader(t *testing.T, members []*CoreMember) *CoreMember {
	t.Helper()
	var leader *CoreMember
	require.Eventually(t, func() bool {
		count := 0
		for _, m := range members {
			if m.IsLeader() {
				leader = m
				count++
			}
		}
		return count == 1
	}, 2*time.Second, 5*time.Millisecond, "expected exactly one leader to emerge")
	return leader
}
