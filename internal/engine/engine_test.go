package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gondola/internal/clock"
	"gondola/internal/config"
	"gondola/internal/metrics"
	"gondola/internal/network"
	"gondola/internal/raft"
	"gondola/internal/shard"
	"gondola/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func singleShardProperties(hostID uint64) *config.Properties {
	return &config.Properties{
		Raft: config.RaftProperties{
			HeartbeatPeriodMs:              5,
			ElectionTimeoutMs:              20,
			LeaderTimeoutMs:                100,
			RequestVotePeriodMs:            20,
			CommandMaxSize:                 1 << 20,
			WriteEmptyCommandAfterElection: true,
		},
		Gondola: config.GondolaProperties{
			CommandQueueSize:      64,
			IncomingQueueSize:     64,
			WaitQueueThrottleSize: 64,
			Batching:              false,
		},
		Hosts: []config.HostConfig{
			{HostID: hostID, Address: "127.0.0.1:0"},
		},
		Shards: []config.ShardConfig{
			{ShardID: 1, Members: []config.ShardMember{{HostID: hostID, MemberID: hostID}}},
		},
	}
}

func newTestEngine(t *testing.T, props *config.Properties, applied AppliedFuncFor) *Engine {
	t.Helper()
	store, err := storage.NewWALStorage(t.TempDir(), true)
	require.NoError(t, err)

	e, err := New(props.Hosts[0].HostID, props, store, network.NewLoopback(), clock.NewSystem(), metrics.NoopSink{}, testLogger(), applied)
	require.NoError(t, err)
	return e
}

func TestNewRejectsHostWithNoShardMembership(t *testing.T) {
	props := singleShardProperties(1)
	props.Shards[0].Members = []config.ShardMember{{HostID: 2, MemberID: 2}}

	store, err := storage.NewWALStorage(t.TempDir(), true)
	require.NoError(t, err)

	_, err = New(1, props, store, network.NewLoopback(), clock.NewSystem(), metrics.NoopSink{}, testLogger(), nil)
	require.Error(t, err)
}

func TestEngineStartStopIsIdempotent(t *testing.T) {
	e := newTestEngine(t, singleShardProperties(1), nil)

	require.NoError(t, e.Start())
	require.NoError(t, e.Start())

	require.Eventually(t, func() bool {
		sh := e.Shard(1)
		return sh != nil && sh.Member().IsLeader()
	}, time.Second, 2*time.Millisecond)

	e.Stop()
	e.Stop()
}

func TestEngineShardsExposesOnlyHostedShards(t *testing.T) {
	e := newTestEngine(t, singleShardProperties(1), nil)
	require.NoError(t, e.Start())
	defer e.Stop()

	shards := e.Shards()
	require.Len(t, shards, 1)
	require.Equal(t, uint64(1), shards[0].ID)
	require.Nil(t, e.Shard(999))
}

func TestEngineRoleChangeListenerFiresOnElection(t *testing.T) {
	e := newTestEngine(t, singleShardProperties(1), nil)

	events := make(chan raft.RoleChangeEvent, 8)
	e.AddRoleChangeListener(func(ev raft.RoleChangeEvent) {
		events <- ev
	})

	require.NoError(t, e.Start())
	defer e.Stop()

	require.Eventually(t, func() bool {
		select {
		case ev := <-events:
			return ev.NewRole == raft.RoleLeader
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestEngineAppliedCallbackReceivesCommittedPayloads(t *testing.T) {
	received := make(chan [][]byte, 4)
	applied := func(shardID uint64) shard.AppliedFunc {
		return func(index, term uint64, payloads [][]byte) {
			received <- payloads
		}
	}

	e := newTestEngine(t, singleShardProperties(1), applied)
	require.NoError(t, e.Start())
	defer e.Stop()

	require.Eventually(t, func() bool {
		sh := e.Shard(1)
		return sh != nil && sh.Member().IsLeader()
	}, time.Second, 2*time.Millisecond)

	sh := e.Shard(1)
	_, err := sh.Submit(context.Background(), []byte("direct-proposal"))
	require.NoError(t, err)

	select {
	case payloads := <-received:
		require.Equal(t, [][]byte{[]byte("direct-proposal")}, payloads)
	case <-time.After(2 * time.Second):
		t.Fatal("applied callback was never invoked")
	}
}
