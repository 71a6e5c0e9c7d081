// Package engine owns the process-wide lifecycle of one host: the
// shared Clock, Network, Storage and Shards it constructs from config,
// started leaves-first and torn down in reverse order.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gondola/internal/clock"
	"gondola/internal/config"
	"gondola/internal/metrics"
	"gondola/internal/network"
	"gondola/internal/raft"
	"gondola/internal/saveq"
	"gondola/internal/shard"
	"gondola/internal/storage"
)

// defaultConfigPollInterval is how often a wired config.Watcher re-reads
// its YAML files looking for dynamic-key changes, absent SIGHUP.
const defaultConfigPollInterval = 30 * time.Second

// Engine hosts every Shard this process participates in, plus the
// components they share: Network, Storage, Clock, Sink and the
// SaveQueue durability tier sitting in front of Storage.
type Engine struct {
	hostID uint64
	props  *config.Properties
	logger *slog.Logger

	clk     clock.Clock
	net     network.Network
	store   storage.Storage
	saveQ   *saveq.SaveQueue
	sink    metrics.Sink
	watcher *config.Watcher

	notifier *notifier

	mu        sync.Mutex
	shards    map[uint64]*shard.Shard
	started   bool
	stopCfgCh chan struct{}
	doneCfgCh chan struct{}
}

// AppliedFuncFor supplies the per-shard commit callback an embedder wants
// to drive its own state machine with; gondola itself has none, so the
// default wiring in New passes nil for every shard.
type AppliedFuncFor func(shardID uint64) shard.AppliedFunc

// New constructs an Engine for hostID from already-loaded properties. It
// does not start anything; call Start to bring the process up.
func New(hostID uint64, props *config.Properties, store storage.Storage, net network.Network, clk clock.Clock, sink metrics.Sink, logger *slog.Logger, applied AppliedFuncFor) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if applied == nil {
		applied = func(uint64) shard.AppliedFunc { return nil }
	}

	e := &Engine{
		hostID:   hostID,
		props:    props,
		logger:   logger.With("host", hostID),
		clk:      clk,
		net:      net,
		store:    store,
		sink:     sink,
		notifier: newNotifier(logger),
		shards:   make(map[uint64]*shard.Shard),
	}

	workers := saveq.DefaultWorkers
	e.saveQ = saveq.NewSaveQueue(store, sink, workers, e.logger)

	cfg := raft.FromProperties(props)
	for _, sc := range props.Shards {
		memberID, peerIDs, onThisHost := resolveMembership(sc, hostID)
		if !onThisHost {
			continue
		}

		member := raft.NewCoreMember(sc.ShardID, memberID, peerIDs, store, e.saveQ, net, clk, sink, e.logger, cfg)
		sh := shard.New(sc.ShardID, member, net, props.Gondola.CommandQueueSize, props.Gondola.Batching, cfg, e.logger, applied(sc.ShardID))
		e.shards[sc.ShardID] = sh
	}

	if len(e.shards) == 0 {
		return nil, fmt.Errorf("engine: host %d is not a member of any configured shard", hostID)
	}

	return e, nil
}

// resolveMembership finds which memberId hostID owns within sc, and
// returns every member id in that shard (including its own) as the
// CoreMember's peer list.
func resolveMembership(sc config.ShardConfig, hostID uint64) (memberID uint64, peerIDs []uint64, onThisHost bool) {
	for _, m := range sc.Members {
		peerIDs = append(peerIDs, m.MemberID)
		if m.HostID == hostID {
			memberID = m.MemberID
			onThisHost = true
		}
	}
	return memberID, peerIDs, onThisHost
}

// Start brings the process up leaves-first: Clock and Network are
// already live by construction, so Start opens every Shard (which in
// turn starts its CoreMember and Peers) and finally the role-change
// notifier thread. Starting an already-started Engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	for id, sh := range e.shards {
		if err := sh.Start(); err != nil {
			return fmt.Errorf("engine: start shard %d: %w", id, err)
		}
		e.notifier.watch(sh.Member())
	}

	e.notifier.start()
	if e.watcher != nil {
		e.watcher.Start(defaultConfigPollInterval)
		e.stopCfgCh = make(chan struct{})
		e.doneCfgCh = make(chan struct{})
		go e.watchConfigReloads()
	}

	e.started = true
	e.logger.Info("engine started", "shards", len(e.shards))
	return nil
}

// Stop reverses Start: it stops the notifier first so no more listener
// callbacks fire mid-teardown, then every Shard, then persists each
// member's maxGap for crash recovery on the next Start. Stop is
// idempotent and leaves the Engine restartable by calling Start again
// (the underlying CoreMembers are not reused, so a genuine restart means
// constructing a fresh Engine over the same Storage).
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}

	if e.watcher != nil {
		close(e.stopCfgCh)
		<-e.doneCfgCh
		e.watcher.Stop()
	}
	e.notifier.stop()

	for shardID, sh := range e.shards {
		sh.Stop()
		if err := e.saveQ.SetMaxGap(sh.Member().ID()); err != nil {
			e.logger.Warn("failed to persist maxGap on shutdown", "shard", shardID, "error", err)
		}
	}
	e.saveQ.Close()

	e.started = false
	e.logger.Info("engine stopped")
}

// watchConfigReloads re-derives a raft.Config from the watcher's current
// Properties every poll tick and pushes it to every hosted member,
// picking up dynamic-key changes without a restart.
func (e *Engine) watchConfigReloads() {
	defer close(e.doneCfgCh)
	ticker := time.NewTicker(defaultConfigPollInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCfgCh:
			return
		case <-ticker.C:
			cfg := raft.FromProperties(e.watcher.Load())
			for _, sh := range e.shards {
				sh.Member().SetConfig(cfg)
			}
		}
	}
}

// Shard returns the Shard hosting shardID's local member, or nil if this
// process doesn't host one.
func (e *Engine) Shard(shardID uint64) *shard.Shard {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shards[shardID]
}

// Shards returns every Shard this Engine hosts.
func (e *Engine) Shards() []*shard.Shard {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*shard.Shard, 0, len(e.shards))
	for _, sh := range e.shards {
		out = append(out, sh)
	}
	return out
}

// GetMember returns the Member facade for memberID, if shardID is hosted
// locally and memberID is the member this process hosts for it.
func (e *Engine) GetMember(shardID, memberID uint64) (shard.Member, bool) {
	sh := e.Shard(shardID)
	if sh == nil {
		return shard.Member{}, false
	}
	return sh.GetMember(memberID)
}

// BecomeSlave puts shardID's locally hosted member into slave mode
// against masterShardID's masterMemberID. When masterShardID is also
// hosted by this Engine, its member is registered as an observer
// directly so the master starts streaming immediately; otherwise the
// process hosting the master must separately call
// raft.CoreMember.RegisterObserver against its own copy of that member.
func (e *Engine) BecomeSlave(shardID, masterShardID, masterMemberID uint64) error {
	sh := e.Shard(shardID)
	if sh == nil {
		return fmt.Errorf("engine: shard %d not hosted here", shardID)
	}
	member, ok := sh.GetMember(sh.Member().ID())
	if !ok {
		return fmt.Errorf("engine: shard %d has no local member", shardID)
	}
	if err := member.SetSlave(masterShardID, masterMemberID); err != nil {
		return err
	}

	if master := e.Shard(masterShardID); master != nil {
		return master.Member().RegisterObserver(member.ID(), e.net)
	}
	return nil
}

// EndSlave leaves slave mode for shardID's locally hosted member and, if
// its master is also hosted here, unregisters it as an observer.
func (e *Engine) EndSlave(shardID, masterShardID uint64) error {
	sh := e.Shard(shardID)
	if sh == nil {
		return fmt.Errorf("engine: shard %d not hosted here", shardID)
	}
	member, ok := sh.GetMember(sh.Member().ID())
	if !ok {
		return fmt.Errorf("engine: shard %d has no local member", shardID)
	}
	member.EndSlave()

	if master := e.Shard(masterShardID); master != nil {
		master.Member().UnregisterObserver(member.ID())
	}
	return nil
}

// AddRoleChangeListener registers fn to be invoked, off the Raft hot
// path, for every role transition across every Shard this Engine hosts.
func (e *Engine) AddRoleChangeListener(fn RoleChangeListener) {
	e.notifier.addListener(fn)
}

// Sink exposes the Engine's metrics sink, for an HTTP handler to expose
// a Prometheus registry from.
func (e *Engine) Sink() metrics.Sink { return e.sink }

// SetConfigWatcher wires a config.Watcher whose dynamic-key reloads this
// Engine should propagate to every hosted CoreMember. Must be called
// before Start.
func (e *Engine) SetConfigWatcher(w *config.Watcher) {
	e.watcher = w
}
