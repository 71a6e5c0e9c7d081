package raft

import (
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"gondola/internal/clock"
	"gondola/internal/metrics"
	"gondola/internal/network"
	"gondola/internal/storage"
	"gondola/internal/wireformat"
)

// Appender is the write side of Storage that CoreMember's replication
// path goes through. The Engine passes its SaveQueue here, so appends
// wait on the ordered durable write; a storage.Storage satisfies it
// directly too, which is how this package's tests wire it.
type Appender interface {
	AppendLogEntry(memberID uint64, index, term uint64, payload []byte) error
	Delete(memberID uint64, fromIndex uint64) error
}

// CoreMember is one Raft participant: one per shard this process hosts a
// member of. Its run loop is single-threaded by design, so every field
// below that the loop touches is only ever read/written from that
// goroutine; Propose and the exported getters cross the boundary only
// through the proposals channel or the snapshot under mu.
type CoreMember struct {
	id      uint64
	shardID uint64

	storage  storage.Storage
	appender Appender
	clk      clock.Clock
	sink     metrics.Sink
	logger   *slog.Logger
	pool     *wireformat.Pool

	cfgMu sync.RWMutex
	cfg   Config

	peers   map[uint64]*Peer
	peerIDs []uint64

	// observers are cross-shard slaves streaming this member's log: they
	// receive AppendEntries alongside peerIDs but never count toward a
	// quorum and never appear in peerIDs. Only touched from the run loop;
	// external callers reach it through observerReq.
	observers   map[uint64]*Peer
	observerReq chan observerRequest

	// enabled gates candidacy only: a disabled member still votes and
	// replicates as a follower, it just never starts its own election.
	enabled atomic.Bool

	incoming    chan incomingEnvelope
	proposals   chan proposal
	committed   chan storage.Entry
	roleChanges chan RoleChangeEvent

	stopCh chan struct{}
	doneCh chan struct{}

	mu            sync.RWMutex
	role          Role
	currentTerm   uint64
	votedFor      int64
	leaderID      int64
	commitIndex   uint64
	lastLogIndex  uint64
	lastLogTerm   uint64
	votesReceived map[uint64]bool

	// commitSignal is closed and replaced every time commitIndex
	// advances, so WaitForCommit can block on it without polling.
	commitSignal chan struct{}

	slave *slaveSession
}

// NewCoreMember constructs a member for (shardID, id) backed by store and
// talking to the given peers over net. cfg is the initial tunable
// snapshot; later changes are applied with SetConfig.
func NewCoreMember(shardID, id uint64, peerIDs []uint64, store storage.Storage, appender Appender, net network.Network, clk clock.Clock, sink metrics.Sink, logger *slog.Logger, cfg Config) *CoreMember {
	m := &CoreMember{
		id:          id,
		shardID:     shardID,
		storage:     store,
		appender:    appender,
		clk:         clk,
		sink:        sink,
		logger:      logger.With("shard", shardID, "member", id),
		pool:        wireformat.NewPool(256),
		cfg:         cfg,
		peers:       make(map[uint64]*Peer, len(peerIDs)),
		observers:   make(map[uint64]*Peer),
		observerReq: make(chan observerRequest),
		incoming:    make(chan incomingEnvelope, cfg.IncomingQueueSize),
		proposals:   make(chan proposal, 64),
		committed:   make(chan storage.Entry, 1024),
		roleChanges: make(chan RoleChangeEvent, 16),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		leaderID:    -1,
		votedFor:    -1,
		commitSignal: make(chan struct{}),
	}
	m.enabled.Store(true)
	for _, pid := range peerIDs {
		if pid == id {
			continue
		}
		m.peerIDs = append(m.peerIDs, pid)
		m.peers[pid] = NewPeer(shardID, id, pid, net, m.pool, clk, sink, m.logger, m.incoming)
	}
	return m
}

// Start loads persisted vote/log state, opens peer connections and
// launches the run loop.
func (m *CoreMember) Start() error {
	term, votedFor, err := m.storage.LoadVote(m.id)
	if err != nil {
		return wrapStorageErr("LoadVote", err)
	}
	lastIndex, err := m.storage.GetLastLogIndex(m.id)
	if err != nil {
		return wrapStorageErr("GetLastLogIndex", err)
	}
	lastTerm, err := m.storage.GetLastLogTerm(m.id)
	if err != nil {
		return wrapStorageErr("GetLastLogTerm", err)
	}

	m.mu.Lock()
	m.currentTerm = term
	m.votedFor = votedFor
	m.lastLogIndex = lastIndex
	m.lastLogTerm = lastTerm
	m.role = RoleFollower
	m.mu.Unlock()

	for _, p := range m.peers {
		p.Start()
	}

	go m.run()
	return nil
}

// Stop tears down peers and the run loop, blocking until both have
// exited.
func (m *CoreMember) Stop() {
	close(m.stopCh)
	<-m.doneCh
	for _, p := range m.peers {
		p.Stop()
	}
	for _, p := range m.observers {
		p.Stop()
	}
	m.EndSlave()
}

// SetConfig atomically swaps in a new tunable snapshot, for the dynamic
// keys a config.Watcher may reload without restarting the member.
func (m *CoreMember) SetConfig(cfg Config) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
}

func (m *CoreMember) config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// ID returns this member's own id.
func (m *CoreMember) ID() uint64 { return m.id }

// ShardID returns the shard this member belongs to.
func (m *CoreMember) ShardID() uint64 { return m.shardID }

// Role reports the member's current Raft role.
func (m *CoreMember) Role() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

// IsLeader reports whether this member currently believes itself leader.
func (m *CoreMember) IsLeader() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role == RoleLeader
}

// Enabled reports whether this member is currently allowed to campaign.
func (m *CoreMember) Enabled() bool { return m.enabled.Load() }

// SetEnabled toggles candidacy: a disabled member refuses to become
// CANDIDATE or LEADER but keeps voting and replicating as a follower.
func (m *CoreMember) SetEnabled(v bool) { m.enabled.Store(v) }

// Term returns the current term.
func (m *CoreMember) Term() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentTerm
}

// LeaderID returns the member believed to be leader, or -1 if unknown.
func (m *CoreMember) LeaderID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leaderID
}

// CommitIndex returns the highest index known committed.
func (m *CoreMember) CommitIndex() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commitIndex
}

// Committed is the channel of entries as they cross commitIndex, in
// strictly increasing index order. The caller must keep draining it.
func (m *CoreMember) Committed() <-chan storage.Entry {
	return m.committed
}

// RoleChanges is the channel of this member's Raft role transitions, for
// an Engine's notifier thread to fan out to registered listeners off the
// hot path. The caller must keep draining it.
func (m *CoreMember) RoleChanges() <-chan RoleChangeEvent {
	return m.roleChanges
}

// emitRoleChange reports a transition on roleChanges without blocking the
// run loop: a slow or absent drainer must never stall an election.
// Callers capture term/leaderID under mu and pass them in; it reads no
// mu-guarded state itself, so it is called both with and without mu held.
func (m *CoreMember) emitRoleChange(old, new Role, term uint64, leaderID int64) {
	ev := RoleChangeEvent{ShardID: m.shardID, MemberID: m.id, OldRole: old, NewRole: new, Term: term, LeaderID: leaderID}
	select {
	case m.roleChanges <- ev:
	default:
		m.logger.Warn("role change channel full, dropping notification", "old", old, "new", new)
	}
}

// Propose appends payload to the leader's log and fans it out for
// replication, returning the index and term it was assigned. It does not
// wait for commit; callers that need that match the returned (index,
// term) against entries observed on Committed.
func (m *CoreMember) Propose(payload []byte) (uint64, uint64, error) {
	if len(payload) > m.config().CommandMaxSize {
		return 0, 0, ErrCommandTooLarge
	}
	done := make(chan proposalResult, 1)
	select {
	case m.proposals <- proposal{payload: payload, done: done}:
	case <-m.stopCh:
		return 0, 0, ErrShutdown
	}
	select {
	case r := <-done:
		return r.index, r.term, r.err
	case <-m.stopCh:
		return 0, 0, ErrShutdown
	}
}

func (m *CoreMember) run() {
	defer close(m.doneCh)

	electionTimer := m.clk.After(m.randomizedElectionTimeout())
	var heartbeatTicker clock.Ticker

	for {
		var heartbeatC <-chan time.Time
		if heartbeatTicker != nil {
			heartbeatC = heartbeatTicker.C()
		}

		select {
		case <-m.stopCh:
			if heartbeatTicker != nil {
				heartbeatTicker.Stop()
			}
			return

		case env := <-m.incoming:
			if m.dispatch(env) {
				electionTimer = m.clk.After(m.randomizedElectionTimeout())
			}

		case p := <-m.proposals:
			m.handleProposal(p)

		case req := <-m.observerReq:
			m.handleObserverRequest(req)

		case <-electionTimer:
			if m.onElectionTimeout() {
				heartbeatTicker = m.startHeartbeatTicker(heartbeatTicker)
			}
			electionTimer = m.clk.After(m.randomizedElectionTimeout())

		case <-heartbeatC:
			m.sendHeartbeats()
		}

		if m.Role() == RoleLeader && heartbeatTicker == nil {
			heartbeatTicker = m.startHeartbeatTicker(heartbeatTicker)
		} else if m.Role() != RoleLeader && heartbeatTicker != nil {
			heartbeatTicker.Stop()
			heartbeatTicker = nil
		}
	}
}

func (m *CoreMember) startHeartbeatTicker(existing clock.Ticker) clock.Ticker {
	if existing != nil {
		return existing
	}
	return m.clk.NewTicker(m.config().HeartbeatPeriod)
}

// randomizedElectionTimeout jitters the configured election timeout so
// competing followers don't all start campaigns in lockstep.
func (m *CoreMember) randomizedElectionTimeout() time.Duration {
	base := m.config().ElectionTimeout
	jitter := time.Duration(rand.Int63n(int64(base)))
	return base + jitter
}

// dispatch routes a decoded RPC to its handler and reports whether the
// election timer should be reset: contact from a legitimate current (or
// newer) term leader or candidate always postpones this member's own next
// campaign.
func (m *CoreMember) dispatch(env incomingEnvelope) bool {
	switch msg := env.payload.(type) {
	case RequestVoteArgs:
		return m.handleRequestVote(env.from, msg)
	case RequestVoteReply:
		m.handleRequestVoteReply(env.from, msg)
	case AppendEntriesArgs:
		return m.handleAppendEntries(env.from, msg)
	case AppendEntriesReply:
		m.handleAppendEntriesReply(env.from, msg)
	default:
		m.logger.Warn("dropping unrecognized message", "from", env.from)
	}
	return false
}

func (m *CoreMember) send(peerID uint64, typ wireformat.Type, payload []byte) {
	p, ok := m.peerByID(peerID)
	if !ok {
		return
	}
	msg := buildMessage(m.pool, typ, payload)
	p.Enqueue(msg)
}

// peerByID looks up an in-shard peer, a registered observer, or (for a
// slaved member replying to its master) the slave session's own peer.
// Only ever called from the run loop.
func (m *CoreMember) peerByID(id uint64) (*Peer, bool) {
	if p, ok := m.peers[id]; ok {
		return p, true
	}
	if p, ok := m.observers[id]; ok {
		return p, true
	}
	m.mu.RLock()
	session := m.slave
	m.mu.RUnlock()
	if session != nil && session.masterMemberID == id {
		return session.peer, true
	}
	return nil, false
}

func (m *CoreMember) broadcast(typ wireformat.Type, payload []byte) {
	for _, id := range m.peerIDs {
		m.send(id, typ, payload)
	}
}

// quorumSize returns the number of votes (including the member's own)
// needed for a majority of the whole membership.
func (m *CoreMember) quorumSize() int {
	total := len(m.peerIDs) + 1
	return total/2 + 1
}
