// Package shard binds one raft.CoreMember to the command submission
// pipeline (queue, wait-map, optional batching) that turns a caller's
// payload into a durably committed log entry.
package shard

import (
	"context"
	"log/slog"

	"gondola/internal/command"
	"gondola/internal/network"
	"gondola/internal/raft"
	"gondola/internal/storage"
)

// AppliedFunc is invoked once per committed entry, in commit order,
// except for empty no-op entries, which are skipped. It is called with
// the individual payloads a (possibly batched) entry decomposed into.
// The embedder supplies this to drive its own state machine; gondola
// itself has none.
type AppliedFunc func(index, term uint64, payloads [][]byte)

// Shard owns one CoreMember plus everything needed to accept client
// commands against it.
type Shard struct {
	ID uint64

	member   *raft.CoreMember
	net      network.Network
	cmdPool  *command.Pool
	queue    *command.Queue
	waitMap  *command.WaitMap
	batcher  *command.Batcher
	batching bool
	applied  AppliedFunc
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Shard around member. applied may be nil if the
// embedder only cares about commit acknowledgement, not the payload
// content. net is used only by the Member facade, to drive SetSlave.
func New(shardID uint64, member *raft.CoreMember, net network.Network, queueSize int, batching bool, cfg raft.Config, logger *slog.Logger, applied AppliedFunc) *Shard {
	s := &Shard{
		ID:       shardID,
		member:   member,
		net:      net,
		cmdPool:  command.NewPool(),
		queue:    command.NewQueue(queueSize),
		waitMap:  command.NewWaitMap(),
		batching: batching,
		applied:  applied,
		logger:   logger.With("shard", shardID),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if batching {
		s.batcher = command.NewBatcher(member, s.waitMap, 64, cfg.HeartbeatPeriod/2, logger)
	}
	return s
}

// Start launches the shard's member and its consumer/commit-drain loops.
func (s *Shard) Start() error {
	if err := s.member.Start(); err != nil {
		return err
	}
	go s.consumeLoop()
	go s.drainCommitted()
	return nil
}

// Stop cancels outstanding waiters and tears down the member.
func (s *Shard) Stop() {
	close(s.stopCh)
	<-s.doneCh
	if s.batcher != nil {
		s.batcher.Flush()
	}
	s.member.Stop()
}

// Member returns the underlying CoreMember, for role-change notification
// and metrics wiring at the engine level.
func (s *Shard) Member() *raft.CoreMember {
	return s.member
}

// Member is the public facade over one locally hosted CoreMember: the
// operations an operator needs to observe or drive it directly, without
// reaching into the raft package's own types.
type Member struct {
	core *raft.CoreMember
	net  network.Network
}

// ID returns the member's own id.
func (m Member) ID() uint64 { return m.core.ID() }

// IsLeader reports whether this member currently believes itself leader.
func (m Member) IsLeader() bool { return m.core.IsLeader() }

// Enable toggles candidacy: a disabled member never becomes candidate or
// leader but keeps voting and replicating as a follower.
func (m Member) Enable(enabled bool) { m.core.SetEnabled(enabled) }

// SetSlave switches this member into passive cross-shard slave mode,
// discarding its own log and streaming masterMemberID's instead.
func (m Member) SetSlave(masterShardID, masterMemberID uint64) error {
	return m.core.BecomeSlave(masterShardID, masterMemberID, m.net)
}

// EndSlave leaves slave mode and resumes ordinary participation in this
// member's own shard.
func (m Member) EndSlave() { m.core.EndSlave() }

// GetSlaveStatus reports whether this member is currently slaved, and to
// which master.
func (m Member) GetSlaveStatus() raft.SlaveStatus { return m.core.GetSlaveStatus() }

// GetMember returns the Member facade for memberID, if it is the member
// this Shard hosts locally. Gondola only exposes direct control over a
// locally hosted member, never a remote one; ok is false for any other
// id.
func (s *Shard) GetMember(memberID uint64) (Member, bool) {
	if memberID != s.member.ID() {
		return Member{}, false
	}
	return Member{core: s.member, net: s.net}, true
}

// Submit enqueues payload as a new command and blocks until it commits,
// times out per ctx, or fails outright.
func (s *Shard) Submit(ctx context.Context, payload []byte) (*command.Command, error) {
	cmd := s.cmdPool.Get(payload)
	done := cmd.Done()

	if err := s.queue.Enqueue(cmd); err != nil {
		cmd.Release()
		return nil, err
	}

	select {
	case <-done:
		return cmd, nil
	case <-ctx.Done():
		cmd.Resolve(command.StateTimedOut, command.ErrCommandTimeout)
		return cmd, ctx.Err()
	case <-s.stopCh:
		cmd.Resolve(command.StateError, raft.ErrShutdown)
		return cmd, raft.ErrShutdown
	}
}

// GetCommittedCommand blocks until index is committed on this member,
// then returns the bytes originally submitted at that index. It works
// the same on a leader or a follower, slaved or not: any member's own
// commitIndex is enough, since it only ever advances over entries that
// member has itself durably applied. Index 0 is always rejected.
//
// A batched entry that packed more than one submitted command into a
// single log index returns only the first of them; index-addressed reads
// can't disambiguate further than that.
func (s *Shard) GetCommittedCommand(ctx context.Context, index uint64) (term uint64, payload []byte, err error) {
	entry, err := s.member.CommittedEntry(ctx, index)
	if err != nil {
		return 0, nil, err
	}
	if entry.IsNoOp() {
		return entry.Term, nil, nil
	}
	payloads, err := command.DecodeBatch(entry.Payload)
	if err != nil {
		return 0, nil, err
	}
	if len(payloads) == 0 {
		return entry.Term, nil, nil
	}
	return entry.Term, payloads[0], nil
}

// consumeLoop drains the submission queue and proposes each command,
// either individually or via the batcher.
func (s *Shard) consumeLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case cmd := <-s.queue.C():
			s.propose(cmd)
		}
	}
}

func (s *Shard) propose(cmd *command.Command) {
	if s.batching {
		s.batcher.Submit(cmd)
		return
	}
	index, term, err := s.member.Propose(command.EncodeBatch([][]byte{cmd.Payload}))
	if err != nil {
		// Resolve only acts on a waiting Command.
		cmd.MarkWaiting(0, 0)
		cmd.Resolve(command.StateError, err)
		return
	}
	cmd.MarkWaiting(index, term)
	s.waitMap.Register(index, cmd)
}

// drainCommitted resolves waiters as entries cross commitIndex and
// invokes the embedder's AppliedFunc with the entry's decomposed
// payloads.
func (s *Shard) drainCommitted() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case entry := <-s.member.Committed():
			s.onCommitted(entry)
		}
	}
}

func (s *Shard) onCommitted(entry storage.Entry) {
	s.waitMap.Resolve(entry.Index, entry.Term)

	if s.applied == nil || entry.IsNoOp() {
		return
	}
	payloads, err := command.DecodeBatch(entry.Payload)
	if err != nil {
		s.logger.Error("failed to decode committed entry", "index", entry.Index, "error", err)
		return
	}
	s.applied(entry.Index, entry.Term, payloads)
}
