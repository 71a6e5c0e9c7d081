package raft

import (
	"sync"

	"gondola/internal/network"
)

// slaveSession tracks this member acting as a passive cross-shard
// follower of another shard's leader: it streams and applies that
// leader's log without ever voting, campaigning, or accepting proposals
// of its own.
type slaveSession struct {
	mu             sync.Mutex
	masterShardID  uint64
	masterMemberID uint64
	peer           *Peer
	stopCh         chan struct{}
}

// SlaveStatus reports whether a member is currently a passive cross-shard
// follower, and of which master if so. The zero value (Running false)
// means the member is not slaved.
type SlaveStatus struct {
	Running        bool
	MasterShardID  uint64
	MasterMemberID uint64
}

// GetSlaveStatus returns this member's current slave session, or the
// zero SlaveStatus if it isn't slaved.
func (m *CoreMember) GetSlaveStatus() SlaveStatus {
	m.mu.RLock()
	session := m.slave
	m.mu.RUnlock()
	if session == nil {
		return SlaveStatus{}
	}
	return SlaveStatus{Running: true, MasterShardID: session.masterShardID, MasterMemberID: session.masterMemberID}
}

func (m *CoreMember) isSlaved() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slave != nil
}

// isSlavedLocked is isSlaved for callers that already hold mu.
func (m *CoreMember) isSlavedLocked() bool {
	return m.slave != nil
}

// BecomeSlave discards this member's own log and switches it into
// passive cross-shard slave mode, streaming masterMemberID's log instead.
// masterShardID must differ from this member's own shard: slaving to a
// member of the same shard makes no sense since that's what ordinary
// Raft replication already is.
func (m *CoreMember) BecomeSlave(masterShardID, masterMemberID uint64, net network.Network) error {
	if masterShardID == m.shardID {
		return ErrSameShard
	}

	m.mu.Lock()
	if m.role == RoleLeader {
		m.stepDown(m.currentTerm)
	}
	m.role = RoleFollower
	m.mu.Unlock()

	if err := m.appender.Delete(m.id, 1); err != nil {
		return wrapStorageErr("Delete", err)
	}

	m.mu.Lock()
	m.lastLogIndex = 0
	m.lastLogTerm = 0
	m.commitIndex = 0
	m.mu.Unlock()

	peer := NewPeer(m.shardID, m.id, masterMemberID, net, m.pool, m.clk, m.sink, m.logger, m.incoming)
	peer.Start()

	session := &slaveSession{
		masterShardID:  masterShardID,
		masterMemberID: masterMemberID,
		peer:           peer,
		stopCh:         make(chan struct{}),
	}

	m.mu.Lock()
	m.slave = session
	m.mu.Unlock()

	go m.watchSlaveInactivity(session)
	return nil
}

// EndSlave leaves slave mode and resumes normal participation in this
// member's own shard.
func (m *CoreMember) EndSlave() {
	m.mu.Lock()
	session := m.slave
	m.slave = nil
	m.mu.Unlock()
	if session == nil {
		return
	}
	close(session.stopCh)
	session.peer.Stop()
}

// watchSlaveInactivity ends slave mode if the master hasn't been heard
// from in slave_inactivity_timeout, rather than streaming from a dead
// master forever.
func (m *CoreMember) watchSlaveInactivity(session *slaveSession) {
	timeout := m.config().SlaveInactivityTime
	ticker := m.clk.NewTicker(timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-session.stopCh:
			return
		case <-m.stopCh:
			return
		case <-ticker.C():
			if m.clk.NowMillis()-session.peer.LastContactMillis() > timeout.Milliseconds() {
				m.logger.Warn("slave master inactive past timeout, ending slave mode", "master_shard", session.masterShardID)
				m.EndSlave()
				return
			}
		}
	}
}
