package raft

import "gondola/internal/network"

// observerRequest routes a cross-goroutine RegisterObserver/UnregisterObserver
// call into the run loop, the same way proposal routes Propose: the
// observers map is only ever touched by that one goroutine.
type observerRequest struct {
	memberID uint64
	net      network.Network
	add      bool
	done     chan error
}

// RegisterObserver starts replicating this member's log to memberID as a
// non-voting observer: memberID receives AppendEntries alongside this
// member's own peers but is never counted toward quorum or commit
// advancement. This is the master side of a cross-shard slave
// relationship set up by the other member's BecomeSlave; the two calls
// are independent since a slave and its master are ordinary CoreMembers
// on possibly different processes, so whichever process hosts the
// master must be told separately to start streaming to it.
func (m *CoreMember) RegisterObserver(memberID uint64, net network.Network) error {
	req := observerRequest{memberID: memberID, net: net, add: true, done: make(chan error, 1)}
	select {
	case m.observerReq <- req:
	case <-m.stopCh:
		return ErrShutdown
	}
	select {
	case err := <-req.done:
		return err
	case <-m.stopCh:
		return ErrShutdown
	}
}

// UnregisterObserver stops streaming to memberID and tears down its
// connection. Safe to call whether or not memberID was ever registered.
func (m *CoreMember) UnregisterObserver(memberID uint64) {
	req := observerRequest{memberID: memberID, done: make(chan error, 1)}
	select {
	case m.observerReq <- req:
	case <-m.stopCh:
		return
	}
	select {
	case <-req.done:
	case <-m.stopCh:
	}
}

func (m *CoreMember) handleObserverRequest(req observerRequest) {
	if !req.add {
		if p, ok := m.observers[req.memberID]; ok {
			delete(m.observers, req.memberID)
			p.Stop()
		}
		req.done <- nil
		return
	}

	if _, exists := m.observers[req.memberID]; exists {
		req.done <- nil
		return
	}

	peer := NewPeer(m.shardID, m.id, req.memberID, req.net, m.pool, m.clk, m.sink, m.logger, m.incoming)
	peer.Start()
	m.mu.RLock()
	nextIndex := m.lastLogIndex + 1
	m.mu.RUnlock()
	peer.SetState(PeerState{NextIndex: nextIndex, MatchIndex: 0})
	m.observers[req.memberID] = peer
	req.done <- nil

	m.replicateToPeer(req.memberID)
}
