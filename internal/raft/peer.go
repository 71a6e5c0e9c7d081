package raft

import (
	"log/slog"
	"sync"
	"time"

	"gondola/internal/clock"
	"gondola/internal/metrics"
	"gondola/internal/network"
	"gondola/internal/wireformat"
)

const peerOutboxSize = 64

// Peer owns the Channel to one remote member, decoupling CoreMember's
// single-threaded loop from the network's own blocking send/receive and
// reconnect timing. Every outbound RPC is queued on outbox and drained by
// sendLoop; every inbound frame is decoded and handed to incoming.
type Peer struct {
	shardID  uint64
	localID  uint64
	remoteID uint64

	net    network.Network
	pool   *wireformat.Pool
	clock  clock.Clock
	sink   metrics.Sink
	logger *slog.Logger

	incoming chan<- incomingEnvelope

	outbox chan *wireformat.Message

	mu            sync.Mutex
	channel       network.Channel
	lastContactMs int64

	state   PeerState
	stateMu sync.Mutex

	stopCh chan struct{}
	doneWG sync.WaitGroup
}

// NewPeer constructs a Peer for remoteID, not yet connected. Start must be
// called to begin dialing and pumping messages.
func NewPeer(shardID, localID, remoteID uint64, net network.Network, pool *wireformat.Pool, clk clock.Clock, sink metrics.Sink, logger *slog.Logger, incoming chan<- incomingEnvelope) *Peer {
	return &Peer{
		shardID:  shardID,
		localID:  localID,
		remoteID: remoteID,
		net:      net,
		pool:     pool,
		clock:    clk,
		sink:     sink,
		logger:   logger.With("peer", remoteID),
		incoming: incoming,
		outbox:   make(chan *wireformat.Message, peerOutboxSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the connect/receive loop and the send loop.
func (p *Peer) Start() {
	p.doneWG.Add(2)
	go p.connectLoop()
	go p.sendLoop()
}

// Stop tears down the peer's channel and stops its loops.
func (p *Peer) Stop() {
	close(p.stopCh)
	p.mu.Lock()
	ch := p.channel
	p.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
	p.doneWG.Wait()
}

// Enqueue posts msg for transmission. It never blocks: a full outbox drops
// the oldest pending message rather than stalling CoreMember's loop, since
// a stale heartbeat or superseded AppendEntries is worthless anyway and
// the leader's periodic retransmission will repair the gap.
func (p *Peer) Enqueue(msg *wireformat.Message) {
	select {
	case p.outbox <- msg:
	default:
		select {
		case old := <-p.outbox:
			old.Release()
		default:
		}
		select {
		case p.outbox <- msg:
		default:
			msg.Release()
		}
	}
}

// LastContactMillis returns the clock time of the last successfully
// received frame from this peer, used by the leader to detect a follower
// that has gone silent past leader_timeout.
func (p *Peer) LastContactMillis() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastContactMs
}

func (p *Peer) State() PeerState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *Peer) SetState(s PeerState) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

func (p *Peer) connectLoop() {
	defer p.doneWG.Done()
	backoff := 50 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		ch, err := p.net.CreateChannel(p.localID, p.remoteID)
		if err != nil {
			p.logger.Warn("peer connect failed", "error", err)
			select {
			case <-p.stopCh:
				return
			case <-p.clock.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = 50 * time.Millisecond

		p.mu.Lock()
		p.channel = ch
		p.mu.Unlock()

		p.recvUntilBroken(ch)

		select {
		case <-p.stopCh:
			return
		default:
		}
	}
}

func (p *Peer) recvUntilBroken(ch network.Channel) {
	for {
		raw, err := ch.Receive()
		if err != nil {
			p.logger.Debug("peer channel broken", "error", err)
			ch.Close()
			return
		}
		p.mu.Lock()
		p.lastContactMs = p.clock.NowMillis()
		p.mu.Unlock()

		msg, err := envelopeDecode(p.pool, raw)
		if err != nil {
			p.logger.Warn("peer received malformed frame", "error", err)
			continue
		}
		payload, err := decodeMessage(msg)
		msg.Release()
		if err != nil {
			p.logger.Warn("peer received undecodable message", "error", err)
			p.sink.IncMessageErrors(p.shardID, p.remoteID)
			continue
		}

		select {
		case p.incoming <- incomingEnvelope{from: p.remoteID, payload: payload}:
		case <-p.stopCh:
			return
		}
	}
}

func (p *Peer) sendLoop() {
	defer p.doneWG.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.outbox:
			p.deliver(msg)
		}
	}
}

func (p *Peer) deliver(msg *wireformat.Message) {
	defer msg.Release()
	p.mu.Lock()
	ch := p.channel
	p.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Send(envelopeEncode(msg)); err != nil {
		p.logger.Debug("peer send failed", "error", err)
		p.sink.IncMessageErrors(p.shardID, p.remoteID)
		return
	}
	p.sink.IncMessagesSent(p.shardID, msg.Type.String())
}
