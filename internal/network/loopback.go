package network

import (
	"sync"
)

// Loopback is an in-memory Network connecting members hosted by Shards in
// the same process, used by tests that exercise CoreMember/Peer without a
// real socket. Every CreateChannel call for an unordered (local, remote)
// pair shares the same pair of buffered queues, so whichever side calls
// first fixes which queue is "outbound" for it.
type Loopback struct {
	mu    sync.Mutex
	pairs map[pairKey]*pairLink
}

// NewLoopback constructs an empty in-memory Network.
func NewLoopback() *Loopback {
	return &Loopback{pairs: make(map[pairKey]*pairLink)}
}

type pairKey struct {
	a, b uint64
}

func newPairKey(x, y uint64) pairKey {
	if x <= y {
		return pairKey{x, y}
	}
	return pairKey{y, x}
}

type pairLink struct {
	mu       sync.Mutex
	first    uint64
	firstSet bool

	toFirst  chan []byte
	toSecond chan []byte
}

func (l *pairLink) assignSide(local uint64) (outbound, inbound chan []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.firstSet {
		l.first = local
		l.firstSet = true
	}
	if local == l.first {
		return l.toSecond, l.toFirst
	}
	return l.toFirst, l.toSecond
}

const loopbackQueueSize = 256

func (n *Loopback) CreateChannel(local, remote uint64) (Channel, error) {
	n.mu.Lock()
	key := newPairKey(local, remote)
	link, ok := n.pairs[key]
	if !ok {
		link = &pairLink{
			toFirst:  make(chan []byte, loopbackQueueSize),
			toSecond: make(chan []byte, loopbackQueueSize),
		}
		n.pairs[key] = link
	}
	n.mu.Unlock()

	out, in := link.assignSide(local)
	return &loopbackChannel{out: out, in: in, closed: make(chan struct{})}, nil
}

// Close is a no-op: Loopback holds no external resources beyond the
// channels owned by individual loopbackChannel instances, which callers
// close themselves.
func (n *Loopback) Close() error { return nil }

type loopbackChannel struct {
	out chan []byte
	in  chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *loopbackChannel) Send(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case <-c.closed:
		return ErrChannelClosed
	case c.out <- cp:
		return nil
	}
}

func (c *loopbackChannel) Receive() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrChannelClosed
	case data := <-c.in:
		return data, nil
	}
}

func (c *loopbackChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
