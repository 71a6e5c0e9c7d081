// Package wireformat defines the pooled, reference-counted message buffers
// that carry Raft RPCs on the hot path between CoreMember, Peer and the
// Network.
package wireformat

import (
	"sync"
	"sync/atomic"
)

// Type identifies the kind of RPC a Message carries.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeRequestVote
	TypeRequestVoteReply
	TypePreVote
	TypePreVoteReply
	TypeAppendEntries
	TypeAppendEntriesReply
)

func (t Type) String() string {
	switch t {
	case TypeRequestVote:
		return "RequestVote"
	case TypeRequestVoteReply:
		return "RequestVoteReply"
	case TypePreVote:
		return "PreVote"
	case TypePreVoteReply:
		return "PreVoteReply"
	case TypeAppendEntries:
		return "AppendEntries"
	case TypeAppendEntriesReply:
		return "AppendEntriesReply"
	default:
		return "Unknown"
	}
}

// Message is a pooled fixed-capacity byte buffer tagged with an RPC Type and
// a refcount. A message handed to K peers for transmission holds K
// references (the one from Get plus one Retain per additional peer); each
// peer releases its reference once the send completes.
type Message struct {
	Type Type
	Buf  []byte

	pool     *Pool
	refcount int32
}

// Retain increments the refcount; callers fan a Message out to multiple
// peers by retaining once per additional peer before transmission.
func (m *Message) Retain() {
	atomic.AddInt32(&m.refcount, 1)
}

// Release decrements the refcount and returns the Message to its owning
// Pool once it reaches zero. Releasing a Message not obtained from a Pool
// is a no-op beyond the refcount decrement.
func (m *Message) Release() {
	if atomic.AddInt32(&m.refcount, -1) == 0 && m.pool != nil {
		m.pool.put(m)
	}
}

// Pool is a lock-free (mutex-free on the fast path via sync.Pool),
// reference-counted free-list of Message buffers, sized to avoid per-RPC
// allocation on the replication hot path.
type Pool struct {
	sp sync.Pool
}

// NewPool constructs a Pool whose buffers start at capacity bufCap bytes;
// Get grows a returned buffer's capacity transparently via append semantics
// if the caller writes past it.
func NewPool(bufCap int) *Pool {
	p := &Pool{}
	p.sp.New = func() any {
		return &Message{Buf: make([]byte, 0, bufCap)}
	}
	return p
}

// Get checks out a Message in single-owner state (refcount 1) tagged with
// typ, with Buf reset to zero length.
func (p *Pool) Get(typ Type) *Message {
	m := p.sp.Get().(*Message)
	m.Type = typ
	m.Buf = m.Buf[:0]
	m.refcount = 1
	m.pool = p
	return m
}

func (p *Pool) put(m *Message) {
	m.Type = TypeUnknown
	m.Buf = m.Buf[:0]
	m.pool = nil
	p.sp.Put(m)
}
