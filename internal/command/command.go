// Package command implements the submitted-command lifecycle sitting on
// top of a raft.CoreMember: pooled Command objects track a caller's
// payload from submission through leader replication to commit (or
// timeout, or error), independent of any particular shard's wiring.
package command

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is where a Command sits in its lifecycle.
type State int

const (
	// StateFree marks a pooled Command not currently in use.
	StateFree State = iota
	// StateWaiting marks a Command proposed to the leader, awaiting
	// commit notification.
	StateWaiting
	// StateCommitted marks a Command whose entry crossed commitIndex.
	StateCommitted
	// StateTimedOut marks a Command whose caller-specified deadline
	// elapsed before commit.
	StateTimedOut
	// StateError marks a Command that failed outright (not leader,
	// payload too large, log entry overwritten by a new leader).
	StateError
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateWaiting:
		return "waiting"
	case StateCommitted:
		return "committed"
	case StateTimedOut:
		return "timed_out"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Command is one caller-submitted payload. Commands are pooled: Reset
// clears it back to StateFree for reuse instead of letting the garbage
// collector reclaim and reallocate one per submission, since the command
// path is the hottest one in the system.
type Command struct {
	ID      uuid.UUID
	Payload []byte

	mu        sync.Mutex
	state     State
	index     uint64
	term      uint64
	err       error
	submitted time.Time
	done      chan struct{}

	pool *Pool
}

// Reset clears a Command to its zero, pooled-but-unused state.
func (c *Command) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ID = uuid.UUID{}
	c.Payload = nil
	c.state = StateFree
	c.index = 0
	c.term = 0
	c.err = nil
	c.submitted = time.Time{}
	if c.done != nil {
		close(c.done)
	}
	c.done = nil
}

// State returns the Command's current lifecycle state.
func (c *Command) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Index and Term return the position this Command was assigned once
// proposed; both are zero until then.
func (c *Command) Index() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

func (c *Command) Term() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.term
}

// Err returns the terminal error, set only in StateError or StateTimedOut.
func (c *Command) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// MarkWaiting transitions a freshly submitted Command to StateWaiting
// with its assigned log position.
func (c *Command) MarkWaiting(index, term uint64) {
	c.mu.Lock()
	c.state = StateWaiting
	c.index = index
	c.term = term
	c.submitted = time.Now()
	c.mu.Unlock()
}

// Resolve transitions a waiting Command to a terminal state exactly
// once, waking anyone blocked on Done.
func (c *Command) Resolve(state State, err error) {
	c.mu.Lock()
	if c.state != StateWaiting {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.err = err
	done := c.done
	c.done = nil
	c.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// Done returns a channel closed once the Command leaves StateWaiting.
// Must be called before the Command can be resolved by another
// goroutine, so Submit sets it up before handing the Command back.
func (c *Command) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

// Release returns the Command to its Pool once the caller is done
// reading its terminal state.
func (c *Command) Release() {
	if c.pool != nil {
		c.pool.put(c)
	}
}

// Pool is a sync.Pool-backed free list of Commands.
type Pool struct {
	sp sync.Pool
}

// NewPool constructs an empty Command pool.
func NewPool() *Pool {
	return &Pool{sp: sync.Pool{New: func() any { return &Command{} }}}
}

// Get checks out a Command carrying payload, tagged with a fresh UUID.
func (p *Pool) Get(payload []byte) *Command {
	c := p.sp.Get().(*Command)
	c.Reset()
	c.ID = uuid.New()
	c.Payload = payload
	c.pool = p
	return c
}

func (p *Pool) put(c *Command) {
	c.Reset()
	p.sp.Put(c)
}
