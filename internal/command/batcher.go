package command

import (
	"log/slog"
	"sync"
	"time"
)

// Proposer is the leader-side append operation a Batcher drives; a
// raft.CoreMember satisfies it directly.
type Proposer interface {
	Propose(payload []byte) (index uint64, term uint64, err error)
}

// Batcher coalesces Commands submitted within a short window into a
// single combined log entry, trading a little latency for far fewer
// Propose/AppendEntries round trips under load. With batching disabled a
// shard should call Proposer.Propose directly instead of going through
// this type.
type Batcher struct {
	proposer Proposer
	waitMap  *WaitMap
	maxSize  int
	maxWait  time.Duration

	mu      sync.Mutex
	pending []*Command
	timer   *time.Timer

	logger *slog.Logger
}

// NewBatcher constructs a Batcher that flushes at maxSize pending
// commands or after maxWait since the first one arrived, whichever comes
// first.
func NewBatcher(proposer Proposer, waitMap *WaitMap, maxSize int, maxWait time.Duration, logger *slog.Logger) *Batcher {
	return &Batcher{
		proposer: proposer,
		waitMap:  waitMap,
		maxSize:  maxSize,
		maxWait:  maxWait,
		pending:  make([]*Command, 0, maxSize),
		logger:   logger,
	}
}

// Submit adds cmd to the current batch, flushing immediately if that
// fills it and otherwise arming the max-wait timer on the first addition.
func (b *Batcher) Submit(cmd *Command) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, cmd)

	if len(b.pending) >= b.maxSize {
		b.flushLocked()
		return
	}

	if len(b.pending) == 1 {
		b.timer = time.AfterFunc(b.maxWait, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if len(b.pending) > 0 {
				b.flushLocked()
			}
		})
	}
}

// flushLocked proposes the current batch as one entry and registers
// every member command against the index it was assigned. Caller must
// hold mu.
func (b *Batcher) flushLocked() {
	if len(b.pending) == 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	batch := b.pending
	b.pending = make([]*Command, 0, b.maxSize)

	payloads := make([][]byte, len(batch))
	for i, cmd := range batch {
		payloads[i] = cmd.Payload
	}
	entry := EncodeBatch(payloads)

	index, term, err := b.proposer.Propose(entry)
	if err != nil {
		b.logger.Warn("batch proposal failed", "size", len(batch), "error", err)
		for _, cmd := range batch {
			// Resolve only acts on a waiting Command.
			cmd.MarkWaiting(0, 0)
			cmd.Resolve(StateError, err)
		}
		return
	}

	for _, cmd := range batch {
		cmd.MarkWaiting(index, term)
		b.waitMap.Register(index, cmd)
	}
}

// Flush forces whatever is pending out immediately, used on shutdown so
// no submitted command is left waiting on a timer that will never fire
// again.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}
