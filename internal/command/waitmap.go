package command

import "sync"

// WaitMap correlates a leader's own in-flight proposals (keyed by the log
// index Propose assigned them) with the Command(s) a caller is blocked
// on, so a shard can resolve the right waiters as entries cross
// commitIndex without scanning every outstanding Command. An index maps
// to more than one Command when batching combined several submissions
// into a single log entry.
type WaitMap struct {
	mu      sync.Mutex
	pending map[uint64][]*Command
}

// NewWaitMap constructs an empty WaitMap.
func NewWaitMap() *WaitMap {
	return &WaitMap{pending: make(map[uint64][]*Command)}
}

// Register records that cmd is waiting on the entry at index (assigned by
// Propose). Registering a second, third, ... Command at the same index
// is how a batched entry's member commands are tracked; an index is only
// ever reused by Propose across different Commands, so no eviction is
// needed here.
func (w *WaitMap) Register(index uint64, cmd *Command) {
	w.mu.Lock()
	w.pending[index] = append(w.pending[index], cmd)
	w.mu.Unlock()
}

// Resolve looks up whichever Command(s) are waiting on index and, if
// their term matches the committed entry's term, marks them committed; a
// term mismatch means the waiters' original proposal was truncated by a
// later leader, so they resolve as an error instead. Either way the
// index is cleared from the map.
func (w *WaitMap) Resolve(index, term uint64) {
	w.mu.Lock()
	cmds, ok := w.pending[index]
	if ok {
		delete(w.pending, index)
	}
	w.mu.Unlock()
	for _, cmd := range cmds {
		if cmd.Term() == term {
			cmd.Resolve(StateCommitted, nil)
		} else {
			cmd.Resolve(StateError, ErrSuperseded)
		}
	}
}

// Cancel removes index from the map and resolves its waiter(s) with err.
// Shard.Stop does not call it; Submit callers are released by the
// shard's stop signal instead.
func (w *WaitMap) Cancel(index uint64, err error) {
	w.mu.Lock()
	cmds, ok := w.pending[index]
	if ok {
		delete(w.pending, index)
	}
	w.mu.Unlock()
	for _, cmd := range cmds {
		cmd.Resolve(StateError, err)
	}
}

// Len reports the number of indices currently awaiting commit.
func (w *WaitMap) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
