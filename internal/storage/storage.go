// Package storage defines the durable, per-member log and vote contract
// and a WAL-backed implementation of it.
package storage

import "errors"

// Entry is one Raft log record. Index starts at 1 and is contiguous per
// member; index 0 is a conceptual sentinel (term 0, empty payload) that
// matches any leader's prefix and is never actually stored.
type Entry struct {
	Index   uint64
	Term    uint64
	Payload []byte
}

// IsNoOp reports whether the entry is an empty-payload no-op, used after
// election to force commit of prior-term entries.
func (e Entry) IsNoOp() bool { return len(e.Payload) == 0 }

var (
	// ErrOutOfOrder is returned by AppendLogEntry when index is not exactly
	// lastSavedIndex+1 and the caller did not first Delete a conflicting
	// suffix. The SaveQueue only writes a member's entries in index order;
	// if this error still comes back, it returns it to the waiting caller.
	ErrOutOfOrder = errors.New("storage: append index out of order")

	// ErrCorruptLog is the fatal, startup-abort condition where:
	// term decreases with increasing index within a member's log.
	ErrCorruptLog = errors.New("storage: term regresses with increasing index")
)

// Storage is the durable substrate shared by every CoreMember hosted by an
// Engine. Calls are per-memberId and independent across members; an
// implementation must be safe for concurrent use by multiple SaveQueue
// workers, provided callers target strictly increasing indices per member
// (ordering is enforced by the SaveQueue, not Storage itself).
type Storage interface {
	// SaveVote atomically and durably persists (term, votedFor) for
	// memberId. Must return only after the write is fsynced: the
	// "one vote per term" invariant depends on this happening before any
	// affirmative RequestVoteReply is sent.
	SaveVote(memberID uint64, term uint64, votedFor int64) error

	// LoadVote returns the last persisted (term, votedFor) for memberId,
	// or (0, -1) if none has ever been saved.
	LoadVote(memberID uint64) (term uint64, votedFor int64, err error)

	// HasLogEntry reports whether an entry with exactly (index, term)
	// exists in memberId's log. Index 0 with term 0 always matches (the
	// sentinel).
	HasLogEntry(memberID uint64, index, term uint64) (bool, error)

	// GetLogEntry returns memberId's entry at index, or ok=false if none
	// exists (including index 0, the sentinel, which is never stored).
	GetLogEntry(memberID uint64, index uint64) (entry Entry, ok bool, err error)

	// GetLastLogIndex returns the durable tail index for memberId, or 0 if
	// the log is empty.
	GetLastLogIndex(memberID uint64) (uint64, error)

	// GetLastLogTerm returns the term of the durable tail entry for
	// memberId, or 0 if the log is empty.
	GetLastLogTerm(memberID uint64) (uint64, error)

	// AppendLogEntry durably appends (index, term, payload) to memberId's
	// log. It must reject (ErrOutOfOrder) an append whose index is not
	// exactly lastSavedIndex+1, unless the caller has just truncated via
	// Delete to make room for a conflicting entry at that index.
	AppendLogEntry(memberID uint64, index, term uint64, payload []byte) error

	// Delete truncates the suffix of memberId's log at indices >=
	// fromIndex. Required before appending an entry that conflicts with
	// an already-durable one at the same index.
	Delete(memberID uint64, fromIndex uint64) error

	// SetMaxGap persists the in-flight gap between lastIndex and
	// savedIndex that the SaveQueue records at shutdown, consulted by the
	// SaveQueue on the next startup.
	SetMaxGap(memberID uint64, gap uint64) error

	// GetMaxGap returns the persisted maxGap for memberId, 0 if never set.
	GetMaxGap(memberID uint64) (uint64, error)

	// Close releases all resources for every member this Storage manages.
	Close() error
}
