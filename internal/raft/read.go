package raft

import (
	"context"

	"gondola/internal/storage"
)

// WaitForCommit blocks until commitIndex reaches at least index, ctx is
// done, or the member shuts down. It works the same whether or not this
// member is currently slaved: a slave's commitIndex still advances as it
// ingests its master's stream, so a reader parked here is released the
// moment that catch-up crosses index.
func (m *CoreMember) WaitForCommit(ctx context.Context, index uint64) error {
	for {
		m.mu.RLock()
		reached := m.commitIndex >= index
		signal := m.commitSignal
		m.mu.RUnlock()
		if reached {
			return nil
		}
		select {
		case <-signal:
		case <-ctx.Done():
			return ErrTimeout
		case <-m.stopCh:
			return ErrShutdown
		}
	}
}

// CommittedEntry blocks until index is committed, then returns the raw
// log entry at that index. Index 0 is never valid: log indices start at
// 1. Callers wanting the caller-submitted bytes rather than this raw,
// possibly batch-framed payload should go through Shard.GetCommittedCommand.
func (m *CoreMember) CommittedEntry(ctx context.Context, index uint64) (storage.Entry, error) {
	if index == 0 {
		return storage.Entry{}, ErrInvalidIndex
	}
	if err := m.WaitForCommit(ctx, index); err != nil {
		return storage.Entry{}, err
	}
	entry, ok, err := m.storage.GetLogEntry(m.id, index)
	if err != nil {
		return storage.Entry{}, wrapStorageErr("GetLogEntry", err)
	}
	if !ok {
		return storage.Entry{}, ErrEntryNotFound
	}
	return entry, nil
}
