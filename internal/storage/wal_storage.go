package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/wal"
)

const (
	recordTypeEntry byte = 1

	logSubdir = "log"
	metaFile  = "meta.bin"
)

// WALStorage is the durable Storage implementation: one tidwall/wal log per
// memberId plus a small synced meta file holding the persisted vote and
// maxGap. Each log record is a type byte, a uvarint payload length, the
// entry's 8-byte little-endian term and the payload.
type WALStorage struct {
	baseDir string
	noSync  bool

	mu      sync.Mutex
	members map[uint64]*memberLog
}

// NewWALStorage opens (creating if absent) a WALStorage rooted at baseDir.
// Each member gets its own subdirectory, opened lazily on first use so an
// Engine never pays for members it doesn't host.
func NewWALStorage(baseDir string, noSync bool) (*WALStorage, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", baseDir, err)
	}
	return &WALStorage{baseDir: baseDir, noSync: noSync, members: make(map[uint64]*memberLog)}, nil
}

type memberLog struct {
	mu sync.Mutex

	log     *wal.Log
	logDir  string
	noSync  bool

	lastIndex uint64
	lastTerm  uint64

	voteTerm uint64
	votedFor int64
	maxGap   uint64
	metaPath string
}

func (s *WALStorage) member(memberID uint64) (*memberLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.members[memberID]; ok {
		return m, nil
	}

	dir := filepath.Join(s.baseDir, fmt.Sprintf("member-%d", memberID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}

	logDir := filepath.Join(dir, logSubdir)
	opts := *wal.DefaultOptions
	opts.NoSync = s.noSync
	l, err := wal.Open(logDir, &opts)
	if err != nil {
		return nil, fmt.Errorf("storage: wal.Open: %w", err)
	}

	m := &memberLog{log: l, logDir: logDir, noSync: s.noSync, votedFor: -1, metaPath: filepath.Join(dir, metaFile)}
	if err := m.loadMeta(); err != nil {
		l.Close()
		return nil, err
	}
	if err := m.replayTail(); err != nil {
		l.Close()
		return nil, err
	}

	s.members[memberID] = m
	return m, nil
}

func (m *memberLog) replayTail() error {
	empty, err := m.log.IsEmpty()
	if err != nil {
		return fmt.Errorf("storage: wal.IsEmpty: %w", err)
	}
	if empty {
		return nil
	}

	first, err := m.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("storage: wal.FirstIndex: %w", err)
	}
	last, err := m.log.LastIndex()
	if err != nil {
		return fmt.Errorf("storage: wal.LastIndex: %w", err)
	}

	prevTerm := uint64(0)
	for idx := first; idx <= last; idx++ {
		data, err := m.log.Read(idx)
		if err != nil {
			return fmt.Errorf("storage: wal.Read(%d): %w", idx, err)
		}
		term, _, err := unmarshalEntryRecord(data)
		if err != nil {
			return fmt.Errorf("storage: unmarshal record %d: %w", idx, err)
		}
		if term < prevTerm {
			return ErrCorruptLog
		}
		prevTerm = term
	}

	lastData, err := m.log.Read(last)
	if err != nil {
		return fmt.Errorf("storage: wal.Read(%d): %w", last, err)
	}
	term, _, err := unmarshalEntryRecord(lastData)
	if err != nil {
		return err
	}

	m.lastIndex = last
	m.lastTerm = term
	return nil
}

func (m *memberLog) loadMeta() error {
	data, err := os.ReadFile(m.metaPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: read meta: %w", err)
	}
	if len(data) != 24 {
		return fmt.Errorf("storage: meta file %s has unexpected size %d", m.metaPath, len(data))
	}
	m.voteTerm = binary.LittleEndian.Uint64(data[0:8])
	m.votedFor = int64(binary.LittleEndian.Uint64(data[8:16]))
	m.maxGap = binary.LittleEndian.Uint64(data[16:24])
	return nil
}

func (m *memberLog) saveMetaLocked() error {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], m.voteTerm)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.votedFor))
	binary.LittleEndian.PutUint64(buf[16:24], m.maxGap)

	tmpPath := m.metaPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("storage: create meta tmp: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("storage: write meta tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("storage: sync meta tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: close meta tmp: %w", err)
	}
	return os.Rename(tmpPath, m.metaPath)
}

func (s *WALStorage) SaveVote(memberID uint64, term uint64, votedFor int64) error {
	m, err := s.member(memberID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voteTerm = term
	m.votedFor = votedFor
	return m.saveMetaLocked()
}

func (s *WALStorage) LoadVote(memberID uint64) (uint64, int64, error) {
	m, err := s.member(memberID)
	if err != nil {
		return 0, -1, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voteTerm, m.votedFor, nil
}

func (s *WALStorage) HasLogEntry(memberID uint64, index, term uint64) (bool, error) {
	if index == 0 {
		return term == 0, nil
	}
	e, ok, err := s.GetLogEntry(memberID, index)
	if err != nil || !ok {
		return false, err
	}
	return e.Term == term, nil
}

func (s *WALStorage) GetLogEntry(memberID uint64, index uint64) (Entry, bool, error) {
	if index == 0 {
		return Entry{}, false, nil
	}
	m, err := s.member(memberID)
	if err != nil {
		return Entry{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if index > m.lastIndex {
		return Entry{}, false, nil
	}

	data, err := m.log.Read(index)
	if err != nil {
		if err == wal.ErrNotFound {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("storage: wal.Read(%d): %w", index, err)
	}
	term, payload, err := unmarshalEntryRecord(data)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Index: index, Term: term, Payload: payload}, true, nil
}

func (s *WALStorage) GetLastLogIndex(memberID uint64) (uint64, error) {
	m, err := s.member(memberID)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastIndex, nil
}

func (s *WALStorage) GetLastLogTerm(memberID uint64) (uint64, error) {
	m, err := s.member(memberID)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTerm, nil
}

func (s *WALStorage) AppendLogEntry(memberID uint64, index, term uint64, payload []byte) error {
	m, err := s.member(memberID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if index != m.lastIndex+1 {
		return ErrOutOfOrder
	}

	data := marshalEntryRecord(term, payload)
	if err := m.log.Write(index, data); err != nil {
		return fmt.Errorf("storage: wal.Write(%d): %w", index, err)
	}
	if err := m.log.Sync(); err != nil {
		return fmt.Errorf("storage: wal.Sync: %w", err)
	}

	m.lastIndex = index
	m.lastTerm = term
	return nil
}

func (s *WALStorage) Delete(memberID uint64, fromIndex uint64) error {
	m, err := s.member(memberID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if fromIndex > m.lastIndex {
		return nil
	}

	if fromIndex <= 1 {
		if err := m.log.Close(); err != nil {
			return fmt.Errorf("storage: close for clear: %w", err)
		}
		if err := os.RemoveAll(m.logDir); err != nil {
			return fmt.Errorf("storage: remove log dir for clear: %w", err)
		}
		opts := *wal.DefaultOptions
		opts.NoSync = m.noSync
		l, err := wal.Open(m.logDir, &opts)
		if err != nil {
			return fmt.Errorf("storage: reopen cleared wal: %w", err)
		}
		m.log = l
		m.lastIndex = 0
		m.lastTerm = 0
		return nil
	}

	if err := m.log.TruncateBack(fromIndex - 1); err != nil {
		return fmt.Errorf("storage: wal.TruncateBack(%d): %w", fromIndex-1, err)
	}

	data, err := m.log.Read(fromIndex - 1)
	if err != nil {
		return fmt.Errorf("storage: wal.Read(%d): %w", fromIndex-1, err)
	}
	term, _, err := unmarshalEntryRecord(data)
	if err != nil {
		return err
	}

	m.lastIndex = fromIndex - 1
	m.lastTerm = term
	return nil
}

func (s *WALStorage) SetMaxGap(memberID uint64, gap uint64) error {
	m, err := s.member(memberID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxGap = gap
	return m.saveMetaLocked()
}

func (s *WALStorage) GetMaxGap(memberID uint64) (uint64, error) {
	m, err := s.member(memberID)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxGap, nil
}

func (s *WALStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, m := range s.members {
		m.mu.Lock()
		if err := m.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.mu.Unlock()
	}
	return firstErr
}

func marshalEntryRecord(term uint64, payload []byte) []byte {
	buf := make([]byte, 1+binary.MaxVarintLen64+8+len(payload))
	buf[0] = recordTypeEntry
	n := binary.PutUvarint(buf[1:], uint64(len(payload)))
	off := 1 + n
	binary.LittleEndian.PutUint64(buf[off:off+8], term)
	copy(buf[off+8:], payload)
	return buf[:off+8+len(payload)]
}

func unmarshalEntryRecord(data []byte) (term uint64, payload []byte, err error) {
	if len(data) < 2 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	if data[0] != recordTypeEntry {
		return 0, nil, fmt.Errorf("storage: unexpected record type %d", data[0])
	}
	length, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	off := 1 + n
	if off+8 > len(data) {
		return 0, nil, io.ErrUnexpectedEOF
	}
	term = binary.LittleEndian.Uint64(data[off : off+8])
	payloadStart := off + 8
	payloadEnd := payloadStart + int(length)
	if payloadEnd > len(data) || payloadEnd < payloadStart {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return term, data[payloadStart:payloadEnd], nil
}
