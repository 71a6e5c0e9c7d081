package raft

import (
	"encoding/binary"
	"fmt"
	"io"

	"gondola/internal/storage"
	"gondola/internal/wireformat"
)

// Internal Raft RPCs never cross a language or schema boundary — they
// only ever travel between this process's CoreMember and a Peer talking
// to another gondola process over the same Network implementation — so
// they use a hand-rolled, varint length-prefixed binary encoding instead
// of protobuf, in the same style as the storage package's own log record
// framing.

type byteWriter struct {
	buf []byte
}

func (w *byteWriter) putUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *byteWriter) putBool(b bool) {
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *byteWriter) putBytes(b []byte) {
	w.putUvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.off += n
	return v, nil
}

func (r *byteReader) boolean() (bool, error) {
	if r.off >= len(r.data) {
		return false, io.ErrUnexpectedEOF
	}
	b := r.data[r.off] != 0
	r.off++
	return b, nil
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if r.off+int(n) > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func encodeRequestVote(a RequestVoteArgs) []byte {
	w := &byteWriter{}
	w.putUvarint(a.Term)
	w.putUvarint(a.CandidateID)
	w.putUvarint(a.LastLogIndex)
	w.putUvarint(a.LastLogTerm)
	w.putBool(a.PreVote)
	return w.buf
}

func decodeRequestVote(data []byte) (RequestVoteArgs, error) {
	r := &byteReader{data: data}
	var a RequestVoteArgs
	var err error
	if a.Term, err = r.uvarint(); err != nil {
		return a, err
	}
	if a.CandidateID, err = r.uvarint(); err != nil {
		return a, err
	}
	if a.LastLogIndex, err = r.uvarint(); err != nil {
		return a, err
	}
	if a.LastLogTerm, err = r.uvarint(); err != nil {
		return a, err
	}
	if a.PreVote, err = r.boolean(); err != nil {
		return a, err
	}
	return a, nil
}

func encodeRequestVoteReply(r RequestVoteReply) []byte {
	w := &byteWriter{}
	w.putUvarint(r.Term)
	w.putBool(r.VoteGranted)
	w.putUvarint(r.VoterID)
	w.putBool(r.PreVote)
	return w.buf
}

func decodeRequestVoteReply(data []byte) (RequestVoteReply, error) {
	r := &byteReader{data: data}
	var rep RequestVoteReply
	var err error
	if rep.Term, err = r.uvarint(); err != nil {
		return rep, err
	}
	if rep.VoteGranted, err = r.boolean(); err != nil {
		return rep, err
	}
	if rep.VoterID, err = r.uvarint(); err != nil {
		return rep, err
	}
	if rep.PreVote, err = r.boolean(); err != nil {
		return rep, err
	}
	return rep, nil
}

func encodeAppendEntries(a AppendEntriesArgs) []byte {
	w := &byteWriter{}
	w.putUvarint(a.Term)
	w.putUvarint(a.LeaderID)
	w.putUvarint(a.PrevLogIndex)
	w.putUvarint(a.PrevLogTerm)
	w.putUvarint(a.LeaderCommit)
	w.putUvarint(uint64(len(a.Entries)))
	for _, e := range a.Entries {
		w.putUvarint(e.Index)
		w.putUvarint(e.Term)
		w.putBytes(e.Payload)
	}
	return w.buf
}

func decodeAppendEntries(data []byte) (AppendEntriesArgs, error) {
	r := &byteReader{data: data}
	var a AppendEntriesArgs
	var err error
	if a.Term, err = r.uvarint(); err != nil {
		return a, err
	}
	if a.LeaderID, err = r.uvarint(); err != nil {
		return a, err
	}
	if a.PrevLogIndex, err = r.uvarint(); err != nil {
		return a, err
	}
	if a.PrevLogTerm, err = r.uvarint(); err != nil {
		return a, err
	}
	if a.LeaderCommit, err = r.uvarint(); err != nil {
		return a, err
	}
	n, err := r.uvarint()
	if err != nil {
		return a, err
	}
	a.Entries = make([]storage.Entry, 0, n)
	for i := uint64(0); i < n; i++ {
		var e storage.Entry
		if e.Index, err = r.uvarint(); err != nil {
			return a, err
		}
		if e.Term, err = r.uvarint(); err != nil {
			return a, err
		}
		if e.Payload, err = r.bytes(); err != nil {
			return a, err
		}
		a.Entries = append(a.Entries, e)
	}
	return a, nil
}

func encodeAppendEntriesReply(r AppendEntriesReply) []byte {
	w := &byteWriter{}
	w.putUvarint(r.Term)
	w.putBool(r.Success)
	w.putUvarint(r.MemberID)
	w.putUvarint(r.LastIndex)
	return w.buf
}

func decodeAppendEntriesReply(data []byte) (AppendEntriesReply, error) {
	r := &byteReader{data: data}
	var rep AppendEntriesReply
	var err error
	if rep.Term, err = r.uvarint(); err != nil {
		return rep, err
	}
	if rep.Success, err = r.boolean(); err != nil {
		return rep, err
	}
	if rep.MemberID, err = r.uvarint(); err != nil {
		return rep, err
	}
	if rep.LastIndex, err = r.uvarint(); err != nil {
		return rep, err
	}
	return rep, nil
}

// buildMessage checks out a Message from pool, tags it typ, and fills its
// Buf with the encoded payload.
func buildMessage(pool *wireformat.Pool, typ wireformat.Type, payload []byte) *wireformat.Message {
	m := pool.Get(typ)
	m.Buf = append(m.Buf, payload...)
	return m
}

// envelopeEncode prefixes a Message's type tag onto its body so a single
// opaque byte slice can cross a network.Channel; the receiving side has no
// other way to recover which RPC kind a Channel.Receive frame carries.
func envelopeEncode(m *wireformat.Message) []byte {
	out := make([]byte, 1+len(m.Buf))
	out[0] = byte(m.Type)
	copy(out[1:], m.Buf)
	return out
}

func envelopeDecode(pool *wireformat.Pool, raw []byte) (*wireformat.Message, error) {
	if len(raw) < 1 {
		return nil, io.ErrUnexpectedEOF
	}
	m := pool.Get(wireformat.Type(raw[0]))
	m.Buf = append(m.Buf, raw[1:]...)
	return m, nil
}

func decodeMessage(m *wireformat.Message) (any, error) {
	switch m.Type {
	case wireformat.TypeRequestVote, wireformat.TypePreVote:
		return decodeRequestVote(m.Buf)
	case wireformat.TypeRequestVoteReply, wireformat.TypePreVoteReply:
		return decodeRequestVoteReply(m.Buf)
	case wireformat.TypeAppendEntries:
		return decodeAppendEntries(m.Buf)
	case wireformat.TypeAppendEntriesReply:
		return decodeAppendEntriesReply(m.Buf)
	default:
		return nil, fmt.Errorf("raft: unknown message type %v", m.Type)
	}
}
