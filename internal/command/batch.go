package command

import (
	"encoding/binary"
	"io"
)

// EncodeBatch frames several command payloads into one combined log
// entry payload: a uvarint count followed by each payload's
// uvarint-length-prefixed bytes. A single-command batch still goes
// through this framing so the commit path only ever has one decode
// shape to handle, batching on or off.
func EncodeBatch(payloads [][]byte) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(payloads)))
	buf = append(buf, tmp[:n]...)

	for _, p := range payloads {
		n := binary.PutUvarint(tmp[:], uint64(len(p)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, p...)
	}
	return buf
}

// DecodeBatch reverses EncodeBatch.
func DecodeBatch(data []byte) ([][]byte, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, io.ErrUnexpectedEOF
	}
	off := n

	payloads := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		length, n := binary.Uvarint(data[off:])
		if n <= 0 {
			return nil, io.ErrUnexpectedEOF
		}
		off += n
		if off+int(length) > len(data) {
			return nil, io.ErrUnexpectedEOF
		}
		payloads = append(payloads, data[off:off+int(length)])
		off += int(length)
	}
	return payloads, nil
}
