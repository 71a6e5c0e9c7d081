// Package network defines the pluggable reliable byte channel contract
// that Peer uses to talk to a member hosted on another process, plus a
// loopback implementation for single-process tests.
package network

import "errors"

// ErrChannelClosed is returned by Send/Receive once the channel has been
// torn down, either by an explicit Close or, in the gRPC transport, by a
// broken stream. No inactivity timeout closes a channel.
var ErrChannelClosed = errors.New("network: channel closed")

// Network creates the Channels a Shard's Peers use to reach remote
// members. Implementations own reconnect policy; a torn-down channel is
// recreated transparently on the next CreateChannel call for the same
// pair, with no guarantee about messages in flight during the break.
type Network interface {
	// CreateChannel returns the Channel local uses to reach remote.
	// Calling it again for the same pair may return the same live
	// Channel or a freshly reconnected one.
	CreateChannel(local, remote uint64) (Channel, error)

	// Close tears down every Channel this Network has created.
	Close() error
}

// Channel is a reliable, FIFO-while-connected byte pipe between two
// members. Send is non-blocking from the caller's perspective once
// accepted by the implementation's outbound queue; Receive blocks until a
// message arrives or the channel is closed.
type Channel interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}
