package grpcnet

import (
	"sync"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"gondola/internal/network"
)

// bytesStream is the common surface RaftTransport_ChannelClient and
// RaftTransport_ChannelServer both satisfy, letting grpcChannel wrap
// either side of a stream identically.
type bytesStream interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
}

// grpcChannel adapts one gRPC bidirectional stream to network.Channel.
// gRPC supports exactly one goroutine calling SendMsg and one calling
// RecvMsg concurrently on the same stream, which matches how Peer uses a
// Channel: one sendLoop, one recvUntilBroken.
type grpcChannel struct {
	stream bytesStream

	closeOnce sync.Once
	closed    chan struct{}
	closeFn   func()
}

func newGrpcChannel(stream bytesStream, closeFn func()) *grpcChannel {
	return &grpcChannel{stream: stream, closed: make(chan struct{}), closeFn: closeFn}
}

func (c *grpcChannel) Send(data []byte) error {
	select {
	case <-c.closed:
		return network.ErrChannelClosed
	default:
	}
	if err := c.stream.Send(&wrapperspb.BytesValue{Value: data}); err != nil {
		c.Close()
		return network.ErrChannelClosed
	}
	return nil
}

func (c *grpcChannel) Receive() ([]byte, error) {
	msg, err := c.stream.Recv()
	if err != nil {
		c.Close()
		return nil, network.ErrChannelClosed
	}
	return msg.GetValue(), nil
}

func (c *grpcChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.closeFn != nil {
			c.closeFn()
		}
	})
	return nil
}
