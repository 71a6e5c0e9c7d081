package grpcnet

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// serviceName and channelMethod name the single bidirectional-streaming
// RPC every gRPC-connected pair of members shares: one stream carries
// every already wire-framed Raft message between them in both
// directions for as long as the pair stays connected.
const (
	serviceName   = "gondola.raft.RaftTransport"
	channelMethod = "Channel"
)

// RaftTransportClient dials a peer's RaftTransport service.
type RaftTransportClient interface {
	Channel(ctx context.Context, opts ...grpc.CallOption) (RaftTransport_ChannelClient, error)
}

type raftTransportClient struct {
	cc grpc.ClientConnInterface
}

// NewRaftTransportClient wraps an already-established connection.
func NewRaftTransportClient(cc grpc.ClientConnInterface) RaftTransportClient {
	return &raftTransportClient{cc: cc}
}

func (c *raftTransportClient) Channel(ctx context.Context, opts ...grpc.CallOption) (RaftTransport_ChannelClient, error) {
	stream, err := c.cc.NewStream(ctx, &raftTransportServiceDesc.Streams[0], "/"+serviceName+"/"+channelMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &raftTransportChannelClient{ClientStream: stream}, nil
}

// RaftTransport_ChannelClient is the caller's half of one Channel stream.
type RaftTransport_ChannelClient interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type raftTransportChannelClient struct {
	grpc.ClientStream
}

func (x *raftTransportChannelClient) Send(m *wrapperspb.BytesValue) error {
	return x.ClientStream.SendMsg(m)
}

func (x *raftTransportChannelClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RaftTransportServer is implemented by whatever accepts inbound peer
// channels; Network implements it directly.
type RaftTransportServer interface {
	Channel(RaftTransport_ChannelServer) error
}

// UnimplementedRaftTransportServer satisfies RaftTransportServer for
// embedding in tests that only care about part of the interface.
type UnimplementedRaftTransportServer struct{}

func (UnimplementedRaftTransportServer) Channel(RaftTransport_ChannelServer) error {
	return status.Error(codes.Unimplemented, "method Channel not implemented")
}

// RaftTransport_ChannelServer is the acceptor's half of one Channel
// stream.
type RaftTransport_ChannelServer interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type raftTransportChannelServer struct {
	grpc.ServerStream
}

func (x *raftTransportChannelServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func (x *raftTransportChannelServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterRaftTransportServer attaches srv to s under the RaftTransport
// service name.
func RegisterRaftTransportServer(s grpc.ServiceRegistrar, srv RaftTransportServer) {
	s.RegisterService(&raftTransportServiceDesc, srv)
}

func raftTransportChannelHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RaftTransportServer).Channel(&raftTransportChannelServer{ServerStream: stream})
}

var raftTransportServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RaftTransportServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    channelMethod,
			Handler:       raftTransportChannelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/network/grpcnet/service.go",
}
