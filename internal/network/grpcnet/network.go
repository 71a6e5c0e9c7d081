// Package grpcnet implements network.Network over real gRPC connections
// between host processes, so a Peer can reach a member hosted elsewhere
// the same way it reaches one hosted in the same process over Loopback.
//
// Every (local, remote) member pair shares exactly one bidirectional
// stream for as long as it stays connected: the member with the smaller
// id dials out and opens the stream; the member with the larger id runs
// the server side and waits for that inbound stream to arrive. This
// keeps every pair single-connection without a handshake beyond the
// dialer stamping its own member id on the stream's outgoing metadata.
package grpcnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"gondola/internal/network"
)

const memberIDMetadataKey = "gondola-member-id"

// inboundWaitTimeout bounds how long the larger-id side of a pair waits
// for the smaller-id side to dial in before CreateChannel fails and the
// caller's own retry/backoff loop (Peer.connectLoop) takes over.
var inboundWaitTimeout = 5 * time.Second

// AddressResolver maps a member id to the host address it should be
// dialed at.
type AddressResolver func(memberID uint64) (address string, ok bool)

// Network is a network.Network backed by one shared gRPC server (for
// inbound peer channels) and a pool of client connections (for outbound
// ones), keyed by remote member id.
type Network struct {
	UnimplementedRaftTransportServer

	selfID   uint64
	resolver AddressResolver
	logger   *slog.Logger

	mu    sync.Mutex
	links map[uint64]*link
	conns map[uint64]*grpc.ClientConn

	grpcServer *grpc.Server
}

type link struct {
	ready chan struct{}
	ch    *grpcChannel
}

// New constructs a Network for selfID. Serve must be called separately
// once a listener is available for peers with a smaller id to dial in
// on.
func New(selfID uint64, resolver AddressResolver, logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	return &Network{
		selfID:   selfID,
		resolver: resolver,
		logger:   logger.With("component", "grpcnet"),
		links:    make(map[uint64]*link),
		conns:    make(map[uint64]*grpc.ClientConn),
	}
}

// Serve starts accepting inbound peer channels on lis. It returns once
// the gRPC server has been constructed; Serve itself runs the accept
// loop on its own goroutine until Close is called.
func (n *Network) Serve(lis net.Listener) {
	s := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    30 * time.Second,
		Timeout: 5 * time.Second,
	}))
	RegisterRaftTransportServer(s, n)

	n.mu.Lock()
	n.grpcServer = s
	n.mu.Unlock()

	go func() {
		if err := s.Serve(lis); err != nil {
			n.logger.Info("grpc server stopped serving", "error", err)
		}
	}()
}

// CreateChannel implements network.Network. local must equal this
// Network's own selfID: a Network only ever brokers channels on behalf
// of the process that owns it.
func (n *Network) CreateChannel(local, remote uint64) (network.Channel, error) {
	if local != n.selfID {
		return nil, fmt.Errorf("grpcnet: local id %d does not match network id %d", local, n.selfID)
	}
	if n.selfID == remote {
		return nil, fmt.Errorf("grpcnet: cannot create a channel to self")
	}
	if n.selfID < remote {
		return n.dial(remote)
	}
	return n.awaitInbound(remote)
}

func (n *Network) dial(remote uint64) (network.Channel, error) {
	addr, ok := n.resolver(remote)
	if !ok {
		return nil, fmt.Errorf("grpcnet: no address configured for member %d", remote)
	}

	conn, err := n.connFor(remote, addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = metadata.AppendToOutgoingContext(ctx, memberIDMetadataKey, strconv.FormatUint(n.selfID, 10))

	stream, err := NewRaftTransportClient(conn).Channel(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("grpcnet: open channel to member %d at %s: %w", remote, addr, err)
	}
	return newGrpcChannel(stream, cancel), nil
}

func (n *Network) connFor(remote uint64, addr string) (*grpc.ClientConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.conns[remote]; ok {
		return c, nil
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("grpcnet: dial member %d at %s: %w", remote, addr, err)
	}
	n.conns[remote] = conn
	return conn, nil
}

func (n *Network) awaitInbound(remote uint64) (network.Channel, error) {
	n.mu.Lock()
	l, ok := n.links[remote]
	if !ok {
		l = &link{ready: make(chan struct{})}
		n.links[remote] = l
	}
	n.mu.Unlock()

	select {
	case <-l.ready:
		n.mu.Lock()
		ch := l.ch
		delete(n.links, remote)
		n.mu.Unlock()
		return ch, nil
	case <-time.After(inboundWaitTimeout):
		return nil, fmt.Errorf("grpcnet: timed out waiting for member %d to connect", remote)
	}
}

// Channel implements RaftTransportServer: it is invoked once per inbound
// stream, identifies the dialing member from its metadata, hands the
// wrapped channel to whichever CreateChannel call is waiting on that
// member, then blocks for the stream's lifetime.
func (n *Network) Channel(stream RaftTransport_ChannelServer) error {
	md, ok := metadata.FromIncomingContext(stream.Context())
	if !ok {
		return status.Error(codes.InvalidArgument, "missing metadata")
	}
	vals := md.Get(memberIDMetadataKey)
	if len(vals) == 0 {
		return status.Error(codes.InvalidArgument, "missing "+memberIDMetadataKey+" metadata")
	}
	remoteID, err := strconv.ParseUint(vals[0], 10, 64)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid %s metadata: %v", memberIDMetadataKey, err)
	}

	ch := newGrpcChannel(stream, nil)
	n.deliverInbound(remoteID, ch)
	n.logger.Info("accepted peer channel", "remote", remoteID)

	go func() {
		select {
		case <-stream.Context().Done():
			ch.Close()
		case <-ch.closed:
		}
	}()
	<-ch.closed
	return nil
}

func (n *Network) deliverInbound(remote uint64, ch *grpcChannel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.links[remote]
	if !ok {
		l = &link{ready: make(chan struct{})}
		n.links[remote] = l
	}
	if l.ch != nil {
		// A stale channel from a previous connection attempt that was
		// never consumed; replace it, the earlier one is abandoned.
		l.ch.Close()
		l.ready = make(chan struct{})
	}
	l.ch = ch
	close(l.ready)
}

// Close tears down every client connection and stops the gRPC server.
func (n *Network) Close() error {
	n.mu.Lock()
	server := n.grpcServer
	conns := n.conns
	n.conns = make(map[uint64]*grpc.ClientConn)
	n.mu.Unlock()

	if server != nil {
		server.GracefulStop()
	}
	for _, c := range conns {
		c.Close()
	}
	return nil
}
