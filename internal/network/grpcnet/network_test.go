package grpcnet

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return lis
}

// newConnectedPair brings up two Networks with ids 1 and 2, each serving
// its own listener and resolving the other's address, and returns one
// established Channel per side of the (1, 2) pair.
func newConnectedPair(t *testing.T) (netA, netB *Network, chA, chB interface {
	Send([]byte) error
	Receive() ([]byte, error)
	Close() error
}) {
	t.Helper()
	lisA := listen(t)
	lisB := listen(t)

	netA = New(1, func(id uint64) (string, bool) {
		if id == 2 {
			return lisB.Addr().String(), true
		}
		return "", false
	}, testLogger())
	netB = New(2, func(id uint64) (string, bool) {
		if id == 1 {
			return lisA.Addr().String(), true
		}
		return "", false
	}, testLogger())

	netA.Serve(lisA)
	netB.Serve(lisB)

	type result struct {
		ch  interface {
			Send([]byte) error
			Receive() ([]byte, error)
			Close() error
		}
		err error
	}
	bResult := make(chan result, 1)
	go func() {
		ch, err := netB.CreateChannel(2, 1)
		bResult <- result{ch, err}
	}()

	aCh, err := netA.CreateChannel(1, 2)
	require.NoError(t, err)

	select {
	case r := <-bResult:
		require.NoError(t, r.err)
		return netA, netB, aCh, r.ch
	case <-time.After(2 * time.Second):
		t.Fatal("server side never observed the inbound channel")
		return nil, nil, nil, nil
	}
}

func TestGrpcNetworkSmallerIDDialsLargerIDAccepts(t *testing.T) {
	netA, netB, chA, chB := newConnectedPair(t)
	defer netA.Close()
	defer netB.Close()
	defer chA.Close()
	defer chB.Close()

	require.NoError(t, chA.Send([]byte("hello from A")))
	got, err := chB.Receive()
	require.NoError(t, err)
	require.Equal(t, "hello from A", string(got))

	require.NoError(t, chB.Send([]byte("hello from B")))
	got, err = chA.Receive()
	require.NoError(t, err)
	require.Equal(t, "hello from B", string(got))
}

func TestGrpcNetworkCreateChannelRejectsMismatchedLocalID(t *testing.T) {
	lisA := listen(t)
	defer lisA.Close()
	netA := New(1, func(uint64) (string, bool) { return "", false }, testLogger())
	defer netA.Close()

	_, err := netA.CreateChannel(99, 2)
	require.Error(t, err)
}

func TestGrpcNetworkDialFailsWithoutResolvedAddress(t *testing.T) {
	netA := New(1, func(uint64) (string, bool) { return "", false }, testLogger())
	defer netA.Close()

	_, err := netA.CreateChannel(1, 2)
	require.Error(t, err)
}

func TestGrpcNetworkAwaitInboundTimesOutWithoutADialer(t *testing.T) {
	original := inboundWaitTimeout
	inboundWaitTimeout = 50 * time.Millisecond
	defer func() { inboundWaitTimeout = original }()

	lisB := listen(t)
	netB := New(2, func(uint64) (string, bool) { return "", false }, testLogger())
	netB.Serve(lisB)
	defer netB.Close()

	// member 1 (smaller than 2) never dials in, so member 2's wait for
	// an inbound channel must eventually give up rather than hang.
	_, err := netB.CreateChannel(2, 1)
	require.Error(t, err)
}
