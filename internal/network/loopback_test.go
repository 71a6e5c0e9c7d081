package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopbackDeliversInFIFOOrder(t *testing.T) {
	n := NewLoopback()

	chA, err := n.CreateChannel(1, 2)
	require.NoError(t, err)
	chB, err := n.CreateChannel(2, 1)
	require.NoError(t, err)

	require.NoError(t, chA.Send([]byte("first")))
	require.NoError(t, chA.Send([]byte("second")))

	got, err := chB.Receive()
	require.NoError(t, err)
	require.Equal(t, "first", string(got))

	got, err = chB.Receive()
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestLoopbackIsBidirectional(t *testing.T) {
	n := NewLoopback()

	chA, err := n.CreateChannel(1, 2)
	require.NoError(t, err)
	chB, err := n.CreateChannel(2, 1)
	require.NoError(t, err)

	require.NoError(t, chB.Send([]byte("reply")))
	got, err := chA.Receive()
	require.NoError(t, err)
	require.Equal(t, "reply", string(got))
}

func TestLoopbackCloseUnblocksReceive(t *testing.T) {
	n := NewLoopback()
	chA, err := n.CreateChannel(1, 2)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := chA.Receive()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, chA.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock after Close")
	}
}
