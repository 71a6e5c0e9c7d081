package command

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolGetReturnsFreshlyTaggedCommand(t *testing.T) {
	pool := NewPool()
	cmd := pool.Get([]byte("payload"))

	require.Equal(t, StateFree, cmd.State())
	require.Equal(t, []byte("payload"), cmd.Payload)
	require.NotEqual(t, [16]byte{}, cmd.ID)
}

func TestPoolReusesCommandsAfterRelease(t *testing.T) {
	pool := NewPool()
	first := pool.Get([]byte("a"))
	firstID := first.ID
	first.Release()

	second := pool.Get([]byte("b"))
	require.NotEqual(t, firstID, second.ID)
	require.Equal(t, []byte("b"), second.Payload)
}

func TestMarkWaitingThenResolveCommitted(t *testing.T) {
	pool := NewPool()
	cmd := pool.Get([]byte("x"))
	done := cmd.Done()

	cmd.MarkWaiting(5, 2)
	require.Equal(t, StateWaiting, cmd.State())
	require.Equal(t, uint64(5), cmd.Index())
	require.Equal(t, uint64(2), cmd.Term())

	cmd.Resolve(StateCommitted, nil)

	select {
	case <-done:
	default:
		t.Fatal("Done channel was not closed by Resolve")
	}
	require.Equal(t, StateCommitted, cmd.State())
	require.NoError(t, cmd.Err())
}

func TestResolveIsNoOpOutsideWaitingState(t *testing.T) {
	pool := NewPool()
	cmd := pool.Get([]byte("x"))

	// Never transitioned to StateWaiting.
	cmd.Resolve(StateCommitted, nil)
	require.Equal(t, StateFree, cmd.State())
}

func TestResolveOnlyTakesEffectOnce(t *testing.T) {
	pool := NewPool()
	cmd := pool.Get([]byte("x"))
	cmd.MarkWaiting(1, 1)

	sentinel := errors.New("boom")
	cmd.Resolve(StateError, sentinel)
	cmd.Resolve(StateCommitted, nil)

	require.Equal(t, StateError, cmd.State())
	require.ErrorIs(t, cmd.Err(), sentinel)
}

func TestResetClearsStateAndClosesPendingDone(t *testing.T) {
	cmd := &Command{}
	cmd.ID = [16]byte{1}
	cmd.Payload = []byte("stale")
	done := cmd.Done()

	cmd.Reset()

	select {
	case <-done:
	default:
		t.Fatal("Reset must close any outstanding Done channel")
	}
	require.Equal(t, StateFree, cmd.State())
	require.Equal(t, uint64(0), cmd.Index())
	require.Nil(t, cmd.Payload)
}

func TestMarkWaitingStampsSubmittedTime(t *testing.T) {
	cmd := &Command{}
	before := time.Now()
	cmd.MarkWaiting(1, 1)
	require.False(t, cmd.submitted.Before(before))
}
