package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDrainsInArrivalOrder(t *testing.T) {
	q := NewQueue(4)
	pool := NewPool()
	a, b, c := pool.Get([]byte("a")), pool.Get([]byte("b")), pool.Get([]byte("c"))

	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.Enqueue(b))
	require.NoError(t, q.Enqueue(c))
	require.Equal(t, 3, q.Len())

	require.Same(t, a, <-q.C())
	require.Same(t, b, <-q.C())
	require.Same(t, c, <-q.C())
}

func TestQueueEnqueueReturnsErrQueueFullWhenSaturated(t *testing.T) {
	q := NewQueue(1)
	pool := NewPool()

	require.NoError(t, q.Enqueue(pool.Get([]byte("first"))))
	err := q.Enqueue(pool.Get([]byte("second")))
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestNewQueueClampsNonPositiveSizeToOne(t *testing.T) {
	q := NewQueue(0)
	pool := NewPool()
	require.NoError(t, q.Enqueue(pool.Get([]byte("x"))))
	require.ErrorIs(t, q.Enqueue(pool.Get([]byte("y"))), ErrQueueFull)
}
