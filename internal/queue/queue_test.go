package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutTakeFIFOOrder(t *testing.T) {
	q := New[int]()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Put(ctx, i))
	}
	for i := 0; i < 5; i++ {
		v, err := q.Take(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestReadyAndIncomingReflectOccupancy(t *testing.T) {
	q := New[int]()
	assert.False(t, q.Incoming())
	assert.True(t, q.Ready())

	require.True(t, q.TryPut(1))
	assert.True(t, q.Incoming())
}

func TestTryPutFailsWhenFull(t *testing.T) {
	q := New[int]()
	for i := 0; i < Capacity; i++ {
		require.True(t, q.TryPut(i))
	}
	assert.False(t, q.TryPut(Capacity))
	assert.False(t, q.Ready())
}

func TestPutBlocksUntilContextCancelled(t *testing.T) {
	q := New[int]()
	for i := 0; i < Capacity; i++ {
		require.True(t, q.TryPut(i))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Put(ctx, 999)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTakeBlocksUntilContextCancelled(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
