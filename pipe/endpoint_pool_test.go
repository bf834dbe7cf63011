package pipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEndpointPool(t *testing.T) {
	require := require.New(t)

	_, err := NewEndpointPool(0)
	require.Error(err)

	pool, err := NewEndpointPool(1)
	require.NoError(err)
	require.Equal(1, pool.Capacity())

	ctx := context.Background()
	require.NoError(pool.Acquire(ctx, "10.0.0.1:502"))
	require.Equal(1, pool.InUse("10.0.0.1:502"))
	require.False(pool.TryAcquire("10.0.0.1:502"))

	// other endpoints are independent
	require.True(pool.TryAcquire("10.0.0.2:502"))

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(pool.Acquire(tctx, "10.0.0.1:502"), context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		_ = pool.Acquire(ctx, "10.0.0.1:502")
		close(acquired)
	}()

	pool.Release("10.0.0.1:502")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}

	pool.Release("10.0.0.1:502")
	pool.Release("unknown")
	require.Zero(pool.InUse("10.0.0.1:502"))
	require.Zero(pool.InUse("unknown"))
}
