package pipe

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	require := require.New(t)

	var h Health
	require.Zero(h.Load())
	require.Equal(int32(1), h.Inc())
	require.Equal(int32(2), h.Inc())
	require.Equal(int32(2), h.Reset())
	require.Zero(h.Load())

	require.Equal(int32(1), h.ForceFault())
	require.GreaterOrEqual(h.Load(), int32(1))
}

func TestHealth_Saturates(t *testing.T) {
	require := require.New(t)

	var h Health
	h.count.Store(math.MaxInt32 - 1)
	require.Equal(int32(math.MaxInt32), h.Inc())
	require.Equal(int32(math.MaxInt32), h.Inc())
	require.Equal(int32(math.MaxInt32), h.ForceFault())
}

func TestHealth_Concurrent(t *testing.T) {
	var h Health
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Inc()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(5000), h.Load())
}
