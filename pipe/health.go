package pipe

import (
	"math"
	"sync/atomic"
)

// Health is the consecutive-failure counter of a pipe. The zero value is healthy.
type Health struct {
	count atomic.Int32
}

// Load returns the current failure count.
func (h *Health) Load() int32 {
	return h.count.Load()
}

// Inc adds one failure and returns the new count. It saturates at math.MaxInt32.
func (h *Health) Inc() int32 {
	for {
		cur := h.count.Load()
		if cur == math.MaxInt32 {
			return cur
		}
		if h.count.CompareAndSwap(cur, cur+1) {
			return cur + 1
		}
	}
}

// Reset clears the counter and returns the previous count.
func (h *Health) Reset() int32 {
	return h.count.Swap(0)
}

// ForceFault marks the counter unhealthy. The count is at least 1 afterwards.
func (h *Health) ForceFault() int32 {
	return h.Inc()
}
