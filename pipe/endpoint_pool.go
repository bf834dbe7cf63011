package pipe

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// EndpointPool limits the number of concurrent exchanges per remote endpoint across
// all pipes of a process, e.g. for gateways that accept a single connection.
type EndpointPool struct {
	capacity int
	slots    *xsync.MapOf[string, chan struct{}]
}

// NewEndpointPool creates a pool granting capacity concurrent slots per endpoint.
func NewEndpointPool(capacity int) (*EndpointPool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pipe: pool capacity %d must be positive", capacity)
	}

	return &EndpointPool{
		capacity: capacity,
		slots:    xsync.NewMapOf[string, chan struct{}](),
	}, nil
}

func (p *EndpointPool) slot(key string) chan struct{} {
	ch, _ := p.slots.LoadOrCompute(key, func() chan struct{} {
		return make(chan struct{}, p.capacity)
	})

	return ch
}

// Acquire blocks until a slot of key is free or ctx is done.
func (p *EndpointPool) Acquire(ctx context.Context, key string) error {
	select {
	case p.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot of key without blocking.
func (p *EndpointPool) TryAcquire(key string) bool {
	select {
	case p.slot(key) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot of key taken by Acquire or TryAcquire.
func (p *EndpointPool) Release(key string) {
	ch, ok := p.slots.Load(key)
	if !ok {
		return
	}

	select {
	case <-ch:
	default:
	}
}

// InUse returns the number of slots of key currently held.
func (p *EndpointPool) InUse(key string) int {
	ch, ok := p.slots.Load(key)
	if !ok {
		return 0
	}

	return len(ch)
}

// Capacity returns the number of slots per endpoint.
func (p *EndpointPool) Capacity() int { return p.capacity }
