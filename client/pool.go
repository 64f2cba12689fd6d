package client

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"uds-rpc/transport"
)

var (
	_ Caller = (*transport.Channel)(nil)
	_ Caller = (*Pool)(nil)
)

// Pool fans calls out over a fixed set of channels in round-robin order.
// Each channel serializes its own calls, so the pool's effective concurrency
// is its size.
type Pool struct {
	channels []*transport.Channel
	counter  atomic.Int64
}

// NewPool opens size channels to path. Channels connect lazily, so a pool
// can be built before the server is up.
func NewPool(path string, size int, timeout time.Duration, opts ...transport.Option) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("client: pool size must be positive, got %d", size)
	}
	channels := make([]*transport.Channel, size)
	for i := range channels {
		channels[i] = transport.NewChannel(path, timeout, opts...)
	}
	return &Pool{channels: channels}, nil
}

// Call forwards to the next channel in round-robin order. The atomic
// counter keeps the distribution even without locks.
func (p *Pool) Call(routineID uint32, payload []byte) ([]byte, error) {
	index := p.counter.Add(1) % int64(len(p.channels))
	return p.channels[index].Call(routineID, payload)
}

// Size returns the number of channels in the pool.
func (p *Pool) Size() int {
	return len(p.channels)
}

// Close disconnects every channel. A later Call dials again.
func (p *Pool) Close() error {
	var err error
	for _, ch := range p.channels {
		err = errors.Join(err, ch.Close())
	}
	return err
}
