package buffer

import (
	"context"
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/metrics"
)

// Pool is a fixed-size buffer pool: every buffer it hands out has the
// same backing capacity (spec.md §4.1). A separate unpooled path handles
// variable-size allocations.
type Pool struct {
	name       string
	bufferSize int
	free       chan []byte
	unpooled   *UnpooledLimiter
}

// Config configures a Pool.
type Config struct {
	Name          string
	BufferSize    int // bytes per pooled buffer
	NumBuffers    int // total pooled buffers
	UnpooledLimit int // max bytes outstanding across unpooled allocations, 0 = unlimited
}

// NewPool creates a pool with NumBuffers fixed-size buffers pre-allocated
// and ready to acquire.
func NewPool(cfg Config) *Pool {
	p := &Pool{
		name:       cfg.Name,
		bufferSize: cfg.BufferSize,
		free:       make(chan []byte, cfg.NumBuffers),
		unpooled:   NewUnpooledLimiter(cfg.UnpooledLimit),
	}
	for i := 0; i < cfg.NumBuffers; i++ {
		p.free <- make([]byte, cfg.BufferSize)
	}
	return p
}

// Acquire blocks until a pooled buffer is available or ctx is canceled.
func (p *Pool) Acquire(ctx context.Context) (*TupleBuffer, error) {
	select {
	case mem := <-p.free:
		return p.wrap(mem), nil
	case <-ctx.Done():
		return nil, errs.Transient(fmt.Sprintf("pool %s: acquire canceled", p.name), ctx.Err())
	}
}

// TryAcquire is the non-blocking variant. ok is false when the pool is
// exhausted, which the caller must treat as a backpressure signal
// (spec.md §4.1 "Failure").
func (p *Pool) TryAcquire() (buf *TupleBuffer, ok bool) {
	select {
	case mem := <-p.free:
		return p.wrap(mem), true
	default:
		metrics.BackpressureEventsTotal.WithLabelValues(p.name).Inc()
		return nil, false
	}
}

func (p *Pool) wrap(mem []byte) *TupleBuffer {
	buf := bufPool.Get().(*TupleBuffer)
	*buf = TupleBuffer{Payload: mem[:0], pool: p}
	buf.refCount.Store(1)
	return buf
}

// reclaim returns the buffer's backing memory to the free list and the
// buffer struct itself to the object pool.
func (p *Pool) reclaim(buf *TupleBuffer) {
	mem := buf.Payload[:cap(buf.Payload)]
	*buf = TupleBuffer{}
	bufPool.Put(buf)
	select {
	case p.free <- mem:
	default:
		// pool was resized smaller than outstanding buffers; drop the
		// backing memory instead of blocking the releasing goroutine.
	}
}

// AcquireUnpooled allocates a variable-size, unpooled buffer, failing
// with an OutOfMemory-class error if it would exceed the configured
// limit (spec.md §4.1 "Unpooled allocations may fail with an OutOfMemory
// condition").
func (p *Pool) AcquireUnpooled(nBytes int) (*TupleBuffer, error) {
	if err := p.unpooled.reserve(nBytes); err != nil {
		return nil, err
	}
	buf := bufPool.Get().(*TupleBuffer)
	*buf = TupleBuffer{Payload: make([]byte, 0, nBytes), unpooledFrom: p.unpooled, unpooledSize: nBytes}
	buf.refCount.Store(1)
	return buf, nil
}

// BufferSize returns the fixed size of pooled buffers.
func (p *Pool) BufferSize() int { return p.bufferSize }

// Available returns the number of currently free pooled buffers.
func (p *Pool) Available() int { return len(p.free) }
