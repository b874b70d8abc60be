package buffer

import (
	"fmt"
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
)

// UnpooledLimiter caps the total bytes outstanding across unpooled
// allocations, reporting an OutOfMemory-class RuntimeSystemError once the
// limit would be exceeded (spec.md §4.1).
type UnpooledLimiter struct {
	mu        sync.Mutex
	limit     int // 0 = unlimited
	reserved  int
}

// NewUnpooledLimiter returns a limiter. limit <= 0 means unlimited.
func NewUnpooledLimiter(limit int) *UnpooledLimiter {
	return &UnpooledLimiter{limit: limit}
}

func (l *UnpooledLimiter) reserve(n int) error {
	if l.limit <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserved+n > l.limit {
		return errs.RuntimeSystemError(
			fmt.Sprintf("unpooled allocation of %d bytes would exceed limit of %d", n, l.limit),
			nil)
	}
	l.reserved += n
	return nil
}

// release gives back n bytes of unpooled budget; called when an
// unpooled buffer's last reference drops.
func (l *UnpooledLimiter) release(n int) {
	if l.limit <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved -= n
	if l.reserved < 0 {
		l.reserved = 0
	}
}
