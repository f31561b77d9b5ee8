package data

import (
	"context"
	"sync"

	qserrors "github.com/objcachefs/objcachefs/pkg/errors"
)

// ResourceManager is a fixed-size pool of reusable byte buffers handed out
// to transfer tasks as multipart upload/download staging area, per
// spec.md §4.6. Unlike internal/buffer.BytePool (a set of sync.Pool
// buckets that allocates fresh slices under memory pressure rather than
// ever blocking a caller), Acquire here blocks when the pool is
// exhausted -- buffers are a hard-capped resource, not an allocation
// cache, so callers must wait for one to be returned rather than forcing
// the process to over-allocate.
type ResourceManager struct {
	mu        sync.Mutex
	available sync.Cond

	bufferSize int
	free       [][]byte // stack of buffers currently available
}

// NewResourceManager creates a pool of count buffers, each bufferSize
// bytes, all initially available.
func NewResourceManager(count, bufferSize int) *ResourceManager {
	rm := &ResourceManager{bufferSize: bufferSize}
	rm.available.L = &rm.mu
	rm.free = make([][]byte, count)
	for i := range rm.free {
		rm.free[i] = make([]byte, bufferSize)
	}
	return rm
}

// Acquire blocks until a buffer is available or ctx is cancelled.
func (rm *ResourceManager) Acquire(ctx context.Context) ([]byte, error) {
	if ctx != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				rm.mu.Lock()
				rm.available.Broadcast()
				rm.mu.Unlock()
			case <-done:
			}
		}()
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for len(rm.free) == 0 {
		if ctx != nil && ctx.Err() != nil {
			return nil, qserrors.NewError(qserrors.ErrCodeOperationTimeout, "acquire cancelled").
				WithComponent("data").WithOperation("ResourceManager.Acquire").WithCause(ctx.Err())
		}
		rm.available.Wait()
	}
	n := len(rm.free)
	buf := rm.free[n-1]
	rm.free = rm.free[:n-1]
	return buf, nil
}

// Release returns buf to the pool and wakes one waiting Acquire call.
// buf must have been obtained from this ResourceManager's Acquire.
func (rm *ResourceManager) Release(buf []byte) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.free = append(rm.free, buf[:cap(buf)][:rm.bufferSize])
	rm.available.Signal()
}

// BufferSize returns the fixed size of every buffer in the pool.
func (rm *ResourceManager) BufferSize() int {
	return rm.bufferSize
}

// Available returns the number of buffers currently free, for metrics
// and tests.
func (rm *ResourceManager) Available() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.free)
}
