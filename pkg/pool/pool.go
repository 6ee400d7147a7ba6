// Package pool provides typed object pooling for the conversion hot path.
//
// The reader allocates one row slice per batch and the coercion worker is
// done with it as soon as the batch is typed, so batch slices are recycled
// through RowSlices instead of being left to the garbage collector.
//
// Example usage:
//
//	rows := pool.GetRows(batchSize)
//	rows = append(rows, row)
//	...
//	pool.PutRows(rows)
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and an optional reset
// function. The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a new typed pool. newFn creates an object when the pool is
// empty; reset, if not nil, cleans an object before it is pooled again.
//
// Example:
//
//	p := New(
//	    func() *Buffer { return &Buffer{data: make([]byte, 0, 1024)} },
//	    func(b *Buffer) { b.data = b.data[:0] },
//	)
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object from the pool, creating one if it is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the objects created, the objects currently checked out,
// and the Gets served from pooled objects.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	allocated = atomic.LoadInt64(&p.stats.allocated)
	return allocated,
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets) - allocated
}

// RowSlices recycles batch row slices. Slices are pooled by pointer.
var RowSlices = New(
	func() *[]cell.Row { return new([]cell.Row) },
	func(s *[]cell.Row) {
		clear(*s)
		*s = (*s)[:0]
	},
)

// GetRows returns an empty row slice with at least the given capacity.
func GetRows(capacity int) []cell.Row {
	rows := *RowSlices.Get()
	if cap(rows) < capacity {
		return make([]cell.Row, 0, capacity)
	}
	return rows[:0]
}

// PutRows returns a slice obtained from GetRows. The caller must not use
// it afterwards.
func PutRows(rows []cell.Row) {
	RowSlices.Put(&rows)
}
