package pipeline

import (
	"container/heap"

	"github.com/ajitpratap0/sheetpipe/pkg/columnar"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
)

// Result is a coerced batch on its way to the writer.
type Result struct {
	Seq     int
	Columns *columnar.ColumnSet
}

// ReorderBuffer releases results strictly in sequence order, holding back
// any that complete before an earlier batch. It is owned by the writer
// goroutine and is not safe for concurrent use.
type ReorderBuffer struct {
	next  int
	items resultHeap
}

// NewReorderBuffer creates a buffer expecting sequence number 0 first.
func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{}
}

// Push adds a result. A sequence number that was already pushed or
// released is an internal error.
func (b *ReorderBuffer) Push(r *Result) error {
	if r.Seq < b.next {
		return errors.Newf(errors.ErrorTypeInternal, "batch %d already released", r.Seq)
	}
	for _, held := range b.items {
		if held.Seq == r.Seq {
			return errors.Newf(errors.ErrorTypeInternal, "duplicate batch %d", r.Seq)
		}
	}
	heap.Push(&b.items, r)
	return nil
}

// PopReady removes and returns the run of results that continues the
// sequence, in order. It returns nil while the next expected batch is
// missing.
func (b *ReorderBuffer) PopReady() []*Result {
	var ready []*Result
	for len(b.items) > 0 && b.items[0].Seq == b.next {
		ready = append(ready, heap.Pop(&b.items).(*Result))
		b.next++
	}
	return ready
}

// Len is the number of results held back.
func (b *ReorderBuffer) Len() int { return len(b.items) }

// Next is the sequence number the buffer releases next.
func (b *ReorderBuffer) Next() int { return b.next }

type resultHeap []*Result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].Seq < h[j].Seq }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(*Result)) }

func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}
