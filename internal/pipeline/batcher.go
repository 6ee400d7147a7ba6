package pipeline

import (
	"context"
	"io"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/pool"
	"github.com/ajitpratap0/sheetpipe/pkg/schema"
)

// Batch is a sequence-numbered group of consecutive data rows.
type Batch struct {
	// Seq numbers batches from 0 in source order.
	Seq int
	// FirstRow is the zero-based data row index of Rows[0].
	FirstRow int
	Rows     []cell.Row
}

// maxPrealloc caps the row capacity reserved up front, so a batch size far
// larger than the sheet does not allocate for rows that never arrive.
const maxPrealloc = 4096

// Batcher groups rows from a reader into fixed-size batches. It is driven
// by the single reader goroutine and is not safe for concurrent use.
type Batcher struct {
	src  schema.RowReader
	size int
	seq  int
	rows int
	done bool
}

// NewBatcher creates a batcher emitting batches of up to size rows.
func NewBatcher(src schema.RowReader, size int) *Batcher {
	if size <= 0 {
		size = 1
	}
	return &Batcher{src: src, size: size}
}

// Next returns the next batch, or io.EOF once the reader is exhausted. Only
// the final batch may hold fewer than size rows; an empty reader yields no
// batches at all. Batch row slices come from pool.RowSlices.
func (b *Batcher) Next(ctx context.Context) (*Batch, error) {
	if b.done {
		return nil, io.EOF
	}
	rows := pool.GetRows(min(b.size, maxPrealloc))
	for len(rows) < b.size {
		row, err := b.src.Next(ctx)
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			pool.PutRows(rows)
			return nil, err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		pool.PutRows(rows)
		return nil, io.EOF
	}

	batch := &Batch{Seq: b.seq, FirstRow: b.rows, Rows: rows}
	b.seq++
	b.rows += len(rows)
	return batch, nil
}

// Batches is the number of batches emitted so far.
func (b *Batcher) Batches() int { return b.seq }

// Rows is the number of rows emitted so far.
func (b *Batcher) Rows() int { return b.rows }
