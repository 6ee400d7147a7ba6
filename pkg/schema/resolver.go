package schema

import (
	"sync"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
)

// Resolver holds the run-wide column types. Every read-modify-write goes
// through a single lock so a widening is always checked against the latest
// types.
type Resolver struct {
	mu        sync.Mutex
	types     []Type
	committed bool
	widenings int
}

// NewResolver returns an empty, uncommitted resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Reserve makes the schema at least width columns wide. Reserved columns
// stay Empty until a value is observed. It has no effect once committed.
func (r *Resolver) Reserve(width int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.committed {
		r.grow(width)
	}
}

// Observe folds v into column col and returns the column's type afterwards.
// Once committed the types no longer change.
func (r *Resolver) Observe(col int, v cell.Value) Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.IsEmpty() || r.committed {
		if col < len(r.types) {
			return r.types[col]
		}
		return Empty
	}
	r.grow(col + 1)
	r.widen(col, Of(v))
	return r.types[col]
}

// Merge folds batch-local types (see Fold) into the resolver and returns the
// schema in effect afterwards.
func (r *Resolver) Merge(local []Type) Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.committed {
		r.grow(len(local))
		for i, t := range local {
			r.widen(i, t)
		}
	}
	return r.snapshot()
}

// ObserveRows is Fold followed by Merge.
func (r *Resolver) ObserveRows(rows []cell.Row) Schema {
	return r.Merge(Fold(rows))
}

// Snapshot returns the current types.
func (r *Resolver) Snapshot() Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Width is the number of columns observed or reserved so far.
func (r *Resolver) Width() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types)
}

// Commit freezes the types and returns them. Committing twice is harmless.
func (r *Resolver) Commit() Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = true
	return r.snapshot()
}

// Committed reports whether Commit has been called.
func (r *Resolver) Committed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// Widenings counts how many times a column type has been widened.
func (r *Resolver) Widenings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.widenings
}

func (r *Resolver) grow(width int) {
	for len(r.types) < width {
		r.types = append(r.types, Empty)
	}
}

func (r *Resolver) widen(col int, t Type) {
	cur := r.types[col]
	if next := Widen(cur, t); next != cur {
		r.types[col] = next
		r.widenings++
	}
}

func (r *Resolver) snapshot() Schema {
	return Schema{Types: append([]Type(nil), r.types...), Committed: r.committed}
}
