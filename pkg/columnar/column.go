// Package columnar turns batches of sheet rows into typed columns: one
// value slice per column plus a validity bitmap, ready to be appended to a
// row group.
package columnar

import (
	"time"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/schema"
)

// TypedColumn holds one column of one batch coerced to its resolved type.
// Only the slice matching Type is populated; Valid marks non-null slots.
type TypedColumn struct {
	Type  schema.Type
	Valid []bool

	Bools   []bool
	Ints    []int64
	Floats  []float64
	Strings []string
	Times   []time.Time

	nulls int
}

// NewTypedColumn returns an empty column of type t with room for n values.
func NewTypedColumn(t schema.Type, n int) *TypedColumn {
	c := &TypedColumn{Type: t, Valid: make([]bool, 0, n)}
	switch t {
	case schema.Bool:
		c.Bools = make([]bool, 0, n)
	case schema.Int64:
		c.Ints = make([]int64, 0, n)
	case schema.Float64:
		c.Floats = make([]float64, 0, n)
	case schema.Text:
		c.Strings = make([]string, 0, n)
	case schema.Timestamp:
		c.Times = make([]time.Time, 0, n)
	}
	return c
}

// NullColumn returns a column of n nulls.
func NullColumn(t schema.Type, n int) *TypedColumn {
	c := NewTypedColumn(t, n)
	for i := 0; i < n; i++ {
		c.AppendNull()
	}
	return c
}

// Len is the number of slots, null or not.
func (c *TypedColumn) Len() int { return len(c.Valid) }

// NullCount is the number of null slots.
func (c *TypedColumn) NullCount() int { return c.nulls }

// AppendNull appends a null slot.
func (c *TypedColumn) AppendNull() {
	c.Valid = append(c.Valid, false)
	c.nulls++
	switch c.Type {
	case schema.Bool:
		c.Bools = append(c.Bools, false)
	case schema.Int64:
		c.Ints = append(c.Ints, 0)
	case schema.Float64:
		c.Floats = append(c.Floats, 0)
	case schema.Text:
		c.Strings = append(c.Strings, "")
	case schema.Timestamp:
		c.Times = append(c.Times, time.Time{})
	}
}

// Append stores v, which must already be representable in the column type
// (see schema.Type.Holds). Empty values become nulls.
func (c *TypedColumn) Append(v cell.Value) {
	if v.IsEmpty() || c.Type == schema.Empty {
		c.AppendNull()
		return
	}
	switch c.Type {
	case schema.Bool:
		c.Bools = append(c.Bools, v.Bool())
	case schema.Int64:
		i, _ := v.AsInt()
		c.Ints = append(c.Ints, i)
	case schema.Float64:
		f, _ := v.AsFloat()
		c.Floats = append(c.Floats, f)
	case schema.Text:
		if v.Malformed() {
			c.Strings = append(c.Strings, v.Raw())
		} else {
			c.Strings = append(c.Strings, v.String())
		}
	case schema.Timestamp:
		c.Times = append(c.Times, v.Time())
	}
	c.Valid = append(c.Valid, true)
}

// Value reads slot i back as a cell value.
func (c *TypedColumn) Value(i int) cell.Value {
	if !c.Valid[i] {
		return cell.Value{}
	}
	switch c.Type {
	case schema.Bool:
		return cell.NewBool(c.Bools[i])
	case schema.Int64:
		return cell.NewInt(c.Ints[i])
	case schema.Float64:
		return cell.NewFloat(c.Floats[i])
	case schema.Text:
		return cell.NewText(c.Strings[i])
	case schema.Timestamp:
		return cell.NewTime(c.Times[i])
	}
	return cell.Value{}
}

// Conform widens the column to target in place. Narrowing is an internal
// error: committed types only ever grow.
func (c *TypedColumn) Conform(target schema.Type) error {
	if c.Type == target {
		return nil
	}
	if schema.Widen(c.Type, target) != target {
		return errors.Newf(errors.ErrorTypeInternal, "cannot narrow %s column to %s", c.Type, target)
	}
	out := NewTypedColumn(target, c.Len())
	for i := 0; i < c.Len(); i++ {
		out.Append(c.Value(i))
	}
	*c = *out
	return nil
}

// ColumnSet is the typed form of one batch.
type ColumnSet struct {
	Schema   schema.Schema
	Columns  []*TypedColumn
	Rows     int
	Warnings []Warning
}

// Conform widens every column to s and pads missing trailing columns with
// nulls. Columns beyond s's width must not exist.
func (cs *ColumnSet) Conform(s schema.Schema) error {
	if len(cs.Columns) > s.Width() {
		return errors.Newf(errors.ErrorTypeInternal, "batch has %d columns, schema only %d",
			len(cs.Columns), s.Width())
	}
	for i, col := range cs.Columns {
		if err := col.Conform(s.Types[i]); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "conform batch").WithDetail("column", i)
		}
	}
	for i := len(cs.Columns); i < s.Width(); i++ {
		cs.Columns = append(cs.Columns, NullColumn(s.Types[i], cs.Rows))
	}
	cs.Schema = s
	return nil
}
