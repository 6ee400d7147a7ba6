// Package schema resolves one column type per sheet column from the values
// streamed past it.
//
// Types form a lattice: Empty < Bool < Int64 < Float64 < Text, with
// Timestamp as a separate leaf above Empty that widens only to Text. A
// column's type is the least upper bound of every value observed in it.
package schema

import (
	"fmt"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
)

// Type is a resolved column type.
type Type uint8

const (
	Empty Type = iota
	Bool
	Int64
	Float64
	Text
	Timestamp
)

func (t Type) String() string {
	switch t {
	case Empty:
		return "empty"
	case Bool:
		return "bool"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Text:
		return "text"
	case Timestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Of returns the narrowest type that holds v. Malformed values are Text.
func Of(v cell.Value) Type {
	if v.Malformed() {
		return Text
	}
	switch v.Kind() {
	case cell.Bool:
		return Bool
	case cell.Int64:
		return Int64
	case cell.Float64:
		return Float64
	case cell.Text:
		return Text
	case cell.Timestamp:
		return Timestamp
	default:
		return Empty
	}
}

// Widen returns the least upper bound of a and b.
func Widen(a, b Type) Type {
	switch {
	case a == b:
		return a
	case a == Empty:
		return b
	case b == Empty:
		return a
	case a == Timestamp || b == Timestamp:
		return Text
	case a > b:
		return a
	default:
		return b
	}
}

// Holds reports whether a column of type t can store v without widening.
func (t Type) Holds(v cell.Value) bool {
	return Widen(t, Of(v)) == t
}

// Schema is an immutable snapshot of resolved column types.
type Schema struct {
	Types []Type
	// Committed is set once the types are frozen.
	Committed bool
}

// Width is the number of resolved columns.
func (s Schema) Width() int { return len(s.Types) }

// Type returns the type of column i; columns past the width are Empty.
func (s Schema) Type(i int) Type {
	if i < 0 || i >= len(s.Types) {
		return Empty
	}
	return s.Types[i]
}

// Fold computes the batch-local least upper bound of every column in rows.
func Fold(rows []cell.Row) []Type {
	var types []Type
	for _, row := range rows {
		for i, v := range row {
			if v.IsEmpty() {
				continue
			}
			for len(types) <= i {
				types = append(types, Empty)
			}
			types[i] = Widen(types[i], Of(v))
		}
	}
	return types
}
