package columnar

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/schema"
)

// WarningKind classifies a non-fatal coercion event.
type WarningKind string

const (
	// SchemaWidenedAfterCommit marks a value that needed a wider type than
	// the one already written and was coerced lossily instead.
	SchemaWidenedAfterCommit WarningKind = "SchemaWidenedAfterCommit"
	// CoercionFallback marks a malformed source value kept as text.
	CoercionFallback WarningKind = "CoercionFallback"
)

// Warning is one non-fatal event, located by zero-based data row and column.
type Warning struct {
	Kind   WarningKind `json:"kind"`
	Row    int         `json:"row"`
	Column int         `json:"column"`
	Detail string      `json:"detail"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s at row %d column %d: %s", w.Kind, w.Row, w.Column, w.Detail)
}

// Stats summarises the values written to one column.
type Stats struct {
	Type      schema.Type
	Count     int64 // non-null values
	NullCount int64
	Min, Max  cell.Value
}

// ColumnStats computes statistics for c.
func ColumnStats(c *TypedColumn) Stats {
	s := Stats{Type: c.Type}
	for i := 0; i < c.Len(); i++ {
		if !c.Valid[i] {
			s.NullCount++
			continue
		}
		s.observe(c.Value(i))
	}
	return s
}

func (s *Stats) observe(v cell.Value) {
	s.Count++
	if s.Count == 1 {
		s.Min, s.Max = v, v
		return
	}
	if less(v, s.Min) {
		s.Min = v
	}
	if less(s.Max, v) {
		s.Max = v
	}
}

// Merge folds o, computed over later rows of the same column, into s.
func (s *Stats) Merge(o Stats) {
	if s.Count+s.NullCount == 0 {
		s.Type = o.Type
	}
	s.NullCount += o.NullCount
	if o.Count == 0 {
		return
	}
	if s.Count == 0 {
		s.Min, s.Max = o.Min, o.Max
	} else {
		if less(o.Min, s.Min) {
			s.Min = o.Min
		}
		if less(s.Max, o.Max) {
			s.Max = o.Max
		}
	}
	s.Count += o.Count
}

// less orders two non-empty values of the same column type.
func less(a, b cell.Value) bool {
	switch a.Kind() {
	case cell.Bool:
		return !a.Bool() && b.Bool()
	case cell.Int64:
		return a.Int() < b.Int()
	case cell.Float64:
		return a.Float() < b.Float()
	case cell.Timestamp:
		return a.Time().Before(b.Time())
	default:
		return strings.Compare(a.String(), b.String()) < 0
	}
}

// StatsJSON is the serialisable form of Stats.
type StatsJSON struct {
	Type      string `json:"type"`
	Count     int64  `json:"count"`
	NullCount int64  `json:"null_count"`
	Min       string `json:"min,omitempty"`
	Max       string `json:"max,omitempty"`
}

// JSON renders min and max canonically.
func (s Stats) JSON() StatsJSON {
	out := StatsJSON{Type: s.Type.String(), Count: s.Count, NullCount: s.NullCount}
	if s.Count > 0 {
		out.Min, out.Max = s.Min.String(), s.Max.String()
	}
	return out
}
