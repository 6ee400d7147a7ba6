package columnar

import (
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/schema"
	"github.com/ajitpratap0/sheetpipe/pkg/sheet"
)

// Options control how values that do not fit their column are handled.
type Options struct {
	// Strict turns every misfit and every malformed source value into a
	// coercion error. Otherwise misfits against a committed schema are
	// coerced lossily and reported as warnings.
	Strict bool
	// FirstRow is the data row index of the batch's first row; it only
	// locates errors and warnings.
	FirstRow int
}

// Coerce converts rows into one typed column per schema column.
//
// Every value a worker has already merged into an uncommitted schema fits
// it, so misfits only arise against a committed schema.
func Coerce(rows []cell.Row, s schema.Schema, opts Options) (*ColumnSet, error) {
	cs := &ColumnSet{
		Schema:  s,
		Columns: make([]*TypedColumn, s.Width()),
		Rows:    len(rows),
	}
	for i, t := range s.Types {
		cs.Columns[i] = NewTypedColumn(t, len(rows))
	}

	for r, row := range rows {
		rowIdx := opts.FirstRow + r
		for c, v := range row {
			if c >= s.Width() {
				if v.IsEmpty() {
					continue
				}
				if err := cs.misfit(rowIdx, c, schema.Empty, v, opts); err != nil {
					return nil, err
				}
				cs.warn(SchemaWidenedAfterCommit, rowIdx, c, "column beyond committed width dropped: "+quote(v))
				continue
			}
			col := cs.Columns[c]
			if v.Malformed() {
				if opts.Strict {
					return nil, schema.MalformedError(rowIdx, c, v)
				}
				cs.warn(CoercionFallback, rowIdx, c, "malformed value kept as text: "+strconv.Quote(v.Raw()))
				col.Append(Lossy(cell.NewText(v.Raw()), col.Type))
				continue
			}
			if col.Type.Holds(v) {
				col.Append(v)
				continue
			}
			if err := cs.misfit(rowIdx, c, col.Type, v, opts); err != nil {
				return nil, err
			}
			lossy := Lossy(v, col.Type)
			cs.warn(SchemaWidenedAfterCommit, rowIdx, c,
				"value "+quote(v)+" needs "+schema.Widen(col.Type, schema.Of(v)).String()+
					", coerced to committed "+col.Type.String()+" as "+quote(lossy))
			col.Append(lossy)
		}
		for c := len(row); c < s.Width(); c++ {
			cs.Columns[c].AppendNull()
		}
	}
	return cs, nil
}

// misfit decides whether a value that does not fit its column is fatal.
func (cs *ColumnSet) misfit(row, col int, want schema.Type, v cell.Value, opts Options) error {
	if opts.Strict {
		return schema.ViolationError(row, col, want, v)
	}
	if !cs.Schema.Committed {
		return errors.Newf(errors.ErrorTypeInternal, "value at row %d column %d escaped schema resolution", row, col)
	}
	return nil
}

func (cs *ColumnSet) warn(kind WarningKind, row, col int, detail string) {
	cs.Warnings = append(cs.Warnings, Warning{Kind: kind, Row: row, Column: col, Detail: detail})
}

func quote(v cell.Value) string {
	if v.IsEmpty() {
		return "null"
	}
	return strconv.Quote(v.String())
}

// Lossy converts v into type t on a best-effort basis. Values with no
// sensible representation become Empty.
func Lossy(v cell.Value, t schema.Type) cell.Value {
	if t == schema.Text {
		if v.IsEmpty() {
			return v
		}
		return cell.NewText(v.String())
	}
	if t.Holds(v) {
		return v
	}
	switch t {
	case schema.Bool:
		if v.Kind() == cell.Text {
			if b, err := strconv.ParseBool(strings.TrimSpace(v.Raw())); err == nil {
				return cell.NewBool(b)
			}
		}
		if f, ok := numeric(v); ok {
			return cell.NewBool(f != 0)
		}
	case schema.Int64:
		if f, ok := numeric(v); ok {
			r := math.Round(f)
			if r >= math.MinInt64 && r < math.MaxInt64 {
				return cell.NewInt(int64(r))
			}
		}
	case schema.Float64:
		if f, ok := numeric(v); ok {
			return cell.NewFloat(f)
		}
	case schema.Timestamp:
		if v.Kind() == cell.Text {
			if ts := sheet.ParseISOTime(strings.TrimSpace(v.Raw())); !ts.Malformed() {
				return ts
			}
		}
		if f, ok := numeric(v); ok {
			if ts := sheet.SerialToTime(f, false); !ts.Malformed() {
				return ts
			}
		}
	}
	return cell.Value{}
}

// numeric reads numbers, booleans and numeric text as a float.
func numeric(v cell.Value) (float64, bool) {
	if f, ok := v.AsFloat(); ok {
		return f, true
	}
	if v.Kind() == cell.Text {
		n := cell.ParseNumber(strings.TrimSpace(v.Raw()))
		if n.IsEmpty() || n.Malformed() {
			return 0, false
		}
		return n.AsFloat()
	}
	return 0, false
}
