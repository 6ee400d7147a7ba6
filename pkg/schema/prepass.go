package schema

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
)

// RowReader is the part of a row source a prepass needs.
type RowReader interface {
	Next(ctx context.Context) (cell.Row, error)
}

// Prepass folds up to limit rows from rs (all rows when limit is 0) into r,
// commits it and returns the number of rows scanned. Malformed source
// values fail the scan with a coercion error.
func Prepass(ctx context.Context, r *Resolver, rs RowReader, limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		row, err := rs.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		for col, v := range row {
			if v.Malformed() {
				return n, MalformedError(n, col, v)
			}
			r.Observe(col, v)
		}
		n++
	}
	r.Commit()
	return n, nil
}

// MalformedError reports a source value that could not be decoded. row is
// the zero-based data row after skipping.
func MalformedError(row, col int, v cell.Value) *errors.Error {
	return errors.Newf(errors.ErrorTypeCoercion, "malformed value %q", v.Raw()).
		WithDetail("row", row).
		WithDetail("column", col)
}

// ViolationError reports a value that does not fit its column's committed
// type.
func ViolationError(row, col int, want Type, v cell.Value) *errors.Error {
	return errors.Newf(errors.ErrorTypeCoercion, "value %s of type %s does not fit column type %s",
		strconv.Quote(v.String()), Of(v), want).
		WithDetail("row", row).
		WithDetail("column", col)
}

// DefaultName is the name given to column i when no title is available.
func DefaultName(i int) string {
	return fmt.Sprintf("Field_%d", i)
}

// ColumnNames derives width unique column names from header titles. Empty
// or missing titles become Field_<i>; the n-th repeat of a name gets the
// suffix _<n>.
func ColumnNames(titles []string, width int) []string {
	if len(titles) > width {
		width = len(titles)
	}
	names := make([]string, width)
	for i := range names {
		if i < len(titles) && titles[i] != "" {
			names[i] = titles[i]
		} else {
			names[i] = DefaultName(i)
		}
	}

	seen := make(map[string]int, width)
	used := make(map[string]bool, width)
	for _, n := range names {
		used[n] = true
	}
	for i, n := range names {
		seen[n]++
		if seen[n] == 1 {
			continue
		}
		k := seen[n]
		candidate := fmt.Sprintf("%s_%d", n, k)
		for used[candidate] {
			k++
			candidate = fmt.Sprintf("%s_%d", n, k)
		}
		used[candidate] = true
		names[i] = candidate
	}
	return names
}
