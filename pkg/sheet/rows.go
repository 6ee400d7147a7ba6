package sheet

import (
	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
)

// Grid limits of a worksheet. Positions at or past them only come from
// corrupt containers.
const (
	MaxRows = 1 << 20
	MaxCols = 1 << 14
)

// RowCursor turns the sparse rows stored by a container into a dense,
// positional stream: rows omitted between populated rows come back empty.
// Positions are relative to Origin, the first row of the used range.
//
// Stored rows without any value (formatting-only rows) are treated like
// omitted rows, so trailing ones never reach the stream.
type RowCursor struct {
	Origin int

	next       int
	pending    cell.Row
	pendingPos int
	hasPending bool
}

// Started reports whether a row has been returned. Until then the origin
// may still move up to a row the declared used range left out.
func (c *RowCursor) Started() bool { return c.next > 0 }

// Next returns the next dense row. fetch yields the next stored row with its
// absolute zero-based index and returns io.EOF when the sheet is exhausted;
// its errors are passed through unchanged.
func (c *RowCursor) Next(fetch func() (int, cell.Row, error)) (cell.Row, error) {
	if c.hasPending {
		if c.next < c.pendingPos {
			c.next++
			return cell.Row{}, nil
		}
		row := c.pending
		c.pending, c.hasPending = nil, false
		c.next++
		return row, nil
	}
	for {
		idx, row, err := fetch()
		if err != nil {
			return nil, err
		}
		if row.Width() == 0 {
			continue
		}
		pos := idx - c.Origin
		if pos < 0 {
			if c.Started() {
				return nil, errors.Newf(errors.ErrorTypeMalformedSource,
					"row %d lies above the used range starting at row %d", idx+1, c.Origin+1)
			}
			c.Origin, pos = idx, 0
		}
		if pos < c.next {
			return nil, errors.Newf(errors.ErrorTypeMalformedSource, "row %d appears out of order", idx+1)
		}
		if pos > c.next {
			c.pending, c.pendingPos, c.hasPending = row, pos, true
			c.next++
			return cell.Row{}, nil
		}
		c.next++
		return row, nil
	}
}

// Place stores v at absolute column col of row, whose position 0 is column
// *origin. A column left of the origin moves the origin while started is
// false and is a malformed source afterwards.
func Place(row cell.Row, origin *int, col int, v cell.Value, started bool) (cell.Row, error) {
	if col < 0 || col >= MaxCols {
		return nil, errors.Newf(errors.ErrorTypeMalformedSource, "column %d outside the sheet grid", col+1)
	}
	pos := col - *origin
	if pos < 0 {
		if started {
			return nil, errors.Newf(errors.ErrorTypeMalformedSource,
				"column %d lies left of the used range starting at column %d", col+1, *origin+1)
		}
		row = append(make(cell.Row, -pos, len(row)-pos), row...)
		*origin, pos = col, 0
	}
	for len(row) <= pos {
		row = append(row, cell.Value{})
	}
	row[pos] = v
	return row, nil
}

// CheckRow rejects a zero-based row index outside the sheet grid.
func CheckRow(idx int) error {
	if idx < 0 || idx >= MaxRows {
		return errors.Newf(errors.ErrorTypeMalformedSource, "row %d outside the sheet grid", idx+1)
	}
	return nil
}
