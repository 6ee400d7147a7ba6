package xlsb

import (
	"context"
	"io"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/sheet"
)

// Reader streams the rows of one worksheet.
type Reader struct {
	wb   *Workbook
	name string
	part string
	rc   io.ReadCloser
	rr   *recordReader
	dims sheet.Dimensions

	cursor    sheet.RowCursor
	originCol int
	done      bool

	// a row header read while finishing the previous row
	nextRow    int
	hasNextRow bool
}

func newReader(wb *Workbook, name, part string, rc io.ReadCloser) (*Reader, error) {
	r := &Reader{
		wb:   wb,
		name: name,
		part: part,
		rc:   rc,
		rr:   newRecordReader(rc),
	}
	if err := r.seekSheetData(); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return r, nil
}

// SheetName returns the name of the sheet being read.
func (r *Reader) SheetName() string { return r.name }

// Dimensions returns the sheet's declared used range.
func (r *Reader) Dimensions() sheet.Dimensions { return r.dims }

// Close releases the worksheet stream and the workbook.
func (r *Reader) Close() error {
	err := r.rc.Close()
	if cerr := r.wb.Close(); err == nil {
		err = cerr
	}
	return err
}

// Next returns the next row of the sheet, or io.EOF after the last one.
// Rows missing between populated rows are returned empty.
func (r *Reader) Next(ctx context.Context) (cell.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, err := r.cursor.Next(r.decodeRow)
	if err != nil && err != io.EOF {
		if e, ok := err.(*errors.Error); ok && e.Details["path"] == nil {
			e.WithDetail("path", r.wb.path).WithDetail("sheet", r.name)
		}
	}
	return row, err
}

func (r *Reader) seekSheetData() error {
	for {
		typ, body, err := r.rr.next()
		if err == io.EOF {
			r.done = true
			return nil
		}
		if err != nil {
			return r.wb.pkg.Malformed(err, r.part)
		}
		switch typ {
		case recWsDim:
			p := &payload{b: body}
			firstRow, lastRow := int(p.u32()), int(p.u32())
			firstCol, lastCol := int(p.u32()), int(p.u32())
			if p.err != nil {
				return r.wb.pkg.Malformed(p.err, r.part)
			}
			r.dims = sheet.Dimensions{
				FirstRow: firstRow, FirstCol: firstCol,
				LastRow: lastRow, LastCol: lastCol,
				Valid: lastRow >= firstRow && lastCol >= firstCol,
			}
			if r.dims.Valid {
				r.cursor.Origin, r.originCol = firstRow, firstCol
			}
		case recBeginSheetData:
			return nil
		}
	}
}

// decodeRow collects the cell records following one row header. A row ends
// at the next row header or at the end of the sheet data.
func (r *Reader) decodeRow() (int, cell.Row, error) {
	if r.done && !r.hasNextRow {
		return 0, nil, io.EOF
	}
	idx := -1
	if r.hasNextRow {
		idx, r.hasNextRow = r.nextRow, false
	}
	var row cell.Row
	for !r.done {
		typ, body, err := r.rr.next()
		if err == io.EOF {
			r.done = true
			break
		}
		if err != nil {
			return 0, nil, r.wb.pkg.Malformed(err, r.part)
		}
		p := &payload{b: body}
		switch typ {
		case recRowHdr:
			rw := int(p.u32())
			if p.err != nil {
				return 0, nil, r.wb.pkg.Malformed(p.err, r.part)
			}
			if err := sheet.CheckRow(rw); err != nil {
				return 0, nil, err
			}
			if idx >= 0 {
				r.nextRow, r.hasNextRow = rw, true
				return idx, row, nil
			}
			idx = rw
		case recEndSheetData:
			r.done = true
		case recCellBlank, recCellRk, recCellError, recCellBool, recCellReal, recCellSt, recCellIsst,
			recFmlaString, recFmlaNum, recFmlaBool, recFmlaError:
			if idx < 0 {
				return 0, nil, errors.New(errors.ErrorTypeMalformedSource, "cell record outside a row")
			}
			col, v, err := r.decodeCell(typ, p)
			if err != nil {
				return 0, nil, err
			}
			if v.IsEmpty() {
				continue
			}
			if row, err = sheet.Place(row, &r.originCol, col, v, r.cursor.Started()); err != nil {
				return 0, nil, err
			}
		}
	}
	if idx < 0 {
		return 0, nil, io.EOF
	}
	return idx, row, nil
}

func (r *Reader) decodeCell(typ int, p *payload) (int, cell.Value, error) {
	col, xf := p.cellHeader()
	if p.err == nil && col >= sheet.MaxCols {
		return 0, cell.Value{}, errors.Newf(errors.ErrorTypeMalformedSource, "column %d outside the sheet grid", col+1)
	}
	var v cell.Value
	switch typ {
	case recCellBlank:
	case recCellRk:
		v = r.wb.styles.Number(decodeRK(p.u32()), xf, r.wb.date1904)
	case recCellReal, recFmlaNum:
		v = r.wb.styles.Number(p.f64(), xf, r.wb.date1904)
	case recCellBool, recFmlaBool:
		v = cell.NewBool(p.u8() != 0)
	case recCellError, recFmlaError:
		v = cell.NewText(errorText(p.u8()))
	case recCellSt, recFmlaString:
		v = cell.NewText(p.wideString())
	case recCellIsst:
		i := int(p.u32())
		if p.err == nil && i >= len(r.wb.sst) {
			return 0, cell.Value{}, errors.Newf(errors.ErrorTypeMalformedSource, "shared string index %d out of range", i)
		}
		if p.err == nil {
			v = cell.NewText(r.wb.sst[i])
		}
	}
	if p.err != nil {
		return 0, cell.Value{}, r.wb.pkg.Malformed(p.err, r.part)
	}
	return col, v, nil
}
