package xlsx

import (
	"context"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

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
	dec  *xml.Decoder
	dims sheet.Dimensions

	cursor    sheet.RowCursor
	originCol int
	lastRow   int
	done      bool
}

func newReader(wb *Workbook, name, part string, rc io.ReadCloser) (*Reader, error) {
	r := &Reader{
		wb:      wb,
		name:    name,
		part:    part,
		rc:      rc,
		dec:     xml.NewDecoder(rc),
		lastRow: -1,
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
// Rows missing from the container between populated rows are returned as
// empty rows so positions are preserved.
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

// seekSheetData advances to <sheetData>, picking up <dimension> on the way.
func (r *Reader) seekSheetData() error {
	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			r.done = true
			return nil
		}
		if err != nil {
			return r.wb.malformed(err, r.part)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "dimension":
			if d, err := sheet.ParseRef(attr(se, "ref")); err == nil && d.Valid {
				r.dims = d
				r.cursor.Origin, r.originCol = d.FirstRow, d.FirstCol
			}
		case "sheetData":
			return nil
		}
	}
}

// decodeRow reads the next <row> element and returns its zero-based index.
func (r *Reader) decodeRow() (int, cell.Row, error) {
	if r.done {
		return 0, nil, io.EOF
	}
	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			r.done = true
			return 0, nil, io.EOF
		}
		if err != nil {
			return 0, nil, r.wb.malformed(err, r.part)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "sheetData" {
				r.done = true
				return 0, nil, io.EOF
			}
		case xml.StartElement:
			if t.Name.Local != "row" {
				if err := r.dec.Skip(); err != nil {
					return 0, nil, r.wb.malformed(err, r.part)
				}
				continue
			}
			idx := r.lastRow + 1
			if ref := attr(t, "r"); ref != "" {
				n, err := strconv.Atoi(ref)
				if err != nil || n < 1 {
					return 0, nil, errors.Newf(errors.ErrorTypeMalformedSource, "invalid row number %q", ref).
						WithDetail("path", r.wb.path)
				}
				idx = n - 1
			}
			if err := sheet.CheckRow(idx); err != nil {
				return 0, nil, err
			}
			r.lastRow = idx
			row, err := r.decodeCells(idx)
			return idx, row, err
		}
	}
}

func (r *Reader) decodeCells(rowIdx int) (cell.Row, error) {
	var (
		row     cell.Row
		lastCol = -1
	)
	for {
		tok, err := r.dec.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, r.wb.malformed(err, r.part)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "row" {
				return row, nil
			}
		case xml.StartElement:
			if t.Name.Local != "c" {
				if err := r.dec.Skip(); err != nil {
					return nil, r.wb.malformed(err, r.part)
				}
				continue
			}
			col := lastCol + 1
			if ref := attr(t, "r"); ref != "" {
				c, _, err := sheet.CellRef(ref)
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeMalformedSource, "invalid cell reference").
						WithDetail("path", r.wb.path).WithDetail("row", rowIdx+1)
				}
				col = c
			}
			lastCol = col
			v, err := r.decodeCell(t)
			if err != nil {
				return nil, err
			}
			if v.IsEmpty() {
				continue
			}
			if row, err = sheet.Place(row, &r.originCol, col, v, r.cursor.Started()); err != nil {
				return nil, err
			}
		}
	}
}

// decodeCell consumes a <c> element and maps it to a value.
func (r *Reader) decodeCell(start xml.StartElement) (cell.Value, error) {
	typ := attr(start, "t")
	xf := -1
	if s := attr(start, "s"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			xf = n
		}
	}

	var (
		value, inline strings.Builder
		hasValue      bool
		inV, inIS     bool
		inT           bool
		depth         = 1
	)
	for depth > 0 {
		tok, err := r.dec.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return cell.Value{}, r.wb.malformed(err, r.part)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "v":
				inV, hasValue = true, true
			case "is":
				inIS, hasValue = true, true
			case "t":
				inT = inIS
			case "rPh", "f":
				if err := r.dec.Skip(); err != nil {
					return cell.Value{}, r.wb.malformed(err, r.part)
				}
				depth--
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "v":
				inV = false
			case "is":
				inIS = false
			case "t":
				inT = false
			}
		case xml.CharData:
			if inV {
				value.Write(t)
			} else if inT {
				inline.Write(t)
			}
		}
	}
	if !hasValue {
		return cell.Value{}, nil
	}

	raw := value.String()
	switch typ {
	case "s":
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || i < 0 || i >= len(r.wb.sst) {
			return cell.Value{}, errors.Newf(errors.ErrorTypeMalformedSource, "shared string index %q out of range", raw).
				WithDetail("path", r.wb.path).WithDetail("sheet", r.name)
		}
		return cell.NewText(r.wb.sst[i]), nil
	case "inlineStr":
		return cell.NewText(inline.String()), nil
	case "str", "e":
		return cell.NewText(raw), nil
	case "b":
		switch strings.TrimSpace(raw) {
		case "1", "true", "TRUE":
			return cell.NewBool(true), nil
		case "0", "false", "FALSE":
			return cell.NewBool(false), nil
		}
		return cell.NewMalformed(raw), nil
	case "d":
		if raw == "" {
			return cell.Value{}, nil
		}
		return sheet.ParseISOTime(strings.TrimSpace(raw)), nil
	default:
		return r.wb.styles.NumberText(strings.TrimSpace(raw), xf, r.wb.date1904), nil
	}
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
