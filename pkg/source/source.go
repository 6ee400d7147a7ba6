// Package source opens spreadsheet files as streams of rows.
//
// Both supported containers, Office Open XML (.xlsx, .xlsm) and binary
// workbooks (.xlsb), are exposed through the same RowSource contract and
// produce identical cell values for identical content.
package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/sheet"
	"github.com/ajitpratap0/sheetpipe/pkg/source/internal/opc"
	"github.com/ajitpratap0/sheetpipe/pkg/source/xlsb"
	"github.com/ajitpratap0/sheetpipe/pkg/source/xlsx"
)

// RowSource streams the rows of one sheet.
type RowSource interface {
	// Next returns the next row, or io.EOF once the sheet is exhausted.
	// Short rows are implicitly padded with empty cells.
	Next(ctx context.Context) (cell.Row, error)
	// SheetName returns the name of the sheet being read.
	SheetName() string
	// Dimensions returns the declared used range; it may be invalid when the
	// container does not record one.
	Dimensions() sheet.Dimensions
	Close() error
}

// Format identifies a container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatXLSX
	FormatXLSB
)

func (f Format) String() string {
	switch f {
	case FormatXLSX:
		return "xlsx"
	case FormatXLSB:
		return "xlsb"
	default:
		return "unknown"
	}
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// DetectFormat picks the container format from the file extension, falling
// back to the file signature and the parts the container holds.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xlsb":
		return FormatXLSB, nil
	case ".xls":
		return FormatUnknown, unsupported(path, "legacy .xls workbooks are not supported")
	}

	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, errors.IOError(err, path, "failed to open source")
	}
	head := make([]byte, len(oleMagic))
	n, err := io.ReadFull(f, head)
	_ = f.Close()
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, errors.IOError(err, path, "failed to read source")
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, oleMagic):
		return FormatUnknown, unsupported(path, "legacy binary workbooks are not supported")
	case !bytes.HasPrefix(head, zipMagic):
		return FormatUnknown, unsupported(path, "unrecognized file signature")
	}

	pkg, err := opc.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer pkg.Close()
	doc, err := pkg.MainDocument("")
	if err != nil {
		return FormatUnknown, err
	}
	switch {
	case strings.HasSuffix(strings.ToLower(doc), ".bin"), pkg.Has("xl/workbook.bin"):
		return FormatXLSB, nil
	case strings.HasSuffix(strings.ToLower(doc), ".xml"), pkg.Has("xl/workbook.xml"):
		return FormatXLSX, nil
	}
	return FormatUnknown, unsupported(path, "zip container holds no workbook")
}

func unsupported(path, msg string) *errors.Error {
	return errors.New(errors.ErrorTypeUnsupportedFormat, msg).WithDetail("path", path)
}

// Open opens the selected sheet of the workbook at path.
func Open(path string, sel sheet.Selector) (RowSource, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		wb, err := xlsx.Open(path)
		if err != nil {
			return nil, err
		}
		r, err := wb.Sheet(sel)
		if err != nil {
			_ = wb.Close()
			return nil, err
		}
		return r, nil
	case FormatXLSB:
		wb, err := xlsb.Open(path)
		if err != nil {
			return nil, err
		}
		r, err := wb.Sheet(sel)
		if err != nil {
			_ = wb.Close()
			return nil, err
		}
		return r, nil
	}
	return nil, unsupported(path, "unrecognized container")
}

// ListSheets returns the sheet names of the workbook at path in tab order.
func ListSheets(path string) ([]string, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		wb, err := xlsx.Open(path)
		if err != nil {
			return nil, err
		}
		defer wb.Close()
		return wb.SheetNames(), nil
	case FormatXLSB:
		wb, err := xlsb.Open(path)
		if err != nil {
			return nil, err
		}
		defer wb.Close()
		return wb.SheetNames(), nil
	}
	return nil, unsupported(path, "unrecognized container")
}
