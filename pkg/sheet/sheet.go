// Package sheet holds the workbook concepts shared by every container
// adapter: sheet selection, used-range dimensions, and the number-format
// rules that decide when a stored number is really a date.
package sheet

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
)

// Selector picks one sheet of a workbook, by name or by zero-based index.
// The zero Selector selects the first sheet.
type Selector struct {
	Name  string
	Index int
	// ByName is set when Name, not Index, identifies the sheet.
	ByName bool
}

// ByIndex returns a selector for the sheet at position i.
func ByIndex(i int) Selector { return Selector{Index: i} }

// Named returns a selector for the sheet called name.
func Named(name string) Selector { return Selector{Name: name, ByName: true} }

func (s Selector) String() string {
	if s.ByName {
		return fmt.Sprintf("name %q", s.Name)
	}
	return fmt.Sprintf("index %d", s.Index)
}

// Resolve returns the position of the selected sheet in names.
func (s Selector) Resolve(names []string) (int, error) {
	if s.ByName {
		for i, n := range names {
			if n == s.Name {
				return i, nil
			}
		}
		return -1, errors.Newf(errors.ErrorTypeSheetNotFound, "no sheet named %q", s.Name).
			WithDetail("sheets", names)
	}
	if s.Index < 0 || s.Index >= len(names) {
		return -1, errors.Newf(errors.ErrorTypeSheetNotFound, "sheet index %d out of range (%d sheets)", s.Index, len(names)).
			WithDetail("sheets", names)
	}
	return s.Index, nil
}

// Dimensions is a sheet's used range, zero-based and inclusive.
type Dimensions struct {
	FirstRow, FirstCol int
	LastRow, LastCol   int
	Valid              bool
}

// Width is the number of columns in the used range.
func (d Dimensions) Width() int {
	if !d.Valid {
		return 0
	}
	return d.LastCol - d.FirstCol + 1
}

// ParseRef parses an A1-style range ("B2:F100" or "A1") into dimensions.
func ParseRef(ref string) (Dimensions, error) {
	if ref == "" {
		return Dimensions{}, nil
	}
	first, last, ok := strings.Cut(ref, ":")
	if !ok {
		last = first
	}
	c1, r1, err := excelize.CellNameToCoordinates(first)
	if err != nil {
		return Dimensions{}, err
	}
	c2, r2, err := excelize.CellNameToCoordinates(last)
	if err != nil {
		return Dimensions{}, err
	}
	return Dimensions{
		FirstRow: r1 - 1, FirstCol: c1 - 1,
		LastRow: r2 - 1, LastCol: c2 - 1,
		Valid: true,
	}, nil
}

// CellRef converts an A1-style cell reference to zero-based column and row.
func CellRef(ref string) (col, row int, err error) {
	c, r, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		return 0, 0, err
	}
	return c - 1, r - 1, nil
}

// SerialToTime converts a spreadsheet serial date to a timestamp value. A
// serial the epoch cannot represent produces a malformed value.
func SerialToTime(serial float64, date1904 bool) cell.Value {
	t, err := excelize.ExcelDateToTime(serial, date1904)
	if err != nil {
		return cell.NewMalformed(cell.FormatFloat(serial))
	}
	return cell.NewTime(roundMillis(t))
}

// ParseISOTime decodes the ISO-8601 text used by date-typed cells.
func ParseISOTime(raw string) cell.Value {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"15:04:05",
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return cell.NewTime(t)
		}
	}
	return cell.NewMalformed(raw)
}

// Serial fractions carry float noise; spreadsheets store at most
// millisecond precision.
func roundMillis(t time.Time) time.Time {
	return t.Round(time.Millisecond)
}

// IsDateFormat reports whether a number format renders its value as a date
// or time. Built-in formats are identified by id; custom ones by their code.
func IsDateFormat(id int, code string) bool {
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58,
		id >= 71 && id <= 81:
		return true
	}
	if id < 164 && code == "" {
		return false
	}
	return isDateCode(code)
}

// isDateCode scans a format code for date/time tokens, ignoring quoted
// literals, escaped characters and bracketed colour or locale sections.
// Elapsed-time brackets such as [h] count as time tokens.
func isDateCode(code string) bool {
	// only the positive section decides
	if i := strings.IndexByte(code, ';'); i >= 0 {
		code = code[:i]
	}
	inQuote := false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case inQuote:
			if c == '"' {
				inQuote = false
			}
		case c == '"':
			inQuote = true
		case c == '\\' || c == '_' || c == '*':
			i++
		case c == '[':
			end := strings.IndexByte(code[i:], ']')
			if end < 0 {
				return false
			}
			inner := strings.ToLower(code[i+1 : i+end])
			if inner == "h" || inner == "hh" || inner == "m" || inner == "mm" || inner == "s" || inner == "ss" {
				return true
			}
			i += end
		default:
			switch c | 0x20 {
			case 'd', 'm', 'y', 'h', 's':
				return true
			}
		}
	}
	return false
}
