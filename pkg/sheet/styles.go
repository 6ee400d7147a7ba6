package sheet

import "github.com/ajitpratap0/sheetpipe/pkg/cell"

// Styles records, for every cell format (xf) of a workbook, whether numbers
// in that format are dates.
type Styles struct {
	dateXF []bool
}

// NewStyles builds the table from the numFmt id of each cell format in
// order and the workbook's custom format codes keyed by id.
func NewStyles(xfNumFmts []int, customFormats map[int]string) *Styles {
	s := &Styles{dateXF: make([]bool, len(xfNumFmts))}
	for i, id := range xfNumFmts {
		s.dateXF[i] = IsDateFormat(id, customFormats[id])
	}
	return s
}

// IsDate reports whether cell format xf displays dates. Unknown formats are
// not dates.
func (s *Styles) IsDate(xf int) bool {
	if s == nil || xf < 0 || xf >= len(s.dateXF) {
		return false
	}
	return s.dateXF[xf]
}

// Number maps a stored number to a cell value, applying the date rule for
// cell format xf.
func (s *Styles) Number(v float64, xf int, date1904 bool) cell.Value {
	if s.IsDate(xf) {
		return SerialToTime(v, date1904)
	}
	return cell.NewNumber(v)
}

// NumberText is Number for the textual encoding used by XML containers.
func (s *Styles) NumberText(raw string, xf int, date1904 bool) cell.Value {
	v := cell.ParseNumber(raw)
	if v.IsEmpty() || v.Malformed() || !s.IsDate(xf) {
		return v
	}
	f, _ := v.AsFloat()
	return SerialToTime(f, date1904)
}
