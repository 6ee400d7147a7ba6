// Package xlsx streams rows out of Office Open XML workbooks (.xlsx/.xlsm).
//
// Workbook-global parts (sheet list, relationships, shared strings, styles)
// are loaded when the workbook is opened. Worksheet parts are decoded as an
// XML token stream straight from the zip entry, so memory stays bounded by
// one row regardless of sheet size.
package xlsx

import (
	"encoding/xml"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/sheet"
	"github.com/ajitpratap0/sheetpipe/pkg/source/internal/opc"
)

type sheetEntry struct {
	name string
	part string
}

// Workbook is an open .xlsx container.
type Workbook struct {
	pkg      *opc.Package
	path     string
	sheets   []sheetEntry
	sst      []string
	styles   *sheet.Styles
	date1904 bool
}

// Open opens the workbook at path and loads its global parts.
func Open(filePath string) (*Workbook, error) {
	pkg, err := opc.Open(filePath)
	if err != nil {
		return nil, err
	}
	wb := &Workbook{pkg: pkg, path: filePath}
	if err := wb.load(); err != nil {
		_ = pkg.Close()
		return nil, err
	}
	return wb, nil
}

// SheetNames lists the workbook's sheets in tab order.
func (wb *Workbook) SheetNames() []string {
	names := make([]string, len(wb.sheets))
	for i, s := range wb.sheets {
		names[i] = s.name
	}
	return names
}

// Close releases the container.
func (wb *Workbook) Close() error {
	return wb.pkg.Close()
}

// Sheet opens a row reader over the selected sheet. The reader takes
// ownership of the workbook: closing the reader closes the workbook.
func (wb *Workbook) Sheet(sel sheet.Selector) (*Reader, error) {
	idx, err := sel.Resolve(wb.SheetNames())
	if err != nil {
		return nil, err
	}
	entry := wb.sheets[idx]
	rc, err := wb.pkg.OpenPart(entry.part)
	if err != nil {
		return nil, err
	}
	return newReader(wb, entry.name, entry.part, rc)
}

func (wb *Workbook) malformed(err error, part string) *errors.Error {
	return wb.pkg.Malformed(err, part)
}

type workbookXML struct {
	WorkbookPr struct {
		Date1904 string `xml:"date1904,attr"`
	} `xml:"workbookPr"`
	Sheets struct {
		Sheet []struct {
			Name  string     `xml:"name,attr"`
			Attrs []xml.Attr `xml:",any,attr"`
		} `xml:"sheet"`
	} `xml:"sheets"`
}

type styleSheetXML struct {
	NumFmts struct {
		NumFmt []struct {
			ID   int    `xml:"numFmtId,attr"`
			Code string `xml:"formatCode,attr"`
		} `xml:"numFmt"`
	} `xml:"numFmts"`
	CellXfs struct {
		Xf []struct {
			NumFmtID int `xml:"numFmtId,attr"`
		} `xml:"xf"`
	} `xml:"cellXfs"`
}

func (wb *Workbook) load() error {
	workbookPart, err := wb.pkg.MainDocument("xl/workbook.xml")
	if err != nil {
		return err
	}

	var book workbookXML
	found, err := wb.pkg.DecodeXML(workbookPart, &book)
	if err != nil {
		return err
	}
	if !found {
		return errors.New(errors.ErrorTypeMalformedSource, "workbook part is missing").
			WithDetail("path", wb.path)
	}
	wb.date1904 = book.WorkbookPr.Date1904 == "1" || book.WorkbookPr.Date1904 == "true"

	rels, err := wb.pkg.Relationships(workbookPart)
	if err != nil {
		return err
	}
	dir := path.Dir(workbookPart)
	targets := make(map[string]string, len(rels))
	sstPart, stylesPart := path.Join(dir, "sharedStrings.xml"), path.Join(dir, "styles.xml")
	for _, rel := range rels {
		targets[rel.ID] = rel.Target
		switch {
		case strings.HasSuffix(rel.Type, opc.RelSharedStrings):
			sstPart = rel.Target
		case strings.HasSuffix(rel.Type, opc.RelStyles):
			stylesPart = rel.Target
		}
	}

	for _, s := range book.Sheets.Sheet {
		var rid string
		for _, a := range s.Attrs {
			if a.Name.Local == "id" {
				rid = a.Value
			}
		}
		target, ok := targets[rid]
		if !ok {
			return errors.Newf(errors.ErrorTypeMalformedSource, "sheet %q has no relationship target", s.Name).
				WithDetail("path", wb.path)
		}
		wb.sheets = append(wb.sheets, sheetEntry{name: s.Name, part: target})
	}

	if err := wb.loadSharedStrings(sstPart); err != nil {
		return err
	}
	return wb.loadStyles(stylesPart)
}

func (wb *Workbook) loadStyles(part string) error {
	var ss styleSheetXML
	if _, err := wb.pkg.DecodeXML(part, &ss); err != nil {
		return err
	}
	custom := make(map[int]string, len(ss.NumFmts.NumFmt))
	for _, nf := range ss.NumFmts.NumFmt {
		custom[nf.ID] = nf.Code
	}
	ids := make([]int, len(ss.CellXfs.Xf))
	for i, xf := range ss.CellXfs.Xf {
		ids[i] = xf.NumFmtID
	}
	wb.styles = sheet.NewStyles(ids, custom)
	return nil
}

// loadSharedStrings streams the shared string table. Rich-text runs are
// concatenated; phonetic runs are dropped.
func (wb *Workbook) loadSharedStrings(part string) error {
	if !wb.pkg.Has(part) {
		return nil
	}
	rc, err := wb.pkg.OpenPart(part)
	if err != nil {
		return err
	}
	defer rc.Close()

	d := xml.NewDecoder(rc)
	var (
		sb       strings.Builder
		inSI     bool
		inText   bool
		phonetic int
	)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return wb.malformed(err, part)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sst":
				if n, err := strconv.Atoi(attr(t, "uniqueCount")); err == nil && n > 0 && n < 1<<24 {
					wb.sst = make([]string, 0, n)
				}
			case "si":
				inSI = true
				sb.Reset()
			case "rPh":
				phonetic++
			case "t":
				inText = inSI && phonetic == 0
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				wb.sst = append(wb.sst, sb.String())
				inSI = false
			case "rPh":
				phonetic--
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
}
