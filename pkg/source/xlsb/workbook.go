// Package xlsb streams rows out of binary workbooks (.xlsb).
//
// An .xlsb file shares the zip and relationship layout of .xlsx but stores
// every part as a sequence of BIFF12 records: a 1-2 byte varint type, a 1-4
// byte varint size and a little-endian payload. Workbook-global tables are
// read when the workbook opens; worksheet records are decoded one row at a
// time.
package xlsb

import (
	"io"
	"path"
	"strings"

	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/sheet"
	"github.com/ajitpratap0/sheetpipe/pkg/source/internal/opc"
)

type sheetEntry struct {
	name  string
	relID string
	part  string
}

// Workbook is an open .xlsb container.
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

// Sheet opens a row reader over the selected sheet. Closing the reader
// closes the workbook.
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

func (wb *Workbook) load() error {
	workbookPart, err := wb.pkg.MainDocument("xl/workbook.bin")
	if err != nil {
		return err
	}
	if !wb.pkg.Has(workbookPart) {
		return errors.New(errors.ErrorTypeMalformedSource, "workbook part is missing").
			WithDetail("path", wb.path)
	}
	if err := wb.eachRecord(workbookPart, wb.workbookRecord); err != nil {
		return err
	}

	rels, err := wb.pkg.Relationships(workbookPart)
	if err != nil {
		return err
	}
	dir := path.Dir(workbookPart)
	targets := make(map[string]string, len(rels))
	sstPart, stylesPart := path.Join(dir, "sharedStrings.bin"), path.Join(dir, "styles.bin")
	for _, rel := range rels {
		targets[rel.ID] = rel.Target
		switch {
		case strings.HasSuffix(rel.Type, opc.RelSharedStrings):
			sstPart = rel.Target
		case strings.HasSuffix(rel.Type, opc.RelStyles):
			stylesPart = rel.Target
		}
	}
	for i, s := range wb.sheets {
		target, ok := targets[s.relID]
		if !ok {
			return errors.Newf(errors.ErrorTypeMalformedSource, "sheet %q has no relationship target", s.name).
				WithDetail("path", wb.path)
		}
		wb.sheets[i].part = target
	}

	if wb.pkg.Has(sstPart) {
		if err := wb.eachRecord(sstPart, wb.sstRecord); err != nil {
			return err
		}
	}
	if wb.pkg.Has(stylesPart) {
		return wb.loadStyles(stylesPart)
	}
	wb.styles = sheet.NewStyles(nil, nil)
	return nil
}

func (wb *Workbook) workbookRecord(typ int, p *payload) error {
	switch typ {
	case recWbProp:
		wb.date1904 = p.u32()&0x01 != 0
	case recBundleSh:
		p.u32() // visibility
		p.u32() // tab id
		relID := p.wideString()
		name := p.wideString()
		if p.err != nil {
			return p.err
		}
		wb.sheets = append(wb.sheets, sheetEntry{name: name, relID: relID})
	}
	return p.err
}

func (wb *Workbook) sstRecord(typ int, p *payload) error {
	if typ != recSSTItem {
		return nil
	}
	p.u8() // rich/phonetic flags; runs follow the text and are ignored
	s := p.wideString()
	if p.err != nil {
		return p.err
	}
	wb.sst = append(wb.sst, s)
	return nil
}

func (wb *Workbook) loadStyles(part string) error {
	var (
		custom = make(map[int]string)
		xfs    []int
		inXFs  bool
	)
	err := wb.eachRecord(part, func(typ int, p *payload) error {
		switch typ {
		case recFmt:
			id := int(p.u16())
			code := p.wideString()
			custom[id] = code
		case recBeginCellXFs:
			inXFs = true
		case recEndCellXFs:
			inXFs = false
		case recXF:
			// cell style XFs live in a separate collection
			if inXFs {
				p.u16() // parent
				xfs = append(xfs, int(p.u16()))
			}
		}
		return p.err
	})
	if err != nil {
		return err
	}
	wb.styles = sheet.NewStyles(xfs, custom)
	return nil
}

// eachRecord streams every record of a global part through fn.
func (wb *Workbook) eachRecord(part string, fn func(typ int, p *payload) error) error {
	rc, err := wb.pkg.OpenPart(part)
	if err != nil {
		return err
	}
	defer rc.Close()

	rr := newRecordReader(rc)
	for {
		typ, body, err := rr.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return wb.pkg.Malformed(err, part)
		}
		if err := fn(typ, &payload{b: body}); err != nil {
			return wb.pkg.Malformed(err, part)
		}
	}
}
