package xlsb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// recBuf encodes BIFF12 records for test workbooks.
type recBuf struct {
	bytes.Buffer
}

func (b *recBuf) rec(typ int, body []byte) *recBuf {
	if typ < 0x80 {
		b.WriteByte(byte(typ))
	} else {
		b.WriteByte(byte(typ&0x7f) | 0x80)
		b.WriteByte(byte(typ >> 7))
	}
	n := len(body)
	for {
		c := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			b.WriteByte(c)
			break
		}
		b.WriteByte(c | 0x80)
	}
	b.Write(body)
	return b
}

type fields []byte

func (f fields) u8(v uint8) fields   { return append(f, v) }
func (f fields) u16(v uint16) fields { return binary.LittleEndian.AppendUint16(f, v) }
func (f fields) u32(v uint32) fields { return binary.LittleEndian.AppendUint32(f, v) }
func (f fields) f64(v float64) fields {
	return binary.LittleEndian.AppendUint64(f, math.Float64bits(v))
}

func (f fields) ws(s string) fields {
	units := utf16.Encode([]rune(s))
	f = f.u32(uint32(len(units)))
	for _, u := range units {
		f = f.u16(u)
	}
	return f
}

func cellHdr(col, xf uint32) fields { return fields{}.u32(col).u32(xf) }

func rowHdr(rw uint32) []byte {
	// rw, ixfe, miyRw, flags as written by spreadsheet applications
	return fields{}.u32(rw).u32(0).u16(300).u8(0).u8(0).u8(0).u32(0)
}

func rkInt(v int32) uint32 { return uint32(v)<<2 | 0x02 }

// sheetBuilder writes a worksheet part.
type sheetBuilder struct {
	recBuf
}

func newSheet(firstRow, lastRow, firstCol, lastCol uint32) *sheetBuilder {
	s := &sheetBuilder{}
	s.rec(recWsDim, fields{}.u32(firstRow).u32(lastRow).u32(firstCol).u32(lastCol))
	s.rec(recBeginSheetData, nil)
	return s
}

func (s *sheetBuilder) row(rw uint32) *sheetBuilder {
	s.rec(recRowHdr, rowHdr(rw))
	return s
}

func (s *sheetBuilder) cell(typ int, col, xf uint32, value fields) *sheetBuilder {
	s.rec(typ, append(cellHdr(col, xf), value...))
	return s
}

func (s *sheetBuilder) end() []byte {
	s.rec(recEndSheetData, nil)
	return s.Bytes()
}

type fixtureSheet struct {
	name string
	data []byte
}

type fixture struct {
	sheets   []fixtureSheet
	sst      []string
	formats  map[uint16]string
	xfs      []uint16
	date1904 bool
}

func (fx fixture) write(t *testing.T) string {
	t.Helper()
	parts := map[string][]byte{
		"_rels/.rels": []byte(`<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.bin"/>
</Relationships>`),
	}

	var book recBuf
	var flags uint32
	if fx.date1904 {
		flags = 1
	}
	book.rec(recWbProp, fields{}.u32(flags).u32(0).u32(0))
	var rels strings.Builder
	rels.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for i, s := range fx.sheets {
		id := fmt.Sprintf("rId%d", i+1)
		book.rec(recBundleSh, fields{}.u32(0).u32(uint32(i+1)).ws(id).ws(s.name))
		fmt.Fprintf(&rels, `<Relationship Id="%s" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet%d.bin"/>`, id, i+1)
		parts[fmt.Sprintf("xl/worksheets/sheet%d.bin", i+1)] = s.data
	}
	rels.WriteString(`<Relationship Id="rIdS" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/sharedStrings" Target="sharedStrings.bin"/>`)
	rels.WriteString(`<Relationship Id="rIdT" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.bin"/>`)
	rels.WriteString(`</Relationships>`)
	parts["xl/workbook.bin"] = book.Bytes()
	parts["xl/_rels/workbook.bin.rels"] = []byte(rels.String())

	var sst recBuf
	sst.rec(159, fields{}.u32(uint32(len(fx.sst))).u32(uint32(len(fx.sst))))
	for _, s := range fx.sst {
		sst.rec(recSSTItem, fields{}.u8(0).ws(s))
	}
	parts["xl/sharedStrings.bin"] = sst.Bytes()

	var styles recBuf
	for id, code := range fx.formats {
		styles.rec(recFmt, fields{}.u16(id).ws(code))
	}
	// a cell style XF with a date format that must not count as a cell XF
	styles.rec(recXF, fields{}.u16(0xFFFF).u16(14))
	styles.rec(recBeginCellXFs, fields{}.u32(uint32(len(fx.xfs))))
	for _, numFmt := range fx.xfs {
		styles.rec(recXF, fields{}.u16(0).u16(numFmt).u32(0))
	}
	styles.rec(recEndCellXFs, nil)
	parts["xl/styles.bin"] = styles.Bytes()

	p := filepath.Join(t.TempDir(), "book.xlsb")
	out, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, body := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return p
}
