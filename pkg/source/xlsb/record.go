package xlsb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"
)

// Record types used by the reader. Everything else is skipped.
const (
	recRowHdr         = 0
	recCellBlank      = 1
	recCellRk         = 2
	recCellError      = 3
	recCellBool       = 4
	recCellReal       = 5
	recCellSt         = 6
	recCellIsst       = 7
	recFmlaString     = 8
	recFmlaNum        = 9
	recFmlaBool       = 10
	recFmlaError      = 11
	recSSTItem        = 19
	recFmt            = 44
	recXF             = 47
	recBeginSheetData = 145
	recEndSheetData   = 146
	recWsDim          = 148
	recWbProp         = 153
	recBundleSh       = 156
	recBeginCellXFs   = 617
	recEndCellXFs     = 618
)

// maxRecordSize bounds a single record; the format caps sizes at 28 bits.
const maxRecordSize = 1<<28 - 1

// recordReader iterates the records of a binary part. The returned payload
// is only valid until the next call.
type recordReader struct {
	r   *bufio.Reader
	buf []byte
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{r: bufio.NewReaderSize(r, 64<<10)}
}

// next returns io.EOF only on a clean record boundary.
func (rr *recordReader) next() (int, []byte, error) {
	b, err := rr.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	typ := int(b & 0x7f)
	if b&0x80 != 0 {
		b, err = rr.r.ReadByte()
		if err != nil {
			return 0, nil, unexpected(err)
		}
		typ |= int(b&0x7f) << 7
	}

	size := 0
	for i := 0; i < 4; i++ {
		b, err = rr.r.ReadByte()
		if err != nil {
			return 0, nil, unexpected(err)
		}
		size |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}
	if size > maxRecordSize {
		return 0, nil, fmt.Errorf("record %d: size %d exceeds limit", typ, size)
	}

	if cap(rr.buf) < size {
		rr.buf = make([]byte, size)
	}
	rr.buf = rr.buf[:size]
	if _, err := io.ReadFull(rr.r, rr.buf); err != nil {
		return 0, nil, unexpected(err)
	}
	return typ, rr.buf, nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

var errShortRecord = fmt.Errorf("record payload too short")

// payload decodes little-endian fields from a record body.
type payload struct {
	b   []byte
	off int
	err error
}

func (p *payload) take(n int) []byte {
	if p.err != nil {
		return nil
	}
	if p.off+n > len(p.b) || n < 0 {
		p.err = errShortRecord
		return nil
	}
	s := p.b[p.off : p.off+n]
	p.off += n
	return s
}

func (p *payload) u8() uint8 {
	if s := p.take(1); s != nil {
		return s[0]
	}
	return 0
}

func (p *payload) u16() uint16 {
	if s := p.take(2); s != nil {
		return binary.LittleEndian.Uint16(s)
	}
	return 0
}

func (p *payload) u32() uint32 {
	if s := p.take(4); s != nil {
		return binary.LittleEndian.Uint32(s)
	}
	return 0
}

func (p *payload) f64() float64 {
	if s := p.take(8); s != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(s))
	}
	return 0
}

// wideString reads a length-prefixed UTF-16LE string.
func (p *payload) wideString() string {
	n := p.u32()
	if p.err != nil {
		return ""
	}
	if n == 0xFFFFFFFF {
		// nullable strings use all ones for "absent"
		return ""
	}
	if int64(n)*2 > int64(len(p.b)-p.off) {
		p.err = errShortRecord
		return ""
	}
	raw := p.take(int(n) * 2)
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return string(utf16.Decode(units))
}

// cellHeader reads the column and style index that open every cell record.
func (p *payload) cellHeader() (col, xf int) {
	col = int(p.u32())
	xf = int(p.u32() & 0xFFFFFF)
	return col, xf
}

// decodeRK expands the 30-bit packed number used by RK cells.
func decodeRK(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

var errorCodes = map[uint8]string{
	0x00: "#NULL!",
	0x07: "#DIV/0!",
	0x0F: "#VALUE!",
	0x17: "#REF!",
	0x1D: "#NAME?",
	0x24: "#NUM!",
	0x2A: "#N/A",
	0x2B: "#GETTING_DATA",
}

func errorText(code uint8) string {
	if s, ok := errorCodes[code]; ok {
		return s
	}
	return fmt.Sprintf("#ERR%d", code)
}
