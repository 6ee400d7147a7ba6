// Package cell defines the tagged cell value produced by row sources and the
// positional row that carries them through the pipeline.
package cell

import (
	"math"
	"strconv"
	"time"
)

// Kind is the tag of a Value
type Kind uint8

const (
	Empty Kind = iota
	Bool
	Int64
	Float64
	Text
	Timestamp
)

var kindNames = [...]string{
	Empty:     "empty",
	Bool:      "bool",
	Int64:     "int64",
	Float64:   "float64",
	Text:      "text",
	Timestamp: "timestamp",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable tagged cell value. The zero Value is Empty.
//
// A Value may be marked malformed when the source carried a numeric or date
// encoding that could not be decoded; Raw then holds the original text.
type Value struct {
	kind      Kind
	malformed bool
	b         bool
	i         int64
	f         float64
	s         string
	t         time.Time
}

// maxExactInt is the largest integer magnitude a float64 holds exactly.
const maxExactInt = 1 << 53

func NewBool(v bool) Value { return Value{kind: Bool, b: v} }
func NewInt(v int64) Value { return Value{kind: Int64, i: v} }
func NewFloat(v float64) Value { return Value{kind: Float64, f: v} }
func NewText(v string) Value { return Value{kind: Text, s: v} }
func NewTime(v time.Time) Value { return Value{kind: Timestamp, t: v.UTC()} }
func NewMalformed(raw string) Value { return Value{kind: Text, malformed: true, s: raw} }

// NewNumber normalises a spreadsheet number: integral values that fit
// exactly in a float64 become Int64, everything else stays Float64.
func NewNumber(v float64) Value {
	if v == math.Trunc(v) && math.Abs(v) <= maxExactInt {
		return NewInt(int64(v))
	}
	return NewFloat(v)
}

// ParseNumber decodes the textual number representation used by the XML
// container. Text that is not a number yields a malformed value.
func ParseNumber(raw string) Value {
	if raw == "" {
		return Value{}
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return NewInt(i)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return NewMalformed(raw)
	}
	return NewNumber(f)
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsEmpty() bool { return v.kind == Empty }
func (v Value) Malformed() bool { return v.malformed }
func (v Value) Bool() bool { return v.b }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Time() time.Time { return v.t }
func (v Value) Raw() string { return v.s }

// AsFloat returns the numeric value of Bool, Int64 and Float64 values.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case Bool:
		if v.b {
			return 1, true
		}
		return 0, true
	case Int64:
		return float64(v.i), true
	case Float64:
		return v.f, true
	}
	return 0, false
}

// AsInt returns the integer value of Bool and Int64 values, and of Float64
// values that are integral.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case Bool:
		if v.b {
			return 1, true
		}
		return 0, true
	case Int64:
		return v.i, true
	case Float64:
		if v.f == math.Trunc(v.f) && math.Abs(v.f) <= maxExactInt {
			return int64(v.f), true
		}
	}
	return 0, false
}

// String renders the canonical textual form used whenever a value is
// coerced into a Text column. Empty renders as "".
func (v Value) String() string {
	switch v.kind {
	case Bool:
		return strconv.FormatBool(v.b)
	case Int64:
		return strconv.FormatInt(v.i, 10)
	case Float64:
		return FormatFloat(v.f)
	case Text:
		return v.s
	case Timestamp:
		return FormatTime(v.t)
	}
	return ""
}

// FormatFloat renders f in the shortest form that parses back to f, using
// positional notation for ordinary magnitudes.
func FormatFloat(f float64) string {
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatTime renders t as ISO-8601 in UTC with millisecond precision when
// the value has a fractional second.
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05Z")
	}
	return t.Format("2006-01-02T15:04:05.000Z")
}

// Row is a positional sequence of values. Rows may be shorter than the
// sheet width; missing trailing positions read as Empty.
type Row []Value

// At returns the value at column i, or Empty past the end of the row.
func (r Row) At(i int) Value {
	if i < 0 || i >= len(r) {
		return Value{}
	}
	return r[i]
}

// Width returns the position after the last non-empty value.
func (r Row) Width() int {
	for i := len(r) - 1; i >= 0; i-- {
		if !r[i].IsEmpty() {
			return i + 1
		}
	}
	return 0
}
