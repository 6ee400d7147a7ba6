package cell

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewNumber(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want Value
	}{
		{"integral", 3, NewInt(3)},
		{"negative zero", math.Copysign(0, -1), NewInt(0)},
		{"fraction", 1.5, NewFloat(1.5)},
		{"upper bound", 1 << 53, NewInt(1 << 53)},
		{"past upper bound", 1<<53 + 2, NewFloat(1<<53 + 2)},
		{"lower bound", -(1 << 53), NewInt(-(1 << 53))},
		{"past lower bound", -(1<<53 + 2), NewFloat(-(1<<53 + 2))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewNumber(tt.in))
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw  string
		want Value
	}{
		{"", Value{}},
		{"42", NewInt(42)},
		{"-7", NewInt(-7)},
		{"2.50", NewFloat(2.5)},
		{"1E3", NewInt(1000)},
		{"9223372036854775808", NewFloat(9223372036854775808)},
		{"abc", NewMalformed("abc")},
		{"NaN", NewMalformed("NaN")},
		{"Inf", NewMalformed("Inf")},
		{"1e999", NewMalformed("1e999")},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseNumber(tt.raw))
		})
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{2.5, "2.5"},
		{1e-6, "0.000001"},
		{9.9e-7, "9.9e-07"},
		{-2.5e-7, "-2.5e-07"},
		{1e20, "100000000000000000000"},
		{1e21, "1e+21"},
		{-1.5e22, "-1.5e+22"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatFloat(tt.in))
		})
	}
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"whole second", time.Date(2024, 2, 29, 12, 30, 5, 0, time.UTC), "2024-02-29T12:30:05Z"},
		{"milliseconds", time.Date(2024, 2, 29, 12, 30, 5, 250e6, time.UTC), "2024-02-29T12:30:05.250Z"},
		{"sub-millisecond", time.Date(2024, 2, 29, 12, 30, 5, 1234, time.UTC), "2024-02-29T12:30:05.000Z"},
		{"offset", time.Date(2024, 2, 29, 14, 30, 5, 0, time.FixedZone("", 2*3600)), "2024-02-29T12:30:05Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTime(tt.in))
		})
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Value{}, ""},
		{NewBool(true), "true"},
		{NewInt(-12), "-12"},
		{NewFloat(0.1), "0.1"},
		{NewText("abc"), "abc"},
		{NewMalformed("4x"), "4x"},
		{NewTime(time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC)), "2023-03-15T12:00:00Z"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.String(), tt.v.Kind().String())
	}
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestConversions(t *testing.T) {
	f, ok := NewBool(true).AsFloat()
	assert.True(t, ok)
	assert.Equal(t, 1.0, f)
	_, ok = NewText("1").AsFloat()
	assert.False(t, ok)

	i, ok := NewFloat(4).AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(4), i)
	_, ok = NewFloat(4.5).AsInt()
	assert.False(t, ok)
	_, ok = NewFloat(1 << 60).AsInt()
	assert.False(t, ok)
}

func TestRow(t *testing.T) {
	r := Row{NewInt(1), {}, NewText("x"), {}, {}}
	assert.Equal(t, 3, r.Width())
	assert.Equal(t, NewText("x"), r.At(2))
	assert.True(t, r.At(-1).IsEmpty())
	assert.True(t, r.At(10).IsEmpty())
	assert.Equal(t, 0, Row{{}, {}}.Width())
	assert.Equal(t, 0, Row(nil).Width())
}
