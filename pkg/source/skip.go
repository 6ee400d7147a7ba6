package source

import (
	"context"
	"io"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
)

// Skipper drops a fixed number of leading rows from a RowSource.
type Skipper struct {
	RowSource
	remaining int
	skipped   int
}

// Skip wraps rs so the first n rows are discarded. Skipping past the end of
// the sheet yields an empty stream, not an error.
func Skip(rs RowSource, n int) *Skipper {
	if n < 0 {
		n = 0
	}
	return &Skipper{RowSource: rs, remaining: n}
}

// Next returns the next row after the skipped prefix.
func (s *Skipper) Next(ctx context.Context) (cell.Row, error) {
	for s.remaining > 0 {
		if _, err := s.RowSource.Next(ctx); err != nil {
			if err == io.EOF {
				s.remaining = 0
			}
			return nil, err
		}
		s.remaining--
		s.skipped++
	}
	return s.RowSource.Next(ctx)
}

// Skipped reports how many rows were actually discarded.
func (s *Skipper) Skipped() int { return s.skipped }

// ReadHeader consumes the next row as column titles. An exhausted source
// yields no titles and no error.
func ReadHeader(ctx context.Context, rs RowSource) ([]string, error) {
	row, err := rs.Next(ctx)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	titles := make([]string, len(row))
	for i, v := range row {
		if !v.IsEmpty() {
			titles[i] = v.String()
		}
	}
	return titles, nil
}
