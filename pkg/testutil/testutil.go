// Package testutil provides testing utilities for sheetpipe
package testutil

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/sheet"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// SliceSource is an in-memory row source.
type SliceSource struct {
	Name   string
	Rows   []cell.Row
	Err    error // returned once the rows are exhausted, instead of io.EOF
	pos    int
	closed bool
}

// Next returns the next row.
func (s *SliceSource) Next(ctx context.Context) (cell.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.Rows) {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, io.EOF
	}
	row := s.Rows[s.pos]
	s.pos++
	return row, nil
}

// SheetName returns Name.
func (s *SliceSource) SheetName() string { return s.Name }

// Dimensions is always invalid for in-memory sources.
func (s *SliceSource) Dimensions() sheet.Dimensions { return sheet.Dimensions{} }

// Close marks the source closed.
func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource) Closed() bool { return s.closed }

// Sheet describes one worksheet of a generated workbook. Row values are
// passed to excelize unchanged; nil leaves a cell blank.
type Sheet struct {
	Name string
	Rows [][]interface{}
}

// WriteWorkbook saves the sheets as an .xlsx file in a test temp dir.
func WriteWorkbook(t testing.TB, sheets ...Sheet) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", s.Name))
		} else {
			_, err := f.NewSheet(s.Name)
			require.NoError(t, err)
		}
		sw, err := f.NewStreamWriter(s.Name)
		require.NoError(t, err)
		for r, row := range s.Rows {
			ref, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, sw.SetRow(ref, row))
		}
		require.NoError(t, sw.Flush())
	}

	p := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(p))
	return p
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
