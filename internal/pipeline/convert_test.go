package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/sheetpipe/pkg/columnar"
	"github.com/ajitpratap0/sheetpipe/pkg/config"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/formats/parquet"
	"github.com/ajitpratap0/sheetpipe/pkg/metrics"
	"github.com/ajitpratap0/sheetpipe/pkg/testutil"
)

type ConvertSuite struct {
	testutil.ConversionSuite
}

func TestConvertSuite(t *testing.T) {
	suite.Run(t, new(ConvertSuite))
}

func (s *ConvertSuite) convert(src string, cfg *config.RunConfig, opts ...Option) (*Summary, string, error) {
	dst := s.OutputPath("out.parquet")
	sum, err := Convert(s.Context(), src, dst, cfg, testutil.TestLogger(s.T()), opts...)
	return sum, dst, err
}

func (s *ConvertSuite) mustConvert(src string, cfg *config.RunConfig, opts ...Option) (*Summary, *testutil.ParquetFile) {
	sum, dst, err := s.convert(src, cfg, opts...)
	s.Require().NoError(err)
	s.Require().NotNil(sum)
	return sum, testutil.ReadParquet(s.T(), dst)
}

func numbered(n int) [][]interface{} {
	return testutil.GenerateRows(n, 2, func(r, c int) interface{} {
		if c == 0 {
			return r
		}
		return fmt.Sprintf("row %d", r)
	})
}

// gathered returns the value of the single counter or gauge called name.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		require.Len(t, f.GetMetric(), 1)
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func runConfig(mutate func(*config.RunConfig)) *config.RunConfig {
	cfg := config.NewRunConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func (s *ConvertSuite) TestRowCountAfterSkip() {
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: numbered(10)})

	for _, skip := range []int{0, 1, 3, 10, 15} {
		s.Run(fmt.Sprintf("skip %d", skip), func() {
			sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) { c.SkipRows = skip }))
			want := max(0, 10-skip)
			s.Equal(int64(want), sum.RowsWritten)
			s.Equal(int64(want), out.Rows())
			s.Equal(int64(min(skip, 10)), sum.RowsSkipped)
			s.Equal(int64(10), sum.RowsRead)
			s.Equal(fmt.Sprint(want), out.Meta[parquet.MetaRows])
			if want > 0 {
				s.Equal(int64(skip), out.Columns[0][0])
			}
		})
	}
}

func (s *ConvertSuite) TestPrepassResolvesOneTypePerColumn() {
	rows := [][]interface{}{
		{1, 1, "a", true, 1, nil},
		{2, 2.5, "b", false, "two", nil},
		{3, 3, nil, true, 3, nil},
	}
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: rows})

	sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) { c.BatchSize = 1 }))
	s.Equal(config.SchemaModePrepass, sum.SchemaMode)
	s.Equal(3, sum.PrepassRows)
	s.Zero(sum.Warnings.Total)

	s.Require().Len(out.Types, 5)
	s.True(arrow.TypeEqual(arrow.PrimitiveTypes.Int64, out.Types[0]))
	s.True(arrow.TypeEqual(arrow.PrimitiveTypes.Float64, out.Types[1]))
	s.True(arrow.TypeEqual(arrow.BinaryTypes.String, out.Types[2]))
	s.True(arrow.TypeEqual(arrow.FixedWidthTypes.Boolean, out.Types[3]))
	s.True(arrow.TypeEqual(arrow.BinaryTypes.String, out.Types[4]))

	s.Equal([]interface{}{int64(1), int64(2), int64(3)}, out.Columns[0])
	s.Equal([]interface{}{1.0, 2.5, 3.0}, out.Columns[1])
	s.Equal([]interface{}{"a", "b", nil}, out.Columns[2])
	s.Equal([]interface{}{"1", "two", "3"}, out.Columns[4])
	s.Equal("prepass", out.Meta[parquet.MetaSchemaMode])
	s.Equal("Data", out.Meta[parquet.MetaSheet])

	s.Equal([]string{"Field_0", "Field_1", "Field_2", "Field_3", "Field_4"}, out.Names)
	s.Equal(columnar.StatsJSON{Type: "float64", Count: 3, Min: "1", Max: "3"}, sum.Columns[1].Stats)
	s.Equal(int64(1), sum.Columns[2].Stats.NullCount)
}

func (s *ConvertSuite) TestOrderPreservedForAnyWorkerCount() {
	const n = 2000
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: numbered(n)})

	for _, workers := range []int{1, 4, runtime.NumCPU() + 3} {
		for _, mode := range []config.SchemaMode{config.SchemaModePrepass, config.SchemaModeAdaptive} {
			s.Run(fmt.Sprintf("%s with %d workers", mode, workers), func() {
				sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) {
					c.Workers = workers
					c.BatchSize = 7
					c.RowGroupSize = 100
					c.SchemaMode = mode
				}))
				s.Equal(int64(n), sum.RowsWritten)
				s.Equal((n+6)/7, sum.Batches)
				s.Require().Len(out.Columns[0], n)
				for i := 0; i < n; i++ {
					s.Require().Equal(int64(i), out.Columns[0][i], "row %d", i)
					s.Require().Equal(fmt.Sprintf("row %d", i), out.Columns[1][i])
				}
				for _, rg := range out.RowGroups[:len(out.RowGroups)-1] {
					s.GreaterOrEqual(rg, int64(100))
				}
			})
		}
	}
}

func (s *ConvertSuite) TestBatchSizeBoundaries() {
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: numbered(25)})

	for _, size := range []int{1, 1_000_000} {
		s.Run(fmt.Sprintf("batch %d", size), func() {
			sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) { c.BatchSize = size }))
			s.Equal(int64(25), sum.RowsWritten)
			s.Require().Len(out.Columns[0], 25)
			s.Equal(int64(24), out.Columns[0][24])
		})
	}
}

func (s *ConvertSuite) TestEmptySheet() {
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Empty"})

	for _, mode := range []config.SchemaMode{config.SchemaModePrepass, config.SchemaModeAdaptive} {
		s.Run(string(mode), func() {
			sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) { c.SchemaMode = mode }))
			s.Zero(sum.RowsWritten)
			s.Zero(sum.Batches)
			s.Zero(sum.RowGroups)
			s.Empty(out.RowGroups)
			s.Equal("0", out.Meta[parquet.MetaRows])
		})
	}
}

func (s *ConvertSuite) TestAdaptiveResolvesLateTextColumn() {
	const n = 10000
	rows := testutil.GenerateRows(n, 3, func(r, c int) interface{} {
		switch {
		case c == 0:
			return r
		case c == 1:
			return "x"
		case r == n-1:
			return "not a number"
		default:
			return r + 1
		}
	})
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: rows})

	sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) {
		c.SchemaMode = config.SchemaModeAdaptive
	}))
	s.Equal(int64(n), sum.RowsWritten)
	s.Zero(sum.Warnings.Total)
	s.Equal("text", sum.Columns[2].Type)
	s.True(arrow.TypeEqual(arrow.BinaryTypes.String, out.Types[2]))

	col := out.Columns[2]
	s.Require().Len(col, n)
	for i := 0; i < n-1; i++ {
		s.Require().Equal(fmt.Sprint(i+1), col[i])
	}
	s.Equal("not a number", col[n-1])
}

func (s *ConvertSuite) TestAdaptiveWideningAfterCommitWarns() {
	const n = 1000
	rows := testutil.GenerateRows(n, 1, func(r, _ int) interface{} {
		if r == n-1 {
			return "late text"
		}
		return r
	})
	rows[n-2] = append(rows[n-2], "extra")
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: rows})

	sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) {
		c.SchemaMode = config.SchemaModeAdaptive
		c.Workers = 1
		c.QueueDepth = 1
		c.BatchSize = 10
		c.RowGroupSize = 10
		c.MaxWarningDetails = 1
	}))
	s.Equal(int64(n), sum.RowsWritten)
	s.Equal(2, sum.Warnings.Total)
	s.Equal(2, sum.Warnings.ByKind[columnar.SchemaWidenedAfterCommit])
	s.Require().Len(sum.Warnings.Details, 1)
	s.Equal(n-2, sum.Warnings.Details[0].Row)
	s.Equal(1, sum.Warnings.Details[0].Column)
	s.True(sum.Warnings.Truncated)

	s.Require().Len(out.Types, 1)
	s.True(arrow.TypeEqual(arrow.PrimitiveTypes.Int64, out.Types[0]))
	s.Nil(out.Columns[0][n-1])
}

func (s *ConvertSuite) TestHeaderRow() {
	rows := [][]interface{}{
		{"report"},
		{"id", nil, "id", "name"},
		{1, true, 2, "a"},
		{3, false, 4, "b", "beyond header"},
	}
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: rows})

	sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) {
		c.SkipRows = 1
		c.Header = true
	}))
	s.True(sum.HeaderRow)
	s.Equal(int64(4), sum.RowsRead)
	s.Equal(int64(2), sum.RowsWritten)
	s.Equal([]string{"id", "Field_1", "id_2", "name", "Field_4"}, out.Names)
	s.Equal([]interface{}{nil, "beyond header"}, out.Columns[4])
	s.Equal("id_2", sum.Columns[2].Name)
}

func (s *ConvertSuite) TestHeaderOnlySheet() {
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: [][]interface{}{{"a", "b"}}})

	sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) { c.Header = true }))
	s.Zero(sum.RowsWritten)
	s.Equal([]string{"a", "b"}, out.Names)
	for _, typ := range out.Types {
		s.True(arrow.TypeEqual(arrow.BinaryTypes.String, typ))
	}
}

func (s *ConvertSuite) TestStatsAreIdempotent() {
	rows := testutil.GenerateRows(300, 3, func(r, c int) interface{} {
		switch c {
		case 0:
			return r * 3
		case 1:
			if r%7 == 0 {
				return nil
			}
			return float64(r) / 4
		default:
			return fmt.Sprintf("v%03d", r%50)
		}
	})
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: rows})
	cfg := runConfig(func(c *config.RunConfig) {
		c.BatchSize = 16
		c.Workers = 4
		c.SchemaMode = config.SchemaModeAdaptive
	})

	first, _ := s.mustConvert(book, cfg)
	second, _ := s.mustConvert(book, cfg)
	s.Equal(first.RowsWritten, second.RowsWritten)
	s.Equal(first.RowGroups, second.RowGroups)
	s.Equal(first.Columns, second.Columns)
	s.Equal(columnar.StatsJSON{Type: "int64", Count: 300, Min: "0", Max: "897"}, first.Columns[0].Stats)
}

func (s *ConvertSuite) TestSheetNotFoundCreatesNoOutput() {
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: numbered(3)})

	_, dst, err := s.convert(book, runConfig(func(c *config.RunConfig) { c.SheetName = "Missing" }))
	s.True(errors.IsType(err, errors.ErrorTypeSheetNotFound), "got %v", err)
	s.AssertDirEmpty(filepath.Dir(dst))

	idx := 4
	_, dst, err = s.convert(book, runConfig(func(c *config.RunConfig) { c.SheetIndex = &idx }))
	s.True(errors.IsType(err, errors.ErrorTypeSheetNotFound), "got %v", err)
	s.AssertDirEmpty(filepath.Dir(dst))
}

func (s *ConvertSuite) TestSelectsSheetByName() {
	book := testutil.WriteWorkbook(s.T(),
		testutil.Sheet{Name: "First", Rows: numbered(2)},
		testutil.Sheet{Name: "Second", Rows: numbered(5)},
	)
	sum, out := s.mustConvert(book, runConfig(func(c *config.RunConfig) { c.SheetName = "Second" }))
	s.Equal("Second", sum.Sheet)
	s.Equal(int64(5), out.Rows())
}

func (s *ConvertSuite) TestUnsupportedFormatCreatesNoOutput() {
	src := filepath.Join(s.T().TempDir(), "data.csv")
	s.Require().NoError(os.WriteFile(src, []byte("a,b\n1,2\n"), 0o600))

	_, dst, err := s.convert(src, nil)
	s.True(errors.IsType(err, errors.ErrorTypeUnsupportedFormat), "got %v", err)
	s.AssertDirEmpty(filepath.Dir(dst))
}

func (s *ConvertSuite) TestPrepassViolationIsFatal() {
	rows := testutil.GenerateRows(100, 1, func(r, _ int) interface{} {
		if r == 80 {
			return "text"
		}
		return r
	})
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: rows})

	_, dst, err := s.convert(book, runConfig(func(c *config.RunConfig) {
		c.PrepassRows = 10
		c.BatchSize = 10
		c.RowGroupSize = 10
	}))
	s.True(errors.IsType(err, errors.ErrorTypeCoercion), "got %v", err)
	var e *errors.Error
	s.Require().True(errors.As(err, &e))
	s.Equal(80, e.Details["row"])
	s.AssertDirEmpty(filepath.Dir(dst))
}

func (s *ConvertSuite) TestInvalidConfigCreatesNoOutput() {
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: numbered(3)})

	_, dst, err := s.convert(book, runConfig(func(c *config.RunConfig) { c.BatchSize = 0 }))
	s.True(errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
	s.AssertDirEmpty(filepath.Dir(dst))
}

func (s *ConvertSuite) TestCanceledRunLeavesNoOutput() {
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: numbered(50)})
	ctx, cancel := context.WithCancel(s.Context())
	cancel()

	for _, mode := range []config.SchemaMode{config.SchemaModePrepass, config.SchemaModeAdaptive} {
		dst := s.OutputPath("out.parquet")
		_, err := Convert(ctx, book, dst, runConfig(func(c *config.RunConfig) { c.SchemaMode = mode }), testutil.TestLogger(s.T()))
		s.True(errors.IsType(err, errors.ErrorTypeCanceled), "%s: got %v", mode, err)
		s.AssertDirEmpty(filepath.Dir(dst))
	}
}

func (s *ConvertSuite) TestRecordsMetrics() {
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: numbered(30)})
	reg := prometheus.NewRegistry()

	_, _ = s.mustConvert(book, runConfig(func(c *config.RunConfig) {
		c.SkipRows = 2
		c.BatchSize = 4
		c.RowGroupSize = 8
	}), WithMetrics(metrics.NewCollector(reg)))

	s.Equal(30.0, gathered(s.T(), reg, "sheetpipe_rows_read_total"))
	s.Equal(2.0, gathered(s.T(), reg, "sheetpipe_rows_skipped_total"))
	s.Equal(28.0, gathered(s.T(), reg, "sheetpipe_rows_written_total"))
	s.Equal(7.0, gathered(s.T(), reg, "sheetpipe_batches_coerced_total"))
	s.Equal(4.0, gathered(s.T(), reg, "sheetpipe_row_groups_written_total"))
}

func (s *ConvertSuite) TestSummaryRendering() {
	book := testutil.WriteWorkbook(s.T(), testutil.Sheet{Name: "Data", Rows: numbered(3)})
	sum, _ := s.mustConvert(book, nil)

	data, err := sum.JSON()
	s.Require().NoError(err)
	var decoded map[string]interface{}
	s.Require().NoError(json.Unmarshal(data, &decoded))
	s.Equal(3.0, decoded["rows_written"])
	s.Equal("Data", decoded["sheet"])
	s.Len(decoded["columns"], 2)

	var buf bytes.Buffer
	s.Require().NoError(sum.WriteText(&buf))
	s.Contains(buf.String(), "3 written")
	s.Contains(buf.String(), "Field_1")
}

func TestConvertLargeSheet(t *testing.T) {
	testutil.IntegrationTest(t)

	const n = 100000
	book := testutil.WriteWorkbook(t, testutil.Sheet{Name: "Data", Rows: testutil.GenerateRows(n, 4, func(r, c int) interface{} {
		switch c {
		case 0:
			return r
		case 1:
			return float64(r) / 4
		case 2:
			return r%3 == 0
		default:
			return fmt.Sprintf("row %d", r)
		}
	})})
	dst := filepath.Join(t.TempDir(), "large.parquet")

	var sum *Summary
	testutil.NewPerformanceTest(t, "convert 100k rows").
		WithThroughputTarget(1000).
		WithMemoryTarget(256 << 20).
		Run(func() int64 {
			var err error
			sum, err = Convert(context.Background(), book, dst, runConfig(nil), testutil.TestLogger(t))
			require.NoError(t, err)
			return sum.RowsWritten
		})

	require.Equal(t, int64(n), sum.RowsWritten)
	out := testutil.ReadParquet(t, dst)
	want := []arrow.DataType{arrow.PrimitiveTypes.Int64, arrow.PrimitiveTypes.Float64, arrow.FixedWidthTypes.Boolean, arrow.BinaryTypes.String}
	require.Len(t, out.Types, len(want))
	for i, typ := range want {
		require.True(t, arrow.TypeEqual(typ, out.Types[i]), "column %d is %s", i, out.Types[i])
	}
	require.Equal(t, int64(n-1), out.Columns[0][n-1])
}
