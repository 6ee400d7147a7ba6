package parquet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sheetpipe/pkg/cell"
	"github.com/ajitpratap0/sheetpipe/pkg/columnar"
	"github.com/ajitpratap0/sheetpipe/pkg/compression"
	"github.com/ajitpratap0/sheetpipe/pkg/schema"
	"github.com/ajitpratap0/sheetpipe/pkg/testutil"
)

// batch folds rows into r and coerces them against the schema in effect.
func batch(t *testing.T, r *schema.Resolver, first int, rows ...cell.Row) *columnar.ColumnSet {
	t.Helper()
	s := r.ObserveRows(rows)
	cs, err := columnar.Coerce(rows, s, columnar.Options{FirstRow: first})
	require.NoError(t, err)
	return cs
}

func TestWriterRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.parquet")
	when := time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC)

	r := schema.NewResolver()
	w, err := Create(dest, r, Options{
		RowGroupSize: 2,
		Titles:       []string{"flag", "n", "", "n"},
		Source:       "book.xlsx",
		Sheet:        "Data",
		SchemaMode:   "adaptive",
		Compression:  &compression.Config{Algorithm: compression.Snappy},
		Logger:       testutil.TestLogger(t),
	})
	require.NoError(t, err)
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "destination must not exist before Close")

	require.NoError(t, w.Write(ctx, batch(t, r, 0,
		cell.Row{cell.NewBool(true), cell.NewInt(1), cell.NewText("a"), cell.NewTime(when)},
		cell.Row{cell.NewBool(false), cell.NewFloat(2.5)},
	)))
	assert.Equal(t, 1, w.RowGroups())
	assert.True(t, r.Committed())

	require.NoError(t, w.Write(ctx, batch(t, r, 2,
		cell.Row{{}, cell.NewInt(3), cell.NewText("c"), {}},
	)))
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, int64(3), w.Rows())
	assert.Equal(t, 2, w.RowGroups())
	assert.Greater(t, w.Bytes(), int64(0))

	_, err = os.Stat(w.TempPath())
	assert.True(t, os.IsNotExist(err))

	got := testutil.ReadParquet(t, dest)
	assert.Equal(t, []string{"flag", "n", "Field_2", "n_2"}, got.Names)
	assert.Equal(t, []int64{2, 1}, got.RowGroups)
	assert.Equal(t, compress.Codecs.Snappy, got.Codec)
	assert.Equal(t, "book.xlsx", got.Meta[MetaSource])
	assert.Equal(t, "Data", got.Meta[MetaSheet])
	assert.Equal(t, "3", got.Meta[MetaRows])
	assert.Equal(t, "adaptive", got.Meta[MetaSchemaMode])

	assert.True(t, arrow.TypeEqual(arrow.FixedWidthTypes.Boolean, got.Types[0]))
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, got.Types[1]))
	assert.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, got.Types[2]))
	assert.True(t, arrow.TypeEqual(arrow.FixedWidthTypes.Timestamp_us, got.Types[3]))

	assert.Equal(t, []interface{}{true, false, nil}, got.Columns[0])
	assert.Equal(t, []interface{}{1.0, 2.5, 3.0}, got.Columns[1])
	assert.Equal(t, []interface{}{"a", nil, "c"}, got.Columns[2])
	assert.Equal(t, []interface{}{when, nil, nil}, got.Columns[3])

	stats := w.Stats()
	require.Len(t, stats, 4)
	assert.Equal(t, columnar.StatsJSON{Type: "float64", Count: 3, Min: "1", Max: "3"}, stats[1].JSON())
	assert.Equal(t, int64(2), stats[3].NullCount)
}

func TestWriterEmptyColumnsAndZeroRows(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "empty.parquet")
	r := schema.NewResolver()
	r.Reserve(2)
	w, err := Create(dest, r, Options{Titles: []string{"a", "b"}})
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, 0, w.RowGroups())

	got := testutil.ReadParquet(t, dest)
	assert.Equal(t, []string{"a", "b"}, got.Names)
	assert.Empty(t, got.RowGroups)
	assert.Equal(t, "0", got.Meta[MetaRows])
	for _, typ := range got.Types {
		assert.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, typ))
	}
}

func TestWriterZeroWidth(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "none.parquet")
	w, err := Create(dest, schema.NewResolver(), Options{})
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	rdr, err := file.OpenParquetFile(dest, false)
	require.NoError(t, err)
	defer rdr.Close()
	assert.Equal(t, int64(0), rdr.NumRows())
}

func TestWriterNullOnlyColumn(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "nulls.parquet")
	r := schema.NewResolver()
	w, err := Create(dest, r, Options{})
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, batch(t, r, 0,
		cell.Row{cell.NewInt(1), {}, cell.NewInt(2)},
		cell.Row{cell.NewInt(3)},
	)))
	require.NoError(t, w.Close(ctx))

	got := testutil.ReadParquet(t, dest)
	assert.Equal(t, []string{"Field_0", "Field_1", "Field_2"}, got.Names)
	assert.Equal(t, []interface{}{nil, nil}, got.Columns[1])
	assert.Equal(t, []interface{}{int64(2), nil}, got.Columns[2])
	assert.Equal(t, []int64{2}, got.RowGroups)
	assert.Equal(t, compress.Codecs.Zstd, got.Codec)
}

func TestWriterWidensEarlierBatches(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "widen.parquet")
	r := schema.NewResolver()
	w, err := Create(dest, r, Options{RowGroupSize: 100})
	require.NoError(t, err)

	require.NoError(t, w.Write(ctx, batch(t, r, 0, cell.Row{cell.NewInt(7)}, cell.Row{cell.NewInt(8)})))
	require.NoError(t, w.Write(ctx, batch(t, r, 2, cell.Row{cell.NewText("x"), cell.NewBool(true)})))
	require.NoError(t, w.Close(ctx))

	got := testutil.ReadParquet(t, dest)
	assert.Equal(t, []interface{}{"7", "8", "x"}, got.Columns[0])
	assert.Equal(t, []interface{}{nil, nil, true}, got.Columns[1])
	assert.Equal(t, []schema.Type{schema.Text, schema.Bool}, w.Schema().Types)
}

func TestWriterAbort(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dest := filepath.Join(dir, "aborted.parquet")
	r := schema.NewResolver()
	w, err := Create(dest, r, Options{RowGroupSize: 1})
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, batch(t, r, 0, cell.Row{cell.NewInt(1)})))

	w.Abort()
	w.Abort()
	require.NoError(t, w.Close(ctx))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Error(t, w.Write(ctx, batch(t, r, 1, cell.Row{cell.NewInt(2)})))
}

func TestCreateErrors(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing", "out.parquet"), schema.NewResolver(), Options{})
	assert.Error(t, err)

	_, err = Create(filepath.Join(t.TempDir(), "out.parquet"), schema.NewResolver(), Options{
		Compression: &compression.Config{Algorithm: "s2"},
	})
	assert.Error(t, err)
}
