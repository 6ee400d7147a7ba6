package testutil

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/require"
)

// ParquetFile is the decoded content of a Parquet file.
type ParquetFile struct {
	Names []string
	Types []arrow.DataType
	// Columns holds one Go value per row: bool, int64, float64, string,
	// time.Time in UTC, or nil for null.
	Columns   [][]interface{}
	RowGroups []int64
	Meta      map[string]string
	// Codec is the compression of the first column chunk.
	Codec compress.Compression
}

// ReadParquet reads the whole file at path.
func ReadParquet(t testing.TB, path string) *ParquetFile {
	t.Helper()
	rdr, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	defer rdr.Close()

	out := &ParquetFile{Meta: map[string]string{}}
	md := rdr.MetaData()
	for _, kv := range md.KeyValueMetadata() {
		if kv.Value != nil {
			out.Meta[kv.Key] = *kv.Value
		}
	}
	for i := 0; i < rdr.NumRowGroups(); i++ {
		rg := md.RowGroup(i)
		out.RowGroups = append(out.RowGroups, rg.NumRows())
		if i == 0 && rg.NumColumns() > 0 {
			cc, err := rg.ColumnChunk(0)
			require.NoError(t, err)
			out.Codec = cc.Compression()
		}
	}

	if md.Schema.NumColumns() == 0 {
		return out
	}

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{BatchSize: 1024}, memory.DefaultAllocator)
	require.NoError(t, err)
	tbl, err := fr.ReadTable(context.Background())
	require.NoError(t, err)
	defer tbl.Release()

	for i := 0; i < int(tbl.NumCols()); i++ {
		col := tbl.Column(i)
		out.Names = append(out.Names, col.Name())
		out.Types = append(out.Types, col.DataType())
		var vals []interface{}
		for _, chunk := range col.Data().Chunks() {
			for k := 0; k < chunk.Len(); k++ {
				vals = append(vals, valueAt(chunk, k))
			}
		}
		out.Columns = append(out.Columns, vals)
	}
	return out
}

// Rows is the total number of rows across row groups.
func (f *ParquetFile) Rows() int64 {
	var n int64
	for _, rg := range f.RowGroups {
		n += rg
	}
	return n
}

func valueAt(a arrow.Array, i int) interface{} {
	if a.IsNull(i) {
		return nil
	}
	switch arr := a.(type) {
	case *array.Boolean:
		return arr.Value(i)
	case *array.Int64:
		return arr.Value(i)
	case *array.Float64:
		return arr.Value(i)
	case *array.String:
		return arr.Value(i)
	case *array.Timestamp:
		return arr.Value(i).ToTime(arrow.Microsecond)
	}
	return a.ValueStr(i)
}
