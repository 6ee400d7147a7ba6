package parquet

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/sheetpipe/pkg/columnar"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/schema"
)

// arrowType maps a resolved column type to its arrow type. Columns that
// never held a value are written as all-null strings.
func arrowType(t schema.Type) arrow.DataType {
	switch t {
	case schema.Bool:
		return arrow.FixedWidthTypes.Boolean
	case schema.Int64:
		return arrow.PrimitiveTypes.Int64
	case schema.Float64:
		return arrow.PrimitiveTypes.Float64
	case schema.Timestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

// arrowSchema builds the file schema. Every column is nullable.
func arrowSchema(s schema.Schema, names []string, meta map[string]string) *arrow.Schema {
	fields := make([]arrow.Field, s.Width())
	for i, t := range s.Types {
		fields[i] = arrow.Field{Name: names[i], Type: arrowType(t), Nullable: true}
	}
	md := arrow.MetadataFrom(meta)
	return arrow.NewSchema(fields, &md)
}

// buildRecord concatenates conformed column sets into one record.
func buildRecord(mem memory.Allocator, sc *arrow.Schema, sets []*columnar.ColumnSet) (arrow.Record, error) {
	rb := array.NewRecordBuilder(mem, sc)
	defer rb.Release()

	for _, cs := range sets {
		for i, col := range cs.Columns {
			if err := appendColumn(rb.Field(i), col); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build row group").
					WithDetail("column", sc.Field(i).Name)
			}
		}
	}
	return rb.NewRecord(), nil
}

func appendColumn(b array.Builder, col *columnar.TypedColumn) error {
	if !arrow.TypeEqual(arrowType(col.Type), b.Type()) {
		return errors.Newf(errors.ErrorTypeInternal, "%s column does not match field type %s", col.Type, b.Type())
	}
	switch bb := b.(type) {
	case *array.BooleanBuilder:
		bb.AppendValues(col.Bools, col.Valid)
	case *array.Int64Builder:
		bb.AppendValues(col.Ints, col.Valid)
	case *array.Float64Builder:
		bb.AppendValues(col.Floats, col.Valid)
	case *array.TimestampBuilder:
		bb.Reserve(col.Len())
		for i, ok := range col.Valid {
			if !ok {
				bb.AppendNull()
				continue
			}
			bb.Append(arrow.Timestamp(col.Times[i].UnixMicro()))
		}
	case *array.StringBuilder:
		if col.Type == schema.Empty {
			bb.AppendNulls(col.Len())
			return nil
		}
		bb.AppendValues(col.Strings, col.Valid)
	default:
		return errors.Newf(errors.ErrorTypeInternal, "no builder for %s column", col.Type)
	}
	return nil
}
