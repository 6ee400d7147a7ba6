// Package sheetpipe converts one sheet of an Excel workbook (XLSX or XLSB)
// into a single Parquet file, streaming rows through a bounded pool of
// coercion workers so memory stays flat regardless of sheet size.
//
// # Architecture
//
// A conversion is a three-stage pipeline:
//
//  1. A row source decodes the selected sheet one row at a time and cuts
//     the stream into numbered batches.
//  2. Workers fold each batch into the running schema and coerce it into
//     typed columns. Batches finish out of order.
//  3. A single writer reorders finished batches by sequence number and
//     appends them to the Parquet file, which is renamed into place only
//     after a successful close.
//
// The column schema is resolved either by a prepass over the sheet or
// adaptively from the leading batches, and is fixed once the first row
// group is flushed.
//
// # Quick Start
//
// List the sheets of a workbook, then convert one of them:
//
//	sheetpipe sheets report.xlsx
//	sheetpipe convert report.xlsx report.parquet --sheet-name Data --skip-rows 2 --header
//
// Settings may also come from a YAML file (--config) or SHEETPIPE_*
// environment variables:
//
//	batch_size: 5000
//	schema_mode: prepass
//	compression: zstd
//	compression_level: 6
//
// # Key Packages
//
//	pkg/source           - Format detection, sheet selection and row skipping
//	pkg/source/xlsx      - Streaming SpreadsheetML reader
//	pkg/source/xlsb      - Streaming binary workbook reader
//	pkg/cell             - Cell values and rows
//	pkg/schema           - Column type lattice and schema resolution
//	pkg/columnar         - Typed column sets, coercion and statistics
//	pkg/formats/parquet  - Atomic Parquet writer built on Arrow
//	pkg/compression      - Codec names and level mapping
//	pkg/config           - Run configuration and YAML loading
//	pkg/errors           - Typed errors with structured details
//	pkg/logger           - Global zap logger
//	pkg/metrics          - Prometheus conversion metrics
//	pkg/observability    - OpenTelemetry tracing
//	pkg/pool             - Row slice pooling
//	internal/pipeline    - Batching, reordering and the conversion driver
//	cmd/sheetpipe        - Command line interface
package sheetpipe
