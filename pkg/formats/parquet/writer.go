// Package parquet writes typed column batches to a Parquet file in row
// groups.
//
// Output goes to a temporary sibling of the destination and is renamed into
// place only by a successful Close, so a failed or canceled run never
// leaves a partial file at the destination path. The file schema is fixed
// when the first row group is flushed: at that point the shared resolver is
// committed and every later batch is conformed to it.
package parquet

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sheetpipe/pkg/columnar"
	"github.com/ajitpratap0/sheetpipe/pkg/compression"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/observability"
	"github.com/ajitpratap0/sheetpipe/pkg/schema"
)

// Metadata keys written to the file footer.
const (
	MetaSource     = "sheetpipe.source"
	MetaSheet      = "sheetpipe.sheet"
	MetaRows       = "sheetpipe.rows"
	MetaSchemaMode = "sheetpipe.schema_mode"
)

// DefaultRowGroupSize is used when Options.RowGroupSize is not positive.
const DefaultRowGroupSize = 50000

// Options configure a Writer.
type Options struct {
	// RowGroupSize is the minimum number of rows per row group. Batches are
	// never split, so a group holds whole batches and only the last group
	// may be smaller.
	RowGroupSize int
	Compression  *compression.Config
	// Titles name the columns; missing or empty titles get default names.
	Titles []string
	// Source, Sheet and SchemaMode are recorded in the footer metadata.
	Source     string
	Sheet      string
	SchemaMode string
	// OnFlush, when set, is called after each row group is written.
	OnFlush func(rows int, took time.Duration)
	Logger  *zap.Logger
}

// Writer accumulates column sets and writes them as row groups. It is not
// safe for concurrent use; the pipeline drives it from one goroutine.
type Writer struct {
	dest     string
	tmpPath  string
	file     *os.File
	buf      *bufio.Writer
	counter  *countingWriter
	resolver *schema.Resolver
	opts     Options
	logger   *zap.Logger
	mem      memory.Allocator

	fw     *pqarrow.FileWriter
	sc     *arrow.Schema
	schema schema.Schema
	names  []string

	pending     []*columnar.ColumnSet
	pendingRows int
	rows        int64
	rowGroups   int
	stats       []columnar.Stats
	closed      bool
}

// Create opens a temporary file next to dest. Nothing appears at dest
// until Close succeeds.
func Create(dest string, resolver *schema.Resolver, opts Options) (*Writer, error) {
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = DefaultRowGroupSize
	}
	if opts.Compression == nil {
		opts.Compression = compression.DefaultConfig()
	}
	if _, _, err := opts.Compression.Codec(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	f, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return nil, errors.IOError(err, dest, "create temporary output")
	}
	buf := bufio.NewWriterSize(f, 1<<20)
	w := &Writer{
		dest:     dest,
		tmpPath:  f.Name(),
		file:     f,
		buf:      buf,
		counter:  &countingWriter{w: buf},
		resolver: resolver,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("component", "parquet_writer"), zap.String("dest", dest)),
		mem:      memory.NewGoAllocator(),
	}
	w.logger.Debug("opened temporary output", zap.String("tmp", w.tmpPath))
	return w, nil
}

// Write queues a column set, flushing a row group once enough rows are
// pending. Sets must arrive in source order.
func (w *Writer) Write(ctx context.Context, cs *columnar.ColumnSet) error {
	if w.closed {
		return errors.New(errors.ErrorTypeInternal, "write to closed parquet writer")
	}
	if cs.Rows == 0 {
		return nil
	}
	w.pending = append(w.pending, cs)
	w.pendingRows += cs.Rows
	if w.pendingRows >= w.opts.RowGroupSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes all pending rows as one row group. The first flush commits
// the resolver and fixes the file schema.
func (w *Writer) Flush(ctx context.Context) (err error) {
	if err := w.open(); err != nil {
		return err
	}
	if w.pendingRows == 0 {
		return nil
	}
	_, span := observability.StartSpan(ctx, "sheetpipe.row_group.flush",
		attribute.Int("rows", w.pendingRows),
		attribute.Int("row_group", w.rowGroups))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	for _, cs := range w.pending {
		if err := cs.Conform(w.schema); err != nil {
			return err
		}
		for i, col := range cs.Columns {
			w.stats[i].Merge(columnar.ColumnStats(col))
		}
	}

	rec, err := buildRecord(w.mem, w.sc, w.pending)
	if err != nil {
		return err
	}
	defer rec.Release()
	if err := w.fw.Write(rec); err != nil {
		return errors.IOError(err, w.dest, "write row group")
	}

	rows := w.pendingRows
	w.rows += int64(rows)
	w.rowGroups++
	w.pending = w.pending[:0]
	w.pendingRows = 0
	w.logger.Debug("row group written",
		zap.Int("rows", rows),
		zap.Int("row_group", w.rowGroups),
		zap.Duration("took", time.Since(start)))
	if w.opts.OnFlush != nil {
		w.opts.OnFlush(rows, time.Since(start))
	}
	return nil
}

// open commits the schema and creates the file writer on first use.
func (w *Writer) open() error {
	if w.fw != nil {
		return nil
	}
	w.schema = w.resolver.Commit()
	w.names = schema.ColumnNames(w.opts.Titles, w.schema.Width())[:w.schema.Width()]
	w.stats = make([]columnar.Stats, w.schema.Width())
	for i, t := range w.schema.Types {
		w.stats[i].Type = t
	}

	codec, level, err := w.opts.Compression.Codec()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression")
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithCompressionLevel(level),
		parquet.WithStats(true),
		parquet.WithDictionaryDefault(true),
		parquet.WithCreatedBy("sheetpipe"),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(w.mem),
		pqarrow.WithStoreSchema(),
	)

	w.sc = arrowSchema(w.schema, w.names, map[string]string{
		MetaSource:     w.opts.Source,
		MetaSheet:      w.opts.Sheet,
		MetaSchemaMode: w.opts.SchemaMode,
	})
	fw, err := pqarrow.NewFileWriter(w.sc, w.counter, props, arrowProps)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "create parquet writer")
	}
	w.fw = fw
	w.logger.Info("schema committed",
		zap.Int("columns", w.schema.Width()),
		zap.Stringer("compression", w.opts.Compression))
	return nil
}

// Close flushes the trailing row group, writes the footer and moves the
// file to its destination.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	if err := w.Flush(ctx); err != nil {
		w.Abort()
		return err
	}
	w.closed = true

	if err := w.fw.AppendKeyValueMetadata(MetaRows, strconv.FormatInt(w.rows, 10)); err != nil {
		w.discard()
		return errors.Wrap(err, errors.ErrorTypeInternal, "append footer metadata")
	}
	if err := w.fw.Close(); err != nil {
		w.discard()
		return errors.IOError(err, w.dest, "write parquet footer")
	}
	if err := w.buf.Flush(); err != nil {
		w.discard()
		return errors.IOError(err, w.tmpPath, "flush output")
	}
	if err := w.file.Sync(); err != nil {
		w.discard()
		return errors.IOError(err, w.tmpPath, "sync output")
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return errors.IOError(err, w.tmpPath, "close output")
	}
	if err := os.Rename(w.tmpPath, w.dest); err != nil {
		os.Remove(w.tmpPath)
		return errors.IOError(err, w.dest, "move output into place")
	}
	w.logger.Info("output written",
		zap.Int64("rows", w.rows),
		zap.Int("row_groups", w.rowGroups),
		zap.Int64("bytes", w.counter.n))
	return nil
}

// Abort drops pending rows and removes the temporary file. It is safe to
// call after Close, in which case it does nothing.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.pending = nil
	w.pendingRows = 0
	if w.fw != nil {
		// The footer of a discarded file is never read.
		_ = w.fw.Close()
	}
	w.discard()
	w.logger.Debug("output discarded", zap.String("tmp", w.tmpPath))
}

func (w *Writer) discard() {
	w.file.Close()
	os.Remove(w.tmpPath)
}

// Rows is the number of rows written to row groups so far.
func (w *Writer) Rows() int64 { return w.rows }

// RowGroups is the number of row groups written so far.
func (w *Writer) RowGroups() int { return w.rowGroups }

// Bytes is the number of bytes written to the output so far.
func (w *Writer) Bytes() int64 { return w.counter.n }

// Schema is the committed file schema; zero until the first flush.
func (w *Writer) Schema() schema.Schema { return w.schema }

// Names are the committed column names.
func (w *Writer) Names() []string { return w.names }

// Stats are the per-column statistics of the rows written so far.
func (w *Writer) Stats() []columnar.Stats { return w.stats }

// TempPath is the temporary file the output is written to.
func (w *Writer) TempPath() string { return w.tmpPath }

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
