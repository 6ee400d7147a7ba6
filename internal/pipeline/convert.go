// Package pipeline converts one worksheet into a Parquet file.
//
// # Architecture
//
// A run is three stages joined by bounded channels:
//   - Reader: a single goroutine pulls rows from the Row Source, drops the
//     skipped prefix and the header row, and groups rows into
//     sequence-numbered batches
//   - Workers: a fixed pool folds each batch into the shared schema
//     resolver and coerces it into typed columns
//   - Writer: a single goroutine releases coerced batches strictly in
//     sequence order through a ReorderBuffer and writes row groups
//
// The work queue bounds the batches waiting for a worker, and a weighted
// semaphore bounds every batch between the reader and the writer, so a
// straggling batch stalls the reader instead of growing the reorder buffer.
//
// The first fatal error in any stage cancels the run. The writer then
// discards its temporary file, so nothing is left at the destination path.
//
// # Basic Usage
//
//	cfg := config.NewRunConfig()
//	cfg.SkipRows = 2
//
//	summary, err := pipeline.Convert(ctx, "report.xlsx", "report.parquet", cfg, logger)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(summary.RowsWritten)
package pipeline

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/sheetpipe/pkg/columnar"
	"github.com/ajitpratap0/sheetpipe/pkg/config"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/formats/parquet"
	"github.com/ajitpratap0/sheetpipe/pkg/metrics"
	"github.com/ajitpratap0/sheetpipe/pkg/observability"
	"github.com/ajitpratap0/sheetpipe/pkg/pool"
	"github.com/ajitpratap0/sheetpipe/pkg/schema"
	"github.com/ajitpratap0/sheetpipe/pkg/source"
)

// Option customises a conversion.
type Option func(*converter)

// WithMetrics records the run in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(cv *converter) { cv.metrics = c }
}

type converter struct {
	src, dst   string
	cfg        *config.RunConfig
	logger     *zap.Logger
	metrics    *metrics.Collector
	throughput *metrics.ThroughputTracker
	started    time.Time

	// Owned by the writer goroutine until the run ends.
	warnings WarningSummary
}

// Convert streams the configured sheet of the workbook at src into a
// Parquet file at dst and reports what was written.
//
// Configuration errors, a missing sheet and an unsupported container are
// reported before any output file is created. A nil cfg converts the first
// sheet with the defaults of config.NewRunConfig.
func Convert(ctx context.Context, src, dst string, cfg *config.RunConfig, logger *zap.Logger, opts ...Option) (*Summary, error) {
	if cfg == nil {
		cfg = config.NewRunConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &converter{
		src:     src,
		dst:     dst,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "pipeline"), zap.String("source", src)),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.throughput = metrics.NewThroughputTracker(c.metrics)

	ctx, span := observability.StartSpan(ctx, "sheetpipe.convert",
		attribute.String("source", src),
		attribute.String("output", dst),
		attribute.String("schema_mode", string(cfg.SchemaMode)))
	summary, err := c.run(ctx)
	if err != nil {
		err = canceled(ctx, err)
	}
	observability.EndSpan(span, err)
	c.metrics.Done(outcome(err), time.Since(c.started))

	if err != nil {
		c.logger.Error("conversion failed", zap.Error(err), zap.String("error_type", string(errors.TypeOf(err))))
		return nil, err
	}
	c.logger.Info("conversion completed",
		zap.Int64("rows_written", summary.RowsWritten),
		zap.Int("row_groups", summary.RowGroups),
		zap.Int("warnings", summary.Warnings.Total),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (c *converter) run(ctx context.Context) (*Summary, error) {
	rs, err := source.Open(c.src, c.cfg.Selector())
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	rows := source.Skip(rs, c.cfg.SkipRows)
	var titles []string
	if c.cfg.Header {
		if titles, err = source.ReadHeader(ctx, rows); err != nil {
			return nil, err
		}
	}

	resolver := schema.NewResolver()
	resolver.Reserve(len(titles))
	prepassRows := 0
	if c.cfg.SchemaMode == config.SchemaModePrepass {
		if prepassRows, err = c.prepass(ctx, resolver); err != nil {
			return nil, err
		}
	}

	codec, err := c.cfg.CompressionConfig()
	if err != nil {
		return nil, err
	}
	w, err := parquet.Create(c.dst, resolver, parquet.Options{
		RowGroupSize: c.cfg.GetRowGroupSize(),
		Compression:  codec,
		Titles:       titles,
		Source:       c.src,
		Sheet:        rs.SheetName(),
		SchemaMode:   string(c.cfg.SchemaMode),
		OnFlush:      c.flushed,
		Logger:       c.logger,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("converting sheet",
		zap.String("sheet", rs.SheetName()),
		zap.String("output", c.dst),
		zap.Int("workers", c.cfg.GetWorkers()),
		zap.Int("batch_size", c.cfg.BatchSize),
		zap.Int("row_group_size", c.cfg.GetRowGroupSize()),
		zap.Stringer("compression", codec))

	batcher := NewBatcher(rows, c.cfg.BatchSize)
	if err := c.stream(ctx, batcher, resolver, w); err != nil {
		w.Abort()
		return nil, err
	}
	if err := w.Close(ctx); err != nil {
		return nil, err
	}

	skipped := int64(rows.Skipped())
	c.metrics.RowsSkipped(rows.Skipped())
	summary := &Summary{
		Source:      c.src,
		Sheet:       rs.SheetName(),
		Output:      c.dst,
		SchemaMode:  c.cfg.SchemaMode,
		RowsRead:    skipped + int64(batcher.Rows()),
		RowsSkipped: skipped,
		HeaderRow:   titles != nil,
		RowsWritten: w.Rows(),
		PrepassRows: prepassRows,
		Batches:     batcher.Batches(),
		RowGroups:   w.RowGroups(),
		Warnings:    c.warnings,
		Duration:    time.Since(c.started),
		OutputBytes: w.Bytes(),
		RSSBytes:    residentBytes(),
	}
	if summary.HeaderRow {
		summary.RowsRead++
	}
	c.metrics.RowsRead(int(summary.RowsRead) - batcher.Rows())
	for i, st := range w.Stats() {
		summary.Columns = append(summary.Columns, ColumnSummary{
			Name:  w.Names()[i],
			Type:  st.Type.String(),
			Stats: st.JSON(),
		})
	}
	return summary, nil
}

// prepass fixes the schema from a separate scan of the sheet.
func (c *converter) prepass(ctx context.Context, resolver *schema.Resolver) (n int, err error) {
	ctx, span := observability.StartSpan(ctx, "sheetpipe.prepass",
		attribute.Int("limit", c.cfg.PrepassRows))
	defer func() { observability.EndSpan(span, err) }()

	rs, err := source.Open(c.src, c.cfg.Selector())
	if err != nil {
		return 0, err
	}
	defer rs.Close()

	rows := source.Skip(rs, c.cfg.SkipRows)
	if c.cfg.Header {
		if _, err := source.ReadHeader(ctx, rows); err != nil {
			return 0, err
		}
	}
	start := time.Now()
	n, err = schema.Prepass(ctx, resolver, rows, c.cfg.PrepassRows)
	if err != nil {
		return n, err
	}
	s := resolver.Snapshot()
	types := make([]string, s.Width())
	for i, t := range s.Types {
		types[i] = t.String()
	}
	c.logger.Info("prepass completed",
		zap.Int("rows", n),
		zap.Strings("types", types),
		zap.Duration("took", time.Since(start)))
	return n, nil
}

// stream runs the reader, the workers and the writer until the batcher is
// exhausted or a stage fails.
func (c *converter) stream(ctx context.Context, batcher *Batcher, resolver *schema.Resolver, w *parquet.Writer) error {
	workers := c.cfg.GetWorkers()
	depth := c.cfg.GetQueueDepth()
	strict := c.cfg.SchemaMode == config.SchemaModePrepass

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan *Batch, depth)
	results := make(chan *Result, workers)
	inflight := semaphore.NewWeighted(int64(depth + 2*workers))

	g.Go(func() error {
		defer close(work)
		return c.read(gctx, batcher, inflight, work)
	})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return c.coerce(gctx, resolver, strict, work, results)
		})
	}
	g.Go(func() error {
		wg.Wait()
		close(results)
		return nil
	})

	g.Go(func() error {
		return c.write(gctx, w, inflight, results)
	})

	return g.Wait()
}

func (c *converter) read(ctx context.Context, batcher *Batcher, inflight *semaphore.Weighted, work chan<- *Batch) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := inflight.Acquire(ctx, 1); err != nil {
			return err
		}
		b, err := batcher.Next(ctx)
		if err == io.EOF {
			inflight.Release(1)
			return nil
		}
		if err != nil {
			inflight.Release(1)
			return err
		}
		c.metrics.RowsRead(len(b.Rows))

		select {
		case work <- b:
			c.metrics.QueueDepth(len(work))
		case <-ctx.Done():
			pool.PutRows(b.Rows)
			return ctx.Err()
		}
	}
}

func (c *converter) coerce(ctx context.Context, resolver *schema.Resolver, strict bool, work <-chan *Batch, results chan<- *Result) error {
	for b := range work {
		if err := ctx.Err(); err != nil {
			return err
		}
		timer := metrics.NewTimer()
		s := resolver.Merge(schema.Fold(b.Rows))
		cs, err := columnar.Coerce(b.Rows, s, columnar.Options{Strict: strict, FirstRow: b.FirstRow})
		pool.PutRows(b.Rows)
		if err != nil {
			return err
		}
		c.metrics.BatchCoerced(timer.Stop())

		select {
		case results <- &Result{Seq: b.Seq, Columns: cs}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *converter) write(ctx context.Context, w *parquet.Writer, inflight *semaphore.Weighted, results <-chan *Result) error {
	reorder := NewReorderBuffer()
	for r := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := reorder.Push(r); err != nil {
			return err
		}
		for _, ready := range reorder.PopReady() {
			for _, warn := range ready.Columns.Warnings {
				c.warnings.add(warn, c.cfg.MaxWarningDetails)
				c.metrics.Warning(string(warn.Kind))
			}
			rows := ready.Columns.Rows
			if err := w.Write(ctx, ready.Columns); err != nil {
				return err
			}
			c.throughput.Increment(int64(rows))
			inflight.Release(1)
		}
		c.metrics.ReorderPending(reorder.Len())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if reorder.Len() > 0 {
		return errors.Newf(errors.ErrorTypeInternal, "%d batches held back, batch %d never arrived",
			reorder.Len(), reorder.Next())
	}
	return nil
}

func (c *converter) flushed(rows int, took time.Duration) {
	c.metrics.RowGroupWritten(rows, took)
	c.logger.Debug("row group flushed",
		zap.Int("rows", rows),
		zap.Duration("took", took),
		zap.Float64("rows_per_second", c.throughput.GetAndReset()))
}

// canceled reports a run stopped by its caller's context as a canceled
// error.
func canceled(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.IsType(err, errors.ErrorTypeCanceled) {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeCanceled, "conversion canceled")
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.IsType(err, errors.ErrorTypeCanceled):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailure
	}
}

func residentBytes() uint64 {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return 0
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0
	}
	return mem.RSS
}
