package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sheetpipe/internal/pipeline"
	"github.com/ajitpratap0/sheetpipe/pkg/config"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/logger"
	"github.com/ajitpratap0/sheetpipe/pkg/metrics"
	"github.com/ajitpratap0/sheetpipe/pkg/observability"
)

// convertOptions are the convert flags that are not run settings.
type convertOptions struct {
	configFile    string
	summaryFormat string
	metricsAddr   string
	trace         bool
	timeout       time.Duration
}

func newConvertCommand() *cobra.Command {
	var opts convertOptions
	defaults := config.NewRunConfig()

	cmd := &cobra.Command{
		Use:   "convert <workbook> <output.parquet>",
		Short: "Convert one sheet of a workbook to Parquet",
		Long: `Convert one sheet of a workbook to a Parquet file.

Settings are read, in increasing priority, from the defaults, the YAML file
given with --config, SHEETPIPE_* environment variables and flags.

Example:
  sheetpipe convert report.xlsx report.parquet --sheet-name Data --skip-rows 2 --header`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(opts.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runConvert(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML run configuration")
	f.StringVar(&opts.summaryFormat, "summary-format", "text", "Summary output format (text, json)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while converting (e.g. :9090)")
	f.BoolVar(&opts.trace, "trace", false, "Print OpenTelemetry spans to stderr")
	f.DurationVar(&opts.timeout, "timeout", 0, "Abort the conversion after this long (0 = no limit)")

	f.String("sheet-name", "", "Name of the sheet to convert")
	f.Int("sheet-index", 0, "Zero-based index of the sheet to convert")
	f.Int("skip-rows", 0, "Leading rows to discard")
	f.Bool("header", false, "Use the first row after skipping as column names")
	f.Int("batch-size", defaults.BatchSize, "Rows per unit of parallel work")
	f.String("schema-mode", string(defaults.SchemaMode), "Schema resolution: prepass or adaptive")
	f.Int("prepass-rows", 0, "Rows scanned by the prepass (0 = whole sheet)")
	f.Int("workers", 0, "Coercion workers (0 = logical cores)")
	f.Int("queue-depth", 0, "Batches waiting for a worker (0 = 2 x workers)")
	f.Int("row-group-size", 0, "Minimum rows per row group (0 = 10 x batch size)")
	f.String("compression", defaults.Compression, "Compression codec: none, snappy, gzip, zstd, lz4, brotli")
	f.Int("compression-level", 0, "Compression level 1-9 (0 = codec default)")
	f.Int("max-warning-details", defaults.MaxWarningDetails, "Warnings listed individually in the summary")
	return cmd
}

func runConvert(ctx context.Context, out io.Writer, src, dst string, cfg *config.RunConfig, opts convertOptions) error {
	if opts.summaryFormat != "text" && opts.summaryFormat != "json" {
		return errors.Newf(errors.ErrorTypeConfig, "unknown summary format %q", opts.summaryFormat)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	ctx = context.WithValue(ctx, logger.RunIDKey, strconv.FormatInt(time.Now().UnixNano(), 36))
	log := logger.WithContext(ctx).With(zap.String("component", "sheetpipe-cli"))

	if opts.trace {
		tcfg := observability.DefaultTracingConfig()
		tcfg.ServiceVersion = version
		provider, err := observability.Init(tcfg)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize tracing")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				log.Warn("failed to flush spans", zap.Error(err))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)
	if opts.metricsAddr != "" {
		stopMetrics := serveMetrics(opts.metricsAddr, reg, log)
		defer stopMetrics()
	}

	summary, err := pipeline.Convert(ctx, src, dst, cfg, log, pipeline.WithMetrics(collector))
	if err != nil {
		return err
	}

	if opts.summaryFormat == "json" {
		data, err := summary.JSON()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode summary")
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	return summary.WriteText(out)
}

// serveMetrics serves reg on addr/metrics until the returned function is
// called.
func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
