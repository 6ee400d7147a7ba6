// Package config defines the settings of one conversion run.
//
// A RunConfig starts from NewRunConfig's defaults and may be overlaid from a
// YAML file (see Load), from SHEETPIPE_* environment variables and from
// command-line flags by the CLI. Zero values of the sizing fields mean
// "derive from the machine or from other fields"; the Get* accessors apply
// those derivations.
//
// Example usage:
//
//	cfg := config.NewRunConfig()
//	cfg.SchemaMode = config.SchemaModeAdaptive
//	cfg.SkipRows = 2
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/ajitpratap0/sheetpipe/pkg/compression"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
	"github.com/ajitpratap0/sheetpipe/pkg/sheet"
)

// SchemaMode selects how column types are fixed.
type SchemaMode string

const (
	// SchemaModePrepass scans the sheet once to fix every column type before
	// any output is written. Values that later fail to fit are fatal.
	SchemaModePrepass SchemaMode = "prepass"
	// SchemaModeAdaptive resolves types while converting and fixes them at
	// the first row-group flush. Later misfits are coerced lossily and
	// reported as warnings.
	SchemaModeAdaptive SchemaMode = "adaptive"
)

// Defaults applied by NewRunConfig.
const (
	DefaultBatchSize         = 5000
	DefaultMaxWarningDetails = 100
	DefaultCompression       = "zstd"
	// RowGroupBatches is the row-group size, in batches, used when
	// RowGroupSize is zero.
	RowGroupBatches = 10
)

// RunConfig holds every setting of one conversion run.
type RunConfig struct {
	// Sheet selection. At most one of SheetName and SheetIndex may be set;
	// with neither the first sheet is converted.
	SheetName  string `yaml:"sheet_name" json:"sheet_name" mapstructure:"sheet_name"`
	SheetIndex *int   `yaml:"sheet_index" json:"sheet_index,omitempty" mapstructure:"sheet_index"`

	// SkipRows discards leading rows before the header or data.
	SkipRows int `yaml:"skip_rows" json:"skip_rows" mapstructure:"skip_rows"`
	// Header takes the first row after skipping as column names.
	Header bool `yaml:"header" json:"header" mapstructure:"header"`

	// BatchSize is the number of rows per unit of parallel work.
	BatchSize int `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	// SchemaMode is prepass or adaptive.
	SchemaMode SchemaMode `yaml:"schema_mode" json:"schema_mode" mapstructure:"schema_mode"`
	// PrepassRows bounds the prepass scan (0 = whole sheet).
	PrepassRows int `yaml:"prepass_rows" json:"prepass_rows" mapstructure:"prepass_rows"`

	// Workers is the number of coercion workers (0 = logical cores).
	Workers int `yaml:"workers" json:"workers" mapstructure:"workers"`
	// QueueDepth bounds the batches waiting for a worker (0 = 2 x workers).
	QueueDepth int `yaml:"queue_depth" json:"queue_depth" mapstructure:"queue_depth"`

	// RowGroupSize is the minimum rows per row group (0 = 10 x batch size).
	RowGroupSize int `yaml:"row_group_size" json:"row_group_size" mapstructure:"row_group_size"`
	// Compression names the page codec: none, snappy, gzip, zstd, lz4 or brotli.
	Compression string `yaml:"compression" json:"compression" mapstructure:"compression"`
	// CompressionLevel is 1-9, or 0 for the codec default.
	CompressionLevel int `yaml:"compression_level" json:"compression_level" mapstructure:"compression_level"`

	// MaxWarningDetails caps the warnings reported individually in the
	// summary; all warnings are still counted.
	MaxWarningDetails int `yaml:"max_warning_details" json:"max_warning_details" mapstructure:"max_warning_details"`
}

// NewRunConfig returns a RunConfig with defaults: first sheet, no header,
// prepass schema, zstd compression.
func NewRunConfig() *RunConfig {
	return &RunConfig{
		BatchSize:         DefaultBatchSize,
		SchemaMode:        SchemaModePrepass,
		Compression:       DefaultCompression,
		MaxWarningDetails: DefaultMaxWarningDetails,
	}
}

// Validate checks the configuration for consistency. All failures are
// config errors.
func (c *RunConfig) Validate() error {
	if c.SheetName != "" && c.SheetIndex != nil {
		return errors.New(errors.ErrorTypeConfig, "sheet_name and sheet_index are mutually exclusive")
	}
	if c.SheetIndex != nil && *c.SheetIndex < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "sheet_index cannot be negative: %d", *c.SheetIndex)
	}
	if c.SkipRows < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "skip_rows cannot be negative: %d", c.SkipRows)
	}
	if c.BatchSize <= 0 {
		return errors.Newf(errors.ErrorTypeConfig, "batch_size must be positive: %d", c.BatchSize)
	}
	switch c.SchemaMode {
	case SchemaModePrepass, SchemaModeAdaptive:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown schema_mode %q", c.SchemaMode)
	}
	if c.PrepassRows < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "prepass_rows cannot be negative: %d", c.PrepassRows)
	}
	if c.Workers < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "workers cannot be negative: %d", c.Workers)
	}
	if c.QueueDepth < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "queue_depth cannot be negative: %d", c.QueueDepth)
	}
	if c.RowGroupSize < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "row_group_size cannot be negative: %d", c.RowGroupSize)
	}
	if c.MaxWarningDetails < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "max_warning_details cannot be negative: %d", c.MaxWarningDetails)
	}
	if _, err := c.CompressionConfig(); err != nil {
		return err
	}
	return nil
}

// Selector returns the configured sheet selector.
func (c *RunConfig) Selector() sheet.Selector {
	if c.SheetName != "" {
		return sheet.Named(c.SheetName)
	}
	if c.SheetIndex != nil {
		return sheet.ByIndex(*c.SheetIndex)
	}
	return sheet.ByIndex(0)
}

// GetWorkers returns the number of workers, defaulting to the number of
// logical cores.
func (c *RunConfig) GetWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// GetQueueDepth returns the work queue capacity.
func (c *RunConfig) GetQueueDepth() int {
	if c.QueueDepth > 0 {
		return c.QueueDepth
	}
	return 2 * c.GetWorkers()
}

// GetRowGroupSize returns the minimum rows per row group.
func (c *RunConfig) GetRowGroupSize() int {
	if c.RowGroupSize > 0 {
		return c.RowGroupSize
	}
	return RowGroupBatches * c.BatchSize
}

// CompressionConfig parses the compression settings.
func (c *RunConfig) CompressionConfig() (*compression.Config, error) {
	alg, err := compression.ParseAlgorithm(c.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression")
	}
	cc := &compression.Config{Algorithm: alg, Level: compression.Level(c.CompressionLevel)}
	if err := cc.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression")
	}
	return cc, nil
}
