// Package compression selects the column compression applied to every page
// of an output file.
//
// One algorithm and level are chosen per run and applied uniformly to all
// columns. Algorithms are named as in the rest of the configuration
// ("zstd", "snappy", ...) and mapped to the codec-specific level scale of
// the underlying implementation.
package compression

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/parquet/compress"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None writes pages uncompressed
	None Algorithm = "none"
	// Snappy represents snappy compression
	Snappy Algorithm = "snappy"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// LZ4 represents raw lz4 block compression
	LZ4 Algorithm = "lz4"
	// Brotli represents brotli compression
	Brotli Algorithm = "brotli"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio. Zero selects the codec default.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// Config is the compression applied to an output file.
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// DefaultConfig returns zstd at the default level.
func DefaultConfig() *Config {
	return &Config{Algorithm: Zstd, Level: Default}
}

// ParseAlgorithm parses a case-insensitive algorithm name. "uncompressed"
// is accepted for None.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case None, Snappy, Gzip, Zstd, LZ4, Brotli:
		return a, nil
	case "uncompressed", "":
		return None, nil
	case "lz4_raw":
		return LZ4, nil
	}
	return "", fmt.Errorf("unsupported compression algorithm %q", name)
}

// Validate checks the algorithm and level.
func (c *Config) Validate() error {
	if _, err := ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	if c.Level < 0 || c.Level > Best {
		return fmt.Errorf("compression level %d out of range 0-%d", c.Level, Best)
	}
	return nil
}

// Codec returns the parquet codec and the codec-specific level for c.
func (c *Config) Codec() (compress.Compression, int, error) {
	alg, err := ParseAlgorithm(string(c.Algorithm))
	if err != nil {
		return compress.Codecs.Uncompressed, 0, err
	}
	switch alg {
	case Snappy:
		return compress.Codecs.Snappy, compress.DefaultCompressionLevel, nil
	case Gzip:
		return compress.Codecs.Gzip, mapGzipLevel(c.Level), nil
	case Zstd:
		return compress.Codecs.Zstd, mapZstdLevel(c.Level), nil
	case LZ4:
		return compress.Codecs.Lz4Raw, compress.DefaultCompressionLevel, nil
	case Brotli:
		return compress.Codecs.Brotli, mapBrotliLevel(c.Level), nil
	}
	return compress.Codecs.Uncompressed, compress.DefaultCompressionLevel, nil
}

func (c *Config) String() string {
	if c.Level == 0 {
		return string(c.Algorithm)
	}
	return fmt.Sprintf("%s(%d)", c.Algorithm, c.Level)
}

func mapGzipLevel(level Level) int {
	switch {
	case level == 0:
		return compress.DefaultCompressionLevel
	case level <= Fastest:
		return 1
	case level <= Default:
		return 6
	case level <= Better:
		return 7
	default:
		return 9
	}
}

func mapZstdLevel(level Level) int {
	switch {
	case level == 0:
		return compress.DefaultCompressionLevel
	case level <= Fastest:
		return 1
	case level <= Default:
		return 3
	case level <= Better:
		return 7
	default:
		return 11
	}
}

func mapBrotliLevel(level Level) int {
	switch {
	case level == 0:
		return compress.DefaultCompressionLevel
	case level <= Fastest:
		return 1
	case level <= Default:
		return 6
	case level <= Better:
		return 9
	default:
		return 11
	}
}
