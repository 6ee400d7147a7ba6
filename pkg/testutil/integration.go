package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConversionSuite provides a context and a scratch directory to
// end-to-end conversion tests.
type ConversionSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *ConversionSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "sheetpipe-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir
}

// TearDownSuite runs after all tests in the suite
func (s *ConversionSuite) TearDownSuite() {
	s.cancel()
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
	s.T().Logf("conversion suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *ConversionSuite) Context() context.Context {
	return s.ctx
}

// OutputPath returns a fresh path in its own directory for one conversion.
func (s *ConversionSuite) OutputPath(name string) string {
	dir, err := os.MkdirTemp(s.tempDir, "out-*")
	require.NoError(s.T(), err)
	return filepath.Join(dir, name)
}

// AssertDirEmpty fails unless dir holds no entries, which is how a failed
// conversion must leave its output directory.
func (s *ConversionSuite) AssertDirEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	require.NoError(s.T(), err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	s.Empty(names, "output directory should be empty")
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// GenerateRows builds n rows of width columns with cell(r, c) supplying
// each value, in the form WriteWorkbook accepts.
func GenerateRows(n, width int, cell func(r, c int) interface{}) [][]interface{} {
	rows := make([][]interface{}, n)
	for r := range rows {
		row := make([]interface{}, width)
		for c := range row {
			row[c] = cell(r, c)
		}
		rows[r] = row
	}
	return rows
}

// PerformanceTest logs the throughput and memory of a conversion and checks
// them against optional targets.
type PerformanceTest struct {
	t         *testing.T
	name      string
	threshold struct {
		minThroughput float64 // rows/sec
		maxMemory     int64   // bytes
	}
}

// NewPerformanceTest creates a new performance test
func NewPerformanceTest(t *testing.T, name string) *PerformanceTest {
	return &PerformanceTest{
		t:    t,
		name: name,
	}
}

// WithThroughputTarget sets minimum throughput requirement
func (p *PerformanceTest) WithThroughputTarget(rowsPerSec float64) *PerformanceTest {
	p.threshold.minThroughput = rowsPerSec
	return p
}

// WithMemoryTarget sets maximum heap growth
func (p *PerformanceTest) WithMemoryTarget(maxBytes int64) *PerformanceTest {
	p.threshold.maxMemory = maxBytes
	return p
}

// Run executes fn, which returns the rows it converted.
func (p *PerformanceTest) Run(fn func() int64) {
	p.t.Helper()

	initial := CaptureMemoryProfile()
	start := time.Now()
	rows := fn()
	duration := time.Since(start)
	final := CaptureMemoryProfile()

	throughput := float64(rows) / duration.Seconds()
	memoryUsed := int64(final.HeapAlloc) - int64(initial.HeapAlloc)

	p.t.Logf("Performance Test: %s", p.name)
	p.t.Logf("  Rows: %d", rows)
	p.t.Logf("  Duration: %v", duration)
	p.t.Logf("  Throughput: %.0f rows/sec", throughput)
	p.t.Logf("  Heap Growth: %s", formatBytes(memoryUsed))

	if p.threshold.minThroughput > 0 && throughput < p.threshold.minThroughput {
		p.t.Errorf("Throughput %.0f rows/sec below target %.0f rows/sec",
			throughput, p.threshold.minThroughput)
	}
	if p.threshold.maxMemory > 0 && memoryUsed > p.threshold.maxMemory {
		p.t.Errorf("Heap growth %s exceeds target %s",
			formatBytes(memoryUsed), formatBytes(p.threshold.maxMemory))
	}
}

// MemoryProfile captures memory statistics
type MemoryProfile struct {
	HeapAlloc  uint64
	TotalAlloc uint64
	Sys        uint64
	NumGC      uint32
}

// CaptureMemoryProfile captures the current memory profile after a GC
func CaptureMemoryProfile() *MemoryProfile {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryProfile{
		HeapAlloc:  m.HeapAlloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// formatBytes formats bytes into human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "-" + formatBytes(-bytes)
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
