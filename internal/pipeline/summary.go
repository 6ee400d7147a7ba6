package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/sheetpipe/pkg/columnar"
	"github.com/ajitpratap0/sheetpipe/pkg/config"
)

// Summary describes a completed conversion.
type Summary struct {
	Source     string            `json:"source"`
	Sheet      string            `json:"sheet"`
	Output     string            `json:"output"`
	SchemaMode config.SchemaMode `json:"schema_mode"`
	// RowsRead counts every row pulled from the sheet, including skipped
	// rows and the header row.
	RowsRead    int64 `json:"rows_read"`
	RowsSkipped int64 `json:"rows_skipped"`
	HeaderRow   bool  `json:"header_row"`
	RowsWritten int64 `json:"rows_written"`
	// PrepassRows is the number of rows scanned to fix the schema; zero in
	// adaptive mode.
	PrepassRows int             `json:"prepass_rows"`
	Batches     int             `json:"batches"`
	RowGroups   int             `json:"row_groups"`
	Columns     []ColumnSummary `json:"columns"`
	Warnings    WarningSummary  `json:"warnings"`
	Duration    time.Duration   `json:"duration_ns"`
	OutputBytes int64           `json:"output_bytes"`
	// RSSBytes is the resident set size of the process when the run ended,
	// when the platform reports it.
	RSSBytes uint64 `json:"rss_bytes,omitempty"`
}

// ColumnSummary describes one output column.
type ColumnSummary struct {
	Name  string             `json:"name"`
	Type  string             `json:"type"`
	Stats columnar.StatsJSON `json:"stats"`
}

// WarningSummary counts warnings by kind and keeps the first few in source
// order.
type WarningSummary struct {
	Total     int                          `json:"total"`
	ByKind    map[columnar.WarningKind]int `json:"by_kind,omitempty"`
	Details   []columnar.Warning           `json:"details,omitempty"`
	Truncated bool                         `json:"truncated,omitempty"`
}

func (ws *WarningSummary) add(w columnar.Warning, maxDetails int) {
	ws.Total++
	if ws.ByKind == nil {
		ws.ByKind = make(map[columnar.WarningKind]int)
	}
	ws.ByKind[w.Kind]++
	if len(ws.Details) < maxDetails {
		ws.Details = append(ws.Details, w)
	} else {
		ws.Truncated = true
	}
}

// JSON encodes the summary as indented JSON.
func (s *Summary) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// WriteText writes a human-readable report.
func (s *Summary) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "source:       %s [%s]\n", s.Source, s.Sheet)
	fmt.Fprintf(&b, "output:       %s (%d bytes)\n", s.Output, s.OutputBytes)
	fmt.Fprintf(&b, "schema mode:  %s\n", s.SchemaMode)
	fmt.Fprintf(&b, "rows:         %d read, %d skipped, %d written\n", s.RowsRead, s.RowsSkipped, s.RowsWritten)
	fmt.Fprintf(&b, "batches:      %d in %d row groups\n", s.Batches, s.RowGroups)
	fmt.Fprintf(&b, "duration:     %s\n", s.Duration.Round(time.Millisecond))

	if len(s.Columns) > 0 {
		b.WriteString("columns:\n")
		for _, c := range s.Columns {
			fmt.Fprintf(&b, "  %-20s %-9s %d values, %d nulls", c.Name, c.Type, c.Stats.Count, c.Stats.NullCount)
			if c.Stats.Count > 0 {
				fmt.Fprintf(&b, ", min %q, max %q", c.Stats.Min, c.Stats.Max)
			}
			b.WriteByte('\n')
		}
	}

	if s.Warnings.Total > 0 {
		kinds := make([]string, 0, len(s.Warnings.ByKind))
		for k, n := range s.Warnings.ByKind {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
		sort.Strings(kinds)
		fmt.Fprintf(&b, "warnings:     %d (%s)\n", s.Warnings.Total, strings.Join(kinds, ", "))
		for _, d := range s.Warnings.Details {
			fmt.Fprintf(&b, "  %s\n", d)
		}
		if s.Warnings.Truncated {
			fmt.Fprintf(&b, "  ... %d more\n", s.Warnings.Total-len(s.Warnings.Details))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
