package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"seo-metrics-etl/models"
)

// CSVWriter writes normalized records to the interchange CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(models.SourceColumns); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{path: path, file: f, writer: w}, nil
}

// Write appends rows ordered by domain.
func (c *CSVWriter) Write(rows []*models.SourceRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted := make([]*models.SourceRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Domain < sorted[j].Domain })

	for _, r := range sorted {
		if err := c.writer.Write(EncodeRow(r)); err != nil {
			return fmt.Errorf("csv: write row %s: %w", r.Domain, err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		_ = c.file.Close()
		return fmt.Errorf("csv: flush %q: %w", c.path, err)
	}
	return c.file.Close()
}

// WriteRecords serializes records into a fresh CSV file at path and returns
// the number of rows written.
func WriteRecords(path string, records []*models.Record) (int, error) {
	rows := make([]*models.SourceRow, 0, len(records))
	for _, r := range records {
		row, err := r.ToSourceRow()
		if err != nil {
			return 0, fmt.Errorf("csv: encode %s: %w", r.Domain, err)
		}
		rows = append(rows, row)
	}

	w, err := NewCSVWriter(path)
	if err != nil {
		return 0, err
	}
	if err := w.Write(rows); err != nil {
		_ = w.Close()
		return 0, err
	}
	return len(rows), w.Close()
}

// EncodeRow renders a row in SourceColumns order. Nulls become empty cells
// and floats use the shortest representation that reads back exactly.
func EncodeRow(r *models.SourceRow) []string {
	return []string{
		r.Domain,
		formatInt(r.GlobalRank),
		formatInt(r.TotalVisits),
		formatFloat(r.PagesPerVisit),
		formatFloat(r.LastMonthChange),
		formatFloat(r.BounceRateRaw),
		formatInt(r.AvgVisitDurationRaw),
		formatString(r.VisitsHistoryRaw),
		formatString(r.TopCountriesRaw),
		formatString(r.AgeDistributionRaw),
		formatString(r.RankHistoryRaw),
	}
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
