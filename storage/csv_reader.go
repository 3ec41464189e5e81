package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"seo-metrics-etl/models"
)

var (
	ErrHeaderMismatch = errors.New("header does not match expected columns")
	ErrEmptyDomain    = errors.New("domain is empty")
	ErrNotJSONObject  = errors.New("not a JSON object")
)

// LoadTypeError reports a CSV cell that could not be cast to its column
// type. Any such error fails the whole load.
type LoadTypeError struct {
	File   string
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *LoadTypeError) Error() string {
	return fmt.Sprintf("%s:%d: column %s: %q: %v", e.File, e.Line, e.Column, e.Value, e.Err)
}

func (e *LoadTypeError) Unwrap() error { return e.Err }

// ReadCSV reads and validates the interchange file written by CSVWriter.
func ReadCSV(path string) ([]*models.SourceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", path, err)
	}
	defer f.Close()

	return DecodeCSV(f, path)
}

// DecodeCSV reads interchange rows from r. name is used in error positions.
func DecodeCSV(r io.Reader, name string) ([]*models.SourceRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &LoadTypeError{File: name, Line: 1, Err: ErrHeaderMismatch}
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	if herr := checkHeader(header); herr != nil {
		herr.File = name
		return nil, herr
	}

	var rows []*models.SourceRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read %s: %w", name, err)
		}
		line, _ := reader.FieldPos(0)

		if len(record) != len(models.SourceColumns) {
			return nil, &LoadTypeError{
				File: name, Line: line,
				Err: fmt.Errorf("expected %d fields, got %d", len(models.SourceColumns), len(record)),
			}
		}

		row, lerr := decodeRow(record)
		if lerr != nil {
			lerr.File = name
			lerr.Line = line
			return nil, lerr
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func checkHeader(header []string) *LoadTypeError {
	if len(header) != len(models.SourceColumns) {
		return &LoadTypeError{Line: 1, Value: strings.Join(header, ","), Err: ErrHeaderMismatch}
	}
	for i, col := range models.SourceColumns {
		got := strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
		if got != col {
			return &LoadTypeError{Line: 1, Column: col, Value: header[i], Err: ErrHeaderMismatch}
		}
	}
	return nil
}

func decodeRow(rec []string) (*models.SourceRow, *LoadTypeError) {
	row := &models.SourceRow{Domain: strings.TrimSpace(rec[0])}
	if row.Domain == "" {
		return nil, &LoadTypeError{Column: models.SourceColumns[0], Err: ErrEmptyDomain}
	}

	var lerr *LoadTypeError
	cell := func(i int) string { return rec[i] }
	fail := func(i int, err error) {
		if lerr == nil {
			lerr = &LoadTypeError{Column: models.SourceColumns[i], Value: rec[i], Err: err}
		}
	}

	intCol := func(i int) *int64 {
		if cell(i) == "" {
			return nil
		}
		v, err := strconv.ParseInt(cell(i), 10, 64)
		if err != nil {
			fail(i, err)
			return nil
		}
		return &v
	}
	floatCol := func(i int) *float64 {
		if cell(i) == "" {
			return nil
		}
		v, err := strconv.ParseFloat(cell(i), 64)
		if err != nil {
			fail(i, err)
			return nil
		}
		return &v
	}
	jsonCol := func(i int) *string {
		if cell(i) == "" {
			return nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(cell(i)), &obj); err != nil || obj == nil {
			fail(i, ErrNotJSONObject)
			return nil
		}
		s := cell(i)
		return &s
	}

	row.GlobalRank = intCol(1)
	row.TotalVisits = intCol(2)
	row.PagesPerVisit = floatCol(3)
	row.LastMonthChange = floatCol(4)
	row.BounceRateRaw = floatCol(5)
	row.AvgVisitDurationRaw = intCol(6)
	row.VisitsHistoryRaw = jsonCol(7)
	row.TopCountriesRaw = jsonCol(8)
	row.AgeDistributionRaw = jsonCol(9)
	row.RankHistoryRaw = jsonCol(10)

	if lerr != nil {
		return nil, lerr
	}
	return row, nil
}
