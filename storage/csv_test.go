package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seo-metrics-etl/models"
)

const goldenCSV = "testdata/records.csv"

func readGolden(t *testing.T) []*models.SourceRow {
	t.Helper()
	rows, err := ReadCSV(goldenCSV)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	return rows
}

func TestReadCSVCastsCells(t *testing.T) {
	rows := readGolden(t)

	ahrefs := rows[0]
	assert.Equal(t, "ahrefs.com", ahrefs.Domain)
	assert.Equal(t, int64(280), *ahrefs.GlobalRank)
	assert.Equal(t, int64(121_000_000), *ahrefs.TotalVisits)
	assert.Equal(t, 0.4523, *ahrefs.BounceRateRaw)
	assert.Equal(t, int64(635), *ahrefs.AvgVisitDurationRaw)

	serpstat := rows[3]
	assert.Equal(t, "serpstat.com", serpstat.Domain)
	assert.Nil(t, serpstat.LastMonthChange)
	assert.Nil(t, serpstat.RankHistoryRaw)
	require.NotNil(t, serpstat.AgeDistributionRaw)
	assert.Equal(t, "{}", *serpstat.AgeDistributionRaw)
}

func TestCSVWriterIsByteIdentical(t *testing.T) {
	golden, err := os.ReadFile(goldenCSV)
	require.NoError(t, err)
	rows := readGolden(t)

	reversed := make([]*models.SourceRow, len(rows))
	for i, r := range rows {
		reversed[len(rows)-1-i] = r
	}

	for i, input := range [][]*models.SourceRow{rows, reversed} {
		path := filepath.Join(t.TempDir(), "out", "records.csv")
		w, err := NewCSVWriter(path)
		require.NoError(t, err)
		require.NoError(t, w.Write(input))
		require.NoError(t, w.Close())

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, string(golden), string(got), "run %d", i)
	}
}

func TestWriteRecords(t *testing.T) {
	visits := models.Series{{Period: "2024-10-01", Value: nil}}
	rank := int64(12)
	path := filepath.Join(t.TempDir(), "records.csv")

	n, err := WriteRecords(path, []*models.Record{
		{Domain: "b.com", GlobalRank: &rank},
		{Domain: "a.com", VisitsHistory: visits},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(got)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(models.SourceColumns, ","), lines[0])
	assert.Equal(t, `a.com,,,,,,,"{""2024-10-01"":null}",,,`, lines[1])
	assert.Equal(t, "b.com,12,,,,,,,,,", lines[2])
}

func TestDecodeCSVErrors(t *testing.T) {
	header := strings.Join(models.SourceColumns, ",") + "\n"

	tests := []struct {
		name    string
		input   string
		line    int
		column  string
		wantErr error
	}{
		{"empty file", "", 1, "", ErrHeaderMismatch},
		{"wrong header", strings.Replace(header, "total_visits", "visits", 1), 1, "total_visits", ErrHeaderMismatch},
		{"short header", "domain,global_rank\n", 1, "", ErrHeaderMismatch},
		{"empty domain", header + ",1,,,,,,,,,\n", 2, "domain", ErrEmptyDomain},
		{"bad integer", header + "a.com,12.5,,,,,,,,,\n", 2, "global_rank", nil},
		{"bad float", header + "a.com,,,,,abc,,,,,\n", 2, "bounce_rate_raw", nil},
		{"bad json", header + "a.com,1,,,,,,[1],,,\n", 2, "visits_history_raw", ErrNotJSONObject},
		{"json null", header + "ok.com,1,,,,,,,,,\nb.com,,,,,,,,null,,\n", 3, "top_countries_raw", ErrNotJSONObject},
		{"field count", header + "a.com,1\n", 2, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCSV(strings.NewReader(tt.input), "records.csv")
			var lerr *LoadTypeError
			require.True(t, errors.As(err, &lerr), "got %v", err)
			assert.Equal(t, "records.csv", lerr.File)
			assert.Equal(t, tt.line, lerr.Line)
			assert.Equal(t, tt.column, lerr.Column)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeCSVAcceptsByteOrderMark(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("\ufeff")
	buf.WriteString(strings.Join(models.SourceColumns, ","))
	buf.WriteString("\na.com,1,,,,,,,,,\n")

	rows, err := DecodeCSV(&buf, "bom.csv")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), *rows[0].GlobalRank)
}

func TestReadCSVMissingFile(t *testing.T) {
	_, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
