package similarweb

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seo-metrics-etl/config"
	"seo-metrics-etl/utils"
)

func newTestExtractor(concurrency int) *Extractor {
	return New(config.DefaultFields(), "similarweb", concurrency, utils.NewDiscardLogger())
}

func fixtureFiles(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("testdata", "similarweb*.html"))
	require.NoError(t, err)
	require.Len(t, files, 5)
	return files
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		path     string
		wantSite string
		wantDate string
		wantOK   bool
	}{
		{"data/similarweb_ahrefs.com_2024-12-15.html", "ahrefs.com", "2024-12-15", true},
		{"similarweb_my_site.io_2025-01-02.html", "my_site.io", "2025-01-02", true},
		{"similarweb_moz.com.html", "moz.com", "", false},
		{"similarweb_moz.com_latest.html", "moz.com_latest", "", false},
	}

	for _, tt := range tests {
		site, date, ok := ParseFileName(tt.path, "similarweb")
		assert.Equal(t, tt.wantSite, site, tt.path)
		assert.Equal(t, tt.wantOK, ok, tt.path)
		if tt.wantOK {
			assert.Equal(t, tt.wantDate, date.Format(dateLayout), tt.path)
		}
	}
}

func TestLookup(t *testing.T) {
	tree := map[string]any{
		"a": map[string]any{
			"b": []any{"x", map[string]any{"c": json.Number("7")}},
		},
	}

	v, ok := Lookup(tree, []string{"a", "b", "1", "c"})
	require.True(t, ok)
	assert.Equal(t, json.Number("7"), v)

	_, ok = Lookup(tree, []string{"a", "missing"})
	assert.False(t, ok)

	_, ok = Lookup(tree, []string{"a", "b", "9"})
	assert.False(t, ok)

	_, ok = Lookup(tree, []string{"a", "b", "0", "deeper"})
	assert.False(t, ok)

	v, ok = Lookup(tree, nil)
	require.True(t, ok)
	assert.Equal(t, tree, v)
}

func TestFindPayloadKeepsNumbersExact(t *testing.T) {
	html := `<html><body>
<script>var x = 1;</script>
<script>
  window.__APP_DATA__ = {"big": 12345678901234567890, "n": 3};
  doSomethingElse();
</script></body></html>`

	payload, err := FindPayload(strings.NewReader(html))
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), payload["big"])
	assert.Equal(t, json.Number("3"), payload["n"])
}

func TestFindPayloadErrors(t *testing.T) {
	_, err := FindPayload(strings.NewReader(`<html><script>var a = 1;</script></html>`))
	assert.ErrorIs(t, err, ErrPayloadNotFound)

	_, err = FindPayload(strings.NewReader(`<script>window.__APP_DATA__ = [1, 2];</script>`))
	assert.ErrorIs(t, err, ErrPayloadNotObject)

	_, err = FindPayload(strings.NewReader(`<script>if (window.__APP_DATA__) {}</script>`))
	assert.ErrorIs(t, err, ErrPayloadNotFound)
}

func TestExtractFile(t *testing.T) {
	e := newTestExtractor(1)

	rec, err := e.ExtractFile(filepath.Join("testdata", "similarweb_ahrefs.com_2024-12-15.html"))
	require.NoError(t, err)

	assert.Equal(t, "ahrefs.com", rec.Site)
	assert.Equal(t, time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC), rec.ScrapeDate)
	assert.Equal(t, "ahrefs.com", rec.Field(config.FieldDomain))
	assert.Equal(t, json.Number("280"), rec.Field(config.FieldGlobalRank))
	assert.Equal(t, "121.0M", rec.Field(config.FieldTotalVisits))
	assert.Equal(t, "00:10:35", rec.Field(config.FieldAvgVisitDuration))

	history, ok := rec.Field(config.FieldVisitsHistory).(map[string]any)
	require.True(t, ok)
	assert.Len(t, history, 3)

	countries, ok := rec.Field(config.FieldTopCountries).([]any)
	require.True(t, ok)
	assert.Len(t, countries, 3)
}

func TestExtractFileMissingPathIsNil(t *testing.T) {
	e := newTestExtractor(1)

	rec, err := e.ExtractFile(filepath.Join("testdata", "similarweb_serpstat.com_2024-12-15.html"))
	require.NoError(t, err)

	v, present := rec.Fields[config.FieldRankHistory]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Nil(t, rec.Field(config.FieldLastMonthChange))
}

func TestExtractFileWithoutDateUsesModTime(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("testdata", "similarweb_moz.com_2024-12-15.html"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "similarweb_moz.com.html")
	require.NoError(t, os.WriteFile(path, src, 0o644))
	mtime := time.Date(2024, 11, 3, 18, 30, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	rec, err := newTestExtractor(1).ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, "moz.com", rec.Site)
	assert.Equal(t, time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC), rec.ScrapeDate)
}

func TestExtractCustomRoot(t *testing.T) {
	fields := &config.FieldsConfig{
		Root:   []string{"payload"},
		Fields: []config.DataField{{Alias: "name", Path: []string{"site", "name"}}},
	}
	e := New(fields, "", 1, utils.NewDiscardLogger())

	rec, err := e.Extract(strings.NewReader(`<script>window.__APP_DATA__={"payload":{"site":{"name":"x.org"}}}</script>`), "inline")
	require.NoError(t, err)
	assert.Equal(t, "x.org", rec.Field("name"))

	_, err = e.Extract(strings.NewReader(`<script>window.__APP_DATA__={"other":{}}</script>`), "inline")
	var extractErr *ExtractionError
	require.True(t, errors.As(err, &extractErr))
	assert.Equal(t, "inline", extractErr.Source)
}

func TestExtractAllSkipsBrokenFiles(t *testing.T) {
	broken, err := filepath.Glob(filepath.Join("testdata", "broken", "*.html"))
	require.NoError(t, err)
	require.Len(t, broken, 2)

	files := append(fixtureFiles(t), broken...)
	records, failures := newTestExtractor(1).ExtractAll(context.Background(), files)

	assert.Len(t, records, 5)
	require.Len(t, failures, 2)
	for _, f := range failures {
		var extractErr *ExtractionError
		require.True(t, errors.As(f, &extractErr))
		assert.Contains(t, extractErr.Source, "broken")
	}
}

func TestExtractAllOrderIsDeterministic(t *testing.T) {
	files := fixtureFiles(t)

	sequential, failures := newTestExtractor(1).ExtractAll(context.Background(), files)
	require.Empty(t, failures)

	reversed := make([]string, len(files))
	for i, f := range files {
		reversed[len(files)-1-i] = f
	}
	concurrent, failures := newTestExtractor(4).ExtractAll(context.Background(), reversed)
	require.Empty(t, failures)

	require.Len(t, concurrent, len(sequential))
	for i := range sequential {
		assert.Equal(t, sequential[i].Site, concurrent[i].Site)
		assert.Equal(t, sequential[i].Fields, concurrent[i].Fields)
	}
	assert.Equal(t, "ahrefs.com", sequential[0].Site)
	assert.Equal(t, "similarweb.com", sequential[4].Site)
}

func TestExtractAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, failures := newTestExtractor(1).ExtractAll(ctx, fixtureFiles(t))
	assert.Empty(t, records)
	require.Len(t, failures, 5)
	assert.ErrorIs(t, failures[0], context.Canceled)
}
