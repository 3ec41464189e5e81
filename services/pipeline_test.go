package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seo-metrics-etl/config"
	"seo-metrics-etl/storage"
)

const (
	fixtureDir = "../scraper/similarweb/testdata"
	goldenCSV  = "../storage/testdata/records.csv"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		RawHTMLDir:     fixtureDir,
		SourcePrefix:   "similarweb",
		CSVOutputPath:  filepath.Join(dir, "transformed", "records.csv"),
		StoreDriver:    config.DriverSQLite,
		SQLitePath:     filepath.Join(dir, "db", "scraped_data.sqlite"),
		ChartOutputDir: filepath.Join(dir, "viz"),
		ChartFormat:    "png",
		ReportPath:     filepath.Join(dir, "viz", "report.html"),
		MaxConcurrency: 2,
		MaxRetries:     1,
	}
}

func newTestPipeline(cfg *config.Config) (*Pipeline, *bytes.Buffer) {
	p := NewPipeline(cfg, config.DefaultFields(), newTestLogger())
	var out bytes.Buffer
	p.SetOutput(&out)
	return p, &out
}

func TestPipelineTransformMatchesGoldenCSV(t *testing.T) {
	cfg := testConfig(t)
	p, _ := newTestPipeline(cfg)

	golden, err := os.ReadFile(goldenCSV)
	require.NoError(t, err)

	for run := 0; run < 2; run++ {
		summary := &RunSummary{}
		res, err := p.Transform(context.Background(), summary)
		require.NoError(t, err)
		assert.Len(t, res.Records, 5)
		assert.Empty(t, res.Errors)
		assert.Equal(t, 5, summary.Files)

		got, err := os.ReadFile(cfg.CSVOutputPath)
		require.NoError(t, err)
		assert.Equal(t, string(golden), string(got), "run %d", run)
	}
}

func TestPipelineRun(t *testing.T) {
	cfg := testConfig(t)
	p, out := newTestPipeline(cfg)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Files)
	assert.Equal(t, 5, summary.Extracted)
	assert.Equal(t, 5, summary.Records)
	assert.NotEmpty(t, summary.LoadRunID)
	assert.Len(t, summary.Charts, 5)
	assert.Equal(t, cfg.ReportPath, summary.ReportPath)
	assert.Empty(t, summary.SnapshotPath)

	for _, path := range append(summary.Charts, summary.ReportPath) {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}

	assert.Contains(t, out.String(), "SEO TRAFFIC INSIGHTS")
	assert.Contains(t, out.String(), "semrush.com")

	store, err := storage.OpenSQLite(context.Background(), cfg.SQLitePath)
	require.NoError(t, err)
	defer store.Close()

	ranking, err := store.RelativeRanking(context.Background())
	require.NoError(t, err)
	require.Len(t, ranking, 5)
	assert.Equal(t, "semrush.com", ranking[0].Domain)

	records, err := p.readRecords()
	require.NoError(t, err)
	assert.Empty(t, CompareRanking(RelativeRanking(records), ranking))
}

func TestPipelineAnalyzeUsesStore(t *testing.T) {
	cfg := testConfig(t)
	p, _ := newTestPipeline(cfg)
	ctx := context.Background()

	_, err := p.Transform(ctx, nil)
	require.NoError(t, err)

	store, err := storage.OpenSQLite(ctx, storage.MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = p.Load(ctx, store)
	require.NoError(t, err)

	analysis, err := p.Analyze(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 5, analysis.TotalDomains)
	assert.Len(t, analysis.VisitChanges, 15)
	assert.Len(t, analysis.RankChanges, 12)
	require.NotNil(t, analysis.BestOverall)
	assert.Equal(t, "semrush.com", analysis.BestOverall.Domain)
	assert.Contains(t, analysis.TopCountries, "serpstat.com")
}

func TestPipelineNoInput(t *testing.T) {
	cfg := testConfig(t)
	cfg.RawHTMLDir = t.TempDir()
	p, _ := newTestPipeline(cfg)

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestPipelineAllSnapshotsBroken(t *testing.T) {
	cfg := testConfig(t)
	cfg.RawHTMLDir = filepath.Join(fixtureDir, "broken")
	p, _ := newTestPipeline(cfg)

	summary := &RunSummary{}
	_, err := p.Transform(context.Background(), summary)
	assert.ErrorIs(t, err, ErrNoRecords)
	assert.Equal(t, 2, summary.ExtractFailures)

	_, statErr := os.Stat(cfg.CSVOutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineLoadRejectsBadCSV(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.CSVOutputPath), 0755))
	require.NoError(t, os.WriteFile(cfg.CSVOutputPath, []byte("domain,rank\nx.com,1\n"), 0644))
	p, _ := newTestPipeline(cfg)

	store, err := storage.OpenSQLite(context.Background(), storage.MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = p.Load(context.Background(), store)
	var lerr *storage.LoadTypeError
	assert.ErrorAs(t, err, &lerr)
}
