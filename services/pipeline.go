package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"seo-metrics-etl/charts"
	"seo-metrics-etl/config"
	"seo-metrics-etl/models"
	"seo-metrics-etl/report"
	"seo-metrics-etl/scraper/similarweb"
	"seo-metrics-etl/storage"
	"seo-metrics-etl/utils"
)

var (
	ErrNoInput   = errors.New("no input snapshots found")
	ErrNoRecords = errors.New("no records survived extraction and normalization")
)

// RunSummary describes what one pipeline run produced.
type RunSummary struct {
	Files           int
	Extracted       int
	ExtractFailures int
	Records         int
	FieldErrors     int
	LoadRunID       string
	Charts          []string
	ReportPath      string
	SnapshotPath    string
}

// Pipeline runs the ETL stages: extract, transform, load, analyze, chart and
// report. Each stage can also be run on its own.
type Pipeline struct {
	cfg    *config.Config
	fields *config.FieldsConfig
	logger *utils.Logger
	out    io.Writer
}

// NewPipeline creates a Pipeline. The console report goes to stdout.
func NewPipeline(cfg *config.Config, fields *config.FieldsConfig, logger *utils.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, fields: fields, logger: logger, out: os.Stdout}
}

// SetOutput redirects the console report.
func (p *Pipeline) SetOutput(w io.Writer) { p.out = w }

// Run executes every stage in order and stops at the first fatal error.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	defer p.logger.Duration("pipeline")()

	summary := &RunSummary{}
	if _, err := p.Transform(ctx, summary); err != nil {
		return summary, err
	}

	store, err := storage.Open(ctx, p.cfg, p.logger)
	if err != nil {
		return summary, err
	}
	defer store.Close()

	run, err := p.Load(ctx, store)
	if err != nil {
		return summary, err
	}
	summary.LoadRunID = run.ID

	analysis, err := p.Analyze(ctx, store)
	if err != nil {
		return summary, err
	}

	if summary.Charts, err = p.Chart(analysis); err != nil {
		return summary, err
	}
	if summary.ReportPath, summary.SnapshotPath, err = p.Report(ctx, analysis); err != nil {
		return summary, err
	}

	p.logger.Info("[pipeline] Done: %d files, %d records, load run %s, %d charts",
		summary.Files, summary.Records, summary.LoadRunID, len(summary.Charts))
	return summary, nil
}

// Extract reads every snapshot matching the configured prefix. Files that
// cannot be extracted are logged and counted, not fatal.
func (p *Pipeline) Extract(ctx context.Context, summary *RunSummary) ([]*models.RawRecord, error) {
	defer p.logger.Duration("extract")()

	files, err := p.cfg.InputFiles()
	if err != nil {
		return nil, fmt.Errorf("list input files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s (prefix %q)", ErrNoInput, p.cfg.RawHTMLDir, p.cfg.SourcePrefix)
	}
	p.logger.Info("[pipeline] Found %d snapshots in %s", len(files), p.cfg.RawHTMLDir)

	extractor := similarweb.New(p.fields, p.cfg.SourcePrefix, p.cfg.MaxConcurrency, p.logger)
	records, failures := extractor.ExtractAll(ctx, files)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if summary != nil {
		summary.Files = len(files)
		summary.Extracted = len(records)
		summary.ExtractFailures = len(failures)
	}
	return records, nil
}

// Transform extracts, normalizes and writes the interchange CSV.
func (p *Pipeline) Transform(ctx context.Context, summary *RunSummary) (*NormalizeResult, error) {
	raw, err := p.Extract(ctx, summary)
	if err != nil {
		return nil, err
	}

	defer p.logger.Duration("transform")()

	res := NewNormalizer(p.logger).Normalize(raw)
	if summary != nil {
		summary.Records = len(res.Records)
		summary.FieldErrors = len(res.Errors)
	}
	if len(res.Records) == 0 {
		return res, ErrNoRecords
	}

	n, err := storage.WriteRecords(p.cfg.CSVOutputPath, res.Records)
	if err != nil {
		return res, err
	}
	p.logger.Info("[pipeline] Wrote %d records to %s", n, p.cfg.CSVOutputPath)
	return res, nil
}

// Load reads the interchange CSV into the store and (re)creates the views.
func (p *Pipeline) Load(ctx context.Context, store storage.Store) (*storage.LoadRun, error) {
	defer p.logger.Duration("load")()

	rows, err := storage.ReadCSV(p.cfg.CSVOutputPath)
	if err != nil {
		return nil, err
	}

	run, err := store.Load(ctx, rows, p.cfg.CSVOutputPath)
	if err != nil {
		return nil, err
	}
	if err := store.CreateViews(ctx); err != nil {
		return nil, err
	}

	for _, rel := range []string{storage.RelationSourceData, storage.RelationTransformedData, storage.RelationRelativeRanking} {
		n, err := store.Count(ctx, rel)
		if err != nil {
			return nil, err
		}
		p.logger.Info("[pipeline] %-18s %d rows", rel, n)
	}
	p.logger.Info("[pipeline] Load run %s: %d rows from %s", run.ID, run.RowCount, run.SourceFile)
	return run, nil
}

// Analyze runs Query and prints the console report.
func (p *Pipeline) Analyze(ctx context.Context, store storage.Store) (*models.InsightReport, error) {
	analysis, err := p.Query(ctx, store)
	if err != nil {
		return nil, err
	}
	NewInsightService(p.logger).Print(p.out, analysis)
	return analysis, nil
}

// Query reads the analysis views and cross-checks the ranking against one
// computed in Go from the same CSV. A disagreement is logged, not fatal.
func (p *Pipeline) Query(ctx context.Context, store storage.Store) (*models.InsightReport, error) {
	defer p.logger.Duration("analyze")()

	records, err := p.readRecords()
	if err != nil {
		return nil, err
	}
	svc := NewInsightService(p.logger)
	expected := svc.Generate(records)

	analysis := &models.InsightReport{
		TotalDomains: expected.TotalDomains,
		TopCountries: expected.TopCountries,
	}
	if analysis.VisitChanges, err = store.MonthlyVisitChanges(ctx); err != nil {
		return nil, err
	}
	if analysis.RankChanges, err = store.MonthlyRankChanges(ctx); err != nil {
		return nil, err
	}
	if analysis.Ranking, err = store.RelativeRanking(ctx); err != nil {
		return nil, err
	}
	Summarize(analysis)

	if diffs := CompareRanking(expected.Ranking, analysis.Ranking); len(diffs) > 0 {
		p.logger.Warn("[pipeline] Store ranking disagrees with computed ranking: %s", strings.Join(diffs, "; "))
	} else {
		p.logger.Debug("[pipeline] Store ranking matches computed ranking")
	}
	return analysis, nil
}

func (p *Pipeline) readRecords() ([]*models.Record, error) {
	rows, err := storage.ReadCSV(p.cfg.CSVOutputPath)
	if err != nil {
		return nil, err
	}
	records := make([]*models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.ToRecord()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", row.Domain, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Chart renders every chart with data into the chart directory.
func (p *Pipeline) Chart(analysis *models.InsightReport) ([]string, error) {
	defer p.logger.Duration("chart")()

	r, err := charts.NewRenderer(p.cfg.ChartOutputDir, p.cfg.ChartFormat, p.logger)
	if err != nil {
		return nil, err
	}
	return r.RenderAll(analysis)
}

// Report writes the HTML report and, when enabled, its PNG snapshot. A
// snapshot failure is logged and leaves the HTML in place.
func (p *Pipeline) Report(ctx context.Context, analysis *models.InsightReport) (htmlPath, pngPath string, err error) {
	defer p.logger.Duration("report")()

	htmlPath = p.cfg.ReportPath
	if err := report.WriteFile(htmlPath, analysis, time.Now()); err != nil {
		return "", "", err
	}
	p.logger.Info("[report] Saved %s", htmlPath)

	if !p.cfg.ReportSnapshot {
		return htmlPath, "", nil
	}

	retry := &utils.RetryConfig{MaxAttempts: p.cfg.MaxRetries, BaseDelay: 2 * time.Second, Logger: p.logger}
	snap := report.NewSnapshotter(p.cfg.ChromeBin, retry, p.logger)
	pngPath = strings.TrimSuffix(htmlPath, filepath.Ext(htmlPath)) + ".png"
	if err := snap.Snapshot(ctx, htmlPath, pngPath); err != nil {
		p.logger.Warn("[report] Snapshot skipped: %v", err)
		return htmlPath, "", nil
	}
	return htmlPath, pngPath, nil
}
