// Package report renders the analysis as a single self-contained HTML page
// and can rasterize that page to PNG with a headless browser.
package report

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"seo-metrics-etl/charts"
	"seo-metrics-etl/models"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var page = template.Must(template.New("report.html.tmpl").Funcs(template.FuncMap{
	"percent": func(p *float64) string {
		if p == nil {
			return "–"
		}
		return fmt.Sprintf("%+.2f%%", *p)
	},
	"integer": func(v *int64) string {
		if v == nil {
			return "–"
		}
		return fmt.Sprintf("%d", *v)
	},
	"trend": func(p *float64) string {
		switch {
		case p == nil:
			return "null"
		case *p > 0:
			return "up"
		case *p < 0:
			return "down"
		default:
			return ""
		}
	},
}).ParseFS(templateFS, "templates/report.html.tmpl"))

var chartTitles = map[charts.Kind]string{
	charts.KindMoMVisits:       "Visits by Month",
	charts.KindMoMRank:         "Global Rank by Month",
	charts.KindRelativeRanking: "Combined Rank",
	charts.KindVisitGrowth:     "Visit Growth",
	charts.KindRankImprovement: "Rank Improvement",
}

type inlineChart struct {
	ID    string
	Title string
	SVG   template.HTML
}

type pageData struct {
	Report      *models.InsightReport
	Charts      []inlineChart
	GeneratedAt time.Time
}

// Build writes the HTML report for a to w. Charts without data are left out.
func Build(w io.Writer, a *models.InsightReport, generatedAt time.Time) error {
	if a == nil {
		a = &models.InsightReport{}
	}
	data := pageData{Report: a, GeneratedAt: generatedAt}

	for _, kind := range charts.Kinds {
		var buf bytes.Buffer
		err := charts.WriteSVG(&buf, kind, a)
		if errors.Is(err, charts.ErrNoData) {
			continue
		}
		if err != nil {
			return fmt.Errorf("report: chart %s: %w", kind, err)
		}
		data.Charts = append(data.Charts, inlineChart{
			ID:    string(kind),
			Title: chartTitles[kind],
			// rendered locally by go-chart, not user input
			SVG: template.HTML(buf.String()),
		})
	}

	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}
	return nil
}

// WriteFile builds the report into path, creating parent directories.
func WriteFile(path string, a *models.InsightReport, generatedAt time.Time) error {
	var buf bytes.Buffer
	if err := Build(&buf, a, generatedAt); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("report: create output dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}
