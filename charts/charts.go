// Package charts renders the month-over-month and ranking analyses as PNG or
// SVG images.
package charts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wcharczuk/go-chart/v2"

	"seo-metrics-etl/models"
	"seo-metrics-etl/utils"
)

// Kind names one chart; it is also the output file name without extension.
type Kind string

const (
	KindMoMVisits       Kind = "mom_visits"
	KindMoMRank         Kind = "mom_rank"
	KindRelativeRanking Kind = "relative_ranking"
	KindVisitGrowth     Kind = "visit_growth"
	KindRankImprovement Kind = "rank_improvement"
)

// Kinds lists every chart in render order.
var Kinds = []Kind{KindMoMVisits, KindMoMRank, KindRelativeRanking, KindVisitGrowth, KindRankImprovement}

const (
	FormatPNG = "png"
	FormatSVG = "svg"

	width  = 1024
	height = 576
)

var (
	// ErrNoData means the analysis has nothing to plot for a chart.
	ErrNoData        = errors.New("no data to plot")
	ErrUnknownKind   = errors.New("unknown chart kind")
	ErrUnknownFormat = errors.New("unknown chart format")
)

var monthLayouts = []string{"2006-01-02", "2006-01", time.RFC3339}

// Chart is anything go-chart can draw.
type Chart interface {
	Render(rp chart.RendererProvider, w io.Writer) error
}

// Renderer writes chart files into one directory.
type Renderer struct {
	dir    string
	format string
	logger *utils.Logger
}

// NewRenderer validates the format and returns a Renderer writing into dir.
func NewRenderer(dir, format string, logger *utils.Logger) (*Renderer, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatPNG
	}
	if format != FormatPNG && format != FormatSVG {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return &Renderer{dir: dir, format: format, logger: logger}, nil
}

// RenderAll draws every chart that has data and returns the written paths.
// Charts without data are logged and skipped.
func (r *Renderer) RenderAll(a *models.InsightReport) ([]string, error) {
	var paths []string
	for _, kind := range Kinds {
		path, err := r.Render(kind, a)
		if err != nil {
			return paths, err
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// Render draws one chart to <dir>/<kind>.<format>. It returns an empty path
// when there is nothing to plot.
func (r *Renderer) Render(kind Kind, a *models.InsightReport) (string, error) {
	c, err := Build(kind, a)
	if errors.Is(err, ErrNoData) {
		r.logger.Warn("[charts] No data available for %s, skipping", kind)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := c.Render(provider(r.format), &buf); err != nil {
		return "", fmt.Errorf("charts: render %s: %w", kind, err)
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("charts: create output dir: %w", err)
	}
	path := filepath.Join(r.dir, string(kind)+"."+r.format)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("charts: write %s: %w", path, err)
	}

	r.logger.Info("[charts] Saved %s", path)
	return path, nil
}

// WriteSVG draws one chart as SVG into w.
func WriteSVG(w io.Writer, kind Kind, a *models.InsightReport) error {
	c, err := Build(kind, a)
	if err != nil {
		return err
	}
	return c.Render(chart.SVG, w)
}

// Build assembles the chart definition for kind.
func Build(kind Kind, a *models.InsightReport) (Chart, error) {
	if a == nil {
		return nil, ErrNoData
	}
	switch kind {
	case KindMoMVisits:
		points := make([]point, 0, len(a.VisitChanges))
		for _, c := range a.VisitChanges {
			points = append(points, point{domain: c.Domain, month: c.Month, value: c.Visits})
		}
		return lineChart("Month-over-Month Visits", "Visits", points, false)
	case KindMoMRank:
		points := make([]point, 0, len(a.RankChanges))
		for _, c := range a.RankChanges {
			points = append(points, point{domain: c.Domain, month: c.Month, value: c.Rank})
		}
		return lineChart("Month-over-Month Global Rank", "Global rank", points, true)
	case KindRelativeRanking:
		bars := make([]chart.Value, 0, len(a.Ranking))
		for _, row := range a.Ranking {
			bars = append(bars, chart.Value{Label: row.Domain, Value: float64(row.CombinedRank)})
		}
		return barChart("Relative Ranking (combined rank, lower is better)", bars)
	case KindVisitGrowth:
		var bars []chart.Value
		for _, row := range a.Ranking {
			if row.VisitGrowthPercent != nil {
				bars = append(bars, chart.Value{Label: row.Domain, Value: *row.VisitGrowthPercent})
			}
		}
		return barChart("Visit Growth (%)", bars)
	case KindRankImprovement:
		var bars []chart.Value
		for _, row := range a.Ranking {
			if row.RankImprovement != nil {
				bars = append(bars, chart.Value{Label: row.Domain, Value: float64(*row.RankImprovement)})
			}
		}
		return barChart("Global Rank Improvement", bars)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

type point struct {
	domain string
	month  string
	value  *int64
}

// lineChart draws one line per domain over month. Null observations are left
// out of the line. With descending set the y axis is flipped so that a
// better (smaller) rank sits higher.
func lineChart(title, yName string, points []point, descending bool) (Chart, error) {
	byDomain := make(map[string]*chart.TimeSeries)
	var (
		domains  []string
		months   = make(map[time.Time]struct{})
		min, max = math.Inf(1), math.Inf(-1)
	)

	for _, p := range points {
		if p.value == nil {
			continue
		}
		t, err := parseMonth(p.month)
		if err != nil {
			return nil, err
		}
		ts, ok := byDomain[p.domain]
		if !ok {
			ts = &chart.TimeSeries{Name: p.domain}
			byDomain[p.domain] = ts
			domains = append(domains, p.domain)
		}
		v := float64(*p.value)
		ts.XValues = append(ts.XValues, t)
		ts.YValues = append(ts.YValues, v)
		months[t] = struct{}{}
		min, max = math.Min(min, v), math.Max(max, v)
	}

	// a time axis needs two distinct months
	if len(months) < 2 {
		return nil, ErrNoData
	}

	sort.Strings(domains)
	series := make([]chart.Series, 0, len(domains))
	for _, d := range domains {
		series = append(series, *byDomain[d])
	}

	graph := &chart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:           "Month",
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01"),
		},
		YAxis: chart.YAxis{
			Name:  yName,
			Range: yRange(min, max, descending),
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return humanize(f)
				}
				return ""
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(graph)}
	return graph, nil
}

func barChart(title string, bars []chart.Value) (Chart, error) {
	if len(bars) == 0 {
		return nil, ErrNoData
	}

	min, max := 0.0, 0.0
	for _, b := range bars {
		min, max = math.Min(min, b.Value), math.Max(max, b.Value)
	}

	return &chart.BarChart{
		Title:  title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		BarWidth:     60,
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: chart.YAxis{
			Range: yRange(min, max, false),
		},
		Bars: bars,
	}, nil
}

// yRange pads a flat range so the axis never collapses to zero height.
func yRange(min, max float64, descending bool) *chart.ContinuousRange {
	if min == max {
		min, max = min-1, max+1
	}
	return &chart.ContinuousRange{Min: min, Max: max, Descending: descending}
}

func parseMonth(s string) (time.Time, error) {
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("charts: unrecognised month %q", s)
}

func humanize(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

func provider(format string) chart.RendererProvider {
	if format == FormatSVG {
		return chart.SVG
	}
	return chart.PNG
}
