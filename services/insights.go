package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"seo-metrics-etl/models"
	"seo-metrics-etl/utils"
)

// InsightService computes month-over-month deltas and the composite ranking
// directly from typed records, independently of the analytical store.
type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(records []*models.Record) *models.InsightReport {
	report := &models.InsightReport{
		TopCountries: make(map[string]models.ShareMap),
	}

	if len(records) == 0 {
		return report
	}

	report.TotalDomains = len(records)

	sorted := make([]*models.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Domain < sorted[j].Domain })

	for _, r := range sorted {
		for _, d := range MonthOverMonth(r.VisitsHistory) {
			report.VisitChanges = append(report.VisitChanges, models.VisitChange{
				Domain:           r.Domain,
				Month:            d.Period,
				Visits:           d.Current,
				PreviousVisits:   d.Previous,
				VisitChange:      d.Change,
				MoMGrowthPercent: d.Percent,
			})
		}
		for _, d := range MonthOverMonth(r.RankHistory) {
			report.RankChanges = append(report.RankChanges, models.RankChange{
				Domain:            r.Domain,
				Month:             d.Period,
				Rank:              d.Current,
				PreviousRank:      d.Previous,
				RankChange:        d.Change,
				RankChangePercent: d.Percent,
			})
		}
		if len(r.TopCountries) > 0 {
			report.TopCountries[r.Domain] = r.TopCountries
		}
	}

	report.Ranking = RelativeRanking(sorted)
	Summarize(report)

	s.logger.Debug("[insights] %d domains, %d visit changes, %d rank changes",
		report.TotalDomains, len(report.VisitChanges), len(report.RankChanges))
	return report
}

// Summarize picks the best overall and the fastest growing domain out of
// report.Ranking.
func Summarize(report *models.InsightReport) {
	report.BestOverall, report.FastestGrowth = nil, nil
	if len(report.Ranking) > 0 {
		best := report.Ranking[0]
		report.BestOverall = &best
	}
	for _, row := range report.Ranking {
		if row.VisitGrowthPercent == nil {
			continue
		}
		if report.FastestGrowth == nil || *row.VisitGrowthPercent > *report.FastestGrowth.VisitGrowthPercent {
			fastest := row
			report.FastestGrowth = &fastest
		}
	}
}

// Delta is one step of a series compared with the step before it.
type Delta struct {
	Period   string
	Current  *int64
	Previous *int64
	Change   *int64
	Percent  *float64
}

// MonthOverMonth pairs every point with its predecessor in period order. The
// first point has no predecessor; a null on either side yields null deltas.
func MonthOverMonth(series models.Series) []Delta {
	if len(series) == 0 {
		return nil
	}
	ordered := make(models.Series, len(series))
	copy(ordered, series)
	ordered.Sort()

	out := make([]Delta, 0, len(ordered))
	var prev *int64
	for _, p := range ordered {
		d := Delta{Period: p.Period, Current: p.Value, Previous: prev}
		if p.Value != nil && prev != nil {
			change := *p.Value - *prev
			d.Change = &change
			d.Percent = GrowthPercent(*prev, *p.Value)
		}
		out = append(out, d)
		prev = p.Value
	}
	return out
}

// GrowthPercent returns (current-previous)/previous×100 rounded to two
// decimals, or nil when previous is zero.
func GrowthPercent(previous, current int64) *float64 {
	if previous == 0 {
		return nil
	}
	pct, _ := decimal.NewFromInt(current-previous).
		Mul(hundred).
		DivRound(decimal.NewFromInt(previous), 2).
		Float64()
	return &pct
}

// RelativeRanking ranks domains by visit growth (first to last observed
// month) and by rank improvement (first minus last observed rank), then sums
// both positions. Rows come back ordered by combined rank, then domain.
func RelativeRanking(records []*models.Record) []models.RankingRow {
	rows := make([]models.RankingRow, len(records))
	growth := make([]*float64, len(records))
	improvement := make([]*float64, len(records))

	for i, r := range records {
		rows[i].Domain = r.Domain

		if visits := r.VisitsHistory.Observed(); len(visits) > 0 {
			rows[i].VisitGrowthPercent = GrowthPercent(*visits[0].Value, *visits[len(visits)-1].Value)
		}
		if ranks := r.RankHistory.Observed(); len(ranks) > 0 {
			impr := *ranks[0].Value - *ranks[len(ranks)-1].Value
			rows[i].RankImprovement = &impr
		}

		growth[i] = rows[i].VisitGrowthPercent
		if rows[i].RankImprovement != nil {
			f := float64(*rows[i].RankImprovement)
			improvement[i] = &f
		}
	}

	visitsRank := CompetitionRank(growth)
	improvementRank := CompetitionRank(improvement)
	for i := range rows {
		rows[i].VisitsRank = visitsRank[i]
		rows[i].RankImprovementRank = improvementRank[i]
		rows[i].CombinedRank = visitsRank[i] + improvementRank[i]
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CombinedRank != rows[j].CombinedRank {
			return rows[i].CombinedRank < rows[j].CombinedRank
		}
		return rows[i].Domain < rows[j].Domain
	})
	return rows
}

// CompetitionRank assigns standard competition ranks ("1224") with higher
// values first. Nil values tie for the position after every non-nil value.
func CompetitionRank(values []*float64) []int64 {
	var nonNull int64
	for _, v := range values {
		if v != nil {
			nonNull++
		}
	}

	ranks := make([]int64, len(values))
	for i, v := range values {
		if v == nil {
			ranks[i] = nonNull + 1
			continue
		}
		rank := int64(1)
		for _, other := range values {
			if other != nil && *other > *v {
				rank++
			}
		}
		ranks[i] = rank
	}
	return ranks
}

// CompareRanking lists the domains whose ranking differs between want and
// got. An empty result means both agree.
func CompareRanking(want, got []models.RankingRow) []string {
	index := make(map[string]models.RankingRow, len(got))
	for _, r := range got {
		index[r.Domain] = r
	}

	var diffs []string
	for _, w := range want {
		g, ok := index[w.Domain]
		switch {
		case !ok:
			diffs = append(diffs, fmt.Sprintf("%s: missing", w.Domain))
		case g.VisitsRank != w.VisitsRank || g.RankImprovementRank != w.RankImprovementRank || g.CombinedRank != w.CombinedRank:
			diffs = append(diffs, fmt.Sprintf("%s: combined %d != %d (visits %d/%d, rank %d/%d)",
				w.Domain, g.CombinedRank, w.CombinedRank, g.VisitsRank, w.VisitsRank,
				g.RankImprovementRank, w.RankImprovementRank))
		}
		delete(index, w.Domain)
	}
	for domain := range index {
		diffs = append(diffs, fmt.Sprintf("%s: unexpected", domain))
	}
	sort.Strings(diffs)
	return diffs
}

func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 64)
	thin := strings.Repeat("─", 64)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 SEO TRAFFIC INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Domains analysed : \033[1m%d\033[0m\n", r.TotalDomains)
	if r.BestOverall != nil {
		fmt.Fprintf(w, "  Best overall     : \033[1;32m%s\033[0m (combined rank %d)\n",
			r.BestOverall.Domain, r.BestOverall.CombinedRank)
	}
	if r.FastestGrowth != nil {
		fmt.Fprintf(w, "  Fastest growth   : \033[1;32m%s\033[0m (%s)\n",
			r.FastestGrowth.Domain, formatPercent(r.FastestGrowth.VisitGrowthPercent))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Relative Ranking\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.Ranking) == 0 {
		fmt.Fprintf(w, "  No ranking data available\n")
	} else {
		fmt.Fprintf(w, "  \033[1m%-4s %-24s %10s %8s %6s %6s\033[0m\n", "#", "Domain", "Growth", "Rank Δ", "V", "R")
		for _, row := range r.Ranking {
			fmt.Fprintf(w, "  %-4d %-24s %10s %8s %6d %6d\n",
				row.CombinedRank, truncate(row.Domain, 24),
				formatPercent(row.VisitGrowthPercent), formatInt(row.RankImprovement),
				row.VisitsRank, row.RankImprovementRank)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Month-over-Month Visits\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.VisitChanges) == 0 {
		fmt.Fprintf(w, "  No visit history\n")
	} else {
		for _, c := range r.VisitChanges {
			fmt.Fprintf(w, "  %-24s %-10s %14s %10s\n",
				truncate(c.Domain, 24), c.Month, formatInt(c.Visits), formatPercent(c.MoMGrowthPercent))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Top Countries\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopCountries) == 0 {
		fmt.Fprintf(w, "  No geography data\n")
	} else {
		domains := make([]string, 0, len(r.TopCountries))
		for d := range r.TopCountries {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		for _, d := range domains {
			parts := make([]string, 0, len(r.TopCountries[d]))
			for _, share := range r.TopCountries[d] {
				parts = append(parts, fmt.Sprintf("%s %.2f%%", share.Label, share.Percent))
			}
			fmt.Fprintf(w, "  %-24s %s\n", truncate(d, 24), strings.Join(parts, ", "))
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func formatPercent(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", *p)
}

func formatInt(v *int64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *v)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
