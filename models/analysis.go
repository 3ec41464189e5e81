package models

// VisitChange is one row of monthly_visit_changes.
type VisitChange struct {
	Domain           string
	Month            string
	Visits           *int64
	PreviousVisits   *int64
	VisitChange      *int64
	MoMGrowthPercent *float64
}

// RankChange is one row of monthly_rank_changes.
type RankChange struct {
	Domain            string
	Month             string
	Rank              *int64
	PreviousRank      *int64
	RankChange        *int64
	RankChangePercent *float64
}

// RankingRow is one row of relative_ranking. Lower CombinedRank is better.
type RankingRow struct {
	Domain              string
	VisitGrowthPercent  *float64
	RankImprovement     *int64
	VisitsRank          int64
	RankImprovementRank int64
	CombinedRank        int64
}

// InsightReport holds the computed analytics over one batch of records.
type InsightReport struct {
	TotalDomains  int
	VisitChanges  []VisitChange
	RankChanges   []RankChange
	Ranking       []RankingRow
	TopCountries  map[string]ShareMap
	BestOverall   *RankingRow
	FastestGrowth *RankingRow
}
