package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// RawRecord holds the fields projected out of one HTML snapshot, before any
// type conversion. Missing paths are stored as nil.
type RawRecord struct {
	Source     string
	Site       string
	ScrapeDate time.Time
	Fields     map[string]any
}

// Field returns the raw value for alias, or nil when it was not extracted.
func (r *RawRecord) Field(alias string) any {
	if r == nil || r.Fields == nil {
		return nil
	}
	return r.Fields[alias]
}

// Record is the typed, normalized view of one site in one scrape.
type Record struct {
	Domain           string
	GlobalRank       *int64
	TotalVisits      *int64
	PagesPerVisit    *float64
	LastMonthChange  *float64
	BounceRate       *float64 // fraction in [0,1]
	AvgVisitDuration *int64   // whole seconds
	TopCountries     ShareMap
	AgeDistribution  ShareMap
	RankHistory      Series
	VisitsHistory    Series

	ScrapeDate time.Time
	Source     string
}

// SourceRow is one row of the interchange CSV and of the source_data table.
// JSON columns are kept as text.
type SourceRow struct {
	Domain              string
	GlobalRank          *int64
	TotalVisits         *int64
	PagesPerVisit       *float64
	LastMonthChange     *float64
	BounceRateRaw       *float64
	AvgVisitDurationRaw *int64
	VisitsHistoryRaw    *string
	TopCountriesRaw     *string
	AgeDistributionRaw  *string
	RankHistoryRaw      *string
}

// SourceColumns is the interchange file header, in order.
var SourceColumns = []string{
	"domain",
	"global_rank",
	"total_visits",
	"pages_per_visit",
	"last_month_change",
	"bounce_rate_raw",
	"avg_visit_duration_raw",
	"visits_history_raw",
	"top_countries_raw",
	"age_distribution_raw",
	"rank_history_raw",
}

// ToSourceRow serializes the nested fields of r into JSON text columns.
func (r *Record) ToSourceRow() (*SourceRow, error) {
	row := &SourceRow{
		Domain:              r.Domain,
		GlobalRank:          r.GlobalRank,
		TotalVisits:         r.TotalVisits,
		PagesPerVisit:       r.PagesPerVisit,
		LastMonthChange:     r.LastMonthChange,
		BounceRateRaw:       r.BounceRate,
		AvgVisitDurationRaw: r.AvgVisitDuration,
	}

	var err error
	if row.VisitsHistoryRaw, err = marshalOptional(r.VisitsHistory != nil, r.VisitsHistory); err != nil {
		return nil, fmt.Errorf("visits_history: %w", err)
	}
	if row.TopCountriesRaw, err = marshalOptional(r.TopCountries != nil, r.TopCountries); err != nil {
		return nil, fmt.Errorf("top_countries: %w", err)
	}
	if row.AgeDistributionRaw, err = marshalOptional(r.AgeDistribution != nil, r.AgeDistribution); err != nil {
		return nil, fmt.Errorf("age_distribution: %w", err)
	}
	if row.RankHistoryRaw, err = marshalOptional(r.RankHistory != nil, r.RankHistory); err != nil {
		return nil, fmt.Errorf("rank_history: %w", err)
	}
	return row, nil
}

func marshalOptional(present bool, v any) (*string, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// ToRecord decodes the JSON columns of r back into a typed Record.
func (r *SourceRow) ToRecord() (*Record, error) {
	rec := &Record{
		Domain:           r.Domain,
		GlobalRank:       r.GlobalRank,
		TotalVisits:      r.TotalVisits,
		PagesPerVisit:    r.PagesPerVisit,
		LastMonthChange:  r.LastMonthChange,
		BounceRate:       r.BounceRateRaw,
		AvgVisitDuration: r.AvgVisitDurationRaw,
	}

	var err error
	if rec.VisitsHistory, err = r.VisitsHistory(); err != nil {
		return nil, fmt.Errorf("visits_history: %w", err)
	}
	if rec.RankHistory, err = r.RankHistory(); err != nil {
		return nil, fmt.Errorf("rank_history: %w", err)
	}
	if rec.TopCountries, err = decodeShares(r.TopCountriesRaw); err != nil {
		return nil, fmt.Errorf("top_countries: %w", err)
	}
	if rec.AgeDistribution, err = decodeShares(r.AgeDistributionRaw); err != nil {
		return nil, fmt.Errorf("age_distribution: %w", err)
	}
	return rec, nil
}

// VisitsHistory decodes the visits_history_raw column.
func (r *SourceRow) VisitsHistory() (Series, error) {
	return decodeSeries(r.VisitsHistoryRaw)
}

// RankHistory decodes the rank_history_raw column.
func (r *SourceRow) RankHistory() (Series, error) {
	return decodeSeries(r.RankHistoryRaw)
}

func decodeSeries(raw *string) (Series, error) {
	if raw == nil {
		return nil, nil
	}
	var s Series
	if err := json.Unmarshal([]byte(*raw), &s); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeShares(raw *string) (ShareMap, error) {
	if raw == nil {
		return nil, nil
	}
	var m ShareMap
	if err := json.Unmarshal([]byte(*raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Share is one labelled percentage of a distribution.
type Share struct {
	Label   string
	Percent float64
}

// ShareMap is an insertion-ordered label -> percent mapping. It serializes as
// a JSON object.
type ShareMap []Share

// Set stores percent under label. An existing label keeps its position and
// takes the new value.
func (m ShareMap) Set(label string, percent float64) ShareMap {
	for i := range m {
		if m[i].Label == label {
			m[i].Percent = percent
			return m
		}
	}
	return append(m, Share{Label: label, Percent: percent})
}

// Get returns the percent stored under label.
func (m ShareMap) Get(label string) (float64, bool) {
	for _, s := range m {
		if s.Label == label {
			return s.Percent, true
		}
	}
	return 0, false
}

func (m ShareMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(s.Label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.Percent)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of label -> number, keeping key order.
func (m *ShareMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("shares: expected object, got %v", tok)
	}

	out := ShareMap{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var pct float64
		if err := dec.Decode(&pct); err != nil {
			return fmt.Errorf("shares: label %q: %w", key, err)
		}
		out = out.Set(key, pct)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*m = out
	return nil
}

// Point is one observation of a time series. A nil Value is a period that was
// reported without a number.
type Point struct {
	Period string
	Value  *int64
}

// Series is a time series ordered by period. Periods are ISO dates or month
// labels, so lexical order is chronological.
type Series []Point

// Sort orders the series by period.
func (s Series) Sort() {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Period < s[j].Period })
}

// Observed returns the points that carry a value.
func (s Series) Observed() Series {
	out := make(Series, 0, len(s))
	for _, p := range s {
		if p.Value != nil {
			out = append(out, p)
		}
	}
	return out
}

func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Period)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if p.Value == nil {
			buf.WriteString("null")
		} else {
			fmt.Fprintf(&buf, "%d", *p.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of period -> integer (or null) and sorts
// the result by period.
func (s *Series) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("series: expected object, got %v", tok)
	}

	out := Series{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var n *json.Number
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("series: period %q: %w", key, err)
		}
		p := Point{Period: key}
		if n != nil {
			v, err := n.Int64()
			if err != nil {
				return fmt.Errorf("series: period %q: %w", key, err)
			}
			p.Value = &v
		}
		out = append(out, p)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	out.Sort()
	*s = out
	return nil
}
