package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"seo-metrics-etl/config"
	"seo-metrics-etl/models"
	"seo-metrics-etl/utils"
)

var (
	// magnitudeRegexp matches "87.0B", "12.3M", "500k", "1234"
	magnitudeRegexp = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([KkMmBb])?$`)
	// durationRegexp matches a single all-digit clock segment
	durationRegexp = regexp.MustCompile(`^\d+$`)

	magnitudes = map[string]decimal.Decimal{
		"":  decimal.NewFromInt(1),
		"K": decimal.NewFromInt(1_000),
		"M": decimal.NewFromInt(1_000_000),
		"B": decimal.NewFromInt(1_000_000_000),
	}

	hundred = decimal.NewFromInt(100)
	maxInt  = decimal.NewFromInt(math.MaxInt64)
)

var (
	ErrInvalidFormat = errors.New("invalid format")
	ErrOutOfRange    = errors.New("value out of range")
	ErrUnexpected    = errors.New("unexpected value type")
)

// ParseError reports a field that could not be converted. The field is left
// null on the record; a parse failure is never turned into zero.
type ParseError struct {
	Domain string
	Field  string
	Value  any
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s for %s: %v (%v)", e.Field, e.Domain, e.Err, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NormalizeResult carries the typed records together with every field error
// met along the way.
type NormalizeResult struct {
	Records []*models.Record
	Errors  []error
	Dropped int
}

// Normalizer converts extracted raw records into typed Records.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize converts a batch. Records without a domain are dropped. When a
// domain was captured more than once, the latest scrape date is kept; captures
// from the same day keep the first in input order. The output is sorted by
// domain.
func (n *Normalizer) Normalize(raw []*models.RawRecord) *NormalizeResult {
	seen := utils.NewKeySet()
	res := &NormalizeResult{Records: make([]*models.Record, 0, len(raw))}

	latestFirst := make([]*models.RawRecord, len(raw))
	copy(latestFirst, raw)
	sort.SliceStable(latestFirst, func(i, j int) bool {
		return latestFirst[i].ScrapeDate.After(latestFirst[j].ScrapeDate)
	})

	for _, r := range latestFirst {
		rec, errs := n.NormalizeRecord(r)
		res.Errors = append(res.Errors, errs...)

		if rec.Domain == "" {
			n.logger.Warn("[normalizer] Dropping record without domain: %s", r.Source)
			res.Dropped++
			continue
		}
		if !seen.Add(rec.Domain) {
			n.logger.Warn("[normalizer] Older capture of %s skipped: %s", rec.Domain, r.Source)
			res.Dropped++
			continue
		}
		res.Records = append(res.Records, rec)
	}

	sort.Slice(res.Records, func(i, j int) bool { return res.Records[i].Domain < res.Records[j].Domain })

	n.logger.Info("[normalizer] Normalized %d → %d records (dropped %d, %d field errors)",
		len(raw), len(res.Records), res.Dropped, len(res.Errors))
	return res
}

// NormalizeRecord converts one raw record. Every field that fails to parse is
// null-filled and reported.
func (n *Normalizer) NormalizeRecord(r *models.RawRecord) (*models.Record, []error) {
	rec := &models.Record{
		Domain:     normaliseDomain(r.Field(config.FieldDomain)),
		ScrapeDate: r.ScrapeDate,
		Source:     r.Source,
	}
	if rec.Domain == "" {
		rec.Domain = normaliseDomain(r.Site)
	}

	var errs []error
	fail := func(field string, value any, err error) {
		pe := &ParseError{Domain: rec.Domain, Field: field, Value: value, Err: err}
		n.logger.Warn("[normalizer] %v", pe)
		errs = append(errs, pe)
	}

	if v := r.Field(config.FieldGlobalRank); v != nil {
		if rank, err := ParseInteger(v); err != nil {
			fail(config.FieldGlobalRank, v, err)
		} else {
			rec.GlobalRank = &rank
		}
	}
	if v := r.Field(config.FieldTotalVisits); v != nil {
		if visits, err := ParseMagnitudeValue(v); err != nil {
			fail(config.FieldTotalVisits, v, err)
		} else {
			rec.TotalVisits = &visits
		}
	}
	if v := r.Field(config.FieldPagesPerVisit); v != nil {
		if pages, err := ParseFloat(v); err != nil {
			fail(config.FieldPagesPerVisit, v, err)
		} else if pages < 0 {
			fail(config.FieldPagesPerVisit, v, ErrOutOfRange)
		} else {
			rec.PagesPerVisit = &pages
		}
	}
	if v := r.Field(config.FieldLastMonthChange); v != nil {
		if change, err := ParseFloat(v); err != nil {
			fail(config.FieldLastMonthChange, v, err)
		} else {
			rec.LastMonthChange = &change
		}
	}
	if v := r.Field(config.FieldBounceRate); v != nil {
		if rate, err := ParseFraction(v); err != nil {
			fail(config.FieldBounceRate, v, err)
		} else {
			rec.BounceRate = &rate
		}
	}
	if v := r.Field(config.FieldAvgVisitDuration); v != nil {
		if secs, err := parseDurationValue(v); err != nil {
			fail(config.FieldAvgVisitDuration, v, err)
		} else {
			rec.AvgVisitDuration = &secs
		}
	}
	if v := r.Field(config.FieldTopCountries); v != nil {
		if shares, err := ParseCountryShares(v); err != nil {
			fail(config.FieldTopCountries, v, err)
		} else {
			rec.TopCountries = shares
		}
	}
	if v := r.Field(config.FieldAgeDistribution); v != nil {
		if shares, err := ParseAgeDistribution(v); err != nil {
			fail(config.FieldAgeDistribution, v, err)
		} else {
			rec.AgeDistribution = shares
		}
	}
	if v := r.Field(config.FieldVisitsHistory); v != nil {
		if series, err := ParseSeries(v); err != nil {
			fail(config.FieldVisitsHistory, v, err)
		} else {
			rec.VisitsHistory = series
		}
	}
	if v := r.Field(config.FieldRankHistory); v != nil {
		if series, err := ParseSeries(v); err != nil {
			fail(config.FieldRankHistory, v, err)
		} else {
			rec.RankHistory = series
		}
	}

	return rec, errs
}

// ParseMagnitude converts an abbreviated count to an integer.
// Examples:
//
//	"87.0B" → 87000000000
//	"12.3M" → 12300000
//	"500K"  → 500000
//	"1234"  → 1234
//
// The suffix is case-insensitive; results are rounded half away from zero.
func ParseMagnitude(s string) (int64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	m := magnitudeRegexp.FindStringSubmatch(cleaned)
	if m == nil {
		return 0, fmt.Errorf("%w: magnitude %q", ErrInvalidFormat, s)
	}
	d, err := decimal.NewFromString(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: magnitude %q", ErrInvalidFormat, s)
	}
	return wholeInt(d.Mul(magnitudes[strings.ToUpper(m[2])]).Round(0))
}

// wholeInt converts an integral decimal, rejecting values an int64 cannot hold.
func wholeInt(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxInt) {
		return 0, fmt.Errorf("%w: %s exceeds %d", ErrOutOfRange, d, int64(math.MaxInt64))
	}
	return d.IntPart(), nil
}

// ParseMagnitudeValue accepts a magnitude string or a plain JSON number.
func ParseMagnitudeValue(v any) (int64, error) {
	if s, ok := v.(string); ok {
		return ParseMagnitude(s)
	}
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, ErrOutOfRange
	}
	return wholeInt(d.Round(0))
}

// ParseDuration converts "HH:MM:SS" to whole seconds.
func ParseDuration(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: duration %q", ErrInvalidFormat, s)
	}

	var total int64
	for i, p := range parts {
		if !durationRegexp.MatchString(p) {
			return 0, fmt.Errorf("%w: duration %q", ErrInvalidFormat, s)
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: duration %q", ErrInvalidFormat, s)
		}
		unit := []int64{3600, 60, 1}[i]
		if n > (math.MaxInt64-total)/unit {
			return 0, fmt.Errorf("%w: duration %q", ErrOutOfRange, s)
		}
		total += n * unit
	}
	return total, nil
}

func parseDurationValue(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		return ParseDuration(t)
	case json.Number:
		// already in seconds
		return ParseInteger(t)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnexpected, v)
	}
}

// Percent converts a fraction to a percentage rounded to two decimals.
func Percent(fraction float64) float64 {
	f, _ := decimal.NewFromFloat(fraction).Mul(hundred).Round(2).Float64()
	return f
}

// ParseFraction reads a share in [0,1]. Numbers are taken as fractions;
// strings may carry a trailing "%" ("38.7%" → 0.387).
func ParseFraction(v any) (float64, error) {
	var d decimal.Decimal
	if s, ok := v.(string); ok && strings.HasSuffix(strings.TrimSpace(s), "%") {
		pct, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%")))
		if err != nil {
			return 0, fmt.Errorf("%w: percentage %q", ErrInvalidFormat, s)
		}
		d = pct.Div(hundred)
	} else {
		var err error
		if d, err = toDecimal(v); err != nil {
			return 0, err
		}
	}

	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("%w: fraction %s", ErrOutOfRange, d)
	}
	f, _ := d.Float64()
	return f, nil
}

// ParseFloat reads a JSON number or numeric string. A trailing "%" divides by
// one hundred.
func ParseFloat(v any) (float64, error) {
	if s, ok := v.(string); ok && strings.HasSuffix(strings.TrimSpace(s), "%") {
		d, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%")))
		if err != nil {
			return 0, fmt.Errorf("%w: percentage %q", ErrInvalidFormat, s)
		}
		f, _ := d.Div(hundred).Float64()
		return f, nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// ParseInteger reads a non-negative whole number. Strings may use thousands
// separators and a leading "#" ("#1,234").
func ParseInteger(v any) (int64, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s is not a whole number", ErrInvalidFormat, d)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d)
	}
	return wholeInt(d)
}

// ParseCountryShares reshapes [{countryAlpha2Code, visitsShare}] into an
// ordered country → percent mapping.
func ParseCountryShares(v any) (models.ShareMap, error) {
	entries, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: countries %T", ErrUnexpected, v)
	}

	out := models.ShareMap{}
	for i, e := range entries {
		obj, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: country entry %d is %T", ErrUnexpected, i, e)
		}
		label, _ := firstOf(obj, "countryAlpha2Code", "countryCode", "country").(string)
		label = strings.ToUpper(strings.TrimSpace(label))
		if label == "" {
			return nil, fmt.Errorf("%w: country entry %d has no code", ErrInvalidFormat, i)
		}
		share, err := ParseFraction(firstOf(obj, "visitsShare", "value", "share"))
		if err != nil {
			return nil, fmt.Errorf("country %s: %w", label, err)
		}
		out = out.Set(label, Percent(share))
	}
	return out, nil
}

// ParseAgeDistribution reshapes [{minAge, maxAge, value}] into an ordered
// "min-max" → percent mapping. A bucket without maxAge is labelled "min+".
func ParseAgeDistribution(v any) (models.ShareMap, error) {
	entries, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: age distribution %T", ErrUnexpected, v)
	}

	out := models.ShareMap{}
	for i, e := range entries {
		obj, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: age entry %d is %T", ErrUnexpected, i, e)
		}
		minAge, err := ParseInteger(obj["minAge"])
		if err != nil {
			return nil, fmt.Errorf("age entry %d minAge: %w", i, err)
		}

		label := fmt.Sprintf("%d+", minAge)
		if raw, ok := obj["maxAge"]; ok && raw != nil {
			maxAge, err := ParseInteger(raw)
			if err != nil {
				return nil, fmt.Errorf("age entry %d maxAge: %w", i, err)
			}
			label = fmt.Sprintf("%d-%d", minAge, maxAge)
		}

		share, err := ParseFraction(obj["value"])
		if err != nil {
			return nil, fmt.Errorf("age %s: %w", label, err)
		}
		out = out.Set(label, Percent(share))
	}
	return out, nil
}

// ParseSeries reads a period → value object, or a list of
// {date|period, value} objects, into a Series sorted by period. Null values
// are kept as periods without a number.
func ParseSeries(v any) (models.Series, error) {
	out := models.Series{}

	switch t := v.(type) {
	case map[string]any:
		for period, raw := range t {
			p, err := seriesPoint(period, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	case []any:
		for i, e := range t {
			obj, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: series entry %d is %T", ErrUnexpected, i, e)
			}
			period, _ := firstOf(obj, "date", "period", "month").(string)
			if period == "" {
				return nil, fmt.Errorf("%w: series entry %d has no period", ErrInvalidFormat, i)
			}
			p, err := seriesPoint(period, firstOf(obj, "value", "visits", "rank"))
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	default:
		return nil, fmt.Errorf("%w: series %T", ErrUnexpected, v)
	}

	out.Sort()
	return out, nil
}

func seriesPoint(period string, raw any) (models.Point, error) {
	p := models.Point{Period: strings.TrimSpace(period)}
	if raw == nil {
		return p, nil
	}
	n, err := ParseInteger(raw)
	if err != nil {
		return p, fmt.Errorf("period %s: %w", period, err)
	}
	p.Value = &n
	return p, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: number %q", ErrInvalidFormat, t)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case string:
		s := strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), "#")
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: number %q", ErrInvalidFormat, t)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %T", ErrUnexpected, v)
	}
}

func firstOf(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func normaliseDomain(v any) string {
	s, _ := v.(string)
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimSuffix(s, "/")
}
