package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field aliases produced by the extractor and consumed by the normalizer.
const (
	FieldDomain           = "domain"
	FieldGlobalRank       = "global_rank"
	FieldTotalVisits      = "total_visits"
	FieldPagesPerVisit    = "pages_per_visit"
	FieldLastMonthChange  = "last_month_change"
	FieldBounceRate       = "bounce_rate_raw"
	FieldAvgVisitDuration = "avg_visit_duration_raw"
	FieldVisitsHistory    = "visits_history_raw"
	FieldTopCountries     = "top_countries_raw"
	FieldAgeDistribution  = "age_distribution_raw"
	FieldRankHistory      = "rank_history_raw"
)

// DataField maps a nested JSON path to a flat alias.
type DataField struct {
	Alias string   `yaml:"alias"`
	Path  []string `yaml:"path"`
}

// FieldsConfig is the extraction map: every field path is resolved relative
// to Root inside the embedded payload.
type FieldsConfig struct {
	Root   []string    `yaml:"root"`
	Fields []DataField `yaml:"fields"`
}

// DefaultRoot is where the page keeps its analytics payload.
var DefaultRoot = []string{"layout", "data"}

// DefaultFields returns the built-in extraction map.
func DefaultFields() *FieldsConfig {
	return &FieldsConfig{
		Root: append([]string(nil), DefaultRoot...),
		Fields: []DataField{
			{Alias: FieldDomain, Path: []string{"domain"}},
			{Alias: FieldGlobalRank, Path: []string{"overview", "globalRank"}},
			{Alias: FieldTotalVisits, Path: []string{"traffic", "visitsTotalCount"}},
			{Alias: FieldPagesPerVisit, Path: []string{"traffic", "pagesPerVisit"}},
			{Alias: FieldLastMonthChange, Path: []string{"traffic", "lastMonthChange"}},
			{Alias: FieldBounceRate, Path: []string{"traffic", "bounceRate"}},
			{Alias: FieldAvgVisitDuration, Path: []string{"traffic", "visitsAvgDurationFormatted"}},
			{Alias: FieldVisitsHistory, Path: []string{"traffic", "history"}},
			{Alias: FieldTopCountries, Path: []string{"geography", "topCountriesTraffics"}},
			{Alias: FieldAgeDistribution, Path: []string{"demographics", "ageDistribution"}},
			{Alias: FieldRankHistory, Path: []string{"overview", "globalRankHistory"}},
		},
	}
}

// LoadFields reads an extraction map from path. An empty path yields the
// defaults. The file may be YAML or JSON, and may be either a full
// FieldsConfig document or a bare list of fields (the root then defaults to
// layout.data). Unknown keys are rejected.
func LoadFields(path string) (*FieldsConfig, error) {
	if path == "" {
		return DefaultFields(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fields config: %w", err)
	}

	cfg, err := ParseFields(data)
	if err != nil {
		return nil, fmt.Errorf("fields config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseFields decodes and validates an extraction map document.
func ParseFields(data []byte) (*FieldsConfig, error) {
	var probe yaml.Node
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if len(probe.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	cfg := &FieldsConfig{}
	if probe.Content[0].Kind == yaml.SequenceNode {
		if err := dec.Decode(&cfg.Fields); err != nil {
			return nil, fmt.Errorf("parsing: %w", err)
		}
	} else if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if cfg.Root == nil {
		cfg.Root = append([]string(nil), DefaultRoot...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every field has an alias and a path and that aliases
// are unique.
func (c *FieldsConfig) Validate() error {
	if len(c.Fields) == 0 {
		return fmt.Errorf("no fields configured")
	}
	seen := make(map[string]struct{}, len(c.Fields))
	for i, f := range c.Fields {
		if strings.TrimSpace(f.Alias) == "" {
			return fmt.Errorf("field %d: alias must not be empty", i)
		}
		if len(f.Path) == 0 {
			return fmt.Errorf("field %q: path must not be empty", f.Alias)
		}
		for _, seg := range f.Path {
			if seg == "" {
				return fmt.Errorf("field %q: path has an empty segment", f.Alias)
			}
		}
		if _, dup := seen[f.Alias]; dup {
			return fmt.Errorf("field %q: duplicate alias", f.Alias)
		}
		seen[f.Alias] = struct{}{}
	}
	return nil
}
