package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"seo-metrics-etl/config"
	"seo-metrics-etl/models"
	"seo-metrics-etl/utils"
)

//go:embed sql
var sqlFiles embed.FS

// Relations that Count accepts.
const (
	RelationSourceData          = "source_data"
	RelationTransformedData     = "transformed_data"
	RelationVisitsByMonth       = "visits_by_month"
	RelationRanksByMonth        = "ranks_by_month"
	RelationMonthlyVisitChanges = "monthly_visit_changes"
	RelationMonthlyRankChanges  = "monthly_rank_changes"
	RelationRelativeRanking     = "relative_ranking"
	RelationLoadRuns            = "load_runs"
)

var relations = map[string]struct{}{
	RelationSourceData:          {},
	RelationTransformedData:     {},
	RelationVisitsByMonth:       {},
	RelationRanksByMonth:        {},
	RelationMonthlyVisitChanges: {},
	RelationMonthlyRankChanges:  {},
	RelationRelativeRanking:     {},
	RelationLoadRuns:            {},
}

var ErrUnknownRelation = errors.New("unknown relation")

// QueryError names the view or table whose statement failed.
type QueryError struct {
	Relation string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Relation, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// LoadRun records one load of the interchange file.
type LoadRun struct {
	ID         string
	SourceFile string
	RowCount   int
	LoadedAt   time.Time
}

// Store is the analytical SQL store: it holds the loaded rows, defines the
// derived views and answers the analysis queries.
type Store interface {
	// Load replaces source_data with rows in a single transaction.
	Load(ctx context.Context, rows []*models.SourceRow, sourceFile string) (*LoadRun, error)
	// CreateViews (re)defines every derived view, stopping at the first failure.
	CreateViews(ctx context.Context) error
	Count(ctx context.Context, relation string) (int64, error)
	MonthlyVisitChanges(ctx context.Context) ([]models.VisitChange, error)
	MonthlyRankChanges(ctx context.Context) ([]models.RankChange, error)
	RelativeRanking(ctx context.Context) ([]models.RankingRow, error)
	LoadRuns(ctx context.Context) ([]LoadRun, error)
	Close() error
}

// Open returns the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, logger *utils.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite, "sqlite3", "":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: 2 * time.Second, Logger: logger}
		return OpenPostgres(ctx, cfg.DSN(), retry)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StoreDriver)
	}
}

// dialect holds what differs between the SQL engines.
type dialect struct {
	name string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// jsonParam wraps a placeholder so the engine parses it as JSON.
	jsonParam func(n int) string
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema, err := sqlFiles.ReadFile(path.Join("sql", s.dialect.name, "schema.sql"))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(schema))
	return err
}

func (s *SQLStore) Load(ctx context.Context, rows []*models.SourceRow, sourceFile string) (*LoadRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin load: %w", s.dialect.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM source_data"); err != nil {
		return nil, &QueryError{Relation: RelationSourceData, Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, s.insertSQL())
	if err != nil {
		return nil, &QueryError{Relation: RelationSourceData, Err: err}
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.Domain,
			nullable(r.GlobalRank),
			nullable(r.TotalVisits),
			nullable(r.PagesPerVisit),
			nullable(r.LastMonthChange),
			nullable(r.BounceRateRaw),
			nullable(r.AvgVisitDurationRaw),
			nullable(r.VisitsHistoryRaw),
			nullable(r.TopCountriesRaw),
			nullable(r.AgeDistributionRaw),
			nullable(r.RankHistoryRaw),
		); err != nil {
			return nil, &QueryError{Relation: RelationSourceData, Err: fmt.Errorf("insert %s: %w", r.Domain, err)}
		}
	}

	run := &LoadRun{
		ID:         uuid.NewString(),
		SourceFile: sourceFile,
		RowCount:   len(rows),
		LoadedAt:   time.Now().UTC(),
	}
	ph := s.dialect.placeholder
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO load_runs (run_id, source_file, row_count, loaded_at) VALUES (%s, %s, %s, %s)",
			ph(1), ph(2), ph(3), ph(4)),
		run.ID, run.SourceFile, run.RowCount, run.LoadedAt,
	); err != nil {
		return nil, &QueryError{Relation: RelationLoadRuns, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit load: %w", s.dialect.name, err)
	}
	return run, nil
}

func (s *SQLStore) insertSQL() string {
	ph, js := s.dialect.placeholder, s.dialect.jsonParam
	values := []string{ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), js(8), js(9), js(10), js(11)}
	return fmt.Sprintf("INSERT INTO source_data (%s) VALUES (%s)",
		strings.Join(models.SourceColumns, ", "), strings.Join(values, ", "))
}

func (s *SQLStore) CreateViews(ctx context.Context) error {
	dir := path.Join("sql", s.dialect.name, "views")
	entries, err := fs.ReadDir(sqlFiles, dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		name := viewName(e.Name())
		body, err := sqlFiles.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return &QueryError{Relation: name, Err: err}
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return &QueryError{Relation: name, Err: err}
		}
	}
	return nil
}

// viewName turns "04_monthly_visit_changes.sql" into "monthly_visit_changes".
func viewName(file string) string {
	name := strings.TrimSuffix(file, ".sql")
	if i := strings.Index(name, "_"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func (s *SQLStore) Count(ctx context.Context, relation string) (int64, error) {
	if _, ok := relations[relation]; !ok {
		return 0, &QueryError{Relation: relation, Err: ErrUnknownRelation}
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+relation).Scan(&n); err != nil {
		return 0, &QueryError{Relation: relation, Err: err}
	}
	return n, nil
}

func (s *SQLStore) MonthlyVisitChanges(ctx context.Context) ([]models.VisitChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, month, visits, previous_visits, visit_change, mom_growth_percent
		FROM monthly_visit_changes
		ORDER BY domain, month
	`)
	if err != nil {
		return nil, &QueryError{Relation: RelationMonthlyVisitChanges, Err: err}
	}
	defer rows.Close()

	var out []models.VisitChange
	for rows.Next() {
		var (
			c                    models.VisitChange
			visits, prev, change sql.NullInt64
			pct                  sql.NullFloat64
		)
		if err := rows.Scan(&c.Domain, &c.Month, &visits, &prev, &change, &pct); err != nil {
			return nil, &QueryError{Relation: RelationMonthlyVisitChanges, Err: err}
		}
		c.Visits, c.PreviousVisits, c.VisitChange = intPtr(visits), intPtr(prev), intPtr(change)
		c.MoMGrowthPercent = floatPtr(pct)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Relation: RelationMonthlyVisitChanges, Err: err}
	}
	return out, nil
}

func (s *SQLStore) MonthlyRankChanges(ctx context.Context) ([]models.RankChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, month, rank, previous_rank, rank_change, rank_change_percent
		FROM monthly_rank_changes
		ORDER BY domain, month
	`)
	if err != nil {
		return nil, &QueryError{Relation: RelationMonthlyRankChanges, Err: err}
	}
	defer rows.Close()

	var out []models.RankChange
	for rows.Next() {
		var (
			c                  models.RankChange
			rank, prev, change sql.NullInt64
			pct                sql.NullFloat64
		)
		if err := rows.Scan(&c.Domain, &c.Month, &rank, &prev, &change, &pct); err != nil {
			return nil, &QueryError{Relation: RelationMonthlyRankChanges, Err: err}
		}
		c.Rank, c.PreviousRank, c.RankChange = intPtr(rank), intPtr(prev), intPtr(change)
		c.RankChangePercent = floatPtr(pct)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Relation: RelationMonthlyRankChanges, Err: err}
	}
	return out, nil
}

func (s *SQLStore) RelativeRanking(ctx context.Context) ([]models.RankingRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, visit_growth_percent, rank_improvement,
		       visits_rank, rank_improvement_rank, combined_rank
		FROM relative_ranking
		ORDER BY combined_rank, domain
	`)
	if err != nil {
		return nil, &QueryError{Relation: RelationRelativeRanking, Err: err}
	}
	defer rows.Close()

	var out []models.RankingRow
	for rows.Next() {
		var (
			r      models.RankingRow
			growth sql.NullFloat64
			impr   sql.NullInt64
		)
		if err := rows.Scan(&r.Domain, &growth, &impr, &r.VisitsRank, &r.RankImprovementRank, &r.CombinedRank); err != nil {
			return nil, &QueryError{Relation: RelationRelativeRanking, Err: err}
		}
		r.VisitGrowthPercent, r.RankImprovement = floatPtr(growth), intPtr(impr)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Relation: RelationRelativeRanking, Err: err}
	}
	return out, nil
}

func (s *SQLStore) LoadRuns(ctx context.Context) ([]LoadRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source_file, row_count, loaded_at
		FROM load_runs
		ORDER BY loaded_at, run_id
	`)
	if err != nil {
		return nil, &QueryError{Relation: RelationLoadRuns, Err: err}
	}
	defer rows.Close()

	var out []LoadRun
	for rows.Next() {
		var r LoadRun
		if err := rows.Scan(&r.ID, &r.SourceFile, &r.RowCount, &r.LoadedAt); err != nil {
			return nil, &QueryError{Relation: RelationLoadRuns, Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Relation: RelationLoadRuns, Err: err}
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
