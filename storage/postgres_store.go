package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"seo-metrics-etl/utils"
)

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	jsonParam:   func(n int) string { return fmt.Sprintf("$%d::jsonb", n) },
}

// OpenPostgres opens a connection to PostgreSQL, waits for it to answer,
// runs the schema migration and returns a ready-to-use store.
func OpenPostgres(ctx context.Context, dsn string, retry *utils.RetryConfig) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := retry.Do(ctx, "postgres ping", func() error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return newSQLStore(ctx, db, postgresDialect)
}
