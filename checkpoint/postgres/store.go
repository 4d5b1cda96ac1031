// Package postgres registers the "postgres" checkpoint store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"logpipe/checkpoint"
	"logpipe/checkpoint/sqlstore"
)

// Open connects to dsn and prepares the checkpoint table.
func Open(ctx context.Context, dsn, pipeline, topic string) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s, err := sqlstore.New(ctx, db, sqlstore.Postgres, pipeline, topic)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func init() {
	checkpoint.Register("postgres", func(c checkpoint.Config) (checkpoint.Store, error) {
		if c.DSN == "" {
			return nil, fmt.Errorf("postgres checkpoint store: dsn is required")
		}
		return Open(context.Background(), c.DSN, c.Pipeline, c.Topic)
	})
}
