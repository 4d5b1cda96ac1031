// Package sqlite registers the "sqlite" checkpoint store backed by the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"logpipe/checkpoint"
	"logpipe/checkpoint/sqlstore"
)

// Open opens (creating when needed) the database file at path.
func Open(ctx context.Context, path, pipeline, topic string) (*sqlstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single writer avoids SQLITE_BUSY between concurrent savers
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA synchronous=FULL`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s, err := sqlstore.New(ctx, db, sqlstore.SQLite, pipeline, topic)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func init() {
	checkpoint.Register("sqlite", func(c checkpoint.Config) (checkpoint.Store, error) {
		path := c.Path
		if path == "" {
			path = filepath.Join("checkpoints", "logpipe.db")
		}
		return Open(context.Background(), path, c.Pipeline, c.Topic)
	})
}
