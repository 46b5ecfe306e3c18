package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/syntaxdrive/ulink-sub002/internal/client/snapshot/migrations"
	"github.com/syntaxdrive/ulink-sub002/internal/filex"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded snapshot schema. goose output goes to
// log.
func RunMigrations(ctx context.Context, db *sql.DB, log logging.Logger) error {
	goose.SetLogger(logging.NewPrintfLogger(log))
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Open opens the SQLite cache database at dsn and migrates it. The parent
// directory of a plain file path is created when missing.
func Open(ctx context.Context, dsn string, log logging.Logger) (*sql.DB, error) {
	if err := filex.EnsureParentDir(dsn); err != nil {
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := RunMigrations(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
