package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/dbx"
)

// Repository stores opaque cache payloads with the time they were fetched.
type Repository interface {
	Save(ctx context.Context, key string, payload []byte, refreshedAt time.Time) error
	Load(ctx context.Context, key string) ([]byte, time.Time, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Save(ctx context.Context, key string, payload []byte, refreshedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, payload, refreshed_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, refreshed_at = excluded.refreshed_at
	`, key, payload, refreshedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save snapshot[%s]: %w", key, err)
	}
	return nil
}

// Load returns common.ErrNotFound when nothing was saved under key.
func (r *SQLiteRepository) Load(ctx context.Context, key string) ([]byte, time.Time, error) {
	var (
		payload []byte
		at      string
	)
	err := r.db.QueryRowContext(ctx, `SELECT payload, refreshed_at FROM snapshots WHERE key = ?`, key).Scan(&payload, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, common.ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load snapshot[%s]: %w", key, err)
	}
	refreshedAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("snapshot[%s] has bad timestamp %q: %w", key, at, err)
	}
	return payload, refreshedAt, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM snapshots`)
	if err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}
