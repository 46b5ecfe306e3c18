// Package postgres implements backend.Backend over PostgreSQL. Queries go
// through database/sql with the pgx driver; change events arrive over a
// dedicated LISTEN connection fed by the triggers in the migrations package.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/backend/postgres/migrations"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/dbx"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

// Channel is the NOTIFY channel written by the change triggers.
const Channel = "feed_changes"

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema. goose output goes to log.
func RunMigrations(ctx context.Context, db *sql.DB, log logging.Logger) error {
	goose.SetLogger(logging.NewPrintfLogger(log))
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// Backend is safe for concurrent use.
type Backend struct {
	db     dbx.DBTX
	dsn    string
	viewer backend.ViewerFunc
	log    logging.Logger

	reconnect failsafe.Executor[listenConn]

	mu      sync.Mutex
	subs    map[string]*subscription
	nextSub int
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Backend)

// WithViewer sets how CurrentViewer resolves the session user.
func WithViewer(fn backend.ViewerFunc) Option {
	return func(b *Backend) { b.viewer = fn }
}

// WithReconnectBackoff tunes LISTEN reconnection.
func WithReconnectBackoff(base, maxDelay time.Duration, maxRetries int) Option {
	return func(b *Backend) { b.reconnect = newReconnectExecutor(base, maxDelay, maxRetries) }
}

// New wraps db. dsn is used for the LISTEN connection and may be empty when
// no subscriptions are needed.
func New(db dbx.DBTX, dsn string, log logging.Logger, opts ...Option) *Backend {
	b := &Backend{
		db:        db,
		dsn:       dsn,
		viewer:    backend.NoViewer,
		log:       log,
		subs:      make(map[string]*subscription),
		reconnect: newReconnectExecutor(200*time.Millisecond, 10*time.Second, -1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open connects to dsn, migrates the schema and returns a ready Backend.
func Open(ctx context.Context, dsn string, log logging.Logger, opts ...Option) (*Backend, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := RunMigrations(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migration error: %w", err)
	}
	return New(db, dsn, log, opts...), db, nil
}

func newReconnectExecutor(base, maxDelay time.Duration, maxRetries int) failsafe.Executor[listenConn] {
	retry := retrypolicy.NewBuilder[listenConn]().
		WithBackoff(base, maxDelay).
		WithMaxRetries(maxRetries).
		WithJitterFactor(0.1).
		Build()
	return failsafe.With[listenConn](retry)
}

func lookup(kind backend.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, common.Invalid("kind", fmt.Sprintf("unknown entity kind %q", kind))
	}
	return t, nil
}

func (b *Backend) List(ctx context.Context, kind backend.Kind, filter *backend.Filter, order backend.Order, limit int) ([]backend.Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	q, a, err := buildSelect(t, filter, order, limit)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, q, a...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, mapError(err))
	}
	defer rows.Close()

	var out []backend.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, mapError(err))
		}
		rec, err := decodeRow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, mapError(err))
	}
	return out, nil
}

func (b *Backend) Get(ctx context.Context, kind backend.Kind, id string) (backend.Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	var raw []byte
	q := "SELECT to_jsonb(t) FROM " + t.name + " t WHERE id = $1"
	if err := b.db.QueryRowContext(ctx, q, id).Scan(&raw); err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, mapError(err))
	}
	return decodeRow(raw)
}

func (b *Backend) Insert(ctx context.Context, kind backend.Kind, fields backend.Record) (backend.Record, error) {
	t, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	q, a, err := buildInsert(t, fields)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := b.db.QueryRowContext(ctx, q+" RETURNING to_jsonb(t)", a...).Scan(&raw); err != nil {
		return nil, fmt.Errorf("insert %s: %w", kind, mapError(err))
	}
	return decodeRow(raw)
}

func (b *Backend) Update(ctx context.Context, kind backend.Kind, id string, fields backend.Record) error {
	t, err := lookup(kind)
	if err != nil {
		return err
	}
	patch := make(backend.Record, len(fields))
	for k, v := range fields {
		if k != "id" {
			patch[k] = v
		}
	}
	cols, err := columnsOf(t, patch)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}

	var a args
	sets := make([]string, len(cols))
	for i, c := range cols {
		v, err := encodeValue(t, c, patch[c])
		if err != nil {
			return err
		}
		sets[i] = c + " = " + a.add(v)
	}
	q := "UPDATE " + t.name + " SET " + strings.Join(sets, ", ") + " WHERE id = " + a.add(id)

	res, err := b.db.ExecContext(ctx, q, a...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update %s %s: %w", kind, id, common.ErrNotFound)
	}
	return nil
}

// Delete of a missing row returns common.ErrConflict.
func (b *Backend) Delete(ctx context.Context, kind backend.Kind, id string) error {
	t, err := lookup(kind)
	if err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx, "DELETE FROM "+t.name+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s %s: %w", kind, id, common.ErrConflict)
	}
	return nil
}

func (b *Backend) Upsert(ctx context.Context, kind backend.Kind, fields backend.Record, conflictKey ...string) error {
	t, err := lookup(kind)
	if err != nil {
		return err
	}
	if len(conflictKey) == 0 {
		conflictKey = []string{"id"}
	}
	for _, k := range conflictKey {
		if !t.has(k) {
			return common.Invalid("conflictKey", fmt.Sprintf("unknown column %s.%s", t.name, k))
		}
	}
	q, a, err := buildInsert(t, fields)
	if err != nil {
		return err
	}

	var sets []string
	for _, c := range sortedKeys(fields) {
		if c == "id" || contains(conflictKey, c) {
			continue
		}
		sets = append(sets, c+" = EXCLUDED."+c)
	}
	q += " ON CONFLICT (" + strings.Join(conflictKey, ", ") + ")"
	if len(sets) == 0 {
		q += " DO NOTHING"
	} else {
		q += " DO UPDATE SET " + strings.Join(sets, ", ")
	}

	if _, err := b.db.ExecContext(ctx, q, a...); err != nil {
		return fmt.Errorf("upsert %s: %w", kind, mapError(err))
	}
	return nil
}

func (b *Backend) CurrentViewer(ctx context.Context) (models.Viewer, bool) {
	return b.viewer(ctx)
}

func buildInsert(t table, fields backend.Record) (string, args, error) {
	cols, err := columnsOf(t, fields)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, common.Invalid("fields", "empty insert")
	}
	var a args
	ph := make([]string, len(cols))
	for i, c := range cols {
		v, err := encodeValue(t, c, fields[c])
		if err != nil {
			return "", nil, err
		}
		ph[i] = a.add(v)
	}
	q := "INSERT INTO " + t.name + " AS t (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(ph, ", ") + ")"
	return q, a, nil
}

func encodeValue(t table, col string, v any) (any, error) {
	if v == nil || !t.isJSON(col) {
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, common.Invalid(col, err.Error())
	}
	return raw, nil
}

func decodeRow(raw []byte) (backend.Record, error) {
	var rec backend.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedRecord, err)
	}
	return rec, nil
}

func sortedKeys(r backend.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
