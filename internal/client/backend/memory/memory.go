// Package memory is an in-process backend.Backend. It keeps records in
// insertion order, enforces the same unique keys as the Postgres schema and
// dispatches change events synchronously after each write.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// Op names a Backend method for call hooks and counters.
type Op string

const (
	OpList   Op = "list"
	OpGet    Op = "get"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpUpsert Op = "upsert"
)

// Hook runs before every call; a non-nil error fails the call.
type Hook func(ctx context.Context, op Op, kind backend.Kind) error

type subscription struct {
	id     string
	kind   backend.Kind
	events map[backend.EventType]bool
	h      backend.Handler
}

func (s *subscription) ID() string { return s.id }

type callKey struct {
	op   Op
	kind backend.Kind
}

// Backend is safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	tables   map[backend.Kind][]backend.Record
	uniques  map[backend.Kind][][]string
	subs     map[string]*subscription
	viewer   models.Viewer
	now      func() time.Time
	hook     Hook
	failures map[callKey][]error
	calls    map[callKey]int
}

type Option func(*Backend)

func WithViewer(id string) Option {
	return func(b *Backend) { b.viewer = models.Viewer{ID: id} }
}

func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithUnique adds a unique key over fields. Records with a nil value in any
// of the fields are exempt, as in SQL.
func WithUnique(kind backend.Kind, fields ...string) Option {
	return func(b *Backend) { b.uniques[kind] = append(b.uniques[kind], fields) }
}

// New returns an empty backend carrying the default unique keys: one like
// and one poll vote per (post, user), one repost per (author, original).
func New(opts ...Option) *Backend {
	b := &Backend{
		tables:   make(map[backend.Kind][]backend.Record),
		uniques:  make(map[backend.Kind][][]string),
		subs:     make(map[string]*subscription),
		now:      time.Now,
		failures: make(map[callKey][]error),
		calls:    make(map[callKey]int),
	}
	b.uniques[backend.KindLikes] = [][]string{{"post_id", "user_id"}}
	b.uniques[backend.KindPollVotes] = [][]string{{"post_id", "user_id"}}
	b.uniques[backend.KindPosts] = [][]string{{"author_id", "original_post_id"}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetViewer switches the authenticated user; an empty id means anonymous.
func (b *Backend) SetViewer(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewer = models.Viewer{ID: id}
}

// SetHook installs fn to run before every call.
func (b *Backend) SetHook(fn Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
}

// FailNext queues err for the next op on kind. Queued errors are consumed
// in order.
func (b *Backend) FailNext(op Op, kind backend.Kind, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := callKey{op, kind}
	b.failures[k] = append(b.failures[k], err)
}

// Calls reports how many times op ran against kind, failed calls included.
func (b *Backend) Calls(op Op, kind backend.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[callKey{op, kind}]
}

// Seed stores records without emitting events. Missing ids and timestamps
// are filled in.
func (b *Backend) Seed(kind backend.Kind, recs ...backend.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range recs {
		b.tables[kind] = append(b.tables[kind], b.normalize(r))
	}
}

// Records returns a copy of every record of kind in insertion order.
func (b *Backend) Records(kind backend.Kind) []backend.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backend.Record, 0, len(b.tables[kind]))
	for _, r := range b.tables[kind] {
		out = append(out, cloneRecord(r))
	}
	return out
}

// Emit delivers ev to matching subscribers without touching stored data.
// Tests use it to replay duplicate or out-of-order events.
func (b *Backend) Emit(ev backend.Event) {
	b.mu.Lock()
	hs := b.handlersLocked(ev.Kind, ev.Type)
	b.mu.Unlock()
	dispatch(hs, ev)
}

func (b *Backend) List(ctx context.Context, kind backend.Kind, filter *backend.Filter, order backend.Order, limit int) ([]backend.Record, error) {
	if err := b.enter(ctx, OpList, kind); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []backend.Record
	for _, r := range b.tables[kind] {
		if filter.Match(r) {
			out = append(out, cloneRecord(r))
		}
	}
	if order.Field != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][order.Field], out[j][order.Field])
			if order.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Backend) Get(ctx context.Context, kind backend.Kind, id string) (backend.Record, error) {
	if err := b.enter(ctx, OpGet, kind); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexLocked(kind, id)
	if i < 0 {
		return nil, fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	return cloneRecord(b.tables[kind][i]), nil
}

func (b *Backend) Insert(ctx context.Context, kind backend.Kind, fields backend.Record) (backend.Record, error) {
	if err := b.enter(ctx, OpInsert, kind); err != nil {
		return nil, err
	}
	b.mu.Lock()
	rec := b.normalize(fields)
	if err := b.checkUniqueLocked(kind, rec, ""); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.tables[kind] = append(b.tables[kind], rec)
	hs := b.handlersLocked(kind, backend.EventInsert)
	b.mu.Unlock()

	dispatch(hs, backend.Event{Kind: kind, Type: backend.EventInsert, New: cloneRecord(rec)})
	return cloneRecord(rec), nil
}

func (b *Backend) Update(ctx context.Context, kind backend.Kind, id string, fields backend.Record) error {
	if err := b.enter(ctx, OpUpdate, kind); err != nil {
		return err
	}
	b.mu.Lock()
	i := b.indexLocked(kind, id)
	if i < 0 {
		b.mu.Unlock()
		return fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	old, rec, err := b.mergeLocked(kind, i, fields)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	hs := b.handlersLocked(kind, backend.EventUpdate)
	b.mu.Unlock()

	dispatch(hs, backend.Event{Kind: kind, Type: backend.EventUpdate, New: rec, Old: old})
	return nil
}

// Delete of a missing record returns common.ErrConflict.
func (b *Backend) Delete(ctx context.Context, kind backend.Kind, id string) error {
	if err := b.enter(ctx, OpDelete, kind); err != nil {
		return err
	}
	b.mu.Lock()
	i := b.indexLocked(kind, id)
	if i < 0 {
		b.mu.Unlock()
		return fmt.Errorf("delete %s %s: %w", kind, id, common.ErrConflict)
	}
	old := b.tables[kind][i]
	b.tables[kind] = append(b.tables[kind][:i:i], b.tables[kind][i+1:]...)
	hs := b.handlersLocked(kind, backend.EventDelete)
	b.mu.Unlock()

	dispatch(hs, backend.Event{Kind: kind, Type: backend.EventDelete, Old: cloneRecord(old)})
	return nil
}

func (b *Backend) Upsert(ctx context.Context, kind backend.Kind, fields backend.Record, conflictKey ...string) error {
	if err := b.enter(ctx, OpUpsert, kind); err != nil {
		return err
	}
	if len(conflictKey) == 0 {
		conflictKey = []string{"id"}
	}

	b.mu.Lock()
	for i, r := range b.tables[kind] {
		if !sameValues(r, fields, conflictKey) {
			continue
		}
		patch := cloneRecord(fields)
		delete(patch, "id")
		old, rec, err := b.mergeLocked(kind, i, patch)
		if err != nil {
			b.mu.Unlock()
			return err
		}
		hs := b.handlersLocked(kind, backend.EventUpdate)
		b.mu.Unlock()
		dispatch(hs, backend.Event{Kind: kind, Type: backend.EventUpdate, New: rec, Old: old})
		return nil
	}

	rec := b.normalize(fields)
	if err := b.checkUniqueLocked(kind, rec, ""); err != nil {
		b.mu.Unlock()
		return err
	}
	b.tables[kind] = append(b.tables[kind], rec)
	hs := b.handlersLocked(kind, backend.EventInsert)
	b.mu.Unlock()

	dispatch(hs, backend.Event{Kind: kind, Type: backend.EventInsert, New: cloneRecord(rec)})
	return nil
}

func (b *Backend) Subscribe(ctx context.Context, kind backend.Kind, events []backend.EventType, h backend.Handler) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", kind, common.ErrTransient)
	}
	s := &subscription{
		id:     uuid.NewString(),
		kind:   kind,
		events: make(map[backend.EventType]bool, len(events)),
		h:      h,
	}
	for _, e := range events {
		s.events[e] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s.id] = s
	return s, nil
}

func (b *Backend) Unsubscribe(sub backend.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID()]; !ok {
		return fmt.Errorf("subscription %s: %w", sub.ID(), common.ErrNotFound)
	}
	delete(b.subs, sub.ID())
	return nil
}

// Subscribers reports the number of open subscriptions.
func (b *Backend) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Backend) CurrentViewer(context.Context) (models.Viewer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewer, !b.viewer.Anonymous()
}

func (b *Backend) enter(ctx context.Context, op Op, kind backend.Kind) error {
	b.mu.Lock()
	k := callKey{op, kind}
	b.calls[k]++
	hook := b.hook
	var queued error
	if q := b.failures[k]; len(q) > 0 {
		queued, b.failures[k] = q[0], q[1:]
	}
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s %s: %w: %v", op, kind, common.ErrTransient, err)
	}
	if queued != nil {
		return queued
	}
	if hook != nil {
		return hook(ctx, op, kind)
	}
	return nil
}

func (b *Backend) normalize(fields backend.Record) backend.Record {
	rec := cloneRecord(fields)
	if id, _ := rec["id"].(string); id == "" {
		rec["id"] = uuid.NewString()
	}
	switch v := rec["created_at"].(type) {
	case time.Time:
		if v.IsZero() {
			rec["created_at"] = b.now().UTC()
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec["created_at"] = t
		}
	case nil:
		rec["created_at"] = b.now().UTC()
	}
	return rec
}

func (b *Backend) indexLocked(kind backend.Kind, id string) int {
	for i, r := range b.tables[kind] {
		if r["id"] == id {
			return i
		}
	}
	return -1
}

func (b *Backend) mergeLocked(kind backend.Kind, i int, fields backend.Record) (old, rec backend.Record, err error) {
	old = b.tables[kind][i]
	rec = cloneRecord(old)
	for k, v := range fields {
		if k == "id" {
			continue
		}
		rec[k] = cloneValue(v)
	}
	id, _ := rec["id"].(string)
	if err := b.checkUniqueLocked(kind, rec, id); err != nil {
		return nil, nil, err
	}
	b.tables[kind][i] = rec
	return cloneRecord(old), cloneRecord(rec), nil
}

func (b *Backend) checkUniqueLocked(kind backend.Kind, rec backend.Record, selfID string) error {
	for _, key := range b.uniques[kind] {
		if hasNil(rec, key) {
			continue
		}
		for _, r := range b.tables[kind] {
			if r["id"] == selfID && selfID != "" {
				continue
			}
			if sameValues(r, rec, key) {
				return fmt.Errorf("%s unique (%s): %w", kind, strings.Join(key, ", "), common.ErrConflict)
			}
		}
	}
	if selfID == "" {
		id, _ := rec["id"].(string)
		if b.indexLocked(kind, id) >= 0 {
			return fmt.Errorf("%s id %s: %w", kind, id, common.ErrConflict)
		}
	}
	return nil
}

func (b *Backend) handlersLocked(kind backend.Kind, t backend.EventType) []backend.Handler {
	var hs []backend.Handler
	for _, s := range b.subs {
		if s.kind == kind && s.events[t] {
			hs = append(hs, s.h)
		}
	}
	return hs
}

func dispatch(hs []backend.Handler, ev backend.Event) {
	for _, h := range hs {
		h(ev)
	}
}

func hasNil(r backend.Record, fields []string) bool {
	for _, f := range fields {
		if v, ok := r[f]; !ok || v == nil || v == "" {
			return true
		}
	}
	return false
}

func sameValues(a, b backend.Record, fields []string) bool {
	for _, f := range fields {
		if fmt.Sprint(a[f]) != fmt.Sprint(b[f]) {
			return false
		}
	}
	return true
}

func compare(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	case int:
		y, _ := b.(int)
		return x - y
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cloneRecord(r backend.Record) backend.Record {
	if r == nil {
		return nil
	}
	out := make(backend.Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneRecord(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []int:
		return append([]int(nil), x...)
	}
	return v
}
