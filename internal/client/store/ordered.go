package store

import (
	"sync"
	"time"
)

type keyed interface {
	Key() string
}

// ordered is an id-unique sequence; position is display order.
type ordered[T keyed] struct {
	items []T
}

func (o *ordered[T]) index(id string) int {
	for i, it := range o.items {
		if it.Key() == id {
			return i
		}
	}
	return -1
}

func (o *ordered[T]) get(id string) (T, bool) {
	if i := o.index(id); i >= 0 {
		return o.items[i], true
	}
	var zero T
	return zero, false
}

func (o *ordered[T]) replaceAll(items []T) {
	seen := make(map[string]struct{}, len(items))
	next := make([]T, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.Key()]; dup {
			continue
		}
		seen[it.Key()] = struct{}{}
		next = append(next, it)
	}
	o.items = next
}

// upsert replaces in place when present, otherwise prepends. It reports
// whether the item was inserted.
func (o *ordered[T]) upsert(item T) bool {
	if i := o.index(item.Key()); i >= 0 {
		o.swap(i, item)
		return false
	}
	next := make([]T, 0, len(o.items)+1)
	next = append(next, item)
	o.items = append(next, o.items...)
	return true
}

func (o *ordered[T]) prependIfAbsent(item T) bool {
	if o.index(item.Key()) >= 0 {
		return false
	}
	return o.upsert(item)
}

func (o *ordered[T]) appendIfAbsent(item T) bool {
	if o.index(item.Key()) >= 0 {
		return false
	}
	next := make([]T, 0, len(o.items)+1)
	o.items = append(append(next, o.items...), item)
	return true
}

func (o *ordered[T]) replace(item T) bool {
	i := o.index(item.Key())
	if i < 0 {
		return false
	}
	o.swap(i, item)
	return true
}

// swap writes into a fresh backing array so snapshots already handed out
// never observe the change.
func (o *ordered[T]) swap(i int, item T) {
	next := make([]T, len(o.items))
	copy(next, o.items)
	next[i] = item
	o.items = next
}

func (o *ordered[T]) removeMany(ids ...string) []string {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	var removed []string
	next := make([]T, 0, len(o.items))
	for _, it := range o.items {
		if _, ok := drop[it.Key()]; ok {
			removed = append(removed, it.Key())
			continue
		}
		next = append(next, it)
	}
	o.items = next
	return removed
}

func (o *ordered[T]) snapshot() []T {
	out := make([]T, len(o.items))
	copy(out, o.items)
	return out
}

type freshness struct {
	at         time.Time
	staleAfter time.Duration
}

func (f freshness) stale(now time.Time) bool {
	if f.at.IsZero() {
		return true
	}
	return now.Sub(f.at) > f.staleAfter
}

// ChangeKind says which operation produced a Change.
type ChangeKind string

const (
	ChangeReplaceAll ChangeKind = "replace_all"
	ChangeUpsert     ChangeKind = "upsert"
	ChangeRemove     ChangeKind = "remove"
	// ChangeHydrate marks a sequence restored from a snapshot.
	ChangeHydrate ChangeKind = "hydrate"
	// ChangeSearch marks a sequence replaced by search results, which are
	// not a refresh of the feed itself.
	ChangeSearch ChangeKind = "search"
)

// Change is delivered to listeners after a mutation. Domain tells
// notification sequences apart; it is empty for the feed.
type Change struct {
	Kind   ChangeKind
	Domain string
	IDs    []string
}

type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Change)
}

func (l *listeners) add(fn func(Change)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(Change))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(c Change) {
	l.mu.Lock()
	fns := make([]func(Change), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Option configures a store.
type Option func(*config)

type config struct {
	now        func() time.Time
	staleAfter time.Duration
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithStaleAfter overrides the staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}
