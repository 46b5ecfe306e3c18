package store

import (
	"sync"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// FeedStore is the ordered post cache.
type FeedStore struct {
	mu    sync.RWMutex
	posts ordered[models.Post]
	fresh freshness
	now   func() time.Time
	subs  listeners
}

func NewFeedStore(opts ...Option) *FeedStore {
	cfg := config{now: time.Now, staleAfter: common.DefaultStaleAfter}
	for _, o := range opts {
		o(&cfg)
	}
	return &FeedStore{now: cfg.now, fresh: freshness{staleAfter: cfg.staleAfter}}
}

// ReplaceAll atomically swaps the sequence and stamps freshness to now.
func (s *FeedStore) ReplaceAll(posts []models.Post) {
	s.mu.Lock()
	s.posts.replaceAll(posts)
	s.fresh.at = s.now()
	ids := keysOf(s.posts.items)
	s.mu.Unlock()
	s.subs.emit(Change{Kind: ChangeReplaceAll, IDs: ids})
}

// Hydrate restores a persisted sequence with its original freshness stamp.
func (s *FeedStore) Hydrate(posts []models.Post, refreshedAt time.Time) {
	s.mu.Lock()
	s.posts.replaceAll(posts)
	s.fresh.at = refreshedAt
	ids := keysOf(s.posts.items)
	s.mu.Unlock()
	s.subs.emit(Change{Kind: ChangeHydrate, IDs: ids})
}

// ShowResults swaps the sequence for search results. The freshness stamp is
// cleared so the next visit to the feed refetches it.
func (s *FeedStore) ShowResults(posts []models.Post) {
	s.mu.Lock()
	s.posts.replaceAll(posts)
	s.fresh.at = time.Time{}
	ids := keysOf(s.posts.items)
	s.mu.Unlock()
	s.subs.emit(Change{Kind: ChangeSearch, IDs: ids})
}

// Upsert replaces the post with the same id in place or prepends it.
func (s *FeedStore) Upsert(p models.Post) {
	s.mu.Lock()
	s.posts.upsert(p)
	s.mu.Unlock()
	s.subs.emit(Change{Kind: ChangeUpsert, IDs: []string{p.ID}})
}

// Update replaces the post only when it is already cached.
func (s *FeedStore) Update(p models.Post) bool {
	s.mu.Lock()
	ok := s.posts.replace(p)
	s.mu.Unlock()
	if ok {
		s.subs.emit(Change{Kind: ChangeUpsert, IDs: []string{p.ID}})
	}
	return ok
}

// Remove deletes by id; absent ids are ignored.
func (s *FeedStore) Remove(id string) {
	s.mu.Lock()
	removed := s.posts.removeMany(id)
	s.mu.Unlock()
	if len(removed) > 0 {
		s.subs.emit(Change{Kind: ChangeRemove, IDs: removed})
	}
}

// Modify runs fn on a copy of the cached post and stores the result. It
// returns the post as it was before fn ran.
func (s *FeedStore) Modify(id string, fn func(*models.Post)) (models.Post, bool) {
	s.mu.Lock()
	prev, ok := s.posts.get(id)
	if ok {
		next := prev.Clone()
		fn(&next)
		next.ClampCounts()
		s.posts.replace(next)
	}
	s.mu.Unlock()
	if ok {
		s.subs.emit(Change{Kind: ChangeUpsert, IDs: []string{id}})
	}
	return prev, ok
}

// ModifyAll applies fn to every cached post matching match, atomically, and
// returns the previous versions.
func (s *FeedStore) ModifyAll(match func(models.Post) bool, fn func(*models.Post)) []models.Post {
	s.mu.Lock()
	var prev []models.Post
	for _, p := range s.posts.snapshot() {
		if !match(p) {
			continue
		}
		next := p.Clone()
		fn(&next)
		next.ClampCounts()
		s.posts.replace(next)
		prev = append(prev, p)
	}
	s.mu.Unlock()
	if len(prev) > 0 {
		s.subs.emit(Change{Kind: ChangeUpsert, IDs: keysOf(prev)})
	}
	return prev
}

// Restore writes back previously captured versions, skipping posts that
// were removed in the meantime.
func (s *FeedStore) Restore(prev ...models.Post) {
	s.mu.Lock()
	var ids []string
	for _, p := range prev {
		if s.posts.replace(p) {
			ids = append(ids, p.ID)
		}
	}
	s.mu.Unlock()
	if len(ids) > 0 {
		s.subs.emit(Change{Kind: ChangeUpsert, IDs: ids})
	}
}

func (s *FeedStore) Get(id string) (models.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.posts.get(id)
}

// Posts returns the display-ordered snapshot.
func (s *FeedStore) Posts() []models.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.posts.snapshot()
}

func (s *FeedStore) IsStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fresh.stale(s.now())
}

func (s *FeedStore) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fresh.at
}

func (s *FeedStore) OnChange(fn func(Change)) (cancel func()) {
	return s.subs.add(fn)
}

func keysOf[T keyed](items []T) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Key())
	}
	return ids
}
