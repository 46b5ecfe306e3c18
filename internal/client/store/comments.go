package store

import (
	"sync"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
)

// CommentStore caches comment lists per post, oldest first.
type CommentStore struct {
	mu     sync.RWMutex
	byPost map[string]*ordered[models.Comment]
	subs   listeners
}

func NewCommentStore() *CommentStore {
	return &CommentStore{byPost: make(map[string]*ordered[models.Comment])}
}

func (s *CommentStore) list(postID string) *ordered[models.Comment] {
	l, ok := s.byPost[postID]
	if !ok {
		l = &ordered[models.Comment]{}
		s.byPost[postID] = l
	}
	return l
}

// Replace sets the full comment list of a post.
func (s *CommentStore) Replace(postID string, comments []models.Comment) {
	s.mu.Lock()
	s.list(postID).replaceAll(comments)
	s.mu.Unlock()
	s.subs.emit(Change{Kind: ChangeReplaceAll, Domain: postID})
}

// Append adds c at the end of its post's list unless already present.
func (s *CommentStore) Append(c models.Comment) bool {
	s.mu.Lock()
	added := s.list(c.PostID).appendIfAbsent(c)
	s.mu.Unlock()
	if added {
		s.subs.emit(Change{Kind: ChangeUpsert, Domain: c.PostID, IDs: []string{c.ID}})
	}
	return added
}

// Swap splices the confirmed comment into the position of the temporary
// one. When the confirmed comment already arrived through another path the
// temporary entry is simply dropped.
func (s *CommentStore) Swap(tempID string, c models.Comment) {
	s.mu.Lock()
	l := s.list(c.PostID)
	if l.index(c.ID) >= 0 {
		l.removeMany(tempID)
	} else if i := l.index(tempID); i >= 0 {
		l.swap(i, c)
	} else {
		l.appendIfAbsent(c)
	}
	s.mu.Unlock()
	s.subs.emit(Change{Kind: ChangeUpsert, Domain: c.PostID, IDs: []string{c.ID}})
}

func (s *CommentStore) Remove(postID, id string) {
	s.mu.Lock()
	var removed []string
	if l, ok := s.byPost[postID]; ok {
		removed = l.removeMany(id)
	}
	s.mu.Unlock()
	if len(removed) > 0 {
		s.subs.emit(Change{Kind: ChangeRemove, Domain: postID, IDs: removed})
	}
}

// Loaded reports whether a list for postID has been fetched or started.
func (s *CommentStore) Loaded(postID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byPost[postID]
	return ok
}

func (s *CommentStore) Comments(postID string) []models.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.byPost[postID]; ok {
		return l.snapshot()
	}
	return nil
}

func (s *CommentStore) Get(postID, id string) (models.Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.byPost[postID]; ok {
		return l.get(id)
	}
	return models.Comment{}, false
}

// Forget drops the cached list of a removed post.
func (s *CommentStore) Forget(postID string) {
	s.mu.Lock()
	delete(s.byPost, postID)
	s.mu.Unlock()
}

func (s *CommentStore) OnChange(fn func(Change)) (cancel func()) {
	return s.subs.add(fn)
}
