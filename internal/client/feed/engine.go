package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/metrics"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/client/store"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

// MediaSigner resolves an attachment storage key into a download URL.
type MediaSigner interface {
	SignMedia(ctx context.Context, key string) (string, error)
}

// Engine is safe for concurrent use.
type Engine struct {
	backend  backend.Backend
	posts    *store.FeedStore
	comments *store.CommentStore
	log      logging.Logger
	metrics  *metrics.Metrics
	promote  Promoter
	signer   MediaSigner
	now      func() time.Time
	pageSize int
	timeout  time.Duration

	bulk singleflight.Group
}

type Option func(*Engine)

func WithPromoter(p Promoter) Option { return func(e *Engine) { e.promote = p } }

func WithMediaSigner(s MediaSigner) Option { return func(e *Engine) { e.signer = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithFetchTimeout bounds every backend round trip. Expiry is reported as
// common.ErrTransient.
func WithFetchTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

func New(b backend.Backend, posts *store.FeedStore, comments *store.CommentStore, log logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		backend:  b,
		posts:    posts,
		comments: comments,
		log:      log,
		promote:  NoPromotion,
		now:      time.Now,
		pageSize: common.FeedPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Posts is the store the engine publishes into.
func (e *Engine) Posts() *store.FeedStore { return e.posts }

// Comments is the per-post comment cache.
func (e *Engine) Comments() *store.CommentStore { return e.comments }

func scopeFilter(scope models.Scope) *backend.Filter {
	if scope.IsGlobal() {
		return backend.Where("community_id", nil)
	}
	return backend.Where("community_id", scope.CommunityID)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

// transient marks deadline expiry as a network failure.
func transient(err error) error {
	if err == nil || errors.Is(err, common.ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	return err
}

// FetchAll replaces the cache with the newest page of posts in scope,
// ranked. Concurrent calls for the same scope and viewer share one fetch.
// On failure the cache is left as it was.
func (e *Engine) FetchAll(ctx context.Context, scope models.Scope, viewer models.Viewer) error {
	key := "all|" + scope.String() + "|" + viewer.ID
	_, err, _ := e.bulk.Do(key, func() (any, error) {
		started := time.Now()
		posts, err := e.load(ctx, scopeFilter(scope), viewer)
		e.metrics.ObserveFetch("fetch_all", started, err)
		if err != nil {
			return nil, err
		}
		e.posts.ReplaceAll(Rank(posts, e.now(), e.promote))
		e.log.Debug(ctx, "feed refreshed", "scope", scope.String(), "posts", len(posts))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("fetch feed %s: %w", scope, err)
	}
	return nil
}

// Search replaces the cache with posts in scope whose body contains query,
// newest first without promotion. A blank query falls back to FetchAll.
func (e *Engine) Search(ctx context.Context, query string, scope models.Scope, viewer models.Viewer) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return e.FetchAll(ctx, scope, viewer)
	}

	started := time.Now()
	posts, err := e.load(ctx, scopeFilter(scope).Contains("body", query), viewer)
	e.metrics.ObserveFetch("search", started, err)
	if err != nil {
		return fmt.Errorf("search %q in %s: %w", query, scope, err)
	}
	e.posts.ShowResults(byRecency(posts))
	return nil
}

func (e *Engine) load(ctx context.Context, filter *backend.Filter, viewer models.Viewer) ([]models.Post, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	recs, err := e.backend.List(ctx, backend.KindPosts, filter, backend.ByCreatedDesc, e.pageSize)
	if err != nil {
		return nil, transient(err)
	}
	posts := make([]models.Post, 0, len(recs))
	for _, r := range recs {
		p, err := models.PostFromRecord(r)
		if err != nil {
			e.log.Warn(ctx, "skipping malformed post", "error", err)
			continue
		}
		posts = append(posts, p)
	}

	agg, err := e.collect(ctx, posts, viewer)
	if err != nil {
		return nil, transient(err)
	}
	for i := range posts {
		agg.apply(&posts[i])
		e.sign(ctx, &posts[i])
	}
	return posts, nil
}

// FetchOne reconciles a single post. A post outside scope is discarded and
// a post that no longer exists is removed from the cache.
func (e *Engine) FetchOne(ctx context.Context, id string, scope models.Scope) error {
	err := e.fetchOne(ctx, id, scope)
	if err != nil {
		e.metrics.Reconciled("feed", "error")
	}
	return err
}

func (e *Engine) fetchOne(ctx context.Context, id string, scope models.Scope) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	rec, err := e.backend.Get(ctx, backend.KindPosts, id)
	if errors.Is(err, common.ErrNotFound) {
		e.posts.Remove(id)
		e.comments.Forget(id)
		e.metrics.Reconciled("feed", "removed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch post %s: %w", id, transient(err))
	}

	p, err := models.PostFromRecord(rec)
	if err != nil {
		return fmt.Errorf("fetch post %s: %w", id, err)
	}
	if !scope.Contains(p.CommunityID) {
		e.log.Debug(ctx, "discarding post outside scope", "post", id, "scope", scope.String(),
			"error", common.ErrScopeMismatch)
		e.metrics.Reconciled("feed", "discarded")
		return nil
	}

	viewer, _ := e.backend.CurrentViewer(ctx)
	agg, err := e.collect(ctx, []models.Post{p}, viewer)
	if err != nil {
		return fmt.Errorf("fetch post %s: %w", id, transient(err))
	}
	agg.apply(&p)
	e.sign(ctx, &p)
	p.Promoted = promoted(p, e.now(), e.promote)

	// A reconciliation canceled while fetching belongs to a torn-down view.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("fetch post %s: %w", id, err)
	}
	e.posts.Upsert(p)
	e.metrics.Reconciled("feed", "upserted")
	return nil
}

// Refresh re-derives a post only when it is already cached. Like and
// comment events use it so that activity on posts the viewer is not looking
// at never pulls them into view.
func (e *Engine) Refresh(ctx context.Context, id string) error {
	p, ok := e.posts.Get(id)
	if !ok {
		return nil
	}
	return e.FetchOne(ctx, id, p.Scope())
}

// FetchComments loads the comment thread of a post, oldest first, and
// aligns the cached comment count with it.
func (e *Engine) FetchComments(ctx context.Context, postID string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	started := time.Now()
	recs, err := e.backend.List(ctx, backend.KindComments, backend.Where("post_id", postID),
		backend.Order{Field: "created_at"}, 0)
	e.metrics.ObserveFetch("fetch_comments", started, err)
	if err != nil {
		return fmt.Errorf("fetch comments of %s: %w", postID, transient(err))
	}

	comments := make([]models.Comment, 0, len(recs))
	for _, r := range recs {
		c, err := models.CommentFromRecord(r)
		if err != nil {
			e.log.Warn(ctx, "skipping malformed comment", "error", err)
			continue
		}
		comments = append(comments, c)
	}
	e.comments.Replace(postID, comments)
	e.posts.Modify(postID, func(p *models.Post) { p.CommentCount = len(comments) })
	return nil
}

func (e *Engine) sign(ctx context.Context, p *models.Post) {
	if e.signer == nil {
		return
	}
	for i := range p.Media {
		if p.Media[i].URL != "" {
			continue
		}
		url, err := e.signer.SignMedia(ctx, p.Media[i].Key)
		if err != nil {
			e.log.Warn(ctx, "media url unavailable", "post", p.ID, "key", p.Media[i].Key, "error", err)
			continue
		}
		p.Media[i].URL = url
	}
}

// RefreshTarget re-derives every cached post whose repost target is
// target: the original itself and any repost wrappers of it.
func (e *Engine) RefreshTarget(ctx context.Context, target string) error {
	var errs []error
	for _, p := range e.posts.Posts() {
		if p.RepostTarget() != target {
			continue
		}
		if err := e.FetchOne(ctx, p.ID, p.Scope()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
