// Package mutation applies user-initiated writes optimistically.
//
// Every mutation goes through Run: the cache changes first so the UI sees
// the result immediately, then the backend write is issued, and the cache
// is either reconciled with authoritative data or reverted.
package mutation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/metrics"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/client/store"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
	"github.com/syntaxdrive/ulink-sub002/internal/logging"
)

// Syncer re-derives a post from the backend.
type Syncer interface {
	FetchOne(ctx context.Context, id string, scope models.Scope) error
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	backend  backend.Backend
	posts    *store.FeedStore
	comments *store.CommentStore
	sync     Syncer
	log      logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	timeout  time.Duration

	background sync.WaitGroup
}

type Option func(*Coordinator)

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithWriteTimeout bounds each remote write.
func WithWriteTimeout(d time.Duration) Option { return func(c *Coordinator) { c.timeout = d } }

func New(b backend.Backend, posts *store.FeedStore, comments *store.CommentStore, sync Syncer, log logging.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:  b,
		posts:    posts,
		comments: comments,
		sync:     sync,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wait blocks until background side effects such as mention delivery have
// finished.
func (c *Coordinator) Wait() { c.background.Wait() }

func (c *Coordinator) env() Env {
	return Env{Log: c.log, Metrics: c.metrics, Timeout: c.timeout}
}

func (c *Coordinator) viewer(ctx context.Context) (models.Viewer, error) {
	v, ok := c.backend.CurrentViewer(ctx)
	if !ok {
		return models.Viewer{}, common.ErrUnauthorized
	}
	return v, nil
}

func noop() {}

// Like marks a post as liked by the viewer.
func (c *Coordinator) Like(ctx context.Context, postID string) error {
	v, err := c.viewer(ctx)
	if err != nil {
		return err
	}
	if p, ok := c.posts.Get(postID); ok && p.LikedByViewer {
		return nil
	}

	_, err = Run(ctx, c.env(), Steps[backend.Record]{
		Kind: "like",
		Apply: func() func() {
			prev, ok := c.posts.Modify(postID, func(p *models.Post) {
				p.LikedByViewer = true
				p.LikeCount++
			})
			if !ok {
				return noop
			}
			return func() { c.posts.Restore(prev) }
		},
		Remote: func(ctx context.Context) (backend.Record, error) {
			return c.backend.Insert(ctx, backend.KindLikes, backend.Record{"post_id": postID, "user_id": v.ID})
		},
		Idempotent: true,
	})
	return err
}

// Unlike removes the viewer's like from a post.
func (c *Coordinator) Unlike(ctx context.Context, postID string) error {
	v, err := c.viewer(ctx)
	if err != nil {
		return err
	}
	if p, ok := c.posts.Get(postID); ok && !p.LikedByViewer {
		return nil
	}

	_, err = Run(ctx, c.env(), Steps[struct{}]{
		Kind: "unlike",
		Apply: func() func() {
			prev, ok := c.posts.Modify(postID, func(p *models.Post) {
				p.LikedByViewer = false
				p.LikeCount--
			})
			if !ok {
				return noop
			}
			return func() { c.posts.Restore(prev) }
		},
		Remote: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.deleteWhere(ctx, backend.KindLikes, backend.Where("post_id", postID).Eq("user_id", v.ID))
		},
		Idempotent: true,
	})
	return err
}

// deleteWhere deletes every record of kind matching f. Records deleted
// concurrently by someone else are not an error.
func (c *Coordinator) deleteWhere(ctx context.Context, kind backend.Kind, f *backend.Filter) error {
	recs, err := c.backend.List(ctx, kind, f, backend.Order{}, 0)
	if err != nil {
		return err
	}
	for _, r := range recs {
		id, _ := r["id"].(string)
		if err := c.backend.Delete(ctx, kind, id); err != nil && !isConflict(err) {
			return err
		}
	}
	return nil
}

func (c *Coordinator) cachedOrFetched(ctx context.Context, id string) (models.Post, error) {
	if p, ok := c.posts.Get(id); ok {
		return p, nil
	}
	rec, err := c.backend.Get(ctx, backend.KindPosts, id)
	if err != nil {
		return models.Post{}, fmt.Errorf("load post %s: %w", id, err)
	}
	return models.PostFromRecord(rec)
}

// repostTarget resolves the post a repost action on id applies to. Reposts
// of reposts are redirected to the original.
func (c *Coordinator) repostTarget(ctx context.Context, id string) (models.Post, error) {
	p, err := c.cachedOrFetched(ctx, id)
	if err != nil {
		return models.Post{}, err
	}
	if !p.IsRepost() {
		return p, nil
	}
	return c.cachedOrFetched(ctx, p.OriginalPostID)
}

// Repost reposts the original of postID with an optional comment. Every
// cached card of the same original reflects the change.
func (c *Coordinator) Repost(ctx context.Context, postID, comment string) error {
	v, err := c.viewer(ctx)
	if err != nil {
		return err
	}
	target, err := c.repostTarget(ctx, postID)
	if err != nil {
		return err
	}
	if c.repostedByViewer(target.ID) {
		c.log.Info(ctx, "already reposted", "target", target.ID)
		return nil
	}

	fields := backend.Record{
		"author_id":        v.ID,
		"original_post_id": target.ID,
		"repost_comment":   strings.TrimSpace(comment),
		"body":             "",
		"created_at":       c.now().UTC(),
	}
	if target.CommunityID != nil {
		fields["community_id"] = *target.CommunityID
	}

	_, err = Run(ctx, c.env(), Steps[backend.Record]{
		Kind: "repost",
		Apply: func() func() {
			prev := c.posts.ModifyAll(sameTarget(target.ID), func(p *models.Post) {
				p.RepostedByViewer = true
				p.RepostCount++
			})
			return func() { c.posts.Restore(prev...) }
		},
		Remote: func(ctx context.Context) (backend.Record, error) {
			return c.backend.Insert(ctx, backend.KindPosts, fields)
		},
		Reconcile: func(ctx context.Context, rec backend.Record) {
			if rec == nil {
				return
			}
			if id, _ := rec["id"].(string); id != "" {
				if err := c.sync.FetchOne(ctx, id, target.Scope()); err != nil {
					c.log.Warn(ctx, "repost reconciliation failed", "post", id, "error", err)
				}
			}
		},
		Idempotent: true,
	})
	return err
}

// Unrepost deletes every repost the viewer made of the original of postID.
func (c *Coordinator) Unrepost(ctx context.Context, postID string) error {
	v, err := c.viewer(ctx)
	if err != nil {
		return err
	}
	target, err := c.repostTarget(ctx, postID)
	if err != nil {
		return err
	}

	_, err = Run(ctx, c.env(), Steps[[]string]{
		Kind: "unrepost",
		Apply: func() func() {
			prev := c.posts.ModifyAll(sameTarget(target.ID), func(p *models.Post) {
				if p.RepostedByViewer {
					p.RepostCount--
				}
				p.RepostedByViewer = false
			})
			return func() { c.posts.Restore(prev...) }
		},
		Remote: func(ctx context.Context) ([]string, error) {
			recs, err := c.backend.List(ctx, backend.KindPosts,
				backend.Where("original_post_id", target.ID).Eq("author_id", v.ID), backend.Order{}, 0)
			if err != nil {
				return nil, err
			}
			var removed []string
			for _, r := range recs {
				id, _ := r["id"].(string)
				if err := c.backend.Delete(ctx, backend.KindPosts, id); err != nil && !isConflict(err) {
					return removed, err
				}
				removed = append(removed, id)
			}
			return removed, nil
		},
		Reconcile: func(_ context.Context, removed []string) {
			for _, id := range removed {
				c.posts.Remove(id)
			}
		},
	})
	return err
}

func (c *Coordinator) repostedByViewer(target string) bool {
	for _, p := range c.posts.Posts() {
		if p.RepostTarget() == target && p.RepostedByViewer {
			return true
		}
	}
	return false
}

func sameTarget(target string) func(models.Post) bool {
	return func(p models.Post) bool { return p.RepostTarget() == target }
}

// Vote records the viewer's poll choice, replacing any earlier one. When
// the write fails the post is re-derived from the backend instead of
// reversing the tally by hand.
func (c *Coordinator) Vote(ctx context.Context, postID string, option int) error {
	v, err := c.viewer(ctx)
	if err != nil {
		return err
	}
	p, err := c.cachedOrFetched(ctx, postID)
	if err != nil {
		return err
	}
	if p.Poll == nil {
		return common.Invalid("poll", "post has no poll")
	}
	if option < 0 || option >= len(p.Poll.Options) {
		return common.Invalid("option", fmt.Sprintf("must be between 0 and %d", len(p.Poll.Options)-1))
	}
	if p.ViewerVote != nil && *p.ViewerVote == option {
		return nil
	}

	_, err = Run(ctx, c.env(), Steps[struct{}]{
		Kind: "vote",
		Apply: func() func() {
			prev, ok := c.posts.Modify(postID, func(p *models.Post) {
				if p.Poll == nil {
					return
				}
				if p.ViewerVote != nil && *p.ViewerVote < len(p.Poll.Votes) {
					p.Poll.Votes[*p.ViewerVote]--
				}
				p.Poll.Votes[option]++
				choice := option
				p.ViewerVote = &choice
			})
			if !ok {
				return noop
			}
			return func() { c.posts.Restore(prev) }
		},
		Remote: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.backend.Upsert(ctx, backend.KindPollVotes,
				backend.Record{"post_id": postID, "user_id": v.ID, "option_index": option}, "post_id", "user_id")
		},
		Recover: func(ctx context.Context, revert func()) {
			if err := c.sync.FetchOne(context.WithoutCancel(ctx), postID, p.Scope()); err != nil {
				c.log.Warn(ctx, "poll re-sync failed, restoring previous tally", "post", postID, "error", err)
				revert()
			}
		},
		Idempotent: true,
	})
	return err
}
