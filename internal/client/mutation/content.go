package mutation

import (
	"context"
	"errors"
	"strings"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

func isConflict(err error) bool { return errors.Is(err, common.ErrConflict) }

// AddComment appends a comment under a temporary id and swaps in the
// stored comment once the backend confirms it.
func (c *Coordinator) AddComment(ctx context.Context, postID, body string) (models.Comment, error) {
	v, err := c.viewer(ctx)
	if err != nil {
		return models.Comment{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Comment{}, common.Invalid("body", "comment is empty")
	}

	tmp := models.NewTempComment(postID, v.ID, body, c.now().UTC())
	return Run(ctx, c.env(), Steps[models.Comment]{
		Kind: "comment",
		Apply: func() func() {
			c.comments.Append(tmp)
			c.posts.Modify(postID, func(p *models.Post) { p.CommentCount++ })
			return func() {
				c.comments.Remove(postID, tmp.ID)
				c.posts.Modify(postID, func(p *models.Post) { p.CommentCount-- })
			}
		},
		Remote: func(ctx context.Context) (models.Comment, error) {
			rec, err := c.backend.Insert(ctx, backend.KindComments, tmp.Record())
			if err != nil {
				return models.Comment{}, err
			}
			return models.CommentFromRecord(rec)
		},
		Reconcile: func(ctx context.Context, stored models.Comment) {
			c.comments.Swap(tmp.ID, stored)
			c.extractMentions(ctx, v.ID, stored.Body, backend.Record{"post_id": postID, "comment_id": stored.ID})
		},
	})
}

// DeleteComment removes a comment locally first. A failed remote delete is
// reported but the comment is not restored.
func (c *Coordinator) DeleteComment(ctx context.Context, postID, commentID string) error {
	if _, err := c.viewer(ctx); err != nil {
		return err
	}
	_, err := Run(ctx, c.env(), Steps[struct{}]{
		Kind: "delete_comment",
		Apply: func() func() {
			if _, ok := c.comments.Get(postID, commentID); ok {
				c.comments.Remove(postID, commentID)
				c.posts.Modify(postID, func(p *models.Post) { p.CommentCount-- })
			}
			return noop
		},
		Remote: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.backend.Delete(ctx, backend.KindComments, commentID)
		},
		Idempotent:    true,
		KeepOnFailure: true,
	})
	return err
}

// DeletePost removes a post locally first. A failed remote delete is
// reported but the post is not restored; the next full refresh shows it
// again if it still exists.
func (c *Coordinator) DeletePost(ctx context.Context, postID string) error {
	if _, err := c.viewer(ctx); err != nil {
		return err
	}
	_, err := Run(ctx, c.env(), Steps[struct{}]{
		Kind: "delete_post",
		Apply: func() func() {
			c.posts.Remove(postID)
			c.comments.Forget(postID)
			return noop
		},
		Remote: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.backend.Delete(ctx, backend.KindPosts, postID)
		},
		Idempotent:    true,
		KeepOnFailure: true,
	})
	return err
}

// CreatePost validates the draft, shows it under a temporary id and
// replaces it with the stored post once confirmed.
func (c *Coordinator) CreatePost(ctx context.Context, draft models.PostDraft) (models.Post, error) {
	v, err := c.viewer(ctx)
	if err != nil {
		return models.Post{}, err
	}
	p, err := draft.Validate(v.ID, c.now().UTC())
	if err != nil {
		return models.Post{}, err
	}

	tmp := p.Clone()
	tmp.ID = models.NewTempID()
	return Run(ctx, c.env(), Steps[models.Post]{
		Kind: "create_post",
		Apply: func() func() {
			c.posts.Upsert(tmp)
			return func() { c.posts.Remove(tmp.ID) }
		},
		Remote: func(ctx context.Context) (models.Post, error) {
			rec, err := c.backend.Insert(ctx, backend.KindPosts, p.Record())
			if err != nil {
				return models.Post{}, err
			}
			return models.PostFromRecord(rec)
		},
		Reconcile: func(ctx context.Context, stored models.Post) {
			c.posts.Remove(tmp.ID)
			if err := c.sync.FetchOne(ctx, stored.ID, stored.Scope()); err != nil {
				c.log.Warn(ctx, "new post reconciliation failed", "post", stored.ID, "error", err)
				c.posts.Upsert(stored)
			}
			c.extractMentions(ctx, v.ID, stored.Body, backend.Record{"post_id": stored.ID})
		},
	})
}
