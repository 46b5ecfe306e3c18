package feed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/syntaxdrive/ulink-sub002/internal/client/backend"
	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
)

type aggregates struct {
	likes       map[string]int
	liked       map[string]bool
	comments    map[string]int
	reposts     map[string]int
	reposted    map[string]bool
	tallies     map[string]map[int]int
	viewerVotes map[string]int
	authors     map[string]models.Profile
}

func newAggregates() *aggregates {
	return &aggregates{
		likes:       make(map[string]int),
		liked:       make(map[string]bool),
		comments:    make(map[string]int),
		reposts:     make(map[string]int),
		reposted:    make(map[string]bool),
		tallies:     make(map[string]map[int]int),
		viewerVotes: make(map[string]int),
		authors:     make(map[string]models.Profile),
	}
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// collect runs the aggregate queries for posts in parallel. Any failure of
// a count query fails the whole pass so that no partially derived entity is
// published; author profiles are best effort.
func (e *Engine) collect(ctx context.Context, posts []models.Post, viewer models.Viewer) (*aggregates, error) {
	agg := newAggregates()
	if len(posts) == 0 {
		return agg, nil
	}

	var ids, targets, pollIDs, authorIDs []string
	for _, p := range posts {
		ids = append(ids, p.ID)
		targets = append(targets, p.RepostTarget())
		authorIDs = append(authorIDs, p.AuthorID)
		if p.Poll != nil {
			pollIDs = append(pollIDs, p.ID)
		}
	}
	ids, targets, authorIDs = uniq(ids), uniq(targets), uniq(authorIDs)

	var likes, comments, reposts, votes, profiles []backend.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		likes, err = e.backend.List(gctx, backend.KindLikes, (&backend.Filter{}).In("post_id", ids), backend.Order{}, 0)
		return wrap("likes", err)
	})
	g.Go(func() (err error) {
		comments, err = e.backend.List(gctx, backend.KindComments, (&backend.Filter{}).In("post_id", ids), backend.Order{}, 0)
		return wrap("comments", err)
	})
	g.Go(func() (err error) {
		reposts, err = e.backend.List(gctx, backend.KindPosts, (&backend.Filter{}).In("original_post_id", targets), backend.Order{}, 0)
		return wrap("reposts", err)
	})
	if len(pollIDs) > 0 {
		g.Go(func() (err error) {
			votes, err = e.backend.List(gctx, backend.KindPollVotes, (&backend.Filter{}).In("post_id", pollIDs), backend.Order{}, 0)
			return wrap("poll votes", err)
		})
	}
	g.Go(func() error {
		var err error
		profiles, err = e.backend.List(gctx, backend.KindProfiles, (&backend.Filter{}).In("id", authorIDs), backend.Order{}, 0)
		if err != nil {
			e.log.Warn(ctx, "author profiles unavailable", "error", err)
			profiles = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range likes {
		l, err := models.LikeFromRecord(r)
		if err != nil {
			e.log.Warn(ctx, "skipping malformed like", "error", err)
			continue
		}
		agg.likes[l.PostID]++
		if !viewer.Anonymous() && l.UserID == viewer.ID {
			agg.liked[l.PostID] = true
		}
	}
	for _, r := range comments {
		c, err := models.CommentFromRecord(r)
		if err != nil {
			e.log.Warn(ctx, "skipping malformed comment", "error", err)
			continue
		}
		agg.comments[c.PostID]++
	}
	for _, r := range reposts {
		rp, err := models.PostFromRecord(r)
		if err != nil {
			e.log.Warn(ctx, "skipping malformed repost", "error", err)
			continue
		}
		agg.reposts[rp.OriginalPostID]++
		if !viewer.Anonymous() && rp.AuthorID == viewer.ID {
			agg.reposted[rp.OriginalPostID] = true
		}
	}
	for _, r := range votes {
		v, err := models.PollVoteFromRecord(r)
		if err != nil {
			e.log.Warn(ctx, "skipping malformed poll vote", "error", err)
			continue
		}
		if agg.tallies[v.PostID] == nil {
			agg.tallies[v.PostID] = make(map[int]int)
		}
		agg.tallies[v.PostID][v.Option]++
		if !viewer.Anonymous() && v.UserID == viewer.ID {
			agg.viewerVotes[v.PostID] = v.Option
		}
	}
	for _, r := range profiles {
		p, err := models.ProfileFromRecord(r)
		if err != nil {
			e.log.Warn(ctx, "skipping malformed profile", "error", err)
			continue
		}
		agg.authors[p.ID] = p
	}
	return agg, nil
}

// apply overwrites every derived field of p from agg.
func (agg *aggregates) apply(p *models.Post) {
	target := p.RepostTarget()
	p.LikeCount = agg.likes[p.ID]
	p.LikedByViewer = agg.liked[p.ID]
	p.CommentCount = agg.comments[p.ID]
	p.RepostCount = agg.reposts[target]
	p.RepostedByViewer = agg.reposted[target]
	p.ViewerVote = nil

	if p.Poll != nil {
		tally := agg.tallies[p.ID]
		p.Poll = p.Poll.Clone()
		for i := range p.Poll.Votes {
			p.Poll.Votes[i] = tally[i]
		}
		if choice, ok := agg.viewerVotes[p.ID]; ok && choice < len(p.Poll.Options) {
			c := choice
			p.ViewerVote = &c
		}
	}
	if a, ok := agg.authors[p.AuthorID]; ok {
		p.Author = &a
	}
	p.ClampCounts()
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", what, err)
	}
	return nil
}
