// Package models defines the typed entities of the feed client and decodes
// them from loosely typed backend records.
package models

import (
	"fmt"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// MediaKind classifies an attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Media is one attachment. Key addresses the object in storage; URL is
// resolved on ingest and never persisted.
type Media struct {
	Kind MediaKind
	Key  string
	URL  string
	Size int64
}

// Poll holds option labels and a parallel vote-count array.
type Poll struct {
	Options []string
	Votes   []int
}

func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	return &Poll{
		Options: append([]string(nil), p.Options...),
		Votes:   append([]int(nil), p.Votes...),
	}
}

// Profile is the public part of a user record.
type Profile struct {
	ID         string
	Name       string
	Handle     string
	Role       string
	University string
	AvatarURL  string
}

// Post is a feed entry. Fields below the blank line are derived on every
// reconciliation and never written back to the backend.
type Post struct {
	ID             string
	AuthorID       string
	Author         *Profile
	Body           string
	Media          []Media
	OriginalPostID string
	RepostComment  string
	Poll           *Poll
	CreatedAt      time.Time
	CommunityID    *string

	LikeCount        int
	LikedByViewer    bool
	CommentCount     int
	RepostCount      int
	RepostedByViewer bool
	ViewerVote       *int
	Promoted         bool
}

func (p Post) Key() string { return p.ID }

func (p Post) IsRepost() bool { return p.OriginalPostID != "" }

// RepostTarget is the post a repost action on p applies to. Reposts are
// never reposted themselves; the action goes to their original.
func (p Post) RepostTarget() string {
	if p.IsRepost() {
		return p.OriginalPostID
	}
	return p.ID
}

func (p Post) Scope() Scope {
	if p.CommunityID == nil {
		return GlobalScope()
	}
	return CommunityScope(*p.CommunityID)
}

// Clone returns a deep copy so that callers can mutate derived fields without
// touching a snapshot held by the store.
func (p Post) Clone() Post {
	c := p
	if p.Author != nil {
		a := *p.Author
		c.Author = &a
	}
	c.Media = append([]Media(nil), p.Media...)
	if p.Media == nil {
		c.Media = nil
	}
	c.Poll = p.Poll.Clone()
	if p.CommunityID != nil {
		id := *p.CommunityID
		c.CommunityID = &id
	}
	if p.ViewerVote != nil {
		v := *p.ViewerVote
		c.ViewerVote = &v
	}
	return c
}

// ClampCounts keeps derived counters non-negative.
func (p *Post) ClampCounts() {
	p.LikeCount = max(p.LikeCount, 0)
	p.CommentCount = max(p.CommentCount, 0)
	p.RepostCount = max(p.RepostCount, 0)
	if p.Poll != nil {
		for i, v := range p.Poll.Votes {
			p.Poll.Votes[i] = max(v, 0)
		}
	}
}

// PostFromRecord decodes and validates a posts record.
func PostFromRecord(r Record) (Post, error) {
	var p Post
	var err error

	if p.ID, err = requiredString(r, "id"); err != nil {
		return Post{}, err
	}
	if p.AuthorID, err = requiredString(r, "author_id"); err != nil {
		return Post{}, err
	}
	if p.Body, err = optionalString(r, "body"); err != nil {
		return Post{}, err
	}
	if p.OriginalPostID, err = optionalString(r, "original_post_id"); err != nil {
		return Post{}, err
	}
	if p.RepostComment, err = optionalString(r, "repost_comment"); err != nil {
		return Post{}, err
	}
	if p.CreatedAt, err = requiredTime(r, "created_at"); err != nil {
		return Post{}, err
	}
	if p.CommunityID, err = optionalStringPtr(r, "community_id"); err != nil {
		return Post{}, err
	}

	media, err := recordList("media", r["media"])
	if err != nil {
		return Post{}, err
	}
	for _, m := range media {
		item, err := mediaFromRecord(m)
		if err != nil {
			return Post{}, err
		}
		p.Media = append(p.Media, item)
	}

	poll, err := optionalRecord(r, "poll")
	if err != nil {
		return Post{}, err
	}
	if poll != nil {
		if p.Poll, err = pollFromRecord(poll); err != nil {
			return Post{}, err
		}
	}

	author, err := optionalRecord(r, "author")
	if err != nil {
		return Post{}, err
	}
	if author != nil {
		prof, err := ProfileFromRecord(author)
		if err != nil {
			return Post{}, err
		}
		p.Author = &prof
	}

	return p, nil
}

// Record returns the persisted fields of p in backend shape.
func (p Post) Record() Record {
	r := Record{
		"author_id":  p.AuthorID,
		"body":       p.Body,
		"created_at": p.CreatedAt,
	}
	if p.ID != "" {
		r["id"] = p.ID
	}
	if p.CommunityID != nil {
		r["community_id"] = *p.CommunityID
	} else {
		r["community_id"] = nil
	}
	if p.OriginalPostID != "" {
		r["original_post_id"] = p.OriginalPostID
		r["repost_comment"] = p.RepostComment
	}
	if len(p.Media) > 0 {
		media := make([]any, 0, len(p.Media))
		for _, m := range p.Media {
			media = append(media, Record{"kind": string(m.Kind), "key": m.Key, "size": m.Size})
		}
		r["media"] = media
	}
	if p.Poll != nil {
		opts := make([]any, len(p.Poll.Options))
		votes := make([]any, len(p.Poll.Votes))
		for i, o := range p.Poll.Options {
			opts[i] = o
		}
		for i, v := range p.Poll.Votes {
			votes[i] = v
		}
		r["poll"] = Record{"options": opts, "votes": votes}
	}
	return r
}

func mediaFromRecord(r Record) (Media, error) {
	kind, err := requiredString(r, "kind")
	if err != nil {
		return Media{}, err
	}
	if kind != string(MediaImage) && kind != string(MediaVideo) {
		return Media{}, malformed("media.kind", kind)
	}
	key, err := requiredString(r, "key")
	if err != nil {
		return Media{}, err
	}
	size, err := optionalInt(r, "size")
	if err != nil {
		return Media{}, err
	}
	m := Media{Kind: MediaKind(kind), Key: key}
	if size != nil {
		m.Size = int64(*size)
	}
	return m, nil
}

func pollFromRecord(r Record) (*Poll, error) {
	options, err := stringList("poll.options", r["options"])
	if err != nil {
		return nil, err
	}
	votes, err := intList("poll.votes", r["votes"])
	if err != nil {
		return nil, err
	}
	if votes == nil {
		votes = make([]int, len(options))
	}
	if len(votes) != len(options) {
		return nil, fmt.Errorf("%w: poll has %d options and %d vote counts",
			common.ErrMalformedRecord, len(options), len(votes))
	}
	return &Poll{Options: options, Votes: votes}, nil
}

// ProfileFromRecord decodes a profiles record.
func ProfileFromRecord(r Record) (Profile, error) {
	var p Profile
	var err error
	if p.ID, err = requiredString(r, "id"); err != nil {
		return Profile{}, err
	}
	for field, dst := range map[string]*string{
		"name":       &p.Name,
		"handle":     &p.Handle,
		"role":       &p.Role,
		"university": &p.University,
		"avatar_url": &p.AvatarURL,
	} {
		if *dst, err = optionalString(r, field); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}
