package models

import (
	"strings"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// Attachment limits enforced before a post is created.
const (
	MaxImages        = 4
	MaxImageBytes    = 10 << 20
	MaxVideoBytes    = 100 << 20
	MinPollOptions   = 2
	MaxPollOptions   = 6
	MaxPollOptionLen = 80
)

// PostDraft is the user input for a new post.
type PostDraft struct {
	Body        string
	Media       []Media
	PollOptions []string
	CommunityID *string
}

// Validate checks d and returns the post to insert. It never touches the
// network.
func (d PostDraft) Validate(authorID string, now time.Time) (Post, error) {
	if authorID == "" {
		return Post{}, common.ErrUnauthorized
	}
	body := strings.TrimSpace(d.Body)

	if err := validateMedia(d.Media); err != nil {
		return Post{}, err
	}

	var poll *Poll
	if d.PollOptions != nil {
		var opts []string
		for _, o := range d.PollOptions {
			o = strings.TrimSpace(o)
			if o == "" {
				continue
			}
			if len(o) > MaxPollOptionLen {
				return Post{}, common.Invalid("poll", "option too long")
			}
			opts = append(opts, o)
		}
		if len(opts) < MinPollOptions {
			return Post{}, common.Invalid("poll", "at least two non-empty options required")
		}
		if len(opts) > MaxPollOptions {
			return Post{}, common.Invalid("poll", "too many options")
		}
		poll = &Poll{Options: opts, Votes: make([]int, len(opts))}
	}

	if body == "" && len(d.Media) == 0 && poll == nil {
		return Post{}, common.Invalid("body", "post is empty")
	}

	return Post{
		AuthorID:    authorID,
		Body:        body,
		Media:       append([]Media(nil), d.Media...),
		Poll:        poll,
		CreatedAt:   now.UTC(),
		CommunityID: d.CommunityID,
	}, nil
}

func validateMedia(media []Media) error {
	var images, videos int
	for _, m := range media {
		if m.Key == "" {
			return common.Invalid("media", "attachment without storage key")
		}
		switch m.Kind {
		case MediaImage:
			images++
			if m.Size <= 0 || m.Size > MaxImageBytes {
				return common.Invalid("media", "image size out of range")
			}
		case MediaVideo:
			videos++
			if m.Size <= 0 || m.Size > MaxVideoBytes {
				return common.Invalid("media", "video size out of range")
			}
		default:
			return common.Invalid("media", "unsupported attachment kind")
		}
	}
	switch {
	case images > 0 && videos > 0:
		return common.Invalid("media", "images and video cannot be mixed")
	case videos > 1:
		return common.Invalid("media", "only one video allowed")
	case images > MaxImages:
		return common.Invalid("media", "too many images")
	}
	return nil
}
