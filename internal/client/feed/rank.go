package feed

import (
	"sort"
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// Promoter decides whether an author's recent posts are pinned above the
// rest of the feed.
type Promoter func(authorID string) bool

// NoPromotion never promotes.
func NoPromotion(string) bool { return false }

// PromoteAuthors promotes a fixed set of authors.
func PromoteAuthors(ids ...string) Promoter {
	if len(ids) == 0 {
		return NoPromotion
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(authorID string) bool {
		_, ok := set[authorID]
		return ok
	}
}

func promoted(p models.Post, now time.Time, promote Promoter) bool {
	if promote == nil || !promote(p.AuthorID) {
		return false
	}
	return now.Sub(p.CreatedAt) <= common.PromotionWindow
}

// Rank returns posts with Promoted set, promoted posts first and each group
// newest first. Ties keep their input order. The input is not modified.
func Rank(posts []models.Post, now time.Time, promote Promoter) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		p.Promoted = promoted(p, now, promote)
		out[i] = p
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Promoted != out[j].Promoted {
			return out[i].Promoted
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func byRecency(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		p.Promoted = false
		out[i] = p
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
