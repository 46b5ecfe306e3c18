package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
)

func TestRank_PromotedRecentFirstThenRecency(t *testing.T) {
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	posts := []models.Post{
		{ID: "new", AuthorID: "u1", CreatedAt: now.Add(-time.Minute)},
		{ID: "staff-old", AuthorID: "staff", CreatedAt: now.Add(-25 * time.Hour)},
		{ID: "staff-recent", AuthorID: "staff", CreatedAt: now.Add(-23 * time.Hour)},
		{ID: "mid", AuthorID: "u2", CreatedAt: now.Add(-time.Hour)},
	}

	got := Rank(posts, now, PromoteAuthors("staff"))

	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"staff-recent", "new", "mid", "staff-old"}, ids)
	assert.True(t, got[0].Promoted)
	assert.False(t, got[3].Promoted)
	assert.False(t, posts[2].Promoted, "input must not be modified")
}

func TestRank_StableForEqualKeys(t *testing.T) {
	now := time.Now()
	at := now.Add(-time.Hour)
	posts := []models.Post{{ID: "a", CreatedAt: at}, {ID: "b", CreatedAt: at}, {ID: "c", CreatedAt: at}}

	got := Rank(posts, now, NoPromotion)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "c", got[2].ID)
}

func TestPromoteAuthors_Empty(t *testing.T) {
	assert.False(t, PromoteAuthors()("anyone"))
}
