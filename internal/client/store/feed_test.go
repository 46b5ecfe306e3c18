package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func ids(posts []models.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestFeedStore_UpsertPreservesPosition(t *testing.T) {
	s := NewFeedStore()
	s.ReplaceAll([]models.Post{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	s.Upsert(models.Post{ID: "b", LikeCount: 7})

	posts := s.Posts()
	assert.Equal(t, []string{"a", "b", "c"}, ids(posts))
	assert.Equal(t, 7, posts[1].LikeCount)
}

func TestFeedStore_UpsertPrependsNew(t *testing.T) {
	s := NewFeedStore()
	s.ReplaceAll([]models.Post{{ID: "a"}})

	s.Upsert(models.Post{ID: "z"})
	s.Upsert(models.Post{ID: "z"})

	assert.Equal(t, []string{"z", "a"}, ids(s.Posts()))
}

func TestFeedStore_ReplaceAllDropsDuplicates(t *testing.T) {
	s := NewFeedStore()
	s.ReplaceAll([]models.Post{{ID: "a"}, {ID: "b"}, {ID: "a"}})
	assert.Equal(t, []string{"a", "b"}, ids(s.Posts()))
}

func TestFeedStore_RemoveIsIdempotent(t *testing.T) {
	s := NewFeedStore()
	s.ReplaceAll([]models.Post{{ID: "a"}, {ID: "b"}})

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	s.Remove("a")
	s.Remove("a")
	s.Remove("missing")

	assert.Equal(t, []string{"b"}, ids(s.Posts()))
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeRemove, changes[0].Kind)
}

func TestFeedStore_StalenessGate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewFeedStore(WithClock(clock.Now))

	assert.True(t, s.IsStale(), "never filled")

	s.ReplaceAll(nil)
	clock.t = clock.t.Add(4 * time.Minute)
	assert.False(t, s.IsStale())

	clock.t = clock.t.Add(2 * time.Minute)
	assert.True(t, s.IsStale())
}

func TestFeedStore_HydrateKeepsStamp(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewFeedStore(WithClock(clock.Now))

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	s.Hydrate([]models.Post{{ID: "a"}}, clock.t.Add(-6*time.Minute))
	assert.True(t, s.IsStale())
	assert.Equal(t, []string{"a"}, ids(s.Posts()))
	assert.Equal(t, []Change{{Kind: ChangeHydrate, IDs: []string{"a"}}}, changes)
}

func TestFeedStore_ShowResultsIsNotARefresh(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewFeedStore(WithClock(clock.Now))
	s.ReplaceAll([]models.Post{{ID: "a"}, {ID: "b"}})
	require.False(t, s.IsStale())

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	s.ShowResults([]models.Post{{ID: "b"}})

	assert.Equal(t, []string{"b"}, ids(s.Posts()))
	assert.True(t, s.IsStale(), "the full feed is refetched on the next visit")
	assert.True(t, s.LastRefreshed().IsZero())
	assert.Equal(t, []Change{{Kind: ChangeSearch, IDs: []string{"b"}}}, changes)
}

func TestFeedStore_SnapshotsAreNotMutated(t *testing.T) {
	s := NewFeedStore()
	s.ReplaceAll([]models.Post{{ID: "a", LikeCount: 1, Poll: &models.Poll{Options: []string{"x", "y"}, Votes: []int{0, 0}}}})
	before := s.Posts()

	s.Modify("a", func(p *models.Post) {
		p.LikeCount++
		p.Poll.Votes[0]++
	})

	assert.Equal(t, 1, before[0].LikeCount)
	assert.Equal(t, 0, before[0].Poll.Votes[0])
	after, _ := s.Get("a")
	assert.Equal(t, 2, after.LikeCount)
	assert.Equal(t, 1, after.Poll.Votes[0])
}

func TestFeedStore_ModifyClampsAndRestores(t *testing.T) {
	s := NewFeedStore()
	s.ReplaceAll([]models.Post{{ID: "a", LikeCount: 0}})

	prev, ok := s.Modify("a", func(p *models.Post) { p.LikeCount-- })
	require.True(t, ok)
	got, _ := s.Get("a")
	assert.Equal(t, 0, got.LikeCount)

	s.Modify("a", func(p *models.Post) { p.LikeCount = 5 })
	s.Restore(prev)
	got, _ = s.Get("a")
	assert.Equal(t, 0, got.LikeCount)

	_, ok = s.Modify("missing", func(p *models.Post) {})
	assert.False(t, ok)
}

func TestFeedStore_ModifyAllAndUpdate(t *testing.T) {
	s := NewFeedStore()
	s.ReplaceAll([]models.Post{{ID: "p1"}, {ID: "p2", OriginalPostID: "p1"}, {ID: "p3"}})

	prev := s.ModifyAll(func(p models.Post) bool { return p.RepostTarget() == "p1" },
		func(p *models.Post) { p.RepostedByViewer = true })
	assert.Len(t, prev, 2)

	for _, p := range s.Posts() {
		assert.Equal(t, p.ID != "p3", p.RepostedByViewer, p.ID)
	}

	assert.False(t, s.Update(models.Post{ID: "nope"}))
	assert.True(t, s.Update(models.Post{ID: "p3", LikeCount: 2}))
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids(s.Posts()))
}
